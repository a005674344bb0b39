// Package queries answers factory, elevation and market report questions
// from the tabular and blob collaborators.
package queries

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/teadesk-bot/internal/blob"
	"github.com/xaenox/teadesk-bot/internal/classifier"
	"github.com/xaenox/teadesk-bot/internal/models"
	"github.com/xaenox/teadesk-bot/internal/sheets"
)

// ErrValidation marks errors whose message is meant for the user.
var ErrValidation = errors.New("validation failed")

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Market sheet columns.
const (
	colSale = iota
	colCode
	colName
	colElevation
	colQuantity
	colAverage
)

type marketRow struct {
	sale      int
	code      string
	name      string
	elevation string
	quantity  float64
	average   float64
}

type Service struct {
	source        sheets.Source
	blobs         blob.Store
	spreadsheetID string
	marketRange   string
	logger        *zap.Logger
}

func NewService(source sheets.Source, blobs blob.Store, spreadsheetID, marketRange string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source:        source,
		blobs:         blobs,
		spreadsheetID: spreadsheetID,
		marketRange:   marketRange,
		logger:        logger,
	}
}

func (s *Service) rows(ctx context.Context) ([]marketRow, error) {
	raw, err := s.source.Query(ctx, s.spreadsheetID, s.marketRange)
	if err != nil {
		return nil, fmt.Errorf("fetch market data: %w", err)
	}

	rows := make([]marketRow, 0, len(raw))
	for _, r := range raw {
		sale, err := strconv.Atoi(sheets.Cell(r, colSale))
		if err != nil {
			// header or blank row
			continue
		}
		rows = append(rows, marketRow{
			sale:      sale,
			code:      strings.ToUpper(strings.ReplaceAll(sheets.Cell(r, colCode), " ", "")),
			name:      sheets.Cell(r, colName),
			elevation: strings.ToUpper(sheets.Cell(r, colElevation)),
			quantity:  parseNumber(sheets.Cell(r, colQuantity)),
			average:   parseNumber(sheets.Cell(r, colAverage)),
		})
	}
	return rows, nil
}

func parseNumber(s string) float64 {
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return f
}

// resolveSale returns the requested sale, or the latest sale in rows.
func resolveSale(rows []marketRow, requested string) int {
	if requested != "" {
		n, _ := strconv.Atoi(requested)
		return n
	}
	latest := 0
	for _, r := range rows {
		if r.sale > latest {
			latest = r.sale
		}
	}
	return latest
}

// ValidateFactoryQuery checks the codes of a factory question before any
// data is fetched. A malformed code rejects the question even next to valid ones.
func ValidateFactoryQuery(e models.EntitySet) error {
	switch {
	case e.TooManyCodes:
		return invalid("Please ask about at most %d factory codes at a time.", classifier.MaxFactoryCodes)
	case len(e.MalformedCodes) > 0:
		return invalid("%s doesn't look like a factory code. Use the format MF0235.", e.MalformedCodes[0])
	case len(e.FactoryCodes) == 0:
		return invalid("Please include a factory code, for example MF0235.")
	}
	return nil
}

// Factory reports the sale average of each requested factory code.
func (s *Service) Factory(ctx context.Context, e models.EntitySet) (string, error) {
	if err := ValidateFactoryQuery(e); err != nil {
		return "", err
	}

	rows, err := s.rows(ctx)
	if err != nil {
		return "", err
	}
	sale := resolveSale(rows, e.SaleNumber)

	var b strings.Builder
	fmt.Fprintf(&b, "Sale %03d\n", sale)
	for _, code := range e.FactoryCodes {
		found := false
		for _, r := range rows {
			if r.sale == sale && r.code == code {
				fmt.Fprintf(&b, "%s %s (%s): avg %.2f on %.0f kg\n", code, r.name, r.elevation, r.average, r.quantity)
				found = true
				break
			}
		}
		if !found {
			fmt.Fprintf(&b, "%s: no results\n", code)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Elevation reports the quantity-weighted average of an elevation in a sale.
func (s *Service) Elevation(ctx context.Context, e models.EntitySet) (string, error) {
	if e.Elevation == "" {
		return "", invalid("Which elevation? One of %s.", strings.Join(classifier.Elevations(), ", "))
	}

	rows, err := s.rows(ctx)
	if err != nil {
		return "", err
	}
	sale := resolveSale(rows, e.SaleNumber)

	var qty, weighted float64
	count := 0
	for _, r := range rows {
		if r.sale != sale || r.elevation != e.Elevation {
			continue
		}
		qty += r.quantity
		weighted += r.average * r.quantity
		count++
	}
	if count == 0 || qty == 0 {
		return fmt.Sprintf("No %s results for sale %03d.", e.Elevation, sale), nil
	}
	return fmt.Sprintf("Sale %03d %s average: %.2f across %d marks (%.0f kg)",
		sale, e.Elevation, weighted/qty, count, qty), nil
}

// MarketReport finds the report for the requested sale, or the newest one.
// The caller closes the returned reader.
func (s *Service) MarketReport(ctx context.Context, e models.EntitySet) (blob.File, io.ReadCloser, error) {
	query := "report"
	if e.SaleNumber != "" {
		query += " " + e.SaleNumber
	}

	files, err := s.blobs.Search(ctx, query)
	if err != nil {
		return blob.File{}, nil, fmt.Errorf("search market reports: %w", err)
	}
	if len(files) == 0 {
		if e.SaleNumber != "" {
			return blob.File{}, nil, invalid("No market report found for sale %s.", e.SaleNumber)
		}
		return blob.File{}, nil, invalid("No market report is available yet.")
	}

	f := files[0]
	rc, err := s.blobs.Open(ctx, f.Name)
	if err != nil {
		return blob.File{}, nil, fmt.Errorf("open market report: %w", err)
	}
	s.logger.Info("Serving market report", zap.String("file", f.Name))
	return f, rc, nil
}
