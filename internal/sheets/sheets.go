// Package sheets reads tabular data from Google Sheets.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Source returns the rows of a spreadsheet range as strings.
type Source interface {
	Query(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
}

type Client struct {
	svc    *gsheets.Service
	logger *zap.Logger
}

// NewClient authenticates with a service-account file when credentialsFile
// is set, falling back to application default credentials.
func NewClient(ctx context.Context, credentialsFile string, logger *zap.Logger) (*Client, error) {
	opts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsReadonlyScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &Client{svc: svc, logger: logger}, nil
}

func (c *Client) Query(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read range %s: %w", rng, err)
	}

	c.logger.Debug("Read sheet range",
		zap.String("range", rng),
		zap.Int("rows", len(resp.Values)))

	return toStrings(resp.Values), nil
}

func toStrings(values [][]interface{}) [][]string {
	rows := make([][]string, 0, len(values))
	for _, v := range values {
		row := make([]string, len(v))
		for i, cell := range v {
			row[i] = strings.TrimSpace(fmt.Sprint(cell))
		}
		rows = append(rows, row)
	}
	return rows
}

// Cell returns row[i] or "" when the row is short.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
