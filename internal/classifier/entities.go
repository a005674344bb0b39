package classifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xaenox/teadesk-bot/internal/models"
)

// MaxFactoryCodes is how many distinct factory codes a single message may carry.
const MaxFactoryCodes = 5

var (
	factoryCodeRe = regexp.MustCompile(`(?i)\bMF\s*([A-Z])?\s*(\d{3,4})\b`)
	mfCandidateRe = regexp.MustCompile(`(?i)\bMF\s*[A-Z]?\s*\d+\b`)
	saleNumberRe  = regexp.MustCompile(`(?i)\bsale\s*(?:no\.?|number|#)?\s*(\d+)\b`)
)

type synonymEntry struct {
	name     string
	code     *regexp.Regexp // case-sensitive one-letter code, may be nil
	synonyms *regexp.Regexp // case-insensitive whole-word synonyms
}

func synonyms(name, code string, words ...string) synonymEntry {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	e := synonymEntry{
		name:     name,
		synonyms: regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`),
	}
	if code != "" {
		e.code = regexp.MustCompile(`\b` + regexp.QuoteMeta(code) + `\b`)
	}
	return e
}

func (e synonymEntry) match(text string) bool {
	if e.code != nil && e.code.MatchString(text) {
		return true
	}
	return e.synonyms.MatchString(text)
}

// Table order is the tie-break for overlapping synonyms: "uva high" resolves
// to UH before "high" can resolve to H. Two-letter codes match in any case;
// one-letter codes only in upper case.
var elevationTable = []synonymEntry{
	synonyms("UH", "", "uh", "uva high", "uva"),
	synonyms("WH", "", "wh", "western high", "western"),
	synonyms("H", "H", "high grown", "high"),
	synonyms("M", "M", "medium grown", "mid grown", "medium"),
	synonyms("L", "L", "low grown", "low country", "low"),
	synonyms("BT", "", "bt", "bought tea"),
}

var departmentTable = []synonymEntry{
	synonyms("Valuation", "", "valuation", "valuations", "valuer", "tasting", "taster"),
	synonyms("Accounts", "", "accounts", "account", "invoice", "invoices", "payment", "payments", "billing", "finance"),
	synonyms("IT", "IT", "it department", "it support", "it team", "tech support", "technical"),
	synonyms("Marketing", "", "marketing", "sales team", "promotion", "promotions"),
}

// Departments lists the canonical department names in table order.
func Departments() []string {
	names := make([]string, len(departmentTable))
	for i, d := range departmentTable {
		names[i] = d.name
	}
	return names
}

// Elevations lists the canonical elevation codes in table order.
func Elevations() []string {
	names := make([]string, len(elevationTable))
	for i, e := range elevationTable {
		names[i] = e.name
	}
	return names
}

// ExtractEntities runs independently of Classify.
func (c *Classifier) ExtractEntities(text string) models.EntitySet {
	var entities models.EntitySet

	seen := make(map[string]struct{})
	for _, m := range factoryCodeRe.FindAllStringSubmatch(text, -1) {
		code := "MF" + strings.ToUpper(m[1]) + m[2]
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if len(entities.FactoryCodes) == MaxFactoryCodes {
			entities.TooManyCodes = true
			continue
		}
		entities.FactoryCodes = append(entities.FactoryCodes, code)
	}

	for _, cand := range mfCandidateRe.FindAllString(text, -1) {
		if !factoryCodeRe.MatchString(cand) {
			entities.MalformedCodes = append(entities.MalformedCodes, normalizeCode(cand))
		}
	}

	entities.SaleNumber = extractSaleNumber(text)

	for _, e := range elevationTable {
		if e.match(text) {
			entities.Elevation = e.name
			break
		}
	}
	for _, d := range departmentTable {
		if d.match(text) {
			entities.Department = d.name
			break
		}
	}

	return entities
}

// extractSaleNumber takes the rightmost "sale N" mention. A value above 999,
// of any length, yields no sale number even if an earlier mention was valid.
func extractSaleNumber(text string) string {
	matches := saleNumberRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil || n > 999 {
		return ""
	}
	return fmt.Sprintf("%03d", n)
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}
