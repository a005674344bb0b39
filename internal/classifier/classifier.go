// Package classifier scores messages against a fixed table of weighted
// keywords and patterns and extracts tea-market entities from them.
package classifier

import (
	"regexp"
	"strings"

	"github.com/xaenox/teadesk-bot/internal/models"
)

const (
	substringPoints = 2
	stemPoints      = 1
	patternPoints   = 3

	// MinScore is the floor below which the winner is discarded in favour of
	// the general intent.
	MinScore = 3.0
)

type intentPattern struct {
	intent   models.Intent
	weight   float64
	keywords []string
	patterns []*regexp.Regexp
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	table []intentPattern
}

// New builds a classifier over the default table. Declaration order is the
// tie-break: on equal scores the earlier intent wins.
func New() *Classifier {
	return &Classifier{table: defaultTable()}
}

func defaultTable() []intentPattern {
	re := regexp.MustCompile
	return []intentPattern{
		{
			intent:   models.IntentFactoryQuery,
			weight:   1.2,
			keywords: []string{"factory", "mark", "mf", "price", "average", "avg", "rate"},
			patterns: []*regexp.Regexp{re(`(?i)\bmf\s*[a-z]?\s*\d{3,4}\b`)},
		},
		{
			intent:   models.IntentElevationQuery,
			weight:   1.2,
			keywords: []string{"elevation", "high grown", "medium grown", "low grown", "uva high", "western high", "low country"},
			patterns: []*regexp.Regexp{re(`(?i)\belevations?\b`), re(`(?i)\b(UH|WH|BT)\b`)},
		},
		{
			intent:   models.IntentMarketReport,
			weight:   1.0,
			keywords: []string{"market report", "report", "market", "catalogue", "auction", "summary"},
			patterns: []*regexp.Regexp{re(`(?i)\bmarket\s+(report|summary|update)\b`)},
		},
		{
			intent:   models.IntentDepartmentContact,
			weight:   1.1,
			keywords: []string{"department", "speak to", "talk to", "connect me", "forward", "valuation", "accounts", "marketing", "invoice", "payment", "staff"},
			patterns: []*regexp.Regexp{re(`(?i)\b(contact|connect|forward|send|reach)\b.*\b(valuation|accounts?|it|marketing)\b`)},
		},
		{
			intent:   models.IntentBotControl,
			weight:   1.5,
			keywords: []string{"mute", "unmute", "pause", "resume", "stop", "disable", "enable", "activate", "bot"},
			patterns: []*regexp.Regexp{re(`(?i)\b(un)?mute\b`)},
		},
		{
			intent:   models.IntentHelp,
			weight:   1.0,
			keywords: []string{"help", "how to", "how do i", "commands", "menu", "guide", "what can you do"},
			patterns: []*regexp.Regexp{re(`^\s*\?+\s*$`)},
		},
		{
			intent:   models.IntentContact,
			weight:   1.0,
			keywords: []string{"contact", "phone", "email", "address", "office", "call you", "reach you", "location"},
		},
		{
			intent:   models.IntentStatus,
			weight:   1.0,
			keywords: []string{"status", "uptime", "alive", "are you working", "stats", "online"},
		},
		{
			intent:   models.IntentCasual,
			weight:   1.0,
			keywords: []string{"hello", "hi", "hey", "thank", "thanks", "thank you", "good morning", "good evening", "how are you", "bye"},
		},
		{
			intent:   models.IntentIrrelevant,
			weight:   1.0,
			keywords: []string{"weather", "joke", "movie", "football", "cricket", "song", "game", "news"},
		},
		{
			intent: models.IntentGeneral,
			weight: 1.0,
		},
	}
}

// Classify returns the single best intent for text.
func (c *Classifier) Classify(text string) models.Intent {
	intent, _ := c.best(text)
	return intent
}

// Scores returns the weighted score of every intent in table order.
func (c *Classifier) Scores(text string) map[models.Intent]float64 {
	lower := strings.ToLower(text)
	stems := stemSet(lower)

	scores := make(map[models.Intent]float64, len(c.table))
	for _, p := range c.table {
		scores[p.intent] = p.score(text, lower, stems)
	}
	return scores
}

func (c *Classifier) best(text string) (models.Intent, float64) {
	lower := strings.ToLower(text)
	stems := stemSet(lower)

	bestIntent := models.IntentGeneral
	bestScore := 0.0
	for _, p := range c.table {
		s := p.score(text, lower, stems)
		if s > bestScore {
			bestIntent, bestScore = p.intent, s
		}
	}
	if bestScore < MinScore {
		return models.IntentGeneral, bestScore
	}
	return bestIntent, bestScore
}

func (p intentPattern) score(text, lower string, stems map[string]struct{}) float64 {
	score := 0
	for _, kw := range p.keywords {
		if strings.Contains(lower, kw) {
			score += substringPoints
		}
		if !strings.Contains(kw, " ") {
			if _, ok := stems[stem(kw)]; ok {
				score += stemPoints
			}
		}
	}
	for _, re := range p.patterns {
		score += patternPoints * len(re.FindAllStringIndex(text, -1))
	}
	return float64(score) * p.weight
}

// ControlAction is what a bot_control message asks for.
type ControlAction int

const (
	ControlNone ControlAction = iota
	ControlMute
	ControlUnmute
)

var (
	unmuteTokens = []string{"unmute", "resume", "activate", "enable", "start"}
	muteTokens   = []string{"stop", "mute", "pause", "disable"}
)

// Control inspects the words of text for a mute or unmute token. Unmute
// tokens are checked first.
func Control(text string) ControlAction {
	words := make(map[string]struct{})
	for _, w := range tokenize(strings.ToLower(text)) {
		words[w] = struct{}{}
	}
	for _, t := range unmuteTokens {
		if _, ok := words[t]; ok {
			return ControlUnmute
		}
	}
	for _, t := range muteTokens {
		if _, ok := words[t]; ok {
			return ControlMute
		}
	}
	return ControlNone
}
