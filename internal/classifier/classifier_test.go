package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xaenox/teadesk-bot/internal/models"
)

func TestClassify(t *testing.T) {
	c := New()

	tests := []struct {
		text string
		want models.Intent
	}{
		{"MF 0235 average", models.IntentFactoryQuery},
		{"price for MFA1234 please", models.IntentFactoryQuery},
		{"sale 12 sale 45 elevation average", models.IntentElevationQuery},
		{"uva high elevation", models.IntentElevationQuery},
		{"send me the market report", models.IntentMarketReport},
		{"Need invoice for May", models.IntentDepartmentContact},
		{"please connect me to valuation", models.IntentDepartmentContact},
		{"mute bot", models.IntentBotControl},
		{"unmute bot", models.IntentBotControl},
		{"help", models.IntentHelp},
		{"??", models.IntentHelp},
		{"what is your phone number", models.IntentContact},
		{"status", models.IntentStatus},
		{"hello there", models.IntentCasual},
		{"thank you", models.IntentCasual},
		{"tell me a joke", models.IntentIrrelevant},
		{"qwerty", models.IntentGeneral},
		{"", models.IntentGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestClassify_WeakHitFallsBackToGeneral(t *testing.T) {
	c := New()

	// "hi" only appears inside another word: 2 substring points, no stem hit.
	scores := c.Scores("this")
	assert.InDelta(t, 2.0, scores[models.IntentCasual], 1e-9)
	assert.Equal(t, models.IntentGeneral, c.Classify("this"))
}

func TestClassify_TieKeepsDeclarationOrder(t *testing.T) {
	c := &Classifier{table: []intentPattern{
		{intent: models.IntentHelp, weight: 1, keywords: []string{"menu"}},
		{intent: models.IntentContact, weight: 1, keywords: []string{"menu"}},
	}}
	assert.Equal(t, models.IntentHelp, c.Classify("menu"))

	c.table[0], c.table[1] = c.table[1], c.table[0]
	assert.Equal(t, models.IntentContact, c.Classify("menu"))
}

func TestScores_StemAndPattern(t *testing.T) {
	c := &Classifier{table: []intentPattern{
		{intent: models.IntentMarketReport, weight: 1, keywords: []string{"report"}},
	}}
	// substring (2) + stemmed token "reports" -> "report" (1)
	assert.Equal(t, 3.0, c.Scores("reports")[models.IntentMarketReport])

	// substring only: "reporter" stems to "reporter"
	assert.Equal(t, 2.0, c.Scores("reporter")[models.IntentMarketReport])
}

func TestControl(t *testing.T) {
	tests := []struct {
		text string
		want ControlAction
	}{
		{"mute bot", ControlMute},
		{"please STOP", ControlMute},
		{"pause the bot", ControlMute},
		{"unmute bot", ControlUnmute},
		{"resume", ControlUnmute},
		{"/start", ControlUnmute},
		{"the bot is great", ControlNone},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Control(tt.text))
		})
	}
}
