package models

import "time"

// Sender is the stable transport identifier of a chat participant.
type Sender string

// Intent is the single classified purpose of a message.
type Intent string

const (
	IntentFactoryQuery      Intent = "factory_query"
	IntentElevationQuery    Intent = "elevation_query"
	IntentMarketReport      Intent = "market_report"
	IntentDepartmentContact Intent = "department_contact"
	IntentBotControl        Intent = "bot_control"
	IntentHelp              Intent = "help"
	IntentContact           Intent = "contact"
	IntentStatus            Intent = "status"
	IntentCasual            Intent = "casual_conversation"
	IntentIrrelevant        Intent = "irrelevant"
	IntentGeneral           Intent = "general"

	// IntentCommand and IntentStaffReply label telemetry samples for messages
	// that never reach the classifier.
	IntentCommand    Intent = "command"
	IntentStaffReply Intent = "staff_reply"
)

// EntitySet holds the entities extracted from a single message.
type EntitySet struct {
	FactoryCodes []string `json:"factory_codes"`
	SaleNumber   string   `json:"sale_number,omitempty"`
	Elevation    string   `json:"elevation,omitempty"`
	Department   string   `json:"department,omitempty"`

	// TooManyCodes is set when more factory codes were mentioned than were kept.
	TooManyCodes bool `json:"too_many_codes,omitempty"`
	// MalformedCodes lists MF-prefixed tokens with the wrong number of digits.
	MalformedCodes []string `json:"malformed_codes,omitempty"`
}

// InboundMessage is a transport event after group/self filtering.
type InboundMessage struct {
	Sender      Sender    `json:"sender"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	HasQuote    bool      `json:"has_quote"`
	QuotedText  string    `json:"quoted_text,omitempty"`
	IsGroup     bool      `json:"is_group"`
	IsSelf      bool      `json:"is_self"`
	SentAt      time.Time `json:"sent_at"`
}

// UserState is the per-sender conversation record.
type UserState struct {
	FirstSeenAt       time.Time  `json:"first_seen_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	MessageCount      uint64     `json:"message_count"`
	LastWelcomeAt     *time.Time `json:"last_welcome_at,omitempty"`
	Active            bool       `json:"active"`
	LastBotResponseAt *time.Time `json:"last_bot_response_at,omitempty"`
	IgnoredCount      uint64     `json:"ignored_count"`
}

// DedupEntry records when a (sender, content hash) pair was first processed.
type DedupEntry struct {
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// StaffMember is one row of the staff directory.
type StaffMember struct {
	ID         Sender `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
}

// ForwardTicket links a routed client message to the staff member expected to answer it.
type ForwardTicket struct {
	ID                string    `json:"id"`
	ClientID          Sender    `json:"client_id"`
	StaffID           Sender    `json:"staff_id"`
	StaffName         string    `json:"staff_name"`
	Department        string    `json:"department"`
	ClientDisplayName string    `json:"client_display_name"`
	OriginalText      string    `json:"original_text"`
	CreatedAt         time.Time `json:"created_at"`
}

// Sample is a single processed-message measurement.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Intent     Intent    `json:"intent"`
	Success    bool      `json:"success"`
}

// AnalyticsSnapshot is the persisted form of the telemetry counters.
type AnalyticsSnapshot struct {
	TotalMessages uint64            `json:"total_messages"`
	UniqueSenders []Sender          `json:"unique_senders"`
	IntentCounts  map[Intent]uint64 `json:"intent_counts"`
	SuccessCount  uint64            `json:"success_count"`
	FailCount     uint64            `json:"fail_count"`
	Samples       []Sample          `json:"samples"`
}

// IntentCount pairs an intent with how often it was seen.
type IntentCount struct {
	Intent Intent `json:"intent"`
	Count  uint64 `json:"count"`
}

// Stats is the read-only aggregate view served by the status endpoint.
type Stats struct {
	TotalMessages     uint64        `json:"total_messages"`
	UniqueSenders     int           `json:"unique_senders"`
	SuccessCount      uint64        `json:"success_count"`
	FailCount         uint64        `json:"fail_count"`
	AverageDurationMs float64       `json:"average_duration_ms"`
	ErrorRate         float64       `json:"error_rate"`
	TopIntents        []IntentCount `json:"top_intents"`
}
