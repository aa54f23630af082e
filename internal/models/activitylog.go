package models

import "time"

// Severity is the log level of an ActivityLog entry.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// ActivityLog is a structured, persisted event record surfaced to users
// through the Request Surface, distinct from (but emitted alongside)
// process logs.
type ActivityLog struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"` // JSON
	BotID     string    `json:"bot_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
}
