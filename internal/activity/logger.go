// Package activity is the bridge between the engine's structured process
// logs and the persisted Activity Log that the Request Surface exposes to
// users: every entry is written to both.
package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nimbustrade/tradeengine/internal/models"
	"github.com/nimbustrade/tradeengine/internal/store"
)

// Logger appends ActivityLog rows and mirrors them to the process log at
// the matching level.
type Logger struct {
	store  store.Store
	logger logrus.FieldLogger
}

// NewLogger builds an activity Logger over st, emitting process logs via logger.
func NewLogger(st store.Store, logger logrus.FieldLogger) *Logger {
	return &Logger{store: st, logger: logger}
}

// Entry is the caller-supplied content of one Activity Log record.
type Entry struct {
	Severity models.Severity
	Category string
	Message  string
	Details  interface{} // marshaled to JSON if non-nil
	BotID    string
	UserID   string
}

// Log persists entry and mirrors it to the process logger. Persistence
// failures are logged but never propagated — a missed Activity Log row must
// not abort the cycle that produced it.
func (l *Logger) Log(ctx context.Context, e Entry) {
	record := &models.ActivityLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Severity:  e.Severity,
		Category:  e.Category,
		Message:   e.Message,
		BotID:     e.BotID,
		UserID:    e.UserID,
	}
	if e.Details != nil {
		if data, err := json.Marshal(e.Details); err == nil {
			record.Details = string(data)
		}
	}

	if l.store != nil {
		if err := l.store.AppendActivityLog(ctx, record); err != nil && l.logger != nil {
			l.logger.WithError(err).Warn("activity: failed to persist activity log entry")
		}
	}

	l.mirror(record)
}

func (l *Logger) mirror(record *models.ActivityLog) {
	if l.logger == nil {
		return
	}
	fields := logrus.Fields{"category": record.Category}
	if record.BotID != "" {
		fields["bot_id"] = record.BotID
	}
	if record.UserID != "" {
		fields["user_id"] = record.UserID
	}
	entry := l.logger.WithFields(fields)
	switch record.Severity {
	case models.SeverityWarn:
		entry.Warn(record.Message)
	case models.SeverityError:
		entry.Error(record.Message)
	default:
		entry.Info(record.Message)
	}
}

// Info logs an info-severity entry.
func (l *Logger) Info(ctx context.Context, botID, category, message string, details interface{}) {
	l.Log(ctx, Entry{Severity: models.SeverityInfo, Category: category, Message: message, Details: details, BotID: botID})
}

// Warn logs a warn-severity entry.
func (l *Logger) Warn(ctx context.Context, botID, category, message string, details interface{}) {
	l.Log(ctx, Entry{Severity: models.SeverityWarn, Category: category, Message: message, Details: details, BotID: botID})
}

// Error logs an error-severity entry.
func (l *Logger) Error(ctx context.Context, botID, category, message string, details interface{}) {
	l.Log(ctx, Entry{Severity: models.SeverityError, Category: category, Message: message, Details: details, BotID: botID})
}
