package activity

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/nimbustrade/tradeengine/internal/mock"
	"github.com/nimbustrade/tradeengine/internal/models"
)

func TestLogPersistsAndMirrors(t *testing.T) {
	st := mock.NewStore()
	base := logrus.New()
	base.SetOutput(io.Discard)

	l := NewLogger(st, base)
	l.Error(context.Background(), "bot-1", "risk", "oversize position refused", map[string]string{"reason": "single_share_exceeds_position_limit"})

	entries := st.Activity()
	if len(entries) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(entries))
	}
	if entries[0].Severity != models.SeverityError {
		t.Errorf("expected error severity, got %s", entries[0].Severity)
	}
	if entries[0].BotID != "bot-1" {
		t.Errorf("expected bot id propagated, got %s", entries[0].BotID)
	}
	if entries[0].Details == "" {
		t.Error("expected details JSON to be set")
	}
}

func TestLogToleratesNilStore(t *testing.T) {
	l := NewLogger(nil, nil)
	l.Info(context.Background(), "", "market", "market opened", nil)
}
