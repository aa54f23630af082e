package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/sirupsen/logrus"
)

func testClient(cfg Config) *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClient(logger, cfg)
}

func TestDoSucceedsFirstTry(t *testing.T) {
	c := testClient(Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Timeout: time.Second})
	calls := 0
	err := c.Do(context.Background(), "test", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	c := testClient(Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Timeout: time.Second})
	calls := 0
	err := c.Do(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return &broker.APIError{Status: 503, Body: "unavailable"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	c := testClient(Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Timeout: time.Second})
	calls := 0
	err := c.Do(context.Background(), "test", func() error {
		calls++
		return &broker.APIError{Status: 400, Body: "bad request"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a permanent error, got %d", calls)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	c := testClient(Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Timeout: time.Second})
	calls := 0
	sentinel := errors.New("connection reset")
	err := c.Do(context.Background(), "test", func() error {
		calls++
		return sentinel
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&broker.APIError{Status: 500}, true},
		{&broker.APIError{Status: 429}, true},
		{&broker.APIError{Status: 400}, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("invalid symbol"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
