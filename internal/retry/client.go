// Package retry provides exponential backoff with jitter for broker
// operations, plus transient-vs-permanent error classification.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config contains retry configuration parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig provides sensible defaults for retry operations.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client wraps arbitrary broker calls with retry-with-backoff logic,
// retrying only errors classified as transient.
type Client struct {
	logger logrus.FieldLogger
	config Config
}

// NewClient creates a new retry client with the given optional config.
func NewClient(logger logrus.FieldLogger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	return &Client{logger: logger, config: cfg}
}

// Do calls fn, retrying with exponential backoff and jitter while the
// returned error is transient, up to config.MaxRetries additional attempts.
func (c *Client) Do(ctx context.Context, op string, fn func() error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if callCtx.Err() != nil {
			return fmt.Errorf("%s: timed out after %v: %w", op, c.config.Timeout, callCtx.Err())
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		c.logger.WithFields(logrus.Fields{"op": op, "attempt": attempt + 1}).WithError(lastErr).Warn("broker call failed")

		if !IsTransient(lastErr) || attempt >= c.config.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-callCtx.Done():
			return fmt.Errorf("%s: timed out during backoff: %w", op, callCtx.Err())
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", op, c.config.MaxRetries+1, lastErr)
}

func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

// transientClassifier is satisfied by any error that can judge its own
// transience (e.g. broker.APIError, by status code). Matched structurally
// so this package never needs to import the broker package itself.
type transientClassifier interface {
	IsTransient() bool
}

// IsTransient classifies an error as transient (network/timeout/5xx) versus
// permanent, per the error taxonomy's TransientBrokerError/PermanentBrokerError
// distinction. An error implementing transientClassifier (e.g. a broker API
// error) is asked directly; anything else falls back to substring matching
// on common transient network failure strings.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var tc transientClassifier
	if errors.As(err, &tc) {
		return tc.IsTransient()
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"i/o timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"temporarily unavailable",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
		"no such host",
		"deadline exceeded",
		"tls handshake",
		"broken pipe",
		"eof",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
