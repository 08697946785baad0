package bleu

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	c := defaultConfig()
	assert.Equal(t, 5*time.Second, c.callTimeout)
	assert.Equal(t, maxRetryAttempts, c.maxRetries)
	assert.Equal(t, 30*time.Second, c.idleGraceWindow)
	assert.Equal(t, 10*time.Second, c.reassemblyDeadline)
	assert.NotNil(t, c.logger)
	assert.Equal(t, logrus.PanicLevel, c.logger.GetLevel())
}

func TestOptionsOverrideDefaults(t *testing.T) {
	custom := logrus.New()
	c := defaultConfig()
	for _, opt := range []Option{
		WithCallTimeout(2 * time.Second),
		WithMaxRetries(7),
		WithLogger(custom),
		WithIdleGraceWindow(time.Minute),
		WithReassemblyDeadline(3 * time.Second),
	} {
		opt(&c)
	}

	assert.Equal(t, 2*time.Second, c.callTimeout)
	assert.Equal(t, 7, c.maxRetries)
	assert.Same(t, custom, c.logger)
	assert.Equal(t, time.Minute, c.idleGraceWindow)
	assert.Equal(t, 3*time.Second, c.reassemblyDeadline)
}

func TestWithLoggerIgnoresNil(t *testing.T) {
	c := defaultConfig()
	original := c.logger
	WithLogger(nil)(&c)
	assert.Same(t, original, c.logger)
}

// TestWithMaxRetriesActuallyBoundsRetryAttempts drives cfg.maxRetries
// through sendWithRetry the same way ensurePump does (eventbridge.go), so a
// regression that goes back to reading the maxRetryAttempts constant
// instead of cfg.maxRetries fails here, not just at the config-struct level.
func TestWithMaxRetriesActuallyBoundsRetryAttempts(t *testing.T) {
	c := defaultConfig()
	WithMaxRetries(1)(&c)

	calls := 0
	err := sendWithRetry(c.maxRetries, func(attempt int) error {
		calls++
		return errors.New("always fails")
	}, nil)

	assert.Equal(t, 1, calls, "WithMaxRetries(1) must cap sendWithRetry at one attempt, not the default 3")
	assert.Error(t, err)
}
