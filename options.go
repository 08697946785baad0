package bleu

import (
	"time"

	"github.com/sirupsen/logrus"
)

// config collects the System constructor's tunables, applied by Option
// (§6 "Configuration": functional-options, no config-file/env surface).
type config struct {
	callTimeout        time.Duration
	maxRetries         int
	logger             *logrus.Logger
	idleGraceWindow    time.Duration
	reassemblyDeadline time.Duration
}

func defaultConfig() config {
	return config{
		callTimeout:        5 * time.Second,
		maxRetries:         maxRetryAttempts,
		logger:             defaultLogger(),
		idleGraceWindow:    30 * time.Second,
		reassemblyDeadline: 10 * time.Second,
	}
}

func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// Option configures a System at construction (§4.3 "Actor System").
type Option func(*config)

// WithCallTimeout overrides the default 5s remote_call deadline (§4.3
// "Call timeout and cancellation").
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) { c.callTimeout = d }
}

// WithMaxRetries overrides the peripheral→central Response retry attempt
// cap (§4.3 "Retry policy" default is 3).
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithLogger supplies a *logrus.Logger; System fields always include peer,
// call_id, and char where applicable (SPEC_FULL.md "Logging").
func WithLogger(l *logrus.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithIdleGraceWindow overrides how long a Disconnected, empty session is
// kept before the periodic sweep reaps it (§3 "Lifecycles — Peer
// session").
func WithIdleGraceWindow(d time.Duration) Option {
	return func(c *config) { c.idleGraceWindow = d }
}

// WithReassemblyDeadline overrides how long an incomplete correlation id
// is held before being dropped (§4.2 "Reassembly algorithm").
func WithReassemblyDeadline(d time.Duration) Option {
	return func(c *config) { c.reassemblyDeadline = d }
}
