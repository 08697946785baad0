package bleu

import "sync/atomic"

// Metrics exposes the "silently dropped + counted" hygiene counters named
// throughout §3/§4.2 as plain atomics, so §8 properties 3, 5, and 6 have
// something to assert against (SPEC_FULL.md "SUPPLEMENTED FEATURES").
type Metrics struct {
	droppedCRC        atomic.Uint64 // §3 invariant 3
	droppedProtocol   atomic.Uint64 // §3 invariant 4
	staleResponses    atomic.Uint64 // §3 invariant 7 / §8 property 5
	staleATTErrors    atomic.Uint64 // §4.3 "later-arriving stale errors ... are dropped"
	expiredCalls      atomic.Uint64 // §4.3 "Call timeout"
	cancelledCalls    atomic.Uint64
	retriedResponses  atomic.Uint64 // §4.3 "Retry policy"
	exhaustedRetries  atomic.Uint64
}

func newMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) DroppedCRC() uint64       { return m.droppedCRC.Load() }
func (m *Metrics) DroppedProtocol() uint64  { return m.droppedProtocol.Load() }
func (m *Metrics) StaleResponses() uint64   { return m.staleResponses.Load() }
func (m *Metrics) StaleATTErrors() uint64   { return m.staleATTErrors.Load() }
func (m *Metrics) ExpiredCalls() uint64     { return m.expiredCalls.Load() }
func (m *Metrics) CancelledCalls() uint64   { return m.cancelledCalls.Load() }
func (m *Metrics) RetriedResponses() uint64 { return m.retriedResponses.Load() }
func (m *Metrics) ExhaustedRetries() uint64 { return m.exhaustedRetries.Load() }
