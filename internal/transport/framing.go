package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// MinMaxPayload is the floor applied to any negotiated payload size (§4.2:
// "enforce max_payload ≥ 25; for BLE minimum 23, one byte is reserved, so
// set max_payload = max(negotiated, 27)").
const MinMaxPayload = 27

// PeerID identifies the remote peer a Transport tracks state for. It
// mirrors bleu.AID's shape without importing the root package (Transport
// is owned by a bleu.System, so the dependency must run one way only).
type PeerID [16]byte

type partialMessage struct {
	total    uint16
	received map[uint16][]byte
	deadline time.Time
}

func (m *partialMessage) size() int {
	n := 0
	for _, b := range m.received {
		n += len(b)
	}
	return n
}

func (m *partialMessage) assemble() []byte {
	out := make([]byte, 0, m.size())
	for i := uint16(0); i < m.total; i++ {
		out = append(out, m.received[i]...)
	}
	return out
}

// Transport is the Framing Layer (§4.2): per-peer fragmentation of
// outbound envelope bytes and reassembly of inbound frames, gated by a
// CRC32 integrity check and a reassembly deadline.
type Transport struct {
	mu                 sync.Mutex
	maxPayload         map[PeerID]int
	reassembly         map[PeerID]map[CorrelationID]*partialMessage
	reassemblyDeadline time.Duration

	droppedCRC      atomic.Uint64
	droppedProtocol atomic.Uint64
}

// New constructs an empty Transport. reassemblyDeadline bounds how long an
// incomplete correlation id is kept before being dropped (§4.2 "Reassembly
// algorithm").
func New(reassemblyDeadline time.Duration) *Transport {
	return &Transport{
		maxPayload:         make(map[PeerID]int),
		reassembly:         make(map[PeerID]map[CorrelationID]*partialMessage),
		reassemblyDeadline: reassemblyDeadline,
	}
}

// Negotiate records a peer's current negotiated write length, clamped to
// the MinMaxPayload floor (§4.2 "Public contract").
func (t *Transport) Negotiate(peer PeerID, maxWriteLength int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxPayload[peer] = max(maxWriteLength, MinMaxPayload)
}

// Remove releases all reassembly state held for peer (§4.2).
func (t *Transport) Remove(peer PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.maxPayload, peer)
	delete(t.reassembly, peer)
}

func (t *Transport) payloadCapacity(peer PeerID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	mp, ok := t.maxPayload[peer]
	if !ok {
		mp = MinMaxPayload
	}
	return mp - HeaderLen
}

// FragmentFor splits envelope bytes into Frames sized to peer's negotiated
// payload (§4.2 "Framing algorithm"). A payload that fits in one frame
// still gets Total=1, per §3.
func (t *Transport) FragmentFor(peer PeerID, correlation CorrelationID, data []byte) []Frame {
	capacity := t.payloadCapacity(peer)
	if capacity < 1 {
		capacity = 1
	}
	total := uint16((len(data) + capacity - 1) / capacity)
	if total == 0 {
		total = 1
	}
	frames := make([]Frame, 0, total)
	for i := uint16(0); i < total; i++ {
		start := int(i) * capacity
		end := start + capacity
		if end > len(data) {
			end = len(data)
		}
		slice := data[start:end]
		frames = append(frames, Frame{
			CorrelationID: correlation,
			Sequence:      i,
			Total:         total,
			CRC32:         crcOf(slice),
			Payload:       slice,
		})
	}
	return frames
}

// FeedOutcome tells the caller of Feed what happened to the frame it just
// fed in, so a caller that wants to mirror Transport's own drop counters
// into a different set of counters (e.g. bleu.System's Metrics) knows
// exactly which one to increment instead of polling DroppedCRC/
// DroppedProtocol deltas, which would race across concurrent Feed callers.
type FeedOutcome int

const (
	// FeedIncomplete means the frame was accepted but its correlation id
	// still has outstanding sequences.
	FeedIncomplete FeedOutcome = iota
	// FeedComplete means the frame completed its correlation id; the
	// envelope bytes are returned alongside.
	FeedComplete
	// FeedDroppedCRC means the frame failed its CRC32 check (§3 invariant 3).
	FeedDroppedCRC
	// FeedDroppedProtocol means the frame was structurally invalid or
	// violated the reassembly protocol (§3 invariant 4).
	FeedDroppedProtocol
)

// Feed accepts one received frame's wire bytes for peer. It returns the
// full envelope bytes once every frame for that frame's correlation id has
// arrived intact, and a FeedOutcome describing what happened.
//
// CRC mismatches and protocol violations (§3 invariants 3 and 4) are
// dropped silently and counted — they never produce an error return, per
// §4.2 "Failure semantics".
func (t *Transport) Feed(peer PeerID, raw []byte) ([]byte, FeedOutcome) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		t.droppedProtocol.Add(1)
		return nil, FeedDroppedProtocol
	}
	if frame.CRC32 != crcOf(frame.Payload) {
		t.droppedCRC.Add(1)
		return nil, FeedDroppedCRC
	}
	if frame.Total == 0 || frame.Sequence >= frame.Total {
		t.droppedProtocol.Add(1)
		return nil, FeedDroppedProtocol
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	peerTable, ok := t.reassembly[peer]
	if !ok {
		peerTable = make(map[CorrelationID]*partialMessage)
		t.reassembly[peer] = peerTable
	}

	msg, ok := peerTable[frame.CorrelationID]
	if ok && msg.total != frame.Total {
		// Mismatched total invalidates the whole correlation id (§3 invariant 4).
		delete(peerTable, frame.CorrelationID)
		t.droppedProtocol.Add(1)
		return nil, FeedDroppedProtocol
	}
	if !ok {
		msg = &partialMessage{
			total:    frame.Total,
			received: make(map[uint16][]byte),
			deadline: time.Now().Add(t.reassemblyDeadline),
		}
		peerTable[frame.CorrelationID] = msg
	}

	payload := make([]byte, len(frame.Payload))
	copy(payload, frame.Payload)
	msg.received[frame.Sequence] = payload // duplicate sequence: last wins

	if len(msg.received) != int(msg.total) {
		return nil, FeedIncomplete
	}
	full := msg.assemble()
	delete(peerTable, frame.CorrelationID)
	return full, FeedComplete
}

// PruneExpired drops every partial message across every peer whose
// reassembly deadline has passed, returning how many were dropped. It is
// meant to be driven by a periodic sweep (DESIGN.md "Periodic sweep").
func (t *Transport) PruneExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for peer, table := range t.reassembly {
		for id, msg := range table {
			if now.After(msg.deadline) {
				delete(table, id)
				dropped++
			}
		}
		if len(table) == 0 {
			delete(t.reassembly, peer)
		}
	}
	return dropped
}

// HasPending reports whether peer has any incomplete reassembly in
// flight, used by the idle-session reaper (§3 "Lifecycles — Peer
// session": "destroyed on Disconnected + empty reassembly + empty pending
// list").
func (t *Transport) HasPending(peer PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reassembly[peer]) > 0
}

// DroppedCRC reports how many frames were dropped for failing the CRC32
// check (§8 property 3).
func (t *Transport) DroppedCRC() uint64 { return t.droppedCRC.Load() }

// DroppedProtocol reports how many frames were dropped for a protocol
// violation (mismatched total, out-of-range sequence, truncated header).
func (t *Transport) DroppedProtocol() uint64 { return t.droppedProtocol.Load() }
