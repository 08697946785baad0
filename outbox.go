package bleu

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// outboxCapacity bounds how many bytes of not-yet-written response frames
// this runtime holds per peer before it starts dropping newly pushed
// frames that no longer fit (§5 "Backpressure": "pending invocations remain in the Call Table
// and are not retried as long as the write is still in flight" — the
// ring buffer is where those not-yet-sent bytes actually live while a
// peer's write queue is full).
const outboxCapacity = 64 * 1024

// peerOutbox queues length-prefixed frame bytes for one peer in a
// smallnest/ringbuffer.RingBuffer, the same bounded byte-ring
// srgg-blecli's internal/ptyio uses to decouple a slow consumer (there, a
// PTY; here, a BLE write queue) from a fast producer without blocking it.
// Frames are length-prefixed here (ptyio's PTY byte stream has no message
// boundaries of its own; ours does, so a 4-byte length header is added at
// the ring-buffer boundary and stripped again on drain).
type peerOutbox struct {
	mu       sync.Mutex
	ring     *ringbuffer.RingBuffer
	leftover []byte
	dropped  uint64
	pumping  bool
}

// startPump marks the pump goroutine as running, returning false if one is
// already active (so callers never spawn two drain loops for one peer).
func (p *peerOutbox) startPump() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pumping {
		return false
	}
	p.pumping = true
	return true
}

func (p *peerOutbox) stopPump() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pumping = false
}

func (p *peerOutbox) isEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leftover) == 0 && p.ring.IsEmpty()
}

func newPeerOutbox() *peerOutbox {
	return &peerOutbox{ring: ringbuffer.New(outboxCapacity)}
}

// push queues frame for later draining. If the ring is too full to hold
// it, the frame is dropped and counted rather than blocking the caller.
func (p *peerOutbox) push(frame []byte) (dropped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	msg := append(lenBuf[:], frame...)

	// Refuse a frame that cannot fit whole: a partial write would leave a
	// truncated length-prefixed frame in the ring.
	if p.ring.Free() < len(msg) {
		p.dropped++
		return true
	}

	n, err := p.ring.Write(msg)
	if n < len(msg) {
		if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
			p.dropped++
			return true
		}
		if n < len(msg) {
			p.dropped++
			return true
		}
	}
	return false
}

// drainAll pulls every complete frame currently buffered, leaving any
// trailing partial message for the next call.
func (p *peerOutbox) drainAll() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, outboxCapacity)
	n, err := p.ring.TryRead(buf)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return nil
	}
	data := append(p.leftover, buf[:n]...)

	var frames [][]byte
	off := 0
	for off+4 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		if off+4+n > len(data) {
			break
		}
		frames = append(frames, data[off+4:off+4+n])
		off += 4 + n
	}
	p.leftover = append([]byte(nil), data[off:]...)
	return frames
}

func (p *peerOutbox) droppedCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// outbox indexes a peerOutbox per peer AID.
type outbox struct {
	mu   sync.Mutex
	byID map[AID]*peerOutbox
}

func newOutbox() *outbox {
	return &outbox{byID: make(map[AID]*peerOutbox)}
}

func (o *outbox) forPeer(peer AID) *peerOutbox {
	o.mu.Lock()
	defer o.mu.Unlock()
	po, ok := o.byID[peer]
	if !ok {
		po = newPeerOutbox()
		o.byID[peer] = po
	}
	return po
}

func (o *outbox) remove(peer AID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.byID, peer)
}
