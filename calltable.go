package bleu

import (
	"time"

	"github.com/cornelk/hashmap"
)

// callSlot is the in-memory record of one outstanding outbound invocation
// (§3 "Call slot"). It lives only while awaiting a Response or until
// cancellation/timeout/session loss.
type callSlot struct {
	callID     CallID
	targetPeer AID
	deadline   time.Time
	attempt    int
	result     chan Response
	done       chan struct{} // closed exactly once, guards double-complete
}

func newCallSlot(callID CallID, peer AID, deadline time.Time) *callSlot {
	return &callSlot{
		callID:     callID,
		targetPeer: peer,
		deadline:   deadline,
		result:     make(chan Response, 1),
		done:       make(chan struct{}),
	}
}

func (s *callSlot) complete(resp Response) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	close(s.done)
	s.result <- resp
	return true
}

// CallTable indexes pending outbound calls by CallID (§3 "Call Table",
// invariant 1: at most one slot per call_id). It is written from whatever
// goroutine calls RemoteCall/Cancel and read/deleted from the Event
// Bridge's single-consumer goroutine — exactly the access pattern
// cornelk/hashmap's lock-free map is built for (§5: "No mutex required;
// ownership suffices").
type CallTable struct {
	slots *hashmap.Map[CallID, *callSlot]
}

func NewCallTable() *CallTable {
	return &CallTable{slots: hashmap.New[CallID, *callSlot]()}
}

func (t *CallTable) Register(slot *callSlot) {
	t.slots.Set(slot.callID, slot)
}

func (t *CallTable) Get(id CallID) (*callSlot, bool) {
	return t.slots.Get(id)
}

func (t *CallTable) Remove(id CallID) {
	t.slots.Delete(id)
}

// CompleteOldestForPeer fails the oldest pending call targeting peer, FIFO
// by deadline assignment order (§4.3 "Retry policy" / §7: "Host ATT error
// during a pending write → fails the oldest pending call for that peer").
// It returns false if peer has no pending calls.
func (t *CallTable) CompleteOldestForPeer(peer AID, resp Response) bool {
	var oldest *callSlot
	t.slots.Range(func(_ CallID, slot *callSlot) bool {
		if slot.targetPeer != peer {
			return true
		}
		if oldest == nil || slot.deadline.Before(oldest.deadline) {
			oldest = slot
		}
		return true
	})
	if oldest == nil {
		return false
	}
	t.slots.Delete(oldest.callID)
	return oldest.complete(resp)
}

// CompleteAllForPeer fails every call targeting peer, e.g. on disconnect
// or PoweredOff (§7).
func (t *CallTable) CompleteAllForPeer(peer AID, resp Response) {
	var matched []CallID
	t.slots.Range(func(id CallID, slot *callSlot) bool {
		if slot.targetPeer == peer {
			matched = append(matched, id)
		}
		return true
	})
	for _, id := range matched {
		if slot, ok := t.slots.Get(id); ok {
			t.slots.Delete(id)
			r := resp
			r.Header.CallID = slot.callID
			slot.complete(r)
		}
	}
}

// CompleteAll fails every pending call, e.g. on an out-of-PoweredOn state
// transition (§4.3 "Event Bridge" — StateChanged).
func (t *CallTable) CompleteAll(resp Response) {
	var ids []CallID
	t.slots.Range(func(id CallID, _ *callSlot) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if slot, ok := t.slots.Get(id); ok {
			t.slots.Delete(id)
			r := resp
			r.Header.CallID = slot.callID
			slot.complete(r)
		}
	}
}

// ExpireDeadlines completes with Timeout every slot whose deadline has
// passed, returning how many it reaped. Driven by the periodic sweep.
func (t *CallTable) ExpireDeadlines(now time.Time) int {
	var expired []CallID
	t.slots.Range(func(id CallID, slot *callSlot) bool {
		if now.After(slot.deadline) {
			expired = append(expired, id)
		}
		return true
	})
	n := 0
	for _, id := range expired {
		if slot, ok := t.slots.Get(id); ok {
			t.slots.Delete(id)
			if slot.complete(failureResponse(Header{CallID: id}, ErrTimeout{})) {
				n++
			}
		}
	}
	return n
}
