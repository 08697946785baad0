package bleu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallTableRegisterGetRemove(t *testing.T) {
	tbl := NewCallTable()
	peer := NewAID()
	slot := newCallSlot(NewCallID(), peer, time.Now().Add(time.Second))
	tbl.Register(slot)

	got, ok := tbl.Get(slot.callID)
	require.True(t, ok)
	assert.Equal(t, slot, got)

	tbl.Remove(slot.callID)
	_, ok = tbl.Get(slot.callID)
	assert.False(t, ok)
}

func TestCallSlotCompleteIsSingleFire(t *testing.T) {
	slot := newCallSlot(NewCallID(), NewAID(), time.Now().Add(time.Second))
	h := Header{CallID: slot.callID}

	first := slot.complete(successResponse(h, []byte("a")))
	second := slot.complete(successResponse(h, []byte("b")))

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, []byte("a"), (<-slot.result).Success)
}

func TestCompleteOldestForPeerPicksEarliestDeadline(t *testing.T) {
	tbl := NewCallTable()
	peer := NewAID()
	other := NewAID()

	now := time.Now()
	older := newCallSlot(NewCallID(), peer, now.Add(1*time.Second))
	newer := newCallSlot(NewCallID(), peer, now.Add(5*time.Second))
	unrelated := newCallSlot(NewCallID(), other, now.Add(500*time.Millisecond))
	tbl.Register(older)
	tbl.Register(newer)
	tbl.Register(unrelated)

	ok := tbl.CompleteOldestForPeer(peer, failureResponse(Header{}, ErrPeerUnreachable{Peer: peer}))
	require.True(t, ok)

	resp := <-older.result
	assert.Equal(t, "peer_unreachable", Code(resp.Failure))

	// newer call for the same peer is untouched.
	_, stillPending := tbl.Get(newer.callID)
	assert.True(t, stillPending)

	// unrelated peer's call is untouched.
	_, stillThere := tbl.Get(unrelated.callID)
	assert.True(t, stillThere)
}

func TestCompleteOldestForPeerNoPendingReturnsFalse(t *testing.T) {
	tbl := NewCallTable()
	ok := tbl.CompleteOldestForPeer(NewAID(), failureResponse(Header{}, ErrTimeout{}))
	assert.False(t, ok)
}

func TestCompleteAllForPeerOnlyTargetsThatPeer(t *testing.T) {
	tbl := NewCallTable()
	peer := NewAID()
	other := NewAID()
	a := newCallSlot(NewCallID(), peer, time.Now().Add(time.Second))
	b := newCallSlot(NewCallID(), peer, time.Now().Add(time.Second))
	c := newCallSlot(NewCallID(), other, time.Now().Add(time.Second))
	tbl.Register(a)
	tbl.Register(b)
	tbl.Register(c)

	tbl.CompleteAllForPeer(peer, failureResponse(Header{}, ErrPeerUnreachable{Peer: peer}))

	assertCompletedWithin(t, a.done)
	assertCompletedWithin(t, b.done)
	_, stillPending := tbl.Get(c.callID)
	assert.True(t, stillPending)
}

func TestCompleteAllFailsEveryPendingCall(t *testing.T) {
	tbl := NewCallTable()
	a := newCallSlot(NewCallID(), NewAID(), time.Now().Add(time.Second))
	b := newCallSlot(NewCallID(), NewAID(), time.Now().Add(time.Second))
	tbl.Register(a)
	tbl.Register(b)

	tbl.CompleteAll(failureResponse(Header{}, ErrCancelled{}))

	assertCompletedWithin(t, a.done)
	assertCompletedWithin(t, b.done)
	assert.Equal(t, 0, tbl.slots.Len())
}

func TestExpireDeadlinesReapsPastDeadlineOnly(t *testing.T) {
	tbl := NewCallTable()
	now := time.Now()
	expired := newCallSlot(NewCallID(), NewAID(), now.Add(-time.Millisecond))
	fresh := newCallSlot(NewCallID(), NewAID(), now.Add(time.Hour))
	tbl.Register(expired)
	tbl.Register(fresh)

	n := tbl.ExpireDeadlines(now)
	assert.Equal(t, 1, n)

	resp := <-expired.result
	assert.Equal(t, "timeout", Code(resp.Failure))

	_, stillPending := tbl.Get(fresh.callID)
	assert.True(t, stillPending)
}

func assertCompletedWithin(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected slot to be completed")
	}
}
