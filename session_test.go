package bleu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionStartsDiscoveredAndNotReady(t *testing.T) {
	s := newSession(NewAID())
	assert.Equal(t, Discovered, s.State())
	assert.False(t, s.IsReady())
}

func TestSessionStateTransitionsAndReadiness(t *testing.T) {
	s := newSession(NewAID())
	for _, next := range []SessionState{Connecting, Connected, ServicesResolved, Ready} {
		s.setState(next)
	}
	assert.True(t, s.IsReady())

	s.setState(Disconnecting)
	assert.False(t, s.IsReady())
}

func TestSessionStateStringCoversAllValues(t *testing.T) {
	for _, st := range []SessionState{Discovered, Connecting, Connected, ServicesResolved, Ready, Disconnecting, Disconnected} {
		assert.NotEqual(t, "unknown", st.String())
	}
	assert.Equal(t, "unknown", SessionState(99).String())
}

func TestSessionSubscriptionTracking(t *testing.T) {
	s := newSession(NewAID())
	char := [16]byte{1, 2, 3}
	assert.False(t, s.isSubscribed(char))

	s.setSubscribed(char, true)
	assert.True(t, s.isSubscribed(char))

	s.setSubscribed(char, false)
	assert.False(t, s.isSubscribed(char))
}

func TestSessionOutboundTracking(t *testing.T) {
	s := newSession(NewAID())
	id := NewCallID()
	s.trackOutbound(id)
	assert.Contains(t, s.pendingOutbound, id)

	s.untrackOutbound(id)
	assert.NotContains(t, s.pendingOutbound, id)
}

func TestIdleAndEmptyRequiresDisconnectedAndQuiescence(t *testing.T) {
	s := newSession(NewAID())
	s.setState(Ready)
	assert.False(t, s.idleAndEmpty(0, true), "not disconnected yet")

	s.setState(Disconnected)
	assert.False(t, s.idleAndEmpty(0, false), "reassembly still pending")

	s.trackOutbound(NewCallID())
	assert.False(t, s.idleAndEmpty(0, true), "pending outbound call still tracked")

	s.untrackOutbound(s.pendingOutbound[0])
	assert.True(t, s.idleAndEmpty(0, true))
}

func TestIdleAndEmptyHonorsGraceWindow(t *testing.T) {
	s := newSession(NewAID())
	s.setState(Disconnected)
	assert.False(t, s.idleAndEmpty(time.Hour, true), "grace window not elapsed")
	assert.True(t, s.idleAndEmpty(0, true))
}

func TestSessionTableGetOrCreateIsIdempotent(t *testing.T) {
	tbl := newSessionTable()
	peer := NewAID()
	a := tbl.getOrCreate(peer)
	b := tbl.getOrCreate(peer)
	assert.Same(t, a, b)

	got, ok := tbl.get(peer)
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestSessionTableRemoveAndAll(t *testing.T) {
	tbl := newSessionTable()
	p1, p2 := NewAID(), NewAID()
	tbl.getOrCreate(p1)
	tbl.getOrCreate(p2)
	assert.Len(t, tbl.all(), 2)

	tbl.remove(p1)
	assert.Len(t, tbl.all(), 1)
	_, ok := tbl.get(p1)
	assert.False(t, ok)
}
