package bleu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceRegistryLocalLifecycle(t *testing.T) {
	r := NewInstanceRegistry()
	inst := &Instance{AID: NewAID(), Handlers: map[string]Handler{}}

	_, ok := r.Local(inst.AID)
	assert.False(t, ok)

	r.RegisterLocal(inst)
	got, ok := r.Local(inst.AID)
	require.True(t, ok)
	assert.Same(t, inst, got)
	assert.Len(t, r.LocalInstances(), 1)

	r.UnregisterLocal(inst.AID)
	_, ok = r.Local(inst.AID)
	assert.False(t, ok)
	assert.Empty(t, r.LocalInstances())
}

func TestInstanceRegistryRemoteLifecycle(t *testing.T) {
	r := NewInstanceRegistry()
	peer := NewAID()
	proxy := &RemoteProxy{AID: NewAID(), Peer: peer}

	r.PutRemote(proxy)
	got, ok := r.Remote(proxy.AID)
	require.True(t, ok)
	assert.Same(t, proxy, got)
}

func TestInstanceRegistryForgetPeerOnlyDropsThatPeersProxies(t *testing.T) {
	r := NewInstanceRegistry()
	peerA, peerB := NewAID(), NewAID()
	proxyA1 := &RemoteProxy{AID: NewAID(), Peer: peerA}
	proxyA2 := &RemoteProxy{AID: NewAID(), Peer: peerA}
	proxyB := &RemoteProxy{AID: NewAID(), Peer: peerB}
	r.PutRemote(proxyA1)
	r.PutRemote(proxyA2)
	r.PutRemote(proxyB)

	r.ForgetPeer(peerA)

	_, ok := r.Remote(proxyA1.AID)
	assert.False(t, ok)
	_, ok = r.Remote(proxyA2.AID)
	assert.False(t, ok)

	got, ok := r.Remote(proxyB.AID)
	require.True(t, ok)
	assert.Same(t, proxyB, got)
}
