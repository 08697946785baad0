package bleu

import (
	"sync"

	"github.com/cornelk/hashmap"
)

// Handler serves one method invocation: it returns either a success payload
// (void=false), no payload at all (void=true, for OneWayNotify methods), or
// an error that becomes Response.Failure (§4.4 "Method Registry").
type Handler func(args []byte) (result []byte, void bool, err error)

// Instance is one locally registered actor: its service descriptor plus the
// handlers that serve Invocations addressed to it, keyed by method name
// (§3 "Instance").
type Instance struct {
	AID      AID
	Service  ServiceDescriptor
	Methods  *MethodRegistry
	Handlers map[string]Handler
}

// RemoteProxy is what the Instance Registry hands back for an AID
// discovered on a remote peer: enough to route a RemoteCall without
// re-resolving characteristics every time (§4.4 "Discover").
type RemoteProxy struct {
	AID     AID
	Peer    AID
	Service ServiceDescriptor
	Methods *MethodRegistry
}

// InstanceRegistry is the Instance Registry (§3, §4.4): local actors are
// looked up synchronously from arbitrary goroutines handling inbound
// Invocations, so they sit behind a mutex; remote proxies are written by
// Discover/Connect on the caller's goroutine after DiscoverServices/
// DiscoverCharacteristics, read (and dropped on disconnect) by the Event
// Bridge, and read far more often than written, which is the access
// pattern cornelk/hashmap targets.
type InstanceRegistry struct {
	mu    sync.RWMutex
	local map[AID]*Instance

	remote *hashmap.Map[AID, *RemoteProxy]
}

func NewInstanceRegistry() *InstanceRegistry {
	return &InstanceRegistry{
		local:  make(map[AID]*Instance),
		remote: hashmap.New[AID, *RemoteProxy](),
	}
}

func (r *InstanceRegistry) RegisterLocal(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[inst.AID] = inst
}

func (r *InstanceRegistry) UnregisterLocal(id AID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.local, id)
}

func (r *InstanceRegistry) Local(id AID) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.local[id]
	return inst, ok
}

// LocalInstances returns every locally registered instance, in no
// particular order.
func (r *InstanceRegistry) LocalInstances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.local))
	for _, inst := range r.local {
		out = append(out, inst)
	}
	return out
}

func (r *InstanceRegistry) PutRemote(p *RemoteProxy) {
	r.remote.Set(p.AID, p)
}

func (r *InstanceRegistry) Remote(id AID) (*RemoteProxy, bool) {
	return r.remote.Get(id)
}

// ForgetPeer drops every remote proxy discovered on peer, e.g. on
// disconnect (§4.1 "PeripheralDisconnected").
func (r *InstanceRegistry) ForgetPeer(peer AID) {
	var stale []AID
	r.remote.Range(func(id AID, p *RemoteProxy) bool {
		if p.Peer == peer {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		r.remote.Delete(id)
	}
}
