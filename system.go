package bleu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"bleu/internal/transport"
)

// connectTimeout bounds a single Connect attempt issued by Discover/Connect.
const connectTimeout = 10 * time.Second

// System is the Actor System (§4.3): it owns both Hosts, the Event Bridge,
// the Call Table, and the Instance Registry, constructed explicitly with no
// package-level globals (§9 "Singletons" — the anti-pattern the teacher's
// `BLEManager`/`darwinAdvState` package state fell into is deliberately not
// reproduced here).
type System struct {
	cfg     config
	selfAID AID
	log     *logrus.Logger

	peripheral PeripheralHost
	central    CentralHost

	transport *transport.Transport
	calls     *CallTable
	instances *InstanceRegistry
	sessions  *sessionTable
	metrics   *Metrics
	out       *outbox

	ready atomic.Bool

	sweep     *cron.Cron
	done      chan struct{}
	closeOnce sync.Once
}

// NewSystem constructs a System over the given Hosts. Either Host may be
// nil if the process only plays one role (e.g. a central-only tool never
// calls StartAdvertising).
func NewSystem(peripheral PeripheralHost, central CentralHost, opts ...Option) *System {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &System{
		cfg:        cfg,
		selfAID:    NewAID(),
		log:        cfg.logger,
		peripheral: peripheral,
		central:    central,
		transport:  transport.New(cfg.reassemblyDeadline),
		calls:      NewCallTable(),
		instances:  NewInstanceRegistry(),
		sessions:   newSessionTable(),
		metrics:    newMetrics(),
		out:        newOutbox(),
		done:       make(chan struct{}),
	}
	return s
}

// Start brings the System's background machinery up: both Hosts'
// Initialize (where applicable), the Event Bridge's event-draining
// goroutines, and the periodic sweep (call-deadline expiry, reassembly
// pruning, idle session reaping — SPEC_FULL.md "DOMAIN STACK", `cron/v3`).
func (s *System) Start(ctx context.Context) error {
	if s.peripheral != nil {
		if err := s.peripheral.Initialize(ctx); err != nil {
			return ErrTransportFailed{Reason: err.Error()}
		}
		go s.drainEvents(s.peripheral.Events())
	}
	if s.central != nil {
		if err := s.central.Initialize(ctx); err != nil {
			return ErrTransportFailed{Reason: err.Error()}
		}
		go s.drainEvents(s.central.Events())
	}

	s.sweep = cron.New()
	if _, err := s.sweep.AddFunc("@every 25ms", s.runFastSweep); err != nil {
		return fmt.Errorf("bleu: scheduling fast sweep: %w", err)
	}
	if _, err := s.sweep.AddFunc("@every 1s", s.runSlowSweep); err != nil {
		return fmt.Errorf("bleu: scheduling slow sweep: %w", err)
	}
	s.sweep.Start()
	return nil
}

func (s *System) runFastSweep() {
	now := time.Now()
	if n := s.calls.ExpireDeadlines(now); n > 0 {
		s.metrics.expiredCalls.Add(uint64(n))
	}
	if n := s.transport.PruneExpired(now); n > 0 {
		s.log.WithField("dropped", n).Debug("bleu: pruned expired partial messages")
	}
}

func (s *System) runSlowSweep() {
	for _, sess := range s.sessions.all() {
		reassemblyEmpty := !s.transport.HasPending(transport.PeerID(sess.peer))
		if sess.idleAndEmpty(s.cfg.idleGraceWindow, reassemblyEmpty) {
			s.sessions.remove(sess.peer)
			s.transport.Remove(transport.PeerID(sess.peer))
			s.out.remove(sess.peer)
		}
	}
}

// Close stops advertising/scanning, closes both Hosts, and drains the Call
// Table with Cancelled. It does not disconnect peers or move sessions to
// Disconnected itself (SPEC_FULL.md "SUPPLEMENTED FEATURES" —
// `System.Close`, required by §3's lifecycle rules but not itself named in
// §4.3).
func (s *System) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.sweep != nil {
			s.sweep.Stop()
		}
		if s.central != nil {
			_ = s.central.StopScan()
			if err := s.central.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if s.peripheral != nil {
			_ = s.peripheral.StopAdvertising()
			if err := s.peripheral.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		s.calls.CompleteAll(failureResponse(Header{}, ErrCancelled{}))
	})
	return firstErr
}

// StartAdvertising maps td to a ServiceDescriptor, registers handlers as a
// local Instance, and begins advertising (§4.3 "Actor System — public
// operations"). It fails with PoweredOff if the Peripheral Host is not
// Ready at call time.
func (s *System) StartAdvertising(localName string, td TypeDescriptor, handlers map[string]Handler) (AID, error) {
	if s.peripheral == nil {
		return NilAID, ErrNotPermitted{}
	}
	if !s.ready.Load() {
		return NilAID, ErrPoweredOff{}
	}
	sd := MapService(td)
	methods, err := NewMethodRegistry(sd)
	if err != nil {
		return NilAID, ErrEncodeFailed{Reason: err.Error()}
	}
	if err := s.peripheral.AddService(sd); err != nil {
		return NilAID, ErrTransportFailed{Reason: err.Error()}
	}

	aid := NewAID()
	inst := &Instance{AID: aid, Service: sd, Methods: methods, Handlers: handlers}
	s.instances.RegisterLocal(inst)

	adv := AdvertisementData{
		LocalName:    localName,
		ServiceUUIDs: [][16]byte{sd.ServiceUUID},
		ServiceData:  map[[16]byte][]byte{sd.ServiceUUID: aid[:]},
	}
	if err := s.peripheral.StartAdvertising(adv); err != nil {
		s.instances.UnregisterLocal(aid)
		return NilAID, ErrTransportFailed{Reason: err.Error()}
	}
	return aid, nil
}

// Discover scans for td's service uuid until timeout, connecting to and
// resolving every distinct peripheral seen (§4.3 "discover").
func (s *System) Discover(ctx context.Context, td TypeDescriptor, timeout time.Duration) ([]*RemoteProxy, error) {
	if s.central == nil {
		return nil, ErrNotPermitted{}
	}
	sd := MapService(td)
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := s.central.ScanForPeripherals(scanCtx, ScanFilter{UUIDs: [][16]byte{sd.ServiceUUID}})
	if err != nil {
		return nil, ErrTransportFailed{Reason: err.Error()}
	}
	defer s.central.StopScan()

	var proxies []*RemoteProxy
	seen := make(map[AID]bool)
	for {
		select {
		case <-scanCtx.Done():
			return proxies, nil
		case disc, ok := <-ch:
			if !ok {
				return proxies, nil
			}
			if seen[disc.PeerID] {
				continue
			}
			seen[disc.PeerID] = true
			proxy, err := s.connectAndResolve(scanCtx, disc, sd)
			if err == nil {
				proxies = append(proxies, proxy)
			} else {
				s.log.WithError(err).WithField("peer", disc.PeerID).Debug("bleu: discover connect failed")
			}
		}
	}
}

// Connect resolves a single, already-known peer against td, without
// scanning (§4.3 "connect(peer_id, type_description)").
func (s *System) Connect(ctx context.Context, peer AID, td TypeDescriptor) (*RemoteProxy, error) {
	if s.central == nil {
		return nil, ErrNotPermitted{}
	}
	sd := MapService(td)
	return s.connectAndResolve(ctx, DiscoveredPeripheral{PeerID: peer}, sd)
}

func (s *System) connectAndResolve(ctx context.Context, disc DiscoveredPeripheral, sd ServiceDescriptor) (*RemoteProxy, error) {
	peer := disc.PeerID
	sess := s.sessions.getOrCreate(peer)
	sess.setState(Connecting)

	if err := s.central.Connect(ctx, peer, connectTimeout); err != nil {
		sess.setState(Disconnected)
		return nil, ErrTransportFailed{Reason: err.Error()}
	}
	sess.setState(Connected)

	services, err := s.central.DiscoverServices(peer, [][16]byte{sd.ServiceUUID})
	if err != nil {
		return nil, ErrTransportFailed{Reason: err.Error()}
	}
	found := false
	for _, u := range services {
		if u == sd.ServiceUUID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrPeerUnreachable{Peer: peer}
	}

	chars, err := s.central.DiscoverCharacteristics(peer, sd.ServiceUUID, nil)
	if err != nil {
		return nil, ErrTransportFailed{Reason: err.Error()}
	}
	// Hosts see only characteristic uuids on the wire; names and directions
	// come from sd, matched by uuid.
	present := make(map[[16]byte]bool, len(chars))
	for _, c := range chars {
		present[c.CharUUID] = true
	}
	var resolved []MethodDescriptor
	for _, md := range sd.Methods {
		if present[md.CharUUID] {
			resolved = append(resolved, md)
		}
	}
	remoteSD := ServiceDescriptor{ServiceUUID: sd.ServiceUUID, Methods: resolved}
	methods, err := NewMethodRegistry(remoteSD)
	if err != nil {
		return nil, ErrEncodeFailed{Reason: err.Error()}
	}
	sess.setState(ServicesResolved)

	maxLen := s.central.MaxWriteLength(peer, WithResponse)
	s.transport.Negotiate(transport.PeerID(peer), maxLen)

	// The proxy must be registered before any SetNotify call below: each
	// call can deliver its EventNotificationStateChanged on another
	// goroutine immediately, and handleNotificationStateChanged looks the
	// proxy up by peer to decide whether every method characteristic is
	// now subscribed.
	remoteAID := remoteInstanceAID(disc, sd)
	proxy := &RemoteProxy{AID: remoteAID, Peer: peer, Service: remoteSD, Methods: methods}
	s.instances.PutRemote(proxy)

	for _, md := range chars {
		if err := s.central.SetNotify(peer, md.CharUUID, true); err != nil {
			return nil, ErrTransportFailed{Reason: err.Error()}
		}
	}

	return proxy, nil
}

// remoteInstanceAID recovers the advertising instance's AID from the
// advertisement's service data (§4.3 "StartAdvertising" embeds it there);
// if a peer was connected directly via Connect without a scan result
// carrying ServiceData (disc.ServiceData is nil), the service uuid itself
// is reinterpreted as the AID — a documented fallback, not a protocol
// guarantee, since one actor per advertised service is the only topology
// spec.md's discover flow assumes.
func remoteInstanceAID(disc DiscoveredPeripheral, sd ServiceDescriptor) AID {
	if raw, ok := disc.ServiceData[sd.ServiceUUID]; ok && len(raw) == 16 {
		var aid AID
		copy(aid[:], raw)
		return aid
	}
	return AID(sd.ServiceUUID)
}

// RemoteCall invokes method on proxy's remote instance and waits for its
// Response (§4.3 "remote_call"). void is true for a Void response; result
// is nil in that case. A non-nil RuntimeError is returned as err.
func (s *System) RemoteCall(ctx context.Context, proxy *RemoteProxy, method string, args []byte) (result []byte, void bool, err error) {
	sess, ok := s.sessions.get(proxy.Peer)
	if !ok || !sess.IsReady() {
		return nil, false, ErrPeerUnreachable{Peer: proxy.Peer}
	}
	md, ok := proxy.Methods.ByName(method)
	if !ok {
		return nil, false, ErrMethodNotFound{Method: method}
	}

	callID := NewCallID()
	header := Header{CallID: callID, Sender: s.selfAID, HasSender: true, Recipient: proxy.AID}
	data := EncodeInvocation(Invocation{Header: header, Target: method, Arguments: args})
	frames := s.transport.FragmentFor(transport.PeerID(proxy.Peer), transport.CorrelationID(callID), data)

	slot := newCallSlot(callID, proxy.Peer, time.Now().Add(s.cfg.callTimeout))
	s.calls.Register(slot)
	sess.trackOutbound(callID)

	for _, f := range frames {
		if werr := s.central.Write(proxy.Peer, md.CharUUID, f.Encode(), WithResponse); werr != nil {
			s.calls.Remove(callID)
			sess.untrackOutbound(callID)
			return nil, false, ErrTransportFailed{Reason: werr.Error()}
		}
	}

	select {
	case resp := <-slot.result:
		sess.untrackOutbound(callID)
		return responseOutcome(resp)
	case <-ctx.Done():
		_ = s.Cancel(callID)
		sess.untrackOutbound(callID)
		return nil, false, ErrCancelled{}
	case <-s.done:
		return nil, false, ErrPoweredOff{}
	}
}

func responseOutcome(resp Response) (result []byte, void bool, err error) {
	switch resp.Kind {
	case responseSuccess:
		return resp.Success, false, nil
	case responseVoid:
		return nil, true, nil
	case responseFailure:
		return nil, false, resp.Failure
	default:
		return nil, false, ErrDecodeFailed{Reason: "unknown response kind"}
	}
}

// Cancel removes call id's slot and completes its suspended caller with
// Cancelled (§4.3 "cancel"). It never retries or revokes bytes already
// handed to the host (§5 "Cancellation").
func (s *System) Cancel(callID CallID) error {
	slot, ok := s.calls.Get(callID)
	if !ok {
		return nil
	}
	s.calls.Remove(callID)
	if slot.complete(failureResponse(Header{CallID: callID}, ErrCancelled{})) {
		s.metrics.cancelledCalls.Add(1)
	}
	return nil
}

// UpdateValue forwards to the Peripheral Host unchanged (§4.3
// "update_value ... forwarded to the Peripheral Host").
func (s *System) UpdateValue(charUUID [16]byte, value []byte, targets []AID) error {
	if s.peripheral == nil {
		return ErrNotPermitted{}
	}
	if err := s.peripheral.UpdateValue(charUUID, value, targets); err != nil {
		return err
	}
	return nil
}

// Metrics exposes the hygiene counters for tests and observability
// (SPEC_FULL.md "SUPPLEMENTED FEATURES").
func (s *System) Metrics() *Metrics { return s.metrics }
