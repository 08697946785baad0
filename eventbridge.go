package bleu

import (
	"bleu/internal/transport"
)

// drainEvents is the Event Bridge's single-consumer loop over one Host's
// event stream (§4.3 "Event Bridge": "Runs in a single-consumer context").
// System.Start spawns one of these per non-nil Host; each dispatches to
// the same handlers below, so state mutation is still serialized per Host
// but two Hosts (peripheral + central) run independent consumers — exactly
// the "per session" scoping §5 describes, since a given peer's events all
// arrive from exactly one of the two streams.
func (s *System) drainEvents(events <-chan Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case <-s.done:
			return
		}
	}
}

func (s *System) handleEvent(ev Event) {
	switch ev.Kind {
	case EventStateChanged:
		s.handleStateChanged(ev)
	case EventPeripheralDiscovered:
		// Discover consumes ScanForPeripherals' own channel directly
		// (§4.2 "scan_for_peripherals ... cold stream"); nothing to do here.
	case EventPeripheralConnected:
		if sess, ok := s.sessions.get(ev.Peer); ok {
			sess.setState(Connected)
		}
	case EventPeripheralDisconnected:
		s.handlePeripheralDisconnected(ev)
	case EventServiceDiscovered:
		if sess, ok := s.sessions.get(ev.Peer); ok {
			sess.setState(ServicesResolved)
		}
	case EventCharacteristicValueUpdated:
		s.handleCharacteristicValueUpdated(ev)
	case EventNotificationStateChanged:
		s.handleNotificationStateChanged(ev)
	case EventWriteRequestReceived:
		s.handleWriteRequestReceived(ev)
	case EventReadRequestReceived:
		// write|notify only GATT layout (§6); nothing to serve for reads.
	case EventCentralSubscribed:
		s.handleCentralSubscribed(ev)
	case EventCentralUnsubscribed:
		if sess, ok := s.sessions.get(ev.Central); ok {
			sess.setSubscribed(ev.Char, false)
		}
	}
}

func (s *System) handleStateChanged(ev Event) {
	wasOn := s.ready.Load()
	nowOn := ev.State == StatePoweredOn
	s.ready.Store(nowOn)
	if wasOn && !nowOn {
		s.calls.CompleteAll(failureResponse(Header{}, ErrPoweredOff{}))
	}
}

func (s *System) handlePeripheralDisconnected(ev Event) {
	sess, ok := s.sessions.get(ev.Peer)
	if !ok {
		return
	}
	sess.setState(Disconnected)
	var failure RuntimeError = ErrPeerUnreachable{Peer: ev.Peer}
	if ev.Err != nil {
		failure = ErrTransportFailed{Reason: ev.Err.Error()}
	}
	s.calls.CompleteAllForPeer(ev.Peer, failureResponse(Header{}, failure))
	s.instances.ForgetPeer(ev.Peer)
}

// handleCharacteristicValueUpdated is the central-role path: notifications
// from a connected peripheral carry Response envelopes; ATT errors carry
// no bytes at all (§4.3 "Event Bridge").
func (s *System) handleCharacteristicValueUpdated(ev Event) {
	if ev.Err != nil {
		s.routeATTError(ev.Peer, ev.Err)
		return
	}
	if !ev.HasValue {
		return
	}
	full, ok := s.feedTransport(transport.PeerID(ev.Peer), ev.Value)
	if !ok {
		return
	}
	decoded, err := DecodeEnvelope(full)
	if err != nil {
		s.log.WithError(err).Debug("bleu: envelope decode failed")
		return
	}
	resp, ok := decoded.(Response)
	if !ok {
		// A central characteristic only ever carries Responses; an
		// Invocation here is a protocol violation, dropped silently.
		return
	}
	s.routeResponse(resp)
}

// feedTransport wraps Transport.Feed, mirroring its CRC/protocol drop
// counters into s.metrics so System.Metrics().DroppedCRC()/DroppedProtocol()
// (SPEC_FULL.md "SUPPLEMENTED FEATURES") actually reflect real traffic
// instead of reading zero forever.
func (s *System) feedTransport(peer transport.PeerID, raw []byte) ([]byte, bool) {
	full, outcome := s.transport.Feed(peer, raw)
	switch outcome {
	case transport.FeedDroppedCRC:
		s.metrics.droppedCRC.Add(1)
		return nil, false
	case transport.FeedDroppedProtocol:
		s.metrics.droppedProtocol.Add(1)
		return nil, false
	case transport.FeedComplete:
		return full, true
	default: // FeedIncomplete
		return nil, false
	}
}

// routeResponse wakes the Call slot matching resp's call id, or drops it
// as stale if no such slot exists (§3 invariant 7, §8 property 5).
func (s *System) routeResponse(resp Response) {
	slot, ok := s.calls.Get(resp.Header.CallID)
	if !ok {
		s.metrics.staleResponses.Add(1)
		return
	}
	s.calls.Remove(resp.Header.CallID)
	slot.complete(resp)
}

// routeATTError fails the oldest pending call for peer, FIFO, per §4.3 and
// §7 ("Host ATT error during a pending write → fails the oldest pending
// call for that peer"); an error with no pending calls left is stale and
// dropped (§8 property 6).
func (s *System) routeATTError(peer AID, attErr error) {
	ok := s.calls.CompleteOldestForPeer(peer, failureResponse(Header{}, ErrTransportFailed{Reason: attErr.Error()}))
	if !ok {
		s.metrics.staleATTErrors.Add(1)
	}
}

// handleNotificationStateChanged advances a central-role session to Ready
// once every method characteristic of its resolved service has
// subscriptions enabled (§4.3 "NotificationStateChanged(enabled=true) on
// the RPC characteristic → Ready"; generalized here to "every RPC
// characteristic", since the GATT layout has one per method rather than a
// single shared one — see DESIGN.md).
func (s *System) handleNotificationStateChanged(ev Event) {
	sess, ok := s.sessions.get(ev.Peer)
	if !ok {
		return
	}
	sess.setSubscribed(ev.Char, ev.Enabled)
	if !ev.Enabled {
		if sess.State() == Ready {
			sess.setState(ServicesResolved)
		}
		return
	}
	proxy, ok := s.instances.Remote(remoteProxyAIDForPeer(s, ev.Peer))
	if !ok {
		return
	}
	allSubscribed := true
	for _, md := range proxy.Methods.Methods() {
		if !sess.isSubscribed(md.CharUUID) {
			allSubscribed = false
			break
		}
	}
	if allSubscribed {
		sess.setState(Ready)
	}
}

// remoteProxyAIDForPeer looks up the single RemoteProxy registered for
// peer. The Instance Registry indexes by actor AID, not device/peer id, so
// this does a short linear scan; peers have at most a handful of resolved
// proxies at a time (one per discover/connect call) so this stays cheap.
func remoteProxyAIDForPeer(s *System, peer AID) AID {
	var found AID
	s.instances.remote.Range(func(id AID, p *RemoteProxy) bool {
		if p.Peer == peer {
			found = id
			return false
		}
		return true
	})
	return found
}

// handleWriteRequestReceived is the peripheral-role path: a central wrote
// Invocation fragment bytes to one of our method characteristics.
func (s *System) handleWriteRequestReceived(ev Event) {
	full, ok := s.feedTransport(transport.PeerID(ev.Central), ev.Value)
	if !ok {
		return
	}
	decoded, err := DecodeEnvelope(full)
	if err != nil {
		s.log.WithError(err).Debug("bleu: invocation decode failed")
		return
	}
	inv, ok := decoded.(Invocation)
	if !ok {
		return
	}
	s.serveInvocation(ev.Central, ev.Char, inv)
}

func (s *System) serveInvocation(central AID, char [16]byte, inv Invocation) {
	resp := s.runHandler(char, inv)
	s.sendResponse(central, char, resp)
}

// runHandler dispatches inv to its local handler. It confirms via the
// MethodRegistry that char — the characteristic the write actually arrived
// on — is the one published for inv.Target (§4 GATT layout: one
// characteristic per method), rather than trusting the wire-carried Target
// string alone; a central writing a given method's invocation bytes to the
// wrong characteristic is a protocol violation, not just a lookup miss.
func (s *System) runHandler(char [16]byte, inv Invocation) Response {
	header := Header{CallID: inv.Header.CallID, Sender: inv.Header.Recipient, HasSender: true, Recipient: inv.Header.Sender}
	inst, ok := s.instances.Local(inv.Header.Recipient)
	if !ok {
		return failureResponse(header, ErrMethodNotFound{Method: inv.Target})
	}
	if md, ok := inst.Methods.ByCharacteristic(char); !ok || md.Name != inv.Target {
		return failureResponse(header, ErrMethodNotFound{Method: inv.Target})
	}
	handler, ok := inst.Handlers[inv.Target]
	if !ok {
		return failureResponse(header, ErrMethodNotFound{Method: inv.Target})
	}
	result, void, err := handler(inv.Arguments)
	if err != nil {
		if rt, ok := err.(RuntimeError); ok {
			return failureResponse(header, rt)
		}
		return failureResponse(header, ErrOther{Message: err.Error()})
	}
	if void {
		return voidResponse(header)
	}
	return successResponse(header, result)
}

// sendResponse fragments resp and queues each frame in the peer's outbox
// (§5 "Backpressure": fragments queue instead of blocking the Event
// Bridge while a peer's write queue is full), then ensures a drain pump is
// running to notify them with the §4.3 retry schedule.
func (s *System) sendResponse(central AID, char [16]byte, resp Response) {
	data := EncodeResponse(resp)
	frames := s.transport.FragmentFor(transport.PeerID(central), transport.CorrelationID(resp.Header.CallID), data)

	po := s.out.forPeer(central)
	for _, f := range frames {
		if po.push(f.Encode()) {
			s.log.WithField("peer", central).Warn("bleu: response outbox full, dropped a frame")
		}
	}
	s.ensurePump(central, char, resp.Header)
}

// ensurePump starts (if not already running) the one drain goroutine that
// notifies central with whatever frames sit in its outbox, retrying each
// per §4.3's {0,50ms,100ms} schedule. Only one pump runs per peer at a
// time, matching the teacher's single writeLoop-per-connection shape
// (`peer_common.go`) generalized to per-peer instead of process-global.
func (s *System) ensurePump(central AID, char [16]byte, header Header) {
	po := s.out.forPeer(central)
	if !po.startPump() {
		return
	}
	go func() {
		for {
			frames := po.drainAll()
			if len(frames) == 0 {
				po.stopPump()
				if po.isEmpty() || !po.startPump() {
					return
				}
				continue
			}
			for _, raw := range frames {
				err := sendWithRetry(
					s.cfg.maxRetries,
					func(attempt int) error {
						if attempt > 0 {
							s.metrics.retriedResponses.Add(1)
						}
						return s.peripheral.UpdateValue(char, raw, []AID{central})
					},
					func(lastErr error) {
						s.metrics.exhaustedRetries.Add(1)
						s.sendImmediateFailure(central, char, header, lastErr)
					},
				)
				if err != nil {
					po.stopPump()
					return
				}
			}
		}
	}()
}

func (s *System) sendImmediateFailure(central AID, char [16]byte, header Header, cause error) {
	failure := failureResponse(header, ErrTransportFailed{Reason: cause.Error()})
	data := EncodeResponse(failure)
	frames := s.transport.FragmentFor(transport.PeerID(central), transport.CorrelationID(header.CallID), data)
	if len(frames) == 0 {
		return
	}
	_ = s.peripheral.UpdateValue(char, frames[0].Encode(), []AID{central})
}

func (s *System) handleCentralSubscribed(ev Event) {
	sess := s.sessions.getOrCreate(ev.Central)
	sess.setSubscribed(ev.Char, true)
	// PeripheralHost exposes no per-central MTU query (§4.1's Peripheral
	// Host operations list has none), so negotiate at the conservative
	// floor; a future Host extension could plumb the real MTU through
	// CentralSubscribed if a platform provides it.
	s.transport.Negotiate(transport.PeerID(ev.Central), transport.MinMaxPayload)
}
