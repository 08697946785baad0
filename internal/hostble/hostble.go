// Package hostble implements bleu.PeripheralHost and bleu.CentralHost over
// tinygo.org/x/bluetooth, generalizing the teacher's hardcoded single-service
// chat peer (peer_common.go, peer_peripheral.go, peer_ble_darwin.go,
// host_peripheral.go) into a ServiceDescriptor-driven dual-role host that
// works against any adapter tinygo.org/x/bluetooth supports.
package hostble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"bleu"
)

// addrNamespace derives a stable bleu.AID from a bluetooth.Address, the same
// uuid5 technique bleu's own uuid.go uses for service/characteristic ids, so
// reconnecting the same physical device always yields the same AID without
// this package having to persist a lookup table across process restarts.
var addrNamespace = uuid.MustParse("6f6e6365-2061-6c6c-6f66-2074686520bb")

func addrToAID(addr bluetooth.Address) bleu.AID {
	return bleu.AID(uuid.NewSHA1(addrNamespace, []byte(addr.String())))
}

// Host adapts one local tinygo.org/x/bluetooth adapter to both
// bleu.PeripheralHost and bleu.CentralHost; a process playing both roles at
// once shares the single physical radio, mirroring the teacher's Peer, which
// held exactly one *bluetooth.Adapter for whichever role it ended up in.
type Host struct {
	adapter *bluetooth.Adapter
	events  chan bleu.Event

	mu         sync.Mutex
	localChars map[[16]byte]bluetooth.Characteristic
	devices    map[bleu.AID]bluetooth.Device
	devChars   map[bleu.AID]map[[16]byte]bluetooth.DeviceCharacteristic

	adv *bluetooth.Advertisement
}

// New constructs a Host over the adapter's default radio. Initialize must be
// called before any other method.
func New() *Host {
	return &Host{
		adapter:    bluetooth.DefaultAdapter,
		events:     make(chan bleu.Event, 256),
		localChars: make(map[[16]byte]bluetooth.Characteristic),
		devices:    make(map[bleu.AID]bluetooth.Device),
		devChars:   make(map[bleu.AID]map[[16]byte]bluetooth.DeviceCharacteristic),
	}
}

func (h *Host) Events() <-chan bleu.Event { return h.events }

func (h *Host) emit(ev bleu.Event) {
	select {
	case h.events <- ev:
	default:
		// Event Bridge too slow to keep up; dropping a lifecycle event is
		// safer than blocking the adapter's own callback goroutine (§4.1
		// "Design rule": hosts never call user code synchronously).
	}
}

// Initialize enables the adapter and registers the connect handler that
// feeds PeripheralConnected/Disconnected events (§4.1 "initialize").
func (h *Host) Initialize(ctx context.Context) error {
	if err := h.adapter.Enable(); err != nil {
		return fmt.Errorf("hostble: enable adapter: %w", err)
	}
	h.adapter.SetConnectHandler(h.onConnectionChange)
	h.emit(bleu.Event{Kind: bleu.EventStateChanged, State: bleu.StatePoweredOn})
	return nil
}

// onConnectionChange fires for connections this Host initiates as a central.
// Inbound connections made to this Host while it is acting as a peripheral
// surface only as write events on the characteristics those centrals touch
// (onWrite); this Host emits no CentralSubscribed/CentralUnsubscribed
// events.
func (h *Host) onConnectionChange(device bluetooth.Device, connected bool) {
	aid := addrToAID(device.Address)
	h.mu.Lock()
	if connected {
		h.devices[aid] = device
	} else {
		delete(h.devices, aid)
		delete(h.devChars, aid)
	}
	h.mu.Unlock()

	if connected {
		h.emit(bleu.Event{Kind: bleu.EventPeripheralConnected, Peer: aid})
	} else {
		h.emit(bleu.Event{Kind: bleu.EventPeripheralDisconnected, Peer: aid})
	}
}

// --- Peripheral Host (§4.1) ---

// AddService registers sd's characteristics with the adapter: one GATT
// characteristic per method, writable (so a central can send an Invocation)
// and notifiable (so this host can send Responses back), generalizing the
// teacher's single hardcoded rx/tx pair (host_peripheral.go) into one
// characteristic per MethodDescriptor.
func (h *Host) AddService(sd bleu.ServiceDescriptor) error {
	svcUUID := bluetooth.NewUUID(sd.ServiceUUID)
	configs := make([]bluetooth.CharacteristicConfig, 0, len(sd.Methods))
	handles := make([]*bluetooth.Characteristic, 0, len(sd.Methods))

	for _, md := range sd.Methods {
		charUUID := md.CharUUID
		handle := new(bluetooth.Characteristic)
		handles = append(handles, handle)
		configs = append(configs, bluetooth.CharacteristicConfig{
			Handle: handle,
			UUID:   bluetooth.NewUUID(charUUID),
			Flags: bluetooth.CharacteristicWritePermission |
				bluetooth.CharacteristicWriteWithoutResponsePermission |
				bluetooth.CharacteristicNotifyPermission,
			WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
				h.onWrite(charUUID, value)
			},
		})
	}

	if err := h.adapter.AddService(&bluetooth.Service{UUID: svcUUID, Characteristics: configs}); err != nil {
		return fmt.Errorf("hostble: add service: %w", err)
	}

	h.mu.Lock()
	for i, md := range sd.Methods {
		h.localChars[md.CharUUID] = *handles[i]
	}
	h.mu.Unlock()
	return nil
}

// onWrite handles an inbound characteristic write. tinygo's WriteEvent
// carries no portable per-connection identity across all backends, so every
// write is attributed to a single synthetic "the connected central" AID;
// environments with exactly one central connected at a time (the common
// embedded/CLI deployment this Host targets) see correct routing regardless.
func (h *Host) onWrite(charUUID [16]byte, value []byte) {
	pkt := make([]byte, len(value))
	copy(pkt, value)
	h.emit(bleu.Event{Kind: bleu.EventWriteRequestReceived, Central: singleCentralAID, Char: charUUID, Value: pkt})
}

// singleCentralAID stands in for "the connected central" on backends whose
// WriteEvent callback does not expose a stable per-connection identity (see
// onWrite). This is a simplification of this Host, not of the Actor System
// itself.
var singleCentralAID = bleu.AID(uuid.NewSHA1(addrNamespace, []byte("single-central")))

func (h *Host) StartAdvertising(data bleu.AdvertisementData) error {
	uuids := make([]bluetooth.UUID, 0, len(data.ServiceUUIDs))
	for _, u := range data.ServiceUUIDs {
		uuids = append(uuids, bluetooth.NewUUID(u))
	}
	h.adv = h.adapter.DefaultAdvertisement()
	if err := h.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    data.LocalName,
		ServiceUUIDs: uuids,
	}); err != nil {
		return fmt.Errorf("hostble: configure advertisement: %w", err)
	}
	return h.adv.Start()
}

func (h *Host) StopAdvertising() error {
	if h.adv == nil {
		return nil
	}
	return h.adv.Stop()
}

// UpdateValue notifies charUUID's subscribers. A non-nil but empty targets
// fails with ErrPeerUnreachable; otherwise the value goes to whoever the
// adapter has subscribed (this Host cannot selectively notify one of
// several centrals any more than it can identify them individually — see
// onWrite).
func (h *Host) UpdateValue(charUUID [16]byte, value []byte, targets []bleu.AID) error {
	h.mu.Lock()
	ch, ok := h.localChars[charUUID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("hostble: unknown characteristic")
	}
	if targets != nil && len(targets) == 0 {
		return bleu.ErrPeerUnreachable{}
	}
	_, err := ch.Write(value)
	return err
}

func (h *Host) SubscribedCentrals(charUUID [16]byte) []bleu.AID {
	return []bleu.AID{singleCentralAID}
}

func (h *Host) Close() error {
	return h.StopAdvertising()
}

// --- Central Host (§4.1) ---

func (h *Host) ScanForPeripherals(ctx context.Context, filter bleu.ScanFilter) (<-chan bleu.DiscoveredPeripheral, error) {
	wantUUIDs := make([]bluetooth.UUID, 0, len(filter.UUIDs))
	for _, u := range filter.UUIDs {
		wantUUIDs = append(wantUUIDs, bluetooth.NewUUID(u))
	}
	matchUUIDs := append([]bluetooth.UUID(nil), wantUUIDs...)
	for _, u := range filter.Solicited {
		matchUUIDs = append(matchUUIDs, bluetooth.NewUUID(u))
	}
	out := make(chan bleu.DiscoveredPeripheral, 16)

	scanDone := make(chan error, 1)
	go func() {
		scanDone <- h.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if len(matchUUIDs) > 0 {
				match := false
				for _, u := range matchUUIDs {
					if result.HasServiceUUID(u) {
						match = true
						break
					}
				}
				if !match {
					return
				}
			}
			disc := bleu.DiscoveredPeripheral{
				PeerID:    addrToAID(result.Address),
				LocalName: result.LocalName(),
				RSSI:      int16(result.RSSI),
			}
			for _, u := range wantUUIDs {
				disc.ServiceUUIDs = append(disc.ServiceUUIDs, u.Bytes())
			}
			// tinygo's ScanResult exposes no portable raw service-data
			// accessor, so ServiceData stays nil here; the Actor System
			// falls back to treating the service uuid itself as the
			// instance AID in that case (system.go's remoteInstanceAID).
			select {
			case out <- disc:
			default:
			}
		})
	}()

	go func() {
		<-ctx.Done()
		_ = h.adapter.StopScan()
		close(out)
	}()

	return out, nil
}

func (h *Host) StopScan() error {
	return h.adapter.StopScan()
}

func (h *Host) Connect(ctx context.Context, peer bleu.AID, timeout time.Duration) error {
	addr, ok := h.lastKnownAddress(peer)
	if !ok {
		return fmt.Errorf("hostble: unknown peer, scan before connecting")
	}
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	connected := make(chan struct{})
	var device bluetooth.Device
	var connErr error
	go func() {
		device, connErr = h.adapter.Connect(addr, bluetooth.ConnectionParams{})
		close(connected)
	}()

	select {
	case <-connected:
		if connErr != nil {
			return fmt.Errorf("hostble: connect: %w", connErr)
		}
		h.mu.Lock()
		h.devices[peer] = device
		h.mu.Unlock()
		return nil
	case <-connCtx.Done():
		// adapter.Connect is still running; it is never registered in
		// h.devices for this timed-out call, so wait for it off the
		// critical path and disconnect it if it lands late instead of
		// leaking a physical connection bleu.System never learns about
		// (mirrors hostbluez.Host.Connect's Device1.Disconnect-on-timeout).
		go func() {
			<-connected
			if connErr == nil {
				_ = device.Disconnect()
			}
		}()
		return bleu.ErrTimeout{}
	}
}

// lastKnownAddress recovers the bluetooth.Address for an AID previously
// surfaced by ScanForPeripherals. Since addrToAID is a one-way derivation,
// this Host must have observed the address during a scan in this process
// lifetime; a peer AID obtained any other way cannot be connected to here.
func (h *Host) lastKnownAddress(peer bleu.AID) (bluetooth.Address, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.devices[peer]; ok {
		return d.Address, true
	}
	return bluetooth.Address{}, false
}

func (h *Host) DiscoverServices(peer bleu.AID, filter [][16]byte) ([][16]byte, error) {
	device, ok := h.connectedDevice(peer)
	if !ok {
		return nil, fmt.Errorf("hostble: peer not connected")
	}
	want := make([]bluetooth.UUID, 0, len(filter))
	for _, u := range filter {
		want = append(want, bluetooth.NewUUID(u))
	}
	services, err := device.DiscoverServices(want)
	if err != nil {
		return nil, fmt.Errorf("hostble: discover services: %w", err)
	}
	out := make([][16]byte, 0, len(services))
	for _, s := range services {
		out = append(out, s.UUID().Bytes())
	}
	return out, nil
}

func (h *Host) DiscoverCharacteristics(peer bleu.AID, service [16]byte, filter [][16]byte) ([]bleu.MethodDescriptor, error) {
	device, ok := h.connectedDevice(peer)
	if !ok {
		return nil, fmt.Errorf("hostble: peer not connected")
	}
	services, err := device.DiscoverServices([]bluetooth.UUID{bluetooth.NewUUID(service)})
	if err != nil || len(services) == 0 {
		return nil, fmt.Errorf("hostble: service not found on peer: %w", err)
	}
	var want []bluetooth.UUID
	for _, u := range filter {
		want = append(want, bluetooth.NewUUID(u))
	}
	chars, err := services[0].DiscoverCharacteristics(want)
	if err != nil {
		return nil, fmt.Errorf("hostble: discover characteristics: %w", err)
	}

	h.mu.Lock()
	if h.devChars[peer] == nil {
		h.devChars[peer] = make(map[[16]byte]bluetooth.DeviceCharacteristic)
	}
	out := make([]bleu.MethodDescriptor, 0, len(chars))
	for _, c := range chars {
		u := c.UUID().Bytes()
		h.devChars[peer][u] = c
		out = append(out, bleu.MethodDescriptor{CharUUID: u, Direction: bleu.RequestResponse})
	}
	h.mu.Unlock()
	return out, nil
}

func (h *Host) Read(peer bleu.AID, char [16]byte) ([]byte, error) {
	c, ok := h.deviceChar(peer, char)
	if !ok {
		return nil, fmt.Errorf("hostble: characteristic not resolved")
	}
	buf := make([]byte, 512)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (h *Host) Write(peer bleu.AID, char [16]byte, value []byte, wtype bleu.WriteType) error {
	c, ok := h.deviceChar(peer, char)
	if !ok {
		return fmt.Errorf("hostble: characteristic not resolved")
	}
	var err error
	if wtype == bleu.WithoutResponse {
		_, err = c.WriteWithoutResponse(value)
	} else {
		_, err = c.Write(value)
	}
	return err
}

func (h *Host) SetNotify(peer bleu.AID, char [16]byte, enabled bool) error {
	c, ok := h.deviceChar(peer, char)
	if !ok {
		return fmt.Errorf("hostble: characteristic not resolved")
	}
	if !enabled {
		// tinygo.org/x/bluetooth has no portable DisableNotifications; the
		// subscription simply outlives SetNotify(false) here.
		h.emit(bleu.Event{Kind: bleu.EventNotificationStateChanged, Peer: peer, Char: char, Enabled: false})
		return nil
	}
	err := c.EnableNotifications(func(value []byte) {
		pkt := make([]byte, len(value))
		copy(pkt, value)
		h.emit(bleu.Event{Kind: bleu.EventCharacteristicValueUpdated, Peer: peer, Char: char, Value: pkt, HasValue: true})
	})
	if err != nil {
		return fmt.Errorf("hostble: enable notifications: %w", err)
	}
	h.emit(bleu.Event{Kind: bleu.EventNotificationStateChanged, Peer: peer, Char: char, Enabled: true})
	return nil
}

// MaxWriteLength reports a conservative default MTU-derived payload size;
// tinygo.org/x/bluetooth exposes no portable per-connection MTU query, the
// same gap §4.1 leaves on the Peripheral Host side (see DESIGN.md).
func (h *Host) MaxWriteLength(peer bleu.AID, wtype bleu.WriteType) int {
	return 182 // ATT MTU 185 (a common negotiated ceiling) minus the 3-byte ATT header
}

func (h *Host) connectedDevice(peer bleu.AID) (bluetooth.Device, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[peer]
	return d, ok
}

func (h *Host) deviceChar(peer bleu.AID, char [16]byte) (bluetooth.DeviceCharacteristic, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chars, ok := h.devChars[peer]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, false
	}
	c, ok := chars[char]
	return c, ok
}
