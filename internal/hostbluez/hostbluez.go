// Package hostbluez implements bleu.CentralHost over BlueZ's D-Bus API
// (Linux only), adapting the teacher's bluez/{adapter,bluez,client,scan}.go
// — which hardcoded one service and one rx/tx characteristic pair for a
// chat demo — into a ServiceDescriptor-driven client that resolves an
// arbitrary method characteristic set per MethodDescriptor.CharUUID.
//
// BlueZ exposes no portable peripheral/GATT-server role over this same
// client API (the teacher's peripheral side used tinygo's adapter instead,
// see host_peripheral.go), so this package only implements bleu.CentralHost;
// peripheral hosting lives in internal/hostble.
package hostbluez

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"bleu"
)

const (
	bluezDest     = "org.bluez"
	bluezRoot     = "/"
	adapterPrefix = "/org/bluez/"
)

// uuidToStr renders a raw 16-byte UUID the way BlueZ's D-Bus properties do.
func uuidToStr(b [16]byte) string {
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7],
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
}

// addrFromPath extracts a MAC address from a device object path
// (.../dev_AA_BB_CC_DD_EE_FF -> AA:BB:CC:DD:EE:FF).
func addrFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return ""
	}
	s = s[i+1:]
	if !strings.HasPrefix(s, "dev_") {
		return ""
	}
	return strings.ReplaceAll(s[4:], "_", ":")
}

// pathFromAddr is addrFromPath's inverse.
func pathFromAddr(adapterPath dbus.ObjectPath, addr string) dbus.ObjectPath {
	s := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(adapterPath) + "/dev_" + s)
}

// addrNamespace derives a stable bleu.AID from a MAC address using the same
// uuid5 technique as internal/hostble, so the same physical adapter/peer
// reconnecting always reports the same AID.
var addrNamespace = uuid.MustParse("8df4d9a1-8d1e-4b63-9e2b-2a7e0b6e9c40")

func addrToAID(addr string) bleu.AID {
	return bleu.AID(uuid.NewSHA1(addrNamespace, []byte(addr)))
}

// Host adapts one BlueZ adapter to bleu.CentralHost.
type Host struct {
	conn         *dbus.Conn
	adapterPath  dbus.ObjectPath
	events       chan bleu.Event
	scanMatchAdd bool

	mu       sync.Mutex
	addrs    map[bleu.AID]string                       // AID -> MAC
	devPaths map[bleu.AID]dbus.ObjectPath               // AID -> device path
	chars    map[bleu.AID]map[[16]byte]dbus.ObjectPath  // AID -> char uuid -> characteristic path
	notified map[bleu.AID]map[[16]byte]bool             // AID -> char uuid -> StartNotify already issued
}

// New connects to the system bus; the adapter itself is resolved lazily on
// Initialize so construction never fails for lack of a running bluetoothd.
func New() (*Host, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("hostbluez: connect system bus: %w", err)
	}
	return &Host{
		conn:     conn,
		events:   make(chan bleu.Event, 256),
		addrs:    make(map[bleu.AID]string),
		devPaths: make(map[bleu.AID]dbus.ObjectPath),
		chars:    make(map[bleu.AID]map[[16]byte]dbus.ObjectPath),
		notified: make(map[bleu.AID]map[[16]byte]bool),
	}, nil
}

func (h *Host) Events() <-chan bleu.Event { return h.events }

func (h *Host) emit(ev bleu.Event) {
	select {
	case h.events <- ev:
	default:
	}
}

// Initialize resolves the first BlueZ adapter (org.bluez.Adapter1), the same
// "just take hci0" behavior as the teacher's DefaultAdapter (adapter.go).
func (h *Host) Initialize(ctx context.Context) error {
	var out map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := h.conn.Object(bluezDest, bluezRoot)
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&out); err != nil {
		h.emit(bleu.Event{Kind: bleu.EventStateChanged, State: bleu.StateUnknown})
		return fmt.Errorf("hostbluez: GetManagedObjects: %w", err)
	}
	for path := range out {
		p := string(path)
		if strings.HasPrefix(p, adapterPrefix) && strings.Count(p, "/") == 2 {
			h.adapterPath = path
			h.emit(bleu.Event{Kind: bleu.EventStateChanged, State: bleu.StatePoweredOn})
			return nil
		}
	}
	h.emit(bleu.Event{Kind: bleu.EventStateChanged, State: bleu.StateUnsupported})
	return fmt.Errorf("hostbluez: no BlueZ adapter found")
}

func (h *Host) adapterObj() dbus.BusObject {
	return h.conn.Object(bluezDest, h.adapterPath)
}

// ScanForPeripherals starts BlueZ discovery and reports a
// bleu.DiscoveredPeripheral for every InterfacesAdded device under this
// adapter whose advertised UUIDs intersect filter.UUIDs or filter.Solicited
// (adapted from scan.go's Scan, generalized from a single name/UUID filter
// pair to the full bleu.ScanFilter).
func (h *Host) ScanForPeripherals(ctx context.Context, filter bleu.ScanFilter) (<-chan bleu.DiscoveredPeripheral, error) {
	want := make(map[string]bool, len(filter.UUIDs)+len(filter.Solicited))
	for _, u := range filter.UUIDs {
		want[uuidToStr(u)] = true
	}
	for _, u := range filter.Solicited {
		want[uuidToStr(u)] = true
	}

	discoveryFilter := map[string]any{"Transport": "le"}
	if len(want) > 0 {
		uuids := make([]string, 0, len(filter.UUIDs))
		for s := range want {
			uuids = append(uuids, s)
		}
		discoveryFilter["UUIDs"] = uuids
	}
	if err := h.adapterObj().Call("org.bluez.Adapter1.SetDiscoveryFilter", 0, discoveryFilter).Err; err != nil {
		_ = h.adapterObj().Call("org.bluez.Adapter1.SetDiscoveryFilter", 0, map[string]any{})
	}
	if err := h.adapterObj().Call("org.bluez.Adapter1.StartDiscovery", 0).Err; err != nil {
		return nil, fmt.Errorf("hostbluez: StartDiscovery: %w", err)
	}

	match := "type='signal',interface='org.freedesktop.DBus.ObjectManager',member='InterfacesAdded'"
	h.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, match)
	sigCh := make(chan *dbus.Signal, 16)
	h.conn.Signal(sigCh)

	out := make(chan bleu.DiscoveredPeripheral, 16)
	go func() {
		defer close(out)
		defer h.adapterObj().Call("org.bluez.Adapter1.StopDiscovery", 0)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				disc, matched := h.interfacesAddedToDiscovery(sig, want)
				if !matched {
					continue
				}
				select {
				case out <- disc:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (h *Host) interfacesAddedToDiscovery(sig *dbus.Signal, want map[string]bool) (bleu.DiscoveredPeripheral, bool) {
	if sig.Name != "org.freedesktop.DBus.ObjectManager.InterfacesAdded" || len(sig.Body) < 2 {
		return bleu.DiscoveredPeripheral{}, false
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok || !strings.HasPrefix(string(path), string(h.adapterPath)+"/") {
		return bleu.DiscoveredPeripheral{}, false
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return bleu.DiscoveredPeripheral{}, false
	}
	dev, ok := ifaces["org.bluez.Device1"]
	if !ok {
		return bleu.DiscoveredPeripheral{}, false
	}
	addr := addrFromPath(path)
	if addr == "" {
		return bleu.DiscoveredPeripheral{}, false
	}
	name := ""
	if n, ok := dev["Alias"]; ok {
		name, _ = n.Value().(string)
	}
	var advUUIDs []string
	if u, ok := dev["UUIDs"]; ok {
		advUUIDs, _ = u.Value().([]string)
	}
	if len(want) > 0 {
		matched := false
		for _, u := range advUUIDs {
			if want[u] {
				matched = true
				break
			}
		}
		if !matched {
			return bleu.DiscoveredPeripheral{}, false
		}
	}

	aid := addrToAID(addr)
	h.mu.Lock()
	h.addrs[aid] = addr
	h.devPaths[aid] = path
	h.mu.Unlock()

	return bleu.DiscoveredPeripheral{
		PeerID:    aid,
		LocalName: name,
		// ServiceUUIDs left unparsed from advUUIDs (string form); the Actor
		// System's AID-recovery fallback only needs ServiceData, which
		// BlueZ's Device1.UUIDs property does not carry (§6, DESIGN.md
		// gap resolution — same limitation as internal/hostble).
	}, true
}

func (h *Host) StopScan() error {
	return h.adapterObj().Call("org.bluez.Adapter1.StopDiscovery", 0).Err
}

// Connect calls Device1.Connect and polls ServicesResolved, exactly the
// wait loop client.go's Connect used, generalized off one hardcoded service.
func (h *Host) Connect(ctx context.Context, peer bleu.AID, timeout time.Duration) error {
	devicePath, ok := h.devicePath(peer)
	if !ok {
		return fmt.Errorf("hostbluez: unknown peer, scan before connecting")
	}
	obj := h.conn.Object(bluezDest, devicePath)
	if err := obj.Call("org.bluez.Device1.Connect", 0).Err; err != nil {
		return fmt.Errorf("hostbluez: Connect: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			_ = obj.Call("org.bluez.Device1.Disconnect", 0)
			return bleu.ErrTimeout{}
		default:
		}
		var v dbus.Variant
		if err := obj.Call("org.freedesktop.DBus.Properties.Get", 0, "org.bluez.Device1", "ServicesResolved").Store(&v); err == nil {
			if resolved, ok := v.Value().(bool); ok && resolved {
				h.emit(bleu.Event{Kind: bleu.EventPeripheralConnected, Peer: peer})
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = obj.Call("org.bluez.Device1.Disconnect", 0)
	return bleu.ErrTimeout{}
}

func (h *Host) devicePath(peer bleu.AID) (dbus.ObjectPath, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.devPaths[peer]; ok {
		return p, true
	}
	if addr, ok := h.addrs[peer]; ok {
		return pathFromAddr(h.adapterPath, addr), true
	}
	return "", false
}

// DiscoverServices walks GetManagedObjects for GattService1 objects under
// the device path (client.go's servicePath resolution, generalized to
// return every matching service instead of assuming exactly one).
func (h *Host) DiscoverServices(peer bleu.AID, filter [][16]byte) ([][16]byte, error) {
	devicePath, ok := h.devicePath(peer)
	if !ok {
		return nil, fmt.Errorf("hostbluez: peer not connected")
	}
	want := make(map[string]bool, len(filter))
	for _, u := range filter {
		want[uuidToStr(u)] = true
	}

	var out map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := h.conn.Object(bluezDest, bluezRoot).Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&out); err != nil {
		return nil, fmt.Errorf("hostbluez: GetManagedObjects: %w", err)
	}

	devPrefix := string(devicePath) + "/"
	var result [][16]byte
	for path, ifaces := range out {
		if !strings.HasPrefix(string(path), devPrefix) {
			continue
		}
		g, ok := ifaces["org.bluez.GattService1"]
		if !ok {
			continue
		}
		uStr, _ := g["UUID"].Value().(string)
		for _, u := range filter {
			if uuidToStr(u) == uStr {
				result = append(result, u)
			}
		}
		if len(filter) == 0 {
			if parsed, err := uuid.Parse(uStr); err == nil {
				result = append(result, [16]byte(parsed))
			}
		}
	}
	return result, nil
}

// DiscoverCharacteristics resolves every GattCharacteristic1 under the
// matching service path and records its object path for later Read/Write/
// SetNotify calls (client.go's write/notify char resolution, generalized
// from a fixed rx/tx pair to an arbitrary per-method characteristic set).
func (h *Host) DiscoverCharacteristics(peer bleu.AID, service [16]byte, filter [][16]byte) ([]bleu.MethodDescriptor, error) {
	devicePath, ok := h.devicePath(peer)
	if !ok {
		return nil, fmt.Errorf("hostbluez: peer not connected")
	}
	var out map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := h.conn.Object(bluezDest, bluezRoot).Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&out); err != nil {
		return nil, fmt.Errorf("hostbluez: GetManagedObjects: %w", err)
	}

	svcUUIDStr := uuidToStr(service)
	devPrefix := string(devicePath) + "/"
	var servicePath dbus.ObjectPath
	for path, ifaces := range out {
		if !strings.HasPrefix(string(path), devPrefix) {
			continue
		}
		g, ok := ifaces["org.bluez.GattService1"]
		if !ok {
			continue
		}
		if u, _ := g["UUID"].Value().(string); u == svcUUIDStr {
			servicePath = path
			break
		}
	}
	if servicePath == "" {
		return nil, fmt.Errorf("hostbluez: service not found on peer")
	}

	h.mu.Lock()
	if h.chars[peer] == nil {
		h.chars[peer] = make(map[[16]byte]dbus.ObjectPath)
	}
	svcPrefix := string(servicePath) + "/"
	var methods []bleu.MethodDescriptor
	for path, ifaces := range out {
		p := string(path)
		if !strings.HasPrefix(p, svcPrefix) {
			continue
		}
		g, ok := ifaces["org.bluez.GattCharacteristic1"]
		if !ok {
			continue
		}
		uStr, _ := g["UUID"].Value().(string)
		parsed, err := uuid.Parse(uStr)
		if err != nil {
			continue
		}
		charUUID := [16]byte(parsed)
		if len(filter) > 0 {
			keep := false
			for _, f := range filter {
				if f == charUUID {
					keep = true
					break
				}
			}
			if !keep {
				continue
			}
		}
		h.chars[peer][charUUID] = path
		methods = append(methods, bleu.MethodDescriptor{CharUUID: charUUID, Direction: bleu.RequestResponse})
	}
	h.mu.Unlock()
	return methods, nil
}

func (h *Host) charPath(peer bleu.AID, char [16]byte) (dbus.ObjectPath, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.chars[peer]
	if !ok {
		return "", false
	}
	p, ok := m[char]
	return p, ok
}

func (h *Host) Read(peer bleu.AID, char [16]byte) ([]byte, error) {
	path, ok := h.charPath(peer, char)
	if !ok {
		return nil, fmt.Errorf("hostbluez: characteristic not resolved")
	}
	var value []byte
	opts := map[string]any{}
	if err := h.conn.Object(bluezDest, path).Call("org.bluez.GattCharacteristic1.ReadValue", 0, opts).Store(&value); err != nil {
		return nil, fmt.Errorf("hostbluez: ReadValue: %w", err)
	}
	return value, nil
}

// Write calls GattCharacteristic1.WriteValue; WithoutResponse maps to
// BlueZ's "command" write type, matching client.go's WriteNoResponse.
func (h *Host) Write(peer bleu.AID, char [16]byte, value []byte, wtype bleu.WriteType) error {
	path, ok := h.charPath(peer, char)
	if !ok {
		return fmt.Errorf("hostbluez: characteristic not resolved")
	}
	writeType := "request"
	if wtype == bleu.WithoutResponse {
		writeType = "command"
	}
	opts := map[string]any{"type": writeType}
	return h.conn.Object(bluezDest, path).Call("org.bluez.GattCharacteristic1.WriteValue", 0, value, opts).Err
}

// SetNotify issues StartNotify once per characteristic and attaches a
// PropertiesChanged signal watcher that turns each Value update into an
// EventCharacteristicValueUpdated, adapted from client.go's notification
// goroutine (which hardcoded a single tx characteristic path).
func (h *Host) SetNotify(peer bleu.AID, char [16]byte, enabled bool) error {
	path, ok := h.charPath(peer, char)
	if !ok {
		return fmt.Errorf("hostbluez: characteristic not resolved")
	}
	if !enabled {
		err := h.conn.Object(bluezDest, path).Call("org.bluez.GattCharacteristic1.StopNotify", 0).Err
		h.emit(bleu.Event{Kind: bleu.EventNotificationStateChanged, Peer: peer, Char: char, Enabled: false})
		return err
	}

	h.mu.Lock()
	if h.notified[peer] == nil {
		h.notified[peer] = make(map[[16]byte]bool)
	}
	already := h.notified[peer][char]
	h.notified[peer][char] = true
	h.mu.Unlock()
	if already {
		h.emit(bleu.Event{Kind: bleu.EventNotificationStateChanged, Peer: peer, Char: char, Enabled: true})
		return nil
	}

	if err := h.conn.Object(bluezDest, path).Call("org.bluez.GattCharacteristic1.StartNotify", 0).Err; err != nil {
		return fmt.Errorf("hostbluez: StartNotify: %w", err)
	}

	match := fmt.Sprintf("type='signal',path='%s',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged'", path)
	h.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, match)
	sigCh := make(chan *dbus.Signal, 16)
	h.conn.Signal(sigCh)
	go func() {
		for sig := range sigCh {
			if sig.Path != path || len(sig.Body) < 2 {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			v, ok := changed["Value"]
			if !ok {
				continue
			}
			b, ok := v.Value().([]byte)
			if !ok {
				continue
			}
			pkt := make([]byte, len(b))
			copy(pkt, b)
			h.emit(bleu.Event{Kind: bleu.EventCharacteristicValueUpdated, Peer: peer, Char: char, Value: pkt, HasValue: true})
		}
	}()

	h.emit(bleu.Event{Kind: bleu.EventNotificationStateChanged, Peer: peer, Char: char, Enabled: true})
	return nil
}

// MaxWriteLength reports the BLE-wide default ATT MTU of 23 bytes (spec.md's
// documented 23-512 range, floor end): BlueZ negotiates the real per-device
// MTU internally and does not expose a query for it over this API, the same
// gap noted in internal/hostble. Transport.Negotiate (internal/transport)
// does its own header accounting on top of whatever this returns, so callers
// must pass the full ATT write length here, not a payload-already-deducted
// value.
func (h *Host) MaxWriteLength(peer bleu.AID, wtype bleu.WriteType) int {
	return 23
}

func (h *Host) Close() error {
	return h.conn.Close()
}
