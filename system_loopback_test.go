package bleu

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackPeripheral and loopbackCentral wire a PeripheralHost and a
// CentralHost directly to each other in-process, standing in for a real BLE
// radio so the Actor System's wiring can be exercised end to end (§8 seed
// scenarios) without a platform bluetooth stack.
type loopbackPeripheral struct {
	mu       sync.Mutex
	events   chan Event
	svc      ServiceDescriptor
	adv      AdvertisementData
	partner  *loopbackCentral
	selfPeer AID // identity this peripheral presents on the wire
}

func newLoopbackPeripheral() *loopbackPeripheral {
	return &loopbackPeripheral{events: make(chan Event, 64), selfPeer: NewAID()}
}

func (p *loopbackPeripheral) Initialize(ctx context.Context) error {
	p.events <- Event{Kind: EventStateChanged, State: StatePoweredOn}
	return nil
}
func (p *loopbackPeripheral) AddService(sd ServiceDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.svc = sd
	return nil
}
func (p *loopbackPeripheral) StartAdvertising(data AdvertisementData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adv = data
	return nil
}
func (p *loopbackPeripheral) StopAdvertising() error { return nil }
func (p *loopbackPeripheral) UpdateValue(charUUID [16]byte, value []byte, targets []AID) error {
	p.partner.events <- Event{Kind: EventCharacteristicValueUpdated, Peer: p.selfPeer, Char: charUUID, Value: value, HasValue: true}
	return nil
}
func (p *loopbackPeripheral) SubscribedCentrals(charUUID [16]byte) []AID { return []AID{p.partner.selfCentral} }
func (p *loopbackPeripheral) Events() <-chan Event                       { return p.events }
func (p *loopbackPeripheral) Close() error                              { return nil }

type loopbackCentral struct {
	mu          sync.Mutex
	events      chan Event
	partner     *loopbackPeripheral
	selfCentral AID // identity this central presents on the wire
}

func newLoopbackCentral() *loopbackCentral {
	return &loopbackCentral{events: make(chan Event, 64), selfCentral: NewAID()}
}

func (c *loopbackCentral) Initialize(ctx context.Context) error {
	c.events <- Event{Kind: EventStateChanged, State: StatePoweredOn}
	return nil
}
func (c *loopbackCentral) ScanForPeripherals(ctx context.Context, filter ScanFilter) (<-chan DiscoveredPeripheral, error) {
	ch := make(chan DiscoveredPeripheral, 1)
	c.partner.mu.Lock()
	adv := c.partner.adv
	c.partner.mu.Unlock()
	ch <- DiscoveredPeripheral{PeerID: c.partner.selfPeer, LocalName: adv.LocalName, ServiceUUIDs: adv.ServiceUUIDs, ServiceData: adv.ServiceData}
	close(ch)
	return ch, nil
}
func (c *loopbackCentral) StopScan() error { return nil }
func (c *loopbackCentral) Connect(ctx context.Context, peer AID, timeout time.Duration) error {
	return nil
}
func (c *loopbackCentral) DiscoverServices(peer AID, filter [][16]byte) ([][16]byte, error) {
	c.partner.mu.Lock()
	defer c.partner.mu.Unlock()
	return [][16]byte{c.partner.svc.ServiceUUID}, nil
}
func (c *loopbackCentral) DiscoverCharacteristics(peer AID, service [16]byte, filter [][16]byte) ([]MethodDescriptor, error) {
	c.partner.mu.Lock()
	defer c.partner.mu.Unlock()
	out := make([]MethodDescriptor, len(c.partner.svc.Methods))
	copy(out, c.partner.svc.Methods)
	return out, nil
}
func (c *loopbackCentral) Read(peer AID, char [16]byte) ([]byte, error) { return nil, nil }
func (c *loopbackCentral) Write(peer AID, char [16]byte, value []byte, wtype WriteType) error {
	c.partner.events <- Event{Kind: EventWriteRequestReceived, Central: c.selfCentral, Char: char, Value: value}
	return nil
}
func (c *loopbackCentral) SetNotify(peer AID, char [16]byte, enabled bool) error {
	c.events <- Event{Kind: EventNotificationStateChanged, Peer: peer, Char: char, Enabled: enabled}
	c.partner.events <- Event{Kind: EventCentralSubscribed, Central: c.selfCentral, Char: char, Enabled: enabled}
	return nil
}
func (c *loopbackCentral) MaxWriteLength(peer AID, wtype WriteType) int { return 512 }
func (c *loopbackCentral) Events() <-chan Event                         { return c.events }
func (c *loopbackCentral) Close() error                                 { return nil }

func newWiredLoopback() (*loopbackPeripheral, *loopbackCentral) {
	p := newLoopbackPeripheral()
	c := newLoopbackCentral()
	p.partner = c
	c.partner = p
	return p, c
}

func waitForReady(t *testing.T, sys *System, peer AID) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess, ok := sys.sessions.get(peer); ok && sess.IsReady() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("session never became ready")
}

func counterType() TypeDescriptor {
	return TypeDescriptor{
		FQName: "example.Counter",
		Methods: []TypeMethod{
			{Name: "increment", Direction: RequestResponse},
		},
	}
}

func TestSystemEndToEndRemoteCall(t *testing.T) {
	peripheralHost, centralHost := newWiredLoopback()

	server := NewSystem(peripheralHost, nil)
	client := NewSystem(nil, centralHost)

	ctx := context.Background()
	require.NoError(t, server.Start(ctx))
	require.NoError(t, client.Start(ctx))
	defer server.Close()
	defer client.Close()

	td := counterType()
	var calls int
	handlers := map[string]Handler{
		"increment": func(args []byte) ([]byte, bool, error) {
			calls++
			return []byte{byte(len(args))}, false, nil
		},
	}
	_, err := server.StartAdvertising("counter-1", td, handlers)
	require.NoError(t, err)

	proxies, err := client.Discover(ctx, td, 500*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	proxy := proxies[0]

	waitForReady(t, client, proxy.Peer)

	callCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	result, void, err := client.RemoteCall(callCtx, proxy, "increment", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.False(t, void)
	assert.Equal(t, []byte{3}, result)
	assert.Equal(t, 1, calls)
}

func TestSystemRemoteCallFailsMethodNotFound(t *testing.T) {
	peripheralHost, centralHost := newWiredLoopback()
	server := NewSystem(peripheralHost, nil)
	client := NewSystem(nil, centralHost)

	ctx := context.Background()
	require.NoError(t, server.Start(ctx))
	require.NoError(t, client.Start(ctx))
	defer server.Close()
	defer client.Close()

	td := counterType()
	_, err := server.StartAdvertising("counter-1", td, map[string]Handler{
		"increment": func(args []byte) ([]byte, bool, error) { return nil, true, nil },
	})
	require.NoError(t, err)

	proxies, err := client.Discover(ctx, td, 500*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	proxy := proxies[0]
	waitForReady(t, client, proxy.Peer)

	_, _, err = client.RemoteCall(ctx, proxy, "does-not-exist", nil)
	assert.Equal(t, "method_not_found", Code(err))
}

func TestSystemRemoteCallWithoutReadySessionFailsFast(t *testing.T) {
	client := NewSystem(nil, nil)
	proxy := &RemoteProxy{AID: NewAID(), Peer: NewAID()}
	_, _, err := client.RemoteCall(context.Background(), proxy, "increment", nil)
	assert.Equal(t, "peer_unreachable", Code(err))
}

func TestSystemStartAdvertisingRequiresPoweredOn(t *testing.T) {
	peripheralHost, _ := newWiredLoopback()
	server := NewSystem(peripheralHost, nil)
	_, err := server.StartAdvertising("never-started", counterType(), nil)
	assert.Equal(t, "powered_off", Code(err))
}
