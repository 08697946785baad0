package bleu

import (
	"context"
	"time"
)

// WriteType selects whether a central write expects an ATT response
// (§4.1 "Central Host — operations").
type WriteType int

const (
	WithResponse WriteType = iota
	WithoutResponse
)

// AdvertisementData is what a Peripheral Host broadcasts (§6).
type AdvertisementData struct {
	LocalName        string
	ServiceUUIDs     [][16]byte
	ManufacturerData []byte
	ServiceData      map[[16]byte][]byte
	TxPower          *int8
}

// ScanFilter matches a peripheral whose advertised service uuids intersect
// UUIDs (non-empty), or whose advertised uuids intersect Solicited (§6
// "Scan filter").
type ScanFilter struct {
	UUIDs      [][16]byte
	Solicited  [][16]byte
}

// DiscoveredPeripheral is one scan result (§4.1). ServiceData carries the
// advertisement's raw per-service bytes (§6 "Advertisement data"); the
// Actor System uses ServiceData[service_uuid] to recover the advertising
// instance's AID, since §3/§4.3 never define a separate wire-level
// handshake for learning it (DESIGN.md's resolution of this gap).
type DiscoveredPeripheral struct {
	PeerID       AID
	LocalName    string
	ServiceUUIDs [][16]byte
	ServiceData  map[[16]byte][]byte
	RSSI         int16
}

// PeripheralHost is the narrow surface over the platform's peripheral-role
// BLE stack (§4.1). Only PeripheralHost implementations may touch host
// callbacks; they translate each callback into an Event on Events()
// without taking a lock or calling user code (§4.1 "Design rule").
type PeripheralHost interface {
	// Initialize brings the radio up; readiness/failure arrives as a
	// StateChanged event on Events().
	Initialize(ctx context.Context) error
	AddService(sd ServiceDescriptor) error
	StartAdvertising(data AdvertisementData) error
	StopAdvertising() error
	// UpdateValue notifies charUUID's value. If targets is non-nil and,
	// after intersecting with actual subscribers, is empty, this fails
	// with ErrPeerUnreachable instead of silently broadcasting (§4.1).
	UpdateValue(charUUID [16]byte, value []byte, targets []AID) error
	SubscribedCentrals(charUUID [16]byte) []AID
	Events() <-chan Event
	Close() error
}

// CentralHost is the narrow surface over the platform's central-role BLE
// stack (§4.1).
type CentralHost interface {
	// Initialize brings the radio up; readiness/failure arrives as a
	// StateChanged event on Events(), mirroring PeripheralHost.Initialize.
	Initialize(ctx context.Context) error
	ScanForPeripherals(ctx context.Context, filter ScanFilter) (<-chan DiscoveredPeripheral, error)
	StopScan() error
	// Connect fails with ErrTimeout if timeout elapses; on timeout it
	// cancels the pending connection before returning (§4.1).
	Connect(ctx context.Context, peer AID, timeout time.Duration) error
	DiscoverServices(peer AID, filter [][16]byte) ([][16]byte, error)
	DiscoverCharacteristics(peer AID, service [16]byte, filter [][16]byte) ([]MethodDescriptor, error)
	Read(peer AID, char [16]byte) ([]byte, error)
	Write(peer AID, char [16]byte, value []byte, wtype WriteType) error
	SetNotify(peer AID, char [16]byte, enabled bool) error
	MaxWriteLength(peer AID, wtype WriteType) int
	Events() <-chan Event
	Close() error
}
