package bleu

// AdapterState mirrors the host radio's lifecycle (§4.1 "initialize").
type AdapterState int

const (
	StateUnknown AdapterState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

// EventKind discriminates the single unified event stream both Hosts emit
// (§4.1 "Events emitted").
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventPeripheralDiscovered
	EventPeripheralConnected
	EventPeripheralDisconnected
	EventServiceDiscovered
	EventCharacteristicValueUpdated
	EventNotificationStateChanged
	EventWriteRequestReceived
	EventReadRequestReceived
	EventCentralSubscribed
	EventCentralUnsubscribed
)

// Event is the single typed stream both the Peripheral Host and the
// Central Host emit; only the fields relevant to Kind are populated. The
// Event Bridge is the sole consumer (§4.1 "Design rule").
type Event struct {
	Kind EventKind

	State AdapterState // EventStateChanged

	Discovered DiscoveredPeripheral // EventPeripheralDiscovered

	Peer  AID   // connection/disconnection/value/notify events
	Err   error // EventPeripheralDisconnected, EventCharacteristicValueUpdated (ATT error)

	Services [][16]byte // EventServiceDiscovered

	Char  [16]byte // characteristic-scoped events
	Value []byte   // EventCharacteristicValueUpdated, EventWriteRequestReceived
	HasValue bool

	Enabled bool // EventNotificationStateChanged, subscribe/unsubscribe implied true/false

	Central AID // EventWriteRequestReceived/EventReadRequestReceived/EventCentralSubscribed(Unsubscribed)
}
