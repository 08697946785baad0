package bleu

// Direction names how a method's characteristic is driven. The v1
// "broadcast" mode from the source changelog is not carried over (§9 Open
// Question): these three are the only supported shapes. Direction is
// recorded in the descriptors only; the Event Bridge answers every
// Invocation with exactly one Response envelope whatever the Direction.
type Direction int

const (
	// RequestResponse is a normal call/response RPC.
	RequestResponse Direction = iota
	// OneWayNotify marks a fire-and-forget method; its Invocation still
	// receives a Response envelope, which the caller may ignore.
	OneWayNotify
	// SubscribeStream marks a streaming method; the runtime still sends one
	// Response per Invocation and does not stream further Responses.
	SubscribeStream
)

func (d Direction) String() string {
	switch d {
	case RequestResponse:
		return "request-response"
	case OneWayNotify:
		return "one-way-notify"
	case SubscribeStream:
		return "subscribe-stream"
	default:
		return "unknown"
	}
}

// MethodDescriptor names one remotely invocable method (§3).
type MethodDescriptor struct {
	Name      string
	CharUUID  [16]byte
	Direction Direction
}

// TypeDescriptor is the declarative, reflection-free stand-in for an
// actor's method table (§9 "Reflection replacement"): a stub generator (out
// of scope, §1) emits one of these per exported type. Methods is supplied
// in the order the caller wants it preserved in the resulting
// ServiceDescriptor (§4.4: "method order in the descriptor is
// caller-supplied").
type TypeDescriptor struct {
	FQName  string
	Methods []TypeMethod
}

// TypeMethod is one entry of a TypeDescriptor's method list, prior to UUID
// derivation.
type TypeMethod struct {
	Name      string
	Direction Direction
}

// ServiceDescriptor is the deterministic projection of a TypeDescriptor
// onto a GATT service and its method characteristics (§3).
type ServiceDescriptor struct {
	ServiceUUID [16]byte
	Methods     []MethodDescriptor
}
