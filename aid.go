package bleu

import (
	"github.com/google/uuid"
)

// AID is a 128-bit value naming one actor instance, process-wide.
type AID [16]byte

// NilAID is the zero AID, never assigned to a real instance.
var NilAID AID

// NewAID generates a fresh, process-unique actor id.
func NewAID() AID {
	return AID(uuid.New())
}

// String renders the AID in canonical UUID form for logging.
func (a AID) String() string {
	return uuid.UUID(a).String()
}

// IsNil reports whether a is the zero value.
func (a AID) IsNil() bool {
	return a == NilAID
}

// CallID is the 128-bit correlation identifier assigned to each outbound
// invocation (§3 "Call id"); it doubles as the Frame's correlation_id.
type CallID [16]byte

// NewCallID allocates a fresh, process-unique call id.
func NewCallID() CallID {
	return CallID(uuid.New())
}

func (c CallID) String() string {
	return uuid.UUID(c).String()
}
