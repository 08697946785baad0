package bleu

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// MethodRegistry maps a characteristic uuid to its MethodDescriptor for one
// service, preserving the caller-supplied method order from the originating
// TypeDescriptor (§4.4: "method order in the descriptor is caller-supplied").
// Iteration order matters when listing a service's methods back to a
// caller, which is exactly what go-ordered-map is for.
type MethodRegistry struct {
	byChar *orderedmap.OrderedMap[[16]byte, MethodDescriptor]
	byName *orderedmap.OrderedMap[string, MethodDescriptor]
}

// NewMethodRegistry indexes sd's methods by characteristic uuid and by
// name. A duplicate method name is a caller error (§3 invariant: method
// names are unique within a service).
func NewMethodRegistry(sd ServiceDescriptor) (*MethodRegistry, error) {
	r := &MethodRegistry{
		byChar: orderedmap.New[[16]byte, MethodDescriptor](),
		byName: orderedmap.New[string, MethodDescriptor](),
	}
	for _, m := range sd.Methods {
		if _, exists := r.byName.Get(m.Name); exists {
			return nil, fmt.Errorf("bleu: duplicate method name %q in service", m.Name)
		}
		r.byChar.Set(m.CharUUID, m)
		r.byName.Set(m.Name, m)
	}
	return r, nil
}

func (r *MethodRegistry) ByCharacteristic(charUUID [16]byte) (MethodDescriptor, bool) {
	return r.byChar.Get(charUUID)
}

func (r *MethodRegistry) ByName(name string) (MethodDescriptor, bool) {
	return r.byName.Get(name)
}

// Methods returns every registered method in caller-supplied order.
func (r *MethodRegistry) Methods() []MethodDescriptor {
	out := make([]MethodDescriptor, 0, r.byName.Len())
	for pair := r.byName.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (r *MethodRegistry) Len() int {
	return r.byName.Len()
}
