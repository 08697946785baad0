package bleu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodRegistryLookupsByCharAndName(t *testing.T) {
	sd := MapService(TypeDescriptor{
		FQName: "example.Counter",
		Methods: []TypeMethod{
			{Name: "increment", Direction: RequestResponse},
			{Name: "reset", Direction: OneWayNotify},
		},
	})
	reg, err := NewMethodRegistry(sd)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	byName, ok := reg.ByName("increment")
	require.True(t, ok)
	assert.Equal(t, RequestResponse, byName.Direction)

	byChar, ok := reg.ByCharacteristic(byName.CharUUID)
	require.True(t, ok)
	assert.Equal(t, "increment", byChar.Name)

	_, ok = reg.ByName("nonexistent")
	assert.False(t, ok)
}

func TestMethodRegistryPreservesDeclarationOrder(t *testing.T) {
	sd := MapService(TypeDescriptor{
		FQName: "example.Counter",
		Methods: []TypeMethod{
			{Name: "c", Direction: RequestResponse},
			{Name: "a", Direction: RequestResponse},
			{Name: "b", Direction: RequestResponse},
		},
	})
	reg, err := NewMethodRegistry(sd)
	require.NoError(t, err)

	names := make([]string, 0, 3)
	for _, m := range reg.Methods() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}

func TestMethodRegistryRejectsDuplicateNames(t *testing.T) {
	sd := ServiceDescriptor{
		ServiceUUID: DeriveServiceUUID("example.Dup"),
		Methods: []MethodDescriptor{
			{Name: "same", CharUUID: [16]byte{1}},
			{Name: "same", CharUUID: [16]byte{2}},
		},
	}
	_, err := NewMethodRegistry(sd)
	assert.Error(t, err)
}
