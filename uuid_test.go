package bleu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestServiceUUIDDeterministic is §8 property 1: service_uuid(T) is
// byte-identical across runs for the same type description.
func TestServiceUUIDDeterministic(t *testing.T) {
	a := DeriveServiceUUID("example.TempSensor")
	b := DeriveServiceUUID("example.TempSensor")
	assert.Equal(t, a, b)
}

func TestServiceUUIDDiffersByName(t *testing.T) {
	a := DeriveServiceUUID("example.TempSensor")
	b := DeriveServiceUUID("example.Counter")
	assert.NotEqual(t, a, b)
}

func TestCharUUIDDeterministicAndDomainSeparated(t *testing.T) {
	svc := DeriveServiceUUID("example.Counter")
	a := DeriveCharUUID(svc, "example.Counter", "increment")
	b := DeriveCharUUID(svc, "example.Counter", "increment")
	assert.Equal(t, a, b)

	reset := DeriveCharUUID(svc, "example.Counter", "reset")
	assert.NotEqual(t, a, reset)

	otherSvc := DeriveServiceUUID("example.TempSensor")
	crossDomain := DeriveCharUUID(otherSvc, "example.Counter", "increment")
	assert.NotEqual(t, a, crossDomain, "char uuid must be domain-separated by service uuid")
}
