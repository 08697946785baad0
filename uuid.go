package bleu

import "github.com/google/uuid"

// NSBleu is the fixed namespace constant all service/characteristic uuids
// are derived from (§3 "UUID derivation", GLOSSARY "NS_BLEU"). It has no
// meaning beyond domain-separating this runtime's derivations from anyone
// else's uuid5 namespace; it must never change, or every existing
// deployment's uuids change with it.
var NSBleu = uuid.MustParse("6c6c6575-6265-6c75-6275-656c75626c75")

// DeriveServiceUUID computes the deterministic service uuid for a type's
// fully-qualified name (§3). Pure: the same fqName always yields the same
// uuid, on any host.
func DeriveServiceUUID(fqName string) [16]byte {
	return [16]byte(uuid.NewSHA1(NSBleu, []byte(fqName+".Service")))
}

// DeriveCharUUID computes the deterministic characteristic uuid for one
// method of a type, domain-separated under that type's own service uuid
// rather than NSBleu directly (§3).
func DeriveCharUUID(serviceUUID [16]byte, fqName, methodName string) [16]byte {
	ns := uuid.UUID(serviceUUID)
	return [16]byte(uuid.NewSHA1(ns, []byte(fqName+"."+methodName)))
}
