// Package bleu lets a typed Go value export its methods as GATT
// characteristics and lets a remote peer call those methods as if they were
// local, over Bluetooth Low Energy.
//
// A System owns one Peripheral Host and one Central Host (see host.go),
// derives a deterministic GATT layout from a TypeDescriptor (see
// descriptor.go, uuid.go), and bridges BLE delegate events onto one
// consumer goroutine per Host (see eventbridge.go). State shared between
// those goroutines and public callers sits in lock-free maps or behind
// small per-table mutexes.
package bleu
