// Package core holds the transport-facing contracts shared by the relay and
// its adapters.
package core

// Frame is one raw signaling payload as it crosses the wire.
type Frame []byte

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
