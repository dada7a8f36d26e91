package core

// Frame is a raw binary payload (a serialized signaling message).
type Frame []byte

// SessionID identifies one client connection across signal and media planes.
type SessionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
