package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded signaling message.
type Frame []byte

// SignalConnection is the outbound half of a participant's signaling link.
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: it queues the frame or fails.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
