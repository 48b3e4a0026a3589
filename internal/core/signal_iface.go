package core

import "errors"

var (
	// ErrBackpressure is returned by TrySend when the outbound queue is full.
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// Frame is a raw encoded message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues f without blocking. Frames are written in enqueue order.
	TrySend(Frame) error
	Close()
}
