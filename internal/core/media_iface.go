package core

import "context"

// DataTransport is an ordered, reliable binary channel between two peers
// with an observable outbound buffer.
type DataTransport interface {
	Label() string
	Send([]byte) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(uint64)
	OnBufferedAmountLow(func())
	OnOpen(func())
	OnFrame(func([]byte))
	OnClose(func())
	Close() error
}

// MediaConnection is the peer side of a direct session. Descriptors and
// candidates are opaque strings produced and consumed by the media engine.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying resources.
	Close()
	CreateOffer() (string, error)
	// ApplyOffer sets the remote offer and returns the local answer.
	ApplyOffer(offer string) (string, error)
	ApplyAnswer(answer string) error
	// AddRemoteCandidate applies a candidate, queueing it until the remote
	// description is set.
	AddRemoteCandidate(candidate string) error
	// OnLocalCandidate sets a callback for newly gathered local candidates.
	OnLocalCandidate(func(string))
	OpenDataChannel(label string) (DataTransport, error)
	OnDataChannel(func(DataTransport))
	// OnClosed sets a callback for cleanup of the session.
	OnClosed(func())
}
