package transfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrCorruptTransfer   = errors.New("corrupt transfer")
	ErrTransferAbandoned = errors.New("transfer abandoned")
	ErrReceiverClosed    = errors.New("receiver closed")
)

// Observer is notified about transfer lifecycle. Calls happen outside the
// receiver lock, in frame order.
type Observer interface {
	TransferStarted(name string, totalSize int64)
	TransferCompleted(name string, data []byte)
	TransferFailed(name string, err error)
}

type inbound struct {
	total    int64
	received int64
	chunks   map[int][]byte
}

// Receiver reassembles chunked transfers arriving on one transport. Chunks
// may arrive in any order; a transfer completes when the received byte count
// reaches its total size.
type Receiver struct {
	obs     Observer
	maxSize int64

	mu       sync.Mutex
	closed   bool
	sessions map[string]*inbound
}

// NewReceiver builds a receiver; maxSize <= 0 disables the size cap.
func NewReceiver(obs Observer, maxSize int64) *Receiver {
	return &Receiver{obs: obs, maxSize: maxSize, sessions: make(map[string]*inbound)}
}

// HandleFrame consumes one transport message.
func (r *Receiver) HandleFrame(frame []byte) error {
	h, payload, err := DecodeChunk(frame)
	if err != nil {
		return err
	}
	notify, err := r.store(h, payload)
	if notify != nil {
		notify()
	}
	return err
}

func (r *Receiver) store(h Header, payload []byte) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrReceiverClosed
	}

	var started func()
	in, ok := r.sessions[h.Name]
	if !ok {
		if r.maxSize > 0 && h.TotalSize > r.maxSize {
			return nil, fmt.Errorf("%w: %q size %d exceeds %d", ErrCorruptTransfer, h.Name, h.TotalSize, r.maxSize)
		}
		in = &inbound{total: h.TotalSize, chunks: make(map[int][]byte)}
		r.sessions[h.Name] = in
		started = func() { r.obs.TransferStarted(h.Name, h.TotalSize) }
		log.Info().Str("module", "transfer").Str("name", h.Name).Int64("size", h.TotalSize).Msg("receive started")
	}

	fail := func(err error) (func(), error) {
		delete(r.sessions, h.Name)
		log.Warn().Err(err).Str("module", "transfer").Str("name", h.Name).Msg("receive failed")
		return chain(started, func() { r.obs.TransferFailed(h.Name, err) }), err
	}

	if in.total != h.TotalSize {
		return fail(fmt.Errorf("%w: %q size changed from %d to %d", ErrCorruptTransfer, h.Name, in.total, h.TotalSize))
	}
	if _, dup := in.chunks[h.ChunkIndex]; dup {
		log.Debug().Str("module", "transfer").Str("name", h.Name).Int("chunk", h.ChunkIndex).Msg("duplicate chunk ignored")
		return started, nil
	}
	in.chunks[h.ChunkIndex] = append([]byte(nil), payload...)
	in.received += int64(len(payload))
	if in.received > in.total {
		return fail(fmt.Errorf("%w: %q received %d of %d bytes", ErrCorruptTransfer, h.Name, in.received, in.total))
	}
	if in.received < in.total {
		return started, nil
	}

	data := make([]byte, 0, in.total)
	for i := 0; i < len(in.chunks); i++ {
		c, ok := in.chunks[i]
		if !ok {
			return fail(fmt.Errorf("%w: %q missing chunk %d", ErrCorruptTransfer, h.Name, i))
		}
		data = append(data, c...)
	}
	delete(r.sessions, h.Name)
	log.Info().Str("module", "transfer").Str("name", h.Name).Int("chunks", len(in.chunks)).Msg("receive completed")
	return chain(started, func() { r.obs.TransferCompleted(h.Name, data) }), nil
}

// Active returns the number of partially received transfers.
func (r *Receiver) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close discards partial transfers and reports each as abandoned.
func (r *Receiver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := r.sessions
	r.sessions = nil
	r.mu.Unlock()

	for name, in := range pending {
		log.Warn().Str("module", "transfer").Str("name", name).Int64("received", in.received).Int64("size", in.total).Msg("receive abandoned")
		r.obs.TransferFailed(name, ErrTransferAbandoned)
	}
}

func chain(fns ...func()) func() {
	return func() {
		for _, fn := range fns {
			if fn != nil {
				fn()
			}
		}
	}
}
