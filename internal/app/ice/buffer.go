// Package ice holds remote connectivity candidates until the local peer can
// apply them.
package ice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrAlreadyFlushed = errors.New("candidate buffer already flushed")

// ApplyFunc hands one candidate to the media engine.
type ApplyFunc func(candidate string) error

// Buffer queues candidates that arrive before the remote description is set
// and applies them in arrival order once Flush is called. After the flush
// candidates are applied immediately.
type Buffer struct {
	mu    sync.Mutex
	apply ApplyFunc
	ready bool
	queue []string
}

func NewBuffer(apply ApplyFunc) *Buffer {
	return &Buffer{apply: apply}
}

// EnqueueOrApply applies the candidate if the buffer was flushed, otherwise
// appends it to the queue.
func (b *Buffer) EnqueueOrApply(candidate string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		b.queue = append(b.queue, candidate)
		return nil
	}
	return b.apply(candidate)
}

// Flush applies every queued candidate in order and switches the buffer to
// pass-through. It runs at most once; the lock is held throughout so a
// concurrent EnqueueOrApply lands after the queued candidates.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return ErrAlreadyFlushed
	}
	b.ready = true
	queued := b.queue
	b.queue = nil

	var errs []error
	for i, c := range queued {
		if err := b.apply(c); err != nil {
			log.Warn().Err(err).Str("module", "ice").Int("index", i).Msg("apply queued candidate")
			errs = append(errs, fmt.Errorf("candidate %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Pending returns the number of queued candidates.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Flushed reports whether Flush has run.
func (b *Buffer) Flushed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}
