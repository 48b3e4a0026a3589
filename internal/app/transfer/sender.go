package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

const (
	DefaultChunkSize     = 64 << 10
	DefaultHighWatermark = 1 << 20
	DefaultLowWatermark  = 256 << 10
	DefaultRetryDelay    = 50 * time.Millisecond
	DefaultMaxRetryDelay = time.Second
)

var ErrTransportClosed = errors.New("transport closed")

// Transport is the outbound side of a data channel. *webrtc.DataChannel
// satisfies it.
type Transport interface {
	Send([]byte) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(uint64)
	OnBufferedAmountLow(func())
}

type Options struct {
	ChunkSize     int
	HighWatermark uint64
	LowWatermark  uint64
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// MaxRetries bounds consecutive failed sends of one chunk. Zero retries forever.
	MaxRetries int
	Clock      clock.Clock
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.HighWatermark == 0 {
		o.HighWatermark = DefaultHighWatermark
	}
	if o.LowWatermark == 0 || o.LowWatermark > o.HighWatermark {
		o.LowWatermark = min(DefaultLowWatermark, o.HighWatermark)
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = max(DefaultMaxRetryDelay, o.RetryDelay)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// Sender writes payloads chunk by chunk and pauses while the transport
// buffer is above the high watermark until it drains to the low one.
// Sends on one Sender are serialized.
type Sender struct {
	t    Transport
	opts Options

	sendMu  sync.Mutex
	drained chan struct{}

	abortOnce sync.Once
	aborted   chan struct{}
}

func NewSender(t Transport, opts Options) *Sender {
	s := &Sender{
		t:       t,
		opts:    opts.withDefaults(),
		drained: make(chan struct{}, 1),
		aborted: make(chan struct{}),
	}
	t.SetBufferedAmountLowThreshold(s.opts.LowWatermark)
	t.OnBufferedAmountLow(func() {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	})
	return s
}

// Abort fails pending and future sends with ErrTransportClosed. Call it when
// the transport reports closure.
func (s *Sender) Abort() {
	s.abortOnce.Do(func() { close(s.aborted) })
}

// Send transmits data as the named transfer. Chunks go out in index order; a
// zero-length payload is sent as a single empty chunk.
func (s *Sender) Send(ctx context.Context, name string, data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	total := int64(len(data))
	chunks := max(1, (len(data)+s.opts.ChunkSize-1)/s.opts.ChunkSize)
	logger := log.With().Str("module", "transfer").Str("name", name).Logger()
	logger.Info().Int64("size", total).Int("chunks", chunks).Msg("send started")

	for i := 0; i < chunks; i++ {
		lo := i * s.opts.ChunkSize
		hi := min(lo+s.opts.ChunkSize, len(data))
		frame, err := EncodeChunk(Header{Name: name, TotalSize: total, ChunkIndex: i}, data[lo:hi])
		if err != nil {
			return err
		}
		if err := s.waitForRoom(ctx); err != nil {
			return fmt.Errorf("send %q chunk %d: %w", name, i, err)
		}
		if err := s.sendFrame(ctx, frame); err != nil {
			return fmt.Errorf("send %q chunk %d: %w", name, i, err)
		}
	}
	logger.Info().Msg("send finished")
	return nil
}

func (s *Sender) waitForRoom(ctx context.Context) error {
	for s.t.BufferedAmount() > s.opts.HighWatermark {
		log.Debug().Str("module", "transfer").Uint64("buffered", s.t.BufferedAmount()).Msg("waiting for drain")
		select {
		case <-s.drained:
		case <-s.aborted:
			return ErrTransportClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Sender) sendFrame(ctx context.Context, frame []byte) error {
	delay := s.opts.RetryDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-s.aborted:
			return ErrTransportClosed
		default:
		}
		err := s.t.Send(frame)
		if err == nil {
			return nil
		}
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, ErrTransportClosed) {
			return fmt.Errorf("%w: %w", ErrTransportClosed, err)
		}
		if s.opts.MaxRetries > 0 && attempt > s.opts.MaxRetries {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
		log.Warn().Err(err).Str("module", "transfer").Int("attempt", attempt).Dur("delay", delay).Msg("transient send failure")
		select {
		case <-s.opts.Clock.After(delay):
		case <-s.aborted:
			return ErrTransportClosed
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, s.opts.MaxRetryDelay)
	}
}
