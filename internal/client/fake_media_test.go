package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/Dialtone/internal/core"
)

// memTransport is one end of an in-memory data channel.
type memTransport struct {
	label string

	mu      sync.Mutex
	peer    *memTransport
	onFrame func([]byte)
	onOpen  func()
	onClose func()
	closed  bool
}

func (m *memTransport) Label() string { return m.label }

func (m *memTransport) Send(b []byte) error {
	m.mu.Lock()
	peer, closed := m.peer, m.closed
	m.mu.Unlock()
	if closed || peer == nil {
		return fmt.Errorf("send on closed channel")
	}
	peer.mu.Lock()
	fn := peer.onFrame
	peer.mu.Unlock()
	if fn != nil {
		fn(append([]byte(nil), b...))
	}
	return nil
}

func (m *memTransport) BufferedAmount() uint64               { return 0 }
func (m *memTransport) SetBufferedAmountLowThreshold(uint64) {}
func (m *memTransport) OnBufferedAmountLow(func())           {}

func (m *memTransport) OnOpen(fn func()) {
	m.mu.Lock()
	m.onOpen = fn
	m.mu.Unlock()
}

func (m *memTransport) OnFrame(fn func([]byte)) {
	m.mu.Lock()
	m.onFrame = fn
	m.mu.Unlock()
}

func (m *memTransport) OnClose(fn func()) {
	m.mu.Lock()
	m.onClose = fn
	m.mu.Unlock()
}

func (m *memTransport) fireOpen() {
	m.mu.Lock()
	fn := m.onOpen
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *memTransport) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	fn := m.onClose
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// switchboard connects fakeMedia instances by the id embedded in their
// descriptors.
type switchboard struct {
	mu    sync.Mutex
	media map[string]*fakeMedia
	seq   int
}

func newSwitchboard() *switchboard {
	return &switchboard{media: make(map[string]*fakeMedia)}
}

func (sb *switchboard) factory(owner string) MediaFactory {
	return func(remote string) (core.MediaConnection, error) {
		sb.mu.Lock()
		defer sb.mu.Unlock()
		sb.seq++
		m := &fakeMedia{sb: sb, id: fmt.Sprintf("%s-%d", owner, sb.seq), candidates: 3}
		sb.media[m.id] = m
		return m, nil
	}
}

func (sb *switchboard) get(id string) *fakeMedia {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.media[id]
}

// fakeMedia negotiates by exchanging "offer:<id>" and "answer:<id>" and
// emits numbered local candidates once its local description is set.
type fakeMedia struct {
	sb         *switchboard
	id         string
	candidates int

	mu            sync.Mutex
	started       bool
	closed        bool
	remoteSet     bool
	early         int
	applied       []string
	local         []*memTransport
	onCandidate   func(string)
	onDataChannel func(core.DataTransport)
	onClosed      func()
}

func (f *fakeMedia) Start(context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	chans := f.local
	fn := f.onClosed
	f.mu.Unlock()
	for _, c := range chans {
		_ = c.Close()
	}
	if fn != nil {
		fn()
	}
}

func (f *fakeMedia) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMedia) emitCandidates() {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	for i := 0; i < f.candidates && fn != nil; i++ {
		fn(fmt.Sprintf("%s/cand-%d", f.id, i))
	}
}

func (f *fakeMedia) CreateOffer() (string, error) {
	go f.emitCandidates()
	return "offer:" + f.id, nil
}

func (f *fakeMedia) ApplyOffer(offer string) (string, error) {
	remote := f.sb.get(strings.TrimPrefix(offer, "offer:"))
	if remote == nil {
		return "", fmt.Errorf("unknown offer %q", offer)
	}
	f.mu.Lock()
	f.remoteSet = true
	f.mu.Unlock()

	remote.mu.Lock()
	offered := append([]*memTransport(nil), remote.local...)
	remote.mu.Unlock()

	for _, rc := range offered {
		mine := &memTransport{label: rc.label, peer: rc}
		rc.mu.Lock()
		rc.peer = mine
		rc.mu.Unlock()
		f.mu.Lock()
		f.local = append(f.local, mine)
		fn := f.onDataChannel
		f.mu.Unlock()
		if fn != nil {
			fn(mine)
		}
	}
	go f.emitCandidates()
	return "answer:" + f.id, nil
}

func (f *fakeMedia) ApplyAnswer(answer string) error {
	remote := f.sb.get(strings.TrimPrefix(answer, "answer:"))
	if remote == nil {
		return fmt.Errorf("unknown answer %q", answer)
	}
	f.mu.Lock()
	f.remoteSet = true
	chans := append([]*memTransport(nil), f.local...)
	f.mu.Unlock()
	for _, c := range chans {
		c.fireOpen()
		c.mu.Lock()
		peer := c.peer
		c.mu.Unlock()
		if peer != nil {
			peer.fireOpen()
		}
	}
	return nil
}

func (f *fakeMedia) AddRemoteCandidate(c string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.remoteSet {
		f.early++
	}
	f.applied = append(f.applied, c)
	return nil
}

func (f *fakeMedia) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

func (f *fakeMedia) OnLocalCandidate(fn func(string)) {
	f.mu.Lock()
	f.onCandidate = fn
	f.mu.Unlock()
}

func (f *fakeMedia) OpenDataChannel(label string) (core.DataTransport, error) {
	t := &memTransport{label: label}
	f.mu.Lock()
	f.local = append(f.local, t)
	f.mu.Unlock()
	return t, nil
}

func (f *fakeMedia) OnDataChannel(fn func(core.DataTransport)) {
	f.mu.Lock()
	f.onDataChannel = fn
	f.mu.Unlock()
}

func (f *fakeMedia) OnClosed(fn func()) {
	f.mu.Lock()
	f.onClosed = fn
	f.mu.Unlock()
}

func (sb *switchboard) owned(owner string) []*fakeMedia {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	var out []*fakeMedia
	for id, m := range sb.media {
		if strings.HasPrefix(id, owner+"-") {
			out = append(out, m)
		}
	}
	return out
}
