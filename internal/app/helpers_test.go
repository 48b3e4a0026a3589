package app

import (
	"sync"
	"testing"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrConnectionClosed
	}
	if f.full {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSignal) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// events decodes every frame received so far into generic maps.
func (f *fakeSignal) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(fr, &m))
		out = append(out, m)
	}
	return out
}

// ofType filters events by verb.
func (f *fakeSignal) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, e := range f.events(t) {
		if e["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}

type testMember struct {
	core.MemberSession
	sig *fakeSignal
}

func (m testMember) id() domain.ConnectionID { return m.Meta().ID }

func newMember(t *testing.T, reg *Registry, name string) testMember {
	t.Helper()
	id, err := domain.NewIdentity(name, "")
	require.NoError(t, err)
	sig := &fakeSignal{}
	m := core.NewMemberSession(domain.NewConnection(id, domain.ClientDesktop), sig)
	if reg != nil {
		require.NoError(t, reg.Register(m))
	}
	return testMember{MemberSession: m, sig: sig}
}

type fixture struct {
	reg    *Registry
	notify *Notifier
	calls  *Calls
	relay  *Relay
}

func newFixture() *fixture {
	reg := NewRegistry()
	n := &Notifier{Policy: SimplePolicy{}}
	calls := NewCalls(reg, n, nil)
	return &fixture{reg: reg, notify: n, calls: calls, relay: NewRelay(reg, calls, n)}
}

