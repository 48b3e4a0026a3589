package app

import (
	"sync"
	"time"

	"github.com/dkeye/Dialtone/internal/domain"
)

// CallSession is one call attempt from a caller connection to every
// connection of the callee identity. Exported fields do not change after
// creation; the rest is guarded by mu.
type CallSession struct {
	Caller     domain.Identity
	CallerConn domain.ConnectionID
	Callee     domain.IdentityName
	Attempt    uint64
	UseVideo   bool
	StartedAt  time.Time

	mu     sync.Mutex
	state  domain.CallState
	rung   map[domain.ConnectionID]struct{}
	winner domain.ConnectionID
}

func (s *CallSession) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Winner is the callee connection that answered, empty while ringing.
func (s *CallSession) Winner() domain.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winner
}

// Ringing returns the callee connections still being rung.
func (s *CallSession) Ringing() []domain.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConnectionID, 0, len(s.rung))
	for id := range s.rung {
		out = append(out, id)
	}
	return out
}

func (s *CallSession) key() string {
	return pairKey(s.Caller.Name, s.Callee)
}

// binds reports whether a and b are the two connections of an answered call.
// Caller must hold mu.
func (s *CallSession) binds(a, b domain.ConnectionID) bool {
	if s.winner == "" {
		return false
	}
	return (a == s.CallerConn && b == s.winner) || (a == s.winner && b == s.CallerConn)
}

func pairKey(caller, callee domain.IdentityName) string {
	return string(caller) + "\x00" + string(callee)
}
