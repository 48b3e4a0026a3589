package app

import (
	"sync/atomic"
	"time"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog/log"
)

// RelayKind tells the call machine which handshake step was forwarded.
type RelayKind int

const (
	RelayOffer RelayKind = iota
	RelayAnswer
	RelayCandidate
)

// Calls tracks call attempts per directed identity pair. Transitions of one
// session are serialized by its own lock; the table only guards membership.
type Calls struct {
	reg     *Registry
	notify  *Notifier
	limiter *RateLimiter

	sessions cmap.ConcurrentMap[string, *CallSession]
	attempts atomic.Uint64

	// beforeInsert runs between reading the callee's connections and
	// publishing the session. Tests use it to interleave disconnects.
	beforeInsert func()
}

func NewCalls(reg *Registry, notify *Notifier, limiter *RateLimiter) *Calls {
	return &Calls{
		reg:      reg,
		notify:   notify,
		limiter:  limiter,
		sessions: cmap.New[*CallSession](),
	}
}

// Initiate rings every connection of callee. A previous attempt for the same
// pair is replaced: a ringing one is cancelled, a live one is ended and both of
// its bound connections get call-ended.
func (c *Calls) Initiate(caller core.MemberSession, callee domain.IdentityName, useVideo bool) (*CallSession, error) {
	meta := caller.Meta()
	if callee == meta.Identity.Name {
		return nil, ErrSelfCall
	}
	targets := c.reg.ListConnections(callee)
	if len(targets) == 0 {
		return nil, ErrUnknownTarget
	}
	if !c.limiter.Allow(meta.Identity.Name) {
		return nil, ErrRateLimited
	}

	s := &CallSession{
		Caller:     meta.Identity,
		CallerConn: meta.ID,
		Callee:     callee,
		Attempt:    c.attempts.Add(1),
		UseVideo:   useVideo,
		StartedAt:  time.Now(),
		state:      domain.CallRinging,
		rung:       make(map[domain.ConnectionID]struct{}, len(targets)),
	}
	for _, t := range targets {
		s.rung[t.Meta().ID] = struct{}{}
	}
	if c.beforeInsert != nil {
		c.beforeInsert()
	}

	var ended *CallSession
	c.sessions.Upsert(s.key(), s, func(exist bool, old, next *CallSession) *CallSession {
		if exist && old != nil {
			old.mu.Lock()
			if !old.state.Terminal() {
				log.Info().Str("module", "app.calls").Str("caller", old.Caller.Name.String()).Str("callee", old.Callee.String()).Uint64("attempt", old.Attempt).Str("state", old.state.String()).Msg("superseded")
				if old.state.Live() {
					ended = old
				}
				old.state = endState(old.state)
				old.rung = nil
			}
			old.mu.Unlock()
		}
		return next
	})
	if ended != nil {
		c.notifyBound(ended)
	}

	// a callee device that left before the session was visible to
	// ConnectionLost must not stay rung
	alive, ringing := c.pruneRung(s)
	if !ringing {
		// answered or cancelled by a concurrent event already
		return s, nil
	}
	if len(alive) == 0 {
		c.forget(s)
		log.Info().Str("module", "app.calls").Str("caller", meta.Identity.Name.String()).Str("callee", callee.String()).Uint64("attempt", s.Attempt).Msg("callee left before ringing")
		return nil, ErrUnknownTarget
	}

	rung := c.notify.Broadcast(alive, protocol.IncomingCall{
		Type:               protocol.TypeIncomingCall,
		Caller:             meta.Identity.Name.String(),
		CallerName:         meta.Identity.DisplayName,
		UseVideo:           useVideo,
		CallerConnectionID: meta.ID.String(),
	})
	log.Info().Str("module", "app.calls").Str("caller", meta.Identity.Name.String()).Str("callee", callee.String()).Uint64("attempt", s.Attempt).Int("rung", rung).Bool("video", useVideo).Msg("call initiated")
	return s, nil
}

// pruneRung drops rung connections that are no longer registered and returns
// the live ones. A ringing session left with none is cancelled. ringing is
// false when the session already moved on.
func (c *Calls) pruneRung(s *CallSession) (alive []core.MemberSession, ringing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.CallRinging {
		return nil, false
	}
	for id := range s.rung {
		m, err := c.reg.Lookup(s.Callee, id)
		if err != nil {
			delete(s.rung, id)
			continue
		}
		alive = append(alive, m)
	}
	if len(alive) == 0 {
		s.state = domain.CallCancelled
		s.rung = nil
	}
	return alive, true
}

// notifyBound tells both connections of an ended live call that it is over.
func (c *Calls) notifyBound(s *CallSession) {
	s.mu.Lock()
	winner := s.winner
	s.mu.Unlock()
	if m, err := c.reg.Lookup(s.Callee, winner); err == nil {
		c.notify.Broadcast([]core.MemberSession{m}, protocol.CallEnded{Type: protocol.TypeCallEnded, Sender: s.Caller.Name.String()})
	}
	if m, err := c.reg.Lookup(s.Caller.Name, s.CallerConn); err == nil {
		c.notify.Broadcast([]core.MemberSession{m}, protocol.CallEnded{Type: protocol.TypeCallEnded, Sender: s.Callee.String()})
	}
}

// Answer binds the answering connection as the winner. Only the first answer
// of a ringing session succeeds; later ones get ErrLateAnswer. Connections
// that joined after the ring get ErrNotRung.
func (c *Calls) Answer(answerer core.MemberSession, caller domain.IdentityName) (*CallSession, error) {
	meta := answerer.Meta()
	s, ok := c.sessions.Get(pairKey(caller, meta.Identity.Name))
	if !ok {
		return nil, ErrLateAnswer
	}

	s.mu.Lock()
	if s.state != domain.CallRinging {
		s.mu.Unlock()
		log.Debug().Str("module", "app.calls").Str("caller", caller.String()).Str("conn", meta.ID.String()).Msg("late answer discarded")
		return nil, ErrLateAnswer
	}
	if _, rung := s.rung[meta.ID]; !rung {
		s.mu.Unlock()
		log.Debug().Str("module", "app.calls").Str("caller", caller.String()).Str("conn", meta.ID.String()).Msg("answer from unrung connection")
		return nil, ErrNotRung
	}
	s.winner = meta.ID
	s.state = domain.CallAnswered
	s.rung = nil
	s.mu.Unlock()

	ev := protocol.CallAnswered{
		Type:               protocol.TypeCallAnswered,
		Callee:             meta.Identity.Name.String(),
		CalleeConnectionID: meta.ID.String(),
	}
	c.notify.Broadcast(c.reg.ListConnections(caller), ev)
	c.notify.Broadcast(others(c.reg.ListConnections(meta.Identity.Name), meta.ID), ev)
	log.Info().Str("module", "app.calls").Str("caller", caller.String()).Str("callee", meta.Identity.Name.String()).Str("winner", meta.ID.String()).Uint64("attempt", s.Attempt).Msg("call answered")
	return s, nil
}

// Reject declines a ringing call on behalf of every callee device. Only a
// rung connection may reject.
func (c *Calls) Reject(rejecter core.MemberSession, caller domain.IdentityName) error {
	meta := rejecter.Meta()
	s, ok := c.sessions.Get(pairKey(caller, meta.Identity.Name))
	if !ok {
		return ErrLateAnswer
	}
	s.mu.Lock()
	if s.state != domain.CallRinging {
		s.mu.Unlock()
		return ErrLateAnswer
	}
	if _, rung := s.rung[meta.ID]; !rung {
		s.mu.Unlock()
		return ErrNotRung
	}
	s.state = domain.CallRejected
	s.rung = nil
	s.mu.Unlock()
	c.forget(s)

	ev := protocol.CallRejected{Type: protocol.TypeCallRejected, Callee: meta.Identity.Name.String()}
	c.notify.Broadcast(c.reg.ListConnections(caller), ev)
	c.notify.Broadcast(others(c.reg.ListConnections(meta.Identity.Name), meta.ID), ev)
	log.Info().Str("module", "app.calls").Str("caller", caller.String()).Str("callee", meta.Identity.Name.String()).Uint64("attempt", s.Attempt).Msg("call rejected")
	return nil
}

// End terminates the call between sender and peer in either direction and
// notifies every connection of peer. Ending a call that does not exist is a
// no-op.
func (c *Calls) End(sender core.MemberSession, peer domain.IdentityName) error {
	meta := sender.Meta()
	for _, key := range []string{pairKey(meta.Identity.Name, peer), pairKey(peer, meta.Identity.Name)} {
		s, ok := c.sessions.Get(key)
		if !ok {
			continue
		}
		if !c.terminate(s) {
			continue
		}
		c.notify.Broadcast(c.reg.ListConnections(peer), protocol.CallEnded{
			Type:   protocol.TypeCallEnded,
			Sender: meta.Identity.Name.String(),
		})
		log.Info().Str("module", "app.calls").Str("sender", meta.Identity.Name.String()).Str("peer", peer.String()).Uint64("attempt", s.Attempt).Msg("call ended")
	}
	return nil
}

// ConnectionLost ends calls bound to a connection that went away. A ringing
// attempt is cancelled once its last rung callee device disconnects.
func (c *Calls) ConnectionLost(conn domain.Connection) {
	name := conn.Identity.Name
	var involved []*CallSession
	c.sessions.IterCb(func(_ string, s *CallSession) {
		if s.Caller.Name == name || s.Callee == name {
			involved = append(involved, s)
		}
	})

	for _, s := range involved {
		var survivor domain.IdentityName
		s.mu.Lock()
		switch {
		case s.state.Terminal():
		case s.Caller.Name == name && s.CallerConn == conn.ID:
			survivor = s.Callee
			s.state = endState(s.state)
		case s.Callee == name && s.winner == conn.ID:
			survivor = s.Caller.Name
			s.state = endState(s.state)
		case s.Callee == name && s.state == domain.CallRinging:
			delete(s.rung, conn.ID)
			if len(s.rung) == 0 {
				survivor = s.Caller.Name
				s.state = domain.CallCancelled
			}
		}
		terminal := s.state.Terminal()
		s.mu.Unlock()

		if survivor == "" {
			continue
		}
		if terminal {
			c.forget(s)
		}
		c.notify.Broadcast(c.reg.ListConnections(survivor), protocol.CallEnded{
			Type:   protocol.TypeCallEnded,
			Sender: name.String(),
		})
		log.Info().Str("module", "app.calls").Str("conn", conn.ID.String()).Str("identity", name.String()).Str("peer", survivor.String()).Uint64("attempt", s.Attempt).Msg("call ended by disconnect")
	}
}

// NoteRelayed advances an answered call through negotiation when an offer or
// answer passes between its two bound connections.
func (c *Calls) NoteRelayed(kind RelayKind, from, to domain.Connection) {
	if kind == RelayCandidate {
		return
	}
	for _, key := range []string{pairKey(from.Identity.Name, to.Identity.Name), pairKey(to.Identity.Name, from.Identity.Name)} {
		s, ok := c.sessions.Get(key)
		if !ok {
			continue
		}
		s.mu.Lock()
		if s.binds(from.ID, to.ID) {
			prev := s.state
			switch {
			case kind == RelayOffer && s.state == domain.CallAnswered:
				s.state = domain.CallNegotiating
			case kind == RelayAnswer && s.state == domain.CallNegotiating:
				s.state = domain.CallConnected
			}
			if prev != s.state {
				log.Debug().Str("module", "app.calls").Str("from", prev.String()).Str("to", s.state.String()).Uint64("attempt", s.Attempt).Msg("call state")
			}
		}
		s.mu.Unlock()
	}
}

// Get returns the session for the directed pair, if any.
func (c *Calls) Get(caller, callee domain.IdentityName) (*CallSession, bool) {
	return c.sessions.Get(pairKey(caller, callee))
}

// Active returns the number of non-terminal sessions.
func (c *Calls) Active() int {
	return c.sessions.Count()
}

// terminate moves a live or ringing session to its end state and removes it.
// It returns false when the session had already finished.
func (c *Calls) terminate(s *CallSession) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = endState(s.state)
	s.rung = nil
	s.mu.Unlock()
	c.forget(s)
	return true
}

func (c *Calls) forget(s *CallSession) {
	c.sessions.RemoveCb(s.key(), func(_ string, cur *CallSession, exists bool) bool {
		return exists && cur == s
	})
}

func endState(s domain.CallState) domain.CallState {
	if s == domain.CallRinging {
		return domain.CallCancelled
	}
	return domain.CallEnded
}

func others(members []core.MemberSession, skip domain.ConnectionID) []core.MemberSession {
	out := make([]core.MemberSession, 0, len(members))
	for _, m := range members {
		if m.Meta().ID != skip {
			out = append(out, m)
		}
	}
	return out
}
