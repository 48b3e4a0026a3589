package core

import "github.com/dkeye/Dialtone/internal/domain"

type memberSession struct {
	meta   domain.Connection
	signal SignalConnection
}

func NewMemberSession(meta domain.Connection, sig SignalConnection) MemberSession {
	return &memberSession{meta: meta, signal: sig}
}

func (s *memberSession) Meta() domain.Connection  { return s.meta }
func (s *memberSession) Signal() SignalConnection { return s.signal }
