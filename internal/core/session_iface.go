package core

import "github.com/dkeye/Dialtone/internal/domain"

// MemberSession binds a live domain.Connection and its transport endpoint.
// This is what the presence registry stores and fans out to.
type MemberSession interface {
	Meta() domain.Connection
	Signal() SignalConnection
}
