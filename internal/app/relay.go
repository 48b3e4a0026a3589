package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Relay forwards handshake payloads to one specific connection of a target
// identity. Payloads are opaque. Messages from one sender connection reach
// a target connection in send order since both ends use FIFO queues and the
// sender's messages are handled one at a time.
type Relay struct {
	reg    *Registry
	calls  *Calls
	notify *Notifier
}

func NewRelay(reg *Registry, calls *Calls, notify *Notifier) *Relay {
	return &Relay{reg: reg, calls: calls, notify: notify}
}

func (r *Relay) RelayOffer(sender core.MemberSession, target domain.IdentityName, conn domain.ConnectionID, sdp string) error {
	return r.forward(RelayOffer, sender, target, conn, sdp)
}

func (r *Relay) RelayAnswer(sender core.MemberSession, target domain.IdentityName, conn domain.ConnectionID, sdp string) error {
	return r.forward(RelayAnswer, sender, target, conn, sdp)
}

func (r *Relay) RelayICECandidate(sender core.MemberSession, target domain.IdentityName, conn domain.ConnectionID, candidate string) error {
	return r.forward(RelayCandidate, sender, target, conn, candidate)
}

func (r *Relay) forward(kind RelayKind, sender core.MemberSession, target domain.IdentityName, conn domain.ConnectionID, payload string) error {
	from := sender.Meta()
	dst, err := r.reg.Lookup(target, conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("kind", kind.String()).Str("sender", from.Identity.Name.String()).Str("target", target.String()).Str("target_conn", conn.String()).Msg("relay target not found")
		return err
	}

	ev := protocol.Relayed{
		Sender:             from.Identity.Name.String(),
		SenderConnectionID: from.ID.String(),
	}
	switch kind {
	case RelayOffer:
		ev.Type, ev.SDP = protocol.TypeReceiveOffer, payload
	case RelayAnswer:
		ev.Type, ev.SDP = protocol.TypeReceiveAnswer, payload
	case RelayCandidate:
		ev.Type, ev.Candidate = protocol.TypeReceiveICECandidate, payload
	}

	if err := r.notify.Send(dst, ev); err != nil {
		if errors.Is(err, core.ErrConnectionClosed) {
			return ErrStaleConnection
		}
		return fmt.Errorf("deliver %s: %w", kind, err)
	}
	if r.calls != nil {
		r.calls.NoteRelayed(kind, from, dst.Meta())
	}
	log.Debug().Str("module", "app.relay").Str("kind", kind.String()).Str("sender", from.ID.String()).Str("target_conn", conn.String()).Msg("relayed")
	return nil
}

func (k RelayKind) String() string {
	switch k {
	case RelayOffer:
		return "offer"
	case RelayAnswer:
		return "answer"
	case RelayCandidate:
		return "candidate"
	}
	return "unknown"
}
