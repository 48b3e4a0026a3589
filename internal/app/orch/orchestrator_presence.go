package orch

import (
	"context"

	"github.com/dkeye/Dialtone/internal/app"
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

// PresenceEvent converts a registry snapshot to its wire form.
func PresenceEvent(snap app.Snapshot) protocol.PresenceSnapshot {
	ev := protocol.PresenceSnapshot{
		Type:  protocol.TypePresenceSnapshot,
		Users: make([]protocol.PresenceUser, 0, len(snap)),
	}
	for _, e := range snap {
		u := protocol.PresenceUser{
			UserName:    e.Identity.Name.String(),
			Name:        e.Identity.DisplayName,
			Connections: make([]protocol.PresenceConnection, 0, len(e.Connections)),
		}
		for _, c := range e.Connections {
			u.Connections = append(u.Connections, protocol.PresenceConnection{
				ConnectionID: c.ID.String(),
				ClientType:   string(c.Class),
			})
		}
		ev.Users = append(ev.Users, u)
	}
	return ev
}

// SendPresence pushes the current snapshot to one connection.
func (o *Orchestrator) SendPresence(m core.MemberSession) error {
	return o.Notifier.Send(m, PresenceEvent(o.Registry.Snapshot()))
}

// BroadcastPresence fans registry publications out to every connection until
// ctx is done.
func (o *Orchestrator) BroadcastPresence(ctx context.Context) {
	ch, cancel := o.Registry.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			sent := o.Notifier.Broadcast(o.Registry.All(), PresenceEvent(snap))
			log.Debug().Str("module", "orch").Int("identities", len(snap)).Int("sent", sent).Msg("presence broadcast")
		}
	}
}
