package signal

import (
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(m core.MemberSession) {
	ctl.sendJSON(m, protocol.Pong{Type: protocol.TypePong})
}

func (ctl *SignalWSController) handleWhoAmI(m core.MemberSession) {
	meta := m.Meta()
	ctl.sendJSON(m, protocol.WhoAmI{
		Type:         protocol.TypeWhoAmI,
		UserName:     meta.Identity.Name.String(),
		Name:         meta.Identity.DisplayName,
		ConnectionID: meta.ID.String(),
		ClientType:   string(meta.Class),
	})
}

// handlePresence resyncs the requester; registration itself happens on upgrade.
func (ctl *SignalWSController) handlePresence(m core.MemberSession) {
	if err := ctl.Orch.SendPresence(m); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", m.Meta().ID.String()).Msg("send presence")
	}
}
