package signal

import (
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
)

func (ctl *SignalWSController) handleRelay(m core.MemberSession, verb string, data []byte) {
	var p protocol.Relay
	if err := protocol.Decode(data, &p); err != nil {
		ctl.sendError(m, verb, err)
		return
	}
	target := domain.IdentityName(p.Target)
	conn := domain.ConnectionID(p.TargetConnectionID)

	var err error
	switch verb {
	case protocol.TypeSendOffer:
		err = ctl.Orch.Relay.RelayOffer(m, target, conn, p.SDP)
	case protocol.TypeSendAnswer:
		err = ctl.Orch.Relay.RelayAnswer(m, target, conn, p.SDP)
	case protocol.TypeSendICECandidate:
		err = ctl.Orch.Relay.RelayICECandidate(m, target, conn, p.Candidate)
	}
	if err != nil {
		ctl.sendError(m, verb, err)
	}
}
