package signal

import (
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
)

func (ctl *SignalWSController) handleInitiate(m core.MemberSession, data []byte) {
	var p protocol.InitiateCall
	if err := protocol.Decode(data, &p); err != nil {
		ctl.sendError(m, protocol.TypeInitiateCall, err)
		return
	}
	if err := ctl.Orch.InitiateCall(m, domain.IdentityName(p.Callee), p.UseVideo); err != nil {
		ctl.sendError(m, protocol.TypeInitiateCall, err)
	}
}

func (ctl *SignalWSController) handleAnswer(m core.MemberSession, data []byte) {
	var p protocol.AnswerCall
	if err := protocol.Decode(data, &p); err != nil {
		ctl.sendError(m, protocol.TypeAnswerCall, err)
		return
	}
	if err := ctl.Orch.AnswerCall(m, domain.IdentityName(p.Caller)); err != nil {
		ctl.sendError(m, protocol.TypeAnswerCall, err)
	}
}

func (ctl *SignalWSController) handleReject(m core.MemberSession, data []byte) {
	var p protocol.RejectCall
	if err := protocol.Decode(data, &p); err != nil {
		ctl.sendError(m, protocol.TypeRejectCall, err)
		return
	}
	if err := ctl.Orch.RejectCall(m, domain.IdentityName(p.Caller)); err != nil {
		ctl.sendError(m, protocol.TypeRejectCall, err)
	}
}

func (ctl *SignalWSController) handleEnd(m core.MemberSession, data []byte) {
	var p protocol.EndCall
	if err := protocol.Decode(data, &p); err != nil {
		ctl.sendError(m, protocol.TypeEndCall, err)
		return
	}
	if err := ctl.Orch.EndCall(m, domain.IdentityName(p.Peer)); err != nil {
		ctl.sendError(m, protocol.TypeEndCall, err)
	}
}
