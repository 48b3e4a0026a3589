package orch

import (
	"errors"

	"github.com/dkeye/Dialtone/internal/app"
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) InitiateCall(m core.MemberSession, callee domain.IdentityName, useVideo bool) error {
	_, err := o.Calls.Initiate(m, callee, useVideo)
	return err
}

// AnswerCall swallows late answers; the losing device already got
// call-answered and stops ringing on its own.
func (o *Orchestrator) AnswerCall(m core.MemberSession, caller domain.IdentityName) error {
	_, err := o.Calls.Answer(m, caller)
	if errors.Is(err, app.ErrLateAnswer) {
		log.Debug().Str("module", "orch").Str("conn", m.Meta().ID.String()).Str("caller", caller.String()).Msg("late answer ignored")
		return nil
	}
	return err
}

func (o *Orchestrator) RejectCall(m core.MemberSession, caller domain.IdentityName) error {
	err := o.Calls.Reject(m, caller)
	if errors.Is(err, app.ErrLateAnswer) {
		return nil
	}
	return err
}

func (o *Orchestrator) EndCall(m core.MemberSession, peer domain.IdentityName) error {
	return o.Calls.End(m, peer)
}
