package signal

import (
	"errors"

	"github.com/dkeye/Dialtone/internal/app"
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

// errorCode maps a handler error to the code sent to the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, protocol.ErrBadPayload):
		return protocol.CodeBadPayload
	case errors.Is(err, app.ErrStaleConnection):
		return protocol.CodeStaleConnection
	case errors.Is(err, app.ErrUnknownTarget):
		return protocol.CodeUnknownTarget
	case errors.Is(err, app.ErrRateLimited):
		return protocol.CodeRateLimited
	case errors.Is(err, app.ErrSelfCall):
		return protocol.CodeSelfCall
	case errors.Is(err, core.ErrBackpressure):
		return protocol.CodeUndeliverable
	default:
		return protocol.CodeInternal
	}
}

func (ctl *SignalWSController) sendError(m core.MemberSession, verb string, err error) {
	code := errorCode(err)
	log.Info().Err(err).Str("module", "signal").Str("conn", m.Meta().ID.String()).Str("verb", verb).Str("code", code).Msg("request failed")
	ev := protocol.Error{Type: protocol.TypeError, Error: code, Verb: verb}
	if code == protocol.CodeBadPayload {
		ev.Message = err.Error()
	}
	ctl.sendJSON(m, ev)
}
