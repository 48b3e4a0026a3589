package signal

import (
	"context"
	"time"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		}
	}
}

// readPump handles inbound messages one at a time, which keeps relayed
// messages from one connection in order. On exit the connection leaves
// presence before the socket is closed.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, m core.MemberSession, c *wsSignalConn) {
	conn := m.Meta().ID.String()
	defer func() {
		log.Info().Str("module", "signal").Str("conn", conn).Msg("readPump closing")
		ctl.Orch.Disconnect(m)
		cancel()
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", conn).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", conn).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(m, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(m core.MemberSession, data []byte) {
	typ, err := protocol.PeekType(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(m, "", err)
		return
	}

	switch typ {
	case protocol.TypeRegisterPresence:
		ctl.handlePresence(m)
	case protocol.TypePing:
		ctl.handlePing(m)
	case protocol.TypeWhoAmI:
		ctl.handleWhoAmI(m)
	case protocol.TypeInitiateCall:
		ctl.handleInitiate(m, data)
	case protocol.TypeAnswerCall:
		ctl.handleAnswer(m, data)
	case protocol.TypeRejectCall:
		ctl.handleReject(m, data)
	case protocol.TypeEndCall:
		ctl.handleEnd(m, data)
	case protocol.TypeSendOffer, protocol.TypeSendAnswer, protocol.TypeSendICECandidate:
		ctl.handleRelay(m, typ, data)
	default:
		log.Warn().Str("module", "signal").Str("type", typ).Msg("unknown signal")
		ctl.sendJSON(m, protocol.Error{Type: protocol.TypeError, Error: protocol.CodeUnknownVerb, Verb: typ})
	}
}

func (ctl *SignalWSController) sendJSON(m core.MemberSession, v any) {
	if err := ctl.Orch.Notifier.Send(m, v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", m.Meta().ID.String()).Msg("sendJSON")
	}
}
