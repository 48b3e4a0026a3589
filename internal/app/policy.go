package app

import (
	"errors"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(member core.MemberSession) BackpressureAction
}

// SimplePolicy closes slow connections; the client reconnects and resyncs presence.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.MemberSession) BackpressureAction {
	return KickMember
}

// DropPolicy discards the frame and keeps the connection.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.MemberSession) BackpressureAction {
	return DropFrame
}

// PolicyByName maps a config value to a Policy. Unknown names get SimplePolicy.
func PolicyByName(name string) Policy {
	if name == "drop" {
		return DropPolicy{}
	}
	return SimplePolicy{}
}

// Notifier encodes events and pushes them into connection send queues
// without blocking.
type Notifier struct {
	Policy Policy
}

func (n *Notifier) Send(m core.MemberSession, v any) error {
	frame, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.notify").Msg("encode event")
		return err
	}
	return n.push(m, frame)
}

// Broadcast sends v to every member and returns how many accepted it.
func (n *Notifier) Broadcast(members []core.MemberSession, v any) int {
	if len(members) == 0 {
		return 0
	}
	frame, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.notify").Msg("encode event")
		return 0
	}
	sent := 0
	for _, m := range members {
		if n.push(m, frame) == nil {
			sent++
		}
	}
	return sent
}

func (n *Notifier) push(m core.MemberSession, frame core.Frame) error {
	err := m.Signal().TrySend(frame)
	if err == nil || !errors.Is(err, core.ErrBackpressure) || n.Policy == nil {
		return err
	}
	meta := m.Meta()
	switch n.Policy.OnBackPressure(m) {
	case KickMember:
		log.Warn().Str("module", "app.notify").Str("conn", meta.ID.String()).Str("identity", meta.Identity.Name.String()).Msg("kicking slow connection")
		m.Signal().Close()
	case DropFrame, NoAction:
		log.Debug().Str("module", "app.notify").Str("conn", meta.ID.String()).Msg("dropped frame")
	}
	return err
}
