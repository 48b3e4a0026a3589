package orch

import (
	"github.com/dkeye/Dialtone/internal/app"
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/rs/zerolog/log"
)

// Orchestrator ties connection lifecycle to presence and call state.
type Orchestrator struct {
	Registry *app.Registry
	Calls    *app.Calls
	Relay    *app.Relay
	Notifier *app.Notifier
}

// New wires the call machine and relay around an existing registry.
func New(reg *app.Registry, policy app.Policy, limiter *app.RateLimiter) *Orchestrator {
	n := &app.Notifier{Policy: policy}
	calls := app.NewCalls(reg, n, limiter)
	return &Orchestrator{
		Registry: reg,
		Calls:    calls,
		Relay:    app.NewRelay(reg, calls, n),
		Notifier: n,
	}
}

// Connect registers a freshly authenticated connection.
func (o *Orchestrator) Connect(m core.MemberSession) error {
	if err := o.Registry.Register(m); err != nil {
		return err
	}
	meta := m.Meta()
	log.Info().Str("module", "orch").Str("identity", meta.Identity.Name.String()).Str("conn", meta.ID.String()).Msg("connected")
	return nil
}

// Disconnect removes the connection from presence before resolving the calls
// it was part of, so peers never see it as a relay target afterwards.
func (o *Orchestrator) Disconnect(m core.MemberSession) {
	meta := m.Meta()
	emptied, ok := o.Registry.Unregister(meta.Identity.Name, meta.ID)
	if !ok {
		return
	}
	o.Calls.ConnectionLost(meta)
	log.Info().Str("module", "orch").Str("identity", meta.Identity.Name.String()).Str("conn", meta.ID.String()).Bool("offline", emptied).Msg("disconnected")
}
