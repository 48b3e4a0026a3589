package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Dialtone/internal/app/transfer"
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrRejected = errors.New("call rejected")
	ErrEnded    = errors.New("call ended by peer")
	ErrNoCall   = errors.New("no call in progress")

	ErrAnsweredElsewhere = errors.New("call answered on another device")
)

const DefaultLabel = "transfer"

// MediaFactory creates the media side of a call with the given remote peer.
type MediaFactory func(remote string) (core.MediaConnection, error)

type Options struct {
	// AutoAnswer answers every incoming call; otherwise calls are rejected.
	AutoAnswer     bool
	UseVideo       bool
	Label          string
	Transfer       transfer.Options
	MaxReceiveSize int64
}

// Peer drives one call at a time: it answers or places calls, negotiates the
// media connection through the relay and moves files over its data channel.
// Server events are handled sequentially by Run.
type Peer struct {
	sig      *SignalClient
	newMedia MediaFactory
	obs      transfer.Observer
	opts     Options

	mu         sync.Mutex
	self       protocol.WhoAmI
	presence   protocol.PresenceSnapshot
	calling    string
	remote     string
	remoteConn string
	media      core.MediaConnection
	sender     *transfer.Sender
	receiver   *transfer.Receiver
	open       chan struct{}
	openOnce   *sync.Once
	done       chan struct{}
	doneErr    error
	finished   bool
}

func NewPeer(sig *SignalClient, newMedia MediaFactory, obs transfer.Observer, opts Options) *Peer {
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	p := &Peer{sig: sig, newMedia: newMedia, obs: obs, opts: opts}
	p.resetLocked()
	return p
}

func (p *Peer) resetLocked() {
	p.calling, p.remote, p.remoteConn = "", "", ""
	p.media, p.sender, p.receiver = nil, nil, nil
	p.open = make(chan struct{})
	p.openOnce = &sync.Once{}
	p.done = make(chan struct{})
	p.doneErr = nil
	p.finished = false
}

// startLocked clears a finished call before the next one.
func (p *Peer) startLocked() {
	if p.finished {
		p.resetLocked()
	}
}

// Run handles server events until the signaling connection ends.
func (p *Peer) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- p.sig.Run(ctx) }()
	for ev := range p.sig.Events() {
		p.handle(ev)
	}
	p.teardown(ErrClosed)
	return <-errc
}

func (p *Peer) Self() protocol.WhoAmI {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.self
}

func (p *Peer) Presence() protocol.PresenceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presence
}

// Call rings every connection of callee.
func (p *Peer) Call(callee string) error {
	p.mu.Lock()
	p.startLocked()
	p.calling = callee
	p.mu.Unlock()
	return p.sig.InitiateCall(callee, p.opts.UseVideo)
}

// Hangup ends the current call.
func (p *Peer) Hangup() error {
	p.mu.Lock()
	peer := p.remote
	if peer == "" {
		peer = p.calling
	}
	p.mu.Unlock()
	if peer == "" {
		return ErrNoCall
	}
	err := p.sig.EndCall(peer)
	p.teardown(nil)
	return err
}

// Done is closed when the current call finishes.
func (p *Peer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Err reports why the last call finished.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneErr
}

// WaitOpen blocks until the data channel of the current call is open.
func (p *Peer) WaitOpen(ctx context.Context) error {
	p.mu.Lock()
	open, done := p.open, p.done
	p.mu.Unlock()
	select {
	case <-open:
		return nil
	case <-done:
		return ErrNoCall
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendFile waits for the data channel and transmits data as name.
func (p *Peer) SendFile(ctx context.Context, name string, data []byte) error {
	if err := p.WaitOpen(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	s := p.sender
	p.mu.Unlock()
	if s == nil {
		return ErrNoCall
	}
	return s.Send(ctx, name, data)
}

func (p *Peer) handle(ev Event) {
	var err error
	switch ev.Type {
	case protocol.TypeWhoAmI:
		var w protocol.WhoAmI
		if err = ev.Decode(&w); err == nil {
			p.mu.Lock()
			p.self = w
			p.mu.Unlock()
		}
	case protocol.TypePresenceSnapshot:
		var s protocol.PresenceSnapshot
		if err = ev.Decode(&s); err == nil {
			p.mu.Lock()
			p.presence = s
			p.mu.Unlock()
		}
	case protocol.TypeIncomingCall:
		var ic protocol.IncomingCall
		if err = ev.Decode(&ic); err == nil {
			err = p.onIncoming(ic)
		}
	case protocol.TypeCallAnswered:
		var ca protocol.CallAnswered
		if err = ev.Decode(&ca); err == nil {
			err = p.onAnswered(ca)
		}
	case protocol.TypeCallRejected:
		var cr protocol.CallRejected
		if err = ev.Decode(&cr); err == nil {
			log.Info().Str("module", "client").Str("callee", cr.Callee).Msg("call rejected")
			p.teardown(ErrRejected)
		}
	case protocol.TypeReceiveOffer, protocol.TypeReceiveAnswer, protocol.TypeReceiveICECandidate:
		var r protocol.Relayed
		if err = ev.Decode(&r); err == nil {
			err = p.onRelayed(r)
		}
	case protocol.TypeCallEnded:
		var ce protocol.CallEnded
		if err = ev.Decode(&ce); err == nil {
			log.Info().Str("module", "client").Str("sender", ce.Sender).Msg("call ended")
			p.teardown(ErrEnded)
		}
	case protocol.TypeError:
		var e protocol.Error
		if err = ev.Decode(&e); err == nil {
			log.Warn().Str("module", "client").Str("code", e.Error).Str("verb", e.Verb).Str("message", e.Message).Msg("server error")
			if e.Verb == protocol.TypeInitiateCall {
				p.teardown(fmt.Errorf("initiate call: %s", e.Error))
			}
		}
	case protocol.TypePong:
	default:
		log.Debug().Str("module", "client").Str("type", ev.Type).Msg("ignored event")
	}
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("type", ev.Type).Msg("handle event")
	}
}

func (p *Peer) onIncoming(ic protocol.IncomingCall) error {
	p.mu.Lock()
	busy := p.remote != "" || p.calling != ""
	if !busy {
		p.startLocked()
	}
	p.mu.Unlock()
	if busy || !p.opts.AutoAnswer {
		log.Info().Str("module", "client").Str("caller", ic.Caller).Bool("busy", busy).Msg("declining call")
		return p.sig.RejectCall(ic.Caller)
	}
	// media exists before the offer so early candidates get buffered
	if err := p.bind(ic.Caller, ic.CallerConnectionID); err != nil {
		return err
	}
	log.Info().Str("module", "client").Str("caller", ic.Caller).Str("caller_name", ic.CallerName).Msg("answering call")
	return p.sig.AnswerCall(ic.Caller)
}

func (p *Peer) onAnswered(ca protocol.CallAnswered) error {
	p.mu.Lock()
	self, calling := p.self, p.calling
	p.mu.Unlock()

	if ca.Callee == self.UserName {
		if ca.CalleeConnectionID != self.ConnectionID {
			log.Info().Str("module", "client").Str("conn", ca.CalleeConnectionID).Msg("answered on another device")
			p.teardown(ErrAnsweredElsewhere)
		}
		return nil
	}
	if ca.Callee != calling {
		return nil
	}
	if err := p.bind(ca.Callee, ca.CalleeConnectionID); err != nil {
		return err
	}

	p.mu.Lock()
	media := p.media
	p.mu.Unlock()
	dt, err := media.OpenDataChannel(p.opts.Label)
	if err != nil {
		return err
	}
	p.attach(dt)
	offer, err := media.CreateOffer()
	if err != nil {
		return err
	}
	return p.sig.SendOffer(ca.Callee, ca.CalleeConnectionID, offer)
}

func (p *Peer) onRelayed(r protocol.Relayed) error {
	p.mu.Lock()
	media, remote, remoteConn := p.media, p.remote, p.remoteConn
	p.mu.Unlock()
	if media == nil || r.Sender != remote || r.SenderConnectionID != remoteConn {
		log.Warn().Str("module", "client").Str("sender", r.Sender).Str("type", r.Type).Msg("relay from outside the call dropped")
		return nil
	}

	switch r.Type {
	case protocol.TypeReceiveOffer:
		answer, err := media.ApplyOffer(r.SDP)
		if err != nil {
			return err
		}
		return p.sig.SendAnswer(remote, remoteConn, answer)
	case protocol.TypeReceiveAnswer:
		return media.ApplyAnswer(r.SDP)
	default:
		return media.AddRemoteCandidate(r.Candidate)
	}
}

// bind fixes the remote connection of the call and creates its media side.
func (p *Peer) bind(remote, remoteConn string) error {
	media, err := p.newMedia(remote)
	if err != nil {
		return err
	}
	media.OnLocalCandidate(func(c string) {
		if err := p.sig.SendICECandidate(remote, remoteConn, c); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("send candidate")
		}
	})
	media.OnDataChannel(p.attach)
	media.OnClosed(func() { p.teardown(nil) })

	p.mu.Lock()
	p.remote, p.remoteConn, p.media = remote, remoteConn, media
	p.mu.Unlock()
	return media.Start(context.Background())
}

func (p *Peer) attach(dt core.DataTransport) {
	s := transfer.NewSender(dt, p.opts.Transfer)
	r := transfer.NewReceiver(p.obs, p.opts.MaxReceiveSize)

	p.mu.Lock()
	p.sender, p.receiver = s, r
	open, once := p.open, p.openOnce
	p.mu.Unlock()

	dt.OnFrame(func(b []byte) {
		if err := r.HandleFrame(b); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad transfer frame")
		}
	})
	dt.OnOpen(func() {
		log.Info().Str("module", "client").Str("label", dt.Label()).Msg("data channel open")
		once.Do(func() { close(open) })
	})
	dt.OnClose(func() {
		s.Abort()
		r.Close()
	})
}

func (p *Peer) teardown(reason error) {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	if p.remote == "" && p.calling == "" && !errors.Is(reason, ErrClosed) {
		p.mu.Unlock()
		return
	}
	p.finished = true
	media, s, r, done := p.media, p.sender, p.receiver, p.done
	p.doneErr = reason
	p.mu.Unlock()

	if s != nil {
		s.Abort()
	}
	if r != nil {
		r.Close()
	}
	if media != nil {
		media.Close()
	}
	close(done)

	p.mu.Lock()
	err := p.doneErr
	p.resetLocked()
	// keep the finished call observable until the next one starts
	p.doneErr = err
	p.done = done
	p.finished = true
	p.mu.Unlock()
}
