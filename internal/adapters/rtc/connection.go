package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Dialtone/internal/app/ice"
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoRemoteDescription = errors.New("remote description not set")

// WebRTCConnection is a pion PeerConnection speaking the opaque descriptor
// format of the signaling channel: JSON-encoded SessionDescription and
// ICECandidateInit values.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	id     string
	cancel context.CancelFunc

	candidates *ice.Buffer

	mu            sync.Mutex
	onCandidate   func(string)
	onDataChannel func(core.DataTransport)
	onClosed      func()
	closeOnce     sync.Once
}

func DefaultWebRTCConfig(urls ...string) webrtc.Configuration {
	if len(urls) == 0 {
		urls = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

// NewSettingEngine returns pion settings with its logs routed to zerolog.
func NewSettingEngine() webrtc.SettingEngine {
	return webrtc.SettingEngine{LoggerFactory: loggerFactory{}}
}

func NewWebRTCConnection(cfg webrtc.Configuration, id string) (*WebRTCConnection, error) {
	return NewWebRTCConnectionWithAPI(webrtc.NewAPI(webrtc.WithSettingEngine(NewSettingEngine())), cfg, id)
}

// NewWebRTCConnectionWithAPI builds the connection from a configured API,
// e.g. one carrying a SettingEngine.
func NewWebRTCConnectionWithAPI(api *webrtc.API, cfg webrtc.Configuration, id string) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{pc: pc, id: id}
	c.candidates = ice.NewBuffer(c.applyCandidate)
	return c, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", c.id).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", c.id).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			c.fireClosed()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "webrtc").Msg("encode candidate")
			return
		}
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn != nil {
			fn(string(b))
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info().Str("module", "webrtc").Str("peer", c.id).Str("label", dc.Label()).Msg("remote data channel")
		c.mu.Lock()
		fn := c.onDataChannel
		c.mu.Unlock()
		if fn != nil {
			fn(NewDataChannel(dc))
		}
	})

	go func() {
		<-ctx.Done()
		c.Close()
	}()
	return nil
}

func (c *WebRTCConnection) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return encodeDescription(c.pc.LocalDescription())
}

func (c *WebRTCConnection) ApplyOffer(offer string) (string, error) {
	if err := c.setRemote(offer, webrtc.SDPTypeOffer); err != nil {
		return "", err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return encodeDescription(c.pc.LocalDescription())
}

func (c *WebRTCConnection) ApplyAnswer(answer string) error {
	return c.setRemote(answer, webrtc.SDPTypeAnswer)
}

// setRemote applies the remote description, then flushes candidates that
// arrived before it.
func (c *WebRTCConnection) setRemote(raw string, want webrtc.SDPType) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal([]byte(raw), &sd); err != nil {
		return fmt.Errorf("decode %s: %w", want, err)
	}
	if sd.Type != want {
		return fmt.Errorf("expected %s, got %s", want, sd.Type)
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	if err := c.candidates.Flush(); err != nil && !errors.Is(err, ice.ErrAlreadyFlushed) {
		log.Warn().Err(err).Str("module", "webrtc").Str("peer", c.id).Msg("flush candidates")
	}
	return nil
}

func (c *WebRTCConnection) AddRemoteCandidate(candidate string) error {
	return c.candidates.EnqueueOrApply(candidate)
}

func (c *WebRTCConnection) applyCandidate(raw string) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OpenDataChannel(label string) (core.DataTransport, error) {
	dc, err := c.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return NewDataChannel(dc), nil
}

func (c *WebRTCConnection) OnLocalCandidate(fn func(string)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnDataChannel(fn func(core.DataTransport)) {
	c.mu.Lock()
	c.onDataChannel = fn
	c.mu.Unlock()
}

// OnClosed sets application-level callback for cleanup.
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) fireClosed() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		fn := c.onClosed
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (c *WebRTCConnection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", c.id).Msg("close error")
	} else {
		log.Debug().Str("module", "webrtc").Str("peer", c.id).Msg("closed")
	}
	c.fireClosed()
}

func encodeDescription(sd *webrtc.SessionDescription) (string, error) {
	if sd == nil {
		return "", ErrNoRemoteDescription
	}
	b, err := json.Marshal(sd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
