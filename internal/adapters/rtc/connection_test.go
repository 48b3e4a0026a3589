package rtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T, id string) *WebRTCConnection {
	t.Helper()
	se := NewSettingEngine()
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	c, err := NewWebRTCConnectionWithAPI(webrtc.NewAPI(webrtc.WithSettingEngine(se)), webrtc.Configuration{}, id)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	c := newLocal(t, "a")
	require.NoError(t, c.AddRemoteCandidate(`{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`))
	assert.Equal(t, 1, c.candidates.Pending())
	assert.False(t, c.candidates.Flushed())
}

func TestApplyRejectsWrongDescriptionType(t *testing.T) {
	a := newLocal(t, "a")
	b := newLocal(t, "b")
	_, err := a.OpenDataChannel("transfer")
	require.NoError(t, err)
	offer, err := a.CreateOffer()
	require.NoError(t, err)

	assert.Error(t, b.ApplyAnswer(offer))
	_, err = b.ApplyOffer("not json")
	assert.Error(t, err)
}

// Two local peers negotiate through direct calls and exchange a frame on the
// data channel.
func TestLoopbackDataChannel(t *testing.T) {
	a := newLocal(t, "a")
	b := newLocal(t, "b")

	a.OnLocalCandidate(func(c string) { assert.NoError(t, b.AddRemoteCandidate(c)) })
	b.OnLocalCandidate(func(c string) { assert.NoError(t, a.AddRemoteCandidate(c)) })

	got := make(chan []byte, 1)
	b.OnDataChannel(func(dt core.DataTransport) {
		dt.OnFrame(func(p []byte) { got <- append([]byte(nil), p...) })
	})

	dt, err := a.OpenDataChannel("transfer")
	require.NoError(t, err)
	var once sync.Once
	dt.OnOpen(func() {
		once.Do(func() { assert.NoError(t, dt.Send([]byte("hello"))) })
	})

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	answer, err := b.ApplyOffer(offer)
	require.NoError(t, err)
	require.NoError(t, a.ApplyAnswer(answer))

	select {
	case p := <-got:
		assert.Equal(t, []byte("hello"), p)
	case <-time.After(10 * time.Second):
		t.Fatal("no data channel message")
	}
}
