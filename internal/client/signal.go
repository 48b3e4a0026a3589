// Package client speaks the signaling protocol from the peer side.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("signaling client closed")

// Event is one server message with its verb peeked.
type Event struct {
	Type string
	Raw  []byte
}

func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// SignalClient is a WebSocket connection to the signaling server.
type SignalClient struct {
	conn   *websocket.Conn
	events chan Event

	writeMu sync.Mutex
	closeMu sync.Once
}

// SignalURL turns an http(s) base URL into the signaling socket URL.
func SignalURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws/signal"
	return u.String(), nil
}

// Dial opens the signaling socket authenticated with a bearer token.
func Dial(ctx context.Context, base, token string) (*SignalClient, error) {
	target, err := SignalURL(base)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("User-Agent", "dialtone-peer (Linux)")

	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := d.DialContext(ctx, target, h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", target, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &SignalClient{conn: conn, events: make(chan Event, 64)}, nil
}

// Events delivers server messages in arrival order. It is closed when the
// read loop ends.
func (c *SignalClient) Events() <-chan Event { return c.events }

// Run reads until the socket fails or ctx is done.
func (c *SignalClient) Run(ctx context.Context) error {
	defer close(c.events)
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		typ, err := protocol.PeekType(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad server message")
			continue
		}
		select {
		case c.events <- Event{Type: typ, Raw: data}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *SignalClient) Send(v any) error {
	b, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return nil
}

func (c *SignalClient) Close() error {
	var err error
	c.closeMu.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *SignalClient) RequestPresence() error {
	return c.Send(protocol.Envelope{Type: protocol.TypeRegisterPresence})
}

func (c *SignalClient) Ping() error {
	return c.Send(protocol.Envelope{Type: protocol.TypePing})
}

func (c *SignalClient) InitiateCall(callee string, useVideo bool) error {
	return c.Send(protocol.InitiateCall{Type: protocol.TypeInitiateCall, Callee: callee, UseVideo: useVideo})
}

func (c *SignalClient) AnswerCall(caller string) error {
	return c.Send(protocol.AnswerCall{Type: protocol.TypeAnswerCall, Caller: caller})
}

func (c *SignalClient) RejectCall(caller string) error {
	return c.Send(protocol.RejectCall{Type: protocol.TypeRejectCall, Caller: caller})
}

func (c *SignalClient) EndCall(peer string) error {
	return c.Send(protocol.EndCall{Type: protocol.TypeEndCall, Peer: peer})
}

func (c *SignalClient) SendOffer(target, conn, sdp string) error {
	return c.Send(protocol.Relay{Type: protocol.TypeSendOffer, Target: target, TargetConnectionID: conn, SDP: sdp})
}

func (c *SignalClient) SendAnswer(target, conn, sdp string) error {
	return c.Send(protocol.Relay{Type: protocol.TypeSendAnswer, Target: target, TargetConnectionID: conn, SDP: sdp})
}

func (c *SignalClient) SendICECandidate(target, conn, candidate string) error {
	return c.Send(protocol.Relay{Type: protocol.TypeSendICECandidate, Target: target, TargetConnectionID: conn, Candidate: candidate})
}
