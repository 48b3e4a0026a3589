package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Dialtone/internal/adapters/auth"
	"github.com/dkeye/Dialtone/internal/app/orch"
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 65536
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	opts Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	return &SignalWSController{Orch: o, opts: opts.withDefaults()}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades an authenticated request and registers the new
// connection in presence for as long as the socket stays open.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	meta := domain.NewConnection(id, domain.ClassifyUserAgent(c.Request.UserAgent()))
	member := core.NewMemberSession(meta, conn)
	log.Info().Str("module", "signal").Str("identity", id.Name.String()).Str("conn", meta.ID.String()).Str("client", string(meta.Class)).Msg("new WS connection")

	if err := ctl.Orch.Connect(member); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", meta.ID.String()).Msg("register connection")
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, member, conn)

	ctl.handleWhoAmI(member)
	ctl.handlePresence(member)
}
