package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options tune the per-connection pumps.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendQueue  int

	ChatLimit    int
	ChatInterval time.Duration
}

// OptionsFrom picks the gateway settings out of the service config.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		ReadLimit:    cfg.WebSocket.ReadLimit,
		PingPeriod:   cfg.WebSocket.PingPeriod,
		PongWait:     cfg.WebSocket.PongWait,
		WriteWait:    cfg.WebSocket.WriteWait,
		SendQueue:    cfg.WebSocket.SendQueue,
		ChatLimit:    cfg.Session.ChatRateLimit,
		ChatInterval: cfg.Session.ChatRateInterval,
	}
}

type SignalWSController struct {
	Coord *app.Coordinator
	opts  Options
	chat  *ChatRateLimiter
}

func NewSignalWSController(coord *app.Coordinator, opts Options) *SignalWSController {
	return &SignalWSController{
		Coord: coord,
		opts:  opts,
		chat:  NewChatRateLimiter(opts.ChatLimit, opts.ChatInterval),
	}
}

// WsSignalConn is the session-facing side of one WebSocket. Frames queue on
// send and are written by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWsSignalConn(ws *websocket.Conn, queue int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, queue)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return domain.ErrChannelBackpressure
	}
	return nil
}

// Close stops accepting frames. writePump flushes what is queued, sends a
// close frame and drops the socket, which ends readPump.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := domain.NewConnectionID()
	client := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("client", client).Msg("new WS connection")

	conn := NewWsSignalConn(ws, ctl.opts.SendQueue)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Coord.Connect(id, conn, cancel)

	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}
