package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/forkful/liveclass/internal/config"
	"github.com/forkful/liveclass/internal/core"
	"github.com/forkful/liveclass/internal/domain"
	"github.com/forkful/liveclass/internal/relay"
)

var ErrBackpressure = errors.New("backpressure")

// WSController terminates participant websockets and feeds the relay.
type WSController struct {
	Relay *relay.Relay
	Cfg   *config.Config

	limiter *JoinRateLimiter
}

func NewWSController(r *relay.Relay, cfg *config.Config) *WSController {
	return &WSController{
		Relay:   r,
		Cfg:     cfg,
		limiter: NewJoinRateLimiter(8, joinRateWindow),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
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

// HandleSignal upgrades the request and binds a fresh participant id to the
// connection. The id lives exactly as long as the websocket.
func (ctl *WSController) HandleSignal(ctx context.Context, c *gin.Context) {
	pid := domain.NewParticipantID()
	log.Info().Str("module", "signal").Str("participant", string(pid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Cfg.SendBuffer),
	}
	ctl.Relay.Bind(pid, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, pid, conn)
}
