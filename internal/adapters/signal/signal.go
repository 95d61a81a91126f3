package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/auth"
	"github.com/dkeye/Beacon/internal/config"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Cfg     *config.Config
	Limiter *EventRateLimiter

	handlers map[string]inboundEvent
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	ctl := &SignalWSController{
		Orch:    o,
		Cfg:     cfg,
		Limiter: NewEventRateLimiter(cfg.RateLimit.Events, cfg.RateLimit.Interval),
	}
	ctl.handlers = ctl.inboundEvents()
	return ctl
}

// WsSignalConn implements core.SignalConnection over a websocket.
// Frames queue in send and are drained by a single writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
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

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Credential reads the bearer token from the Authorization header, falling back
// to the token query parameter for browser clients that cannot set headers.
func Credential(r *http.Request) string {
	if tok := auth.BearerToken(r.Header.Get("Authorization")); tok != "" {
		return tok
	}
	return r.URL.Query().Get("token")
}

// HandshakeStatus maps a resolver error to the HTTP status of the refused upgrade.
func HandshakeStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoleNotFound):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrCredentialMissing),
		errors.Is(err, domain.ErrCredentialInvalid),
		errors.Is(err, domain.ErrIdentityNotFound):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// HandleSignal authenticates before upgrading, so a rejected client never gets a socket.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	conn, err := ctl.Orch.Admit(c.Request.Context(), Credential(c.Request))
	if err != nil {
		c.AbortWithStatusJSON(HandshakeStatus(err), gin.H{"error": domain.ErrorCode(err)})
		return
	}
	id := conn.ID()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("ws upgrade")
		ctl.Orch.OnDisconnect(id)
		return
	}

	sc := newWsSignalConn(ws, ctl.Cfg.SendBuffer)
	if err := conn.Attach(sc); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("attach transport")
		sc.Close()
		ctl.Orch.OnDisconnect(id)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, sc)

	if err := ctl.Orch.Activate(id); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("activate")
		cancel()
		ctl.Orch.OnDisconnect(id)
		return
	}
	go ctl.readPump(ctx, cancel, conn, sc)
}
