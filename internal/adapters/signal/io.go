package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump owns the connection lifetime: whatever ends it, cleanup runs here.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, conn *core.Connection, c *WsSignalConn) {
	id := conn.ID()
	defer func() {
		cancel()
		ctl.Orch.OnDisconnect(id)
		c.Close()
		if identity := conn.Identity(); identity != nil && len(ctl.Orch.Registry.ByUser(identity.UserID)) == 0 {
			ctl.Limiter.Forget(identity.UserID)
		}
		log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("readPump closed")
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	pongWait := ctl.Cfg.PongWait()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(ctx, conn, data)
		}
	}
}

// inboundMessage mirrors the outbound shape: {"event": ..., "data": ...}.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, conn *core.Connection, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		ctl.sendError(conn, "", errBadPayload)
		return
	}
	identity := conn.Identity()
	if identity != nil && !ctl.Limiter.Allow(identity.UserID) {
		ctl.sendError(conn, msg.Event, errRateLimited)
		return
	}

	ev, ok := ctl.handlers[msg.Event]
	if !ok {
		log.Warn().Str("module", "signal").Str("event", msg.Event).Msg("unknown event")
		ctl.sendError(conn, msg.Event, errUnknownEvent)
		return
	}

	reply, err := ev.handle(ctx, conn, msg.Data)
	if err != nil {
		ctl.sendError(conn, msg.Event, err)
		return
	}
	if ev.reply != "" {
		ctl.send(conn, ev.reply, reply)
	}
}

func (ctl *SignalWSController) send(conn *core.Connection, event string, data any) {
	b, err := json.Marshal(core.OutboundMessage{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("send marshal")
		return
	}
	if err := conn.Send(b); err != nil && !errors.Is(err, core.ErrConnectionClosed) {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn.ID())).Msg("send reply")
	}
}

type errorFrame struct {
	Code    string `json:"code"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

func (ctl *SignalWSController) sendError(conn *core.Connection, event string, err error) {
	ctl.send(conn, "error", errorFrame{Code: errorCode(err), Event: event, Message: err.Error()})
}
