package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

const defaultAuditTimeout = 5 * time.Second

// Admit authenticates a connecting client. On failure nothing is recorded.
// The returned connection is Authenticated and tracked, but not yet Active.
func (o *Orchestrator) Admit(ctx context.Context, credential string) (*core.Connection, error) {
	conn := core.NewConnection(nil)

	if o.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.HandshakeTimeout)
		defer cancel()
	}
	identity, err := o.Resolver.Resolve(ctx, credential)
	if err != nil {
		conn.Close()
		log.Info().Err(err).Str("module", "orch").Str("conn", string(conn.ID())).Msg("handshake rejected")
		return nil, err
	}
	if err := conn.Authenticate(identity); err != nil {
		return nil, err
	}

	o.Rooms.Track(conn.ID())
	o.Registry.Bind(conn)
	log.Info().
		Str("module", "orch").
		Str("conn", string(conn.ID())).
		Str("user", string(identity.UserID)).
		Str("role", string(identity.Role)).
		Msg("handshake accepted")
	return conn, nil
}

// Activate performs the initial joins and opens the connection for events.
// If any join fails the earlier ones are undone; the connection stays admitted
// and the caller decides whether to disconnect it.
func (o *Orchestrator) Activate(id core.ConnectionID) error {
	conn, ok := o.Registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	identity := conn.Identity()
	if identity == nil {
		return fmt.Errorf("%w: %s is not authenticated", core.ErrInvalidTransition, id)
	}
	if o.Binder != nil {
		for _, room := range o.Binder.InitialRooms(identity) {
			if err := o.Rooms.Join(id, room); err != nil {
				o.Rooms.LeaveAll(id)
				return fmt.Errorf("initial join %s: %w", room, err)
			}
		}
	}
	if err := conn.Activate(); err != nil {
		return err
	}

	log.Info().
		Str("module", "orch").
		Str("conn", string(id)).
		Strs("rooms", roomStrings(o.Rooms.RoomsOf(id))).
		Msg("connection active")
	o.notify(app.AuditEvent{
		Kind:       app.AuditConnectionEstablished,
		Connection: id,
		UserID:     identity.UserID,
		Detail:     string(identity.Role),
	})
	return nil
}

// OnDisconnect releases a terminated connection. Every exit path calls it; repeats are no-ops.
func (o *Orchestrator) OnDisconnect(id core.ConnectionID) {
	o.disconnect(id, "disconnected")
}

// Kick closes a connection from the server side.
func (o *Orchestrator) Kick(id core.ConnectionID, reason string) bool {
	return o.disconnect(id, reason)
}

// disconnect closes the connection before touching the tables, so no dispatch
// can reach it once it has started leaving rooms.
func (o *Orchestrator) disconnect(id core.ConnectionID, reason string) bool {
	conn, found := o.Registry.Get(id)
	if found {
		conn.Close()
	}
	left, _ := o.Rooms.Forget(id)
	if _, bound := o.Registry.Unbind(id); !bound {
		return false
	}

	var uid domain.UserID
	if conn != nil {
		if identity := conn.Identity(); identity != nil {
			uid = identity.UserID
		}
	}

	log.Info().
		Str("module", "orch").
		Str("conn", string(id)).
		Str("reason", reason).
		Strs("left", roomStrings(left)).
		Msg("connection closed")
	o.notify(app.AuditEvent{
		Kind:       app.AuditConnectionClosed,
		Connection: id,
		UserID:     uid,
		Detail:     reason,
	})
	return true
}

// notify hands the event to the audit sink without waiting for it.
func (o *Orchestrator) notify(ev app.AuditEvent) {
	if o.Audit == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	timeout := o.AuditTimeout
	if timeout <= 0 {
		timeout = defaultAuditTimeout
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := o.Audit.Record(ctx, ev); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("kind", ev.Kind).Str("conn", string(ev.Connection)).Msg("audit write failed")
		}
	}()
}

func roomStrings(names []domain.RoomName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
