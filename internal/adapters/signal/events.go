package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

var (
	errBadPayload   = errors.New("bad payload")
	errUnknownEvent = errors.New("unknown event")
	errRateLimited  = errors.New("rate limited")
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadPayload):
		return "bad_payload"
	case errors.Is(err, errUnknownEvent):
		return "unknown_event"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, orch.ErrNotAuthorized):
		return "forbidden"
	}
	return domain.ErrorCode(err)
}

type inboundHandler func(ctx context.Context, conn *core.Connection, data json.RawMessage) (any, error)

// inboundEvent binds a client event to its handler and the event name of its reply.
// An empty reply means the handler answers nothing.
type inboundEvent struct {
	reply  string
	handle inboundHandler
}

func (ctl *SignalWSController) inboundEvents() map[string]inboundEvent {
	return map[string]inboundEvent{
		"ping":        {reply: "pong", handle: ctl.handlePing},
		"whoami":      {reply: "whoami", handle: ctl.handleWhoAmI},
		"rooms":       {reply: "rooms", handle: ctl.handleRooms},
		"subscribe":   {reply: "subscribed", handle: ctl.handleSubscribe},
		"unsubscribe": {reply: "unsubscribed", handle: ctl.handleUnsubscribe},
		"logout":      {handle: ctl.handleLogout},
	}
}

// Events lists the client events the controller understands.
func (ctl *SignalWSController) Events() []string {
	out := make([]string, 0, len(ctl.handlers))
	for name := range ctl.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (ctl *SignalWSController) handlePing(context.Context, *core.Connection, json.RawMessage) (any, error) {
	return nil, nil
}

type whoAmI struct {
	Connection  core.ConnectionID `json:"connection"`
	UserID      domain.UserID     `json:"user_id"`
	Role        domain.Role       `json:"role"`
	Permissions []string          `json:"permissions"`
	Rooms       []domain.RoomName `json:"rooms"`
	ConnectedAt time.Time         `json:"connected_at"`
}

func (ctl *SignalWSController) handleWhoAmI(_ context.Context, conn *core.Connection, _ json.RawMessage) (any, error) {
	identity := conn.Identity()
	resp := whoAmI{
		Connection:  conn.ID(),
		UserID:      identity.UserID,
		Role:        identity.Role,
		Permissions: []string{},
		Rooms:       ctl.Orch.RoomsOf(conn.ID()),
		ConnectedAt: conn.ConnectedAt().UTC(),
	}
	for _, p := range identity.Permissions() {
		resp.Permissions = append(resp.Permissions, p.String())
	}
	return resp, nil
}

func (ctl *SignalWSController) handleRooms(_ context.Context, conn *core.Connection, _ json.RawMessage) (any, error) {
	return roomsReply{Rooms: ctl.Orch.RoomsOf(conn.ID())}, nil
}

type roomsReply struct {
	Rooms []domain.RoomName `json:"rooms"`
}

type roomPayload struct {
	Room domain.RoomName `json:"room"`
}

func decodeRoom(data json.RawMessage) (domain.RoomName, error) {
	var p roomPayload
	if len(data) == 0 {
		return "", fmt.Errorf("%w: missing data", errBadPayload)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return p.Room, nil
}

func (ctl *SignalWSController) handleSubscribe(ctx context.Context, conn *core.Connection, data json.RawMessage) (any, error) {
	room, err := decodeRoom(data)
	if err != nil {
		return nil, err
	}
	if err := ctl.Orch.Subscribe(ctx, conn.ID(), room); err != nil {
		return nil, err
	}
	return roomPayload{Room: room}, nil
}

func (ctl *SignalWSController) handleUnsubscribe(_ context.Context, conn *core.Connection, data json.RawMessage) (any, error) {
	room, err := decodeRoom(data)
	if err != nil {
		return nil, err
	}
	if err := ctl.Orch.Leave(conn.ID(), room); err != nil {
		return nil, err
	}
	return roomPayload{Room: room}, nil
}

func (ctl *SignalWSController) handleLogout(_ context.Context, conn *core.Connection, _ json.RawMessage) (any, error) {
	log.Info().Str("module", "signal").Str("conn", string(conn.ID())).Msg("logout")
	ctl.Orch.Kick(conn.ID(), "logout")
	return nil, nil
}
