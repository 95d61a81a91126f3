package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

var ErrNotAuthorized = errors.New("not authorized for room")

// Join adds a connection to a room on behalf of the business layer.
// Authorization is the caller's decision.
func (o *Orchestrator) Join(id core.ConnectionID, room domain.RoomName) error {
	if err := o.Rooms.Join(id, room); err != nil {
		return err
	}
	log.Debug().Str("module", "orch").Str("conn", string(id)).Str("room", string(room)).Msg("joined room")
	return nil
}

func (o *Orchestrator) Leave(id core.ConnectionID, room domain.RoomName) error {
	if err := o.Rooms.Leave(id, room); err != nil {
		return err
	}
	log.Debug().Str("module", "orch").Str("conn", string(id)).Str("room", string(room)).Msg("left room")
	return nil
}

// Subscribe is a client-initiated join, checked by the Authorizer.
func (o *Orchestrator) Subscribe(ctx context.Context, id core.ConnectionID, room domain.RoomName) error {
	if err := room.Validate(); err != nil {
		return err
	}
	conn, ok := o.Registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	if o.Authorizer == nil || !o.Authorizer.CanJoin(ctx, conn.Identity(), room) {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, room)
	}
	return o.Join(id, room)
}

func (o *Orchestrator) MembersOf(room domain.RoomName) []core.ConnectionID {
	return o.Rooms.MembersOf(room)
}

func (o *Orchestrator) RoomsOf(id core.ConnectionID) []domain.RoomName {
	return o.Rooms.RoomsOf(id)
}

// EvictRoom kicks every member; the room disappears with its last member.
func (o *Orchestrator) EvictRoom(room domain.RoomName) int {
	n := 0
	for _, id := range o.Rooms.MembersOf(room) {
		if o.Kick(id, "room evicted") {
			n++
		}
	}
	return n
}
