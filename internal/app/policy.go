package app

import (
	"context"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(conn *core.Connection) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*core.Connection) BackpressureAction { return KickMember }

// DropPolicy keeps slow consumers connected; they simply miss events.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(*core.Connection) BackpressureAction { return NoAction }

func PolicyFor(name string) Policy {
	if name == "drop" {
		return DropPolicy{}
	}
	return SimplePolicy{}
}

// RoomBinder picks the rooms a connection joins right after authentication.
type RoomBinder interface {
	InitialRooms(id *domain.Identity) []domain.RoomName
}

// PersonalRoomBinder joins every connection to <role>:<userId>.
type PersonalRoomBinder struct{}

func (PersonalRoomBinder) InitialRooms(id *domain.Identity) []domain.RoomName {
	return []domain.RoomName{domain.PersonalRoom(id.Role, id.UserID)}
}

// Authorizer decides whether an identity may subscribe to a room on its own request.
type Authorizer interface {
	CanJoin(ctx context.Context, id *domain.Identity, name domain.RoomName) bool
}

// PermissionAuthorizer allows the personal room, or any room whose namespace
// the identity holds a join permission for.
type PermissionAuthorizer struct{}

func (PermissionAuthorizer) CanJoin(_ context.Context, id *domain.Identity, name domain.RoomName) bool {
	if id == nil {
		return false
	}
	if name == domain.PersonalRoom(id.Role, id.UserID) {
		return true
	}
	return id.Can("join", name.Namespace())
}
