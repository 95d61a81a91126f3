package app

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

type room struct {
	members   map[core.ConnectionID]struct{}
	createdAt time.Time
}

// RoomManager is the room membership table.
// Rooms exist only while they have members. A connection can join only while tracked,
// and Forget untracks it and leaves every room in one critical section.
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomName]*room
	byConn map[core.ConnectionID]map[domain.RoomName]struct{}
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:  make(map[domain.RoomName]*room),
		byConn: make(map[core.ConnectionID]map[domain.RoomName]struct{}),
	}
}

// Track makes a connection eligible for joins.
func (m *RoomManager) Track(id core.ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byConn[id]; !ok {
		m.byConn[id] = make(map[domain.RoomName]struct{})
	}
}

func (m *RoomManager) Join(id core.ConnectionID, name domain.RoomName) error {
	if err := name.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	joined, ok := m.byConn[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	r, ok := m.rooms[name]
	if !ok {
		r = &room{members: make(map[core.ConnectionID]struct{}), createdAt: time.Now()}
		m.rooms[name] = r
		log.Debug().Str("module", "app.rooms").Str("room", string(name)).Msg("room created")
	}
	r.members[id] = struct{}{}
	joined[name] = struct{}{}
	return nil
}

// Leave is a no-op for non-members. The room is deleted when its last member leaves.
func (m *RoomManager) Leave(id core.ConnectionID, name domain.RoomName) error {
	if err := name.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(id, name)
	return nil
}

func (m *RoomManager) leaveLocked(id core.ConnectionID, name domain.RoomName) {
	if joined, ok := m.byConn[id]; ok {
		delete(joined, name)
	}
	r, ok := m.rooms[name]
	if !ok {
		return
	}
	delete(r.members, id)
	if len(r.members) == 0 {
		delete(m.rooms, name)
		log.Debug().Str("module", "app.rooms").Str("room", string(name)).Msg("room deleted")
	}
}

// LeaveAll removes the connection from every room but keeps it tracked.
func (m *RoomManager) LeaveAll(id core.ConnectionID) []domain.RoomName {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveAllLocked(id)
}

// Forget removes the connection from all rooms and stops tracking it.
// It returns the rooms that were left and whether the connection was tracked.
func (m *RoomManager) Forget(id core.ConnectionID) ([]domain.RoomName, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byConn[id]; !ok {
		return nil, false
	}
	left := m.leaveAllLocked(id)
	delete(m.byConn, id)
	return left, true
}

func (m *RoomManager) leaveAllLocked(id core.ConnectionID) []domain.RoomName {
	joined := m.byConn[id]
	left := make([]domain.RoomName, 0, len(joined))
	for name := range joined {
		m.leaveLocked(id, name)
		left = append(left, name)
	}
	sortRooms(left)
	return left
}

// MembersOf returns a sorted snapshot of the room's members.
func (m *RoomManager) MembersOf(name domain.RoomName) []core.ConnectionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[name]
	if !ok {
		return nil
	}
	out := make([]core.ConnectionID, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *RoomManager) RoomsOf(id core.ConnectionID) []domain.RoomName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RoomName, 0, len(m.byConn[id]))
	for name := range m.byConn[id] {
		out = append(out, name)
	}
	sortRooms(out)
	return out
}

func (m *RoomManager) Exists(name domain.RoomName) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[name]
	return ok
}

func (m *RoomManager) List() []domain.RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RoomInfo, 0, len(m.rooms))
	for name, r := range m.rooms {
		out = append(out, domain.RoomInfo{Name: name, MemberCount: len(r.members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *RoomManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func sortRooms(names []domain.RoomName) {
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
}
