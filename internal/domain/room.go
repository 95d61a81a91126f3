package domain

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	MaxRoomNameLen  = 128
	minRoomSegments = 2
)

// RoomName is a colon-delimited room key such as <namespace>:<id> or <namespace>:<scope>:<id>.
// Segments are opaque: ids from the identity store go in as they are.
type RoomName string

type RoomInfo struct {
	Name        RoomName `json:"name"`
	MemberCount int      `json:"member_count"`
}

// Validate enforces the room grammar.
func (n RoomName) Validate() error {
	s := string(n)
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRoomName)
	}
	if len(s) > MaxRoomNameLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidRoomName, MaxRoomNameLen)
	}
	segments := strings.Split(s, ":")
	if len(segments) < minRoomSegments {
		return fmt.Errorf("%w: %q needs at least %d segments", ErrInvalidRoomName, s, minRoomSegments)
	}
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidRoomName, s)
		}
		for _, r := range seg {
			if unicode.IsSpace(r) || unicode.IsControl(r) {
				return fmt.Errorf("%w: %q contains %q", ErrInvalidRoomName, s, r)
			}
		}
	}
	return nil
}

// Namespace is the first segment, or "" for a malformed name.
func (n RoomName) Namespace() string {
	ns, _, ok := strings.Cut(string(n), ":")
	if !ok {
		return ""
	}
	return ns
}

// NewRoomName builds a room from its namespace and trailing segments and validates it.
func NewRoomName(namespace string, parts ...string) (RoomName, error) {
	name := RoomName(strings.Join(append([]string{namespace}, parts...), ":"))
	if err := name.Validate(); err != nil {
		return "", err
	}
	return name, nil
}

// PersonalRoom is the room every connection of a user joins on activation.
func PersonalRoom(role Role, id UserID) RoomName {
	return RoomName(string(role) + ":" + string(id))
}

func CustomerRoom(id UserID) RoomName { return PersonalRoom(RoleCustomer, id) }
func DriverRoom(id UserID) RoomName   { return PersonalRoom(RoleDriver, id) }

func MerchantRoom(merchantID string) RoomName {
	return RoomName(string(RoleMerchant) + ":" + merchantID)
}

// StaffRoom is the canonical room for a staff member inside a vertical.
// Scheduling and staff notifications share it; see DESIGN.md.
func StaffRoom(vertical Vertical, staffID string) RoomName {
	return RoomName(string(vertical) + ":staff:" + staffID)
}

// ResourceRoom addresses watchers of a single resource, e.g. rides:ride:17.
func ResourceRoom(vertical Vertical, resource, id string) RoomName {
	return RoomName(string(vertical) + ":" + resource + ":" + id)
}
