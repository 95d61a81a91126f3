// Package domain contains entities without transport or lifecycle logic.
package domain

import "sort"

type (
	UserID string
	Role   string
)

const (
	RoleCustomer Role = "customer"
	RoleMerchant Role = "merchant"
	RoleDriver   Role = "driver"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	RoleService  Role = "service"
)

// Permission is a single (action, resource) grant.
type Permission struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

func (p Permission) String() string { return p.Action + ":" + p.Resource }

// Identity is the verified principal behind a connection.
// It is built once at handshake and never mutated afterwards.
type Identity struct {
	UserID      UserID
	Role        Role
	permissions map[Permission]struct{}
}

func NewIdentity(id UserID, role Role, perms []Permission) *Identity {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return &Identity{UserID: id, Role: role, permissions: set}
}

// Can reports whether the identity holds the (action, resource) permission.
// A "*" resource grant matches any resource for that action.
func (i *Identity) Can(action, resource string) bool {
	if i == nil {
		return false
	}
	if _, ok := i.permissions[Permission{Action: action, Resource: resource}]; ok {
		return true
	}
	_, ok := i.permissions[Permission{Action: action, Resource: "*"}]
	return ok
}

// Permissions returns a sorted copy of the permission set.
func (i *Identity) Permissions() []Permission {
	out := make([]Permission, 0, len(i.permissions))
	for p := range i.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].String() < out[b].String() })
	return out
}
