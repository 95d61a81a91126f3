package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Beacon/internal/domain"
)

var ErrNotFound = errors.New("record not found")

// User represents a persisted account record.
type User struct {
	ID        domain.UserID
	Username  string
	Role      domain.Role
	Disabled  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role is a named permission set.
type Role struct {
	Name        domain.Role
	Permissions []domain.Permission
}

// AuditEntry records a connection lifecycle fact.
type AuditEntry struct {
	ID           string
	Kind         string
	ConnectionID string
	UserID       domain.UserID
	Detail       string
	CreatedAt    time.Time
}

// Store defines persistence operations used by the gateway.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	GetUser(ctx context.Context, id domain.UserID) (*User, error)
	UpsertUser(ctx context.Context, user *User) error
	GetRole(ctx context.Context, name domain.Role) (*Role, error)
	UpsertRole(ctx context.Context, role Role) error

	RecordAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}
