package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/config"
	"github.com/dkeye/Beacon/internal/domain"
)

// ParsePermission parses "action:resource".
func ParsePermission(s string) (domain.Permission, error) {
	action, resource, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || action == "" || resource == "" {
		return domain.Permission{}, fmt.Errorf("invalid permission %q, want action:resource", s)
	}
	return domain.Permission{Action: action, Resource: resource}, nil
}

// Seed writes configured roles, then users, into the store.
func Seed(ctx context.Context, store Store, cfg config.SeedConfig) error {
	for _, r := range cfg.Roles {
		role := Role{Name: domain.Role(r.Name)}
		for _, raw := range r.Permissions {
			p, err := ParsePermission(raw)
			if err != nil {
				return fmt.Errorf("role %s: %w", r.Name, err)
			}
			role.Permissions = append(role.Permissions, p)
		}
		if err := store.UpsertRole(ctx, role); err != nil {
			return fmt.Errorf("seed role %s: %w", r.Name, err)
		}
	}
	now := time.Now().UTC()
	for _, u := range cfg.Users {
		user := &User{
			ID:        domain.UserID(u.ID),
			Username:  u.Username,
			Role:      domain.Role(u.Role),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.UpsertUser(ctx, user); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	log.Info().Str("module", "storage").Int("roles", len(cfg.Roles)).Int("users", len(cfg.Users)).Msg("seeded identity store")
	return nil
}
