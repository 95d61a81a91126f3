package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Beacon/internal/config"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/storage"
)

// IdentityStore is the read side of the user/role/permission store.
type IdentityStore interface {
	GetUser(ctx context.Context, id domain.UserID) (*storage.User, error)
	GetRole(ctx context.Context, name domain.Role) (*storage.Role, error)
}

// Resolver turns a bearer credential into a verified identity.
// It performs lookups only; auditing is the caller's concern.
type Resolver struct {
	cfg   config.JWTConfig
	store IdentityStore
}

func NewResolver(cfg config.JWTConfig, store IdentityStore) *Resolver {
	return &Resolver{cfg: cfg, store: store}
}

func (r *Resolver) Resolve(ctx context.Context, credential string) (*domain.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, domain.ErrCredentialMissing
	}

	claims, err := ParseToken(r.cfg, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialInvalid, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", domain.ErrCredentialInvalid)
	}
	uid := domain.UserID(claims.Subject)

	user, err := r.store.GetUser(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrIdentityNotFound, uid)
		}
		return nil, fmt.Errorf("lookup user %s: %w", uid, err)
	}
	if user.Disabled {
		return nil, fmt.Errorf("%w: %s is disabled", domain.ErrIdentityNotFound, uid)
	}
	if user.Role == "" {
		return nil, fmt.Errorf("%w: %s has no role", domain.ErrRoleNotFound, uid)
	}

	role, err := r.store.GetRole(ctx, user.Role)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRoleNotFound, user.Role)
		}
		return nil, fmt.Errorf("lookup role %s: %w", user.Role, err)
	}

	return domain.NewIdentity(user.ID, role.Name, role.Permissions), nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
