package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dkeye/Beacon/internal/config"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

type userModel struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex"`
	Role      string `gorm:"index"`
	Disabled  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userModel) TableName() string { return "users" }

type roleModel struct {
	Name      string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (roleModel) TableName() string { return "roles" }

type permissionModel struct {
	ID       uint   `gorm:"primaryKey"`
	Role     string `gorm:"uniqueIndex:idx_role_perm"`
	Action   string `gorm:"uniqueIndex:idx_role_perm"`
	Resource string `gorm:"uniqueIndex:idx_role_perm"`
}

func (permissionModel) TableName() string { return "role_permissions" }

type auditModel struct {
	ID           string `gorm:"primaryKey"`
	Kind         string `gorm:"index"`
	ConnectionID string `gorm:"index"`
	UserID       string `gorm:"index"`
	Detail       string
	CreatedAt    time.Time `gorm:"index"`
}

func (auditModel) TableName() string { return "audit_entries" }

// NewStore opens a SQLite database at the provided path.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent audit writes.
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&userModel{}, &roleModel{}, &permissionModel{}, &auditModel{})
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("id = ?", string(id)).First(&model).Error; err != nil {
		return nil, mapErr(err)
	}
	return &storage.User{
		ID:        domain.UserID(model.ID),
		Username:  model.Username,
		Role:      domain.Role(model.Role),
		Disabled:  model.Disabled,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}, nil
}

func (s *Store) UpsertUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	model := userModel{
		ID:        string(user.ID),
		Username:  user.Username,
		Role:      string(user.Role),
		Disabled:  user.Disabled,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "role", "disabled", "updated_at"}),
	}).Create(&model).Error
}

// GetRole loads a role together with its permissions.
func (s *Store) GetRole(ctx context.Context, name domain.Role) (*storage.Role, error) {
	db := s.db.WithContext(ctx)
	var model roleModel
	if err := db.Where("name = ?", string(name)).First(&model).Error; err != nil {
		return nil, mapErr(err)
	}
	var perms []permissionModel
	if err := db.Where("role = ?", model.Name).Order("action, resource").Find(&perms).Error; err != nil {
		return nil, err
	}
	role := &storage.Role{Name: domain.Role(model.Name)}
	for _, p := range perms {
		role.Permissions = append(role.Permissions, domain.Permission{Action: p.Action, Resource: p.Resource})
	}
	return role, nil
}

// UpsertRole replaces the role's permission set.
func (s *Store) UpsertRole(ctx context.Context, role storage.Role) error {
	if role.Name == "" {
		return errors.New("empty role name")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := roleModel{Name: string(role.Name), CreatedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Where("role = ?", model.Name).Delete(&permissionModel{}).Error; err != nil {
			return err
		}
		if len(role.Permissions) == 0 {
			return nil
		}
		perms := make([]permissionModel, 0, len(role.Permissions))
		for _, p := range role.Permissions {
			perms = append(perms, permissionModel{Role: model.Name, Action: p.Action, Resource: p.Resource})
		}
		return tx.Create(&perms).Error
	})
}

func (s *Store) RecordAudit(ctx context.Context, entry storage.AuditEntry) error {
	model := auditModel{
		ID:           entry.ID,
		Kind:         entry.Kind,
		ConnectionID: entry.ConnectionID,
		UserID:       string(entry.UserID),
		Detail:       entry.Detail,
		CreatedAt:    entry.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListAudit returns the newest entries first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	var models []auditModel
	if err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]storage.AuditEntry, 0, len(models))
	for _, m := range models {
		out = append(out, storage.AuditEntry{
			ID:           m.ID,
			Kind:         m.Kind,
			ConnectionID: m.ConnectionID,
			UserID:       domain.UserID(m.UserID),
			Detail:       m.Detail,
			CreatedAt:    m.CreatedAt,
		})
	}
	return out, nil
}

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}
