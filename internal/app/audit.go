package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/storage"
)

const (
	AuditConnectionEstablished = "connection.established"
	AuditConnectionClosed      = "connection.closed"
)

type AuditEvent struct {
	Kind       string
	Connection core.ConnectionID
	UserID     domain.UserID
	Detail     string
	At         time.Time
}

// AuditSink receives connection lifecycle notifications.
// Callers treat it as fire-and-forget.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent) error
}

type LogAudit struct{}

func (LogAudit) Record(_ context.Context, ev AuditEvent) error {
	log.Info().
		Str("module", "audit").
		Str("kind", ev.Kind).
		Str("conn", string(ev.Connection)).
		Str("user", string(ev.UserID)).
		Str("detail", ev.Detail).
		Msg("audit")
	return nil
}

type AuditRecorder interface {
	RecordAudit(ctx context.Context, entry storage.AuditEntry) error
}

// StoreAudit persists events through the storage layer.
type StoreAudit struct {
	Store AuditRecorder
}

func (s StoreAudit) Record(ctx context.Context, ev AuditEvent) error {
	return s.Store.RecordAudit(ctx, storage.AuditEntry{
		ID:           uuid.NewString(),
		Kind:         ev.Kind,
		ConnectionID: string(ev.Connection),
		UserID:       ev.UserID,
		Detail:       ev.Detail,
		CreatedAt:    ev.At.UTC(),
	})
}

// MultiAudit fans an event out to every sink and combines their errors.
type MultiAudit []AuditSink

func (m MultiAudit) Record(ctx context.Context, ev AuditEvent) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Record(ctx, ev))
	}
	return err
}
