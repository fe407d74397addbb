// Package postgres is the durable audit.Store backed by the
// audit_log_entries table.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	id "wms/pkg/domain"
	audit "wms/pkg/platform/audit"
	"wms/pkg/platform/sentinel"
	txcontext "wms/pkg/platform/tx"
	"wms/pkg/requestcontext"
)

const (
	defaultDeleteBatchSize = 5000
	defaultTenantLimit     = 100
)

// Store implements audit.Store on Postgres.
type Store struct {
	db          *sqlx.DB
	deleteBatch int
}

// Option configures a Store.
type Option func(*Store)

// WithDeleteBatchSize bounds the rows removed per statement by
// DeleteOlderThan. Zero or less deletes everything in one statement.
func WithDeleteBatchSize(n int) Option {
	return func(s *Store) { s.deleteBatch = n }
}

// New creates a Store on db.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db, deleteBatch: defaultDeleteBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type entryRow struct {
	ID          uuid.UUID      `db:"id"`
	EntityName  string         `db:"entity_name"`
	EntityID    string         `db:"entity_id"`
	Action      string         `db:"action"`
	TenantID    sql.NullString `db:"tenant_id"`
	Actor       string         `db:"actor"`
	OccurredAt  time.Time      `db:"occurred_at"`
	BeforeState []byte         `db:"before_state"`
	AfterState  []byte         `db:"after_state"`
	Content     []byte         `db:"content"`
}

func (r entryRow) toEntry() audit.Entry {
	return audit.Entry{
		ID:         r.ID,
		EntityName: r.EntityName,
		EntityID:   r.EntityID,
		Action:     audit.Action(r.Action),
		TenantID:   id.TenantID(r.TenantID.String),
		Actor:      r.Actor,
		OccurredAt: r.OccurredAt.UTC(),
		Before:     rawOrNil(r.BeforeState),
		After:      rawOrNil(r.AfterState),
		Content:    rawOrNil(r.Content),
	}
}

const selectColumns = `
	SELECT id, entity_name, entity_id, action, tenant_id, actor,
		   occurred_at, before_state, after_state, content
	FROM audit_log_entries
`

// Save inserts entry. It joins the transaction carried by ctx, if any, and
// exposes the context tenant to the session as app.tenant_id for the
// duration of that transaction.
func (s *Store) Save(ctx context.Context, entry *audit.Entry) (uuid.UUID, error) {
	entryID := entry.ID
	if entryID == uuid.Nil {
		entryID = uuid.New()
	}
	content := entry.Content
	if content == nil {
		built, err := audit.BuildContent(entry.Action, entry.Before, entry.After)
		if err != nil {
			return uuid.Nil, err
		}
		content = built
	}

	tenant, _ := requestcontext.TenantID(ctx)
	err := txcontext.Within(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenant.String()); err != nil {
			return fmt.Errorf("set tenant: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_log_entries (
				id, entity_name, entity_id, action, tenant_id, actor,
				occurred_at, before_state, after_state, content
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`,
			entryID,
			entry.EntityName,
			entry.EntityID,
			string(entry.Action),
			entry.TenantID.Ptr(),
			entry.Actor,
			entry.OccurredAt.UTC(),
			jsonParam(entry.Before),
			jsonParam(entry.After),
			string(content),
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, classify(err)
	}
	entry.ID = entryID
	entry.Content = content
	return entryID, nil
}

// FindByEntity returns the history of one entity, newest first.
func (s *Store) FindByEntity(ctx context.Context, entityName, entityID string) ([]audit.Entry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, selectColumns+`
		WHERE entity_name = $1 AND entity_id = $2
		ORDER BY occurred_at DESC, recorded_at DESC
	`, entityName, entityID)
	if err != nil {
		return nil, classify(fmt.Errorf("query audit entries: %w", err))
	}
	return toEntries(rows), nil
}

// FindByEntities returns the history of several entities of one type,
// newest first.
func (s *Store) FindByEntities(ctx context.Context, entityName string, entityIDs []string) ([]audit.Entry, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, selectColumns+`
		WHERE entity_name = $1 AND entity_id = ANY($2)
		ORDER BY occurred_at DESC, recorded_at DESC
	`, entityName, pq.Array(entityIDs))
	if err != nil {
		return nil, classify(fmt.Errorf("query audit entries: %w", err))
	}
	return toEntries(rows), nil
}

// FindByTenant returns up to limit entries of tenantID, newest first. Entries
// recorded without a tenant never match.
func (s *Store) FindByTenant(ctx context.Context, tenantID id.TenantID, limit int) ([]audit.Entry, error) {
	if tenantID.IsZero() {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultTenantLimit
	}
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, selectColumns+`
		WHERE tenant_id IS NOT NULL AND tenant_id = $1
		ORDER BY occurred_at DESC, recorded_at DESC
		LIMIT $2
	`, tenantID.String(), limit)
	if err != nil {
		return nil, classify(fmt.Errorf("query audit entries: %w", err))
	}
	return toEntries(rows), nil
}

// DeleteOlderThan removes entries with occurred_at strictly before cutoff,
// in batches, and returns the number removed. Entries at exactly cutoff are
// kept. Rows removed by earlier batches stay removed if a later batch fails.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.deleteBatch <= 0 {
		res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log_entries WHERE occurred_at < $1`, cutoff.UTC())
		if err != nil {
			return 0, classify(fmt.Errorf("delete audit entries: %w", err))
		}
		return res.RowsAffected()
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM audit_log_entries
			WHERE id IN (
				SELECT id FROM audit_log_entries
				WHERE occurred_at < $1
				LIMIT $2
			)
		`, cutoff.UTC(), s.deleteBatch)
		if err != nil {
			return total, classify(fmt.Errorf("delete audit entries: %w", err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("delete audit entries: %w", err)
		}
		total += n
		if n < int64(s.deleteBatch) {
			return total, nil
		}
	}
}

func toEntries(rows []entryRow) []audit.Entry {
	entries := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toEntry())
	}
	return entries
}

// jsonParam passes JSON as text; lib/pq would send []byte as bytea.
func jsonParam(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

// classify marks connection loss as sentinel.ErrUnavailable.
func classify(err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}
