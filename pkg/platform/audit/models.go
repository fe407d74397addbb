package audit

//go:generate mockgen -source=models.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	id "wms/pkg/domain"
)

// Action is the kind of entity mutation an audit event records.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

const (
	// ActorSystem is recorded when no acting user is present in the context.
	ActorSystem = "SYSTEM"

	// UnknownEntityID is recorded when an entity cannot report its identity.
	UnknownEntityID = "ID_UNKNOWN"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ParseAction converts a wire value into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown audit action %q", s)
	}
	return a, nil
}

// Identifiable is implemented by entities that can report their identity to
// the audit trail.
type Identifiable interface {
	AuditID() string
}

// Named lets an entity choose the name recorded as entity_name. Entities that
// do not implement it are recorded under their Go type name.
type Named interface {
	AuditName() string
}

// Event is the in-flight record of one entity mutation. A zero TenantID means
// the mutation happened outside any tenant. Before and After are JSON
// snapshots; nil means absent.
type Event struct {
	EntityName string          `validate:"required,max=128"`
	EntityID   string          `validate:"required,max=128"`
	Action     Action          `validate:"required,oneof=CREATE UPDATE DELETE"`
	TenantID   id.TenantID     `validate:"-"`
	Actor      string          `validate:"required,max=128"`
	OccurredAt time.Time       `validate:"required"`
	Before     json.RawMessage `validate:"-"`
	After      json.RawMessage `validate:"-"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural requirements and the action/state invariants:
// CREATE carries no before state and DELETE carries no after state.
func (e Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid audit event: %w", err)
	}
	if err := e.TenantID.Validate(); err != nil {
		return fmt.Errorf("invalid audit event: %w", err)
	}
	switch e.Action {
	case ActionCreate:
		if e.Before != nil {
			return fmt.Errorf("invalid audit event: %s must not carry a before state", e.Action)
		}
	case ActionDelete:
		if e.After != nil {
			return fmt.Errorf("invalid audit event: %s must not carry an after state", e.Action)
		}
	}
	return nil
}

// Entry is the durable, immutable form of an Event. ID is assigned by the
// store; Content holds the snapshot or diff derived from Before and After.
type Entry struct {
	ID         uuid.UUID
	EntityName string
	EntityID   string
	Action     Action
	TenantID   id.TenantID
	Actor      string
	OccurredAt time.Time
	Before     json.RawMessage
	After      json.RawMessage
	Content    json.RawMessage
}

// NewEntry derives the durable entry for an event. The ID is left for the
// store to assign.
func NewEntry(e Event) (*Entry, error) {
	content, err := BuildContent(e.Action, e.Before, e.After)
	if err != nil {
		return nil, err
	}
	return &Entry{
		EntityName: e.EntityName,
		EntityID:   e.EntityID,
		Action:     e.Action,
		TenantID:   e.TenantID,
		Actor:      e.Actor,
		OccurredAt: e.OccurredAt,
		Before:     e.Before,
		After:      e.After,
		Content:    content,
	}, nil
}

// Store persists audit entries. Entries are append-only; the only removal is
// the bulk retention sweep.
type Store interface {
	// Save persists entry and returns the assigned ID.
	Save(ctx context.Context, entry *Entry) (uuid.UUID, error)
	// FindByEntity returns the entries for one entity, newest first.
	FindByEntity(ctx context.Context, entityName, entityID string) ([]Entry, error)
	// FindByEntities returns the entries of several entities of one type,
	// newest first.
	FindByEntities(ctx context.Context, entityName string, entityIDs []string) ([]Entry, error)
	// FindByTenant returns the newest entries of one tenant. Entries without a
	// tenant are never returned.
	FindByTenant(ctx context.Context, tenantID id.TenantID, limit int) ([]Entry, error)
	// DeleteOlderThan removes entries that occurred strictly before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
