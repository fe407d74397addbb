package audit

import (
	"encoding/json"
	"fmt"
	"time"

	id "wms/pkg/domain"
)

// wireEvent is the message body carried by the queue. New fields may be added;
// consumers ignore fields they do not know.
type wireEvent struct {
	EntityName string          `json:"entityName"`
	EntityID   string          `json:"entityId"`
	Action     string          `json:"action"`
	TenantID   *string         `json:"tenantId"`
	Actor      string          `json:"actor"`
	OccurredAt string          `json:"occurredAt"`
	Before     json.RawMessage `json:"before"`
	After      json.RawMessage `json:"after"`
}

// Encode serialises e for the queue.
func Encode(e Event) ([]byte, error) {
	b, err := json.Marshal(wireEvent{
		EntityName: e.EntityName,
		EntityID:   e.EntityID,
		Action:     string(e.Action),
		TenantID:   e.TenantID.Ptr(),
		Actor:      e.Actor,
		OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
		Before:     e.Before,
		After:      e.After,
	})
	if err != nil {
		return nil, fmt.Errorf("encode audit event: %w", err)
	}
	return b, nil
}

// Decode parses a message body produced by Encode. Absent or JSON null states
// decode to nil.
func Decode(b []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return Event{}, fmt.Errorf("decode audit event: %w", err)
	}
	action, err := ParseAction(w.Action)
	if err != nil {
		return Event{}, fmt.Errorf("decode audit event: %w", err)
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, w.OccurredAt)
	if err != nil {
		return Event{}, fmt.Errorf("decode audit event: occurredAt: %w", err)
	}

	e := Event{
		EntityName: w.EntityName,
		EntityID:   w.EntityID,
		Action:     action,
		Actor:      w.Actor,
		OccurredAt: occurredAt,
		Before:     nullToNil(w.Before),
		After:      nullToNil(w.After),
	}
	if w.TenantID != nil {
		tenant := id.TenantID(*w.TenantID)
		if err := tenant.Validate(); err != nil {
			return Event{}, fmt.Errorf("decode audit event: %w", err)
		}
		e.TenantID = tenant
	}
	return e, nil
}

// MessageKey groups messages of one entity, so partitioned transports keep
// them on the same partition.
func MessageKey(e Event) string {
	return e.EntityName + ":" + e.EntityID
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
