package handler

import (
	"encoding/json"
	"time"

	audit "wms/pkg/platform/audit"
)

// EntryResponse is the JSON form of one audit entry.
type EntryResponse struct {
	ID         string          `json:"id"`
	EntityName string          `json:"entityName"`
	EntityID   string          `json:"entityId"`
	Action     string          `json:"action"`
	TenantID   *string         `json:"tenantId"`
	Actor      string          `json:"actor"`
	OccurredAt string          `json:"occurredAt"`
	Before     json.RawMessage `json:"before"`
	After      json.RawMessage `json:"after"`
	Content    json.RawMessage `json:"content"`
}

// ListResponse wraps a page of entries.
type ListResponse struct {
	Entries []EntryResponse `json:"entries"`
	Count   int             `json:"count"`
}

func toListResponse(entries []audit.Entry) ListResponse {
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryResponse{
			ID:         e.ID.String(),
			EntityName: e.EntityName,
			EntityID:   e.EntityID,
			Action:     string(e.Action),
			TenantID:   e.TenantID.Ptr(),
			Actor:      e.Actor,
			OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
			Before:     orNull(e.Before),
			After:      orNull(e.After),
			Content:    orNull(e.Content),
		})
	}
	return ListResponse{Entries: out, Count: len(out)}
}

func orNull(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return json.RawMessage("null")
	}
	return raw
}
