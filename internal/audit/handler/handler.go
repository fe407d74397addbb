// Package handler exposes the audit trail over HTTP for inspection.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Reader

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	id "wms/pkg/domain"
	audit "wms/pkg/platform/audit"
	"wms/pkg/platform/httputil"
	wmsstrings "wms/pkg/platform/strings"
	"wms/pkg/requestcontext"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
	maxEntityIDs = 100
)

// Reader is the read side of the audit store.
type Reader interface {
	FindByEntity(ctx context.Context, entityName, entityID string) ([]audit.Entry, error)
	FindByEntities(ctx context.Context, entityName string, entityIDs []string) ([]audit.Entry, error)
	FindByTenant(ctx context.Context, tenantID id.TenantID, limit int) ([]audit.Entry, error)
}

// Handler serves audit history queries.
type Handler struct {
	reader Reader
	logger *slog.Logger
}

// New constructs an audit handler.
func New(reader Reader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{reader: reader, logger: logger}
}

// Register mounts audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/entities/{entityName}", h.HandleEntitiesHistory)
	r.Get("/audit/entities/{entityName}/{entityID}", h.HandleEntityHistory)
	r.Get("/audit/tenants/{tenantID}", h.HandleTenantEntries)
}

// HandleEntityHistory handles GET /audit/entities/{entityName}/{entityID}.
func (h *Handler) HandleEntityHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityName := chi.URLParam(r, "entityName")
	entityID := chi.URLParam(r, "entityID")

	entries, err := h.reader.FindByEntity(ctx, entityName, entityID)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit history lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"entity_name", entityName,
			"entity_id", entityID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(entries))
}

// HandleEntitiesHistory handles GET /audit/entities/{entityName}?id=1&id=2.
func (h *Handler) HandleEntitiesHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityName := chi.URLParam(r, "entityName")

	ids := wmsstrings.SplitList(r.URL.Query()["id"])
	if len(ids) == 0 {
		httputil.WriteError(w, httputil.BadRequest("at least one id query parameter is required"))
		return
	}
	if len(ids) > maxEntityIDs {
		httputil.WriteError(w, httputil.BadRequest("too many ids, at most "+strconv.Itoa(maxEntityIDs)+" are allowed"))
		return
	}

	entries, err := h.reader.FindByEntities(ctx, entityName, ids)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit history lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"entity_name", entityName,
			"entity_ids", len(ids),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(entries))
}

// HandleTenantEntries handles GET /audit/tenants/{tenantID}?limit=N.
func (h *Handler) HandleTenantEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		httputil.WriteError(w, httputil.BadRequest(err.Error()))
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.reader.FindByTenant(ctx, tenant, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "tenant audit lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", tenant.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(entries))
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxLimit {
		return 0, httputil.BadRequest("limit must be an integer between 1 and " + strconv.Itoa(maxLimit))
	}
	return limit, nil
}
