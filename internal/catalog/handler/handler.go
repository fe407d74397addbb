// Package handler exposes catalog records over HTTP. Every write goes through
// the repository, so each one is reported to the audit lifecycle hook.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"wms/internal/catalog"
	"wms/pkg/platform/httputil"
	"wms/pkg/requestcontext"
)

const maxBodyBytes = 1 << 20

// Repository is the persistence contract a Resource needs.
type Repository[T catalog.Entity] interface {
	Save(ctx context.Context, entity T) (bool, error)
	Get(ctx context.Context, key int64) (T, error)
	Delete(ctx context.Context, key int64) error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Resource serves GET, PUT and DELETE for one catalog record type.
type Resource[T catalog.Entity] struct {
	name      string
	repo      Repository[T]
	newEntity func() T
	logger    *slog.Logger
}

// NewResource creates a resource handler. newEntity returns an empty record to
// decode request bodies into.
func NewResource[T catalog.Entity](name string, repo Repository[T], newEntity func() T, logger *slog.Logger) *Resource[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resource[T]{name: name, repo: repo, newEntity: newEntity, logger: logger}
}

// Register mounts the resource under path.
func (h *Resource[T]) Register(r chi.Router, path string) {
	r.Route(path, func(r chi.Router) {
		r.Get("/{id}", h.HandleGet)
		r.Put("/{id}", h.HandlePut)
		r.Delete("/{id}", h.HandleDelete)
	})
}

// HandleGet returns the record stored under {id}.
func (h *Resource[T]) HandleGet(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entity, err := h.repo.Get(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entity)
}

// HandlePut creates or replaces the record under {id}. The path key wins over
// any id in the body.
func (h *Resource[T]) HandlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := parseKey(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entity := h.newEntity()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(entity); err != nil {
		httputil.WriteError(w, httputil.BadRequest("invalid JSON body"))
		return
	}
	entity.SetKey(key)
	if err := validate.Struct(entity); err != nil {
		httputil.WriteError(w, httputil.BadRequest(err.Error()))
		return
	}

	created, err := h.repo.Save(ctx, entity)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to save catalog record",
			"resource", h.name,
			"key", key,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, entity)
}

// HandleDelete removes the record under {id}.
func (h *Resource[T]) HandleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.repo.Delete(r.Context(), key); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseKey(r *http.Request) (int64, error) {
	key, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || key < 1 {
		return 0, httputil.BadRequest("id must be a positive integer")
	}
	return key, nil
}
