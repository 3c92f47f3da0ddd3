package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/palmreader/internal/log"
	"github.com/ayusman/palmreader/internal/store"
)

// History is the part of the reading repository the API needs.
type History interface {
	List(ctx context.Context, limit int) ([]store.Reading, error)
	GetByID(ctx context.Context, id string) (*store.Reading, error)
	Delete(ctx context.Context, id string) error
}

// ReadingsHandler serves the history of past readings.
type ReadingsHandler struct {
	history History
}

// NewReadingsHandler creates a new ReadingsHandler.
func NewReadingsHandler(h History) *ReadingsHandler {
	return &ReadingsHandler{history: h}
}

type listReadingsResponse struct {
	Readings []store.Reading `json:"readings"`
}

// ServeHTTP routes /api/readings and /api/readings/{id}.
func (h *ReadingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/readings")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// list handles GET /api/readings?limit=N.
func (h *ReadingsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	readings, err := h.history.List(r.Context(), limit)
	if err != nil {
		log.Error(log.Fields{"error": err.Error()}, "listing readings")
		writeError(w, http.StatusInternalServerError, "failed to list readings")
		return
	}

	writeJSON(w, http.StatusOK, listReadingsResponse{Readings: readings})
}

func (h *ReadingsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	reading, err := h.history.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "reading not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get reading")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (h *ReadingsHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.history.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "reading not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete reading")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
