package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ayusman/palmreader/internal/log"
	"github.com/ayusman/palmreader/internal/session"
)

// Reader is the session controller as seen by the API.
type Reader interface {
	Start(ctx context.Context) error
	Reset() error
	View() session.View
	Busy() bool
}

// SessionHandler starts, resets and reports reading sessions.
type SessionHandler struct {
	reader Reader
	// Sessions run under ctx, not the request's context.
	ctx context.Context
}

// NewSessionHandler returns a handler whose sessions are bound to ctx.
func NewSessionHandler(ctx context.Context, r Reader) *SessionHandler {
	return &SessionHandler{reader: r, ctx: ctx}
}

// Read handles POST /api/read. It answers 202 with the current view, or
// 409 when a session is already running.
func (h *SessionHandler) Read(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.reader.Start(h.ctx); err != nil {
		if errors.Is(err, session.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		log.Error(log.Fields{"error": err.Error()}, "starting session")
		writeError(w, http.StatusInternalServerError, "failed to start reading")
		return
	}

	writeJSON(w, http.StatusAccepted, h.reader.View())
}

// Reset handles POST /api/reset.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.reader.Reset(); err != nil {
		if errors.Is(err, session.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.reader.View())
}

// State handles GET /api/state.
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.reader.View())
}
