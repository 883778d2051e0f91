package app

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Rensir56/SegTool-for-Jade/distcache"
	"github.com/Rensir56/SegTool-for-Jade/errors"
)

// routes mounts the operations endpoints next to /metrics.
func (a *App) routes(r chi.Router) {
	r.Get("/health", a.handleHealth)
	r.Get("/stats", a.handleStats)
	r.Get("/tasks/{id}", a.handleTask)
	r.Post("/cache/cleanup", a.handleCleanup)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := a.Health(r.Context())
	code := http.StatusOK
	if st.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Stats())
}

func (a *App) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := a.TaskStatus(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case stderrors.Is(err, distcache.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.IsInvalid(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Warn("Task status lookup failed", "message_id", id, "error", err)
		writeError(w, http.StatusServiceUnavailable, "status store unavailable")
	}
}

func (a *App) handleCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := a.Cleanup(r.Context())
	if err != nil {
		a.logger.Warn("Cache cleanup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"removed": n, "error": "cleanup failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
