package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/FranksOps/trendpress/internal/storage"
)

// badRequest marks a client error in query or path parameters.
type badRequest struct {
	field string
	msg   string
}

func (e *badRequest) Error() string { return e.field + ": " + e.msg }

type responder struct {
	logger *slog.Logger
}

func (rs responder) writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		rs.logger.Error("marshal response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		rs.logger.Debug("write response", "err", err)
	}
}

// writeError maps err to a status: 400 for parameter errors, 404 for missing
// records and 500 otherwise.
func (rs responder) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var br *badRequest
	switch {
	case errors.As(err, &br):
		rs.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Validation error",
			"field":   br.field,
			"message": br.msg,
		})
	case errors.Is(err, storage.ErrNotFound):
		rs.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	default:
		rs.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		rs.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
}
