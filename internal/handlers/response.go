package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/narrative-engine/pkg/narrative"
	"github.com/jwebster45206/narrative-engine/pkg/storage"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

// statusForError maps engine and storage errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, narrative.ErrChoiceIndexOutOfRange),
		errors.Is(err, narrative.ErrInvalidArgument),
		errors.Is(err, narrative.ErrNullSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, narrative.ErrNodeNotFound),
		errors.Is(err, narrative.ErrNoCurrentNode),
		errors.Is(err, narrative.ErrMissingStartNode),
		errors.Is(err, narrative.ErrNoStoryLoaded),
		errors.Is(err, narrative.ErrStoryMismatch):
		return http.StatusConflict
	case errors.Is(err, errSessionNotFound), errors.Is(err, storage.ErrStoryNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
