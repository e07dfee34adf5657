package api

import (
	"context"
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/kdimtricp/smilegame/internal/database"
	"github.com/kdimtricp/smilegame/internal/game"
	"github.com/kdimtricp/smilegame/internal/highscore"
	"github.com/kdimtricp/smilegame/internal/round"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Error types returned in the "type" field of an error response.
const (
	ErrTypeNotFound         = "not_found"
	ErrTypeInvalidRequest   = "invalid_request"
	ErrTypeModelUnavailable = "model_unavailable"
	ErrTypeConflict         = "conflict"
	ErrTypeRateLimited      = "rate_limited"
	ErrTypeUnavailable      = "unavailable"
	ErrTypeInternal         = "internal"
)

type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, ErrorResponse{Type: errType, Message: message})
}

// classify maps a domain error onto an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, game.ErrSessionNotFound),
		errors.Is(err, game.ErrSessionClosed),
		errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, ErrTypeNotFound
	case errors.Is(err, game.ErrModelUnavailable):
		return http.StatusServiceUnavailable, ErrTypeModelUnavailable
	case errors.Is(err, round.ErrRoundInProgress),
		errors.Is(err, round.ErrNotRunning),
		errors.Is(err, game.ErrStaleFrame):
		return http.StatusConflict, ErrTypeConflict
	case errors.Is(err, game.ErrTooManySessions):
		return http.StatusServiceUnavailable, ErrTypeUnavailable
	case errors.Is(err, game.ErrEmptyFrame),
		errors.Is(err, game.ErrNoRoundConfig),
		errors.Is(err, game.ErrUnknownDetection),
		errors.Is(err, highscore.ErrUnknownMode):
		return http.StatusBadRequest, ErrTypeInvalidRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrTypeUnavailable
	default:
		return http.StatusInternalServerError, ErrTypeInternal
	}
}

func (app *App) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		app.requestLog(r).WithError(err).Error("Request failed")
		message = "internal error"
	}
	writeError(w, status, errType, message)
}
