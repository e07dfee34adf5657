package api

import (
	"context"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/kdimtricp/smilegame/internal/game"
	"github.com/kdimtricp/smilegame/internal/highscore"
	"github.com/kdimtricp/smilegame/internal/models"
	"github.com/kdimtricp/smilegame/internal/storage"
)

const maxBodySize = 1 << 20

// RoundStore reads the finished round history.
type RoundStore interface {
	GetByID(ctx context.Context, id string) (*models.Round, error)
	List(ctx context.Context, mode string, limit int) ([]models.Round, error)
}

type App struct {
	Game       *game.Service
	Rounds     RoundStore
	Recordings storage.Storage
	Logger     logrus.FieldLogger

	validate *validator.Validate
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (app *App) requestLog(r *http.Request) logrus.FieldLogger {
	return app.Logger.WithField("request_id", middleware.GetReqID(r.Context()))
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (app *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "invalid JSON body")
		return false
	}
	if err := app.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, validationMessage(err))
		return false
	}
	return true
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (app *App) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !app.decode(w, r, &req) {
		return
	}

	opts, err := req.options()
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error())
		return
	}

	session, err := app.Game.CreateSession(r.Context(), opts)
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}

	info, err := app.Game.Info(r.Context(), session.ID)
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (app *App) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	info, err := app.Game.Info(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (app *App) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.Game.CloseSession(chi.URLParam(r, "id")); err != nil {
		app.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) StartHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := app.Game.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (app *App) RestartHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := app.Game.Restart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (app *App) FrameHandler(w http.ResponseWriter, r *http.Request) {
	var req FrameRequest
	if !app.decode(w, r, &req) {
		return
	}

	frame, err := req.frame()
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error())
		return
	}

	snap, err := app.Game.SubmitFrame(r.Context(), chi.URLParam(r, "id"), frame)
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (app *App) GetHighScoreHandler(w http.ResponseWriter, r *http.Request) {
	mode, err := highscore.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		writeError(w, http.StatusNotFound, ErrTypeNotFound, err.Error())
		return
	}

	score, err := app.Game.HighScore(r.Context(), mode)
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HighScoreResponse{Mode: mode, HighScore: score})
}

func (app *App) SubmitHighScoreHandler(w http.ResponseWriter, r *http.Request) {
	mode, err := highscore.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		writeError(w, http.StatusNotFound, ErrTypeNotFound, err.Error())
		return
	}

	var req SubmitScoreRequest
	if !app.decode(w, r, &req) {
		return
	}

	updated, err := app.Game.SubmitScore(r.Context(), mode, req.Score)
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}

	score, err := app.Game.HighScore(r.Context(), mode)
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HighScoreResponse{Mode: mode, HighScore: score, Updated: &updated})
}

func (app *App) ListRoundsHandler(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode != "" {
		if _, err := highscore.ParseMode(mode); err != nil {
			writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error())
			return
		}
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	rounds := []models.Round{}
	if app.Rounds != nil {
		var err error
		if rounds, err = app.Rounds.List(r.Context(), mode, limit); err != nil {
			app.writeDomainError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}

func (app *App) RecordingHandler(w http.ResponseWriter, r *http.Request) {
	if app.Rounds == nil || app.Recordings == nil {
		writeError(w, http.StatusNotFound, ErrTypeNotFound, "recordings are disabled")
		return
	}

	rec, err := app.Rounds.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		app.writeDomainError(w, r, err)
		return
	}
	if rec.Recording == "" {
		writeError(w, http.StatusNotFound, ErrTypeNotFound, "round has no recording")
		return
	}

	file, err := app.Recordings.OpenFile(rec.Recording)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrTypeNotFound, "recording file not found")
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	http.ServeContent(w, r, rec.Recording, rec.EndedAt, file)
}
