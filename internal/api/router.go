package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	// RequestRate and RequestBurst bound API requests per client IP.
	RequestRate  float64 `yaml:"request_rate" validate:"gt=0"`
	RequestBurst int     `yaml:"request_burst" validate:"gt=0"`
	// FrameRate and FrameBurst bound frames per WebSocket connection.
	FrameRate  float64 `yaml:"frame_rate" validate:"gt=0"`
	FrameBurst int     `yaml:"frame_burst" validate:"gt=0"`
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RequestRate:  60,
		RequestBurst: 120,
		FrameRate:    30,
		FrameBurst:   30,
	}
}

func NewRouter(app *App, cfg RouterConfig) http.Handler {
	if app.Logger == nil {
		app.Logger = logrus.StandardLogger()
	}
	app.Logger = app.Logger.WithField("component", "api")
	app.validate = newValidator()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(app.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	limiter := newIPRateLimiter(rate.Limit(cfg.RequestRate), cfg.RequestBurst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.middleware(app.Logger))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", app.CreateSessionHandler)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.GetSessionHandler)
				r.Delete("/", app.DeleteSessionHandler)
				r.Post("/start", app.StartHandler)
				r.Post("/restart", app.RestartHandler)
				r.Post("/frames", app.FrameHandler)
				r.Get("/events", app.EventsHandler)
				r.Get("/ws", app.WebSocketHandler(rate.Limit(cfg.FrameRate), cfg.FrameBurst))
			})
		})

		r.Get("/highscores/{mode}", app.GetHighScoreHandler)
		r.Post("/highscores/{mode}", app.SubmitHighScoreHandler)

		r.Get("/rounds", app.ListRoundsHandler)
		r.Get("/rounds/{id}/recording", app.RecordingHandler)
	})

	return r
}
