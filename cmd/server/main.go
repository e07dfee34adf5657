package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdimtricp/smilegame/internal/api"
	"github.com/kdimtricp/smilegame/internal/config"
	"github.com/kdimtricp/smilegame/internal/database"
	"github.com/kdimtricp/smilegame/internal/facemesh"
	"github.com/kdimtricp/smilegame/internal/game"
	"github.com/kdimtricp/smilegame/internal/highscore"
	"github.com/kdimtricp/smilegame/internal/logging"
	"github.com/kdimtricp/smilegame/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logrus.Fatalf("Failed to initialize logging: %v", err)
	}

	db, err := database.NewDB(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	logger.Infof("Running database migrations from %s", cfg.MigrationsPath)
	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	scores, closeScores, err := newScoreStore(cfg, db, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize high score store: %v", err)
	}
	defer closeScores()

	var recordings storage.Storage
	if cfg.Recordings.Dir != "" {
		local, err := storage.NewLocalStorage(cfg.Recordings.Dir)
		if err != nil {
			logger.Fatalf("Failed to initialize recording storage: %v", err)
		}
		recordings = local
		cfg.Game.Record = true
	}

	var detector facemesh.Detector
	if cfg.FaceMesh.URL != "" {
		detector = facemesh.NewRemoteDetector(cfg.FaceMesh, logger)
	}

	rounds := database.NewRoundRepository(db)
	svc := game.NewService(game.Dependencies{
		Scores:      scores,
		Detector:    detector,
		History:     rounds,
		Recordings:  recordings,
		Calibration: cfg.Calibration,
		Logger:      logger,
	}, cfg.Game)

	if detector != nil {
		// Client-detected sessions keep working while the model is unavailable.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.FaceMesh.DialTimeout)
			defer cancel()
			if err := svc.LoadDetector(ctx); err != nil {
				logger.WithError(err).Warn("Server-side detection disabled")
			}
		}()
	} else {
		logger.Info("FACEMESH_URL not set, only client-side detection is available")
	}

	router := api.NewRouter(&api.App{
		Game:       svc,
		Rounds:     rounds,
		Recordings: recordings,
		Logger:     logger,
	}, cfg.API)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":       cfg.Server.Port,
			"database":   db.Type(),
			"highscores": cfg.HighScores.Backend,
			"recordings": cfg.Recordings.Dir,
		}).Info("Server starting")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	// Sessions close first so event streams and sockets end before the server waits on them.
	svc.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
}

func newScoreStore(cfg *config.Config, db *database.DB, logger *logrus.Logger) (highscore.Store, func(), error) {
	switch cfg.HighScores.Backend {
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := highscore.NewRedisStore(ctx, cfg.HighScores.Redis, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case config.BackendMemory:
		logger.Warn("High scores are kept in memory and lost on restart")
		return highscore.NewMemoryStore(), func() {}, nil
	default:
		return database.NewHighScoreRepo(db), func() {}, nil
	}
}
