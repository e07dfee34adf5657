package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kdimtricp/smilegame/internal/facemesh"
	"github.com/kdimtricp/smilegame/internal/highscore"
	"github.com/kdimtricp/smilegame/internal/models"
	"github.com/kdimtricp/smilegame/internal/round"
	"github.com/kdimtricp/smilegame/internal/smile"
	"github.com/kdimtricp/smilegame/internal/storage"
)

// RoundHistory stores finished rounds.
type RoundHistory interface {
	Insert(ctx context.Context, round *models.Round) error
}

type Dependencies struct {
	Scores      highscore.Store
	Detector    facemesh.Detector
	History     RoundHistory
	Recordings  storage.Storage
	Calibration smile.Calibration
	Logger      logrus.FieldLogger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Service struct {
	cfg         Config
	calibration smile.Calibration
	detector    facemesh.Detector
	modelReady  atomic.Bool
	scores      highscore.Store
	history     RoundHistory
	recordings  storage.Storage
	log         logrus.FieldLogger
	now         func() time.Time

	sessions   map[string]*Session
	sessionsMu sync.RWMutex
}

func NewService(deps Dependencies, config Config) *Service {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Scores == nil {
		deps.Scores = highscore.NewMemoryStore()
	}
	if deps.Calibration == (smile.Calibration{}) {
		deps.Calibration = smile.DefaultCalibration()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	return &Service{
		cfg:         config.withDefaults(),
		calibration: deps.Calibration,
		detector:    deps.Detector,
		scores:      deps.Scores,
		history:     deps.History,
		recordings:  deps.Recordings,
		log:         deps.Logger.WithField("component", "game"),
		now:         deps.Clock,
		sessions:    make(map[string]*Session),
	}
}

// LoadDetector loads the landmark model. Until it succeeds, server-detected
// sessions cannot start a round.
func (s *Service) LoadDetector(ctx context.Context) error {
	if s.detector == nil {
		return fmt.Errorf("%w: no detector configured", ErrModelUnavailable)
	}
	if err := s.detector.Load(ctx); err != nil {
		s.modelReady.Store(false)
		if !errors.Is(err, ErrModelUnavailable) {
			err = fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}
		return err
	}
	s.modelReady.Store(true)
	s.log.Info("Face mesh model ready")
	return nil
}

func (s *Service) ModelReady() bool {
	return s.modelReady.Load()
}

// CreateSession mounts a game screen for mode. The stored high score is read
// once here.
func (s *Service) CreateSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	cfg, ok := s.cfg.Modes[opts.Mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRoundConfig, opts.Mode)
	}
	if opts.Detection == "" {
		opts.Detection = DetectClient
	}

	s.sessionsMu.RLock()
	active := len(s.sessions)
	s.sessionsMu.RUnlock()
	if active >= s.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	highScore, err := s.scores.Get(ctx, opts.Mode)
	if err != nil {
		s.log.WithError(err).Warnf("Failed to read %s high score, starting from 0", opts.Mode)
		highScore = 0
	}

	session := newSession(s, uuid.New().String(), opts, cfg, highScore)

	s.sessionsMu.Lock()
	s.sessions[session.ID] = session
	s.sessionsMu.Unlock()

	go session.run(s.cfg.CountdownInterval)

	session.log.WithFields(logrus.Fields{
		"detection": opts.Detection,
		"highScore": highScore,
	}).Info("Session created")

	return session, nil
}

func (s *Service) GetSession(sessionID string) (*Session, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	session, exists := s.sessions[sessionID]
	return session, exists
}

func (s *Service) session(sessionID string) (*Session, error) {
	session, ok := s.GetSession(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, nil
}

func (s *Service) Info(ctx context.Context, sessionID string) (SessionInfo, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return SessionInfo{}, err
	}

	snap, err := session.do(ctx, command{kind: cmdSnapshot})
	if err != nil {
		return SessionInfo{}, err
	}

	return SessionInfo{
		ID:         session.ID,
		Mode:       session.Mode,
		Detection:  session.Detection,
		ModelReady: s.ModelReady(),
		CreatedAt:  session.CreatedAt,
		Snapshot:   snap,
	}, nil
}

func (s *Service) Snapshot(ctx context.Context, sessionID string) (round.Snapshot, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return round.Snapshot{}, err
	}
	return session.do(ctx, command{kind: cmdSnapshot})
}

// Start begins a round. It fails with round.ErrRoundInProgress while one runs.
func (s *Service) Start(ctx context.Context, sessionID string) (round.Snapshot, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return round.Snapshot{}, err
	}
	return session.do(ctx, command{kind: cmdStart})
}

// Restart abandons any running round and starts a fresh one.
func (s *Service) Restart(ctx context.Context, sessionID string) (round.Snapshot, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return round.Snapshot{}, err
	}
	return session.do(ctx, command{kind: cmdRestart})
}

// SubmitFrame scores frame and applies it to its round. Detection runs before
// the frame reaches the session owner; failures become a NoFace sample.
func (s *Service) SubmitFrame(ctx context.Context, sessionID string, frame Frame) (round.Snapshot, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return round.Snapshot{}, err
	}

	roundID := frame.RoundID
	if roundID == "" {
		roundID = session.CurrentRound()
	}
	if roundID != session.CurrentRound() {
		return round.Snapshot{}, ErrStaleFrame
	}

	sample, mouth, err := s.sample(ctx, session, frame)
	if err != nil {
		return round.Snapshot{}, err
	}

	return session.do(ctx, command{
		kind:    cmdFrame,
		roundID: roundID,
		sample:  sample,
		mouth:   mouth,
	})
}

func (s *Service) sample(ctx context.Context, session *Session, frame Frame) (round.Sample, *smile.Mouth, error) {
	switch {
	case frame.NoFace:
		return round.NoFace(), nil, nil
	case frame.Landmarks != nil:
		return s.score(session, *frame.Landmarks)
	case len(frame.Image) > 0:
		if s.detector == nil || !s.ModelReady() {
			return round.Sample{}, nil, ErrModelUnavailable
		}

		detectCtx, cancel := context.WithTimeout(ctx, s.cfg.FrameTimeout)
		defer cancel()

		landmarks, err := s.detector.Detect(detectCtx, frame.Image)
		if errors.Is(err, facemesh.ErrNoFace) {
			return round.NoFace(), nil, nil
		}
		if err != nil {
			session.log.WithError(err).Warn("Detection failed, counting frame as no face")
			return round.NoFace(), nil, nil
		}
		return s.score(session, landmarks)
	default:
		return round.Sample{}, nil, ErrEmptyFrame
	}
}

func (s *Service) score(session *Session, landmarks facemesh.LandmarkSet) (round.Sample, *smile.Mouth, error) {
	intensity, mouth, err := s.calibration.Score(landmarks.Mouth())
	if err != nil {
		session.log.WithError(err).Debug("Malformed landmarks scored as 0")
		return round.Detected(intensity), nil, nil
	}
	return round.Detected(intensity), &mouth, nil
}

func (s *Service) Subscribe(sessionID string) (<-chan Update, func(), error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// CloseSession tears the session down: both triggers stop and subscribers are
// released before it returns.
func (s *Service) CloseSession(sessionID string) error {
	s.sessionsMu.Lock()
	session, exists := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.sessionsMu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	session.Close()
	session.log.Info("Session closed")
	return nil
}

// Shutdown closes every session.
func (s *Service) Shutdown() {
	s.sessionsMu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for id, session := range s.sessions {
		sessions = append(sessions, session)
		delete(s.sessions, id)
	}
	s.sessionsMu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	if s.detector != nil {
		if err := s.detector.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close detector")
		}
	}
	s.log.Infof("Closed %d session(s)", len(sessions))
}

// HighScore reads the persisted high score for mode.
func (s *Service) HighScore(ctx context.Context, mode highscore.Mode) (int, error) {
	return s.scores.Get(ctx, mode)
}

// SubmitScore records a final score computed by the client, as the emoji
// game does. It reports whether the stored high score improved.
func (s *Service) SubmitScore(ctx context.Context, mode highscore.Mode, score int) (bool, error) {
	updated, err := s.scores.Put(ctx, mode, score)
	if err != nil {
		return false, err
	}
	if updated {
		s.log.WithFields(logrus.Fields{"mode": mode, "score": score}).Info("New high score")
	}
	return updated, nil
}

func (s *Service) ActiveSessions() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}
