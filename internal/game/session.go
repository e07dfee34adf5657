package game

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdimtricp/smilegame/internal/highscore"
	"github.com/kdimtricp/smilegame/internal/models"
	"github.com/kdimtricp/smilegame/internal/round"
	"github.com/kdimtricp/smilegame/internal/smile"
	"github.com/kdimtricp/smilegame/internal/storage"
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdRestart
	cmdFrame
	cmdCountdown
	cmdSnapshot
)

type command struct {
	kind    commandKind
	roundID string
	sample  round.Sample
	mouth   *smile.Mouth
	reply   chan commandResult
}

type commandResult struct {
	snapshot round.Snapshot
	err      error
}

// Session is one mounted game screen. All round state is owned by a single
// goroutine; every mutation reaches it as a command.
type Session struct {
	ID        string
	Mode      highscore.Mode
	Detection Detection
	CreatedAt time.Time

	svc      *Service
	log      logrus.FieldLogger
	commands chan command
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	// roundID mirrors the engine's current round for callers outside the owner.
	roundID atomic.Value

	subsMu sync.Mutex
	subs   map[chan Update]struct{}
	closed bool

	// owned by run
	engine     *round.Engine
	lastUpdate time.Time
	lastFrame  time.Time
	startedAt  time.Time
	recorder   *recorder
}

func newSession(svc *Service, id string, opts SessionOptions, cfg round.Config, highScore int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		Mode:      opts.Mode,
		Detection: opts.Detection,
		CreatedAt: svc.now(),
		svc:       svc,
		log:       svc.log.WithFields(logrus.Fields{"session": id, "mode": opts.Mode}),
		commands:  make(chan command),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		subs:      make(map[chan Update]struct{}),
		engine:    round.New(cfg, highScore),
	}
	s.roundID.Store("")
	return s
}

// CurrentRound returns the identity of the latest started round, or "".
func (s *Session) CurrentRound() string {
	return s.roundID.Load().(string)
}

func (s *Session) run(interval time.Duration) {
	defer close(s.done)
	defer s.closeSubscribers()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Debug("Session owner stopped")
			return
		case cmd := <-s.commands:
			snap, err := s.handle(cmd)
			cmd.reply <- commandResult{snapshot: snap, err: err}
		case <-ticker.C:
			s.countdown()
		}
	}
}

func (s *Session) handle(cmd command) (round.Snapshot, error) {
	switch cmd.kind {
	case cmdStart:
		return s.start()
	case cmdRestart:
		if s.engine.State() == round.Running {
			s.log.WithField("round", s.engine.RoundID()).Info("Round abandoned by restart")
		}
		s.engine.Reset()
		s.roundID.Store("")
		return s.start()
	case cmdFrame:
		return s.frame(cmd)
	case cmdCountdown:
		s.countdown()
	}
	return s.engine.Snapshot(), nil
}

func (s *Session) start() (round.Snapshot, error) {
	if s.Detection == DetectServer && !s.svc.ModelReady() {
		return s.engine.Snapshot(), ErrModelUnavailable
	}

	id, err := s.engine.Start()
	if err != nil {
		return s.engine.Snapshot(), err
	}

	now := s.svc.now()
	s.roundID.Store(id)
	s.lastUpdate = now
	s.lastFrame = now
	s.startedAt = now
	s.recorder = nil
	if s.svc.cfg.Record {
		s.recorder = newRecorder(s.svc.cfg.MaxRecordedSamples)
	}

	s.log.WithFields(logrus.Fields{
		"round":  id,
		"policy": s.engine.Config().Policy,
	}).Info("Round started")

	snap := s.engine.Snapshot()
	s.publish(Update{Type: UpdateState, Snapshot: snap})
	return snap, nil
}

func (s *Session) frame(cmd command) (round.Snapshot, error) {
	if cmd.roundID != s.engine.RoundID() {
		return s.engine.Snapshot(), ErrStaleFrame
	}
	if s.engine.State() != round.Running {
		return s.engine.Snapshot(), round.ErrNotRunning
	}

	s.lastFrame = s.svc.now()
	snap := s.tick(cmd.sample, cmd.mouth)
	if snap.State == round.Running {
		s.publish(Update{Type: UpdateState, Snapshot: snap})
	}
	return snap, nil
}

// countdown advances the running round on the timer. Frames that stopped
// arriving count as a lost face.
func (s *Session) countdown() {
	if s.engine.State() != round.Running {
		return
	}

	sample := round.Hold()
	if s.svc.now().Sub(s.lastFrame) >= s.svc.cfg.FrameStaleAfter {
		sample = round.NoFace()
	}

	snap := s.tick(sample, nil)
	if snap.State == round.Running {
		s.publish(Update{Type: UpdateTick, Snapshot: snap})
	}
}

func (s *Session) tick(sample round.Sample, mouth *smile.Mouth) round.Snapshot {
	now := s.svc.now()
	dt := now.Sub(s.lastUpdate)
	s.lastUpdate = now

	res, err := s.engine.Tick(sample, dt)
	if err != nil {
		s.log.WithError(err).Warn("Tick rejected")
		return s.engine.Snapshot()
	}

	if s.recorder != nil {
		s.recorder.add(RecordedSample{
			DtUS:      dt.Microseconds(),
			Kind:      sample.Kind.String(),
			Intensity: sample.Intensity,
			Mouth:     mouth,
		})
	}

	if res != nil {
		s.finish(res)
		snap := s.engine.Snapshot()
		s.publish(Update{Type: UpdateEnded, Snapshot: snap, Result: res})
		return snap
	}
	return s.engine.Snapshot()
}

// finish persists a finished round: high score, recording, then history.
func (s *Session) finish(res *round.Result) {
	log := s.log.WithFields(logrus.Fields{
		"round":  res.RoundID,
		"score":  res.Score,
		"reason": res.Reason,
	})
	log.Info("Round ended")

	ctx, cancel := context.WithTimeout(context.Background(), s.svc.cfg.PersistTimeout)
	defer cancel()

	newHigh := false
	if res.NewHighScore {
		updated, err := s.svc.scores.Put(ctx, s.Mode, res.Score)
		if err != nil {
			log.WithError(err).Error("Failed to persist high score")
		}
		newHigh = updated
		if updated {
			log.Info("New high score")
		} else if err == nil {
			s.reloadHighScore(ctx, res)
		}
	}

	record := models.NewRound(res.RoundID, s.ID, string(s.Mode), string(res.Policy), s.startedAt)
	record.Finish(res.Score, string(res.Reason), res.Elapsed, newHigh, s.svc.now())

	if s.recorder != nil && s.svc.recordings != nil {
		name, err := s.saveRecording(res.RoundID)
		if err != nil {
			log.WithError(err).Error("Failed to save recording")
		} else {
			record.Recording = name
		}
		if s.recorder.dropped > 0 {
			log.Warnf("Recording truncated, %d samples dropped", s.recorder.dropped)
		}
	}
	s.recorder = nil

	if s.svc.history != nil {
		if err := s.svc.history.Insert(ctx, record); err != nil {
			log.WithError(err).Error("Failed to store round history")
			s.discardRecording(record.Recording)
		}
	}
}

// reloadHighScore corrects res after another session stored a higher score
// since this one was created.
func (s *Session) reloadHighScore(ctx context.Context, res *round.Result) {
	res.NewHighScore = false

	stored, err := s.svc.scores.Get(ctx, s.Mode)
	if err != nil {
		s.log.WithError(err).Warn("Failed to reload high score")
		return
	}
	s.engine.SetHighScore(stored)
	res.HighScore = s.engine.HighScore()
}

// discardRecording removes a recording no history record points at.
func (s *Session) discardRecording(name string) {
	if name == "" || s.svc.recordings == nil {
		return
	}
	if err := s.svc.recordings.DeleteFile(name); err != nil {
		s.log.WithError(err).Warnf("Failed to remove orphaned recording %s", name)
	}
}

func (s *Session) saveRecording(roundID string) (string, error) {
	var buf bytes.Buffer
	if err := EncodeRecording(&buf, s.recorder.samples); err != nil {
		return "", err
	}
	return s.svc.recordings.SaveFile(&buf, storage.FileInfo{
		Name:        roundID,
		Ext:         ".jsonl",
		ContentType: "application/x-ndjson",
	})
}

// do hands cmd to the owner and waits for its reply.
func (s *Session) do(ctx context.Context, cmd command) (round.Snapshot, error) {
	cmd.reply = make(chan commandResult, 1)

	select {
	case s.commands <- cmd:
	case <-s.done:
		return round.Snapshot{}, ErrSessionClosed
	case <-ctx.Done():
		return round.Snapshot{}, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res.snapshot, res.err
	case <-s.done:
		return round.Snapshot{}, ErrSessionClosed
	case <-ctx.Done():
		return round.Snapshot{}, ctx.Err()
	}
}

// Subscribe returns a channel of updates and a function to stop receiving
// them. The channel is closed when the session closes. Slow subscribers miss
// updates rather than stalling the round.
func (s *Session) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func (s *Session) publish(u Update) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- u:
		default:
			s.log.Debugf("Dropped %s update for slow subscriber", u.Type)
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.closed = true
}

// Close stops the owner goroutine and waits for it. Pending frames fail with
// ErrSessionClosed.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
