package round

import (
	"math"
	"time"

	"github.com/oklog/ulid/v2"
)

// Engine is the round state machine for one player. It is not safe for
// concurrent use; a single owner feeds it samples and countdown ticks.
type Engine struct {
	cfg   Config
	newID func() string

	state   State
	roundID string
	reason  Reason

	elapsed    time.Duration
	streak     time.Duration
	notSmiling time.Duration
	awarded    int
	smiledOnce bool

	score     int
	intensity float64
	smiling   bool
	last      Sample
	noFaceRun int

	highScore int
}

// New returns an Idle engine. highScore is the stored best for the mode,
// read once when the game is mounted.
func New(cfg Config, highScore int) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		newID:     func() string { return ulid.Make().String() },
		state:     Idle,
		highScore: highScore,
	}
}

func (e *Engine) Config() Config { return e.cfg }
func (e *Engine) State() State { return e.state }
func (e *Engine) RoundID() string { return e.roundID }
func (e *Engine) HighScore() int { return e.highScore }

// Start begins a fresh round from Idle or Ended and returns its identity.
func (e *Engine) Start() (string, error) {
	if e.state == Running {
		return "", ErrRoundInProgress
	}

	e.clear()
	e.state = Running
	e.roundID = e.newID()
	return e.roundID, nil
}

// Reset abandons the current round, if any, without producing a Result and
// returns the engine to Idle. The held high score is kept.
func (e *Engine) Reset() {
	e.clear()
	e.state = Idle
	e.roundID = ""
}

func (e *Engine) clear() {
	e.reason = NoReason
	e.elapsed = 0
	e.streak = 0
	e.notSmiling = 0
	e.awarded = 0
	e.smiledOnce = false
	e.score = 0
	e.intensity = 0
	e.smiling = false
	e.last = Hold()
	e.noFaceRun = 0
}

// Tick advances the running round by dt and applies sample. It returns a
// non-nil Result when this tick ended the round.
func (e *Engine) Tick(sample Sample, dt time.Duration) (*Result, error) {
	if e.state != Running {
		return nil, ErrNotRunning
	}

	if dt < 0 {
		dt = 0
	}
	if remaining := e.cfg.RoundLength - e.elapsed; dt > remaining {
		dt = remaining
	}
	e.elapsed += dt

	switch e.effective(sample).Kind {
	case SampleDetected:
		e.applyDetected(e.last.Intensity, dt)
	case SampleNoFace:
		e.applyNoFace(dt)
	}

	if e.state == Running && e.elapsed >= e.cfg.RoundLength {
		e.end(Timeout)
	}

	if e.state == Ended {
		return e.result(), nil
	}
	return nil, nil
}

// effective resolves the sample that actually applies: consecutive no-face
// frames below the configured run count are held, and held samples repeat
// the last applied one.
func (e *Engine) effective(sample Sample) Sample {
	switch sample.Kind {
	case SampleDetected:
		e.noFaceRun = 0
		e.last = sample
	case SampleNoFace:
		e.noFaceRun++
		if e.noFaceRun >= e.cfg.NoFaceFrames {
			e.last = sample
		}
	}
	return e.last
}

func (e *Engine) applyDetected(intensity float64, dt time.Duration) {
	e.intensity = intensity
	e.smiling = intensity >= e.cfg.Threshold

	if e.cfg.Policy == Survival {
		if !e.smiling {
			e.end(SmileLost)
			return
		}
		if v := int(math.Round(intensity)); v > e.score {
			e.score = v
		}
		return
	}

	if e.smiling {
		e.smiledOnce = true
		e.notSmiling = 0
		e.streak += dt
		if seconds := int(e.streak / time.Second); seconds > e.awarded {
			e.score += seconds - e.awarded
			e.awarded = seconds
		}
		return
	}

	e.interrupt(dt, SmileLost)
}

func (e *Engine) applyNoFace(dt time.Duration) {
	e.intensity = 0
	e.smiling = false

	if e.cfg.Policy == Survival {
		e.end(FaceLost)
		return
	}
	e.interrupt(dt, FaceLost)
}

func (e *Engine) interrupt(dt time.Duration, reason Reason) {
	e.streak = 0
	e.awarded = 0
	e.notSmiling += dt

	if e.cfg.Policy != Strict || !e.smiledOnce {
		return
	}
	if e.cfg.StrictGrace == 0 || e.notSmiling >= e.cfg.StrictGrace {
		e.end(reason)
	}
}

func (e *Engine) end(reason Reason) {
	e.state = Ended
	e.reason = reason
	e.smiling = false
}

func (e *Engine) result() *Result {
	r := &Result{
		RoundID:        e.roundID,
		Policy:         e.cfg.Policy,
		Score:          e.score,
		Reason:         e.reason,
		Elapsed:        e.elapsed,
		ElapsedSeconds: e.elapsed.Seconds(),
		PreviousHigh:   e.highScore,
		HighScore:      e.highScore,
	}
	if e.score > e.highScore {
		e.highScore = e.score
		r.HighScore = e.score
		r.NewHighScore = true
	}
	return r
}

// SetHighScore replaces the held high score, for instance after a reload
// from storage. Lower values are ignored.
func (e *Engine) SetHighScore(score int) {
	if score > e.highScore {
		e.highScore = score
	}
}

func (e *Engine) Snapshot() Snapshot {
	remaining := e.cfg.RoundLength - e.elapsed
	if e.state == Idle {
		remaining = e.cfg.RoundLength
	}
	return Snapshot{
		State:         e.state,
		RoundID:       e.roundID,
		Policy:        e.cfg.Policy,
		Score:         e.score,
		Intensity:     e.intensity,
		IsSmiling:     e.smiling,
		Elapsed:       e.elapsed.Seconds(),
		TimeRemaining: remaining.Seconds(),
		Reason:        e.reason,
		HighScore:     e.highScore,
	}
}
