package round

import (
	"errors"
	"testing"
	"time"
)

const frame = 100 * time.Millisecond

func startedEngine(t *testing.T, cfg Config, highScore int) *Engine {
	t.Helper()
	e := New(cfg, highScore)
	if _, err := e.Start(); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	return e
}

func runUntilEnd(t *testing.T, e *Engine, sample Sample, dt time.Duration, maxTicks int) *Result {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		res, err := e.Tick(sample, dt)
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
		if res != nil {
			return res
		}
	}
	t.Fatalf("round did not end after %d ticks", maxTicks)
	return nil
}

func TestEngine_ContinuousTimeout(t *testing.T) {
	e := startedEngine(t, DefaultConfig(), 0)

	res := runUntilEnd(t, e, Detected(60), frame, 1000)

	if res.Reason != Timeout {
		t.Errorf("expected %s, got %s", Timeout, res.Reason)
	}
	if res.Score != 10 {
		t.Errorf("expected score 10, got %d", res.Score)
	}
	if res.Elapsed != 10*time.Second {
		t.Errorf("expected 10s elapsed, got %v", res.Elapsed)
	}
	if e.State() != Ended {
		t.Errorf("expected %s, got %s", Ended, e.State())
	}
}

func TestEngine_ContinuousStreakBreakKeepsScore(t *testing.T) {
	e := startedEngine(t, DefaultConfig(), 0)

	for i := 0; i < 15; i++ {
		e.Tick(Detected(80), frame)
	}
	if got := e.Snapshot().Score; got != 1 {
		t.Fatalf("expected score 1 after 1.5s of smiling, got %d", got)
	}

	e.Tick(Detected(10), frame)
	snap := e.Snapshot()
	if snap.Score != 1 {
		t.Errorf("streak break must keep score, got %d", snap.Score)
	}
	if snap.IsSmiling {
		t.Error("expected not smiling after low intensity")
	}

	// The half second smiled before the break does not carry over.
	for i := 0; i < 9; i++ {
		e.Tick(Detected(80), frame)
	}
	if got := e.Snapshot().Score; got != 1 {
		t.Errorf("expected score 1 after 0.9s new streak, got %d", got)
	}
	e.Tick(Detected(80), frame)
	if got := e.Snapshot().Score; got != 2 {
		t.Errorf("expected score 2 after 1s new streak, got %d", got)
	}
}

func TestEngine_ContinuousNoFaceDoesNotEnd(t *testing.T) {
	e := startedEngine(t, DefaultConfig(), 0)

	res, err := e.Tick(NoFace(), frame)
	if err != nil || res != nil {
		t.Fatalf("expected round to continue, got result %+v err %v", res, err)
	}
	if e.State() != Running {
		t.Errorf("expected %s, got %s", Running, e.State())
	}
}

func TestEngine_SurvivalNoFaceFirstSample(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = Survival
	e := startedEngine(t, cfg, 0)

	res, err := e.Tick(NoFace(), frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil {
		t.Fatal("expected round to end")
	}
	if res.Reason != FaceLost {
		t.Errorf("expected %s, got %s", FaceLost, res.Reason)
	}
	if res.Score != 0 {
		t.Errorf("expected score 0, got %d", res.Score)
	}
	if res.NewHighScore {
		t.Error("score 0 must not be a new high score")
	}
}

func TestEngine_SurvivalSmileLost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = Survival
	e := startedEngine(t, cfg, 0)

	for _, intensity := range []float64{55, 72.4, 64} {
		if res, _ := e.Tick(Detected(intensity), frame); res != nil {
			t.Fatalf("round ended early at intensity %f", intensity)
		}
	}
	if snap := e.Snapshot(); snap.Intensity != 64 || snap.Score != 72 {
		t.Errorf("expected intensity 64 and peak score 72, got %+v", snap)
	}

	res, _ := e.Tick(Detected(49.9), frame)
	if res == nil {
		t.Fatal("expected round to end below threshold")
	}
	if res.Reason != SmileLost {
		t.Errorf("expected %s, got %s", SmileLost, res.Reason)
	}
	if res.Score != 72 {
		t.Errorf("expected score 72, got %d", res.Score)
	}
}

func TestEngine_SurvivalTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = Survival
	e := startedEngine(t, cfg, 0)

	res := runUntilEnd(t, e, Detected(60), frame, 1000)
	if res.Reason != Timeout {
		t.Errorf("expected %s, got %s", Timeout, res.Reason)
	}
	if res.Score != 60 {
		t.Errorf("expected score 60, got %d", res.Score)
	}
}

func TestEngine_Strict(t *testing.T) {
	tests := []struct {
		name         string
		grace        time.Duration
		interruption Sample
		ticksToEnd   int
		reason       Reason
	}{
		{"smile lost without grace", 0, Detected(20), 1, SmileLost},
		{"face lost without grace", 0, NoFace(), 1, FaceLost},
		{"smile lost after grace", time.Second, Detected(20), 10, SmileLost},
		{"face lost after grace", 500 * time.Millisecond, NoFace(), 5, FaceLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Policy = Strict
			cfg.StrictGrace = tt.grace
			e := startedEngine(t, cfg, 0)

			for i := 0; i < 20; i++ {
				e.Tick(Detected(90), frame)
			}

			var res *Result
			ticks := 0
			for res == nil && ticks < 100 {
				res, _ = e.Tick(tt.interruption, frame)
				ticks++
			}
			if res == nil {
				t.Fatal("expected round to end")
			}
			if ticks != tt.ticksToEnd {
				t.Errorf("expected end after %d ticks, got %d", tt.ticksToEnd, ticks)
			}
			if res.Reason != tt.reason {
				t.Errorf("expected %s, got %s", tt.reason, res.Reason)
			}
			if res.Score != 2 {
				t.Errorf("expected score 2, got %d", res.Score)
			}
		})
	}
}

func TestEngine_StrictWaitsForFirstSmile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = Strict
	e := startedEngine(t, cfg, 0)

	for i := 0; i < 5; i++ {
		if res, _ := e.Tick(Detected(10), frame); res != nil {
			t.Fatal("round must not end before the first smile")
		}
	}
}

func TestEngine_NoFaceFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = Survival
	cfg.NoFaceFrames = 3
	e := startedEngine(t, cfg, 0)

	e.Tick(Detected(70), frame)

	for i := 0; i < 2; i++ {
		if res, _ := e.Tick(NoFace(), frame); res != nil {
			t.Fatalf("no-face frame %d must be held", i+1)
		}
	}
	if !e.Snapshot().IsSmiling {
		t.Error("held frames should keep the last detection")
	}

	res, _ := e.Tick(NoFace(), frame)
	if res == nil || res.Reason != FaceLost {
		t.Fatalf("expected %s on third no-face frame, got %+v", FaceLost, res)
	}
}

func TestEngine_NoFaceRunResetsOnDetection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = Survival
	cfg.NoFaceFrames = 2
	e := startedEngine(t, cfg, 0)

	samples := []Sample{Detected(70), NoFace(), Detected(70), NoFace(), Detected(70)}
	for i, s := range samples {
		if res, _ := e.Tick(s, frame); res != nil {
			t.Fatalf("sample %d ended the round: %+v", i, res)
		}
	}
}

func TestEngine_HoldCarriesLastSample(t *testing.T) {
	e := startedEngine(t, DefaultConfig(), 0)

	e.Tick(Detected(80), frame)
	e.Tick(Hold(), 900*time.Millisecond)

	snap := e.Snapshot()
	if snap.Score != 1 {
		t.Errorf("expected held smile to complete a second, got score %d", snap.Score)
	}
	if !snap.IsSmiling {
		t.Error("expected smiling to carry forward")
	}
}

func TestEngine_HoldBeforeFirstSample(t *testing.T) {
	e := startedEngine(t, DefaultConfig(), 0)

	e.Tick(Hold(), 3*time.Second)

	snap := e.Snapshot()
	if snap.Score != 0 || snap.IsSmiling {
		t.Errorf("expected no score and not smiling, got %+v", snap)
	}
	if snap.TimeRemaining != 7 {
		t.Errorf("expected 7s remaining, got %f", snap.TimeRemaining)
	}
}

func TestEngine_DtClampedToRoundLength(t *testing.T) {
	e := startedEngine(t, DefaultConfig(), 0)

	res, err := e.Tick(Detected(90), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || res.Reason != Timeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if res.Elapsed != 10*time.Second || res.Score != 10 {
		t.Errorf("expected 10s and score 10, got %v and %d", res.Elapsed, res.Score)
	}
}

func TestEngine_StartResets(t *testing.T) {
	e := startedEngine(t, DefaultConfig(), 0)
	firstID := e.RoundID()

	runUntilEnd(t, e, Detected(90), frame, 1000)

	secondID, err := e.Start()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secondID == "" || secondID == firstID {
		t.Errorf("expected a new round id, got %q after %q", secondID, firstID)
	}

	snap := e.Snapshot()
	if snap.State != Running || snap.Score != 0 || snap.Elapsed != 0 || snap.Reason != NoReason {
		t.Errorf("expected fresh running round, got %+v", snap)
	}
	if snap.TimeRemaining != 10 {
		t.Errorf("expected 10s remaining, got %f", snap.TimeRemaining)
	}
}

func TestEngine_StartWhileRunning(t *testing.T) {
	e := startedEngine(t, DefaultConfig(), 0)
	e.Tick(Detected(90), 2*time.Second)

	if _, err := e.Start(); !errors.Is(err, ErrRoundInProgress) {
		t.Fatalf("expected ErrRoundInProgress, got %v", err)
	}
	if e.Snapshot().Score != 2 {
		t.Error("refused start must not reset the round")
	}
}

func TestEngine_TickOutsideRunning(t *testing.T) {
	e := New(DefaultConfig(), 0)

	if _, err := e.Tick(Detected(90), frame); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning in idle, got %v", err)
	}

	e.Start()
	runUntilEnd(t, e, Detected(90), frame, 1000)
	before := e.Snapshot()

	for _, s := range []Sample{Detected(90), NoFace(), Hold()} {
		if _, err := e.Tick(s, time.Second); !errors.Is(err, ErrNotRunning) {
			t.Fatalf("expected ErrNotRunning after end, got %v", err)
		}
	}
	if after := e.Snapshot(); after != before {
		t.Errorf("ended round mutated: %+v -> %+v", before, after)
	}
}

func TestEngine_HighScore(t *testing.T) {
	tests := []struct {
		name        string
		stored      int
		finalScore  float64
		expectHigh  int
		expectNewHS bool
	}{
		{"improves", 60, 75, 75, true},
		{"equal does not update", 75, 75, 75, false},
		{"lower does not update", 90, 75, 90, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Policy = Survival
			e := startedEngine(t, cfg, tt.stored)

			e.Tick(Detected(tt.finalScore), frame)
			res, _ := e.Tick(NoFace(), frame)
			if res == nil {
				t.Fatal("expected round to end")
			}

			if res.NewHighScore != tt.expectNewHS {
				t.Errorf("expected NewHighScore=%v, got %v", tt.expectNewHS, res.NewHighScore)
			}
			if res.HighScore != tt.expectHigh || e.HighScore() != tt.expectHigh {
				t.Errorf("expected high score %d, got result %d engine %d", tt.expectHigh, res.HighScore, e.HighScore())
			}
			if res.PreviousHigh != tt.stored {
				t.Errorf("expected previous high %d, got %d", tt.stored, res.PreviousHigh)
			}
		})
	}
}

func TestEngine_HighScoreNeverDecreases(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = Survival
	e := New(cfg, 0)

	best := 0
	for _, score := range []float64{70, 55, 90, 60, 90, 100, 51} {
		e.Start()
		e.Tick(Detected(score), frame)
		res, _ := e.Tick(NoFace(), frame)

		if int(score) > best {
			best = int(score)
		}
		if res.HighScore != best {
			t.Fatalf("after score %v expected high %d, got %d", score, best, res.HighScore)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"continuous", "survival", "strict"} {
		p, err := ParsePolicy(s)
		if err != nil || string(p) != s {
			t.Errorf("ParsePolicy(%q) = %q, %v", s, p, err)
		}
	}
	if p, _ := ParsePolicy(""); p != Continuous {
		t.Errorf("expected empty policy to default to %s, got %s", Continuous, p)
	}
	if _, err := ParsePolicy("mixed"); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("expected ErrUnknownPolicy, got %v", err)
	}
}

func TestEngine_ResetAbandonsRound(t *testing.T) {
	e := startedEngine(t, DefaultConfig(), 4)
	e.Tick(Detected(90), 5*time.Second)

	e.Reset()

	snap := e.Snapshot()
	if snap.State != Idle || snap.Score != 0 || snap.RoundID != "" {
		t.Errorf("expected idle engine with no round, got %+v", snap)
	}
	if e.HighScore() != 4 {
		t.Errorf("reset must not touch the high score, got %d", e.HighScore())
	}
	if _, err := e.Tick(Detected(90), frame); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning after reset, got %v", err)
	}
	if _, err := e.Start(); err != nil {
		t.Errorf("expected start after reset, got %v", err)
	}
}
