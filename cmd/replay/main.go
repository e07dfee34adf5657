// Command replay re-runs a recorded round under different calibration or
// round settings, for tuning thresholds offline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kdimtricp/smilegame/internal/config"
	"github.com/kdimtricp/smilegame/internal/database"
	"github.com/kdimtricp/smilegame/internal/game"
	"github.com/kdimtricp/smilegame/internal/highscore"
	"github.com/kdimtricp/smilegame/internal/logging"
	"github.com/kdimtricp/smilegame/internal/models"
	"github.com/kdimtricp/smilegame/internal/round"
	"github.com/kdimtricp/smilegame/internal/smile"
	"github.com/kdimtricp/smilegame/internal/storage"
)

func main() {
	var (
		roundID   = flag.String("id", "", "Round ID whose recording to replay")
		file      = flag.String("file", "", "Recording file to replay instead of a stored round")
		policy    = flag.String("policy", "", "Termination policy (continuous, survival, strict)")
		length    = flag.Duration("length", 0, "Round length")
		threshold = flag.Float64("threshold", -1, "Smiling threshold")
		grace     = flag.Duration("grace", -1, "Strict policy grace window")
		baseline  = flag.Float64("baseline", 0, "Calibration baseline ratio")
		gain      = flag.Float64("gain", 0, "Calibration gain")
		minHeight = flag.Float64("min-height", 0, "Minimum mouth height in pixels")
	)
	flag.Parse()

	if (*roundID == "") == (*file == "") {
		fmt.Fprintln(os.Stderr, "Provide exactly one of -id or -file")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	var original *round.Result
	roundCfg := cfg.Game.Modes[highscore.Smile]

	r, err := openRecording(cfg, *roundID, *file)
	if err != nil {
		logger.Fatalf("Failed to open recording: %v", err)
	}
	if r.record != nil {
		if mode, err := highscore.ParseMode(r.record.Mode); err == nil {
			if modeCfg, ok := cfg.Game.Modes[mode]; ok {
				roundCfg = modeCfg
			}
		}
		roundCfg.Policy = round.Policy(r.record.Policy)
		original = &round.Result{
			Score:   r.record.Score,
			Reason:  round.Reason(r.record.Reason),
			Elapsed: time.Duration(r.record.ElapsedMS) * time.Millisecond,
		}
	}

	samples, err := game.DecodeRecording(r)
	r.Close()
	if err != nil {
		logger.Fatalf("Failed to decode recording: %v", err)
	}

	if *policy != "" {
		if roundCfg.Policy, err = round.ParsePolicy(*policy); err != nil {
			logger.Fatal(err)
		}
	}
	if *length > 0 {
		roundCfg.RoundLength = *length
	}
	if *threshold >= 0 {
		roundCfg.Threshold = *threshold
	}
	if *grace >= 0 {
		roundCfg.StrictGrace = *grace
	}

	var calibration *smile.Calibration
	if *baseline > 0 || *gain > 0 || *minHeight > 0 {
		c := cfg.Calibration
		if *baseline > 0 {
			c.Baseline = *baseline
		}
		if *gain > 0 {
			c.Gain = *gain
		}
		if *minHeight > 0 {
			c.MinMouthHeight = *minHeight
		}
		calibration = &c
	}

	fmt.Printf("Replaying %d samples\n", len(samples))
	fmt.Printf("Policy: %s  Length: %v  Threshold: %.1f  Grace: %v\n",
		roundCfg.Policy, roundCfg.RoundLength, roundCfg.Threshold, roundCfg.StrictGrace)
	if calibration != nil {
		fmt.Printf("Calibration: baseline=%.2f gain=%.1f min-height=%.1f\n",
			calibration.Baseline, calibration.Gain, calibration.MinMouthHeight)
	}
	fmt.Println()

	res, err := game.Replay(samples, roundCfg, calibration)
	if errors.Is(err, game.ErrReplayIncomplete) {
		fmt.Println("Recording ended before the round finished")
		return
	}
	if err != nil {
		logger.Fatalf("Replay failed: %v", err)
	}

	if original != nil {
		fmt.Printf("Original: score=%d reason=%s elapsed=%v\n", original.Score, original.Reason, original.Elapsed)
	}
	fmt.Printf("Replayed: score=%d reason=%s elapsed=%v\n", res.Score, res.Reason, res.Elapsed)
}

type recording struct {
	io.ReadCloser
	record *models.Round
}

func openRecording(cfg *config.Config, roundID, file string) (*recording, error) {
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		return &recording{ReadCloser: f}, nil
	}

	if cfg.Recordings.Dir == "" {
		return nil, errors.New("RECORDINGS_DIR is not set")
	}

	db, err := database.NewDB(cfg.Database, logging.Discard())
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := database.NewRoundRepository(db).GetByID(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if rec.Recording == "" {
		return nil, fmt.Errorf("round %s has no recording", roundID)
	}

	local, err := storage.NewLocalStorage(cfg.Recordings.Dir)
	if err != nil {
		return nil, err
	}
	f, err := local.OpenFile(rec.Recording)
	if err != nil {
		return nil, err
	}
	return &recording{ReadCloser: f, record: rec}, nil
}
