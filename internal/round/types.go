package round

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotRunning      = errors.New("round is not running")
	ErrRoundInProgress = errors.New("round already in progress")
	ErrUnknownPolicy   = errors.New("unknown termination policy")
)

type State string

const (
	Idle    State = "idle"
	Running State = "running"
	Ended   State = "ended"
)

type Reason string

const (
	NoReason  Reason = ""
	Timeout   Reason = "timeout"
	SmileLost Reason = "smile_lost"
	FaceLost  Reason = "face_lost"
)

// Policy decides how samples score and when a round ends before its timer.
type Policy string

const (
	// Continuous awards one point per full second of unbroken smiling.
	// A broken streak restarts the count but keeps the points. Ends only on timeout.
	Continuous Policy = "continuous"
	// Survival scores the best intensity seen and ends as soon as the
	// intensity drops below the threshold or the face is lost.
	Survival Policy = "survival"
	// Strict scores like Continuous but an interrupted streak ends the round.
	Strict Policy = "strict"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case Continuous, Survival, Strict:
		return p, nil
	case "":
		return Continuous, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

type SampleKind int

const (
	// SampleHold advances time only and repeats the last observed sample.
	SampleHold SampleKind = iota
	SampleDetected
	SampleNoFace
)

func (k SampleKind) String() string {
	switch k {
	case SampleDetected:
		return "detected"
	case SampleNoFace:
		return "no_face"
	default:
		return "hold"
	}
}

type Sample struct {
	Kind      SampleKind
	Intensity float64
}

func Detected(intensity float64) Sample {
	return Sample{Kind: SampleDetected, Intensity: intensity}
}

func NoFace() Sample {
	return Sample{Kind: SampleNoFace}
}

func Hold() Sample {
	return Sample{Kind: SampleHold}
}

type Config struct {
	Policy      Policy        `yaml:"policy" json:"policy" validate:"omitempty,oneof=continuous survival strict"`
	RoundLength time.Duration `yaml:"round_length" json:"roundLength" validate:"gte=0"`
	// Threshold is the minimum intensity that counts as smiling.
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"gte=0,lte=100"`
	// NoFaceFrames is how many consecutive no-face frames make one NoFace sample.
	NoFaceFrames int `yaml:"no_face_frames" json:"noFaceFrames" validate:"gte=0"`
	// StrictGrace is how long a Strict round tolerates not smiling. Zero ends
	// the round on the first interruption.
	StrictGrace time.Duration `yaml:"strict_grace" json:"strictGrace" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		Policy:       Continuous,
		RoundLength:  10 * time.Second,
		Threshold:    50,
		NoFaceFrames: 1,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Policy == "" {
		c.Policy = defaults.Policy
	}
	if c.RoundLength <= 0 {
		c.RoundLength = defaults.RoundLength
	}
	if c.NoFaceFrames < 1 {
		c.NoFaceFrames = defaults.NoFaceFrames
	}
	return c
}

// Result is produced once, when a round enters Ended.
type Result struct {
	RoundID        string        `json:"roundId"`
	Policy         Policy        `json:"policy"`
	Score          int           `json:"score"`
	Reason         Reason        `json:"reason"`
	Elapsed        time.Duration `json:"-"`
	ElapsedSeconds float64       `json:"elapsed"`
	PreviousHigh   int           `json:"previousHighScore"`
	HighScore      int           `json:"highScore"`
	NewHighScore   bool          `json:"newHighScore"`
}

// Snapshot is what the presentation layer renders.
type Snapshot struct {
	State         State   `json:"roundState"`
	RoundID       string  `json:"roundId,omitempty"`
	Policy        Policy  `json:"policy"`
	Score         int     `json:"currentScore"`
	Intensity     float64 `json:"intensity"`
	IsSmiling     bool    `json:"isSmiling"`
	Elapsed       float64 `json:"elapsed"`
	TimeRemaining float64 `json:"timeRemaining"`
	Reason        Reason  `json:"reason,omitempty"`
	HighScore     int     `json:"highScore"`
}
