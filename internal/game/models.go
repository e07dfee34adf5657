package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/kdimtricp/smilegame/internal/facemesh"
	"github.com/kdimtricp/smilegame/internal/highscore"
	"github.com/kdimtricp/smilegame/internal/round"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionClosed    = errors.New("session closed")
	ErrStaleFrame       = errors.New("frame belongs to a previous round")
	ErrEmptyFrame       = errors.New("frame carries no landmarks, image or no-face marker")
	ErrNoRoundConfig    = errors.New("mode has no round configuration")
	ErrTooManySessions  = errors.New("too many active sessions")
	ErrUnknownDetection = errors.New("unknown detection mode")

	// ErrModelUnavailable is returned when a server-detected session starts
	// or sends an image while the landmark model is not loaded.
	ErrModelUnavailable = facemesh.ErrModelUnavailable
)

// Detection says where landmarks come from for a session.
type Detection string

const (
	// DetectClient sessions receive landmark sets computed in the browser.
	DetectClient Detection = "client"
	// DetectServer sessions send raw frames for server-side detection and
	// cannot start a round while the model is unavailable.
	DetectServer Detection = "server"
)

func ParseDetection(s string) (Detection, error) {
	switch d := Detection(s); d {
	case DetectClient, DetectServer:
		return d, nil
	case "":
		return DetectClient, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDetection, s)
	}
}

type Config struct {
	// CountdownInterval is the period of the countdown trigger.
	CountdownInterval time.Duration `yaml:"countdown_interval" validate:"gte=0"`
	// FrameTimeout bounds server-side detection of one frame.
	FrameTimeout time.Duration `yaml:"frame_timeout" validate:"gte=0"`
	// FrameStaleAfter turns countdown ticks into NoFace samples once no frame
	// has arrived for this long.
	FrameStaleAfter time.Duration `yaml:"frame_stale_after" validate:"gte=0"`
	PersistTimeout  time.Duration `yaml:"persist_timeout" validate:"gte=0"`
	MaxSessions     int           `yaml:"max_sessions" validate:"gte=0"`
	// Record keeps every applied sample of a round as a JSON-lines recording.
	Record bool `yaml:"record"`
	// MaxRecordedSamples caps one recording; later samples are dropped.
	MaxRecordedSamples int `yaml:"max_recorded_samples" validate:"gte=0"`

	Modes map[highscore.Mode]round.Config `yaml:"modes" validate:"dive"`
}

func DefaultConfig() Config {
	return Config{
		CountdownInterval:  time.Second,
		FrameTimeout:       500 * time.Millisecond,
		FrameStaleAfter:    time.Second,
		PersistTimeout:     2 * time.Second,
		MaxSessions:        1000,
		MaxRecordedSamples: 20000,
		Modes: map[highscore.Mode]round.Config{
			highscore.Smile: round.DefaultConfig(),
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CountdownInterval <= 0 {
		c.CountdownInterval = d.CountdownInterval
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = d.FrameTimeout
	}
	if c.FrameStaleAfter <= 0 {
		c.FrameStaleAfter = d.FrameStaleAfter
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = d.MaxSessions
	}
	if c.MaxRecordedSamples <= 0 {
		c.MaxRecordedSamples = d.MaxRecordedSamples
	}
	if len(c.Modes) == 0 {
		c.Modes = d.Modes
	}
	return c
}

type SessionOptions struct {
	Mode      highscore.Mode
	Detection Detection
}

// Frame is one observation from the browser for the round RoundID.
// Exactly one of Landmarks, Image or NoFace is expected.
type Frame struct {
	RoundID   string
	Landmarks *facemesh.LandmarkSet
	Image     []byte
	NoFace    bool
}

const (
	UpdateState = "state"
	UpdateTick  = "tick"
	UpdateEnded = "ended"
)

// Update is pushed to session subscribers.
type Update struct {
	Type     string         `json:"type"`
	Snapshot round.Snapshot `json:"snapshot"`
	Result   *round.Result  `json:"result,omitempty"`
}

// SessionInfo is the externally visible description of a session.
type SessionInfo struct {
	ID         string         `json:"sessionId"`
	Mode       highscore.Mode `json:"mode"`
	Detection  Detection      `json:"detection"`
	ModelReady bool           `json:"modelReady"`
	CreatedAt  time.Time      `json:"createdAt"`
	Snapshot   round.Snapshot `json:"snapshot"`
}
