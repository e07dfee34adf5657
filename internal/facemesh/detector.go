package facemesh

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoFace means the frame was processed and contained no face.
	ErrNoFace = errors.New("no face detected")
	// ErrModelUnavailable means the landmark model could not be loaded or reached.
	ErrModelUnavailable = errors.New("face mesh model unavailable")
)

// Detector turns a video frame into face landmarks.
type Detector interface {
	// Load prepares the model. Detect must not be called before Load succeeds.
	Load(ctx context.Context) error

	// Detect returns the landmarks of the first face in frame, or ErrNoFace.
	// Any other error is transient and only affects this frame.
	Detect(ctx context.Context, frame []byte) (LandmarkSet, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds the remote inference service settings.
type Config struct {
	URL          string        `yaml:"url" validate:"omitempty,url"`
	DialTimeout  time.Duration `yaml:"dial_timeout" validate:"gte=0"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	PingInterval time.Duration `yaml:"ping_interval" validate:"gte=0"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		DialTimeout:  10 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PingInterval: 30 * time.Second,
	}
}
