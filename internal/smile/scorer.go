package smile

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kdimtricp/smilegame/internal/facemesh"
)

const (
	MinScore = 0.0
	MaxScore = 100.0
)

// ErrMalformedLandmarks is returned when a landmark set lacks a required
// mouth point or carries a non-finite coordinate. The score is 0.
var ErrMalformedLandmarks = errors.New("malformed landmarks")

// Calibration maps the mouth width/height ratio onto [0,100]:
// clamp((ratio - Baseline) * Gain, 0, 100).
type Calibration struct {
	Baseline       float64 `yaml:"baseline" json:"baseline" validate:"gte=0"`
	Gain           float64 `yaml:"gain" json:"gain" validate:"gt=0"`
	MinMouthHeight float64 `yaml:"min_mouth_height" json:"minMouthHeight" validate:"gt=0"`
}

func DefaultCalibration() Calibration {
	return Calibration{
		Baseline:       1.5,
		Gain:           100,
		MinMouthHeight: 1.0,
	}
}

// Score returns the smile intensity of one face and the mouth it was
// measured from. Malformed landmarks score MinScore.
func (c Calibration) Score(landmarks facemesh.LandmarkSet) (float64, Mouth, error) {
	m, err := Measure(landmarks)
	if err != nil {
		return MinScore, Mouth{}, err
	}
	return c.FromMouth(m.Width, m.Height), m, nil
}

// FromMouth applies the calibration to raw mouth dimensions in pixels.
func (c Calibration) FromMouth(width, height float64) float64 {
	if !finite(width) || !finite(height) || height < c.MinMouthHeight {
		return MinScore
	}

	ratio := width / height
	score := (ratio - c.Baseline) * c.Gain
	if math.IsNaN(score) {
		return MinScore
	}
	return math.Min(math.Max(score, MinScore), MaxScore)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Mouth holds the pixel dimensions the score is derived from.
type Mouth struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Measure extracts mouth width and height from a landmark set.
func Measure(landmarks facemesh.LandmarkSet) (Mouth, error) {
	if missing := landmarks.Missing(); len(missing) > 0 {
		return Mouth{}, fmt.Errorf("%w: missing %s", ErrMalformedLandmarks, strings.Join(missing, ", "))
	}

	left, _ := landmarks.Lookup(facemesh.MouthLeft)
	right, _ := landmarks.Lookup(facemesh.MouthRight)
	upper, _ := landmarks.Lookup(facemesh.UpperLip)
	lower, _ := landmarks.Lookup(facemesh.LowerLip)

	for _, p := range []facemesh.Point{left, right, upper, lower} {
		if !p.Finite() {
			return Mouth{}, fmt.Errorf("%w: non-finite %s", ErrMalformedLandmarks, p.Name)
		}
	}

	return Mouth{
		Width:  facemesh.Distance(left, right),
		Height: facemesh.Distance(upper, lower),
	}, nil
}
