package game

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/kdimtricp/smilegame/internal/round"
	"github.com/kdimtricp/smilegame/internal/smile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrReplayIncomplete = errors.New("recording ended before the round did")

// RecordedSample is one line of a round recording.
type RecordedSample struct {
	// DtUS is the time advanced by this sample in microseconds.
	DtUS      int64        `json:"dtUs"`
	Kind      string       `json:"kind"`
	Intensity float64      `json:"intensity,omitempty"`
	Mouth     *smile.Mouth `json:"mouth,omitempty"`
}

func (r RecordedSample) Dt() time.Duration {
	return time.Duration(r.DtUS) * time.Microsecond
}

// Sample converts the record back into an engine sample.
func (r RecordedSample) Sample() round.Sample {
	switch r.Kind {
	case round.SampleDetected.String():
		return round.Detected(r.Intensity)
	case round.SampleNoFace.String():
		return round.NoFace()
	default:
		return round.Hold()
	}
}

type recorder struct {
	samples []RecordedSample
	limit   int
	dropped int
}

func newRecorder(limit int) *recorder {
	return &recorder{limit: limit}
}

func (r *recorder) add(s RecordedSample) {
	if len(r.samples) >= r.limit {
		r.dropped++
		return
	}
	r.samples = append(r.samples, s)
}

// EncodeRecording writes samples as JSON lines.
func EncodeRecording(w io.Writer, samples []RecordedSample) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, s := range samples {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encoding sample: %w", err)
		}
	}
	return bw.Flush()
}

// DecodeRecording reads a JSON-lines recording. Blank lines are skipped.
func DecodeRecording(r io.Reader) ([]RecordedSample, error) {
	var samples []RecordedSample

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var s RecordedSample
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	return samples, nil
}

// Replay runs samples through a fresh engine configured with cfg. When
// calibration is non-nil, detected samples carrying mouth geometry are
// re-scored with it.
func Replay(samples []RecordedSample, cfg round.Config, calibration *smile.Calibration) (*round.Result, error) {
	engine := round.New(cfg, 0)
	if _, err := engine.Start(); err != nil {
		return nil, err
	}

	for i, rec := range samples {
		sample := rec.Sample()
		if calibration != nil && sample.Kind == round.SampleDetected && rec.Mouth != nil {
			sample = round.Detected(calibration.FromMouth(rec.Mouth.Width, rec.Mouth.Height))
		}

		res, err := engine.Tick(sample, rec.Dt())
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, ErrReplayIncomplete
}
