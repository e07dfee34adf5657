package facemesh

import (
	"context"
	"sync"
)

// StaticDetector returns queued results in order, repeating the last one
// once the queue is drained. It stands in for a model in tests and replays.
type StaticDetector struct {
	mu      sync.Mutex
	results []StaticResult
	loadErr error
	calls   int
}

type StaticResult struct {
	Landmarks LandmarkSet
	Err       error
}

func NewStaticDetector(results ...StaticResult) *StaticDetector {
	return &StaticDetector{results: results}
}

// FailLoad makes every Load call return err.
func (d *StaticDetector) FailLoad(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadErr = err
}

func (d *StaticDetector) Load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadErr
}

func (d *StaticDetector) Detect(ctx context.Context, frame []byte) (LandmarkSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if len(d.results) == 0 {
		return LandmarkSet{}, ErrNoFace
	}
	r := d.results[0]
	if len(d.results) > 1 {
		d.results = d.results[1:]
	}
	return r.Landmarks, r.Err
}

func (d *StaticDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *StaticDetector) Close() error {
	return nil
}
