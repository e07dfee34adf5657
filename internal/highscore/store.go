package highscore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownMode = errors.New("unknown game mode")

// Mode identifies a game whose best score is tracked separately.
type Mode string

const (
	Smile Mode = "smile"
	Emoji Mode = "emoji"
)

var modes = map[Mode]bool{Smile: true, Emoji: true}

func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !modes[m] {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// Modes returns the known modes in a stable order.
func Modes() []Mode {
	out := make([]Mode, 0, len(modes))
	for m := range modes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Key is the storage key holding the mode's high score, e.g. "smileGameHighScore".
func (m Mode) Key() string {
	return string(m) + "GameHighScore"
}

// Store persists one integer high score per mode.
type Store interface {
	// Get returns the stored high score, or 0 when none was recorded.
	Get(ctx context.Context, mode Mode) (int, error)
	// Put stores score only when it strictly exceeds the stored value and
	// reports whether it did.
	Put(ctx context.Context, mode Mode, score int) (bool, error)
}

type MemoryStore struct {
	mu     sync.Mutex
	scores map[Mode]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scores: make(map[Mode]int)}
}

func (s *MemoryStore) Get(ctx context.Context, mode Mode) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[mode], nil
}

func (s *MemoryStore) Put(ctx context.Context, mode Mode, score int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if score <= s.scores[mode] {
		return false, nil
	}
	s.scores[mode] = score
	return true, nil
}
