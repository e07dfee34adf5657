package database

import (
	"context"
	"sync"
	"testing"

	"github.com/kdimtricp/smilegame/internal/highscore"
)

var _ highscore.Store = (*HighScoreRepo)(nil)

func TestHighScoreRepo_StrictImprovement(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		repo := NewHighScoreRepo(db)
		ctx := context.Background()

		score, err := repo.Get(ctx, highscore.Smile)
		if err != nil {
			t.Fatalf("Failed to get empty high score: %v", err)
		}
		if score != 0 {
			t.Errorf("Expected 0 for missing row, got %d", score)
		}

		steps := []struct {
			score   int
			updated bool
			stored  int
		}{
			{0, false, 0},
			{60, true, 60},
			{75, true, 75},
			{75, false, 75},
			{10, false, 75},
			{80, true, 80},
		}

		for i, step := range steps {
			updated, err := repo.Put(ctx, highscore.Smile, step.score)
			if err != nil {
				t.Fatalf("step %d: Failed to put high score: %v", i, err)
			}
			if updated != step.updated {
				t.Errorf("step %d: Put(%d) updated=%v, expected %v", i, step.score, updated, step.updated)
			}

			got, err := repo.Get(ctx, highscore.Smile)
			if err != nil {
				t.Fatalf("step %d: Failed to get high score: %v", i, err)
			}
			if got != step.stored {
				t.Errorf("step %d: Expected %d, got %d", i, step.stored, got)
			}
		}
	})
}

func TestHighScoreRepo_ModesAreIndependent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		repo := NewHighScoreRepo(db)
		ctx := context.Background()

		repo.Put(ctx, highscore.Smile, 42)
		repo.Put(ctx, highscore.Emoji, 7)

		all, err := repo.All(ctx)
		if err != nil {
			t.Fatalf("Failed to list high scores: %v", err)
		}
		if all[highscore.Smile] != 42 || all[highscore.Emoji] != 7 {
			t.Errorf("Unexpected high scores: %v", all)
		}
	})
}

func TestHighScoreRepo_ConcurrentPut(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		repo := NewHighScoreRepo(db)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(score int) {
				defer wg.Done()
				if _, err := repo.Put(ctx, highscore.Smile, score); err != nil {
					t.Errorf("Failed to put %d: %v", score, err)
				}
			}(i)
		}
		wg.Wait()

		got, _ := repo.Get(ctx, highscore.Smile)
		if got != 20 {
			t.Errorf("Expected 20, got %d", got)
		}
	})
}
