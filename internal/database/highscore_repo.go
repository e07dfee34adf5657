package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kdimtricp/smilegame/internal/highscore"
)

// HighScoreRepo stores one row per game mode and implements highscore.Store.
type HighScoreRepo struct {
	db *DB
}

func NewHighScoreRepo(db *DB) *HighScoreRepo {
	return &HighScoreRepo{db: db}
}

func (r *HighScoreRepo) Get(ctx context.Context, mode highscore.Mode) (int, error) {
	var score int
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT score FROM high_scores WHERE mode = $1", string(mode)).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get high score: %w", err)
	}
	return score, nil
}

func (r *HighScoreRepo) Put(ctx context.Context, mode highscore.Mode, score int) (bool, error) {
	if score <= 0 {
		return false, nil
	}

	query := `
		INSERT INTO high_scores (mode, score, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (mode) DO UPDATE SET
			score = excluded.score,
			updated_at = excluded.updated_at
		WHERE high_scores.score < excluded.score`

	result, err := r.db.conn.ExecContext(ctx, query, string(mode), score, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to store high score: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// All returns every stored high score keyed by mode.
func (r *HighScoreRepo) All(ctx context.Context) (map[highscore.Mode]int, error) {
	rows, err := r.db.conn.QueryContext(ctx, "SELECT mode, score FROM high_scores ORDER BY mode")
	if err != nil {
		return nil, fmt.Errorf("failed to list high scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[highscore.Mode]int)
	for rows.Next() {
		var mode string
		var score int
		if err := rows.Scan(&mode, &score); err != nil {
			return nil, fmt.Errorf("failed to scan high score: %w", err)
		}
		scores[highscore.Mode(mode)] = score
	}
	return scores, rows.Err()
}
