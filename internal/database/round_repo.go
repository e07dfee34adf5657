package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kdimtricp/smilegame/internal/models"
)

var ErrNotFound = errors.New("record not found")

const roundColumns = `id, session_id, mode, policy, score, reason, elapsed_ms,
	new_high_score, recording, started_at, ended_at`

type RoundRepository struct {
	db *DB
}

func NewRoundRepository(db *DB) *RoundRepository {
	return &RoundRepository{db: db}
}

func (r *RoundRepository) Insert(ctx context.Context, round *models.Round) error {
	query := `INSERT INTO rounds (` + roundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.conn.ExecContext(ctx, query,
		round.ID,
		round.SessionID,
		round.Mode,
		round.Policy,
		round.Score,
		round.Reason,
		round.ElapsedMS,
		round.NewHighScore,
		round.Recording,
		round.StartedAt.UTC(),
		round.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}
	return nil
}

func (r *RoundRepository) GetByID(ctx context.Context, id string) (*models.Round, error) {
	row := r.db.conn.QueryRowContext(ctx,
		"SELECT "+roundColumns+" FROM rounds WHERE id = $1", id)

	round, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("round %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

// List returns the most recently ended rounds, optionally for one mode.
func (r *RoundRepository) List(ctx context.Context, mode string, limit int) ([]models.Round, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var rows *sql.Rows
	var err error
	if mode == "" {
		rows, err = r.db.conn.QueryContext(ctx,
			"SELECT "+roundColumns+" FROM rounds ORDER BY ended_at DESC, id DESC LIMIT $1", limit)
	} else {
		rows, err = r.db.conn.QueryContext(ctx,
			"SELECT "+roundColumns+" FROM rounds WHERE mode = $1 ORDER BY ended_at DESC, id DESC LIMIT $2", mode, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	rounds := []models.Round{}
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, *round)
	}
	return rounds, rows.Err()
}

// CountByReason groups finished rounds by mode and termination reason.
func (r *RoundRepository) CountByReason(ctx context.Context) ([]models.ReasonCount, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT mode, reason, COUNT(*) FROM rounds
		GROUP BY mode, reason
		ORDER BY mode, reason`)
	if err != nil {
		return nil, fmt.Errorf("failed to count rounds: %w", err)
	}
	defer rows.Close()

	var counts []models.ReasonCount
	for rows.Next() {
		var c models.ReasonCount
		if err := rows.Scan(&c.Mode, &c.Reason, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*models.Round, error) {
	var round models.Round
	err := row.Scan(
		&round.ID,
		&round.SessionID,
		&round.Mode,
		&round.Policy,
		&round.Score,
		&round.Reason,
		&round.ElapsedMS,
		&round.NewHighScore,
		&round.Recording,
		&round.StartedAt,
		&round.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return &round, nil
}
