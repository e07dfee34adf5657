package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Round is one finished play-through as stored in round history.
type Round struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Mode         string    `json:"mode"`
	Policy       string    `json:"policy"`
	Score        int       `json:"score"`
	Reason       string    `json:"reason"`
	ElapsedMS    int64     `json:"elapsedMs"`
	NewHighScore bool      `json:"newHighScore"`
	Recording    string    `json:"recording,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
}

func NewRound(id, sessionID, mode, policy string, startedAt time.Time) *Round {
	if id == "" {
		id = ulid.Make().String()
	}
	return &Round{
		ID:        id,
		SessionID: sessionID,
		Mode:      mode,
		Policy:    policy,
		StartedAt: startedAt,
	}
}

// Finish records the outcome of the round.
func (r *Round) Finish(score int, reason string, elapsed time.Duration, newHighScore bool, endedAt time.Time) {
	r.Score = score
	r.Reason = reason
	r.ElapsedMS = elapsed.Milliseconds()
	r.NewHighScore = newHighScore
	r.EndedAt = endedAt
}

// ReasonCount is the number of rounds of a mode that ended for a reason.
type ReasonCount struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}
