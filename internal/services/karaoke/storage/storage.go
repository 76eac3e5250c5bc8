// Package storage defines persistence contracts for finished session summaries.
//
// Live sessions are never persisted; only the summary written when a
// session's owner leaves is archived.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested summary is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a summary for the session was already archived.
	ErrAlreadyExists = errors.New("record already exists")
)

// Score is the stored form of a song score.
type Score struct {
	PitchAccuracy float64
	Timing        float64
	Total         float64
}

// SongResult is one completed song in an archived summary.
type SongResult struct {
	ItemID      string
	Title       string
	ExternalID  string
	AddedBy     string
	AddedByName string
	Score       *Score
	CompletedAt time.Time
}

// SessionSummary is one archived session.
type SessionSummary struct {
	SessionID    string
	Code         string
	CreatedAt    time.Time
	EndedAt      time.Time
	Songs        []SongResult
	ScoredCount  int
	AverageTotal float64
}

// SessionSummaryStore persists session summaries.
type SessionSummaryStore interface {
	PutSessionSummary(ctx context.Context, summary SessionSummary) error
	GetSessionSummary(ctx context.Context, sessionID string) (SessionSummary, error)
	ListSessionSummaries(ctx context.Context, limit int) ([]SessionSummary, error)
}
