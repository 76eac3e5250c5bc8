// Package sqlite provides a SQLite-backed session summary archive.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/karaoke.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/storage"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const maxListLimit = 200

// Store persists session summaries in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite summary store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutSessionSummary archives one finished session and its songs.
func (s *Store) PutSessionSummary(ctx context.Context, summary storage.SessionSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID := strings.TrimSpace(summary.SessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if summary.EndedAt.IsZero() {
		summary.EndedAt = time.Now().UTC()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = summary.EndedAt
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put session summary: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO session_summaries (
		   session_id,
		   code,
		   created_at,
		   ended_at,
		   song_count,
		   scored_count,
		   average_total
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		summary.Code,
		toMillis(summary.CreatedAt),
		toMillis(summary.EndedAt),
		len(summary.Songs),
		summary.ScoredCount,
		summary.AverageTotal,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put session summary: %w", err)
	}

	for position, song := range summary.Songs {
		var score storage.Score
		hasScore := 0
		if song.Score != nil {
			score = *song.Score
			hasScore = 1
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO session_summary_songs (
			   session_id,
			   position,
			   item_id,
			   title,
			   external_id,
			   added_by,
			   added_by_name,
			   completed_at,
			   has_score,
			   pitch_accuracy,
			   timing,
			   total
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID,
			position,
			song.ItemID,
			song.Title,
			song.ExternalID,
			song.AddedBy,
			song.AddedByName,
			toMillis(song.CompletedAt),
			hasScore,
			score.PitchAccuracy,
			score.Timing,
			score.Total,
		); err != nil {
			return fmt.Errorf("put session summary song %d: %w", position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session summary: %w", err)
	}
	return nil
}

// GetSessionSummary returns one archived session by id.
func (s *Store) GetSessionSummary(ctx context.Context, sessionID string) (storage.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionSummary{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SessionSummary{}, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.SessionSummary{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT session_id, code, created_at, ended_at, scored_count, average_total
		   FROM session_summaries
		  WHERE session_id = ?`,
		sessionID,
	)
	summary, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SessionSummary{}, storage.ErrNotFound
		}
		return storage.SessionSummary{}, fmt.Errorf("get session summary: %w", err)
	}

	songs, err := s.listSongs(ctx, sessionID)
	if err != nil {
		return storage.SessionSummary{}, err
	}
	summary.Songs = songs
	return summary, nil
}

// ListSessionSummaries returns the most recently ended sessions first.
func (s *Store) ListSessionSummaries(ctx context.Context, limit int) ([]storage.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	limit = min(limit, maxListLimit)

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT session_id, code, created_at, ended_at, scored_count, average_total
		   FROM session_summaries
		  ORDER BY ended_at DESC, session_id ASC
		  LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list session summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]storage.SessionSummary, 0, limit)
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("list session summaries: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list session summaries: %w", err)
	}
	rows.Close()

	for i := range summaries {
		songs, err := s.listSongs(ctx, summaries[i].SessionID)
		if err != nil {
			return nil, err
		}
		summaries[i].Songs = songs
	}
	return summaries, nil
}

func (s *Store) listSongs(ctx context.Context, sessionID string) ([]storage.SongResult, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT item_id, title, external_id, added_by, added_by_name, completed_at,
		        has_score, pitch_accuracy, timing, total
		   FROM session_summary_songs
		  WHERE session_id = ?
		  ORDER BY position ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list summary songs: %w", err)
	}
	defer rows.Close()

	songs := make([]storage.SongResult, 0)
	for rows.Next() {
		var song storage.SongResult
		var completedAt int64
		var hasScore int
		var score storage.Score
		if err := rows.Scan(
			&song.ItemID,
			&song.Title,
			&song.ExternalID,
			&song.AddedBy,
			&song.AddedByName,
			&completedAt,
			&hasScore,
			&score.PitchAccuracy,
			&score.Timing,
			&score.Total,
		); err != nil {
			return nil, fmt.Errorf("list summary songs: %w", err)
		}
		song.CompletedAt = fromMillis(completedAt)
		if hasScore == 1 {
			song.Score = &score
		}
		songs = append(songs, song)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list summary songs: %w", err)
	}
	return songs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (storage.SessionSummary, error) {
	var summary storage.SessionSummary
	var createdAt int64
	var endedAt int64
	if err := row.Scan(
		&summary.SessionID,
		&summary.Code,
		&createdAt,
		&endedAt,
		&summary.ScoredCount,
		&summary.AverageTotal,
	); err != nil {
		return storage.SessionSummary{}, err
	}
	summary.CreatedAt = fromMillis(createdAt)
	summary.EndedAt = fromMillis(endedAt)
	return summary, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "session_summaries.session_id")
}

var _ storage.SessionSummaryStore = (*Store)(nil)
