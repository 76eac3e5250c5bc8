package session

import (
	"time"

	"github.com/louisbranch/karaoke.space/internal/services/karaoke/domain/queue"
)

// Summary describes a session's completed songs.
type Summary struct {
	SessionID       string               `json:"session_id"`
	Code            string               `json:"code"`
	CreatedAt       time.Time            `json:"created_at"`
	EndedAt         time.Time            `json:"ended_at"`
	DurationSeconds int64                `json:"duration_seconds"`
	Songs           []queue.HistoryEntry `json:"songs"`
	SongCount       int                  `json:"song_count"`
	ScoredCount     int                  `json:"scored_count"`
	AverageTotal    float64              `json:"average_total"`
}

func summarize(id, code string, createdAt, endedAt time.Time, history []queue.HistoryEntry) Summary {
	summary := Summary{
		SessionID:       id,
		Code:            code,
		CreatedAt:       createdAt,
		EndedAt:         endedAt,
		DurationSeconds: int64(endedAt.Sub(createdAt) / time.Second),
		Songs:           history,
		SongCount:       len(history),
	}
	if summary.Songs == nil {
		summary.Songs = []queue.HistoryEntry{}
	}
	var total float64
	for _, entry := range history {
		if entry.Score == nil {
			continue
		}
		summary.ScoredCount++
		total += entry.Score.Total
	}
	if summary.ScoredCount > 0 {
		summary.AverageTotal = total / float64(summary.ScoredCount)
	}
	return summary
}
