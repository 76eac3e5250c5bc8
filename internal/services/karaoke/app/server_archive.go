package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/karaoke.space/internal/services/karaoke/domain/session"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/storage"
)

const (
	defaultSummaryListLimit = 20
	maxSummaryListLimit     = 200
)

func toStoredSummary(summary session.Summary) storage.SessionSummary {
	songs := make([]storage.SongResult, 0, len(summary.Songs))
	for _, entry := range summary.Songs {
		result := storage.SongResult{
			ItemID:      entry.Item.ID,
			Title:       entry.Item.Song.Title,
			ExternalID:  entry.Item.Song.ExternalID,
			AddedBy:     entry.Item.AddedBy,
			AddedByName: entry.Item.AddedByName,
			CompletedAt: entry.CompletedAt,
		}
		if entry.Score != nil {
			result.Score = &storage.Score{
				PitchAccuracy: entry.Score.PitchAccuracy,
				Timing:        entry.Score.Timing,
				Total:         entry.Score.Total,
			}
		}
		songs = append(songs, result)
	}
	return storage.SessionSummary{
		SessionID:    summary.SessionID,
		Code:         summary.Code,
		CreatedAt:    summary.CreatedAt,
		EndedAt:      summary.EndedAt,
		Songs:        songs,
		ScoredCount:  summary.ScoredCount,
		AverageTotal: summary.AverageTotal,
	}
}

type summaryResponse struct {
	SessionID    string               `json:"session_id"`
	Code         string               `json:"code"`
	CreatedAt    string               `json:"created_at"`
	EndedAt      string               `json:"ended_at"`
	SongCount    int                  `json:"song_count"`
	ScoredCount  int                  `json:"scored_count"`
	AverageTotal float64              `json:"average_total"`
	Songs        []songResultResponse `json:"songs"`
}

type songResultResponse struct {
	ItemID      string         `json:"item_id"`
	Title       string         `json:"title"`
	ExternalID  string         `json:"external_id,omitempty"`
	AddedBy     string         `json:"added_by"`
	AddedByName string         `json:"added_by_name,omitempty"`
	Score       *scoreResponse `json:"score,omitempty"`
	CompletedAt string         `json:"completed_at"`
}

type scoreResponse struct {
	PitchAccuracy float64 `json:"pitch_accuracy"`
	Timing        float64 `json:"timing"`
	Total         float64 `json:"total"`
}

type summaryListResponse struct {
	Summaries []summaryResponse `json:"summaries"`
}

type httpErrorResponse struct {
	Error string `json:"error"`
}

func toSummaryResponse(summary storage.SessionSummary) summaryResponse {
	songs := make([]songResultResponse, 0, len(summary.Songs))
	for _, song := range summary.Songs {
		resp := songResultResponse{
			ItemID:      song.ItemID,
			Title:       song.Title,
			ExternalID:  song.ExternalID,
			AddedBy:     song.AddedBy,
			AddedByName: song.AddedByName,
			CompletedAt: song.CompletedAt.UTC().Format(time.RFC3339),
		}
		if song.Score != nil {
			resp.Score = &scoreResponse{
				PitchAccuracy: song.Score.PitchAccuracy,
				Timing:        song.Score.Timing,
				Total:         song.Score.Total,
			}
		}
		songs = append(songs, resp)
	}
	return summaryResponse{
		SessionID:    summary.SessionID,
		Code:         summary.Code,
		CreatedAt:    summary.CreatedAt.UTC().Format(time.RFC3339),
		EndedAt:      summary.EndedAt.UTC().Format(time.RFC3339),
		SongCount:    len(summary.Songs),
		ScoredCount:  summary.ScoredCount,
		AverageTotal: summary.AverageTotal,
		Songs:        songs,
	}
}

// registerSummaryRoutes exposes the archive read-only over HTTP.
func registerSummaryRoutes(mux *http.ServeMux, archive storage.SessionSummaryStore) {
	mux.HandleFunc("GET /summaries", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultSummaryListLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeJSON(w, http.StatusBadRequest, httpErrorResponse{Error: "limit must be a positive integer"})
				return
			}
			limit = min(parsed, maxSummaryListLimit)
		}
		summaries, err := archive.ListSessionSummaries(r.Context(), limit)
		if err != nil {
			log.Printf("karaoke: list summaries: %v", err)
			writeJSON(w, http.StatusInternalServerError, httpErrorResponse{Error: "list summaries failed"})
			return
		}
		resp := summaryListResponse{Summaries: make([]summaryResponse, 0, len(summaries))}
		for _, summary := range summaries {
			resp.Summaries = append(resp.Summaries, toSummaryResponse(summary))
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("GET /summaries/{id}", func(w http.ResponseWriter, r *http.Request) {
		summary, err := archive.GetSessionSummary(r.Context(), r.PathValue("id"))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, httpErrorResponse{Error: "summary not found"})
				return
			}
			log.Printf("karaoke: get summary id=%q: %v", r.PathValue("id"), err)
			writeJSON(w, http.StatusInternalServerError, httpErrorResponse{Error: "get summary failed"})
			return
		}
		writeJSON(w, http.StatusOK, toSummaryResponse(summary))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
