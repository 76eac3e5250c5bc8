// Package queue implements the song queue of one karaoke session.
//
// Items move waiting -> playing -> completed and never backwards. Only
// waiting items can be removed or reordered. At most one item is playing at
// a time, and completing it appends an entry to the session history.
//
// A Queue is not safe for concurrent use; the owning session serializes
// every call.
package queue

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	// ErrItemNotFound indicates the item id is not in the active queue.
	ErrItemNotFound = errors.New("queue item not found")
	// ErrItemNotWaiting indicates the item exists but has left the waiting state.
	ErrItemNotWaiting = errors.New("queue item is not waiting")
	// ErrItemNotPlaying indicates the item is not the one currently playing.
	ErrItemNotPlaying = errors.New("queue item is not playing")
	// ErrSongInProgress indicates another item is already playing.
	ErrSongInProgress = errors.New("another song is already playing")
	// ErrInvalidQueue indicates a replacement queue breaks a queue invariant.
	ErrInvalidQueue = errors.New("invalid queue")
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusPlaying   Status = "playing"
	StatusCompleted Status = "completed"
)

// Song is the metadata supplied by whoever looked the song up. The queue
// carries it through untouched.
type Song struct {
	Title           string `json:"title"`
	ExternalID      string `json:"external_id"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// Score is an externally computed performance score, conventionally in [0,100].
type Score struct {
	PitchAccuracy float64 `json:"pitch_accuracy"`
	Timing        float64 `json:"timing"`
	Total         float64 `json:"total"`
}

// Item is one entry in the queue.
type Item struct {
	ID          string    `json:"id"`
	Song        Song      `json:"song"`
	AddedBy     string    `json:"added_by"`
	AddedByName string    `json:"added_by_name,omitempty"`
	AddedAt     time.Time `json:"added_at"`
	Status      Status    `json:"status"`
}

// HistoryEntry records one completed item.
type HistoryEntry struct {
	Item        Item      `json:"item"`
	Score       *Score    `json:"score,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Option customizes a Queue.
type Option func(*Queue)

// WithIDGenerator sets the source of new item ids.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(q *Queue) {
		if newID != nil {
			q.newID = newID
		}
	}
}

// WithClock sets the time source for item and history timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue is the ordered song list of one session.
type Queue struct {
	items     []Item
	currentID string
	history   []HistoryEntry
	usedIDs   map[string]struct{}
	seq       int
	newID     func() (string, error)
	now       func() time.Time
}

// New returns an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		usedIDs: make(map[string]struct{}),
		now:     time.Now,
	}
	q.newID = q.sequentialID
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Append adds song as a waiting item at the end of the queue.
func (q *Queue) Append(song Song, addedBy string, addedByName string) Item {
	item := Item{
		ID:          q.nextID(),
		Song:        song,
		AddedBy:     addedBy,
		AddedByName: strings.TrimSpace(addedByName),
		AddedAt:     q.now().UTC(),
		Status:      StatusWaiting,
	}
	q.items = append(q.items, item)
	return item
}

// Remove deletes a waiting item. It reports false, leaving the queue
// unchanged, when the id is absent or the item is no longer waiting.
func (q *Queue) Remove(itemID string) bool {
	idx := q.indexOf(itemID)
	if idx < 0 || q.items[idx].Status != StatusWaiting {
		return false
	}
	q.items = slices.Delete(q.items, idx, idx+1)
	return true
}

// Reorder moves a waiting item to targetIndex within the waiting
// subsequence. The index is clamped into range. Non-waiting items keep
// their relative order and stay ahead of every waiting item.
func (q *Queue) Reorder(itemID string, targetIndex int) error {
	idx := q.indexOf(itemID)
	if idx < 0 {
		return fmt.Errorf("reorder %q: %w", itemID, ErrItemNotFound)
	}
	if q.items[idx].Status != StatusWaiting {
		return fmt.Errorf("reorder %q: %w", itemID, ErrItemNotWaiting)
	}

	settled := make([]Item, 0, len(q.items))
	waiting := make([]Item, 0, len(q.items))
	var moved Item
	for _, item := range q.items {
		switch {
		case item.ID == itemID:
			moved = item
		case item.Status == StatusWaiting:
			waiting = append(waiting, item)
		default:
			settled = append(settled, item)
		}
	}

	targetIndex = max(0, min(targetIndex, len(waiting)))
	waiting = slices.Insert(waiting, targetIndex, moved)
	q.items = append(settled, waiting...)
	return nil
}

// PeekNext returns the first waiting item without changing anything.
func (q *Queue) PeekNext() (Item, bool) {
	for _, item := range q.items {
		if item.Status == StatusWaiting {
			return item, true
		}
	}
	return Item{}, false
}

// StartNext moves a waiting item to playing and makes it current. It fails
// while another item is playing.
func (q *Queue) StartNext(itemID string) (Item, error) {
	if q.currentID != "" {
		return Item{}, fmt.Errorf("start %q: %w", itemID, ErrSongInProgress)
	}
	idx := q.indexOf(itemID)
	if idx < 0 {
		return Item{}, fmt.Errorf("start %q: %w", itemID, ErrItemNotFound)
	}
	if q.items[idx].Status != StatusWaiting {
		return Item{}, fmt.Errorf("start %q: %w", itemID, ErrItemNotWaiting)
	}
	q.items[idx].Status = StatusPlaying
	q.currentID = itemID
	return q.items[idx], nil
}

// EndCurrent completes the playing item and records it, with its optional
// score, in the history.
func (q *Queue) EndCurrent(itemID string, score *Score) (HistoryEntry, error) {
	if q.currentID == "" || q.currentID != itemID {
		return HistoryEntry{}, fmt.Errorf("end %q: %w", itemID, ErrItemNotPlaying)
	}
	idx := q.indexOf(itemID)
	if idx < 0 {
		return HistoryEntry{}, fmt.Errorf("end %q: %w", itemID, ErrItemNotFound)
	}
	q.items[idx].Status = StatusCompleted
	q.currentID = ""

	entry := HistoryEntry{
		Item:        q.items[idx],
		CompletedAt: q.now().UTC(),
	}
	if score != nil {
		copied := *score
		entry.Score = &copied
	}
	q.history = append(q.history, entry)
	return entry, nil
}

// Replace swaps the whole queue for items, as sent by the session owner.
// Ids must be non-empty and unique, statuses must be known, and at most one
// item may be playing; the playing item becomes current. History is kept.
//
// Items already known to the queue keep moving forward only: a completed
// song stays completed, the playing song stays in the queue as playing, and
// nothing becomes completed here, since only EndCurrent records a song.
func (q *Queue) Replace(items []Item) error {
	known := make(map[string]Status, len(q.items)+len(q.history))
	for _, entry := range q.history {
		known[entry.Item.ID] = StatusCompleted
	}
	for _, item := range q.items {
		known[item.ID] = item.Status
	}

	seen := make(map[string]struct{}, len(items))
	current := ""
	next := make([]Item, 0, len(items))
	for i, item := range items {
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" {
			return fmt.Errorf("item %d: id is required: %w", i, ErrInvalidQueue)
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("item %q: duplicate id: %w", item.ID, ErrInvalidQueue)
		}
		seen[item.ID] = struct{}{}

		switch item.Status {
		case "":
			item.Status = StatusWaiting
		case StatusWaiting, StatusCompleted:
		case StatusPlaying:
			if current != "" {
				return fmt.Errorf("items %q and %q both playing: %w", current, item.ID, ErrInvalidQueue)
			}
			current = item.ID
		default:
			return fmt.Errorf("item %q: unknown status %q: %w", item.ID, item.Status, ErrInvalidQueue)
		}
		if err := checkTransition(known[item.ID], item); err != nil {
			return err
		}
		if item.AddedAt.IsZero() {
			item.AddedAt = q.now().UTC()
		}
		next = append(next, item)
	}
	if q.currentID != "" {
		if _, kept := seen[q.currentID]; !kept {
			return fmt.Errorf("item %q: playing song cannot be dropped: %w", q.currentID, ErrInvalidQueue)
		}
	}

	for id := range seen {
		q.usedIDs[id] = struct{}{}
	}
	q.items = next
	q.currentID = current
	return nil
}

// checkTransition validates item's status against prior, the status the
// queue already holds for it ("" for a new id).
func checkTransition(prior Status, item Item) error {
	switch {
	case prior == item.Status:
		return nil
	case item.Status == StatusCompleted:
		return fmt.Errorf("item %q: only a finished song can be completed: %w", item.ID, ErrInvalidQueue)
	case prior == StatusPlaying, prior == StatusCompleted:
		return fmt.Errorf("item %q: cannot move from %s back to %s: %w", item.ID, prior, item.Status, ErrInvalidQueue)
	}
	return nil
}

// Items returns a copy of the queue in order.
func (q *Queue) Items() []Item {
	return slices.Clone(q.items)
}

// Current returns the playing item, if any.
func (q *Queue) Current() (Item, bool) {
	if q.currentID == "" {
		return Item{}, false
	}
	idx := q.indexOf(q.currentID)
	if idx < 0 {
		return Item{}, false
	}
	return q.items[idx], true
}

// History returns a copy of the completed-item log, oldest first.
func (q *Queue) History() []HistoryEntry {
	return slices.Clone(q.history)
}

// Len reports the number of items in the queue, completed ones included.
func (q *Queue) Len() int {
	return len(q.items)
}

// Pending reports how many items are waiting or playing.
func (q *Queue) Pending() int {
	n := 0
	for _, item := range q.items {
		if item.Status != StatusCompleted {
			n++
		}
	}
	return n
}

func (q *Queue) indexOf(itemID string) int {
	return slices.IndexFunc(q.items, func(item Item) bool { return item.ID == itemID })
}

// nextID draws from the configured generator and falls back to a sequence
// when the generator fails or repeats an id this queue has already used.
func (q *Queue) nextID() string {
	value, err := q.newID()
	if err == nil && value != "" {
		if _, used := q.usedIDs[value]; !used {
			q.usedIDs[value] = struct{}{}
			return value
		}
	}
	for {
		value, _ = q.sequentialID()
		if _, used := q.usedIDs[value]; !used {
			q.usedIDs[value] = struct{}{}
			return value
		}
	}
}

func (q *Queue) sequentialID() (string, error) {
	q.seq++
	return fmt.Sprintf("item-%d", q.seq), nil
}
