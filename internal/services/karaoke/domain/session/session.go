// Package session owns karaoke session lifecycle: creation with a numeric
// join code, membership, owner-driven teardown, and the mapping from
// connections to sessions.
//
// The package performs no I/O. Callers receive snapshots, and mutate live
// state only inside Registry.WithSession, which serializes every change to
// one session.
package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/louisbranch/karaoke.space/internal/services/karaoke/domain/queue"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/domain/scorer"
)

// Role is the part a connection plays in a session.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Session is one live karaoke session. Its methods must only be called from
// inside Registry.WithSession.
type Session struct {
	mu        sync.Mutex
	id        string
	code      string
	ownerID   string
	members   []string
	queue     *queue.Queue
	arbiter   *scorer.Arbiter
	createdAt time.Time
	maxQueue  int
	ended     bool
	now       func() time.Time
}

// Snapshot is a read-only copy of session state.
type Snapshot struct {
	ID            string               `json:"session_id"`
	Code          string               `json:"code"`
	OwnerID       string               `json:"owner_id"`
	Members       []string             `json:"members"`
	Queue         []queue.Item         `json:"queue"`
	CurrentItemID string               `json:"current_item_id,omitempty"`
	History       []queue.HistoryEntry `json:"history"`
	CreatedAt     time.Time            `json:"created_at"`
}

// ID returns the process-unique session id.
func (s *Session) ID() string { return s.id }

// Code returns the join code.
func (s *Session) Code() string { return s.code }

// OwnerID returns the owner connection id.
func (s *Session) OwnerID() string { return s.ownerID }

// Members returns member connection ids in join order.
func (s *Session) Members() []string { return slices.Clone(s.members) }

// RoleOf reports the role of connID, if it belongs to this session.
func (s *Session) RoleOf(connID string) (Role, bool) {
	if connID == s.ownerID {
		return RoleOwner, true
	}
	if slices.Contains(s.members, connID) {
		return RoleMember, true
	}
	return "", false
}

// Everyone returns the owner followed by every member.
func (s *Session) Everyone() []string {
	return append([]string{s.ownerID}, s.members...)
}

// Except returns every participant other than connID.
func (s *Session) Except(connID string) []string {
	return slices.DeleteFunc(s.Everyone(), func(id string) bool { return id == connID })
}

// AddSong appends a waiting item attributed to connID.
func (s *Session) AddSong(song queue.Song, connID string, displayName string) (queue.Item, error) {
	if s.maxQueue > 0 && s.queue.Pending() >= s.maxQueue {
		return queue.Item{}, fmt.Errorf("add song: %w", ErrQueueFull)
	}
	return s.queue.Append(song, connID, displayName), nil
}

// RemoveItem removes a waiting item, reporting false when nothing changed.
func (s *Session) RemoveItem(itemID string) bool {
	return s.queue.Remove(itemID)
}

// ReorderItem moves a waiting item within the waiting subsequence.
func (s *Session) ReorderItem(itemID string, index int) error {
	return s.queue.Reorder(itemID, index)
}

// ReplaceQueue swaps in the owner's full queue. A change of playing song
// frees the scorer slot, as EndItem does.
func (s *Session) ReplaceQueue(items []queue.Item) error {
	before, _ := s.queue.Current()
	if err := s.queue.Replace(items); err != nil {
		return err
	}
	if after, _ := s.queue.Current(); after.ID != before.ID {
		s.arbiter.Clear(s.id)
	}
	return nil
}

// StartItem marks a waiting item as playing.
func (s *Session) StartItem(itemID string) (queue.Item, error) {
	return s.queue.StartNext(itemID)
}

// EndItem completes the playing item and frees the scorer slot for the
// next song.
func (s *Session) EndItem(itemID string, score *queue.Score) (queue.HistoryEntry, error) {
	entry, err := s.queue.EndCurrent(itemID, score)
	if err != nil {
		return queue.HistoryEntry{}, err
	}
	s.arbiter.Clear(s.id)
	return entry, nil
}

// IsPrimaryScorer reports whether connID may submit scores right now,
// claiming the slot when it is empty.
func (s *Session) IsPrimaryScorer(connID string) bool {
	return s.arbiter.IsPrimary(s.id, connID)
}

// Items returns the current queue.
func (s *Session) Items() []queue.Item {
	return s.queue.Items()
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Code:      s.code,
		OwnerID:   s.ownerID,
		Members:   slices.Clone(s.members),
		Queue:     s.queue.Items(),
		History:   s.queue.History(),
		CreatedAt: s.createdAt,
	}
	if snap.Members == nil {
		snap.Members = []string{}
	}
	if current, ok := s.queue.Current(); ok {
		snap.CurrentItemID = current.ID
	}
	return snap
}

// Summary reports what the session has sung so far.
func (s *Session) Summary() Summary {
	return summarize(s.id, s.code, s.createdAt, s.now().UTC(), s.queue.History())
}

func (s *Session) removeMember(connID string) bool {
	idx := slices.Index(s.members, connID)
	if idx < 0 {
		return false
	}
	s.members = slices.Delete(s.members, idx, idx+1)
	return true
}
