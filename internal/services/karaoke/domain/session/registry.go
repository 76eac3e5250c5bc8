package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/karaoke.space/internal/platform/id"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/domain/queue"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/domain/scorer"
)

// Option customizes a Registry.
type Option func(*Registry)

// WithCodeDigits sets the initial join code length.
func WithCodeDigits(digits int) Option {
	return func(r *Registry) { r.codeDigits = digits }
}

// WithCodeSource replaces the random source used to draw join codes.
func WithCodeSource(intN func(n int) int) Option {
	return func(r *Registry) { r.codeSource = intN }
}

// WithMaxMembers caps members per session. Zero means unbounded.
func WithMaxMembers(n int) Option {
	return func(r *Registry) { r.maxMembers = max(n, 0) }
}

// WithMaxQueueLength caps waiting plus playing items per session. Zero
// means unbounded.
func WithMaxQueueLength(n int) Option {
	return func(r *Registry) { r.maxQueue = max(n, 0) }
}

// WithIDGenerator sets the source of session and queue item ids.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(r *Registry) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// WithClock sets the registry time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Presence answers a ping.
type Presence struct {
	OwnerLive   bool `json:"owner_live"`
	MemberCount int  `json:"member_count"`
}

// DisconnectResult describes what a disconnect did.
type DisconnectResult struct {
	// Attached is false when the connection belonged to no session.
	Attached bool
	WasOwner bool
	// RemovedMemberID is set when a member left.
	RemovedMemberID string
	// Session is the affected session: as it was before teardown for an
	// owner, and as it is after removal for a member.
	Session Snapshot
	// Recipients are the connections that must be told: every member on
	// teardown, the owner and remaining members when a member leaves.
	Recipients []string
	// Summary is set on teardown.
	Summary *Summary
}

// Registry tracks live sessions and which connection belongs to which.
// Lock order is registry, then session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byCode   map[string]*Session
	byConn   map[string]*Session

	arbiter    *scorer.Arbiter
	codes      *codeAllocator
	codeDigits int
	codeSource func(n int) int
	maxMembers int
	maxQueue   int
	newID      func() (string, error)
	seq        int
	now        func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		byCode:   make(map[string]*Session),
		byConn:   make(map[string]*Session),
		arbiter:  scorer.New(),
		newID:    id.NewID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.codes = newCodeAllocator(r.codeDigits, r.codeSource)
	return r
}

// CreateSession starts a session owned by ownerID with a fresh id and join
// code. It fails only when ownerID is empty or already attached.
func (r *Registry) CreateSession(ownerID string) (Snapshot, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Snapshot{}, ErrConnectionRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, attached := r.byConn[ownerID]; attached {
		return Snapshot{}, fmt.Errorf("create session: %w", ErrConnectionAttached)
	}

	sessionID := r.nextSessionID()
	code := r.codes.allocate(func(code string) bool {
		_, taken := r.byCode[code]
		return taken
	})
	s := &Session{
		id:        sessionID,
		code:      code,
		ownerID:   ownerID,
		queue:     queue.New(queue.WithIDGenerator(r.newID), queue.WithClock(r.now)),
		arbiter:   r.arbiter,
		createdAt: r.now().UTC(),
		maxQueue:  r.maxQueue,
		now:       r.now,
	}
	r.sessions[sessionID] = s
	r.byCode[code] = s
	r.byConn[ownerID] = s
	return s.Snapshot(), nil
}

// JoinSession attaches connID as a member of the session with code. It
// reports whether the connection was newly added; joining again is a no-op.
//
// notify, when set, receives the joined snapshot while the session lock is
// still held, so no broadcast from a later mutation can overtake it. notify
// must not call back into the registry.
func (r *Registry) JoinSession(code, connID string, notify func(s *Session, snap Snapshot, added bool)) (Snapshot, bool, error) {
	code = strings.TrimSpace(code)
	connID = strings.TrimSpace(connID)
	if connID == "" {
		return Snapshot{}, false, ErrConnectionRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byCode[code]
	if !ok {
		return Snapshot{}, false, fmt.Errorf("join %q: %w", code, ErrSessionNotFound)
	}
	if current, attached := r.byConn[connID]; attached && current != s {
		return Snapshot{}, false, fmt.Errorf("join %q: %w", code, ErrConnectionAttached)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	role, member := s.RoleOf(connID)
	if member {
		if role == RoleOwner {
			return Snapshot{}, false, fmt.Errorf("join %q: %w", code, ErrConnectionAttached)
		}
		snap := s.Snapshot()
		if notify != nil {
			notify(s, snap, false)
		}
		return snap, false, nil
	}
	if r.maxMembers > 0 && len(s.members) >= r.maxMembers {
		return Snapshot{}, false, fmt.Errorf("join %q: %w", code, ErrSessionFull)
	}
	s.members = append(s.members, connID)
	r.byConn[connID] = s
	snap := s.Snapshot()
	if notify != nil {
		notify(s, snap, true)
	}
	return snap, true, nil
}

// ResolveSession returns the session connID belongs to.
func (r *Registry) ResolveSession(connID string) (Snapshot, bool) {
	s := r.lookup(connID)
	if s == nil {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// WithSession runs fn with exclusive access to connID's session. fn must not
// call back into the registry. It returns ErrSessionNotFound when connID is
// not attached.
func (r *Registry) WithSession(connID string, fn func(s *Session, role Role) error) error {
	s := r.lookup(connID)
	if s == nil {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionNotFound
	}
	role, ok := s.RoleOf(connID)
	if !ok {
		return ErrSessionNotFound
	}
	return fn(s, role)
}

// Presence reports whether connID's session still has its owner and how
// many members it has. Unattached connections get the zero value.
func (r *Registry) Presence(connID string) Presence {
	var presence Presence
	_ = r.WithSession(connID, func(s *Session, _ Role) error {
		presence = Presence{OwnerLive: true, MemberCount: len(s.members)}
		return nil
	})
	return presence
}

// HandleDisconnect detaches connID.
//
// Owner teardown runs in this order:
//  1. resolve the session and build the result while it is intact;
//  2. call notify, so recipients still resolve to the session;
//  3. purge every mapping, the code, the session and its scorer slot.
//
// A member is removed first and notify runs after, so the result already
// reflects the smaller membership. notify runs under the registry lock and
// must not call back into the registry.
func (r *Registry) HandleDisconnect(connID string, notify func(DisconnectResult)) DisconnectResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[connID]
	if !ok {
		return DisconnectResult{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if connID == s.ownerID {
		summary := s.Summary()
		result := DisconnectResult{
			Attached:   true,
			WasOwner:   true,
			Session:    s.Snapshot(),
			Recipients: s.Members(),
			Summary:    &summary,
		}
		if notify != nil {
			notify(result)
		}
		r.purge(s)
		return result
	}

	s.removeMember(connID)
	delete(r.byConn, connID)
	r.arbiter.Release(s.id, connID)
	result := DisconnectResult{
		Attached:        true,
		RemovedMemberID: connID,
		Session:         s.Snapshot(),
		Recipients:      s.Everyone(),
	}
	if notify != nil {
		notify(result)
	}
	return result
}

// SessionCount reports the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ConnectionCount reports the number of attached connections.
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}

// ScorerPrimary returns the primary scorer of a session, if one is elected.
func (r *Registry) ScorerPrimary(sessionID string) (string, bool) {
	return r.arbiter.Primary(sessionID)
}

func (r *Registry) lookup(connID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byConn[connID]
}

// purge must run with both r.mu and s.mu held.
func (r *Registry) purge(s *Session) {
	for _, member := range s.members {
		delete(r.byConn, member)
	}
	delete(r.byConn, s.ownerID)
	delete(r.byCode, s.code)
	delete(r.sessions, s.id)
	r.arbiter.Clear(s.id)
	s.members = nil
	s.ended = true
}

func (r *Registry) nextSessionID() string {
	value, err := r.newID()
	if err == nil && value != "" {
		if _, taken := r.sessions[value]; !taken {
			return value
		}
	}
	for {
		r.seq++
		value = fmt.Sprintf("session-%d", r.seq)
		if _, taken := r.sessions[value]; !taken {
			return value
		}
	}
}
