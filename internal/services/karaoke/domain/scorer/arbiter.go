// Package scorer decides which member connection may submit scores for the
// song playing in a session.
//
// Each session has one slot. The first submitter while the slot is empty
// claims it and stays primary until the slot is cleared, either because the
// song ended or because the primary disconnected. There is no timeout and no
// renewal.
package scorer

import "sync"

// Arbiter holds the primary-scorer slot of every live session.
// The zero value is ready to use.
type Arbiter struct {
	slots sync.Map // session id -> connection id
}

// New returns an empty arbiter.
func New() *Arbiter {
	return &Arbiter{}
}

// IsPrimary reports whether connID may submit scores for sessionID. An empty
// slot is claimed atomically by the caller, so among concurrent first
// submissions exactly one observes true.
func (a *Arbiter) IsPrimary(sessionID, connID string) bool {
	holder, loaded := a.slots.LoadOrStore(sessionID, connID)
	return !loaded || holder.(string) == connID
}

// Primary returns the current slot holder for sessionID.
func (a *Arbiter) Primary(sessionID string) (string, bool) {
	holder, ok := a.slots.Load(sessionID)
	if !ok {
		return "", false
	}
	return holder.(string), true
}

// Clear empties the slot, typically when the current song ends.
func (a *Arbiter) Clear(sessionID string) {
	a.slots.Delete(sessionID)
}

// Release empties the slot only if connID holds it. It reports whether the
// slot was released.
func (a *Arbiter) Release(sessionID, connID string) bool {
	return a.slots.CompareAndDelete(sessionID, connID)
}
