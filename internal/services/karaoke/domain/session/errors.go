package session

import "errors"

var (
	// ErrSessionNotFound indicates an unknown join code or an unattached connection.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionFull indicates the session reached its member limit.
	ErrSessionFull = errors.New("session is full")
	// ErrQueueFull indicates the session reached its pending song limit.
	ErrQueueFull = errors.New("queue is full")
	// ErrConnectionAttached indicates the connection already belongs to a session.
	ErrConnectionAttached = errors.New("connection already attached to a session")
	// ErrConnectionRequired indicates an empty connection id.
	ErrConnectionRequired = errors.New("connection id is required")
)
