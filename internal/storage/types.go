package storage

import "errors"

var (
	// ErrNotFound indicates that a referenced profile, image or session
	// id does not exist. Operations returning it performed no mutation.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the operation was rejected before
	// touching state: merge with fewer than two ids, split with an empty
	// selected or remaining set, and similar contract violations.
	ErrInvalidInput = errors.New("invalid input")
)

// EventType discriminates store mutation events.
type EventType string

// Mutation event types emitted by stores after a successful operation.
const (
	EventProfileCreated  EventType = "profile-created"
	EventProfileUpdated  EventType = "profile-updated"
	EventProfileDeleted  EventType = "profile-deleted"
	EventProfilesMerged  EventType = "profiles-merged"
	EventProfileSplit    EventType = "profile-split"
	EventImageAdded      EventType = "image-added"
	EventImageDeleted    EventType = "image-deleted"
	EventImageMoved      EventType = "image-moved"
	EventRecordingStart  EventType = "recording-started"
	EventRecordingStop   EventType = "recording-stopped"
	EventRecordingUpdate EventType = "recording-updated"
)

// Event describes one successful store mutation. Events are emitted
// after the mutation commits, never before, so consumers observing an
// event can immediately read the new state.
type Event struct {
	Type       EventType `json:"type"`
	ProfileIDs []string  `json:"profile_ids,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
}

// EventSink receives a notification after every successful mutation.
// Stores invoke it synchronously on the mutation path, so sinks must be
// fast and non-blocking (hand off to a channel or goroutine).
type EventSink interface {
	StoreChanged(event Event)
}

// EventSinkFunc adapts a plain function to the EventSink interface.
type EventSinkFunc func(event Event)

// StoreChanged implements EventSink.
func (f EventSinkFunc) StoreChanged(event Event) { f(event) }
