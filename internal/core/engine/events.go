package engine

import (
	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/pkg/delta"
)

// Event types published on the engine's bus.
const (
	EventSessionOpened  = "session.opened"
	EventSessionInitial = "session.initial"
	EventSessionClosed  = "session.closed"
	EventEditApplied    = "edit.applied"
	EventEditSent       = "edit.sent"
	EventEditDiscarded  = "edit.discarded"
	EventSaveSucceeded  = "save.succeeded"
	EventSaveFailed     = "save.failed"
)

// EventSource is the source of every event the engine publishes.
const EventSource = "engine"

// SessionEvent is the payload of session.* events.
type SessionEvent struct {
	DocumentID protocol.DocumentID
	Title      string
	// Err is the cause of session.closed, nil on a clean close.
	Err error
}

// EditEvent is the payload of edit.* events.
type EditEvent struct {
	DocumentID protocol.DocumentID
	Delta      *delta.Delta
	// Reason is set on edit.discarded.
	Reason error
}

// SaveEvent is the payload of save.* events.
type SaveEvent struct {
	DocumentID protocol.DocumentID
	Title      string
	Err        error
}
