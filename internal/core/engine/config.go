package engine

import (
	"context"
	"time"

	"github.com/zeusync/docsync/internal/core/content"
	"github.com/zeusync/docsync/internal/core/persistence"
	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/pkg/delta"
)

// Config holds configuration for the sync engine
type Config struct {
	// InitialTimeout bounds the wait between Load and Initial. Zero waits
	// forever.
	InitialTimeout time.Duration
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{}
}

// Transport is the session channel as used by the engine.
type Transport interface {
	DocumentID() protocol.DocumentID
	Open(ctx context.Context) error
	Send(m protocol.Message) error
	Messages() <-chan []byte
	Err() error
	Close() error
}

// Saver persists document snapshots.
type Saver interface {
	Save(ctx context.Context, id protocol.DocumentID, doc persistence.SavedDocument) error
}

// Editor is implemented by content models that accept edits submitted
// through the engine.
type Editor interface {
	Edit(op *delta.Delta, origin content.Origin)
}
