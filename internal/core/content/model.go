// Package content defines the boundary to the rich-text editing widget and
// provides an in-memory implementation of it.
package content

import "github.com/zeusync/docsync/pkg/delta"

// Origin tags what caused a change.
type Origin string

const (
	// OriginUser marks edits typed by the local user. Only these are sent.
	OriginUser Origin = "user"
	// OriginAPI marks programmatic mutations (remote applies, snapshot loads).
	OriginAPI Origin = "api"
	// OriginSilent mutations emit no change event at all.
	OriginSilent Origin = "silent"
)

// ChangeEvent describes one mutation of the document.
type ChangeEvent struct {
	Delta  *delta.Delta
	Prior  *delta.Delta
	Origin Origin
}

// ChangeHandler receives change events synchronously, on the goroutine that
// performed the mutation.
type ChangeHandler func(ChangeEvent)

// Model is the editing widget as seen by the sync engine. Implementations
// raise change events for remote applies as well; telling them apart from
// user edits is the caller's job.
type Model interface {
	// ApplyRemote mutates the document in place by op.
	ApplyRemote(op *delta.Delta)
	// Contents returns a full snapshot of the document.
	Contents() *delta.Delta
	// SetContents replaces the whole document.
	SetContents(doc *delta.Delta)
	// OnChange registers h and returns a function removing it.
	OnChange(h ChangeHandler) (unsubscribe func())
}
