package content

import (
	"sync"

	"github.com/zeusync/docsync/pkg/delta"
)

var _ Model = (*Buffer)(nil)

type subscriber struct {
	id      uint64
	handler ChangeHandler
}

// Buffer is an in-memory Model. Mutations are serialized by an internal lock
// and handlers run after the lock is released, in registration order.
type Buffer struct {
	mu          sync.RWMutex
	doc         *delta.Delta
	subscribers []subscriber
	nextID      uint64
}

// NewBuffer returns a buffer holding doc, or an empty document when doc is nil.
func NewBuffer(doc *delta.Delta) *Buffer {
	if doc == nil {
		doc = delta.New()
	}
	return &Buffer{doc: doc.Clone()}
}

// Edit applies op with the given origin and notifies subscribers unless the
// origin is silent. An op that is malformed or reaches past the end of the
// document is dropped.
func (b *Buffer) Edit(op *delta.Delta, origin Origin) {
	if op == nil || len(op.Ops) == 0 {
		return
	}
	b.mu.Lock()
	prior := b.doc
	next, err := delta.Apply(prior, op)
	if err != nil {
		b.mu.Unlock()
		return
	}
	b.doc = next
	b.mu.Unlock()

	b.emit(ChangeEvent{Delta: op, Prior: prior, Origin: origin})
}

// ApplyRemote applies op as a programmatic change.
func (b *Buffer) ApplyRemote(op *delta.Delta) {
	b.Edit(op, OriginAPI)
}

// SetContents replaces the document. The emitted delta deletes the previous
// content and inserts doc.
func (b *Buffer) SetContents(doc *delta.Delta) {
	if doc == nil {
		doc = delta.New()
	}
	b.mu.Lock()
	prior := b.doc
	b.doc = doc.Clone()
	b.mu.Unlock()

	change := delta.New().Concat(doc).Delete(prior.Length())
	if len(change.Ops) == 0 {
		return
	}
	b.emit(ChangeEvent{Delta: change, Prior: prior, Origin: OriginAPI})
}

// Contents returns a copy of the document.
func (b *Buffer) Contents() *delta.Delta {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.Clone()
}

// Length returns the document length.
func (b *Buffer) Length() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.Length()
}

// Text returns the plain-text projection of the document.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.Text()
}

func (b *Buffer) OnChange(h ChangeHandler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers = append(b.subscribers, subscriber{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s.id == id {
				b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (b *Buffer) emit(ev ChangeEvent) {
	if ev.Origin == OriginSilent {
		return
	}
	b.mu.RLock()
	subs := make([]subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(ev)
	}
}
