package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/pkg/delta"
)

// Document is a stored document.
type Document struct {
	ID        protocol.DocumentID
	Title     string
	Content   *delta.Delta
	UpdatedAt time.Time
}

// Store keeps documents in memory. All methods are safe for concurrent use
// and return copies.
type Store struct {
	mu     sync.RWMutex
	docs   map[protocol.DocumentID]*Document
	nextID protocol.DocumentID
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		docs:   make(map[protocol.DocumentID]*Document),
		nextID: 1,
	}
}

// List returns every document ordered by id.
func (s *Store) List() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Create stores a new document under the next free id.
func (s *Store) Create(title string, content *delta.Delta) (Document, error) {
	if err := checkContent(content); err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.docs[s.nextID] != nil {
		s.nextID++
	}
	doc := &Document{ID: s.nextID, Title: title, Content: contentOrEmpty(content), UpdatedAt: time.Now()}
	s.docs[doc.ID] = doc
	s.nextID++
	return doc.copy(), nil
}

// Get returns document id.
func (s *Store) Get(id protocol.DocumentID) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, errors.Wrapf(ErrDocumentNotFound, "document %d", id)
	}
	return doc.copy(), nil
}

// Open returns document id, creating an empty one when it does not exist.
func (s *Store) Open(id protocol.DocumentID) Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		doc = &Document{ID: id, Content: delta.New(), UpdatedAt: time.Now()}
		s.docs[id] = doc
	}
	return doc.copy()
}

// Put replaces title and content of document id, creating it if needed.
func (s *Store) Put(id protocol.DocumentID, title string, content *delta.Delta) (Document, error) {
	if err := checkContent(content); err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc := &Document{ID: id, Title: title, Content: contentOrEmpty(content), UpdatedAt: time.Now()}
	s.docs[id] = doc
	return doc.copy(), nil
}

// Apply composes op onto the content of document id. An op that is malformed
// or reaches past the end of the document leaves it unchanged.
func (s *Store) Apply(id protocol.DocumentID, op *delta.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		doc = &Document{ID: id, Content: delta.New()}
	}
	content, err := delta.Apply(doc.Content, op)
	if err != nil {
		return errors.Wrap(ErrInvalidDocument, err.Error())
	}
	doc.Content = content
	doc.UpdatedAt = time.Now()
	s.docs[id] = doc
	return nil
}

// Delete removes document id.
func (s *Store) Delete(id protocol.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return errors.Wrapf(ErrDocumentNotFound, "document %d", id)
	}
	delete(s.docs, id)
	return nil
}

func (d *Document) copy() Document {
	out := *d
	out.Content = d.Content.Clone()
	return out
}

func checkContent(content *delta.Delta) error {
	if content == nil {
		return nil
	}
	if err := content.Validate(); err != nil {
		return errors.Wrap(ErrInvalidDocument, err.Error())
	}
	if !content.IsDocument() {
		return errors.Wrap(ErrInvalidDocument, "content must only insert")
	}
	return nil
}

func contentOrEmpty(content *delta.Delta) *delta.Delta {
	if content == nil {
		return delta.New()
	}
	return content.Clone()
}
