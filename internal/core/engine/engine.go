// Package engine implements the sync engine of one document editing session.
//
// The engine owns the session's echo suppression gate and its channel. Every
// inbound frame, every submitted local edit and every query runs to
// completion on a single goroutine, in the order it was received, so the
// content model is never mutated by two callers at once.
package engine

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/docsync/internal/core/content"
	"github.com/zeusync/docsync/internal/core/events/bus"
	"github.com/zeusync/docsync/internal/core/gate"
	"github.com/zeusync/docsync/internal/core/observability/log"
	"github.com/zeusync/docsync/internal/core/persistence"
	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/pkg/delta"
)

// errSessionEnded stops the loop once the channel has delivered its last frame.
var errSessionEnded = errors.New("session ended")

// Stats counts what the engine did with received and produced edits.
type Stats struct {
	Applied   uint64
	Sent      uint64
	Discarded uint64
	SendFails uint64
	Gate      gate.Stats
}

// Engine is the sync engine of one session. Create it with New and start it
// with Run. The content model must only be mutated on the engine's goroutine:
// local edits are submitted with Edit.
type Engine struct {
	config     Config
	documentID protocol.DocumentID
	channel    Transport
	model      content.Model
	saver      Saver
	bus        bus.EventBus
	logger     log.Log

	// owned by the loop
	gate   *gate.Gate
	title  string
	loaded bool

	commands  chan func()
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	started   int32
	savedMark atomic.Uint64

	applied   atomic.Uint64
	sent      atomic.Uint64
	discarded atomic.Uint64
	sendFails atomic.Uint64
}

// New creates an engine for the document of channel.
func New(config Config, channel Transport, model content.Model, saver Saver, eventBus bus.EventBus, logger log.Log) *Engine {
	if eventBus == nil {
		eventBus = bus.New()
	}
	id := channel.DocumentID()
	return &Engine{
		config:     config,
		documentID: id,
		channel:    channel,
		model:      model,
		saver:      saver,
		bus:        eventBus,
		logger: logger.With(
			log.String("component", "engine"),
			log.Int64("document_id", int64(id)),
		),
		gate:     gate.New(),
		commands: make(chan func()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// DocumentID returns the document of this session.
func (e *Engine) DocumentID() protocol.DocumentID {
	return e.documentID
}

// Bus returns the bus session events are published on.
func (e *Engine) Bus() bus.EventBus {
	return e.bus
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Run opens the channel and processes the session until ctx is cancelled,
// Close is called or the channel closes. It returns nil on a requested
// shutdown and the cause otherwise.
func (e *Engine) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		return ErrAlreadyStarted
	}
	defer close(e.done)

	unsubscribe := e.model.OnChange(e.handleChange)
	defer unsubscribe()

	if err := e.channel.Open(ctx); err != nil {
		e.logger.Error("Failed to open session", log.Error(err))
		e.publish(EventSessionClosed, SessionEvent{DocumentID: e.documentID, Err: err})
		return err
	}
	e.logger.Info("Session opened")
	e.publish(EventSessionOpened, SessionEvent{DocumentID: e.documentID})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.loop(gctx)
	})
	g.Go(func() error {
		// tears the channel down however the loop ended
		<-gctx.Done()
		return e.channel.Close()
	})

	err := g.Wait()
	switch {
	case errors.Is(err, errSessionEnded):
		err = e.channel.Err()
	case errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		err = nil
	}

	if err != nil {
		e.logger.Error("Session closed", log.Error(err))
	} else {
		e.logger.Info("Session closed")
	}
	e.publish(EventSessionClosed, SessionEvent{DocumentID: e.documentID, Title: e.title, Err: err})
	return err
}

// Close stops a running engine. It is safe to call more than once.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
}

func (e *Engine) loop(ctx context.Context) error {
	var initialTimeout <-chan time.Time
	if e.config.InitialTimeout > 0 {
		timer := time.NewTimer(e.config.InitialTimeout)
		defer timer.Stop()
		initialTimeout = timer.C
	}

	messages := e.channel.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return ErrClosed
		case frame, ok := <-messages:
			if !ok {
				return errSessionEnded
			}
			e.handleFrame(frame)
			if e.loaded {
				initialTimeout = nil
			}
		case cmd := <-e.commands:
			cmd()
		case <-initialTimeout:
			e.logger.Error("Initial snapshot timed out", log.Duration("timeout", e.config.InitialTimeout))
			return ErrInitialTimeout
		}
	}
}

func (e *Engine) handleFrame(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		e.logger.Debug("Discarding message", log.Error(err), log.Int("size", len(frame)))
		return
	}

	switch m := msg.(type) {
	case protocol.Initial:
		e.title = m.Title
		// A well behaved model stays quiet on a wholesale set; one that does
		// not is treated like a remote apply.
		e.gate.Suppress(func() {
			e.model.SetContents(m.Content)
		})
		e.loaded = true
		e.savedMark.Store(fingerprint(m.Title, m.Content))
		e.logger.Info("Initial snapshot received",
			log.String("title", m.Title),
			log.Int("length", m.Content.Length()))
		e.publish(EventSessionInitial, SessionEvent{DocumentID: e.documentID, Title: m.Title})

	case protocol.Edit:
		if m.DocumentID != e.documentID {
			e.discarded.Add(1)
			e.logger.Debug("Discarding edit", log.Error(ErrForeignDocument), log.Int64("target", int64(m.DocumentID)))
			e.publish(EventEditDiscarded, EditEvent{DocumentID: m.DocumentID, Delta: m.Delta, Reason: ErrForeignDocument})
			return
		}
		if err := delta.CheckBase(e.model.Contents(), m.Delta); err != nil {
			e.discarded.Add(1)
			e.logger.Warn("Discarding edit", log.Error(err))
			e.publish(EventEditDiscarded, EditEvent{DocumentID: m.DocumentID, Delta: m.Delta, Reason: err})
			return
		}
		e.gate.Suppress(func() {
			e.model.ApplyRemote(m.Delta)
		})
		e.applied.Add(1)
		e.publish(EventEditApplied, EditEvent{DocumentID: m.DocumentID, Delta: m.Delta})

	default:
		e.logger.Debug("Ignoring message", log.String("type", msg.Type().String()))
	}
}

// handleChange receives every change notification of the model.
func (e *Engine) handleChange(ev content.ChangeEvent) {
	if !e.gate.Admit() {
		e.logger.Debug("Suppressed change of a remote apply")
		return
	}
	if ev.Origin != content.OriginUser {
		return
	}

	msg := protocol.Edit{DocumentID: e.documentID, Delta: ev.Delta}
	if err := e.channel.Send(msg); err != nil {
		e.sendFails.Add(1)
		e.logger.Warn("Local edit not sent", log.Error(err))
		return
	}
	e.sent.Add(1)
	e.publish(EventEditSent, EditEvent{DocumentID: e.documentID, Delta: ev.Delta})
}

// Edit applies op to the model as a user edit, which sends it to the
// session. Transport failures are logged and counted, not returned.
func (e *Engine) Edit(ctx context.Context, op *delta.Delta) error {
	if err := op.Validate(); err != nil {
		return err
	}
	return e.EditWith(ctx, func(*delta.Delta) *delta.Delta {
		return op
	})
}

// EditWith builds a user edit from the current contents on the engine's
// goroutine, so no remote edit lands between reading and editing. A nil or
// empty result is not applied.
func (e *Engine) EditWith(ctx context.Context, build func(current *delta.Delta) *delta.Delta) error {
	editor, ok := e.model.(Editor)
	if !ok {
		return ErrNotEditable
	}

	var err error
	doErr := e.do(ctx, func() {
		current := e.model.Contents()
		op := build(current)
		if op == nil || len(op.Ops) == 0 {
			return
		}
		if err = op.Validate(); err != nil {
			return
		}
		if err = delta.CheckBase(current, op); err != nil {
			return
		}
		editor.Edit(op, content.OriginUser)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// SetTitle changes the title that is saved with the document.
func (e *Engine) SetTitle(ctx context.Context, title string) error {
	return e.do(ctx, func() {
		e.title = title
	})
}

// Title returns the current title.
func (e *Engine) Title(ctx context.Context) (string, error) {
	var title string
	err := e.do(ctx, func() {
		title = e.title
	})
	return title, err
}

// Contents returns a snapshot of the document.
func (e *Engine) Contents(ctx context.Context) (*delta.Delta, error) {
	var doc *delta.Delta
	err := e.do(ctx, func() {
		doc = e.model.Contents()
	})
	return doc, err
}

// Snapshot returns the title and contents as one consistent document.
// After Run has returned it reads the final state directly.
func (e *Engine) Snapshot(ctx context.Context) (persistence.SavedDocument, error) {
	select {
	case <-e.done:
		return persistence.SavedDocument{Title: e.title, Content: e.model.Contents()}, nil
	default:
	}

	var doc persistence.SavedDocument
	err := e.do(ctx, func() {
		doc = persistence.SavedDocument{Title: e.title, Content: e.model.Contents()}
	})
	if errors.Is(err, ErrClosed) {
		<-e.done
		return persistence.SavedDocument{Title: e.title, Content: e.model.Contents()}, nil
	}
	return doc, err
}

// Save stores the current snapshot through the persistence client. Save does
// not touch the session: a failure is returned and published as save.failed.
func (e *Engine) Save(ctx context.Context) error {
	doc, err := e.Snapshot(ctx)
	if err != nil {
		return err
	}

	if err = e.saver.Save(ctx, e.documentID, doc); err != nil {
		e.logger.Error("Save failed", log.Error(err))
		e.publish(EventSaveFailed, SaveEvent{DocumentID: e.documentID, Title: doc.Title, Err: err})
		return err
	}

	e.savedMark.Store(fingerprint(doc.Title, doc.Content))
	e.logger.Info("Document saved", log.String("title", doc.Title))
	e.publish(EventSaveSucceeded, SaveEvent{DocumentID: e.documentID, Title: doc.Title})
	return nil
}

// Dirty reports whether the document differs from the last saved or loaded
// snapshot.
func (e *Engine) Dirty(ctx context.Context) (bool, error) {
	doc, err := e.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return fingerprint(doc.Title, doc.Content) != e.savedMark.Load(), nil
}

// Stats returns engine counters.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Applied:   e.applied.Load(),
		Sent:      e.sent.Load(),
		Discarded: e.discarded.Load(),
		SendFails: e.sendFails.Load(),
	}
	err := e.do(ctx, func() {
		stats.Gate = e.gate.Stats()
	})
	return stats, err
}

// do runs fn on the loop and waits for it to complete.
func (e *Engine) do(ctx context.Context, fn func()) error {
	if atomic.LoadInt32(&e.started) == 0 {
		return ErrNotRunning
	}

	finished := make(chan struct{})
	select {
	case e.commands <- func() {
		defer close(finished)
		fn()
	}:
	case <-e.done:
		return ErrClosed
	case <-e.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// an accepted command always runs to completion
	<-finished
	return nil
}

func (e *Engine) publish(eventType string, data any) {
	if err := e.bus.Publish(bus.NewEvent(eventType, EventSource, data)); err != nil {
		e.logger.Warn("Event handler failed", log.String("event", eventType), log.Error(err))
	}
}

func fingerprint(title string, doc *delta.Delta) uint64 {
	digest := xxhash.New()
	_, _ = digest.WriteString(title)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], doc.Fingerprint())
	_, _ = digest.Write(buf[:])
	return digest.Sum64()
}
