package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/zeusync/docsync/pkg/delta"
)

// Message is one of Load, Initial or Edit.
type Message interface {
	Type() MessageType
	isMessage()
}

// Load requests the snapshot of a document.
type Load struct {
	DocumentID DocumentID
}

// Initial is the full snapshot answering a Load. Content only inserts.
type Initial struct {
	Title   string
	Content *delta.Delta
}

// Edit carries one operation for a document.
type Edit struct {
	DocumentID DocumentID
	Delta      *delta.Delta
}

func (Load) Type() MessageType    { return TypeLoad }
func (Initial) Type() MessageType { return TypeInitial }
func (Edit) Type() MessageType    { return TypeEdit }

func (Load) isMessage()    {}
func (Initial) isMessage() {}
func (Edit) isMessage()    {}

func (m Load) String() string {
	return fmt.Sprintf("load(doc=%d)", m.DocumentID)
}

func (m Initial) String() string {
	return fmt.Sprintf("initial(title=%q, len=%d)", m.Title, m.Content.Length())
}

func (m Edit) String() string {
	return fmt.Sprintf("edit(doc=%d, ops=%d)", m.DocumentID, len(m.Delta.Ops))
}

type loadFrame struct {
	Type       MessageType `json:"type"`
	DocumentID DocumentID  `json:"document_id"`
}

type initialFrame struct {
	Type    MessageType  `json:"type"`
	Title   string       `json:"title"`
	Content *delta.Delta `json:"content"`
}

type editFrame struct {
	Type       MessageType  `json:"type"`
	DocumentID DocumentID   `json:"document_id"`
	Delta      *delta.Delta `json:"delta"`
}

// envelope holds every field any variant may carry, so presence can be
// checked per variant before anything is trusted.
type envelope struct {
	Type       *MessageType    `json:"type"`
	DocumentID *DocumentID     `json:"document_id"`
	Title      *string         `json:"title"`
	Content    json.RawMessage `json:"content"`
	Delta      json.RawMessage `json:"delta"`
}

// Encode serializes m into a JSON text frame.
func Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case Load:
		return json.Marshal(loadFrame{Type: TypeLoad, DocumentID: msg.DocumentID})
	case Initial:
		content := msg.Content
		if content == nil {
			content = delta.New()
		}
		return json.Marshal(initialFrame{Type: TypeInitial, Title: msg.Title, Content: content})
	case Edit:
		if msg.Delta == nil {
			return nil, errors.Wrap(ErrMissingField, "edit without delta")
		}
		return json.Marshal(editFrame{Type: TypeEdit, DocumentID: msg.DocumentID, Delta: msg.Delta})
	default:
		return nil, errors.Wrapf(ErrUnknownType, "%T", m)
	}
}

// Decode parses a frame into exactly one variant. It fails closed: a frame
// with an unknown tag, a missing required field or an invalid operation is
// rejected as a whole.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if env.Type == nil {
		return nil, errors.Wrap(ErrMissingField, "type")
	}

	switch *env.Type {
	case TypeLoad:
		if env.DocumentID == nil {
			return nil, errors.Wrap(ErrMissingField, "load.document_id")
		}
		return Load{DocumentID: *env.DocumentID}, nil

	case TypeInitial:
		content, err := decodeDelta(env.Content, true)
		if err != nil {
			return nil, errors.Wrap(err, "initial.content")
		}
		if !content.IsDocument() {
			return nil, errors.Wrap(ErrMalformed, "initial.content is not a snapshot")
		}
		msg := Initial{Content: content}
		if env.Title != nil {
			msg.Title = *env.Title
		}
		return msg, nil

	case TypeEdit:
		if env.DocumentID == nil {
			return nil, errors.Wrap(ErrMissingField, "edit.document_id")
		}
		d, err := decodeDelta(env.Delta, false)
		if err != nil {
			return nil, errors.Wrap(err, "edit.delta")
		}
		return Edit{DocumentID: *env.DocumentID, Delta: d}, nil

	default:
		return nil, errors.Wrapf(ErrUnknownType, "%q", string(*env.Type))
	}
}

func decodeDelta(raw json.RawMessage, optional bool) (*delta.Delta, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		if optional {
			return delta.New(), nil
		}
		return nil, ErrMissingField
	}
	d := delta.New()
	if err := d.UnmarshalJSON(raw); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	return d, nil
}
