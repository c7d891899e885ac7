package delta

import (
	"bytes"
	"encoding/json"
	"unicode/utf16"

	quill "github.com/fmpwizard/go-quilljs-delta/delta"
	"github.com/pkg/errors"
)

// Op is a single retain/insert/delete instruction. Text inserts hold UTF-16
// code units, one per element, so every length matches the editor's.
type Op = quill.Op

type kind uint8

const (
	kindInvalid kind = iota
	kindInsert
	kindDelete
	kindRetain
)

func kindOf(o Op) kind {
	switch {
	case len(o.Insert) > 0 || o.InsertEmbed != nil:
		return kindInsert
	case o.Delete != nil && *o.Delete > 0:
		return kindDelete
	case o.Retain != nil && *o.Retain > 0:
		return kindRetain
	default:
		return kindInvalid
	}
}

// opLength returns the number of positions op spans; an embed has length 1.
func opLength(o Op) int {
	switch kindOf(o) {
	case kindInsert:
		if o.InsertEmbed != nil {
			return 1
		}
		return len(o.Insert)
	case kindDelete:
		return *o.Delete
	case kindRetain:
		return *o.Retain
	default:
		return 0
	}
}

// validateOp reports whether o carries exactly one well formed instruction.
func validateOp(o Op) error {
	set := 0
	if len(o.Insert) > 0 {
		set++
	}
	if o.InsertEmbed != nil {
		set++
	}
	if o.Delete != nil {
		set++
	}
	if o.Retain != nil {
		set++
	}
	switch {
	case set == 0:
		return ErrEmptyOp
	case set > 1:
		return ErrAmbiguousOp
	case o.Delete != nil && *o.Delete < 0, o.Retain != nil && *o.Retain < 0:
		return ErrNegativeLength
	case o.Delete != nil && *o.Delete == 0, o.Retain != nil && *o.Retain == 0:
		return ErrEmptyOp
	case o.Delete != nil && o.Attributes != nil:
		return errors.Wrap(ErrAmbiguousOp, "delete carries attributes")
	case o.InsertEmbed != nil && o.InsertEmbed.Key == "":
		return errors.Wrap(ErrBadEmbed, "embed without a key")
	}
	return nil
}

func cloneOp(o Op) Op {
	out := Op{Attributes: cloneMap(o.Attributes)}
	if o.Insert != nil {
		out.Insert = append([]rune(nil), o.Insert...)
	}
	if o.InsertEmbed != nil {
		embed := *o.InsertEmbed
		out.InsertEmbed = &embed
	}
	if o.Delete != nil {
		n := *o.Delete
		out.Delete = &n
	}
	if o.Retain != nil {
		n := *o.Retain
		out.Retain = &n
	}
	return out
}

// encodeUnits splits s into UTF-16 code units.
func encodeUnits(s string) []rune {
	encoded := utf16.Encode([]rune(s))
	units := make([]rune, len(encoded))
	for i, u := range encoded {
		units[i] = rune(u)
	}
	return units
}

// decodeUnits joins UTF-16 code units back into a string. A surrogate split
// from its pair decodes to U+FFFD.
func decodeUnits(units []rune) string {
	encoded := make([]uint16, len(units))
	for i, u := range units {
		encoded[i] = uint16(u)
	}
	return string(utf16.Decode(encoded))
}

type wireOp struct {
	Insert     json.RawMessage `json:"insert,omitempty"`
	Delete     *int            `json:"delete,omitempty"`
	Retain     *int            `json:"retain,omitempty"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

// encodeOp writes o in the editor's native shape, e.g.
// {"insert":"abc","attributes":{"bold":true}} or {"retain":3}.
func encodeOp(o Op) (wireOp, error) {
	var w wireOp
	switch kindOf(o) {
	case kindInsert:
		var (
			raw []byte
			err error
		)
		if o.InsertEmbed != nil {
			raw, err = json.Marshal(map[string]any{o.InsertEmbed.Key: o.InsertEmbed.Value})
		} else {
			raw, err = json.Marshal(decodeUnits(o.Insert))
		}
		if err != nil {
			return w, err
		}
		w.Insert = raw
	case kindDelete:
		n := *o.Delete
		w.Delete = &n
	case kindRetain:
		n := *o.Retain
		w.Retain = &n
	default:
		return w, ErrEmptyOp
	}
	if len(o.Attributes) > 0 && kindOf(o) != kindDelete {
		w.Attributes = o.Attributes
	}
	return w, nil
}

// decodeOp turns a wire op into an Op and rejects malformed ones.
func decodeOp(w wireOp) (Op, error) {
	var op Op
	if len(w.Insert) > 0 {
		switch w.Insert[0] {
		case '"':
			var text string
			if err := json.Unmarshal(w.Insert, &text); err != nil {
				return op, errors.Wrap(ErrMalformed, err.Error())
			}
			if text == "" {
				return op, errors.Wrap(ErrEmptyOp, "empty insert")
			}
			op.Insert = encodeUnits(text)
		case '{':
			var embed map[string]any
			if err := json.Unmarshal(w.Insert, &embed); err != nil {
				return op, errors.Wrap(ErrMalformed, err.Error())
			}
			if len(embed) != 1 {
				return op, errors.Wrapf(ErrBadEmbed, "embed has %d keys", len(embed))
			}
			for key, value := range embed {
				op.InsertEmbed = &quill.Embed{Key: key, Value: value}
			}
		default:
			return op, errors.Wrapf(ErrMalformed, "insert must be a string or an object, got %s", bytes.TrimSpace(w.Insert))
		}
	}
	op.Delete = w.Delete
	op.Retain = w.Retain
	if len(w.Attributes) > 0 {
		op.Attributes = w.Attributes
	}
	if err := validateOp(op); err != nil {
		return Op{}, err
	}
	return op, nil
}
