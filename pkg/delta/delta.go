// Package delta is the rich-text Operation model shared by the editor and the
// wire: an ordered sequence of retain/insert/delete instructions that
// describes either an incremental change or, when it only inserts, a whole
// document.
//
// It wraps go-quilljs-delta, adding the editor's JSON shape with a fail-closed
// decoder, range checks and fingerprints. Positions are UTF-16 code units as
// in the editor, so an astral character such as an emoji spans two.
package delta

import (
	"bytes"
	"encoding/json"
	"reflect"
	"slices"

	"github.com/cespare/xxhash/v2"
	quill "github.com/fmpwizard/go-quilljs-delta/delta"
	"github.com/pkg/errors"
)

// Delta is an ordered, composable sequence of ops.
type Delta struct {
	quill.Delta
}

// New returns an empty delta.
func New() *Delta {
	return &Delta{Delta: *quill.New(nil)}
}

// FromOps returns a delta holding ops as given, without normalizing them.
func FromOps(ops ...Op) *Delta {
	return &Delta{Delta: quill.Delta{Ops: ops}}
}

// Insert appends a text insert.
func (d *Delta) Insert(text string, attrs map[string]any) *Delta {
	if text == "" {
		return d
	}
	return d.Push(Op{Insert: encodeUnits(text), Attributes: attrs})
}

// InsertEmbed appends a length-1 embed such as image=url.
func (d *Delta) InsertEmbed(key string, value any, attrs map[string]any) *Delta {
	if key == "" {
		return d
	}
	return d.Push(Op{InsertEmbed: &quill.Embed{Key: key, Value: value}, Attributes: attrs})
}

// Delete appends a delete of n positions.
func (d *Delta) Delete(n int) *Delta {
	if n <= 0 {
		return d
	}
	return d.Push(Op{Delete: &n})
}

// Retain appends a retain of n positions, optionally formatting them.
func (d *Delta) Retain(n int, attrs map[string]any) *Delta {
	if n <= 0 {
		return d
	}
	return d.Push(Op{Retain: &n, Attributes: attrs})
}

// Push appends a copy of op, merging it into the previous op where possible.
// Ops without an instruction are dropped.
func (d *Delta) Push(op Op) *Delta {
	if kindOf(op) == kindInvalid {
		return d
	}
	op = cloneOp(op)
	if len(op.Attributes) == 0 {
		op.Attributes = nil
	}
	d.Delta.Push(op)
	return d
}

// Concat appends every op of other.
func (d *Delta) Concat(other *Delta) *Delta {
	for _, op := range other.ops() {
		d.Push(op)
	}
	return d
}

// Length sums the length of every op.
func (d *Delta) Length() int {
	n := 0
	for _, op := range d.ops() {
		n += opLength(op)
	}
	return n
}

// BaseLength is the length of the document d can be applied to at least:
// the positions it retains or deletes.
func (d *Delta) BaseLength() int {
	n := 0
	for _, op := range d.ops() {
		if kindOf(op) != kindInsert {
			n += opLength(op)
		}
	}
	return n
}

// IsDocument reports whether d only inserts, i.e. is a full snapshot.
func (d *Delta) IsDocument() bool {
	for _, op := range d.ops() {
		if kindOf(op) != kindInsert {
			return false
		}
	}
	return true
}

// Text projects a document onto plain text; embeds are skipped.
func (d *Delta) Text() string {
	var units []rune
	for _, op := range d.ops() {
		if op.InsertEmbed == nil {
			units = append(units, op.Insert...)
		}
	}
	return decodeUnits(units)
}

// Validate checks every op.
func (d *Delta) Validate() error {
	for i, op := range d.ops() {
		if err := validateOp(op); err != nil {
			return errors.Wrapf(err, "op %d", i)
		}
	}
	return nil
}

// CheckBase reports whether op can be applied to doc without reaching past
// its end.
func CheckBase(doc, op *Delta) error {
	if base, length := op.BaseLength(), doc.Length(); base > length {
		return errors.Wrapf(ErrOutOfRange, "operation spans %d positions, document has %d", base, length)
	}
	return nil
}

// Apply validates op and composes it onto doc.
func Apply(doc, op *Delta) (*Delta, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if err := CheckBase(doc, op); err != nil {
		return nil, err
	}
	return doc.Compose(op), nil
}

// Clone returns a deep copy of d.
func (d *Delta) Clone() *Delta {
	out := &Delta{Delta: quill.Delta{Ops: make([]Op, 0, len(d.ops()))}}
	for _, op := range d.ops() {
		out.Ops = append(out.Ops, cloneOp(op))
	}
	return out
}

// Equal compares two deltas op by op. A nil delta equals an empty one.
func (d *Delta) Equal(other *Delta) bool {
	a, b := d.ops(), other.ops()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if kindOf(a[i]) != kindOf(b[i]) || opLength(a[i]) != opLength(b[i]) {
			return false
		}
		if !slices.Equal(a[i].Insert, b[i].Insert) ||
			!reflect.DeepEqual(a[i].InsertEmbed, b[i].InsertEmbed) ||
			!reflect.DeepEqual(normalize(a[i].Attributes), normalize(b[i].Attributes)) {
			return false
		}
	}
	return true
}

// Fingerprint hashes the canonical JSON encoding of d.
func (d *Delta) Fingerprint() uint64 {
	raw, err := d.MarshalJSON()
	if err != nil {
		return 0
	}
	return xxhash.Sum64(raw)
}

// Compose returns the delta equivalent to applying d and then other. Applying
// an operation to a document is doc.Compose(op).
func (d *Delta) Compose(other *Delta) *Delta {
	// Both sides are handed over with one unit per insert, so merging inside
	// the composition never appends into a slice either side still reads.
	this, that := d.units(), other.units()
	composed := this.Compose(that)

	out := New()
	for _, op := range composed.Ops {
		out.Push(op)
	}
	out.Delta.Chop()
	return out
}

// MarshalJSON encodes d as {"ops":[...]}.
func (d *Delta) MarshalJSON() ([]byte, error) {
	ops := make([]wireOp, 0, len(d.ops()))
	for _, op := range d.ops() {
		w, err := encodeOp(op)
		if err != nil {
			return nil, err
		}
		ops = append(ops, w)
	}
	return json.Marshal(struct {
		Ops []wireOp `json:"ops"`
	}{Ops: ops})
}

// UnmarshalJSON accepts {"ops":[...]}, a bare op array, null, or a string
// (the empty string being the empty document and any other string a plain
// text document).
func (d *Delta) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.Wrap(ErrMalformed, "empty input")
	}

	var wire []wireOp
	switch data[0] {
	case 'n':
		if !bytes.Equal(data, []byte("null")) {
			return errors.Wrap(ErrMalformed, "unexpected literal")
		}
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return errors.Wrap(ErrMalformed, err.Error())
		}
		*d = *New().Insert(text, nil)
		return nil
	case '[':
		if err := json.Unmarshal(data, &wire); err != nil {
			return errors.Wrap(ErrMalformed, err.Error())
		}
	case '{':
		var wrapped struct {
			Ops *[]wireOp `json:"ops"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return errors.Wrap(ErrMalformed, err.Error())
		}
		if wrapped.Ops == nil {
			return errors.Wrap(ErrMalformed, "object without ops")
		}
		wire = *wrapped.Ops
	default:
		return errors.Wrapf(ErrMalformed, "unexpected %q", data[0])
	}

	out := New()
	for i, w := range wire {
		op, err := decodeOp(w)
		if err != nil {
			return errors.Wrapf(err, "op %d", i)
		}
		out.Push(op)
	}
	*d = *out
	return nil
}

func (d *Delta) String() string {
	raw, err := d.MarshalJSON()
	if err != nil {
		return "<invalid delta>"
	}
	return string(raw)
}

func (d *Delta) ops() []Op {
	if d == nil {
		return nil
	}
	return d.Ops
}

// units returns a copy of d whose text inserts are one code unit each.
func (d *Delta) units() quill.Delta {
	out := quill.Delta{Ops: make([]Op, 0, len(d.ops()))}
	for _, op := range d.ops() {
		if op.InsertEmbed != nil || len(op.Insert) == 0 {
			out.Ops = append(out.Ops, cloneOp(op))
			continue
		}
		for _, u := range op.Insert {
			out.Ops = append(out.Ops, Op{Insert: []rune{u}, Attributes: cloneMap(op.Attributes)})
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func normalize(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}
