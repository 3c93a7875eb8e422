// Package delta models rich text as a flat sequence of styled runs, the
// quill-delta shape: [{"insert": "...", "attributes": {...}}, ...].
// Indexes and lengths are rune offsets. Operations return new values and
// never mutate their receiver, so a delta can live inside block props as
// a plain last-writer-wins payload.
package delta

import (
	"encoding/json"
	"fmt"
	"iter"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/suyash5053/AFFiNE/internal/domain"
)

// Attributes is the style map attached to a run. A nil value passed to
// Format removes the key.
type Attributes map[string]any

// Op is a single insert run.
type Op struct {
	Insert     string     `json:"insert"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// Delta is an ordered list of runs describing one text field.
type Delta []Op

// New returns a delta holding plain text, or an empty delta for "".
func New(text string) Delta {
	if text == "" {
		return Delta{}
	}
	return Delta{{Insert: text}}
}

// Length returns the text length in runes.
func (d Delta) Length() int {
	n := 0
	for _, op := range d {
		n += utf8.RuneCountInString(op.Insert)
	}
	return n
}

// PlainText concatenates the runs with styling dropped.
func (d Delta) PlainText() string {
	var b strings.Builder
	for _, op := range d {
		b.WriteString(op.Insert)
	}
	return b.String()
}

// Runs iterates the normalized runs in order. The sequence is finite and
// restartable.
func (d Delta) Runs() iter.Seq[Op] {
	norm := d.Normalize()
	return func(yield func(Op) bool) {
		for _, op := range norm {
			if !yield(op) {
				return
			}
		}
	}
}

// Insert returns a copy with text inserted at the rune index. Atomic
// attributes require text to be exactly one rune.
func (d Delta) Insert(index int, text string, attrs Attributes) (Delta, error) {
	if index < 0 || index > d.Length() {
		return nil, fmt.Errorf("%w: insert index %d out of range 0..%d", domain.ErrValidation, index, d.Length())
	}
	if name, ok := atomicKey(attrs); ok {
		if n := utf8.RuneCountInString(text); n != 1 {
			return nil, &domain.InvalidAtomicAttributeError{Attribute: name, Length: n}
		}
	}
	if text == "" {
		return d.Normalize(), nil
	}
	before, after := d.split(index)
	out := make(Delta, 0, len(before)+1+len(after))
	out = append(out, before...)
	out = append(out, Op{Insert: text, Attributes: cloneAttrs(attrs)})
	out = append(out, after...)
	return out.Normalize(), nil
}

// Delete returns a copy with length runes removed starting at index.
// Ranges beyond the end are clamped.
func (d Delta) Delete(index, length int) Delta {
	if index < 0 {
		length += index
		index = 0
	}
	if length <= 0 {
		return d.Normalize()
	}
	before, rest := d.split(index)
	_, after := rest.split(length)
	out := make(Delta, 0, len(before)+len(after))
	out = append(out, before...)
	out = append(out, after...)
	return out.Normalize()
}

// Format returns a copy with attrs merged into every run inside the
// range, splitting runs at the boundaries. A nil attribute value removes
// that key. Formatting a zero-length range is a no-op, and reapplying
// the same attrs is idempotent. Atomic attributes only apply to a range
// of exactly one rune.
func (d Delta) Format(index, length int, attrs Attributes) (Delta, error) {
	if index < 0 || index > d.Length() {
		return nil, fmt.Errorf("%w: format index %d out of range 0..%d", domain.ErrValidation, index, d.Length())
	}
	if max := d.Length() - index; length > max {
		length = max
	}
	if length <= 0 || len(attrs) == 0 {
		return d.Normalize(), nil
	}
	if name, ok := atomicKey(attrs); ok && length != 1 {
		return nil, &domain.InvalidAtomicAttributeError{Attribute: name, Length: length}
	}
	before, rest := d.split(index)
	target, after := rest.split(length)
	out := make(Delta, 0, len(before)+len(target)+len(after))
	out = append(out, before...)
	for _, op := range target {
		op.Attributes = mergeAttrs(op.Attributes, attrs)
		out = append(out, op)
	}
	out = append(out, after...)
	return out.Normalize(), nil
}

// Concat appends other after d.
func (d Delta) Concat(other Delta) Delta {
	out := make(Delta, 0, len(d)+len(other))
	out = append(out, d...)
	out = append(out, other...)
	return out.Normalize()
}

// Normalize drops empty runs, scrubs nil attribute values and merges
// adjacent runs with identical attributes. Normalizing twice yields the
// same value.
func (d Delta) Normalize() Delta {
	out := make(Delta, 0, len(d))
	for _, op := range d {
		if op.Insert == "" {
			continue
		}
		attrs := scrubAttrs(op.Attributes)
		if n := len(out); n > 0 && attrsEqual(out[n-1].Attributes, attrs) && !isAtomic(attrs) {
			out[n-1].Insert += op.Insert
			continue
		}
		out = append(out, Op{Insert: op.Insert, Attributes: attrs})
	}
	return out
}

// Equal compares two deltas after normalization.
func (d Delta) Equal(other Delta) bool {
	a, b := d.Normalize(), other.Normalize()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Insert != b[i].Insert || !attrsEqual(a[i].Attributes, b[i].Attributes) {
			return false
		}
	}
	return true
}

// split divides d at the rune index into two well-formed deltas.
func (d Delta) split(index int) (Delta, Delta) {
	if index <= 0 {
		return nil, d
	}
	var before, after Delta
	remaining := index
	for i, op := range d {
		n := utf8.RuneCountInString(op.Insert)
		if remaining >= n {
			before = append(before, op)
			remaining -= n
			if remaining == 0 {
				after = append(after, d[i+1:]...)
				return before, after
			}
			continue
		}
		runes := []rune(op.Insert)
		before = append(before, Op{Insert: string(runes[:remaining]), Attributes: op.Attributes})
		after = append(after, Op{Insert: string(runes[remaining:]), Attributes: op.Attributes})
		after = append(after, d[i+1:]...)
		return before, after
	}
	return before, nil
}

// Marshal encodes the delta as its canonical JSON array.
func (d Delta) Marshal() ([]byte, error) {
	return json.Marshal(d.Normalize())
}

// Unmarshal decodes a JSON run array.
func Unmarshal(data []byte) (Delta, error) {
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding delta: %w", err)
	}
	return d.Normalize(), nil
}

// Coerce converts a props value into a Delta. It accepts a Delta, a
// plain string, or the generic []any/map shape produced by JSON
// decoding. Returns false for anything else.
func Coerce(v any) (Delta, bool) {
	switch t := v.(type) {
	case nil:
		return Delta{}, true
	case Delta:
		return t.Normalize(), true
	case string:
		return New(t), true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	d, err := Unmarshal(raw)
	if err != nil {
		return nil, false
	}
	return d, true
}

func cloneAttrs(a Attributes) Attributes {
	a = scrubAttrs(a)
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// scrubAttrs drops nil values and returns nil for an empty map so that
// "no attributes" has a single representation.
func scrubAttrs(a Attributes) Attributes {
	if len(a) == 0 {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		if v != nil {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeAttrs(base, patch Attributes) Attributes {
	out := make(Attributes, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return scrubAttrs(out)
}

func attrsEqual(a, b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
