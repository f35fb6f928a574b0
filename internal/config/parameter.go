package config

import (
	"fmt"
	"iter"
	"slices"
)

// Options controls how a sequence-valued parameter is kept and swept.
type Options struct {
	Unique             bool // drop repeated elements
	PreserveDuplicates bool // keep repeated elements even when Unique is set
	ForceAtomic        bool // never treat the sequence as a sweep axis
	SortAxis           bool // keep scalar sequences in ascending order
}

// DefaultOptions returns the options new parameters start with.
func DefaultOptions() Options {
	return Options{Unique: true, SortAxis: true}
}

// Option adjusts parameter Options at insertion time.
type Option func(*Options)

func WithUnique(v bool) Option             { return func(o *Options) { o.Unique = v } }
func WithPreserveDuplicates(v bool) Option { return func(o *Options) { o.PreserveDuplicates = v } }
func WithForceAtomic(v bool) Option        { return func(o *Options) { o.ForceAtomic = v } }
func WithSortAxis(v bool) Option           { return func(o *Options) { o.SortAxis = v } }

// Parameter is one named value slot. It holds either a single atomic value or
// an ordered sequence of values of one kind.
type Parameter struct {
	name     string
	kind     Kind
	values   []any
	sequence bool
	opts     Options
}

// NewParameter builds a parameter from a Go value. Slices and arrays
// (strings excluded) become sequences.
func NewParameter(name string, value any, opts ...Option) (*Parameter, error) {
	p := &Parameter{name: name, opts: DefaultOptions()}
	for _, o := range opts {
		o(&p.opts)
	}
	if err := p.SetValue(value); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parameter) Name() string     { return p.name }
func (p *Parameter) Kind() Kind       { return p.kind }
func (p *Parameter) Len() int         { return len(p.values) }
func (p *Parameter) Options() Options { return p.opts }

// IsSequence reports whether the parameter holds sequence form, regardless
// of its length or options.
func (p *Parameter) IsSequence() bool { return p.sequence }

// SetValue replaces the current value.
func (p *Parameter) SetValue(v any) error {
	elems, isSeq := sequenceElems(v)
	if !isSeq {
		elems = []any{v}
	}
	vals, kind, err := p.normalizeAll(elems)
	if err != nil {
		return err
	}
	p.kind = kind
	p.values = vals
	p.sequence = isSeq
	p.tidy()
	return nil
}

// AddValue appends v (or each element of v when it is a sequence), promoting
// an atomic parameter to sequence form.
func (p *Parameter) AddValue(v any) error {
	elems, isSeq := sequenceElems(v)
	if !isSeq {
		elems = []any{v}
	}
	vals, kind, err := p.normalizeAll(elems)
	if err != nil {
		return err
	}
	for i := range p.values {
		p.values[i] = coerce(p.values[i], kind)
	}
	p.kind = kind
	p.values = append(p.values, vals...)
	p.sequence = true
	p.tidy()
	return nil
}

// AddValues appends every argument.
func (p *Parameter) AddValues(vs ...any) error {
	return p.AddValue(vs)
}

// IsSequenceAxis reports whether the parameter contributes a sweep axis.
func (p *Parameter) IsSequenceAxis() bool {
	return p.sequence && len(p.values) > 1 && !p.opts.ForceAtomic
}

// Value returns the atomic value, or a copy of the sequence.
func (p *Parameter) Value() any {
	if p.sequence {
		return slices.Clone(p.values)
	}
	if len(p.values) == 0 {
		return nil
	}
	return p.values[0]
}

// Values returns a copy of the stored elements.
func (p *Parameter) Values() []any {
	return slices.Clone(p.values)
}

// atomicValue is the value a non-axis parameter takes in a concrete node.
// One-element sequences collapse to their element.
func (p *Parameter) atomicValue() any {
	if p.sequence && !p.opts.ForceAtomic && len(p.values) == 1 {
		return p.values[0]
	}
	return p.Value()
}

// GenerateSequence yields the candidate values: the stored elements for a
// sweep axis, otherwise the atomic value alone. Each call starts afresh.
func (p *Parameter) GenerateSequence() iter.Seq[any] {
	return func(yield func(any) bool) {
		if !p.IsSequenceAxis() {
			yield(p.atomicValue())
			return
		}
		for _, v := range p.values {
			if !yield(v) {
				return
			}
		}
	}
}

// Clone deep-copies the parameter, including child nodes.
func (p *Parameter) Clone() *Parameter {
	out := &Parameter{name: p.name, kind: p.kind, sequence: p.sequence, opts: p.opts}
	out.values = make([]any, len(p.values))
	for i, v := range p.values {
		if n, ok := v.(*Node); ok {
			out.values[i] = n.Clone()
			continue
		}
		out.values[i] = v
	}
	return out
}

// Contains reports whether v is one of the candidate values. Ints and
// floats compare numerically.
func (p *Parameter) Contains(v any) bool {
	for c := range p.GenerateSequence() {
		if valuesEqual(c, v) {
			return true
		}
	}
	return false
}

// element returns the branch element with the given name.
func (p *Parameter) element(name string) *Node {
	for _, v := range p.values {
		if n, ok := v.(*Node); ok && n.name == name {
			return n
		}
	}
	return nil
}

func (p *Parameter) equal(q *Parameter) bool {
	if len(p.values) != len(q.values) {
		return false
	}
	for i := range p.values {
		if !valuesEqual(p.values[i], q.values[i]) {
			return false
		}
	}
	return true
}

func (p *Parameter) normalizeAll(elems []any) ([]any, Kind, error) {
	batch := KindInvalid
	out := make([]any, 0, len(elems))
	for _, e := range elems {
		if _, nested := sequenceElems(e); nested {
			return nil, KindInvalid, fmt.Errorf("parameter %q: nested sequences are not supported", p.name)
		}
		v, k, err := normalize(p.name, e)
		if err != nil {
			return nil, KindInvalid, err
		}
		u, ok := unify(batch, k)
		if !ok {
			return nil, KindInvalid, &TypeConflictError{Param: p.name, Want: batch, Got: k}
		}
		batch = u
		out = append(out, v)
	}
	kind, ok := widen(p.kind, batch)
	if !ok {
		return nil, KindInvalid, &TypeConflictError{Param: p.name, Want: p.kind, Got: batch}
	}
	for i := range out {
		out[i] = coerce(out[i], kind)
	}
	return out, kind, nil
}

// tidy re-applies the uniqueness and ordering options. Node sequences keep
// insertion order and are never deduplicated.
func (p *Parameter) tidy() {
	if !p.sequence || p.kind == KindNode {
		return
	}
	if p.opts.Unique && !p.opts.PreserveDuplicates {
		kept := p.values[:0]
		for _, v := range p.values {
			if !slices.ContainsFunc(kept, func(k any) bool { return valuesEqual(k, v) }) {
				kept = append(kept, v)
			}
		}
		clear(p.values[len(kept):])
		p.values = kept
	}
	if p.opts.SortAxis {
		slices.SortStableFunc(p.values, compareValues)
	}
}
