package config

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// hashNamespace seeds the content hashes of concrete nodes.
var hashNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/banshee-data/paramsweep/concrete"))

// Guard is a branch choice that must hold for an axis to exist in a
// concrete node: the node sequence at Path resolved to element Branch.
type Guard struct {
	Path   string
	Branch string
}

// Axis is one sweep dimension discovered in a node.
type Axis struct {
	Name   string // identity; axes inside branch element e of p are prefixed "p.e"
	Path   string // location of the value inside a concrete node
	Kind   Kind
	Branch bool // values are branch element names
	Values []any
	Guards []Guard
}

func (a Axis) Len() int { return len(a.Values) }

// IndexOf returns the position of v in the axis values, or -1.
func (a Axis) IndexOf(v any) int {
	for i, c := range a.Values {
		if valuesEqual(c, v) {
			return i
		}
	}
	return -1
}

// Active reports whether every guard of the axis holds in the concrete
// node c.
func (a Axis) Active(c *Node) bool {
	for _, g := range a.Guards {
		v, err := c.atomic(g.Path)
		if err != nil {
			return false
		}
		el, ok := v.(*Node)
		if !ok || el.name != g.Branch {
			return false
		}
	}
	return true
}

// ValueIn returns the axis value carried by the concrete node c. The second
// result is false when the axis is inactive in c.
func (a Axis) ValueIn(c *Node) (any, bool, error) {
	if !a.Active(c) {
		return nil, false, nil
	}
	v, err := c.atomic(a.Path)
	if err != nil {
		return nil, false, err
	}
	if a.Branch {
		el, ok := v.(*Node)
		if !ok {
			return nil, false, fmt.Errorf("axis %q: %T is not a branch element", a.Name, v)
		}
		return el.name, true, nil
	}
	return v, true, nil
}

// Equal reports whether two axes describe the same dimension.
func (a Axis) Equal(b Axis) bool {
	return a.Name == b.Name && a.Path == b.Path && a.Kind == b.Kind && a.Branch == b.Branch &&
		slices.Equal(a.Guards, b.Guards) &&
		slices.EqualFunc(a.Values, b.Values, valuesEqual)
}

// Axes discovers the sweep axes of n depth-first in key order.
func (n *Node) Axes() ([]Axis, error) {
	return n.collectAxes("", "", nil)
}

func (n *Node) collectAxes(namePrefix, pathPrefix string, guards []Guard) ([]Axis, error) {
	var axes []Axis
	for _, key := range n.keys {
		p := n.params[key]
		name := join(namePrefix, key)
		path := join(pathPrefix, key)
		switch {
		case p.kind == KindNode && p.IsSequenceAxis():
			names := make([]any, 0, len(p.values))
			for i, v := range p.values {
				el, _ := v.(*Node)
				switch {
				case el == nil:
					return nil, &EnumerationError{Axis: name, Reason: fmt.Sprintf("element %d is not a config node", i)}
				case el.name == "":
					return nil, &EnumerationError{Axis: name, Reason: fmt.Sprintf("element %d has no name", i)}
				case slices.Contains(names, any(el.name)):
					return nil, &EnumerationError{Axis: name, Reason: fmt.Sprintf("duplicate element name %q", el.name)}
				}
				names = append(names, el.name)
			}
			axes = append(axes, Axis{Name: name, Path: path, Kind: KindString, Branch: true, Values: names, Guards: slices.Clone(guards)})
			for _, v := range p.values {
				el := v.(*Node)
				inner := append(slices.Clone(guards), Guard{Path: path, Branch: el.name})
				sub, err := el.collectAxes(join(name, el.name), path, inner)
				if err != nil {
					return nil, err
				}
				axes = append(axes, sub...)
			}
		case p.kind == KindNode && p.opts.ForceAtomic && p.sequence:
		case p.kind == KindNode:
			if len(p.values) == 0 {
				return nil, &EnumerationError{Axis: name, Reason: "no branch elements"}
			}
			sub, err := p.values[0].(*Node).collectAxes(name, path, guards)
			if err != nil {
				return nil, err
			}
			axes = append(axes, sub...)
		case p.IsSequenceAxis():
			axes = append(axes, Axis{Name: name, Path: path, Kind: p.kind, Values: slices.Clone(p.values), Guards: slices.Clone(guards)})
		case p.sequence && !p.opts.ForceAtomic && len(p.values) == 0:
			return nil, &EnumerationError{Axis: name, Reason: "no values"}
		}
	}
	return axes, nil
}

// Sequence is the lazy, restartable enumeration of a node's sweep space.
// Points are ordered row-major: the last axis varies fastest.
type Sequence struct {
	root  *Node
	axes  []Axis
	shape []int
	size  int
}

// Enumerate discovers the axes of n and prepares its enumeration. The node
// must not be mutated while the sequence is in use.
func (n *Node) Enumerate() (*Sequence, error) {
	axes, err := n.Axes()
	if err != nil {
		return nil, err
	}
	shape := make([]int, len(axes))
	size := 1
	for i, a := range axes {
		shape[i] = len(a.Values)
		if size > math.MaxInt/shape[i] {
			return nil, &EnumerationError{Axis: a.Name, Reason: "too many combinations"}
		}
		size *= shape[i]
	}
	return &Sequence{root: n, axes: axes, shape: shape, size: size}, nil
}

func (s *Sequence) Len() int     { return s.size }
func (s *Sequence) Axes() []Axis { return s.axes }
func (s *Sequence) Shape() []int { return slices.Clone(s.shape) }
func (s *Sequence) Root() *Node  { return s.root }

// Coord decodes a row-major index into one value index per axis.
func (s *Sequence) Coord(i int) []int {
	coord := make([]int, len(s.shape))
	for k := len(s.shape) - 1; k >= 0; k-- {
		coord[k] = i % s.shape[k]
		i /= s.shape[k]
	}
	return coord
}

// At materializes the i-th concrete configuration.
func (s *Sequence) At(i int) *Concrete {
	coord := s.Coord(i)
	point := make([]any, len(s.axes))
	choice := make(map[string]any, len(s.axes))
	for k, a := range s.axes {
		point[k] = a.Values[coord[k]]
		choice[a.Name] = point[k]
	}
	node := s.root.materialize("", choice)
	return &Concrete{
		Node:  node,
		Index: i,
		Coord: coord,
		Point: point,
		hash:  uuid.NewSHA1(hashNamespace, []byte(node.canonical())).String(),
	}
}

// All yields every concrete configuration in order. Each range over the
// result restarts the enumeration.
func (s *Sequence) All() iter.Seq2[int, *Concrete] {
	return func(yield func(int, *Concrete) bool) {
		for i := 0; i < s.size; i++ {
			if !yield(i, s.At(i)) {
				return
			}
		}
	}
}

// Concrete is one fully resolved point of a sweep space.
type Concrete struct {
	Node  *Node
	Index int
	Coord []int
	Point []any
	hash  string
}

// Hash is a stable content hash of the concrete node.
func (c *Concrete) Hash() string { return c.hash }

// NewConcrete wraps an atomic node received from elsewhere, such as a remote
// worker request.
func NewConcrete(n *Node) *Concrete {
	return &Concrete{Node: n, hash: uuid.NewSHA1(hashNamespace, []byte(n.canonical())).String()}
}

func (n *Node) materialize(namePrefix string, choice map[string]any) *Node {
	out := New(n.name)
	for _, key := range n.keys {
		p := n.params[key]
		name := join(namePrefix, key)
		var q *Parameter
		switch {
		case p.kind == KindNode && p.IsSequenceAxis():
			chosen, _ := choice[name].(string)
			el := p.element(chosen)
			q = p.atomic(el.materialize(join(name, chosen), choice))
		case p.kind == KindNode && !(p.opts.ForceAtomic && p.sequence):
			q = p.atomic(p.values[0].(*Node).materialize(name, choice))
		case p.IsSequenceAxis():
			q = p.atomic(choice[name])
		case p.sequence && !p.opts.ForceAtomic && len(p.values) == 1:
			q = p.atomic(p.values[0])
		default:
			q = p.Clone()
		}
		out.keys = append(out.keys, key)
		out.params[key] = q
	}
	return out
}

func (p *Parameter) atomic(v any) *Parameter {
	return &Parameter{name: p.name, kind: p.kind, values: []any{v}, opts: p.opts}
}

// canonical writes a deterministic text encoding used for hashing.
func (n *Node) canonical() string {
	var b strings.Builder
	n.writeCanonical(&b)
	return b.String()
}

func (n *Node) writeCanonical(b *strings.Builder) {
	b.WriteString(strconv.Quote(n.name))
	b.WriteByte('{')
	for i, key := range n.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		p := n.params[key]
		b.WriteString(strconv.Quote(key))
		b.WriteByte('=')
		b.WriteString(p.kind.String())
		if p.sequence {
			b.WriteByte('[')
		}
		for j, v := range p.values {
			if j > 0 {
				b.WriteByte(',')
			}
			switch x := v.(type) {
			case *Node:
				x.writeCanonical(b)
			case string:
				b.WriteString(strconv.Quote(x))
			default:
				b.WriteString(FormatValue(x))
			}
		}
		if p.sequence {
			b.WriteByte(']')
		}
	}
	b.WriteByte('}')
}
