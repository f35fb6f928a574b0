package config

import (
	"fmt"
	"slices"
	"strings"
)

// Separator splits dotted paths. Keys may not contain it.
const Separator = "."

// SubStudyKey is the reserved root key listing independently enumerated
// sub-studies.
const SubStudyKey = "studies"

// ExemptKeys are ignored by equivalence and reachability checks and kept
// from the first side during a merge.
var ExemptKeys = map[string]bool{
	"seed": true,
	"path": true,
}

// IsExempt reports whether the last segment of path is an exempt key.
func IsExempt(path string) bool {
	if i := strings.LastIndex(path, Separator); i >= 0 {
		path = path[i+1:]
	}
	return ExemptKeys[path]
}

// Node is an ordered tree of parameters.
type Node struct {
	name   string
	keys   []string
	params map[string]*Parameter
	locked bool
}

// New returns an empty node.
func New(name string) *Node {
	return &Node{name: name, params: make(map[string]*Parameter)}
}

func (n *Node) Name() string { return n.name }

// Keys returns the keys in insertion order.
func (n *Node) Keys() []string { return slices.Clone(n.keys) }

func (n *Node) Len() int { return len(n.keys) }

func (n *Node) Has(key string) bool {
	_, ok := n.params[key]
	return ok
}

// Locked reports whether the node rejects writes.
func (n *Node) Locked() bool { return n.locked }

// Lock makes the node and every child node read-only.
func (n *Node) Lock() {
	n.locked = true
	for _, p := range n.params {
		for _, v := range p.values {
			if c, ok := v.(*Node); ok {
				c.Lock()
			}
		}
	}
}

// Insert adds key or replaces its value. Replacing keeps the recorded kind,
// so an incompatible value fails with a TypeConflictError.
func (n *Node) Insert(key string, value any, opts ...Option) error {
	if n.locked {
		return ErrLocked
	}
	if key == "" || strings.Contains(key, Separator) {
		return fmt.Errorf("invalid key %q", key)
	}
	if p, ok := n.params[key]; ok {
		prev := p.opts
		for _, o := range opts {
			o(&p.opts)
		}
		if err := p.SetValue(value); err != nil {
			p.opts = prev
			return err
		}
		return nil
	}
	p, err := NewParameter(key, value, opts...)
	if err != nil {
		return err
	}
	n.keys = append(n.keys, key)
	n.params[key] = p
	return nil
}

// MustInsert is Insert for statically known trees; it panics on error.
func (n *Node) MustInsert(key string, value any, opts ...Option) *Node {
	if err := n.Insert(key, value, opts...); err != nil {
		panic(err)
	}
	return n
}

// resolve walks path and returns the node owning the final key. A segment
// naming a multi-element node sequence must be followed by an element name.
func (n *Node) resolve(path string) (*Node, string, error) {
	segs := strings.Split(path, Separator)
	cur := n
	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		p, ok := cur.params[seg]
		if !ok {
			return nil, "", &KeyNotFoundError{Path: path, Segment: seg}
		}
		if i == len(segs)-1 {
			return cur, seg, nil
		}
		if p.kind != KindNode || len(p.values) == 0 {
			return nil, "", &KeyNotFoundError{Path: path, Segment: segs[i+1]}
		}
		if len(p.values) == 1 {
			cur = p.values[0].(*Node)
			continue
		}
		i++
		cur = p.element(segs[i])
		if cur == nil || i == len(segs)-1 {
			return nil, "", &KeyNotFoundError{Path: path, Segment: segs[i]}
		}
	}
	return nil, "", &KeyNotFoundError{Path: path, Segment: path}
}

// Param returns the parameter at path.
func (n *Node) Param(path string) (*Parameter, error) {
	owner, key, err := n.resolve(path)
	if err != nil {
		return nil, err
	}
	return owner.params[key], nil
}

// Get returns the value at path.
func (n *Node) Get(path string) (any, error) {
	p, err := n.Param(path)
	if err != nil {
		return nil, err
	}
	return p.Value(), nil
}

// Set replaces the value of an existing key at path.
func (n *Node) Set(path string, value any) error {
	owner, key, err := n.resolve(path)
	if err != nil {
		return err
	}
	return owner.Insert(key, value)
}

// Child returns the single child node stored at path.
func (n *Node) Child(path string) (*Node, error) {
	v, err := n.atomic(path)
	if err != nil {
		return nil, err
	}
	c, ok := v.(*Node)
	if !ok {
		return nil, fmt.Errorf("%s: %T is not a config node", path, v)
	}
	return c, nil
}

func (n *Node) atomic(path string) (any, error) {
	p, err := n.Param(path)
	if err != nil {
		return nil, err
	}
	if p.IsSequenceAxis() || (p.sequence && p.opts.ForceAtomic) {
		return nil, fmt.Errorf("%s: expected an atomic value, got %d values", path, len(p.values))
	}
	return p.atomicValue(), nil
}

// Float returns the numeric value at path as a float64.
func (n *Node) Float(path string) (float64, error) {
	v, err := n.atomic(path)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%s: %T is not numeric", path, v)
	}
	return f, nil
}

// Int returns the numeric value at path as an int64. Floats must be whole.
func (n *Node) Int(path string) (int64, error) {
	v, err := n.atomic(path)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		if x == float64(int64(x)) {
			return int64(x), nil
		}
		return 0, fmt.Errorf("%s: %v is not a whole number", path, x)
	}
	return 0, fmt.Errorf("%s: %T is not numeric", path, v)
}

func (n *Node) String(path string) (string, error) {
	v, err := n.atomic(path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: %T is not a string", path, v)
	}
	return s, nil
}

func (n *Node) Bool(path string) (bool, error) {
	v, err := n.atomic(path)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: %T is not a bool", path, v)
	}
	return b, nil
}

// Copy returns a flat mapping from prefixed path to a cloned parameter. With
// recursive set, child nodes are flattened into dotted keys; elements of a
// node sequence are addressed by element name.
func (n *Node) Copy(recursive bool, prefix string) map[string]*Parameter {
	out := make(map[string]*Parameter)
	n.copyInto(out, recursive, prefix)
	return out
}

func (n *Node) copyInto(out map[string]*Parameter, recursive bool, prefix string) {
	for _, key := range n.keys {
		p := n.params[key]
		path := join(prefix, key)
		if !recursive || p.kind != KindNode {
			out[path] = p.Clone()
			continue
		}
		if len(p.values) == 1 {
			p.values[0].(*Node).copyInto(out, true, path)
			continue
		}
		for _, v := range p.values {
			c := v.(*Node)
			c.copyInto(out, true, join(path, c.name))
		}
	}
}

// Clone deep-copies the node. The copy is unlocked.
func (n *Node) Clone() *Node {
	out := New(n.name)
	out.keys = slices.Clone(n.keys)
	for k, p := range n.params {
		out.params[k] = p.Clone()
	}
	return out
}

// IsEquivalent reports whether every non-exempt key of both trees compares
// equal.
func (n *Node) IsEquivalent(other *Node) bool {
	return n.equal(other, true)
}

func (n *Node) equal(other *Node, skipExempt bool) bool {
	a := n.Copy(true, "")
	b := other.Copy(true, "")
	for path, pa := range a {
		if skipExempt && IsExempt(path) {
			continue
		}
		pb, ok := b[path]
		if !ok || !pa.equal(pb) {
			return false
		}
	}
	for path := range b {
		if skipExempt && IsExempt(path) {
			continue
		}
		if _, ok := a[path]; !ok {
			return false
		}
	}
	return true
}

// Reachable reports whether the concrete node c is a point of n's sweep
// space. Exempt keys are ignored.
func (n *Node) Reachable(c *Node) bool {
	for _, key := range n.keys {
		if ExemptKeys[key] {
			continue
		}
		p := n.params[key]
		q, ok := c.params[key]
		if !ok {
			return false
		}
		if p.kind == KindNode && !(p.sequence && p.opts.ForceAtomic) {
			if q.kind != KindNode || len(q.values) != 1 || len(p.values) == 0 {
				return false
			}
			cc := q.values[0].(*Node)
			el := p.element(cc.name)
			if len(p.values) == 1 {
				el = p.values[0].(*Node)
			}
			if el == nil || !el.Reachable(cc) {
				return false
			}
			continue
		}
		if !p.Contains(q.atomicValue()) {
			return false
		}
	}
	for _, key := range c.keys {
		if !ExemptKeys[key] && !n.Has(key) {
			return false
		}
	}
	return true
}

// IsSubconfig reports whether every concrete configuration of n is reachable
// in other.
func (n *Node) IsSubconfig(other *Node) bool {
	seq, err := n.Enumerate()
	if err != nil {
		return false
	}
	for _, c := range seq.All() {
		if !other.Reachable(c.Node) {
			return false
		}
	}
	return true
}

// ToMap renders the tree as plain nested values: child nodes become maps,
// node sequences become lists of maps carrying a "name" key.
func (n *Node) ToMap() map[string]any {
	out := make(map[string]any, len(n.keys))
	for _, key := range n.keys {
		p := n.params[key]
		if p.kind != KindNode {
			out[key] = p.Value()
			continue
		}
		if !p.sequence {
			out[key] = p.values[0].(*Node).ToMap()
			continue
		}
		list := make([]any, len(p.values))
		for i, v := range p.values {
			c := v.(*Node)
			m := c.ToMap()
			m["name"] = c.name
			list[i] = m
		}
		out[key] = list
	}
	return out
}

// SubStudies returns the sub-studies of root. Without a SubStudyKey entry the
// root is its own single sub-study. Other root keys are shared defaults
// copied into each sub-study that does not set them.
func SubStudies(root *Node) ([]*Node, error) {
	p, ok := root.params[SubStudyKey]
	if !ok {
		return []*Node{root}, nil
	}
	if p.kind != KindNode {
		return nil, fmt.Errorf("%q must hold config nodes, got %s", SubStudyKey, p.kind)
	}
	seen := make(map[string]bool, len(p.values))
	out := make([]*Node, 0, len(p.values))
	for _, v := range p.values {
		sub := v.(*Node)
		if sub.name == "" {
			return nil, fmt.Errorf("%q: sub-study has no name", SubStudyKey)
		}
		if seen[sub.name] {
			return nil, fmt.Errorf("%q: duplicate sub-study %q", SubStudyKey, sub.name)
		}
		seen[sub.name] = true
		c := sub.Clone()
		for _, key := range root.keys {
			if key == SubStudyKey || c.Has(key) {
				continue
			}
			c.keys = append(c.keys, key)
			c.params[key] = root.params[key].Clone()
		}
		out = append(out, c)
	}
	return out, nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + Separator + key
}
