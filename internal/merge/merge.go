package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
	"github.com/banshee-data/paramsweep/internal/monitoring"
)

// Input is one computed sweep: its root node and the array formatted from
// that node's enumeration.
type Input struct {
	Node  *config.Node
	Array *grid.Array
}

type side struct {
	name string
	in   Input
}

func (in Input) check(name string) error {
	if in.Node == nil || in.Array == nil {
		return fmt.Errorf("merge input %s: node and array are required", name)
	}
	axes, err := in.Node.Axes()
	if err != nil {
		return fmt.Errorf("merge input %s: %w", name, err)
	}
	if !in.Array.SameAxes(grid.New("", axes)) {
		return fmt.Errorf("merge input %s: array axes do not match its node", name)
	}
	return nil
}

// Merge unions the nodes of a and b and fills the union's array. Each
// concrete config reads from a when a's sweep space reaches it, else from
// b, else stays sentinel.
func Merge(a, b Input) (*config.Node, *grid.Array, error) {
	if err := a.check("A"); err != nil {
		return nil, nil, err
	}
	if err := b.check("B"); err != nil {
		return nil, nil, err
	}
	node, err := Union(a.Node, b.Node)
	if err != nil {
		return nil, nil, err
	}
	seq, err := node.Enumerate()
	if err != nil {
		return nil, nil, err
	}

	arr := grid.New(a.Array.SubStudy, seq.Axes())
	for _, field := range a.Array.FieldNames() {
		arr.EnsureField(field)
	}
	for _, field := range b.Array.FieldNames() {
		arr.EnsureField(field)
	}

	sides := []side{{"A", a}, {"B", b}}
	used := make([]int, len(sides))
	for _, c := range seq.All() {
		for i, s := range sides {
			r, ok, err := lookup(s.in, c.Node)
			if err != nil {
				return nil, nil, fmt.Errorf("merge input %s: %w", s.name, err)
			}
			if !ok {
				continue
			}
			if r != nil {
				if err := arr.Set(c.Coord, r); err != nil {
					return nil, nil, err
				}
				used[i]++
			}
			break
		}
	}
	warnDropped(sides, used)
	return node, arr, nil
}

// warnDropped logs an input whose computed cells all fell out of the union
// because the other input adds keys it never set.
func warnDropped(sides []side, used []int) {
	log := monitoring.WithComponent("merge")
	for i, s := range sides {
		if used[i] > 0 || s.in.Array.Len() == s.in.Array.Missing() {
			continue
		}
		extra := onlyIn(sides[1-i].in.Node, s.in.Node)
		if len(extra) == 0 {
			continue
		}
		log.WithField("input", s.name).Warnf("all %d computed cells dropped: keys %s are set only in the other input",
			s.in.Array.Len()-s.in.Array.Missing(), strings.Join(extra, ", "))
	}
}

// onlyIn lists the non-exempt keys of n missing from other.
func onlyIn(n, other *config.Node) []string {
	var out []string
	for _, key := range n.Keys() {
		if !config.IsExempt(key) && !other.Has(key) {
			out = append(out, key)
		}
	}
	return out
}

// lookup reads the record of concrete node c from in. The boolean is false
// when c lies outside in's sweep space; the record is nil when c is inside
// it but was never computed.
func lookup(in Input, c *config.Node) (grid.Result, bool, error) {
	if !in.Node.Reachable(c) {
		return nil, false, nil
	}
	coord, err := grid.Locate(in.Array.Axes, c, nil)
	var nf *grid.CoordinateNotFoundError
	if errors.As(err, &nf) && exemptAxis(in.Array.Axes, nf.Axis) {
		// Exempt values keep the first input's; the other side has none
		// of its own for this config.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	off, err := in.Array.Offset(coord)
	if err != nil {
		return nil, false, err
	}
	if !in.Array.Computed(off) {
		return nil, true, nil
	}
	return in.Array.Record(off), true, nil
}

func exemptAxis(axes []config.Axis, name string) bool {
	for _, a := range axes {
		if a.Name == name {
			return config.IsExempt(a.Path)
		}
	}
	return false
}
