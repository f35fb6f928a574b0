// Package grid reshapes keyed evaluation results into dense arrays indexed
// by sweep coordinates, and reads them back in enumeration order.
package grid

import (
	"fmt"
	"math"
	"slices"

	"github.com/banshee-data/paramsweep/internal/config"
)

// Sentinel fills the fields of a cell that was never computed.
var Sentinel = math.NaN()

// IsSentinel reports whether v is the sentinel value. An evaluator may
// return NaN itself, so a cell's computed state lives in the array's mask.
func IsSentinel(v float64) bool { return math.IsNaN(v) }

// Array is the dense result store of one sub-study: one row-major slice per
// field, one dimension per sweep axis. A per-cell mask records which
// configs were evaluated, whatever values they returned.
type Array struct {
	SubStudy string
	Axes     []config.Axis
	Fields   map[string][]float64

	order []string
	shape []int
	size  int
	done  []bool
}

// New allocates an empty array over axes.
func New(subStudy string, axes []config.Axis) *Array {
	shape := make([]int, len(axes))
	size := 1
	for i, a := range axes {
		shape[i] = a.Len()
		size *= shape[i]
	}
	return &Array{
		SubStudy: subStudy,
		Axes:     axes,
		Fields:   make(map[string][]float64),
		shape:    shape,
		size:     size,
		done:     make([]bool, size),
	}
}

func (a *Array) Shape() []int { return slices.Clone(a.shape) }

// Len is the number of cells per field.
func (a *Array) Len() int { return a.size }

// FieldNames returns the fields in the order they were first written.
func (a *Array) FieldNames() []string { return slices.Clone(a.order) }

// EnsureField returns the cells of field, allocating them as sentinels on
// first use.
func (a *Array) EnsureField(field string) []float64 {
	if cells, ok := a.Fields[field]; ok {
		return cells
	}
	cells := make([]float64, a.size)
	for i := range cells {
		cells[i] = Sentinel
	}
	a.Fields[field] = cells
	a.order = append(a.order, field)
	return cells
}

// AddField installs a full column of cells, replacing any existing one.
func (a *Array) AddField(field string, cells []float64) error {
	if len(cells) != a.size {
		return fmt.Errorf("field %q has %d cells, array has %d", field, len(cells), a.size)
	}
	if _, ok := a.Fields[field]; !ok {
		a.order = append(a.order, field)
	}
	a.Fields[field] = cells
	return nil
}

// Offset converts a coordinate to a row-major cell offset.
func (a *Array) Offset(coord []int) (int, error) {
	if len(coord) != len(a.shape) {
		return 0, fmt.Errorf("coordinate has %d dimensions, array has %d", len(coord), len(a.shape))
	}
	off := 0
	for k, idx := range coord {
		if idx < 0 || idx >= a.shape[k] {
			return 0, fmt.Errorf("index %d out of range for axis %q of length %d", idx, a.Axes[k].Name, a.shape[k])
		}
		off = off*a.shape[k] + idx
	}
	return off, nil
}

// Coord converts a cell offset back to a coordinate.
func (a *Array) Coord(offset int) []int {
	coord := make([]int, len(a.shape))
	for k := len(a.shape) - 1; k >= 0; k-- {
		coord[k] = offset % a.shape[k]
		offset /= a.shape[k]
	}
	return coord
}

// At returns the value of field at coord, or the sentinel when the field
// was never written.
func (a *Array) At(field string, coord []int) (float64, error) {
	off, err := a.Offset(coord)
	if err != nil {
		return Sentinel, err
	}
	cells, ok := a.Fields[field]
	if !ok {
		return Sentinel, nil
	}
	return cells[off], nil
}

// Set writes every field of r at coord.
func (a *Array) Set(coord []int, r Result) error {
	off, err := a.Offset(coord)
	if err != nil {
		return err
	}
	a.SetOffset(off, r)
	return nil
}

// SetOffset writes every field of r at a cell offset and marks the cell
// computed, also when r is empty or NaN. New fields are added in sorted
// order so the field order does not depend on map iteration.
func (a *Array) SetOffset(off int, r Result) {
	for _, field := range r.Names() {
		a.EnsureField(field)[off] = r[field]
	}
	a.done[off] = true
}

// MarkComputed flags a cell as evaluated without writing any field.
func (a *Array) MarkComputed(off int) { a.done[off] = true }

// Record returns every field at a cell offset.
func (a *Array) Record(off int) Result {
	r := make(Result, len(a.Fields))
	for field, cells := range a.Fields {
		r[field] = cells[off]
	}
	return r
}

// Computed reports whether the cell at the offset was evaluated.
func (a *Array) Computed(off int) bool { return a.done[off] }

// Missing counts the cells never evaluated.
func (a *Array) Missing() int {
	n := 0
	for _, d := range a.done {
		if !d {
			n++
		}
	}
	return n
}

// SameAxes reports whether b is indexed by the same axes as a.
func (a *Array) SameAxes(b *Array) bool {
	return slices.EqualFunc(a.Axes, b.Axes, func(x, y config.Axis) bool { return x.Equal(y) })
}

// Clone deep-copies the cells. Axes are shared.
func (a *Array) Clone() *Array {
	out := New(a.SubStudy, a.Axes)
	for _, field := range a.order {
		out.Fields[field] = slices.Clone(a.Fields[field])
	}
	out.order = slices.Clone(a.order)
	copy(out.done, a.done)
	return out
}
