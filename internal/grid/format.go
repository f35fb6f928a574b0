package grid

import (
	"fmt"

	"github.com/banshee-data/paramsweep/internal/config"
)

// CoordinateNotFoundError reports a concrete value missing from its axis.
// It means enumeration and results disagree and is never recovered.
type CoordinateNotFoundError struct {
	Axis  string
	Value any
}

func (e *CoordinateNotFoundError) Error() string {
	return fmt.Sprintf("value %s not found on axis %q", config.FormatValue(e.Value), e.Axis)
}

// Locate computes the coordinate of the concrete node n by finding each
// axis value in that axis's ordered values. Axes whose branch guards do not
// hold in n take the matching fallback index, or 0 without one.
func Locate(axes []config.Axis, n *config.Node, fallback []int) ([]int, error) {
	coord := make([]int, len(axes))
	for k, a := range axes {
		v, active, err := a.ValueIn(n)
		if err != nil {
			return nil, err
		}
		if !active {
			if len(fallback) == len(axes) {
				coord[k] = fallback[k]
			}
			continue
		}
		idx := a.IndexOf(v)
		if idx < 0 {
			return nil, &CoordinateNotFoundError{Axis: a.Name, Value: v}
		}
		coord[k] = idx
	}
	return coord, nil
}

// Format places raw results, keyed by concrete content hash, into a new
// array over the axes of seq. Configs without a raw result stay sentinel.
func Format(subStudy string, seq *config.Sequence, raw map[string]Result) (*Array, error) {
	arr := New(subStudy, seq.Axes())
	for _, c := range seq.All() {
		r, ok := raw[c.Hash()]
		if !ok {
			continue
		}
		coord, err := Locate(arr.Axes, c.Node, c.Coord)
		if err != nil {
			return nil, err
		}
		if err := arr.Set(coord, r); err != nil {
			return nil, err
		}
	}
	return arr, nil
}

// Record is one concrete configuration with its stored result.
type Record struct {
	Index  int
	Hash   string
	Coord  []int
	Point  []any
	Result Result

	done bool
}

// Computed reports whether the config was evaluated.
func (r Record) Computed() bool { return r.done }

// Flatten reads arr back in the enumeration order of seq.
func Flatten(arr *Array, seq *config.Sequence) ([]Record, error) {
	out := make([]Record, 0, seq.Len())
	for i, c := range seq.All() {
		coord, err := Locate(arr.Axes, c.Node, c.Coord)
		if err != nil {
			return nil, err
		}
		off, err := arr.Offset(coord)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{
			Index:  i,
			Hash:   c.Hash(),
			Coord:  coord,
			Point:  c.Point,
			Result: arr.Record(off),
			done:   arr.Computed(off),
		})
	}
	return out, nil
}
