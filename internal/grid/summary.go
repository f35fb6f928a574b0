package grid

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/banshee-data/paramsweep/internal/config"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises the computed cells of one field.
type Stats struct {
	Count   int
	Missing int
	Mean    float64
	Std     float64
	Min     float64
	Max     float64
}

// Summary computes statistics over the non-sentinel cells of field.
func (a *Array) Summary(field string) (Stats, error) {
	cells, ok := a.Fields[field]
	if !ok {
		return Stats{}, fmt.Errorf("unknown field %q", field)
	}
	vals := make([]float64, 0, len(cells))
	for _, v := range cells {
		if !IsSentinel(v) {
			vals = append(vals, v)
		}
	}
	s := Stats{Count: len(vals), Missing: len(cells) - len(vals)}
	if len(vals) == 0 {
		s.Mean, s.Std, s.Min, s.Max = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return s, nil
	}
	s.Mean, s.Std = stat.MeanStdDev(vals, nil)
	if len(vals) < 2 {
		s.Std = 0
	}
	s.Min = floats.Min(vals)
	s.Max = floats.Max(vals)
	return s, nil
}

// WriteCSV writes one row per cell: the axis values of the cell followed by
// every field. Sentinel cells are left empty.
func (a *Array) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(a.Axes)+len(a.order))
	for _, ax := range a.Axes {
		header = append(header, ax.Name)
	}
	header = append(header, a.order...)
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for off := 0; off < a.size; off++ {
		coord := a.Coord(off)
		for k, ax := range a.Axes {
			row[k] = config.FormatValue(ax.Values[coord[k]])
		}
		for j, field := range a.order {
			v := a.Fields[field][off]
			if IsSentinel(v) {
				row[len(a.Axes)+j] = ""
				continue
			}
			row[len(a.Axes)+j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
