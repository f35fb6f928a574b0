package grid

import (
	"bytes"
	"math"
	"testing"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoAxisSeq(t *testing.T) *config.Sequence {
	t.Helper()
	root := config.New("study")
	root.MustInsert("a", []int{0, 1, 2}).MustInsert("b", []float64{0.5, 1.5})
	seq, err := root.Enumerate()
	require.NoError(t, err)
	return seq
}

func branchSeq(t *testing.T) *config.Sequence {
	t.Helper()
	er := config.New("er")
	er.MustInsert("p", []float64{0.1, 0.2})
	ba := config.New("ba")
	ba.MustInsert("m", []int{1, 2, 3})
	root := config.New("study")
	root.MustInsert("graph", []any{er, ba}).MustInsert("n", []int{10, 20})
	seq, err := root.Enumerate()
	require.NoError(t, err)
	return seq
}

// rawFor evaluates a deterministic function of the concrete node.
func rawFor(t *testing.T, seq *config.Sequence) map[string]Result {
	t.Helper()
	raw := make(map[string]Result)
	for _, c := range seq.All() {
		r := Result{}
		for path, p := range c.Node.Copy(true, "") {
			if f, ok := p.Value().(float64); ok {
				r[path] = f
			}
			if i, ok := p.Value().(int64); ok {
				r[path] = float64(i)
			}
		}
		raw[c.Hash()] = r
	}
	return raw
}

func TestFormat_RoundTrip(t *testing.T) {
	seq := twoAxisSeq(t)
	raw := rawFor(t, seq)
	arr, err := Format("study", seq, raw)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, arr.Shape())
	assert.Equal(t, 0, arr.Missing())

	records, err := Flatten(arr, seq)
	require.NoError(t, err)
	require.Len(t, records, seq.Len())
	for i, rec := range records {
		c := seq.At(i)
		assert.Equal(t, c.Coord, rec.Coord)
		assert.Equal(t, c.Hash(), rec.Hash)
		assert.Equal(t, raw[c.Hash()], rec.Result)
		for k, ax := range arr.Axes {
			assert.Equal(t, c.Point[k], ax.Values[rec.Coord[k]])
		}
	}
}

func TestFormat_BranchesFillEveryCell(t *testing.T) {
	seq := branchSeq(t)
	arr, err := Format("study", seq, rawFor(t, seq))
	require.NoError(t, err)
	assert.Equal(t, seq.Len(), arr.Len())
	assert.Equal(t, 0, arr.Missing())

	// Sibling-only fields are sentinel where their branch is not chosen.
	coord := []int{0, 0, 0, 0} // graph=er
	m, err := arr.At("graph.m", coord)
	require.NoError(t, err)
	assert.True(t, IsSentinel(m))
	p, err := arr.At("graph.p", coord)
	require.NoError(t, err)
	assert.Equal(t, 0.1, p)
}

func TestFormat_PartialResults(t *testing.T) {
	seq := twoAxisSeq(t)
	c := seq.At(3)
	arr, err := Format("study", seq, map[string]Result{c.Hash(): {"y": 7}})
	require.NoError(t, err)
	assert.Equal(t, seq.Len()-1, arr.Missing())

	off, err := arr.Offset(c.Coord)
	require.NoError(t, err)
	assert.True(t, arr.Computed(off))
	assert.Equal(t, 3, off)
}

func TestLocate_CoordinateNotFound(t *testing.T) {
	seq := twoAxisSeq(t)
	stray := config.New("study")
	stray.MustInsert("a", 5).MustInsert("b", 0.5)

	_, err := Locate(seq.Axes(), stray, nil)
	var nf *CoordinateNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "a", nf.Axis)
	assert.Equal(t, int64(5), nf.Value)
}

func TestArray_OffsetAndCoord(t *testing.T) {
	arr := New("s", twoAxisSeq(t).Axes())
	for off := 0; off < arr.Len(); off++ {
		got, err := arr.Offset(arr.Coord(off))
		require.NoError(t, err)
		assert.Equal(t, off, got)
	}
	_, err := arr.Offset([]int{3, 0})
	assert.Error(t, err)
	_, err = arr.Offset([]int{0})
	assert.Error(t, err)

	v, err := arr.At("unknown", []int{0, 0})
	require.NoError(t, err)
	assert.True(t, IsSentinel(v))
}

func TestArray_CloneAndSameAxes(t *testing.T) {
	seq := twoAxisSeq(t)
	arr, err := Format("study", seq, rawFor(t, seq))
	require.NoError(t, err)

	clone := arr.Clone()
	assert.True(t, arr.SameAxes(clone))
	assert.Equal(t, arr.FieldNames(), clone.FieldNames())
	require.NoError(t, clone.Set([]int{0, 0}, Result{"a": 99}))
	a, err := arr.At("a", []int{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, a)

	other := New("study", branchSeq(t).Axes())
	assert.False(t, arr.SameAxes(other))

	if diff := cmp.Diff(arr.Fields["b"], clone.Fields["b"], cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("clone cells mismatch (-want +got):\n%s", diff)
	}
}

func TestArray_AddField(t *testing.T) {
	arr := New("s", twoAxisSeq(t).Axes())
	require.NoError(t, arr.AddField("y", make([]float64, arr.Len())))
	assert.Equal(t, []string{"y"}, arr.FieldNames())
	assert.Error(t, arr.AddField("z", []float64{1}))
}

func TestSummary(t *testing.T) {
	root := config.New("s")
	root.MustInsert("x", []int{1, 2, 3, 4})
	seq, err := root.Enumerate()
	require.NoError(t, err)
	arr := New("s", seq.Axes())
	for i, v := range []float64{1, 2, 3} {
		arr.SetOffset(i, Result{"y": v})
	}

	s, err := arr.Summary("y")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 1, s.Missing)
	assert.InDelta(t, 2.0, s.Mean, 1e-12)
	assert.InDelta(t, 1.0, s.Std, 1e-12)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 3.0, s.Max)

	_, err = arr.Summary("nope")
	assert.Error(t, err)

	arr.EnsureField("empty")
	s, err = arr.Summary("empty")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Count)
	assert.True(t, math.IsNaN(s.Mean))
}

func TestWriteCSV(t *testing.T) {
	root := config.New("s")
	root.MustInsert("x", []int{1, 2})
	seq, err := root.Enumerate()
	require.NoError(t, err)
	arr := New("s", seq.Axes())
	arr.SetOffset(0, Result{"y": 10})

	var buf bytes.Buffer
	require.NoError(t, arr.WriteCSV(&buf))
	assert.Equal(t, "x,y\n1,10\n2,\n", buf.String())
}

func TestFlattenRecord(t *testing.T) {
	got, err := FlattenRecord("", map[string]any{
		"loss":  0.5,
		"stats": map[string]any{"mean": 1, "ok": true},
		"hist":  []float64{1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, Result{"loss": 0.5, "stats.mean": 1, "stats.ok": 1, "hist.0": 1, "hist.1": 2}, got)

	_, err = FlattenRecord("bad", "text")
	assert.Error(t, err)
}

func TestArray_ComputedMask(t *testing.T) {
	root := config.New("s")
	root.MustInsert("x", []int{1, 2, 3})
	seq, err := root.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	arr := New("s", seq.Axes())
	arr.SetOffset(0, Result{"y": math.NaN()})
	arr.SetOffset(1, Result{})

	clone := arr.Clone()
	for _, a := range []*Array{arr, clone} {
		if !a.Computed(0) || !a.Computed(1) || a.Computed(2) {
			t.Errorf("computed = %v %v %v, want true true false", a.Computed(0), a.Computed(1), a.Computed(2))
		}
		if a.Missing() != 1 {
			t.Errorf("Missing() = %d, want 1", a.Missing())
		}
	}

	records, err := Flatten(arr, seq)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if !records[0].Computed() || records[2].Computed() {
		t.Errorf("record computed = %v/%v, want true/false", records[0].Computed(), records[2].Computed())
	}
}
