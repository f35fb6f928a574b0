package checkpoint

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/fsutil"
	"github.com/banshee-data/paramsweep/internal/grid"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// partialArray builds a branch sweep with every other config computed.
func partialArray(t *testing.T) (*grid.Array, *config.Sequence) {
	t.Helper()
	er := config.New("er")
	er.MustInsert("p", []float64{0.1, 0.2})
	ba := config.New("ba")
	ba.MustInsert("m", []int{1, 2, 3})
	root := config.New("graphs")
	root.MustInsert("graph", []any{er, ba}).
		MustInsert("n", []int{10, 20}).
		MustInsert("directed", []bool{false, true}).
		MustInsert("label", "x")
	seq, err := root.Enumerate()
	require.NoError(t, err)

	raw := make(map[string]grid.Result)
	for i, c := range seq.All() {
		if i%2 == 0 {
			raw[c.Hash()] = grid.Result{"edges": float64(i), "density": float64(i) / 10}
		}
	}
	arr, err := grid.Format("graphs", seq, raw)
	require.NoError(t, err)
	require.Positive(t, arr.Missing())
	return arr, seq
}

func assertSameArray(t *testing.T, want, got *grid.Array) {
	t.Helper()
	assert.Equal(t, want.SubStudy, got.SubStudy)
	assert.True(t, want.SameAxes(got), "axes differ")
	assert.Equal(t, want.FieldNames(), got.FieldNames())
	if diff := cmp.Diff(want.Fields, got.Fields, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", diff)
	}
	for off := 0; off < want.Len(); off++ {
		assert.Equal(t, want.Computed(off), got.Computed(off), "computed at %d", off)
	}
}

func TestEncodeDecode(t *testing.T) {
	arr, seq := partialArray(t)
	data, err := Encode(arr)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assertSameArray(t, arr, got)
	require.NoError(t, CheckAxes(got, seq.Axes()))

	// Encoding is deterministic.
	again, err := Encode(arr)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestEncodeDecode_NaNResultsStayComputed(t *testing.T) {
	root := config.New("nan")
	root.MustInsert("x", []int{1, 2, 3})
	seq, err := root.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	arr := grid.New("nan", seq.Axes())
	arr.SetOffset(0, grid.Result{"v": math.NaN()})
	arr.SetOffset(1, grid.Result{})

	data, err := Encode(arr)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []bool{true, true, false}
	for off, w := range want {
		if got.Computed(off) != w {
			t.Errorf("Computed(%d) = %v, want %v", off, got.Computed(off), w)
		}
	}
	if got.Missing() != 1 {
		t.Errorf("Missing() = %d, want 1", got.Missing())
	}

	doc := &structpb.Struct{}
	if err := proto.Unmarshal(data, doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	delete(doc.Fields, "computed")
	short, err := proto.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var se *SchemaError
	if _, err := Decode(short); !errors.As(err, &se) {
		t.Errorf("Decode without mask: err = %v, want SchemaError", err)
	}
}

func TestDecode_RejectsOtherFormat(t *testing.T) {
	arr, _ := partialArray(t)
	data, err := Encode(arr)
	require.NoError(t, err)

	doc := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(data, doc))
	doc.Fields["format"] = structpb.NewStringValue("paramsweep.checkpoint/v0")
	stale, err := proto.Marshal(doc)
	require.NoError(t, err)

	_, err = Decode(stale)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Reason, "v0")

	_, err = Decode([]byte("not a checkpoint"))
	assert.ErrorAs(t, err, &se)
}

func TestCheckAxes_Mismatch(t *testing.T) {
	arr, _ := partialArray(t)
	other := config.New("graphs")
	other.MustInsert("n", []int{10, 20, 30})
	seq, err := other.Enumerate()
	require.NoError(t, err)

	var se *SchemaError
	assert.ErrorAs(t, CheckAxes(arr, seq.Axes()), &se)
}

func TestStore_ReadWrite(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	s := NewStore(mem)

	_, ok, err := s.Read("ckpt", "graphs")
	require.NoError(t, err)
	assert.False(t, ok)

	arr, _ := partialArray(t)
	require.NoError(t, s.Write("ckpt", "graphs", arr))
	assert.Equal(t, []string{filepath.Join("ckpt", "graphs.ckpt")}, mem.Files())

	got, ok, err := s.Read("ckpt", "graphs")
	require.NoError(t, err)
	require.True(t, ok)
	assertSameArray(t, arr, got)

	subs, err := s.List("ckpt")
	require.NoError(t, err)
	assert.Equal(t, []string{"graphs"}, subs)

	subs, err = s.List("elsewhere")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestStore_FailedWriteKeepsPrevious(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	s := NewStore(mem)
	arr, _ := partialArray(t)
	require.NoError(t, s.Write("ckpt", "graphs", arr))

	updated := arr.Clone()
	updated.SetOffset(1, grid.Result{"edges": 99})

	boom := errors.New("power cut")
	mem.FailOn = func(op, name string) error {
		if op == "rename" {
			return boom
		}
		return nil
	}
	err := s.Write("ckpt", "graphs", updated)
	require.ErrorIs(t, err, boom)

	// No temp file left behind; old checkpoint still readable.
	assert.Equal(t, []string{filepath.Join("ckpt", "graphs.ckpt")}, mem.Files())
	got, ok, err := s.Read("ckpt", "graphs")
	require.NoError(t, err)
	require.True(t, ok)
	assertSameArray(t, arr, got)
}

func TestStore_OSFileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ckpt")
	s := NewStore(nil)
	arr, _ := partialArray(t)
	require.NoError(t, s.Write(dir, "graphs", arr))

	got, ok, err := s.Read(dir, "graphs")
	require.NoError(t, err)
	require.True(t, ok)
	assertSameArray(t, arr, got)
}

func TestStore_InvalidName(t *testing.T) {
	s := NewStore(fsutil.NewMemoryFileSystem())
	arr, _ := partialArray(t)
	for _, name := range []string{"", "..", "a/b"} {
		assert.Error(t, s.Write("ckpt", name, arr), name)
		_, _, err := s.Read("ckpt", name)
		assert.Error(t, err, name)
	}
}

func TestStore_WrongSubStudy(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	s := NewStore(mem)
	arr, _ := partialArray(t)
	data, err := Encode(arr)
	require.NoError(t, err)
	require.NoError(t, mem.MkdirAll("ckpt", 0o755))
	require.NoError(t, mem.WriteFile(s.Path("ckpt", "other"), data, 0o644))

	_, _, err = s.Read("ckpt", "other")
	var se *SchemaError
	assert.ErrorAs(t, err, &se)
}
