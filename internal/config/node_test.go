package config

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modelTree(t *testing.T) *Node {
	t.Helper()
	model := New("model")
	require.NoError(t, model.Insert("beta", 0.5))
	require.NoError(t, model.Insert("layers", []int{1, 2}))
	root := New("root")
	require.NoError(t, root.Insert("model", model))
	require.NoError(t, root.Insert("n", 10))
	require.NoError(t, root.Insert("seed", 42))
	return root
}

func TestNode_GetAndSet(t *testing.T) {
	root := modelTree(t)
	v, err := root.Get("model.beta")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	require.NoError(t, root.Set("model.beta", 0.7))
	f, err := root.Float("model.beta")
	require.NoError(t, err)
	assert.Equal(t, 0.7, f)

	assert.Equal(t, []string{"model", "n", "seed"}, root.Keys())
}

func TestNode_KeyNotFound(t *testing.T) {
	root := modelTree(t)
	tests := []struct {
		path    string
		segment string
	}{
		{"model.gamma", "gamma"},
		{"missing.x", "missing"},
		{"n.x", "x"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			_, err := root.Get(tc.path)
			var nf *KeyNotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, tc.path, nf.Path)
			assert.Equal(t, tc.segment, nf.Segment)
		})
	}

	var nf *KeyNotFoundError
	assert.ErrorAs(t, root.Set("model.gamma", 1), &nf)
}

func TestNode_InsertRules(t *testing.T) {
	root := modelTree(t)
	assert.Error(t, root.Insert("a.b", 1))
	assert.Error(t, root.Insert("", 1))

	var conflict *TypeConflictError
	assert.ErrorAs(t, root.Insert("n", "ten"), &conflict)

	var mapping *MappingValueError
	assert.ErrorAs(t, root.Insert("m", map[string]any{"a": 1}), &mapping)
	assert.False(t, root.Has("m"))
}

func TestNode_FailedInsertKeepsOptions(t *testing.T) {
	root := New("root")
	if err := root.Insert("x", []int{3, 1, 2}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	err := root.Insert("x", []string{"b", "a"}, WithSortAxis(false), WithForceAtomic(true))
	var conflict *TypeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Insert error = %v, want TypeConflictError", err)
	}

	p, err := root.Param("x")
	if err != nil {
		t.Fatalf("Param: %v", err)
	}
	if opts := p.Options(); !opts.SortAxis || opts.ForceAtomic {
		t.Errorf("options changed by failed insert: %+v", opts)
	}
	if !p.IsSequenceAxis() {
		t.Error("x is no longer a sweep axis")
	}
	want := []any{int64(1), int64(2), int64(3)}
	if got := p.Values(); !reflect.DeepEqual(got, want) {
		t.Errorf("Values() = %v, want %v", got, want)
	}
}

func TestNode_Lock(t *testing.T) {
	root := modelTree(t)
	root.Lock()
	assert.True(t, root.Locked())
	assert.True(t, errors.Is(root.Insert("x", 1), ErrLocked))
	assert.True(t, errors.Is(root.Set("model.beta", 1.0), ErrLocked))

	clone := root.Clone()
	assert.False(t, clone.Locked())
	assert.NoError(t, clone.Insert("x", 1))
}

func TestNode_TypedAccessors(t *testing.T) {
	root := modelTree(t)
	require.NoError(t, root.Insert("label", "demo"))
	require.NoError(t, root.Insert("on", true))

	f, err := root.Float("n")
	require.NoError(t, err)
	assert.Equal(t, 10.0, f)

	i, err := root.Int("n")
	require.NoError(t, err)
	assert.Equal(t, int64(10), i)

	_, err = root.Int("model.beta")
	assert.Error(t, err)

	s, err := root.String("label")
	require.NoError(t, err)
	assert.Equal(t, "demo", s)

	b, err := root.Bool("on")
	require.NoError(t, err)
	assert.True(t, b)

	_, err = root.String("n")
	assert.Error(t, err)

	_, err = root.Float("model.layers")
	assert.Error(t, err, "sweep axes have no single value")
}

func TestNode_Copy(t *testing.T) {
	root := modelTree(t)

	flat := root.Copy(true, "")
	assert.ElementsMatch(t, []string{"model.beta", "model.layers", "n", "seed"}, keysOf(flat))

	shallow := root.Copy(false, "")
	assert.ElementsMatch(t, []string{"model", "n", "seed"}, keysOf(shallow))

	prefixed := root.Copy(true, "run")
	assert.Contains(t, prefixed, "run.model.beta")

	require.NoError(t, flat["n"].SetValue(11))
	n, err := root.Int("n")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func keysOf(m map[string]*Parameter) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestNode_IsEquivalent(t *testing.T) {
	a := modelTree(t)
	b := modelTree(t)
	require.NoError(t, b.Set("seed", 7))
	assert.True(t, a.IsEquivalent(b), "seed is exempt")

	require.NoError(t, b.Set("model.beta", 0.6))
	assert.False(t, a.IsEquivalent(b))

	c := modelTree(t)
	require.NoError(t, c.Insert("extra", 1))
	assert.False(t, a.IsEquivalent(c))
}

func TestNode_IsSubconfig(t *testing.T) {
	small := New("s")
	small.MustInsert("x", []int{1, 2}).MustInsert("y", 5).MustInsert("seed", 1)
	large := New("l")
	large.MustInsert("x", []int{1, 2, 3}).MustInsert("y", []int{5, 6}).MustInsert("seed", 9)

	assert.True(t, small.IsSubconfig(large))
	assert.False(t, large.IsSubconfig(small))
	assert.True(t, small.IsSubconfig(small))
}

func TestNode_ReachableBranches(t *testing.T) {
	space := branchTree(t)
	seq, err := space.Enumerate()
	require.NoError(t, err)
	for _, c := range seq.All() {
		assert.True(t, space.Reachable(c.Node))
	}

	other := New("root")
	er := New("er")
	er.MustInsert("p", 0.9)
	other.MustInsert("graph", er).MustInsert("n", 10)
	assert.False(t, space.Reachable(other))
}

func TestSubStudies(t *testing.T) {
	root := New("root")
	root.MustInsert("seed", 1)
	small := New("small")
	small.MustInsert("n", []int{1, 2})
	large := New("large")
	large.MustInsert("n", []int{100, 200}).MustInsert("seed", 5)
	root.MustInsert(SubStudyKey, []any{small, large})

	subs, err := SubStudies(root)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "small", subs[0].Name())
	seed, err := subs[0].Int("seed")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seed)
	seed, err = subs[1].Int("seed")
	require.NoError(t, err)
	assert.Equal(t, int64(5), seed)

	plain := New("plain")
	plain.MustInsert("n", 1)
	subs, err = SubStudies(plain)
	require.NoError(t, err)
	assert.Equal(t, []*Node{plain}, subs)

	dup := New("root")
	dup.MustInsert(SubStudyKey, []any{New("a"), New("a")})
	_, err = SubStudies(dup)
	assert.Error(t, err)
}

func TestNode_MapRoundTrip(t *testing.T) {
	root := branchTree(t)
	back, err := FromMap(root.Name(), root.ToMap())
	require.NoError(t, err)
	assert.True(t, root.IsEquivalent(back))

	a, err := root.Axes()
	require.NoError(t, err)
	b, err := back.Axes()
	require.NoError(t, err)
	assert.Len(t, b, len(a))
}
