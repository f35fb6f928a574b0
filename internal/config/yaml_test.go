package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMarshalYAML_RoundTrip(t *testing.T) {
	orig, err := Decode(FormatYAML, []byte(yamlStudy), "")
	require.NoError(t, err)
	require.NoError(t, orig.Insert("shape", []int{3, 4}, WithForceAtomic(true)))
	require.NoError(t, orig.Insert("label", "true"))
	require.NoError(t, orig.Insert("scale", 2.0))

	data, err := yaml.Marshal(orig)
	require.NoError(t, err)

	back, err := Decode(FormatYAML, data, "")
	require.NoError(t, err, "output:\n%s", data)
	assert.True(t, orig.IsEquivalent(back), "output:\n%s", data)
	assert.Equal(t, "demo", back.Name())
	assert.Equal(t, orig.Keys(), back.Keys())

	wantAxes, err := orig.Axes()
	require.NoError(t, err)
	gotAxes, err := back.Axes()
	require.NoError(t, err)
	require.Len(t, gotAxes, len(wantAxes))
	for i := range wantAxes {
		assert.True(t, wantAxes[i].Equal(gotAxes[i]), "axis %d: %v vs %v", i, wantAxes[i], gotAxes[i])
	}

	label, err := back.String("label")
	require.NoError(t, err)
	assert.Equal(t, "true", label)
	scale, err := back.Get("scale")
	require.NoError(t, err)
	assert.Equal(t, 2.0, scale)
	p, err := back.Param("tags")
	require.NoError(t, err)
	assert.False(t, p.Options().SortAxis)
	assert.Equal(t, []any{"b", "a"}, p.Values())
}

func TestYAMLFloat(t *testing.T) {
	tests := map[float64]string{
		1:    "1.0",
		0.25: "0.25",
		1e21: "1e+21",
		-3:   "-3.0",
	}
	for in, want := range tests {
		if got := yamlFloat(in); got != want {
			t.Errorf("yamlFloat(%v) = %q, want %q", in, got, want)
		}
	}
}
