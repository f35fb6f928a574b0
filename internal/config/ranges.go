package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxRangeValues bounds the length of a generated range.
const maxRangeValues = 10000

// RangeSpec defines a floating-point parameter range.
type RangeSpec struct {
	Min  float64
	Max  float64
	Step float64
}

// IntRangeSpec defines an integer parameter range.
type IntRangeSpec struct {
	Min  int
	Max  int
	Step int
}

// ParseRangeSpec parses a "min:max:step" string into a RangeSpec.
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}
	var vals [3]float64
	for i, name := range []string{"min", "max", "step"} {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return RangeSpec{}, fmt.Errorf("invalid %s value %q: %w", name, parts[i], err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 {
		return RangeSpec{}, fmt.Errorf("step must be positive, got %g", vals[2])
	}
	return RangeSpec{Min: vals[0], Max: vals[1], Step: vals[2]}, nil
}

// ParseIntRangeSpec parses a "min:max:step" string into an IntRangeSpec.
func ParseIntRangeSpec(s string) (IntRangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return IntRangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}
	var vals [3]int
	for i, name := range []string{"min", "max", "step"} {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return IntRangeSpec{}, fmt.Errorf("invalid %s value %q: %w", name, parts[i], err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 {
		return IntRangeSpec{}, fmt.Errorf("step must be positive, got %d", vals[2])
	}
	return IntRangeSpec{Min: vals[0], Max: vals[1], Step: vals[2]}, nil
}

// GenerateRange returns the values from min to max inclusive, stepping by
// step. It returns nil for an empty or oversized range.
func GenerateRange(min, max, step float64) []float64 {
	if step <= 0 || min > max {
		return nil
	}
	count := int(math.Floor((max-min)/step+1e-9)) + 1
	if count > maxRangeValues || count < 0 {
		return nil
	}
	result := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		// Computed from the index so rounding error does not accumulate.
		v := math.Round((min+float64(i)*step)*1e9) / 1e9
		if v <= max {
			result = append(result, v)
		}
	}
	return result
}

// GenerateIntRange returns the integers from min to max inclusive, stepping
// by step. It returns nil for an empty or oversized range.
func GenerateIntRange(min, max, step int) []int {
	if step <= 0 || min > max {
		return nil
	}
	count := (max-min)/step + 1
	if count > maxRangeValues || count < 0 {
		return nil
	}
	result := make([]int, 0, count)
	for v := min; v <= max && len(result) < count; v += step {
		result = append(result, v)
	}
	return result
}

// ParseParamList parses either a "min:max:step" range or a comma-separated
// list of scalars. Range bounds that are all integers produce ints.
func ParseParamList(s string) ([]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if vals, ok, err := expandRange(s); ok || err != nil {
		return vals, err
	}
	parts := strings.Split(s, ",")
	out := make([]any, len(parts))
	for i, part := range parts {
		out[i] = ParseScalar(part)
	}
	return out, nil
}

// ParseScalar infers a bool, int64, float64 or string from text.
func ParseScalar(s string) any {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	return s
}

// expandRange reports ok when s has the shape of a numeric range. A range
// that parses but yields no values is an error.
func expandRange(s string) ([]any, bool, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, false, nil
	}
	for _, p := range parts {
		if _, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
			return nil, false, nil
		}
	}
	if spec, err := ParseIntRangeSpec(s); err == nil {
		ints := GenerateIntRange(spec.Min, spec.Max, spec.Step)
		if len(ints) == 0 {
			return nil, true, fmt.Errorf("range %q is empty or exceeds %d values", s, maxRangeValues)
		}
		out := make([]any, len(ints))
		for i, v := range ints {
			out[i] = int64(v)
		}
		return out, true, nil
	}
	spec, err := ParseRangeSpec(s)
	if err != nil {
		return nil, true, err
	}
	floats := GenerateRange(spec.Min, spec.Max, spec.Step)
	if len(floats) == 0 {
		return nil, true, fmt.Errorf("range %q is empty or exceeds %d values", s, maxRangeValues)
	}
	out := make([]any, len(floats))
	for i, v := range floats {
		out[i] = v
	}
	return out, true, nil
}
