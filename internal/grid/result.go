package grid

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/banshee-data/paramsweep/internal/config"
)

// Result is the output of one evaluation: field name to scalar.
type Result map[string]float64

// Names returns the field names in sorted order.
func (r Result) Names() []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// FlattenRecord converts a scalar or small record into dotted scalar fields.
// Maps nest with the separator, lists are indexed, bools become 0 or 1.
func FlattenRecord(name string, v any) (Result, error) {
	out := make(Result)
	if err := flattenInto(out, name, v); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out Result, name string, v any) error {
	switch x := v.(type) {
	case float64:
		out[name] = x
	case float32:
		out[name] = float64(x)
	case int:
		out[name] = float64(x)
	case int64:
		out[name] = float64(x)
	case int32:
		out[name] = float64(x)
	case bool:
		out[name] = 0
		if x {
			out[name] = 1
		}
	case map[string]float64:
		for k, f := range x {
			out[child(name, k)] = f
		}
	case map[string]any:
		for k, e := range x {
			if err := flattenInto(out, child(name, k), e); err != nil {
				return err
			}
		}
	case []float64:
		for i, f := range x {
			out[child(name, strconv.Itoa(i))] = f
		}
	case []any:
		for i, e := range x {
			if err := flattenInto(out, child(name, strconv.Itoa(i)), e); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("field %q: unsupported result value %T", name, v)
	}
	return nil
}

func child(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + config.Separator + key
}
