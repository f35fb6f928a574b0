package config

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Kind is the inferred element type of a parameter value.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindNode
)

var kindNames = map[Kind]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindInt:     "int",
	KindFloat:   "float",
	KindString:  "string",
	KindNode:    "node",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s && k != KindInvalid {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown kind %q", s)
}

// normalize converts one atomic value to its canonical Go representation
// (bool, int64, float64, string or *Node) and reports its kind.
func normalize(param string, v any) (any, Kind, error) {
	switch x := v.(type) {
	case nil:
		return nil, KindInvalid, fmt.Errorf("parameter %q: nil value", param)
	case bool:
		return x, KindBool, nil
	case int:
		return int64(x), KindInt, nil
	case int8:
		return int64(x), KindInt, nil
	case int16:
		return int64(x), KindInt, nil
	case int32:
		return int64(x), KindInt, nil
	case int64:
		return x, KindInt, nil
	case uint:
		return normalizeUint(param, uint64(x))
	case uint8:
		return int64(x), KindInt, nil
	case uint16:
		return int64(x), KindInt, nil
	case uint32:
		return int64(x), KindInt, nil
	case uint64:
		return normalizeUint(param, x)
	case float32:
		return float64(x), KindFloat, nil
	case float64:
		return x, KindFloat, nil
	case string:
		return x, KindString, nil
	case *Node:
		if x == nil {
			return nil, KindInvalid, fmt.Errorf("parameter %q: nil config node", param)
		}
		return x, KindNode, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map {
		return nil, KindInvalid, &MappingValueError{Param: param, Type: rv.Type().String()}
	}
	return nil, KindInvalid, fmt.Errorf("parameter %q: unsupported value type %T", param, v)
}

func normalizeUint(param string, x uint64) (any, Kind, error) {
	if x > math.MaxInt64 {
		return nil, KindInvalid, fmt.Errorf("parameter %q: value %d overflows int64", param, x)
	}
	return int64(x), KindInt, nil
}

// sequenceElems returns the elements of an ordered, non-string container.
func sequenceElems(v any) ([]any, bool) {
	switch x := v.(type) {
	case nil, string:
		return nil, false
	case []any:
		out := make([]any, len(x))
		copy(out, x)
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// unify merges the kinds of two elements of the same new value. Ints and
// floats unify to float.
func unify(a, b Kind) (Kind, bool) {
	switch {
	case a == KindInvalid:
		return b, true
	case a == b:
		return a, true
	case a == KindFloat && b == KindInt, a == KindInt && b == KindFloat:
		return KindFloat, true
	}
	return a, false
}

// widen checks a new value kind against the kind recorded on a parameter.
// A float parameter accepts ints; the reverse is a conflict.
func widen(recorded, got Kind) (Kind, bool) {
	switch {
	case recorded == KindInvalid:
		return got, true
	case got == KindInvalid:
		return recorded, true
	case recorded == got:
		return got, true
	case recorded == KindFloat && got == KindInt:
		return KindFloat, true
	}
	return recorded, false
}

func coerce(v any, k Kind) any {
	if k == KindFloat {
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	}
	return v
}

// compareValues orders two scalar values of the same kind.
func compareValues(a, b any) int {
	switch x := a.(type) {
	case bool:
		y, _ := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case string:
		y, _ := b.(string)
		return strings.Compare(x, y)
	}
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if !aok || !bok {
		return 0
	}
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}

// valuesEqual compares two normalized values. Ints and floats compare
// numerically, lists element-wise and nodes by name and content.
func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Node:
		y, ok := b.(*Node)
		if !ok {
			return false
		}
		return x == y || (x.name == y.name && x.equal(y, false))
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	}
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	if math.IsNaN(fa) && math.IsNaN(fb) {
		return true
	}
	return fa == fb
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}

// FormatValue renders a normalized value as text. Nodes render as their name.
func FormatValue(v any) string {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case *Node:
		return x.name
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprint(v)
}
