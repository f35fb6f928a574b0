// Package checkpoint persists partially computed result arrays so an
// interrupted sweep can resume without repeating completed evaluations.
package checkpoint

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
	"github.com/banshee-data/paramsweep/internal/version"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// FormatVersion stamps every checkpoint blob. Blobs carrying any other
// stamp are rejected.
const FormatVersion = "paramsweep.checkpoint/v1"

// SchemaError reports a checkpoint that cannot be used for the current
// sweep: unknown format, malformed content, or axes that differ from the
// enumeration being resumed.
type SchemaError struct {
	SubStudy string
	Reason   string
}

func (e *SchemaError) Error() string {
	if e.SubStudy == "" {
		return "checkpoint schema: " + e.Reason
	}
	return fmt.Sprintf("checkpoint schema for %q: %s", e.SubStudy, e.Reason)
}

// Encode serialises arr into a self-describing binary blob.
func Encode(arr *grid.Array) ([]byte, error) {
	axes := make([]*structpb.Value, 0, len(arr.Axes))
	for _, a := range arr.Axes {
		av, err := encodeAxis(a)
		if err != nil {
			return nil, err
		}
		axes = append(axes, structpb.NewStructValue(av))
	}

	order := arr.FieldNames()
	fieldNames := make([]*structpb.Value, len(order))
	cells := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(order))}
	for i, field := range order {
		fieldNames[i] = structpb.NewStringValue(field)
		col := arr.Fields[field]
		vals := make([]*structpb.Value, len(col))
		for j, v := range col {
			vals[j] = structpb.NewNumberValue(v)
		}
		cells.Fields[field] = structpb.NewListValue(&structpb.ListValue{Values: vals})
	}
	computed := make([]*structpb.Value, arr.Len())
	for off := range computed {
		computed[off] = structpb.NewBoolValue(arr.Computed(off))
	}

	doc := &structpb.Struct{Fields: map[string]*structpb.Value{
		"format":    structpb.NewStringValue(FormatVersion),
		"producer":  structpb.NewStringValue(version.Producer()),
		"sub_study": structpb.NewStringValue(arr.SubStudy),
		"axes":      structpb.NewListValue(&structpb.ListValue{Values: axes}),
		"fields":    structpb.NewListValue(&structpb.ListValue{Values: fieldNames}),
		"cells":     structpb.NewStructValue(cells),
		"computed":  structpb.NewListValue(&structpb.ListValue{Values: computed}),
	}}
	return proto.MarshalOptions{Deterministic: true}.Marshal(doc)
}

func encodeAxis(a config.Axis) (*structpb.Struct, error) {
	guards := make([]*structpb.Value, len(a.Guards))
	for i, g := range a.Guards {
		guards[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"path":   structpb.NewStringValue(g.Path),
			"branch": structpb.NewStringValue(g.Branch),
		}})
	}
	values := make([]*structpb.Value, len(a.Values))
	for i, v := range a.Values {
		ev, err := encodeValue(a.Kind, v)
		if err != nil {
			return nil, fmt.Errorf("axis %q: %w", a.Name, err)
		}
		values[i] = ev
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":   structpb.NewStringValue(a.Name),
		"path":   structpb.NewStringValue(a.Path),
		"kind":   structpb.NewStringValue(a.Kind.String()),
		"branch": structpb.NewBoolValue(a.Branch),
		"guards": structpb.NewListValue(&structpb.ListValue{Values: guards}),
		"values": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}, nil
}

// encodeValue stores ints as decimal strings since protobuf numbers are
// doubles.
func encodeValue(k config.Kind, v any) (*structpb.Value, error) {
	switch x := v.(type) {
	case int64:
		if k != config.KindInt {
			break
		}
		return structpb.NewStringValue(strconv.FormatInt(x, 10)), nil
	case float64:
		return structpb.NewNumberValue(x), nil
	case bool:
		return structpb.NewBoolValue(x), nil
	case string:
		return structpb.NewStringValue(x), nil
	}
	return nil, fmt.Errorf("cannot encode %T value of %s axis", v, k)
}

// Decode parses a blob written by Encode.
func Decode(data []byte) (*grid.Array, error) {
	doc := &structpb.Struct{}
	if err := proto.Unmarshal(data, doc); err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("unreadable blob: %v", err)}
	}
	f := doc.GetFields()
	if got := f["format"].GetStringValue(); got != FormatVersion {
		return nil, &SchemaError{Reason: fmt.Sprintf("format %q, want %q", got, FormatVersion)}
	}
	sub := f["sub_study"].GetStringValue()
	bad := func(format string, args ...any) error {
		return &SchemaError{SubStudy: sub, Reason: fmt.Sprintf(format, args...)}
	}

	var axes []config.Axis
	for i, v := range f["axes"].GetListValue().GetValues() {
		a, err := decodeAxis(v.GetStructValue())
		if err != nil {
			return nil, bad("axis %d: %v", i, err)
		}
		axes = append(axes, a)
	}

	arr := grid.New(sub, axes)
	cells := f["cells"].GetStructValue().GetFields()
	for _, fv := range f["fields"].GetListValue().GetValues() {
		field := fv.GetStringValue()
		col, ok := cells[field]
		if !ok {
			return nil, bad("field %q has no cells", field)
		}
		raw := col.GetListValue().GetValues()
		vals := make([]float64, len(raw))
		for j, c := range raw {
			n, ok := c.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, bad("field %q cell %d is not a number", field, j)
			}
			vals[j] = n.NumberValue
		}
		if err := arr.AddField(field, vals); err != nil {
			return nil, bad("%v", err)
		}
	}
	mask := f["computed"].GetListValue().GetValues()
	if len(mask) != arr.Len() {
		return nil, bad("computed mask has %d cells, array has %d", len(mask), arr.Len())
	}
	for off, m := range mask {
		if m.GetBoolValue() {
			arr.MarkComputed(off)
		}
	}
	return arr, nil
}

func decodeAxis(s *structpb.Struct) (config.Axis, error) {
	if s == nil {
		return config.Axis{}, errors.New("not a record")
	}
	f := s.GetFields()
	kind, err := config.ParseKind(f["kind"].GetStringValue())
	if err != nil {
		return config.Axis{}, err
	}
	a := config.Axis{
		Name:   f["name"].GetStringValue(),
		Path:   f["path"].GetStringValue(),
		Kind:   kind,
		Branch: f["branch"].GetBoolValue(),
	}
	for _, g := range f["guards"].GetListValue().GetValues() {
		gf := g.GetStructValue().GetFields()
		a.Guards = append(a.Guards, config.Guard{
			Path:   gf["path"].GetStringValue(),
			Branch: gf["branch"].GetStringValue(),
		})
	}
	for _, v := range f["values"].GetListValue().GetValues() {
		dv, err := decodeValue(kind, v)
		if err != nil {
			return config.Axis{}, fmt.Errorf("%q: %w", a.Name, err)
		}
		a.Values = append(a.Values, dv)
	}
	if len(a.Values) == 0 {
		return config.Axis{}, fmt.Errorf("%q has no values", a.Name)
	}
	return a, nil
}

func decodeValue(k config.Kind, v *structpb.Value) (any, error) {
	switch x := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		if k == config.KindInt {
			return strconv.ParseInt(x.StringValue, 10, 64)
		}
		if k == config.KindString {
			return x.StringValue, nil
		}
	case *structpb.Value_NumberValue:
		if k == config.KindFloat {
			return x.NumberValue, nil
		}
	case *structpb.Value_BoolValue:
		if k == config.KindBool {
			return x.BoolValue, nil
		}
	}
	return nil, fmt.Errorf("value %v does not match kind %s", v, k)
}

// CheckAxes returns a *SchemaError unless arr is indexed by exactly axes.
func CheckAxes(arr *grid.Array, axes []config.Axis) error {
	if arr.SameAxes(grid.New(arr.SubStudy, axes)) {
		return nil
	}
	return &SchemaError{SubStudy: arr.SubStudy, Reason: "axes differ from the current enumeration"}
}
