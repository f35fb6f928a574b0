// Package worker evaluates configurations on remote processes over gRPC.
//
// The service has a single unary method. Requests and responses are
// google.protobuf.Struct messages so no generated code is needed:
//
//	request:  {"model": "normal", "name": "study", "config": {...}}
//	response: {"fields": {"mean": 0.1, ...}}
//
// Numbers cross the wire as doubles. Models read integer keys with
// config.Node.Int, which accepts whole floats.
package worker

import (
	"errors"
	"fmt"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName    = "paramsweep.worker.v1.Evaluator"
	evaluateMethod = "/" + serviceName + "/Evaluate"
)

// encodeConfig renders a concrete node as wire values. Lists kept whole by
// force_atomic are sent as parameter declarations so the receiver does not
// turn them back into axes.
func encodeConfig(n *config.Node) (map[string]any, error) {
	out := make(map[string]any, n.Len())
	for _, key := range n.Keys() {
		p, err := n.Param(key)
		if err != nil {
			return nil, err
		}
		var v any = p.Value()
		if p.Kind() == config.KindNode {
			if v, err = encodeChildren(p); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
		}
		if p.IsSequence() && p.Options().ForceAtomic {
			v = map[string]any{"values": v, "force_atomic": true}
		}
		out[key] = v
	}
	return out, nil
}

func encodeChildren(p *config.Parameter) (any, error) {
	children := p.Values()
	if !p.IsSequence() {
		return encodeConfig(children[0].(*config.Node))
	}
	list := make([]any, len(children))
	for i, v := range children {
		c := v.(*config.Node)
		m, err := encodeConfig(c)
		if err != nil {
			return nil, err
		}
		m[config.NameKey] = c.Name()
		list[i] = m
	}
	return list, nil
}

func newRequest(model string, c *config.Concrete) (*structpb.Struct, error) {
	cfg, err := encodeConfig(c.Node)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"model":  model,
		"name":   c.Node.Name(),
		"config": cfg,
	})
}

type request struct {
	model string
	node  *config.Node
}

func parseRequest(req *structpb.Struct) (request, error) {
	f := req.GetFields()
	model := f["model"].GetStringValue()
	if model == "" {
		return request{}, errors.New("request names no model")
	}
	cfg := f["config"].GetStructValue()
	if cfg == nil {
		return request{}, errors.New("request carries no config")
	}
	n, err := config.FromMap(f["name"].GetStringValue(), cfg.AsMap())
	if err != nil {
		return request{}, err
	}
	return request{model: model, node: n}, nil
}

func newResponse(r grid.Result) *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(r))
	for name, v := range r {
		fields[name] = structpb.NewNumberValue(v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"fields": structpb.NewStructValue(&structpb.Struct{Fields: fields}),
	}}
}

func parseResponse(resp *structpb.Struct) (grid.Result, error) {
	fields := resp.GetFields()["fields"].GetStructValue()
	if fields == nil {
		return nil, errors.New("response carries no fields")
	}
	out := make(grid.Result, len(fields.GetFields()))
	for name, v := range fields.GetFields() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("field %q: not a number", name)
		}
		out[name] = n.NumberValue
	}
	return out, nil
}
