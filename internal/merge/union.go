// Package merge combines two independently computed sweeps into one result
// set over the union of their parameter spaces.
package merge

import (
	"fmt"

	"github.com/banshee-data/paramsweep/internal/config"
)

// Union returns a node whose sweep space covers both a and b. Scalar keys
// take the deduplicated union of both value lists, ordered per a's options.
// Branch sequences are unioned by element name, recursing into elements
// both sides share. Exempt keys keep a's value. Keys present on one side
// only are kept as they are.
func Union(a, b *config.Node) (*config.Node, error) {
	out := config.New(a.Name())
	for _, key := range a.Keys() {
		pa, _ := a.Param(key)
		if !b.Has(key) || config.IsExempt(key) {
			if err := put(out, key, pa); err != nil {
				return nil, err
			}
			continue
		}
		pb, _ := b.Param(key)
		u, err := unionParam(pa, pb)
		if err != nil {
			return nil, fmt.Errorf("union %q: %w", key, err)
		}
		if err := put(out, key, u); err != nil {
			return nil, err
		}
	}
	for _, key := range b.Keys() {
		if a.Has(key) {
			continue
		}
		pb, _ := b.Param(key)
		if err := put(out, key, pb); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func optionsOf(o config.Options) []config.Option {
	return []config.Option{
		config.WithUnique(o.Unique),
		config.WithPreserveDuplicates(o.PreserveDuplicates),
		config.WithForceAtomic(o.ForceAtomic),
		config.WithSortAxis(o.SortAxis),
	}
}

func put(n *config.Node, key string, p *config.Parameter) error {
	return n.Insert(key, p.Clone().Value(), optionsOf(p.Options())...)
}

func unionParam(pa, pb *config.Parameter) (*config.Parameter, error) {
	if pa.Kind() == config.KindNode || pb.Kind() == config.KindNode {
		return unionNodes(pa, pb)
	}
	if pa.Options().ForceAtomic || pb.Options().ForceAtomic {
		if config.FormatValue(pa.Value()) != config.FormatValue(pb.Value()) {
			return nil, fmt.Errorf("atomic values %s and %s differ", config.FormatValue(pa.Value()), config.FormatValue(pb.Value()))
		}
		return pa, nil
	}
	out := pa.Clone()
	if pa.Kind() == config.KindInt && pb.Kind() == config.KindFloat {
		var err error
		if out, err = asFloat(pa); err != nil {
			return nil, err
		}
	}
	for _, v := range pb.Values() {
		if out.Contains(v) {
			continue
		}
		if err := out.AddValue(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// asFloat copies an int parameter as a float one, keeping its shape and
// options.
func asFloat(p *config.Parameter) (*config.Parameter, error) {
	vals := p.Values()
	fs := make([]float64, len(vals))
	for i, v := range vals {
		fs[i] = float64(v.(int64))
	}
	var v any = fs
	if !p.IsSequence() {
		v = fs[0]
	}
	return config.NewParameter(p.Name(), v, optionsOf(p.Options())...)
}

func elements(p *config.Parameter) ([]*config.Node, error) {
	vals := p.Values()
	out := make([]*config.Node, len(vals))
	for i, v := range vals {
		n, ok := v.(*config.Node)
		if !ok {
			return nil, fmt.Errorf("element %d of %q is %T, not a config node", i, p.Name(), v)
		}
		out[i] = n
	}
	return out, nil
}

func unionNodes(pa, pb *config.Parameter) (*config.Parameter, error) {
	if pa.Kind() != pb.Kind() {
		return nil, &config.TypeConflictError{Param: pa.Name(), Want: pa.Kind(), Got: pb.Kind()}
	}
	ea, err := elements(pa)
	if err != nil {
		return nil, err
	}
	eb, err := elements(pb)
	if err != nil {
		return nil, err
	}

	if pa.Options().ForceAtomic || pb.Options().ForceAtomic {
		if len(ea) != len(eb) {
			return nil, fmt.Errorf("atomic node lists of %q differ", pa.Name())
		}
		for i := range ea {
			if ea[i].Name() != eb[i].Name() || !ea[i].IsEquivalent(eb[i]) {
				return nil, fmt.Errorf("atomic node lists of %q differ", pa.Name())
			}
		}
		return pa, nil
	}

	// Plain child nodes merge regardless of name.
	if !pa.IsSequence() && !pb.IsSequence() && len(ea) == 1 && len(eb) == 1 {
		u, err := Union(ea[0], eb[0])
		if err != nil {
			return nil, err
		}
		return config.NewParameter(pa.Name(), u, optionsOf(pa.Options())...)
	}

	merged := make([]any, 0, len(ea)+len(eb))
	seen := make(map[string]bool, len(ea))
	for _, x := range ea {
		seen[x.Name()] = true
		var y *config.Node
		for _, c := range eb {
			if c.Name() == x.Name() {
				y = c
				break
			}
		}
		if y == nil {
			merged = append(merged, x)
			continue
		}
		u, err := Union(x, y)
		if err != nil {
			return nil, err
		}
		merged = append(merged, u)
	}
	for _, y := range eb {
		if !seen[y.Name()] {
			merged = append(merged, y)
		}
	}
	return config.NewParameter(pa.Name(), merged, optionsOf(pa.Options())...)
}
