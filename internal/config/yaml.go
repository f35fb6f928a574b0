package config

import (
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MarshalYAML renders the node as a study document. Keys keep their order,
// so loading the output yields the same axes in the same order.
func (n *Node) MarshalYAML() (any, error) {
	return n.yamlMapping(true), nil
}

func (n *Node) yamlMapping(withName bool) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode}
	if withName && n.name != "" {
		m.Content = append(m.Content, yamlKey(NameKey), yamlScalar(n.name))
	}
	for _, key := range n.keys {
		m.Content = append(m.Content, yamlKey(key), n.params[key].yamlValue())
	}
	return m
}

func (p *Parameter) yamlValue() *yaml.Node {
	var v *yaml.Node
	switch {
	case p.kind == KindNode && !p.sequence:
		v = p.values[0].(*Node).yamlMapping(false)
	case p.sequence:
		v = &yaml.Node{Kind: yaml.SequenceNode}
		for _, e := range p.values {
			if c, ok := e.(*Node); ok {
				v.Content = append(v.Content, c.yamlMapping(true))
				continue
			}
			v.Content = append(v.Content, yamlScalar(e))
		}
	default:
		v = yamlScalar(p.values[0])
	}

	// Options that differ from the defaults turn the value into a
	// parameter declaration.
	def := DefaultOptions()
	var opts []*yaml.Node
	flag := func(key string, on, want bool) {
		if on != want {
			opts = append(opts, yamlKey(key), yamlScalar(on))
		}
	}
	flag("unique", p.opts.Unique, def.Unique)
	flag("preserve_duplicates", p.opts.PreserveDuplicates, def.PreserveDuplicates)
	flag("force_atomic", p.opts.ForceAtomic, def.ForceAtomic)
	flag("sort_axis", p.opts.SortAxis, def.SortAxis)
	if len(opts) == 0 || (p.kind == KindNode && !p.sequence) {
		return v
	}
	spec := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{yamlKey("values"), v}}
	spec.Content = append(spec.Content, opts...)
	return spec
}

func yamlKey(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func yamlScalar(v any) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode}
	switch x := v.(type) {
	case bool:
		n.Tag, n.Value = "!!bool", strconv.FormatBool(x)
	case int64:
		n.Tag, n.Value = "!!int", strconv.FormatInt(x, 10)
	case float64:
		n.Tag, n.Value = "!!float", yamlFloat(x)
	default:
		n.Tag, n.Value = "!!str", FormatValue(v)
	}
	return n
}

func yamlFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
