package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format names a study file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// maxStudyFileSize bounds the study files LoadFile will read.
const maxStudyFileSize = 8 << 20

// NameKey names the root study, and each element of a list of tables.
const NameKey = "name"

var extensions = map[string]Format{
	".yaml": FormatYAML,
	".yml":  FormatYAML,
	".toml": FormatTOML,
	".json": FormatJSON,
}

var decoders = map[Format]func([]byte) (orderedMap, error){
	FormatYAML: decodeYAML,
	FormatTOML: decodeTOML,
	FormatJSON: decodeJSON,
}

// Study-file keys that turn a table into a parameter declaration.
var optionKeys = map[string]func(bool) Option{
	"unique":              WithUnique,
	"preserve_duplicates": WithPreserveDuplicates,
	"force_atomic":        WithForceAtomic,
	"sort_axis":           WithSortAxis,
}

type entry struct {
	key   string
	value any
}

// orderedMap keeps table keys in file order so axis discovery follows it.
type orderedMap []entry

func (m orderedMap) get(key string) (any, bool) {
	for _, e := range m {
		if e.key == key {
			return e.value, true
		}
	}
	return nil, false
}

func (m orderedMap) without(key string) orderedMap {
	return slices.DeleteFunc(slices.Clone(m), func(e entry) bool { return e.key == key })
}

// FormatForPath returns the study format implied by a file extension.
func FormatForPath(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	f, ok := extensions[ext]
	if !ok {
		return "", fmt.Errorf("unsupported study file extension %q", ext)
	}
	return f, nil
}

// LoadFile reads a study file. The root node is named by the file's "name"
// key, or else by the file's base name.
func LoadFile(path string) (*Node, error) {
	clean := filepath.Clean(path)
	format, err := FormatForPath(clean)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat study file: %w", err)
	}
	if info.Size() > maxStudyFileSize {
		return nil, fmt.Errorf("study file too large: %d bytes (max %d)", info.Size(), maxStudyFileSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read study file: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(clean), filepath.Ext(clean))
	n, err := Decode(format, data, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", clean, err)
	}
	return n, nil
}

// Decode parses a study document.
func Decode(format Format, data []byte, name string) (*Node, error) {
	dec, ok := decoders[format]
	if !ok {
		return nil, fmt.Errorf("unsupported study format %q", format)
	}
	m, err := dec(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", format, err)
	}
	if v, ok := m.get(NameKey); ok {
		s, isStr := v.(string)
		if !isStr {
			return nil, fmt.Errorf("%q must be a string, got %T", NameKey, v)
		}
		name = s
		m = m.without(NameKey)
	}
	return builder{ranges: true}.node(name, "", m)
}

// FromMap builds a node from plain nested values as produced by ToMap. Map
// keys are taken in sorted order and strings are never expanded as ranges.
func FromMap(name string, m map[string]any) (*Node, error) {
	return builder{}.node(name, "", orderPlain(m).(orderedMap))
}

func orderPlain(v any) any {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		m := make(orderedMap, len(keys))
		for i, k := range keys {
			m[i] = entry{key: k, value: orderPlain(x[k])}
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = orderPlain(e)
		}
		return out
	}
	return v
}

// builder converts decoded tables into nodes.
type builder struct {
	ranges bool // expand "min:max:step" strings
}

func (b builder) node(name, path string, m orderedMap) (*Node, error) {
	n := New(name)
	for _, e := range m {
		keyPath := join(path, e.key)
		v, opts, err := b.value(keyPath, e.key, e.value)
		if err != nil {
			return nil, err
		}
		if err := n.Insert(e.key, v, opts...); err != nil {
			return nil, fmt.Errorf("%s: %w", keyPath, err)
		}
	}
	return n, nil
}

func (b builder) value(path, key string, v any) (any, []Option, error) {
	switch x := v.(type) {
	case orderedMap:
		if isParamSpec(x) {
			return b.paramSpec(path, key, x)
		}
		child, err := b.node(key, path, x)
		return child, nil, err
	case []any:
		list, err := b.list(path, key, x)
		return list, nil, err
	case string:
		if !b.ranges {
			return x, nil, nil
		}
		vals, ok, err := expandRange(x)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		if ok {
			return vals, nil, nil
		}
		return x, nil, nil
	case nil:
		return nil, nil, fmt.Errorf("%s: null values are not allowed", path)
	}
	return v, nil, nil
}

// list turns a list of tables into a sequence of named nodes. Lists mixing
// tables and scalars are rejected.
func (b builder) list(path, key string, list []any) ([]any, error) {
	tables := 0
	for _, e := range list {
		if _, ok := e.(orderedMap); ok {
			tables++
		}
	}
	if tables == 0 {
		return list, nil
	}
	if tables != len(list) {
		return nil, fmt.Errorf("%s: list mixes tables and scalars", path)
	}
	out := make([]any, len(list))
	for i, e := range list {
		m := e.(orderedMap)
		name := fmt.Sprintf("%s%d", key, i)
		if v, ok := m.get(NameKey); ok {
			s, isStr := v.(string)
			if !isStr {
				return nil, fmt.Errorf("%s[%d]: %q must be a string, got %T", path, i, NameKey, v)
			}
			name = s
			m = m.without(NameKey)
		}
		child, err := b.node(name, join(path, name), m)
		if err != nil {
			return nil, err
		}
		out[i] = child
	}
	return out, nil
}

func isParamSpec(m orderedMap) bool {
	if _, ok := m.get("values"); !ok {
		return false
	}
	for _, e := range m {
		if _, ok := optionKeys[e.key]; !ok && e.key != "values" {
			return false
		}
	}
	return true
}

func (b builder) paramSpec(path, key string, m orderedMap) (any, []Option, error) {
	var opts []Option
	for _, e := range m {
		if e.key == "values" {
			continue
		}
		on, ok := e.value.(bool)
		if !ok {
			return nil, nil, fmt.Errorf("%s.%s: expected a bool, got %T", path, e.key, e.value)
		}
		opts = append(opts, optionKeys[e.key](on))
	}
	raw, _ := m.get("values")
	v, _, err := b.value(path, key, raw)
	return v, opts, err
}

func decodeYAML(data []byte) (orderedMap, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return orderedMap{}, nil
	}
	v, err := fromYAML(doc.Content[0])
	if err != nil {
		return nil, err
	}
	m, ok := v.(orderedMap)
	if !ok {
		return nil, fmt.Errorf("top level must be a mapping")
	}
	return m, nil
}

func fromYAML(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.MappingNode:
		m := make(orderedMap, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := fromYAML(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m = append(m, entry{key: n.Content[i].Value, value: v})
		}
		return m, nil
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromYAML(c)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.AliasNode:
		return fromYAML(n.Alias)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node", n.Line)
}

func decodeTOML(data []byte) (orderedMap, error) {
	var raw map[string]any
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, err
	}
	order := make(map[string][]string)
	seen := make(map[string]bool)
	for _, k := range md.Keys() {
		full := k.String()
		if seen[full] {
			continue
		}
		seen[full] = true
		parent := toml.Key(k[:len(k)-1]).String()
		order[parent] = append(order[parent], k[len(k)-1])
	}
	return fromTOML(raw, nil, order).(orderedMap), nil
}

// fromTOML restores file order using the key order recorded by the decoder.
// Elements of an array of tables share their parent's key path.
func fromTOML(v any, path toml.Key, order map[string][]string) any {
	switch x := v.(type) {
	case map[string]any:
		keys := slices.Clone(order[path.String()])
		var extra []string
		for k := range x {
			if !slices.Contains(keys, k) {
				extra = append(extra, k)
			}
		}
		slices.Sort(extra)
		m := make(orderedMap, 0, len(x))
		for _, k := range append(keys, extra...) {
			val, ok := x[k]
			if !ok {
				continue
			}
			child := append(slices.Clone(path), k)
			m = append(m, entry{key: k, value: fromTOML(val, child, order)})
		}
		return m
	case []map[string]any:
		list := make([]any, len(x))
		for i, e := range x {
			list[i] = fromTOML(e, path, order)
		}
		return list
	case []any:
		list := make([]any, len(x))
		for i, e := range x {
			list[i] = fromTOML(e, path, order)
		}
		return list
	}
	return v
}

func decodeJSON(data []byte) (orderedMap, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readJSON(dec)
	if err != nil {
		return nil, err
	}
	m, ok := v.(orderedMap)
	if !ok {
		return nil, fmt.Errorf("top level must be an object")
	}
	return m, nil
}

func readJSON(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := orderedMap{}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := kt.(string)
				v, err := readJSON(dec)
				if err != nil {
					return nil, err
				}
				m = append(m, entry{key: key, value: v})
			}
			_, err = dec.Token()
			return m, err
		case '[':
			list := []any{}
			for dec.More() {
				v, err := readJSON(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			}
			_, err = dec.Token()
			return list, err
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	}
	return tok, nil
}
