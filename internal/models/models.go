// Package models holds the evaluation functions shipped with paramsweep.
// The set is closed: every Kind has exactly one constructor in a fixed
// table that is checked when the package loads.
package models

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
	"github.com/hashicorp/go-multierror"
)

// Model evaluates one concrete configuration.
type Model interface {
	Name() string
	Evaluate(ctx context.Context, c *config.Concrete) (grid.Result, error)
}

// Kind selects a built-in model.
type Kind int

const (
	KindEcho Kind = iota
	KindNormal
	KindErdosRenyi
	numKinds
)

type entry struct {
	name  string
	build func() Model
}

var table = [numKinds]entry{
	KindEcho:       {name: "echo", build: func() Model { return echo{} }},
	KindNormal:     {name: "normal", build: func() Model { return normal{} }},
	KindErdosRenyi: {name: "erdos_renyi", build: func() Model { return erdosRenyi{} }},
}

func init() {
	if err := Validate(); err != nil {
		panic(err)
	}
}

// Validate checks that every kind has a unique name and a constructor.
func Validate() error {
	var errs error
	seen := make(map[string]Kind, len(table))
	for i, e := range table {
		k := Kind(i)
		if e.name == "" {
			errs = multierror.Append(errs, fmt.Errorf("model kind %d has no name", i))
		}
		if e.build == nil {
			errs = multierror.Append(errs, fmt.Errorf("model kind %d (%s) has no constructor", i, e.name))
		} else if m := e.build(); m == nil || m.Name() != e.name {
			errs = multierror.Append(errs, fmt.Errorf("model kind %d builds a model not named %q", i, e.name))
		}
		if prev, ok := seen[e.name]; ok && e.name != "" {
			errs = multierror.Append(errs, fmt.Errorf("model name %q used by kinds %d and %d", e.name, prev, k))
		}
		seen[e.name] = k
	}
	return errs
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return table[k].name
}

// Kinds lists every built-in kind.
func Kinds() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Names lists the names of every built-in kind.
func Names() []string {
	out := make([]string, numKinds)
	for i, e := range table {
		out[i] = e.name
	}
	return out
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for i, e := range table {
		if e.name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown model %q (known: %s)", s, strings.Join(Names(), ", "))
}

// New builds the model of kind k.
func New(k Kind) (Model, error) {
	if k < 0 || k >= numKinds {
		return nil, fmt.Errorf("unknown model kind %d", int(k))
	}
	return table[k].build(), nil
}

// Lookup builds a model from a comma-separated list of names. The first is
// the primary model; the rest are auxiliaries whose fields are prefixed
// with their name.
func Lookup(spec string) (Model, error) {
	var names []string
	for _, s := range strings.Split(spec, ",") {
		if s = strings.TrimSpace(s); s != "" {
			names = append(names, s)
		}
	}
	if len(names) == 0 {
		return nil, errors.New("no model named")
	}
	build := func(name string) (Model, error) {
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		return New(k)
	}
	primary, err := build(names[0])
	if err != nil {
		return nil, err
	}
	if len(names) == 1 {
		return primary, nil
	}
	w := Wrap(primary)
	for _, name := range names[1:] {
		m, err := build(name)
		if err != nil {
			return nil, err
		}
		if err := w.Add(name, m); err != nil {
			return nil, err
		}
	}
	return Composite{w}, nil
}

// optional reads a numeric key, returning def when the key is absent.
func optional(n *config.Node, path string, def float64) (float64, error) {
	v, err := n.Float(path)
	var nf *config.KeyNotFoundError
	if errors.As(err, &nf) {
		return def, nil
	}
	return v, err
}

func optionalInt(n *config.Node, path string, def int64) (int64, error) {
	v, err := n.Int(path)
	var nf *config.KeyNotFoundError
	if errors.As(err, &nf) {
		return def, nil
	}
	return v, err
}
