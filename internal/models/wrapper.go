package models

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
)

// Wrapper owns one primary value and any number of named auxiliaries.
// Callers reach each through an explicit accessor.
type Wrapper[T any] struct {
	primary T
	names   []string
	aux     map[string]T
}

// Wrap creates a wrapper around primary.
func Wrap[T any](primary T) *Wrapper[T] {
	return &Wrapper[T]{primary: primary, aux: make(map[string]T)}
}

func (w *Wrapper[T]) Primary() T { return w.primary }

// Add registers an auxiliary under a unique name.
func (w *Wrapper[T]) Add(name string, v T) error {
	if name == "" {
		return errors.New("auxiliary needs a name")
	}
	if _, ok := w.aux[name]; ok {
		return fmt.Errorf("auxiliary %q already registered", name)
	}
	w.names = append(w.names, name)
	w.aux[name] = v
	return nil
}

// Aux returns the auxiliary registered under name.
func (w *Wrapper[T]) Aux(name string) (T, bool) {
	v, ok := w.aux[name]
	return v, ok
}

// Names returns the auxiliary names in registration order.
func (w *Wrapper[T]) Names() []string { return slices.Clone(w.names) }

// Composite evaluates a primary model and its auxiliaries on the same
// config. Auxiliary fields are prefixed with the auxiliary name.
type Composite struct {
	*Wrapper[Model]
}

func (c Composite) Name() string {
	name := c.Primary().Name()
	for _, n := range c.Names() {
		name += "," + n
	}
	return name
}

func (c Composite) Evaluate(ctx context.Context, cc *config.Concrete) (grid.Result, error) {
	out, err := c.Primary().Evaluate(ctx, cc)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = grid.Result{}
	}
	for _, name := range c.Names() {
		m, _ := c.Aux(name)
		r, err := m.Evaluate(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for field, v := range r {
			out[name+config.Separator+field] = v
		}
	}
	return out, nil
}
