package models

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// echo returns every numeric parameter of the config as a field.
type echo struct{}

func (echo) Name() string { return "echo" }

func (echo) Evaluate(ctx context.Context, c *config.Concrete) (grid.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := grid.Result{}
	for path, p := range c.Node.Copy(true, "") {
		switch v := p.Value().(type) {
		case int64:
			out[path] = float64(v)
		case float64:
			out[path] = v
		case bool:
			out[path] = 0
			if v {
				out[path] = 1
			}
		}
	}
	return out, nil
}

// source seeds a deterministic generator from the config seed.
func source(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
}

// normal draws samples from N(mu, sigma) and summarises them.
//
// Keys: mu (0), sigma (1), samples (100), seed (0).
type normal struct{}

func (normal) Name() string { return "normal" }

func (normal) Evaluate(ctx context.Context, c *config.Concrete) (grid.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu, err := optional(c.Node, "mu", 0)
	if err != nil {
		return nil, err
	}
	sigma, err := optional(c.Node, "sigma", 1)
	if err != nil {
		return nil, err
	}
	n, err := optionalInt(c.Node, "samples", 100)
	if err != nil {
		return nil, err
	}
	seed, err := optionalInt(c.Node, "seed", 0)
	if err != nil {
		return nil, err
	}
	if sigma <= 0 || math.IsNaN(sigma) {
		return nil, fmt.Errorf("sigma must be positive, got %v", sigma)
	}
	if n < 1 {
		return nil, fmt.Errorf("samples must be >= 1, got %d", n)
	}

	r := source(seed)
	dist := distuv.Normal{Mu: mu, Sigma: sigma}
	xs := make([]float64, n)
	loglik := 0.0
	for i := range xs {
		xs[i] = mu + sigma*r.NormFloat64()
		loglik += dist.LogProb(xs[i])
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if n < 2 {
		std = 0
	}
	return grid.Result{
		"mean":   mean,
		"std":    std,
		"min":    floats.Min(xs),
		"max":    floats.Max(xs),
		"loglik": loglik,
	}, nil
}

// erdosRenyi samples a G(n, p) random graph and reports its structure.
//
// Keys: n (nodes), p (edge probability), seed (0).
type erdosRenyi struct{}

func (erdosRenyi) Name() string { return "erdos_renyi" }

func (erdosRenyi) Evaluate(ctx context.Context, c *config.Concrete) (grid.Result, error) {
	n, err := c.Node.Int("n")
	if err != nil {
		return nil, err
	}
	p, err := c.Node.Float("p")
	if err != nil {
		return nil, err
	}
	seed, err := optionalInt(c.Node, "seed", 0)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("n must be >= 1, got %d", n)
	}
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("p must be in [0, 1], got %v", p)
	}

	r := source(seed)
	g := simple.NewUndirectedGraph()
	for i := int64(0); i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := int64(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < n; j++ {
			if r.Float64() < p {
				g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(j)))
			}
		}
	}

	edges := float64(g.Edges().Len())
	pairs := float64(n*(n-1)) / 2
	density := 0.0
	if pairs > 0 {
		density = edges / pairs
	}
	giant := 0
	components := topo.ConnectedComponents(g)
	for _, cc := range components {
		giant = max(giant, len(cc))
	}
	return grid.Result{
		"edges":       edges,
		"density":     density,
		"mean_degree": 2 * edges / float64(n),
		"components":  float64(len(components)),
		"giant":       float64(giant) / float64(n),
	}, nil
}
