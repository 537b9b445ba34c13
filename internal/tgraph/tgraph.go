// Package tgraph implements the coordinate transform graph: a mapping from
// named physical quantities to pure functions over other named quantities.
// Evaluation is target-driven and lazy; each intermediate is computed at
// most once per Eval call and nothing is cached across calls.
package tgraph

import (
	"errors"
	"fmt"

	"github.com/neutron-data/powder.report/internal/units"
)

var (
	// ErrCycle is returned when the requested outputs depend on themselves.
	ErrCycle = errors.New("tgraph: dependency cycle")
	// ErrMissingInput is returned when a quantity has neither a rule nor a
	// base coordinate.
	ErrMissingInput = errors.New("tgraph: missing input")
)

// Vars maps quantity names to columns.
type Vars map[string]units.Column

// Fn computes one output column from named inputs. Fn must be pure.
type Fn func(in Vars) (units.Column, error)

// rule is one node of the graph.
type rule struct {
	inputs []string
	fn     Fn
}

// Graph maps output-quantity names to the functions that compute them.
type Graph struct {
	rules map[string]rule
}

// New returns an empty transform graph.
func New() *Graph {
	return &Graph{rules: make(map[string]rule)}
}

// Add registers a rule computing name from inputs. A later Add for the same
// name replaces the earlier rule, which allows instrument-specific graphs to
// override generic ones.
func (g *Graph) Add(name string, inputs []string, fn Fn) {
	g.rules[name] = rule{inputs: inputs, fn: fn}
}

// Has reports whether a rule for name is registered.
func (g *Graph) Has(name string) bool {
	_, ok := g.rules[name]
	return ok
}

type evalState int

const (
	unvisited evalState = iota
	visiting
	done
)

// Eval resolves the named targets from the base coordinates, computing
// intermediates on demand. Base coordinates always win over rules. The
// returned Vars holds the targets and every intermediate that was computed.
func (g *Graph) Eval(base Vars, targets ...string) (Vars, error) {
	out := make(Vars, len(targets))
	state := make(map[string]evalState)

	var resolve func(name string) (units.Column, error)
	resolve = func(name string) (units.Column, error) {
		if c, ok := out[name]; ok {
			return c, nil
		}
		if c, ok := base[name]; ok {
			return c, nil
		}
		r, ok := g.rules[name]
		if !ok {
			return units.Column{}, fmt.Errorf("%w: %q", ErrMissingInput, name)
		}
		switch state[name] {
		case visiting:
			return units.Column{}, fmt.Errorf("%w: via %q", ErrCycle, name)
		case done:
			// Computed but evicted is impossible: done implies out[name] set.
		}
		state[name] = visiting
		in := make(Vars, len(r.inputs))
		for _, dep := range r.inputs {
			c, err := resolve(dep)
			if err != nil {
				return units.Column{}, err
			}
			in[dep] = c
		}
		c, err := r.fn(in)
		if err != nil {
			return units.Column{}, fmt.Errorf("tgraph: computing %q: %w", name, err)
		}
		state[name] = done
		out[name] = c
		return c, nil
	}

	for _, target := range targets {
		c, err := resolve(target)
		if err != nil {
			return nil, err
		}
		out[target] = c
	}
	// Intermediates stay in out; callers pick the targets they asked for.
	return out, nil
}
