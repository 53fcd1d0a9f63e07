package forcing

import (
	"context"
	"fmt"
	"time"
)

// Distributor computes one or more forcing variables for a timestamp,
// optionally from variables published by other distributors. Each
// distributor runs as one producer in the threaded pipeline.
type Distributor interface {
	Name() string
	Inputs() []string
	Outputs() []string
	Distribute(ctx context.Context, t time.Time, inputs Record) (Record, error)
}

// Engine runs a set of distributors in dependency order on the caller's
// goroutine. It is the serial form of the distribution engine.
type Engine struct {
	order []Distributor
}

// NewEngine orders ds so every distributor runs after the ones producing
// its inputs. Inputs nobody produces, and cycles, are errors.
func NewEngine(ds []Distributor) (*Engine, error) {
	order, err := Order(ds)
	if err != nil {
		return nil, err
	}
	return &Engine{order: order}, nil
}

// Distributors returns the distributors in run order.
func (e *Engine) Distributors() []Distributor {
	out := make([]Distributor, len(e.order))
	copy(out, e.order)
	return out
}

// Get runs every distributor for t and merges their outputs.
func (e *Engine) Get(ctx context.Context, t time.Time) (Record, error) {
	rec := make(Record)
	for _, d := range e.order {
		in := make(Record, len(d.Inputs()))
		for _, name := range d.Inputs() {
			if g, ok := rec[name]; ok {
				in[name] = g
			}
		}
		out, err := d.Distribute(ctx, t, in)
		if err != nil {
			return nil, fmt.Errorf("distributing %s: %w", d.Name(), err)
		}
		for k, v := range out {
			rec[k] = v
		}
	}
	return rec, nil
}

// Order sorts distributors so producers precede consumers.
func Order(ds []Distributor) ([]Distributor, error) {
	producer := make(map[string]int)
	for i, d := range ds {
		for _, out := range d.Outputs() {
			if j, dup := producer[out]; dup {
				return nil, fmt.Errorf("variable %s produced by both %s and %s", out, ds[j].Name(), d.Name())
			}
			producer[out] = i
		}
	}
	for _, d := range ds {
		for _, in := range d.Inputs() {
			if _, ok := producer[in]; !ok {
				return nil, fmt.Errorf("%s needs %s but no distributor produces it", d.Name(), in)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	mark := make([]int, len(ds))
	var order []Distributor
	var visit func(i int) error
	visit = func(i int) error {
		switch mark[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle through %s", ds[i].Name())
		}
		mark[i] = visiting
		for _, in := range ds[i].Inputs() {
			if err := visit(producer[in]); err != nil {
				return err
			}
		}
		mark[i] = done
		order = append(order, ds[i])
		return nil
	}
	for i := range ds {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}
