// Package sequencer runs named steps once each, in an order that
// honors their dependencies.
package sequencer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Step is a unit of work that runs after the steps named in After.
type Step struct {
	Name  string
	After []string
	Run   func(ctx context.Context) error
}

// Sequence is a set of steps. The zero value is empty and ready for
// use.
type Sequence struct {
	// Log, if set, receives a line per step.
	Log   *log.Logger
	steps []Step
}

// Add registers a step. Dependencies may name steps added later.
func (s *Sequence) Add(st Step) error {
	if st.Name == "" || st.Run == nil {
		return errors.New("sequencer: step needs a name and a function")
	}
	for _, e := range s.steps {
		if e.Name == st.Name {
			return fmt.Errorf("sequencer: duplicate step %q", st.Name)
		}
	}
	s.steps = append(s.steps, st)
	return nil
}

// Order returns the steps in the order Run executes them.
func (s *Sequence) Order() ([]Step, error) {
	g := simple.NewDirectedGraph()
	ids := make(map[string]int64)
	for i, st := range s.steps {
		ids[st.Name] = int64(i)
		g.AddNode(simple.Node(i))
	}
	for i, st := range s.steps {
		for _, dep := range st.After {
			id, ok := ids[dep]
			if !ok {
				return nil, fmt.Errorf("sequencer: %s: unknown dependency %q", st.Name, dep)
			}
			if id == int64(i) {
				return nil, fmt.Errorf("sequencer: %s depends on itself", st.Name)
			}
			g.SetEdge(g.NewEdge(simple.Node(id), simple.Node(i)))
		}
	}
	sorted, err := topo.SortStabilized(g, byID)
	if err != nil {
		var cycles topo.Unorderable
		if errors.As(err, &cycles) {
			return nil, fmt.Errorf("sequencer: dependency cycle among %s", s.names(cycles))
		}
		return nil, fmt.Errorf("sequencer: %w", err)
	}
	order := make([]Step, len(sorted))
	for i, n := range sorted {
		order[i] = s.steps[n.ID()]
	}
	return order, nil
}

func byID(nodes []graph.Node) {
	slices.SortFunc(nodes, func(a, b graph.Node) int {
		return cmp.Compare(a.ID(), b.ID())
	})
}

func (s *Sequence) names(cycles topo.Unorderable) string {
	var names []string
	for _, c := range cycles {
		for _, n := range c {
			names = append(names, s.steps[n.ID()].Name)
		}
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}

// Run executes the steps one at a time, stopping at the first
// failure or when ctx is done.
func (s *Sequence) Run(ctx context.Context) error {
	order, err := s.Order()
	if err != nil {
		return err
	}
	for _, st := range order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sequencer: before %s: %w", st.Name, err)
		}
		start := time.Now()
		if err := st.Run(ctx); err != nil {
			return fmt.Errorf("sequencer: %s: %w", st.Name, err)
		}
		if s.Log != nil {
			s.Log.Printf("%s (%v)", st.Name, time.Since(start).Round(time.Microsecond))
		}
	}
	return nil
}
