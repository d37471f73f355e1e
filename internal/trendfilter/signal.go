// Package trendfilter fits piecewise-smooth congestion signals on the stop graph
// by graph trend filtering and scores them against held-out observations.
package trendfilter

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/statlearn/busflow/internal/observations"
	"github.com/statlearn/busflow/internal/routegraph"
)

var (
	// ErrConfiguration is shared with the observations package so callers match a single sentinel.
	ErrConfiguration = observations.ErrConfiguration

	// ErrEmptySelection is returned when a filter matches no observations.
	ErrEmptySelection = errors.New("trendfilter: filter selects no observations")
)

// SignalGraph is a private copy of the stop graph restricted to the stops that carry
// a mean pace (elapsed seconds per meter) under one filter.
type SignalGraph struct {
	Graph   *routegraph.Graph
	Elapsed map[string]float64
}

// Vector returns the signal in graph vertex order.
func (sg *SignalGraph) Vector() []float64 {
	ids := sg.Graph.VertexIDs()
	y := make([]float64, len(ids))
	for i, id := range ids {
		y[i] = sg.Elapsed[id]
	}
	return y
}

// VertexSignal averages the pace of the observations matching cond per destination stop
// and attaches it to a copy of g. Stops without a value are dropped, then any stop left
// isolated. g is not modified.
func VertexSignal(obs []observations.Observation, g *routegraph.Graph, cond observations.Condition) (*SignalGraph, error) {
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	selected := cond.Select(obs)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySelection, cond)
	}

	paces := make(map[string][]float64)
	for _, o := range selected {
		p, ok := o.Pace()
		if !ok {
			continue
		}
		paces[o.DestinationStopID] = append(paces[o.DestinationStopID], p)
	}

	elapsed := make(map[string]float64, len(paces))
	for id, ps := range paces {
		if g.HasStop(id) {
			elapsed[id] = stat.Mean(ps, nil)
		}
	}

	sg := g.Induced(func(s routegraph.Stop) bool {
		_, ok := elapsed[s.ID]
		return ok
	})
	sg.RemoveIsolates()
	for id := range elapsed {
		if !sg.HasStop(id) {
			delete(elapsed, id)
		}
	}
	return &SignalGraph{Graph: sg, Elapsed: elapsed}, nil
}
