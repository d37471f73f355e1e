// Package export renders a fitted congestion signal as a map document: one entry per
// stop and one per edge, edges carrying an encoded polyline for drawing.
package export

import (
	"encoding/json"
	"io"

	"github.com/twpayne/go-polyline"

	"github.com/statlearn/busflow/internal/fsutil"
	"github.com/statlearn/busflow/internal/observations"
	"github.com/statlearn/busflow/internal/routegraph"
)

// StopValue is the fitted pace at one stop, in seconds per meter.
type StopValue struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Pace float64 `json:"pace"`
}

// EdgeValue is the mean fitted pace of the two endpoints of an edge.
type EdgeValue struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Pace     float64 `json:"pace"`
	Polyline string  `json:"polyline"`
}

// CongestionMap is the exported document.
type CongestionMap struct {
	RunID  string      `json:"run_id,omitempty"`
	Filter string      `json:"filter"`
	Lambda float64     `json:"lambda"`
	Stops  []StopValue `json:"stops"`
	Edges  []EdgeValue `json:"edges"`
}

// Build pairs every stop of g that has a fitted value with that value. Edges are
// kept when both endpoints are fitted.
func Build(g *routegraph.Graph, fitted map[string]float64, cond observations.Condition, lambda float64) CongestionMap {
	m := CongestionMap{
		Filter: cond.String(),
		Lambda: lambda,
		Stops:  []StopValue{},
		Edges:  []EdgeValue{},
	}
	for _, s := range g.Stops() {
		pace, ok := fitted[s.ID]
		if !ok {
			continue
		}
		m.Stops = append(m.Stops, StopValue{ID: s.ID, Name: s.Name, Lat: s.Lat, Lon: s.Lon, Pace: pace})
	}
	for _, e := range g.Edges() {
		pu, okU := fitted[e.From]
		pv, okV := fitted[e.To]
		if !okU || !okV {
			continue
		}
		from, _ := g.Stop(e.From)
		to, _ := g.Stop(e.To)
		m.Edges = append(m.Edges, EdgeValue{
			From:     e.From,
			To:       e.To,
			Pace:     (pu + pv) / 2,
			Polyline: string(polyline.EncodeCoords([][]float64{{from.Lat, from.Lon}, {to.Lat, to.Lon}})),
		})
	}
	return m
}

// Encode writes m as indented JSON.
func (m CongestionMap) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// WriteFile stores m at path atomically.
func WriteFile(path string, m CongestionMap) error {
	return fsutil.WriteFileAtomic(path, 0o644, m.Encode)
}
