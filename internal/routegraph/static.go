package routegraph

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/OneBusAway/go-gtfs"

	"github.com/statlearn/busflow/internal/logging"
)

// RouteTypeBus is the GTFS route_type of bus services.
const RouteTypeBus = 3

// BuildOptions restricts which routes contribute edges to the base graph.
type BuildOptions struct {
	// AgencyID keeps only routes operated by this agency. Empty keeps every agency.
	AgencyID string
	// RouteTypes keeps only routes of these GTFS route types. Empty keeps every type.
	RouteTypes []int
	Logger     *slog.Logger
}

type patternKey struct {
	routeID   string
	direction int
}

// LoadStatic parses the GTFS zip at path and builds its stop graph.
func LoadStatic(path string, opts BuildOptions) (*Graph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading GTFS data: %w", err)
	}
	static, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("error parsing GTFS data: %w", err)
	}
	return FromStatic(static, opts), nil
}

// FromStatic builds the stop graph of a parsed feed. Stops need a name and coordinates.
// For each (route, direction) the first stop seen at every stop_sequence is kept, the
// survivors are ordered by sequence and consecutive stops are joined. Isolated stops are
// dropped.
func FromStatic(static *gtfs.Static, opts BuildOptions) *Graph {
	logger := logging.OrDiscard(opts.Logger).With(slog.String("component", "route_graph"))

	g := New()
	for _, s := range static.Stops {
		if s.Latitude == nil || s.Longitude == nil || strings.TrimSpace(s.Name) == "" {
			continue
		}
		g.AddStop(Stop{ID: s.Id, Name: s.Name, Lat: *s.Latitude, Lon: *s.Longitude})
	}

	singleAgencyID := ""
	if len(static.Agencies) == 1 {
		singleAgencyID = static.Agencies[0].Id
	}

	var order []patternKey
	patterns := make(map[patternKey]map[int]string)
	skippedTrips := 0
	for _, t := range static.Trips {
		if t.Route == nil || !opts.keepRoute(t.Route, singleAgencyID) {
			skippedTrips++
			continue
		}
		key := patternKey{routeID: t.Route.Id, direction: int(t.DirectionId)}
		seqs, ok := patterns[key]
		if !ok {
			seqs = make(map[int]string)
			patterns[key] = seqs
			order = append(order, key)
		}
		for _, st := range t.StopTimes {
			if st.Stop == nil || !g.HasStop(st.Stop.Id) {
				continue
			}
			seq := int(st.StopSequence)
			if _, seen := seqs[seq]; !seen {
				seqs[seq] = st.Stop.Id
			}
		}
	}

	for _, key := range order {
		seqs := patterns[key]
		keys := make([]int, 0, len(seqs))
		for seq := range seqs {
			keys = append(keys, seq)
		}
		slices.Sort(keys)
		for i := 1; i < len(keys); i++ {
			// Both endpoints are vertices, so AddEdge cannot fail here.
			_, _ = g.AddEdge(seqs[keys[i-1]], seqs[keys[i]])
		}
	}

	removed := g.RemoveIsolates()
	logging.LogOperation(logger, "stop_graph_built",
		slog.Int("stops", g.NumStops()),
		slog.Int("edges", g.NumEdges()),
		slog.Int("patterns", len(order)),
		slog.Int("skipped_trips", skippedTrips),
		slog.Int("isolates_removed", removed))
	return g
}

func (o BuildOptions) keepRoute(r *gtfs.Route, singleAgencyID string) bool {
	if o.AgencyID != "" {
		agencyID := singleAgencyID
		if r.Agency != nil && r.Agency.Id != "" {
			agencyID = r.Agency.Id
		}
		if agencyID != o.AgencyID {
			return false
		}
	}
	if len(o.RouteTypes) > 0 && !slices.Contains(o.RouteTypes, int(r.Type)) {
		return false
	}
	return true
}
