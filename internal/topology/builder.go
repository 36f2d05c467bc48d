// Package topology renders an enriched path as a directed weighted graph
// and serializes it to Mermaid flowchart text. Both renderings are
// deterministic: identical input always produces byte-identical output.
package topology

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/routelens/api/schemas"
)

// Builder converts hop sequences into topology graphs. It is stateless and
// safe for concurrent use.
type Builder struct {
	log *zap.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{log: logger.Named("topology")}
}

// Build produces one graph node per hop and one edge per transition, both in
// hop-index order. Transitions are assumed positional: transitions[i]
// connects hops[i] to hops[i+1]. Anomaly flags carry over onto the edge.
func (b *Builder) Build(traceID string, hops []schemas.EnrichedHop, transitions []schemas.PathTransition) schemas.TopologyGraph {
	graph := schemas.TopologyGraph{
		TraceID: traceID,
		Nodes:   make([]schemas.GraphNode, 0, len(hops)),
		Edges:   make([]schemas.GraphEdge, 0, len(transitions)),
	}

	for i := range hops {
		graph.Nodes = append(graph.Nodes, schemas.GraphNode{
			ID:    nodeID(hops[i].HopIndex),
			Label: nodeLabel(&hops[i]),
		})
	}

	for i := range transitions {
		edge := schemas.GraphEdge{
			Source: nodeID(hops[i].HopIndex),
			Target: nodeID(hops[i+1].HopIndex),
		}
		if rtt := hops[i+1].RTTMs; rtt != nil {
			v := *rtt
			edge.WeightMs = &v
		}
		for _, f := range transitions[i].Flags {
			edge.Flags = append(edge.Flags, f.Kind)
		}
		graph.Edges = append(graph.Edges, edge)
	}

	return graph
}

// Mermaid serializes a graph to `graph LR` flowchart text. Node declarations
// come first in node order, then edges in edge order.
func (b *Builder) Mermaid(graph schemas.TopologyGraph) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	for _, n := range graph.Nodes {
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", n.ID, escapeLabel(n.Label))
	}
	for _, e := range graph.Edges {
		fmt.Fprintf(&sb, "    %s -- %s --> %s\n", e.Source, edgeLabel(e), e.Target)
	}
	return sb.String()
}

func nodeID(hopIndex int) string {
	return fmt.Sprintf("hop_%d", hopIndex)
}

// nodeLabel renders a hop's location and operator. Private hops are
// labeled as such, unresolved hops collapse to "Unknown".
func nodeLabel(hop *schemas.EnrichedHop) string {
	if hop.Private {
		if hop.IP != nil {
			return fmt.Sprintf("%s (Private)", *hop.IP)
		}
		return "(Private)"
	}
	if !hop.Metadata.Resolved {
		return "Unknown"
	}

	location := hop.Metadata.Country
	if hop.Metadata.City != "" {
		location = fmt.Sprintf("%s, %s", hop.Metadata.City, hop.Metadata.Country)
	}
	if hop.Metadata.Organization != "" {
		return fmt.Sprintf("%s\\n%s", location, hop.Metadata.Organization)
	}
	return location
}

// edgeLabel renders the destination-hop RTT, with a timeout marker when the
// hop never answered. Anomaly kinds are appended so the excursion is visible
// in the rendered diagram.
func edgeLabel(e schemas.GraphEdge) string {
	label := "timeout"
	if e.WeightMs != nil {
		label = fmt.Sprintf("%.1fms", *e.WeightMs)
	}
	if len(e.Flags) > 0 {
		kinds := make([]string, len(e.Flags))
		for i, k := range e.Flags {
			kinds[i] = string(k)
		}
		label = fmt.Sprintf("%s [%s]", label, strings.Join(kinds, ","))
	}
	return label
}

// escapeLabel keeps user-controlled metadata from breaking out of the
// Mermaid node syntax.
func escapeLabel(label string) string {
	return strings.NewReplacer("\"", "'", "[", "(", "]", ")").Replace(label)
}
