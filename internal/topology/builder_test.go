package topology

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/routelens/api/schemas"
)

func ptr[T any](v T) *T { return &v }

func sampleHops() []schemas.EnrichedHop {
	return []schemas.EnrichedHop{
		{
			HopIndex: 1,
			IP:       ptr("192.168.1.1"),
			RTTMs:    ptr(1.2),
			Private:  true,
			Metadata: schemas.UnknownMetadata("192.168.1.1"),
		},
		{
			HopIndex: 2,
			IP:       ptr("200.160.0.8"),
			RTTMs:    ptr(12.3),
			Metadata: schemas.IPMetadata{
				IP: "200.160.0.8", Country: "BR", City: "Sao Paulo",
				Organization: "NIC.br", Category: schemas.CategoryTransit, Resolved: true,
			},
		},
		{
			HopIndex: 3,
			Metadata: schemas.UnknownMetadata(""),
		},
		{
			HopIndex: 4,
			IP:       ptr("4.69.140.1"),
			RTTMs:    ptr(145.0),
			Metadata: schemas.IPMetadata{
				IP: "4.69.140.1", Country: "US", City: "Miami",
				Organization: "Level 3", Category: schemas.CategoryTransit, Resolved: true,
			},
		},
	}
}

func sampleTransitions() []schemas.PathTransition {
	return []schemas.PathTransition{
		{FromIndex: 1, ToIndex: 2, Jump: schemas.JumpUnknown},
		{FromIndex: 2, ToIndex: 3, Jump: schemas.JumpUnknown},
		{FromIndex: 3, ToIndex: 4, Jump: schemas.JumpUnknown, Flags: []schemas.AnomalyFlag{
			{Kind: schemas.FlagSovereigntyViolation, Rationale: "crosses US jurisdiction"},
		}},
	}
}

func TestBuildNodesAndEdges(t *testing.T) {
	b := NewBuilder(zap.NewNop())
	graph := b.Build("trace-1", sampleHops(), sampleTransitions())

	require.Len(t, graph.Nodes, 4)
	require.Len(t, graph.Edges, 3)
	assert.Equal(t, "trace-1", graph.TraceID)

	assert.Equal(t, "hop_1", graph.Nodes[0].ID)
	assert.Equal(t, "192.168.1.1 (Private)", graph.Nodes[0].Label)
	assert.Equal(t, "Sao Paulo, BR\\nNIC.br", graph.Nodes[1].Label)
	assert.Equal(t, "Unknown", graph.Nodes[2].Label)

	// Edge weight is the destination hop RTT; a silent hop yields nil.
	require.NotNil(t, graph.Edges[0].WeightMs)
	assert.Equal(t, 12.3, *graph.Edges[0].WeightMs)
	assert.Nil(t, graph.Edges[1].WeightMs)

	assert.Equal(t, "hop_3", graph.Edges[2].Source)
	assert.Equal(t, "hop_4", graph.Edges[2].Target)
	assert.Equal(t, []schemas.FlagKind{schemas.FlagSovereigntyViolation}, graph.Edges[2].Flags)
}

func TestBuildDeterministic(t *testing.T) {
	b := NewBuilder(zap.NewNop())

	first := b.Build("trace-1", sampleHops(), sampleTransitions())
	second := b.Build("trace-1", sampleHops(), sampleTransitions())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("graph not deterministic (-first +second):\n%s", diff)
	}

	assert.Equal(t, b.Mermaid(first), b.Mermaid(second))
}

func TestMermaidRendering(t *testing.T) {
	b := NewBuilder(zap.NewNop())
	graph := b.Build("trace-1", sampleHops(), sampleTransitions())

	want := "graph LR\n" +
		"    hop_1[\"192.168.1.1 (Private)\"]\n" +
		"    hop_2[\"Sao Paulo, BR\\nNIC.br\"]\n" +
		"    hop_3[\"Unknown\"]\n" +
		"    hop_4[\"Miami, US\\nLevel 3\"]\n" +
		"    hop_1 -- 12.3ms --> hop_2\n" +
		"    hop_2 -- timeout --> hop_3\n" +
		"    hop_3 -- 145.0ms [sovereignty_violation] --> hop_4\n"
	assert.Equal(t, want, b.Mermaid(graph))
}

func TestMermaidEscapesHostileLabels(t *testing.T) {
	b := NewBuilder(zap.NewNop())
	hops := []schemas.EnrichedHop{
		{
			HopIndex: 1,
			IP:       ptr("203.0.113.7"),
			RTTMs:    ptr(5.0),
			Metadata: schemas.IPMetadata{
				IP: "203.0.113.7", Country: "US", City: `Evil"] --> pwn["x`,
				Category: schemas.CategoryTransit, Resolved: true,
			},
		},
	}
	out := b.Mermaid(b.Build("trace-1", hops, nil))
	assert.NotContains(t, out, `"]`+" --> ")
	assert.Contains(t, out, "Evil'")
}
