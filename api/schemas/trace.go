package schemas

import (
	"time"
)

// -- Hop and Metadata Schemas --

// Category classifies the ownership context of an IP address, as recorded in
// the metadata table by the (external) ingestion pipeline.
type Category string

const (
	CategoryResidential Category = "residential"
	CategoryDatacenter  Category = "datacenter"
	CategoryAcademic    Category = "academic"
	CategoryTransit     Category = "transit"
	CategoryProxyVPN    Category = "proxy_vpn"
	CategoryTor         Category = "tor"
	CategoryUnknown     Category = "unknown"
)

// HopRecord is one traceroute hop exactly as a probe captured it.
// IP and RTTMs are pointers because a hop that never answered has neither;
// downstream stages must carry that absence through, not zero it out.
type HopRecord struct {
	TraceID    string     `json:"trace_id"`
	HopIndex   int        `json:"hop_index"`
	ProbeID    string     `json:"probe_id"`
	IP         *string    `json:"ip,omitempty"`
	RTTMs      *float64   `json:"rtt_ms,omitempty"`
	ObservedAt time.Time  `json:"observed_at"`
}

// IPMetadata is the static enrichment row for an IP address.
// Resolved is false for the sentinel returned when the metadata table has no
// row for the address; every other field is then at its zero value and the
// Category is CategoryUnknown.
type IPMetadata struct {
	IP           string   `json:"ip"`
	Country      string   `json:"country,omitempty"`
	City         string   `json:"city,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	ASN          *uint32  `json:"asn,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Category     Category `json:"category"`
	Resolved     bool     `json:"resolved"`
}

// UnknownMetadata returns the sentinel used for unresolvable or absent IPs.
func UnknownMetadata(ip string) IPMetadata {
	return IPMetadata{IP: ip, Category: CategoryUnknown}
}

// HasCoordinates reports whether both latitude and longitude are present.
func (m IPMetadata) HasCoordinates() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// EnrichedHop is a HopRecord joined with its IPMetadata. It exists only for
// the lifetime of one enrichment request. Hops that never answered (nil IP)
// are retained with sentinel metadata so that hop indices stay continuous.
type EnrichedHop struct {
	TraceID    string     `json:"trace_id"`
	HopIndex   int        `json:"hop_index"`
	ProbeID    string     `json:"probe_id"`
	IP         *string    `json:"ip,omitempty"`
	RTTMs      *float64   `json:"rtt_ms,omitempty"`
	Private    bool       `json:"private,omitempty"`
	Metadata   IPMetadata `json:"metadata"`
	ObservedAt time.Time  `json:"observed_at"`
}

// -- Transition Schemas --

// GeoJump classifies the geographic relationship between two adjacent hops.
type GeoJump string

const (
	JumpDomestic      GeoJump = "domestic"
	JumpInternational GeoJump = "international"
	JumpUnknown       GeoJump = "unknown"
)

// FlagKind enumerates the anomaly classifications a transition can carry.
type FlagKind string

const (
	FlagDatacenterDetour     FlagKind = "datacenter_detour"
	FlagProxySuspected       FlagKind = "proxy_suspected"
	FlagUnexpectedTransitAS  FlagKind = "unexpected_transit_as"
	FlagSovereigntyViolation FlagKind = "sovereignty_violation"
)

// AnomalyFlag is one classification attached to a transition, with a
// human-readable rationale.
type AnomalyFlag struct {
	Kind      FlagKind `json:"kind"`
	Rationale string   `json:"rationale"`
}

// PathTransition links two consecutive enriched hops. A sequence of N hops
// always yields exactly N-1 transitions. Distance and RTT delta are nil
// whenever either endpoint lacks the inputs; nil means "insufficient
// evidence", never zero.
type PathTransition struct {
	FromIndex  int           `json:"from_index"`
	ToIndex    int           `json:"to_index"`
	Jump       GeoJump       `json:"jump"`
	DistanceKm *float64      `json:"distance_km,omitempty"`
	RTTDeltaMs *float64      `json:"rtt_delta_ms,omitempty"`
	// LatencySpike marks a large positive RTT delta coinciding with an
	// international jump, the signal the classifier and report consumers key on.
	LatencySpike bool          `json:"latency_spike,omitempty"`
	Flags        []AnomalyFlag `json:"flags,omitempty"`
}

// AddFlag appends a flag unless one of the same kind is already present.
// Flags accumulate as a set; they are never overwritten.
func (t *PathTransition) AddFlag(kind FlagKind, rationale string) {
	for _, f := range t.Flags {
		if f.Kind == kind {
			return
		}
	}
	t.Flags = append(t.Flags, AnomalyFlag{Kind: kind, Rationale: rationale})
}

// HasFlag reports whether a flag of the given kind is attached.
func (t *PathTransition) HasFlag(kind FlagKind) bool {
	for _, f := range t.Flags {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// -- Report Schemas --

// HopReport pairs an enriched hop with its outgoing transition. The final
// hop of a trace has no outgoing transition.
type HopReport struct {
	Hop        EnrichedHop     `json:"hop"`
	Transition *PathTransition `json:"transition,omitempty"`
}

// EnrichmentReport is the structured output of one enrichment request:
// the ordered hop sequence plus per-transition features and anomaly flags.
type EnrichmentReport struct {
	TraceID     string           `json:"trace_id"`
	Hops        []HopReport      `json:"hops"`
	Transitions []PathTransition `json:"transitions"`
	// Countries is the ordered, de-duplicated list of jurisdictions the
	// path traverses, unknown hops excluded.
	Countries []string `json:"countries"`
}

// AnomalyReport is the flagged subset of a trace's transitions.
// Examined counts every transition, flagged only those carrying at least
// one anomaly flag; an empty Findings list means the path looked clean.
type AnomalyReport struct {
	TraceID  string           `json:"trace_id"`
	Examined int              `json:"examined"`
	Findings []PathTransition `json:"findings"`
}

// -- Topology Schemas --

// GraphNode is one hop rendered as a graph vertex.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// GraphEdge is one transition rendered as a weighted directed edge.
// WeightMs is the destination hop RTT; nil marks a timeout edge.
type GraphEdge struct {
	Source   string     `json:"source"`
	Target   string     `json:"target"`
	WeightMs *float64   `json:"weight_ms,omitempty"`
	Flags    []FlagKind `json:"flags,omitempty"`
}

// TopologyGraph is the directed weighted rendering of one enriched path.
// Node and edge order follow hop-index order, so identical inputs always
// serialize to identical output.
type TopologyGraph struct {
	TraceID string      `json:"trace_id"`
	Nodes   []GraphNode `json:"nodes"`
	Edges   []GraphEdge `json:"edges"`
}
