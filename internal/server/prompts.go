package server

import (
	"fmt"
	"sort"

	"github.com/xkilldash9x/routelens/api/schemas"
)

// PromptTemplate is a reusable analysis playbook a client can render with a
// trace ID and hand to an LLM alongside the command surface.
type PromptTemplate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	template    string
}

// Render fills the template with the given trace ID.
func (p PromptTemplate) Render(traceID string) string {
	return fmt.Sprintf(p.template, traceID, traceID, traceID, traceID)
}

// promptTemplates is the fixed catalog of analysis playbooks. Each template
// takes exactly one argument, the trace ID, referenced four times.
var promptTemplates = map[string]PromptTemplate{
	"diagnose_route_performance": {
		Name:        "diagnose_route_performance",
		Description: "Full root-cause analysis of network performance issues along a traced path.",
		template: `Please perform a comprehensive analysis of the traceroute for trace %s.

Follow these steps to diagnose performance:
1. Call path_enrichment("%s") to get the enriched hop data. Analyze the rtt_delta_ms and latency_spike fields to pinpoint exactly where latency occurs.
2. Call topology_visualization("%s") to generate a visual map of the path.
3. Call anomaly_detection("%s") to check for non-standard routing elements.

Based on the tool outputs, provide a report answering:
- Latency Bottleneck: between which two hops (city/operator pairs) does the latency spike occur?
- Geographic Efficiency: does the packet leave the country unnecessarily (hairpinning)?
- Sub-optimal Routing: is the path physically logical?
`,
	},
	"audit_path_security": {
		Name:        "audit_path_security",
		Description: "Security and infrastructure audit of the networks a path traverses.",
		template: `Please perform a security and infrastructure audit for the route taken by trace %s.

Steps:
1. Run anomaly_detection("%s") immediately to identify flagged transitions.
2. Run path_enrichment("%s") to examine the full ASN and operator chain (topology_visualization("%s") helps here too).

Report findings:
- Threats: are there any hops flagged as datacenters, proxies, or Tor nodes?
- Operator Chain of Trust: list the distinct operators involved. Does the traffic hand off between reputable carriers?
- Jurisdiction: list all unique countries the data passed through.
`,
	},
	"check_data_sovereignty": {
		Name:        "check_data_sovereignty",
		Description: "Detects boomerang routing: traffic between domestic endpoints crossing a foreign jurisdiction.",
		template: `Analyze the geographic path of trace %s for data sovereignty compliance.

1. Call path_enrichment("%s") to get the country sequence.
2. Identify the source country (first public hop) and destination country (last hop); anomaly_detection("%s") surfaces sovereignty_violation flags directly. Cross-check with topology_visualization("%s").

Answer the following:
- Route Integrity: does traffic passing between two points in the same country ever leave that country?
- Jurisdiction List: list every country code involved in the path.
- Compliance Verdict: if this were sensitive data requiring local hosting, would this route be compliant?
`,
	},
	"analyze_peering_relationships": {
		Name:        "analyze_peering_relationships",
		Description: "Inspects the autonomous-system handoffs and peering economics along a path.",
		template: `Analyze the autonomous system (ASN) handoffs for trace %s.

1. Call path_enrichment("%s") to retrieve the ASN for each hop of trace %s.
2. Map the flow of traffic between organizations (e.g. University -> NREN -> commercial tier 1 -> ISP); anomaly_detection("%s") shows disallowed transit networks.

Provide an engineering assessment:
- ASN Chain: list the sequence of unique ASNs.
- Peering Type: does it look like private peering or public transit?
- Route Optimality: is the traffic traversing expensive commercial backbones when it should be staying on free academic peering links?
`,
	},
}

// listPrompts returns the catalog in stable name order.
func listPrompts() []PromptTemplate {
	names := make([]string, 0, len(promptTemplates))
	for name := range promptTemplates {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]PromptTemplate, 0, len(names))
	for _, name := range names {
		out = append(out, promptTemplates[name])
	}
	return out
}

// renderPrompt looks up a template and renders it. The single supported
// argument is trace_id.
func renderPrompt(params PromptParams) (string, error) {
	tmpl, ok := promptTemplates[params.Name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q: %w", params.Name, schemas.ErrInvalidInput)
	}
	traceID := params.Arguments["trace_id"]
	if traceID == "" {
		return "", fmt.Errorf("prompt %q requires a trace_id argument: %w", params.Name, schemas.ErrInvalidInput)
	}
	return tmpl.Render(traceID), nil
}
