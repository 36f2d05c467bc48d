// Package analyzer composes the enrichment pipeline: join hops with
// metadata, derive transition features, classify anomalies, and render the
// topology graph. It owns no state beyond its collaborators and is safe for
// concurrent use.
package analyzer

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/routelens/api/schemas"
)

// PathJoiner is the slice of the enrichment layer the analyzer consumes.
type PathJoiner interface {
	Join(ctx context.Context, traceID string) ([]schemas.EnrichedHop, error)
}

// Deriver produces transition features from an ordered hop sequence.
type Deriver interface {
	Derive(hops []schemas.EnrichedHop) []schemas.PathTransition
}

// Classifier attaches anomaly flags to derived transitions.
type Classifier interface {
	Classify(hops []schemas.EnrichedHop, transitions []schemas.PathTransition) []schemas.PathTransition
}

// GraphBuilder renders hops and transitions as a topology graph.
type GraphBuilder interface {
	Build(traceID string, hops []schemas.EnrichedHop, transitions []schemas.PathTransition) schemas.TopologyGraph
	Mermaid(graph schemas.TopologyGraph) string
}

// Analyzer runs the full pipeline for one trace at a time.
type Analyzer struct {
	joiner     PathJoiner
	deriver    Deriver
	classifier Classifier
	builder    GraphBuilder
	log        *zap.Logger
}

// New constructs an Analyzer over the given pipeline stages.
func New(joiner PathJoiner, deriver Deriver, classifier Classifier, builder GraphBuilder, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		joiner:     joiner,
		deriver:    deriver,
		classifier: classifier,
		builder:    builder,
		log:        logger.Named("analyzer"),
	}
}

// Enrich produces the full structured report for one trace: the enriched
// hop sequence, its classified transitions, and the ordered list of
// jurisdictions the path crosses. Errors from the join stage pass through
// unwrapped so callers can match the sentinel taxonomy.
func (a *Analyzer) Enrich(ctx context.Context, traceID string) (schemas.EnrichmentReport, error) {
	hops, transitions, err := a.analyze(ctx, traceID)
	if err != nil {
		return schemas.EnrichmentReport{}, err
	}

	report := schemas.EnrichmentReport{
		TraceID:     traceID,
		Hops:        make([]schemas.HopReport, len(hops)),
		Transitions: transitions,
		Countries:   countriesCrossed(hops),
	}
	for i := range hops {
		report.Hops[i] = schemas.HopReport{Hop: hops[i]}
		if i < len(transitions) {
			report.Hops[i].Transition = &transitions[i]
		}
	}

	a.log.Debug("trace enriched",
		zap.String("trace_id", traceID),
		zap.Int("hops", len(hops)),
		zap.Strings("countries", report.Countries))
	return report, nil
}

// Topology renders the classified path as a deterministic graph plus its
// Mermaid serialization.
func (a *Analyzer) Topology(ctx context.Context, traceID string) (schemas.TopologyGraph, string, error) {
	hops, transitions, err := a.analyze(ctx, traceID)
	if err != nil {
		return schemas.TopologyGraph{}, "", err
	}
	graph := a.builder.Build(traceID, hops, transitions)
	return graph, a.builder.Mermaid(graph), nil
}

// Anomalies reports only the transitions that carry flags.
func (a *Analyzer) Anomalies(ctx context.Context, traceID string) (schemas.AnomalyReport, error) {
	_, transitions, err := a.analyze(ctx, traceID)
	if err != nil {
		return schemas.AnomalyReport{}, err
	}

	report := schemas.AnomalyReport{
		TraceID:  traceID,
		Examined: len(transitions),
		Findings: make([]schemas.PathTransition, 0, len(transitions)),
	}
	for _, t := range transitions {
		if len(t.Flags) > 0 {
			report.Findings = append(report.Findings, t)
		}
	}
	return report, nil
}

func (a *Analyzer) analyze(ctx context.Context, traceID string) ([]schemas.EnrichedHop, []schemas.PathTransition, error) {
	hops, err := a.joiner.Join(ctx, traceID)
	if err != nil {
		return nil, nil, err
	}
	transitions := a.classifier.Classify(hops, a.deriver.Derive(hops))
	return hops, transitions, nil
}

// countriesCrossed lists the jurisdictions along the path in first-seen
// order, skipping hops with no resolved country.
func countriesCrossed(hops []schemas.EnrichedHop) []string {
	seen := make(map[string]struct{}, 4)
	countries := make([]string, 0, 4)
	for i := range hops {
		country := hops[i].Metadata.Country
		if country == "" {
			continue
		}
		if _, ok := seen[country]; ok {
			continue
		}
		seen[country] = struct{}{}
		countries = append(countries, country)
	}
	return countries
}
