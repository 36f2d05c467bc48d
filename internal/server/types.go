package server

import (
	"context"

	"github.com/xkilldash9x/routelens/api/schemas"
	"github.com/xkilldash9x/routelens/internal/store"
)

// CommandRequest is the envelope for every POST /api/v1/command call.
type CommandRequest struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params"`
}

// CommandResponse is the envelope for every command reply.
type CommandResponse struct {
	Status string      `json:"status"` // "success" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// EnrichmentParams selects the traces for path_enrichment. A single
// trace_id and a trace_ids batch are both accepted; they are merged.
type EnrichmentParams struct {
	TraceID  string   `json:"trace_id,omitempty"`
	TraceIDs []string `json:"trace_ids,omitempty"`
}

// traceIDs flattens the two accepted forms into one ordered list.
func (p EnrichmentParams) traceIDs() []string {
	ids := make([]string, 0, len(p.TraceIDs)+1)
	if p.TraceID != "" {
		ids = append(ids, p.TraceID)
	}
	return append(ids, p.TraceIDs...)
}

// TraceParams selects a single trace for topology_visualization and
// anomaly_detection.
type TraceParams struct {
	TraceID string `json:"trace_id"`
}

// TableParams names the table for describe_table.
type TableParams struct {
	Table string `json:"table"`
}

// PromptParams selects a prompt template for get_prompt.
type PromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// TraceAnalyzer is the slice of the pipeline the handlers consume.
// Satisfied by *analyzer.Analyzer.
type TraceAnalyzer interface {
	Enrich(ctx context.Context, traceID string) (schemas.EnrichmentReport, error)
	Topology(ctx context.Context, traceID string) (schemas.TopologyGraph, string, error)
	Anomalies(ctx context.Context, traceID string) (schemas.AnomalyReport, error)
}

// SchemaBrowser is the read-only introspection surface. Satisfied by
// *store.Store.
type SchemaBrowser interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (store.TableDescription, error)
}
