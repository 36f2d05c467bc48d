package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/routelens/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handlers wires the command surface onto the router. All commands arrive
// on a single POST endpoint and dispatch on the command name.
type Handlers struct {
	log      *zap.Logger
	analyzer TraceAnalyzer
	browser  SchemaBrowser
}

// NewHandlers creates a Handlers instance.
func NewHandlers(logger *zap.Logger, analyzer TraceAnalyzer, browser SchemaBrowser) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		log:      logger.Named("handlers"),
		analyzer: analyzer,
		browser:  browser,
	}
}

// RegisterRoutes sets up the routing for the command server.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/command", h.HandleCommand)
	})
}

// HandleHealthCheck confirms the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleCommand is the single entry point for commands.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	h.log.Info("received command", zap.String("command", req.Command))

	switch strings.ToLower(req.Command) {
	case "path_enrichment":
		h.handlePathEnrichment(w, r, req.Params)
	case "topology_visualization":
		h.handleTopology(w, r, req.Params)
	case "anomaly_detection":
		h.handleAnomalies(w, r, req.Params)
	case "list_tables":
		h.handleListTables(w, r)
	case "describe_table":
		h.handleDescribeTable(w, r, req.Params)
	case "list_prompts":
		h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{"prompts": listPrompts()})
	case "get_prompt":
		h.handleGetPrompt(w, req.Params)
	case "ping":
		h.respondWithSuccess(w, http.StatusOK, map[string]string{"message": "pong"})
	default:
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("unknown command: %s", req.Command))
	}
}

// enrichmentResult is one entry of a path_enrichment batch. Exactly one of
// Report and Error is set.
type enrichmentResult struct {
	TraceID string                    `json:"trace_id"`
	Report  *schemas.EnrichmentReport `json:"report,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

// handlePathEnrichment serves the path_enrichment command. Batches degrade
// per trace: one unknown or malformed ID yields an error entry for that ID
// while the rest of the batch still enriches. A store outage fails the whole
// request since every remaining lookup would hit the same outage.
func (h *Handlers) handlePathEnrichment(w http.ResponseWriter, r *http.Request, paramsMap map[string]interface{}) {
	params, err := mapToStruct[EnrichmentParams](paramsMap)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid parameters for path_enrichment: %v", err))
		return
	}
	ids := params.traceIDs()
	if len(ids) == 0 {
		h.respondWithError(w, http.StatusBadRequest, "path_enrichment requires trace_id or trace_ids")
		return
	}

	results := make([]enrichmentResult, 0, len(ids))
	for _, id := range ids {
		report, err := h.analyzer.Enrich(r.Context(), id)
		switch {
		case err == nil:
			results = append(results, enrichmentResult{TraceID: id, Report: &report})
		case errors.Is(err, schemas.ErrStoreUnavailable):
			h.log.Error("enrichment store outage", zap.String("trace_id", id), zap.Error(err))
			h.respondWithError(w, http.StatusServiceUnavailable, "metadata store unavailable")
			return
		case errors.Is(err, schemas.ErrInvalidInput), errors.Is(err, schemas.ErrNotFound):
			results = append(results, enrichmentResult{TraceID: id, Error: err.Error()})
		default:
			h.log.Error("enrichment failed", zap.String("trace_id", id), zap.Error(err))
			h.respondWithError(w, http.StatusInternalServerError, "internal error enriching path")
			return
		}
	}

	h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

func (h *Handlers) handleTopology(w http.ResponseWriter, r *http.Request, paramsMap map[string]interface{}) {
	params, err := mapToStruct[TraceParams](paramsMap)
	if err != nil || params.TraceID == "" {
		h.respondWithError(w, http.StatusBadRequest, "topology_visualization requires trace_id")
		return
	}

	graph, mermaid, err := h.analyzer.Topology(r.Context(), params.TraceID)
	if err != nil {
		h.respondWithTaxonomy(w, "topology_visualization", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{
		"graph":   graph,
		"mermaid": mermaid,
	})
}

func (h *Handlers) handleAnomalies(w http.ResponseWriter, r *http.Request, paramsMap map[string]interface{}) {
	params, err := mapToStruct[TraceParams](paramsMap)
	if err != nil || params.TraceID == "" {
		h.respondWithError(w, http.StatusBadRequest, "anomaly_detection requires trace_id")
		return
	}

	report, err := h.analyzer.Anomalies(r.Context(), params.TraceID)
	if err != nil {
		h.respondWithTaxonomy(w, "anomaly_detection", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, report)
}

func (h *Handlers) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.browser.ListTables(r.Context())
	if err != nil {
		h.respondWithTaxonomy(w, "list_tables", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{"tables": tables})
}

func (h *Handlers) handleDescribeTable(w http.ResponseWriter, r *http.Request, paramsMap map[string]interface{}) {
	params, err := mapToStruct[TableParams](paramsMap)
	if err != nil || params.Table == "" {
		h.respondWithError(w, http.StatusBadRequest, "describe_table requires table")
		return
	}

	desc, err := h.browser.DescribeTable(r.Context(), params.Table)
	if err != nil {
		h.respondWithTaxonomy(w, "describe_table", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, desc)
}

func (h *Handlers) handleGetPrompt(w http.ResponseWriter, paramsMap map[string]interface{}) {
	params, err := mapToStruct[PromptParams](paramsMap)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid parameters for get_prompt: %v", err))
		return
	}

	rendered, err := renderPrompt(params)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]string{
		"name":   params.Name,
		"prompt": rendered,
	})
}

// respondWithTaxonomy maps the sentinel error taxonomy onto HTTP statuses:
// invalid input is the caller's fault, a missing trace is an empty success,
// a store outage is retryable, anything else is internal.
func (h *Handlers) respondWithTaxonomy(w http.ResponseWriter, command string, err error) {
	switch {
	case errors.Is(err, schemas.ErrInvalidInput):
		h.respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, schemas.ErrNotFound):
		h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{"found": false})
	case errors.Is(err, schemas.ErrStoreUnavailable):
		h.log.Error("store unavailable", zap.String("command", command), zap.Error(err))
		h.respondWithError(w, http.StatusServiceUnavailable, "metadata store unavailable")
	default:
		h.log.Error("command failed", zap.String("command", command), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

// mapToStruct converts the generic params map into a typed struct via JSON
// round-trip.
func mapToStruct[T any](m map[string]interface{}) (T, error) {
	var result T
	if m == nil {
		return result, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return result, err
	}
	err = json.Unmarshal(data, &result)
	return result, err
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, CommandResponse{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respond(w, statusCode, CommandResponse{Status: "success", Data: data})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, resp CommandResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("failed to encode response", zap.Error(err))
	}
}
