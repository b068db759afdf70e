package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"knowgraph/application/commands"
	"knowgraph/application/commands/bus"
	"knowgraph/application/queries"
	querybus "knowgraph/application/queries/bus"
	"knowgraph/application/services"
	"knowgraph/domain/graph"
	apperrors "knowgraph/pkg/errors"
)

// GraphHandler handles the graph history endpoints
type GraphHandler struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	errors     *apperrors.ErrorHandler
	logger     *zap.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errorHandler *apperrors.ErrorHandler,
	logger *zap.Logger,
) *GraphHandler {
	return &GraphHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		errors:     errorHandler,
		logger:     logger,
	}
}

// SaveGraphRequest is the body of POST /saveGraphWithHistory
type SaveGraphRequest struct {
	ID        string          `json:"id"`
	GraphData *graph.Document `json:"graphData"`
	Override  bool            `json:"override"`
}

// SaveGraphResponse is returned after a successful save
type SaveGraphResponse struct {
	Message    string `json:"message"`
	ID         string `json:"id"`
	NewVersion int    `json:"newVersion"`
}

// DeleteGraphRequest is the body of POST /deleteknowgraph
type DeleteGraphRequest struct {
	ID string `json:"id"`
}

// MessageResponse acknowledges a command on one graph
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// ListGraphsResponse wraps the graph summaries
type ListGraphsResponse struct {
	Results []graph.Summary `json:"results"`
}

// SaveGraphWithHistory handles POST /saveGraphWithHistory
func (h *GraphHandler) SaveGraphWithHistory(w http.ResponseWriter, r *http.Request) {
	var req SaveGraphRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.commandBus.Send(r.Context(), commands.SaveGraphWithHistoryCommand{
		GraphID:  req.ID,
		Document: req.GraphData,
		Override: req.Override,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	saved := result.(*services.SaveResult)
	h.respondJSON(w, http.StatusOK, SaveGraphResponse{
		Message:    "Graph saved with history",
		ID:         saved.ID,
		NewVersion: saved.NewVersion,
	})
}

// GetGraph handles GET /getknowgraph?id=
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	result, err := h.queryBus.Ask(r.Context(), queries.GetGraphQuery{GraphID: r.URL.Query().Get("id")})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// GetGraphHistory handles GET /getknowgraphhistory?id=
func (h *GraphHandler) GetGraphHistory(w http.ResponseWriter, r *http.Request) {
	result, err := h.queryBus.Ask(r.Context(), queries.GetGraphHistoryQuery{GraphID: r.URL.Query().Get("id")})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// GetGraphVersion handles GET /getknowgraphversion?id=&version=
func (h *GraphHandler) GetGraphVersion(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	version, err := strconv.Atoi(params.Get("version"))
	if err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("version must be a positive integer"))
		return
	}

	result, err := h.queryBus.Ask(r.Context(), queries.GetGraphVersionQuery{
		GraphID: params.Get("id"),
		Version: version,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// ListGraphs handles GET /getknowgraphs
func (h *GraphHandler) ListGraphs(w http.ResponseWriter, r *http.Request) {
	result, err := h.queryBus.Ask(r.Context(), queries.ListGraphsQuery{})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, ListGraphsResponse{Results: result.([]graph.Summary)})
}

// DeleteGraph handles POST /deleteknowgraph
func (h *GraphHandler) DeleteGraph(w http.ResponseWriter, r *http.Request) {
	var req DeleteGraphRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.commandBus.Send(r.Context(), commands.DeleteGraphCommand{GraphID: req.ID}); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, MessageResponse{Message: "Graph deleted", ID: req.ID})
}

// decode reads a JSON body, answering 413 or 400 itself on failure
func (h *GraphHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.errors.HandleStatus(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
		return false
	}
	h.errors.Handle(w, r, apperrors.NewValidationError("Invalid JSON body").WithCause(err))
	return false
}

func (h *GraphHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
