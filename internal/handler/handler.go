package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"

	"tmaster/internal/domain"
	"tmaster/internal/master"
)

const (
	// DefaultTransitionLimit is used when no limit is given
	DefaultTransitionLimit = 20
	// MaxTransitionLimit caps the limit query parameter
	MaxTransitionLimit = 200
)

// TopologyReader is the read side of the topology master
type TopologyReader interface {
	Topology() *domain.Topology
	Transitions(ctx context.Context, limit int) ([]domain.Transition, error)
}

// TopologyHandler serves the read-only topology API
type TopologyHandler struct {
	reader TopologyReader
	logger logr.Logger
}

// NewTopologyHandler creates a new topology handler
func NewTopologyHandler(reader TopologyReader, logger logr.Logger) *TopologyHandler {
	return &TopologyHandler{reader: reader, logger: logger.WithName("api")}
}

// Error response structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// TopologyResponse is the snapshot plus derived fields
type TopologyResponse struct {
	*domain.Topology
	Instances int `json:"instances"`
}

// Routes returns the API handlers keyed by path
func (h *TopologyHandler) Routes() map[string]http.Handler {
	return map[string]http.Handler{
		"/api/topology":             Chain(http.HandlerFunc(h.GetTopology), AllowMethods(http.MethodGet)),
		"/api/topology/transitions": Chain(http.HandlerFunc(h.ListTransitions), AllowMethods(http.MethodGet)),
		"/health":                   http.HandlerFunc(Health),
	}
}

// GetTopology returns the current snapshot
func (h *TopologyHandler) GetTopology(w http.ResponseWriter, r *http.Request) {
	topo := h.reader.Topology()
	if topo == nil {
		h.writeError(w, "Topology not initialized", "", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, TopologyResponse{Topology: topo, Instances: topo.Instances()}, http.StatusOK)
}

// ListTransitions returns recent transitions, newest first
func (h *TopologyHandler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	limit := DefaultTransitionLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, "Invalid limit", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, MaxTransitionLimit)
	}

	list, err := h.reader.Transitions(r.Context(), limit)
	if errors.Is(err, master.ErrNotInitialized) {
		h.writeError(w, "Topology not initialized", "", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.logger.Error(err, "Failed to list transitions")
		h.writeError(w, "Failed to list transitions", err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []domain.Transition{}
	}

	h.writeJSON(w, list, http.StatusOK)
}

// Health reports liveness
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *TopologyHandler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error(err, "Failed to encode JSON")
	}
}

func (h *TopologyHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	}); err != nil {
		h.logger.Error(err, "Failed to encode error response")
	}
}
