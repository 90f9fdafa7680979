package repository

import (
	"context"
	"time"

	"tmaster/internal/domain"
)

// StateStore persists the authoritative topology state and the audit trail
// of transitions
type StateStore interface {
	// Read operations
	GetTopology(ctx context.Context, id string) (*domain.Topology, error)
	ListTransitions(ctx context.Context, topologyID string, limit int) ([]domain.Transition, error)

	// Write operations

	// SaveTopology inserts a topology, or refreshes the name and components
	// of an existing one without touching its state
	SaveTopology(ctx context.Context, topo *domain.Topology) error
	SetTopologyState(ctx context.Context, id string, state domain.TopologyState, at time.Time) error
	RecordTransition(ctx context.Context, tr *domain.Transition) error

	// ApplyTransition moves the topology to tr.To and records tr atomically
	ApplyTransition(ctx context.Context, tr *domain.Transition) error

	// Close releases resources
	Close() error
}
