package domain

import (
	"fmt"
	"strings"
	"time"
)

// TopologyState represents the lifecycle state of a topology
type TopologyState string

const (
	TopologyStateUnknown TopologyState = ""        // Not yet initialized
	TopologyStateRunning TopologyState = "running" // Processing tuples
	TopologyStatePaused  TopologyState = "paused"  // Deployed but not emitting
	TopologyStateKilled  TopologyState = "killed"  // Torn down, terminal
)

// ParseTopologyState converts a string to TopologyState.
// Matching is case-insensitive; unrecognized values return an error.
func ParseTopologyState(s string) (TopologyState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running":
		return TopologyStateRunning, nil
	case "paused":
		return TopologyStatePaused, nil
	case "killed":
		return TopologyStateKilled, nil
	case "", "unknown":
		return TopologyStateUnknown, nil
	default:
		return TopologyStateUnknown, fmt.Errorf("unknown topology state %q", s)
	}
}

// String returns the upper-case state name used in logs
func (s TopologyState) String() string {
	if s == TopologyStateUnknown {
		return "UNKNOWN"
	}
	return strings.ToUpper(string(s))
}

// ComponentKind distinguishes sources from processing stages
type ComponentKind string

const (
	ComponentKindSpout ComponentKind = "spout"
	ComponentKindBolt  ComponentKind = "bolt"
)

// Component is a single stage of the topology
type Component struct {
	Name        string        `json:"name"`
	Kind        ComponentKind `json:"kind"`
	Parallelism int           `json:"parallelism"`
}

// Topology is an immutable snapshot of the running job
type Topology struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	State      TopologyState `json:"state"`
	Components []Component   `json:"components,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// WithState returns a copy of the snapshot in the given state.
// The receiver is left untouched.
func (t *Topology) WithState(state TopologyState, at time.Time) *Topology {
	next := *t
	next.State = state
	next.UpdatedAt = at
	if t.Components != nil {
		next.Components = append([]Component(nil), t.Components...)
	}
	return &next
}

// Instances returns the total number of component instances
func (t *Topology) Instances() int {
	total := 0
	for _, c := range t.Components {
		total += c.Parallelism
	}
	return total
}

// StatusCode is the outcome of a state transition attempt
type StatusCode string

const (
	StatusOK                     StatusCode = "ok"
	StatusNotOK                  StatusCode = "not_ok"
	StatusStateWriteError        StatusCode = "state_write_error"
	StatusTopologyNotInitialized StatusCode = "topology_not_initialized"
	StatusInvalidState           StatusCode = "invalid_state"
)

// IsOK reports whether the transition succeeded
func (c StatusCode) IsOK() bool {
	return c == StatusOK
}

func (c StatusCode) String() string {
	return strings.ToUpper(string(c))
}
