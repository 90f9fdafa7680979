package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransitionOp names the operator action behind a transition
type TransitionOp string

const (
	OpActivate   TransitionOp = "activate"
	OpDeactivate TransitionOp = "deactivate"
)

// Source returns the state a topology must be in for the operation
func (op TransitionOp) Source() TopologyState {
	switch op {
	case OpActivate:
		return TopologyStatePaused
	case OpDeactivate:
		return TopologyStateRunning
	default:
		return TopologyStateUnknown
	}
}

// Target returns the state the operation moves the topology into
func (op TransitionOp) Target() TopologyState {
	switch op {
	case OpActivate:
		return TopologyStateRunning
	case OpDeactivate:
		return TopologyStatePaused
	default:
		return TopologyStateUnknown
	}
}

// Transition records one attempted state change
type Transition struct {
	ID          string        `json:"id"`
	TopologyID  string        `json:"topology_id"`
	Op          TransitionOp  `json:"op"`
	From        TopologyState `json:"from"`
	To          TopologyState `json:"to"`
	Status      StatusCode    `json:"status"`
	RequestedAt time.Time     `json:"requested_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// NewTransition creates a pending transition record for op on t
func NewTransition(t *Topology, op TransitionOp, now time.Time) *Transition {
	return &Transition{
		ID:          uuid.NewString(),
		TopologyID:  t.ID,
		Op:          op,
		From:        t.State,
		To:          op.Target(),
		RequestedAt: now,
	}
}

// Complete stamps the outcome on the record
func (tr *Transition) Complete(status StatusCode, at time.Time) {
	tr.Status = status
	tr.CompletedAt = &at
}

// Duration returns how long the transition took, or zero while pending
func (tr *Transition) Duration() time.Duration {
	if tr.CompletedAt == nil {
		return 0
	}
	return tr.CompletedAt.Sub(tr.RequestedAt)
}
