// Package master owns the authoritative topology and performs its state
// transitions.
//
// The master publishes an immutable snapshot that readers load without
// locking. Transitions are requested from the event loop, persisted to the
// state store on a separate goroutine, and completed back on the loop where
// the snapshot is swapped and the caller's continuation runs. At most one
// transition is in flight at a time.
package master

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"tmaster/internal/domain"
	"tmaster/internal/metrics"
	"tmaster/internal/repository"
	"tmaster/internal/service"
)

// ErrNotInitialized is returned by queries made before Initialize succeeds
var ErrNotInitialized = errors.New("topology not initialized")

// DefaultStateWriteTimeout bounds a single state store write
const DefaultStateWriteTimeout = 10 * time.Second

// Poster schedules work on the event loop
type Poster interface {
	Post(fn func()) bool
}

// Options tunes the master
type Options struct {
	StateWriteTimeout time.Duration
}

// Master holds the topology snapshot and executes transitions on it
type Master struct {
	store  repository.StateStore
	bus    *service.EventBus
	loop   Poster
	opts   Options
	logger logr.Logger

	topology atomic.Pointer[domain.Topology]

	// pending is only touched on the loop
	pending *domain.Transition
}

// New creates a master with no snapshot. Call Initialize before serving.
func New(store repository.StateStore, bus *service.EventBus, loop Poster, opts Options, logger logr.Logger) *Master {
	if opts.StateWriteTimeout <= 0 {
		opts.StateWriteTimeout = DefaultStateWriteTimeout
	}
	return &Master{
		store:  store,
		bus:    bus,
		loop:   loop,
		opts:   opts,
		logger: logger.WithName("master"),
	}
}

// Initialize publishes the first snapshot. A topology already in the store
// keeps its persisted state; its name and components are refreshed from def.
// Otherwise def is persisted as given.
func (m *Master) Initialize(ctx context.Context, def *domain.Topology) error {
	if def == nil || def.ID == "" {
		return errors.New("topology definition requires an id")
	}

	topo := def.WithState(def.State, def.UpdatedAt)
	if topo.State == domain.TopologyStateUnknown {
		topo.State = domain.TopologyStateRunning
	}
	if topo.UpdatedAt.IsZero() {
		topo.UpdatedAt = time.Now()
	}

	stored, err := m.store.GetTopology(ctx, def.ID)
	switch {
	case err == nil:
		topo.State = stored.State
		topo.UpdatedAt = stored.UpdatedAt
		m.logger.Info("Restored topology state", "topology", topo.ID, "state", topo.State.String())
	case errors.Is(err, domain.ErrNotFound):
		m.logger.Info("No persisted topology, using definition", "topology", topo.ID, "state", topo.State.String())
	default:
		return fmt.Errorf("load topology %s: %w", def.ID, err)
	}

	if err := m.store.SaveTopology(ctx, topo); err != nil {
		return fmt.Errorf("save topology %s: %w", def.ID, err)
	}

	m.topology.Store(topo)
	m.publish(service.EventTopologyInitialized, topo)
	return nil
}

// Reload refreshes the name and components of the current topology from an
// edited definition. The lifecycle state is never changed by a reload.
func (m *Master) Reload(ctx context.Context, def *domain.Topology) error {
	current := m.topology.Load()
	if current == nil {
		return ErrNotInitialized
	}
	if def == nil || def.ID != current.ID {
		return fmt.Errorf("definition id does not match running topology %s", current.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.StateWriteTimeout)
	defer cancel()
	if err := m.store.SaveTopology(ctx, def); err != nil {
		return fmt.Errorf("save topology %s: %w", def.ID, err)
	}

	components := append([]domain.Component(nil), def.Components...)
	m.post(func() {
		cur := m.topology.Load()
		next := cur.WithState(cur.State, cur.UpdatedAt)
		next.Name = def.Name
		next.Components = components
		m.topology.Store(next)
		m.logger.Info("Reloaded topology definition", "topology", next.ID, "components", len(next.Components))
		m.publish(service.EventTopologyReloaded, next)
	})
	return nil
}

// Topology returns the current snapshot, or nil before initialization
func (m *Master) Topology() *domain.Topology {
	return m.topology.Load()
}

// ActivateTopology moves a PAUSED topology to RUNNING. Must be called on the
// loop; done runs on the loop exactly once.
func (m *Master) ActivateTopology(done func(domain.StatusCode)) {
	m.transition(domain.OpActivate, done)
}

// DeactivateTopology moves a RUNNING topology to PAUSED. Must be called on
// the loop; done runs on the loop exactly once.
func (m *Master) DeactivateTopology(done func(domain.StatusCode)) {
	m.transition(domain.OpDeactivate, done)
}

// Transitions returns the most recent transition records, newest first
func (m *Master) Transitions(ctx context.Context, limit int) ([]domain.Transition, error) {
	current := m.topology.Load()
	if current == nil {
		return nil, ErrNotInitialized
	}
	return m.store.ListTransitions(ctx, current.ID, limit)
}

func (m *Master) transition(op domain.TransitionOp, done func(domain.StatusCode)) {
	current := m.topology.Load()

	switch {
	case current == nil:
		m.reject(op, done, domain.StatusTopologyNotInitialized, "topology not initialized")
		return
	case current.State != op.Source():
		m.reject(op, done, domain.StatusInvalidState, "topology in "+current.State.String()+" state")
		return
	case m.pending != nil:
		m.reject(op, done, domain.StatusNotOK, "transition "+string(m.pending.Op)+" already in progress")
		return
	}

	tr := domain.NewTransition(current, op, time.Now())
	m.pending = tr
	m.logger.Info("Starting transition", "op", op, "topology", current.ID,
		"from", tr.From.String(), "to", tr.To.String(), "transition", tr.ID)

	go m.persist(tr, done)
}

// persist writes the transition off the loop, then completes it on the loop
func (m *Master) persist(tr *domain.Transition, done func(domain.StatusCode)) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.StateWriteTimeout)
	defer cancel()

	tr.Complete(domain.StatusOK, time.Now())
	if err := m.store.ApplyTransition(ctx, tr); err != nil {
		m.logger.Error(err, "Failed to write topology state", "op", tr.Op, "topology", tr.TopologyID)
		tr.Complete(domain.StatusStateWriteError, time.Now())

		// Best effort: the audit record of a failed write may fail too
		recCtx, recCancel := context.WithTimeout(context.Background(), m.opts.StateWriteTimeout)
		if err := m.store.RecordTransition(recCtx, tr); err != nil {
			m.logger.Error(err, "Failed to record failed transition", "transition", tr.ID)
		}
		recCancel()
	}

	m.post(func() { m.complete(tr, done) })
}

func (m *Master) complete(tr *domain.Transition, done func(domain.StatusCode)) {
	m.pending = nil
	metrics.RecordTransition(string(tr.Op), string(tr.Status), tr.Duration())

	if !tr.Status.IsOK() {
		m.publish(service.EventTopologyTransitionFailed, tr)
		done(tr.Status)
		return
	}

	// Start from the live snapshot so a reload during the write is kept
	next := m.topology.Load().WithState(tr.To, *tr.CompletedAt)
	m.topology.Store(next)
	m.logger.Info("Topology transitioned", "op", tr.Op, "topology", next.ID,
		"state", next.State.String(), "duration", tr.Duration())

	evt := service.EventTopologyActivated
	if tr.Op == domain.OpDeactivate {
		evt = service.EventTopologyDeactivated
	}
	m.publish(evt, next)
	done(tr.Status)
}

// reject reports an outcome without touching the store. The continuation is
// still delivered through the loop so callers never see it re-entrantly.
func (m *Master) reject(op domain.TransitionOp, done func(domain.StatusCode), status domain.StatusCode, reason string) {
	m.logger.Info("Rejected transition", "op", op, "status", status.String(), "reason", reason)
	metrics.RecordTransition(string(op), string(status), 0)
	m.post(func() { done(status) })
}

func (m *Master) post(fn func()) {
	if !m.loop.Post(fn) {
		m.logger.Info("Event loop stopped, completing inline")
		fn()
	}
}

func (m *Master) publish(t service.EventType, payload interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(service.Event{Type: t, Payload: payload})
}
