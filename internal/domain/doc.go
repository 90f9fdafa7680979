// Package domain defines the core domain types for the tmaster topology
// control plane.
//
// This package contains the entities and value objects describing a running
// stream-processing job (a topology) and its lifecycle, independent of any
// transport or storage concerns.
//
// # Core Types
//
// Topology is a read-only snapshot of the job: its identifier, name,
// components and current lifecycle state. Snapshots are never mutated in
// place; a state change produces a new snapshot via WithState.
//
// TopologyState is the lifecycle state. Operators may move a topology from
// PAUSED to RUNNING (activate) and from RUNNING to PAUSED (deactivate).
//
// StatusCode is the outcome of an attempted state transition, reported once
// per attempt by the topology master.
//
// Transition is the audit record of one attempt.
//
// # Errors
//
// ValidationError and TransitionError carry the HTTP status a control
// request is answered with. Use errors.As to recover them.
package domain
