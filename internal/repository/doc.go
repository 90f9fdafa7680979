// Package repository defines the data access interfaces for tmaster.
//
// The StateStore interface is the topology master's state manager: it holds
// the persisted topology (identity, components, lifecycle state) and an
// audit record for every transition attempt. The master writes the new state
// here before it changes its in-memory snapshot, so a restarted master comes
// back in the state operators last requested.
//
// # SQLite Implementation
//
// The sqlite subpackage implements StateStore on SQLite in WAL mode. The
// schema is migrated on open. GetTopology returns domain.ErrNotFound for an
// unknown topology.
//
// # Testing
//
// The sqlite repository is tested against in-memory databases.
package repository
