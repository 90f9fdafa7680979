package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tmaster/internal/domain"
	"tmaster/internal/repository"

	_ "modernc.org/sqlite"
)

var _ repository.StateStore = (*Repository)(nil)

// Repository implements repository.StateStore using SQLite
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository. dbPath may be ":memory:".
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps in-memory databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS topologies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS components (
		topology_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		parallelism INTEGER NOT NULL DEFAULT 1,
		position INTEGER NOT NULL,
		PRIMARY KEY (topology_id, name),
		FOREIGN KEY (topology_id) REFERENCES topologies(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS transitions (
		id TEXT PRIMARY KEY,
		topology_id TEXT NOT NULL,
		op TEXT NOT NULL,
		from_state TEXT,
		to_state TEXT NOT NULL,
		status TEXT,
		requested_at TEXT NOT NULL,
		completed_at TEXT,
		FOREIGN KEY (topology_id) REFERENCES topologies(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_topology ON transitions(topology_id, requested_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

// GetTopology loads a topology and its components
func (r *Repository) GetTopology(ctx context.Context, id string) (*domain.Topology, error) {
	var (
		name, state, updatedAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT name, state, updated_at FROM topologies WHERE id = ?
	`, id).Scan(&name, &state, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("topology %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query topology: %w", err)
	}

	parsedState, err := domain.ParseTopologyState(state)
	if err != nil {
		return nil, fmt.Errorf("topology %s: %w", id, err)
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	topo := &domain.Topology{
		ID:        id,
		Name:      name,
		State:     parsedState,
		UpdatedAt: updated,
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT name, kind, parallelism FROM components
		WHERE topology_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query components: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Component
		var kind string
		if err := rows.Scan(&c.Name, &kind, &c.Parallelism); err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		c.Kind = domain.ComponentKind(kind)
		topo.Components = append(topo.Components, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating components: %w", err)
	}

	return topo, nil
}

// SaveTopology inserts a topology, or refreshes the name and components of
// an existing one. An existing row keeps its persisted state.
func (r *Repository) SaveTopology(ctx context.Context, topo *domain.Topology) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updated := topo.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO topologies (id, name, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name
	`, topo.ID, topo.Name, string(topo.State), formatTime(updated), formatTime(updated))
	if err != nil {
		return fmt.Errorf("failed to save topology: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM components WHERE topology_id = ?`, topo.ID); err != nil {
		return fmt.Errorf("failed to clear components: %w", err)
	}

	for i, c := range topo.Components {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO components (topology_id, name, kind, parallelism, position)
			VALUES (?, ?, ?, ?, ?)
		`, topo.ID, c.Name, string(c.Kind), c.Parallelism, i)
		if err != nil {
			return fmt.Errorf("failed to save component %s: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetTopologyState updates only the lifecycle state
func (r *Repository) SetTopologyState(ctx context.Context, id string, state domain.TopologyState, at time.Time) error {
	return setState(ctx, r.db, id, state, at)
}

// RecordTransition inserts or updates an audit record
func (r *Repository) RecordTransition(ctx context.Context, tr *domain.Transition) error {
	return recordTransition(ctx, r.db, tr)
}

// ApplyTransition moves the topology to tr.To and records tr in one
// database transaction
func (r *Repository) ApplyTransition(ctx context.Context, tr *domain.Transition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	at := tr.RequestedAt
	if tr.CompletedAt != nil {
		at = *tr.CompletedAt
	}
	if err := setState(ctx, tx, tr.TopologyID, tr.To, at); err != nil {
		return err
	}
	if err := recordTransition(ctx, tx, tr); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListTransitions returns the most recent transitions, newest first
func (r *Repository) ListTransitions(ctx context.Context, topologyID string, limit int) ([]domain.Transition, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, topology_id, op, from_state, to_state, status, requested_at, completed_at
		FROM transitions
		WHERE topology_id = ?
		ORDER BY requested_at DESC, rowid DESC
		LIMIT ?
	`, topologyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		var (
			tr           domain.Transition
			op, to       string
			from, status sql.NullString
			requestedAt  string
			completedAt  sql.NullString
		)
		if err := rows.Scan(&tr.ID, &tr.TopologyID, &op, &from, &to, &status, &requestedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}

		tr.Op = domain.TransitionOp(op)
		tr.From = domain.TopologyState(nullToString(from))
		tr.To = domain.TopologyState(to)
		tr.Status = domain.StatusCode(nullToString(status))
		if tr.RequestedAt, err = parseTime(requestedAt); err != nil {
			return nil, err
		}
		if tr.CompletedAt, err = nullToTimePtr(completedAt); err != nil {
			return nil, err
		}

		out = append(out, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}
	return out, nil
}

// Close closes the database
func (r *Repository) Close() error {
	return r.db.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setState(ctx context.Context, db execer, id string, state domain.TopologyState, at time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE topologies SET state = ?, updated_at = ? WHERE id = ?
	`, string(state), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to update topology state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("topology %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func recordTransition(ctx context.Context, db execer, tr *domain.Transition) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transitions (id, topology_id, op, from_state, to_state, status, requested_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at
	`, tr.ID, tr.TopologyID, string(tr.Op), stringToNull(string(tr.From)), string(tr.To),
		stringToNull(string(tr.Status)), formatTime(tr.RequestedAt), timePtrToNull(tr.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}
