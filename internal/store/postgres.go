package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// PostgresStore persists snapshots in PostgreSQL so live runs survive
// process restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ SnapshotStore = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn and ensures the
// playbook_instances table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) initialize(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS playbook_instances (
			playbook_id    TEXT NOT NULL,
			symbol         TEXT NOT NULL,
			phase          TEXT NOT NULL,
			bars_in_phase  INTEGER NOT NULL,
			timeframe_bars JSONB,
			variables      JSONB,
			fired_once     JSONB,
			open_ticket    TEXT NOT NULL DEFAULT '',
			open_direction TEXT NOT NULL DEFAULT '',
			updated_at     TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (playbook_id, symbol)
		)`

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres: create playbook_instances table: %w", err)
	}
	return nil
}

// Save inserts or replaces the snapshot under its instance key.
func (s *PostgresStore) Save(ctx context.Context, snapshot types.Snapshot) error {
	timeframeBars, err := json.Marshal(snapshot.TimeframeBars)
	if err != nil {
		return fmt.Errorf("postgres: marshal timeframe bars for %s: %w", snapshot.Key(), err)
	}

	variables, err := json.Marshal(snapshot.Variables)
	if err != nil {
		return fmt.Errorf("postgres: marshal variables for %s: %w", snapshot.Key(), err)
	}

	firedOnce, err := json.Marshal(snapshot.FiredOnce)
	if err != nil {
		return fmt.Errorf("postgres: marshal fired once rules for %s: %w", snapshot.Key(), err)
	}

	const query = `
		INSERT INTO playbook_instances (
			playbook_id, symbol, phase, bars_in_phase, timeframe_bars,
			variables, fired_once, open_ticket, open_direction, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (playbook_id, symbol) DO UPDATE SET
			phase          = EXCLUDED.phase,
			bars_in_phase  = EXCLUDED.bars_in_phase,
			timeframe_bars = EXCLUDED.timeframe_bars,
			variables      = EXCLUDED.variables,
			fired_once     = EXCLUDED.fired_once,
			open_ticket    = EXCLUDED.open_ticket,
			open_direction = EXCLUDED.open_direction,
			updated_at     = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		snapshot.PlaybookID, snapshot.Symbol, snapshot.Phase, snapshot.BarsInPhase, timeframeBars,
		variables, firedOnce, snapshot.OpenTicket, string(snapshot.OpenDirection), snapshot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", snapshot.Key(), err)
	}
	return nil
}

// Load returns the snapshot stored for the given key.
func (s *PostgresStore) Load(ctx context.Context, playbookID string, symbol string) (types.Snapshot, error) {
	const query = `
		SELECT playbook_id, symbol, phase, bars_in_phase, timeframe_bars,
			variables, fired_once, open_ticket, open_direction, updated_at
		FROM playbook_instances
		WHERE playbook_id = $1 AND symbol = $2`

	row := s.pool.QueryRow(ctx, query, playbookID, symbol)

	snapshot, err := scanPostgresSnapshot(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			key := types.InstanceKey{PlaybookID: playbookID, Symbol: symbol}
			return types.Snapshot{}, errors.Newf(errors.ErrCodeSnapshotNotFound, "no snapshot for %s", key)
		}
		return types.Snapshot{}, fmt.Errorf("postgres: load snapshot %s/%s: %w", playbookID, symbol, err)
	}
	return snapshot, nil
}

// Delete removes the snapshot stored for the given key.
func (s *PostgresStore) Delete(ctx context.Context, playbookID string, symbol string) error {
	const query = `DELETE FROM playbook_instances WHERE playbook_id = $1 AND symbol = $2`

	if _, err := s.pool.Exec(ctx, query, playbookID, symbol); err != nil {
		return fmt.Errorf("postgres: delete snapshot %s/%s: %w", playbookID, symbol, err)
	}
	return nil
}

// List returns every stored snapshot ordered by instance key.
func (s *PostgresStore) List(ctx context.Context) ([]types.Snapshot, error) {
	const query = `
		SELECT playbook_id, symbol, phase, bars_in_phase, timeframe_bars,
			variables, fired_once, open_ticket, open_direction, updated_at
		FROM playbook_instances
		ORDER BY playbook_id, symbol`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.Snapshot
	for rows.Next() {
		snapshot, err := scanPostgresSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list snapshots rows: %w", err)
	}
	return snapshots, nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanPostgresSnapshot(row pgx.Row) (types.Snapshot, error) {
	var (
		snapshot      types.Snapshot
		timeframeBars []byte
		variables     []byte
		firedOnce     []byte
		direction     string
	)

	err := row.Scan(
		&snapshot.PlaybookID,
		&snapshot.Symbol,
		&snapshot.Phase,
		&snapshot.BarsInPhase,
		&timeframeBars,
		&variables,
		&firedOnce,
		&snapshot.OpenTicket,
		&direction,
		&snapshot.UpdatedAt,
	)
	if err != nil {
		return types.Snapshot{}, err
	}

	if timeframeBars != nil {
		if err := json.Unmarshal(timeframeBars, &snapshot.TimeframeBars); err != nil {
			return types.Snapshot{}, fmt.Errorf("unmarshal timeframe bars: %w", err)
		}
	}
	if variables != nil {
		if err := json.Unmarshal(variables, &snapshot.Variables); err != nil {
			return types.Snapshot{}, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if firedOnce != nil {
		if err := json.Unmarshal(firedOnce, &snapshot.FiredOnce); err != nil {
			return types.Snapshot{}, fmt.Errorf("unmarshal fired once rules: %w", err)
		}
	}
	snapshot.OpenDirection = types.TradeDirection(direction)

	return snapshot, nil
}
