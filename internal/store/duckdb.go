package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"go.uber.org/zap"
)

var snapshotColumns = []string{
	"playbook_id", "symbol", "phase", "bars_in_phase", "timeframe_bars",
	"variables", "fired_once", "open_ticket", "open_direction", "updated_at",
}

// DuckDBStore persists snapshots in a DuckDB database. An empty path keeps
// the database in memory; a file path survives restarts.
type DuckDBStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

var _ SnapshotStore = (*DuckDBStore)(nil)

// NewDuckDBStore opens the DuckDB database at path, creating the
// playbook_instances table when missing.
func NewDuckDBStore(path string, logger *logger.Logger) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		logger.Error("Failed to open database", zap.Error(err))

		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		db.Close()

		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &DuckDBStore{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := store.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

func (s *DuckDBStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS playbook_instances (
			playbook_id VARCHAR,
			symbol VARCHAR,
			phase VARCHAR,
			bars_in_phase INTEGER,
			timeframe_bars VARCHAR,
			variables VARCHAR,
			fired_once VARCHAR,
			open_ticket VARCHAR,
			open_direction VARCHAR,
			updated_at TIMESTAMP,
			PRIMARY KEY (playbook_id, symbol)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create playbook_instances table: %w", err)
	}

	return nil
}

// Save implements the SnapshotStore interface.
func (s *DuckDBStore) Save(ctx context.Context, snapshot types.Snapshot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store or database is nil")
	}

	timeframeBars, err := json.Marshal(snapshot.TimeframeBars)
	if err != nil {
		return fmt.Errorf("failed to marshal timeframe bars: %w", err)
	}

	variables, err := json.Marshal(snapshot.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	firedOnce, err := json.Marshal(snapshot.FiredOnce)
	if err != nil {
		return fmt.Errorf("failed to marshal fired once rules: %w", err)
	}

	insertQuery := s.sq.
		Insert("playbook_instances").
		Options("OR REPLACE").
		Columns(snapshotColumns...).
		Values(
			snapshot.PlaybookID, snapshot.Symbol, snapshot.Phase, snapshot.BarsInPhase, string(timeframeBars),
			string(variables), string(firedOnce), snapshot.OpenTicket, string(snapshot.OpenDirection), snapshot.UpdatedAt,
		).
		RunWith(s.db)

	if _, err := insertQuery.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	return nil
}

// Load implements the SnapshotStore interface.
func (s *DuckDBStore) Load(ctx context.Context, playbookID string, symbol string) (types.Snapshot, error) {
	if s == nil || s.db == nil {
		return types.Snapshot{}, fmt.Errorf("store or database is nil")
	}

	selectQuery := s.sq.
		Select(snapshotColumns...).
		From("playbook_instances").
		Where(squirrel.Eq{"playbook_id": playbookID, "symbol": symbol}).
		RunWith(s.db)

	snapshot, err := scanSnapshot(selectQuery.QueryRowContext(ctx))
	if err == sql.ErrNoRows {
		key := types.InstanceKey{PlaybookID: playbookID, Symbol: symbol}

		return types.Snapshot{}, errors.Newf(errors.ErrCodeSnapshotNotFound, "no snapshot for %s", key)
	}

	if err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return snapshot, nil
}

// Delete implements the SnapshotStore interface.
func (s *DuckDBStore) Delete(ctx context.Context, playbookID string, symbol string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store or database is nil")
	}

	deleteQuery := s.sq.
		Delete("playbook_instances").
		Where(squirrel.Eq{"playbook_id": playbookID, "symbol": symbol}).
		RunWith(s.db)

	if _, err := deleteQuery.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	return nil
}

// List implements the SnapshotStore interface.
func (s *DuckDBStore) List(ctx context.Context) ([]types.Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store or database is nil")
	}

	selectQuery := s.sq.
		Select(snapshotColumns...).
		From("playbook_instances").
		OrderBy("playbook_id ASC", "symbol ASC").
		RunWith(s.db)

	rows, err := selectQuery.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.Snapshot

	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// Write exports the stored snapshots to a Parquet file in the specified
// directory.
func (s *DuckDBStore) Write(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	instancesPath := filepath.Join(path, "instances.parquet")

	_, err := s.db.Exec(fmt.Sprintf(`COPY playbook_instances TO '%s' (FORMAT PARQUET)`, instancesPath))
	if err != nil {
		return fmt.Errorf("failed to export snapshots to Parquet: %w", err)
	}

	s.logger.Info("Successfully exported snapshots to Parquet file",
		zap.String("instances", instancesPath),
	)

	return nil
}

// Cleanup removes every stored snapshot.
func (s *DuckDBStore) Cleanup() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store or database is nil")
	}

	if _, err := s.db.Exec(`DELETE FROM playbook_instances`); err != nil {
		return fmt.Errorf("failed to cleanup snapshots: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *DuckDBStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (types.Snapshot, error) {
	var (
		snapshot      types.Snapshot
		timeframeBars string
		variables     string
		firedOnce     string
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

	if err := json.Unmarshal([]byte(timeframeBars), &snapshot.TimeframeBars); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to unmarshal timeframe bars: %w", err)
	}

	if err := json.Unmarshal([]byte(variables), &snapshot.Variables); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	if err := json.Unmarshal([]byte(firedOnce), &snapshot.FiredOnce); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to unmarshal fired once rules: %w", err)
	}

	snapshot.OpenDirection = types.TradeDirection(direction)

	return snapshot, nil
}
