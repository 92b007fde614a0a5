package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"go.uber.org/zap"
)

// DuckDBJournal records entries in a DuckDB database so a replay's journal
// can be queried with SQL and exported next to the run results.
type DuckDBJournal struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

var _ Journal = (*DuckDBJournal)(nil)

// NewDuckDBJournal creates a new in-memory DuckDB journal.
func NewDuckDBJournal(logger *logger.Logger) (*DuckDBJournal, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		logger.Error("Failed to open database", zap.Error(err))

		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		db.Close()

		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	journal := &DuckDBJournal{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := journal.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return journal, nil
}

func (j *DuckDBJournal) initialize() error {
	_, err := j.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS journal_id_seq START 1;
		CREATE TABLE IF NOT EXISTS journal (
			id INTEGER PRIMARY KEY,
			time TIMESTAMP,
			playbook_id VARCHAR,
			symbol VARCHAR,
			kind VARCHAR,
			phase VARCHAR,
			message VARCHAR,
			fields VARCHAR
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create journal table: %w", err)
	}

	return nil
}

// Record implements the Journal interface.
func (j *DuckDBJournal) Record(entry Entry) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal or database is nil")
	}

	var nextID int

	err := j.db.QueryRow("SELECT nextval('journal_id_seq')").Scan(&nextID)
	if err != nil {
		return fmt.Errorf("failed to get next ID from sequence: %w", err)
	}

	var fieldsJSON string

	if len(entry.Fields) > 0 {
		fieldsBytes, err := json.Marshal(entry.Fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields to JSON: %w", err)
		}

		fieldsJSON = string(fieldsBytes)
	}

	insertQuery := j.sq.
		Insert("journal").
		Columns("id", "time", "playbook_id", "symbol", "kind", "phase", "message", "fields").
		Values(nextID, entry.Time, entry.PlaybookID, entry.Symbol, string(entry.Kind), entry.Phase, entry.Message, fieldsJSON).
		RunWith(j.db)

	_, err = insertQuery.Exec()
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}

	return nil
}

// Entries implements the Journal interface. Entries come back in recording
// order.
func (j *DuckDBJournal) Entries() ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal or database is nil")
	}

	selectQuery := j.sq.
		Select("id", "time", "playbook_id", "symbol", "kind", "phase", "message", "fields").
		From("journal").
		OrderBy("id ASC").
		RunWith(j.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var id int

		var entry Entry

		var kindStr string

		var fieldsJSON sql.NullString

		err := rows.Scan(
			&id,
			&entry.Time,
			&entry.PlaybookID,
			&entry.Symbol,
			&kindStr,
			&entry.Phase,
			&entry.Message,
			&fieldsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}

		entry.Kind = EntryKind(kindStr)

		if fieldsJSON.Valid && fieldsJSON.String != "" {
			var fields map[string]string
			if err := json.Unmarshal([]byte(fieldsJSON.String), &fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields from JSON: %w", err)
			}

			entry.Fields = fields
		}

		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal: %w", err)
	}

	return entries, nil
}

// Write saves the journal to a Parquet file in the specified directory.
func (j *DuckDBJournal) Write(path string) error {
	if j == nil || j.db == nil || j.logger == nil {
		return fmt.Errorf("journal, database, or logger is nil")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	journalPath := filepath.Join(path, "journal.parquet")

	_, err := j.db.Exec(fmt.Sprintf(`COPY journal TO '%s' (FORMAT PARQUET)`, journalPath))
	if err != nil {
		return fmt.Errorf("failed to export journal to Parquet: %w", err)
	}

	j.logger.Info("Successfully exported journal to Parquet file",
		zap.String("journal", journalPath),
	)

	return nil
}

// Cleanup resets the journal state.
func (j *DuckDBJournal) Cleanup() error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal or database is nil")
	}

	if _, err := j.db.Exec("DELETE FROM journal"); err != nil {
		return fmt.Errorf("failed to clear journal table: %w", err)
	}

	return nil
}

// Close releases the database.
func (j *DuckDBJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}

	return j.db.Close()
}
