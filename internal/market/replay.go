package market

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"go.uber.org/zap"
)

// ReplayOptions bounds a replay run over a stored bar file.
type ReplayOptions struct {
	// Timeframe tags every replayed bar. Bar files carry a single
	// timeframe; higher ones are synthesized by an Aggregator.
	Timeframe types.Timeframe
	// Start and End restrict the replay to bars within the inclusive range.
	Start optional.Option[time.Time]
	End   optional.Option[time.Time]
}

// ReplaySource streams historical bars from a parquet or CSV file through
// an in-memory DuckDB view in chronological order.
type ReplaySource struct {
	db     *sql.DB
	opts   ReplayOptions
	logger *logger.Logger
}

var _ Source = (*ReplaySource)(nil)

// NewReplaySource opens an in-memory DuckDB instance and exposes the bar
// file at dataPath through a view. The file must contain time, symbol,
// open, high, low, close and volume columns.
func NewReplaySource(dataPath string, opts ReplayOptions, logger *logger.Logger) (*ReplaySource, error) {
	if !opts.Timeframe.IsValid() {
		return nil, errors.Newf(errors.ErrCodeInvalidTimeframe, "invalid replay timeframe %q", opts.Timeframe)
	}

	reader, err := barFileReader(dataPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open duckdb", err)
	}

	query := fmt.Sprintf(`
		CREATE VIEW bars AS
		SELECT * FROM %s('%s');
	`, reader, dataPath)

	_, err = db.Exec(query)
	if err != nil {
		db.Close()

		return nil, errors.Wrapf(errors.ErrCodeDataSourceUnavailable, err, "failed to create bars view over %s", dataPath)
	}

	return &ReplaySource{
		db:     db,
		opts:   opts,
		logger: logger,
	}, nil
}

// barFileReader picks the DuckDB table function matching the file extension.
func barFileReader(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return "read_parquet", nil
	case ".csv":
		return "read_csv_auto", nil
	default:
		return "", errors.Newf(errors.ErrCodeDataSourceUnavailable, "unsupported bar file %s: want .parquet or .csv", path)
	}
}

// Count returns the number of bars the replay will stream, honoring the
// configured time range.
func (s *ReplaySource) Count() (int, error) {
	query := "SELECT COUNT(*) FROM bars"

	conditions, params := s.rangeConditions()
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	var count int

	err := s.db.QueryRow(query, params...).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count bars", err)
	}

	return count, nil
}

// Stream implements Source. Bars are yielded in ascending time order and
// tagged with the configured timeframe.
func (s *ReplaySource) Stream(ctx context.Context) iter.Seq2[types.BarEvent, error] {
	return func(yield func(types.BarEvent, error) bool) {
		s.logger.Debug("Streaming bars from replay source",
			zap.String("timeframe", string(s.opts.Timeframe)))

		query := `
			SELECT time, symbol, open, high, low, close, volume
			FROM bars
		`

		conditions, params := s.rangeConditions()
		if len(conditions) > 0 {
			query += " WHERE " + strings.Join(conditions, " AND ")
		}

		query += " ORDER BY time ASC"

		stmt, err := s.db.Prepare(query)
		if err != nil {
			yield(types.BarEvent{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to prepare bar query", err))

			return
		}
		defer stmt.Close()

		rows, err := stmt.Query(params...)
		if err != nil {
			yield(types.BarEvent{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err))

			return
		}
		defer rows.Close()

		for rows.Next() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			var (
				timestamp                      time.Time
				open, high, low, close, volume float64
				symbol                         string
			)

			err := rows.Scan(&timestamp, &symbol, &open, &high, &low, &close, &volume)
			if err != nil {
				yield(types.BarEvent{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan bar row", err))

				return
			}

			event := types.BarEvent{
				Bar: types.Bar{
					Symbol: symbol,
					Time:   timestamp,
					Open:   open,
					High:   high,
					Low:    low,
					Close:  close,
					Volume: volume,
				},
				Timeframe: s.opts.Timeframe,
			}

			if !yield(event, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.BarEvent{}, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating bar rows", err))
		}
	}
}

// rangeConditions builds WHERE fragments for the configured time range.
func (s *ReplaySource) rangeConditions() ([]string, []any) {
	var conditions []string

	var params []any

	paramCount := 0

	if s.opts.Start.IsSome() {
		paramCount++
		conditions = append(conditions, fmt.Sprintf("time >= $%d", paramCount))
		params = append(params, s.opts.Start.Unwrap())
	}

	if s.opts.End.IsSome() {
		paramCount++
		conditions = append(conditions, fmt.Sprintf("time <= $%d", paramCount))
		params = append(params, s.opts.End.Unwrap())
	}

	return conditions, params
}

// Close releases the underlying DuckDB instance.
func (s *ReplaySource) Close() error {
	return s.db.Close()
}
