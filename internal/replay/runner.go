// Package replay drives a playbook engine over recorded bar history with
// simulated execution, producing the same journal, snapshots and trade
// activity a live run would, plus a per-symbol stats report.
package replay

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-playbook/internal/engine"
	enginev1 "github.com/rxtech-lab/argo-playbook/internal/engine/engine_v1"
	"github.com/rxtech-lab/argo-playbook/internal/execution"
	"github.com/rxtech-lab/argo-playbook/internal/indicator"
	"github.com/rxtech-lab/argo-playbook/internal/journal"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/market"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/store"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"go.uber.org/zap"
)

// Callbacks receives progress notifications while a replay runs. Nil
// fields are skipped.
type Callbacks struct {
	// OnStart is called once with the number of base-timeframe bars the
	// run will dispatch.
	OnStart func(totalBars int)
	// OnBar is called after each base-timeframe bar has been dispatched.
	OnBar func(processed, total int)
}

// Runner executes one replay run described by a Config.
type Runner struct {
	config Config
	logger *logger.Logger
}

// NewRunner fills config defaults, validates it and builds a runner.
func NewRunner(config Config, logger *logger.Logger) (*Runner, error) {
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Runner{config: config, logger: logger}, nil
}

// Run replays the configured bar data through the playbook and writes
// stats.yaml, snapshots.yaml and the journal export into the output
// directory. The returned stats mirror what was written.
func (r *Runner) Run(ctx context.Context, callbacks Callbacks) ([]types.ReplayStats, error) {
	config, err := playbook.LoadFile(r.config.PlaybookPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.config.Output, 0o755); err != nil {
		return nil, err
	}

	source, err := market.NewReplaySource(r.config.DataPath, market.ReplayOptions{
		Timeframe: r.config.Timeframe,
		Start:     r.config.StartTime,
		End:       r.config.EndTime,
	}, r.logger)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	total, err := source.Count()
	if err != nil {
		return nil, err
	}

	if callbacks.OnStart != nil {
		callbacks.OnStart(total)
	}

	aggregated, err := market.NewAggregator(source, ListenTimeframes(config)...)
	if err != nil {
		return nil, err
	}

	snapshots, cleanup, err := r.openStore()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	journalDB, err := journal.NewDuckDBJournal(r.logger)
	if err != nil {
		return nil, err
	}
	defer journalDB.Close()

	history := indicator.NewHistory(r.config.HistoryLimit)
	sim := execution.NewSimulator(r.logger)

	eng, err := enginev1.NewPlaybookEngineV1(engine.Collaborators{
		Data:     indicator.NewProvider(history, indicator.NewDefaultRegistry()),
		Executor: sim,
		Store:    snapshots,
		Journal:  journalDB,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, err
	}

	for _, symbol := range r.config.Symbols {
		if err := eng.Activate(ctx, config, symbol); err != nil {
			return nil, err
		}
	}

	tracker := newStatsTracker(config, r.config.Symbols)
	dispatcher := NewDispatcher(eng, sim, history, r.logger)
	dispatcher.observe = func(event types.BarEvent) { tracker.observe(eng, event) }

	processed := 0

	for event, streamErr := range aggregated.Stream(ctx) {
		if streamErr != nil {
			r.logger.Warn("Bar stream error", zap.Error(streamErr))
			continue
		}

		if err := dispatcher.Dispatch(ctx, event); err != nil {
			return nil, err
		}

		if event.Timeframe == r.config.Timeframe {
			processed++

			if callbacks.OnBar != nil {
				callbacks.OnBar(processed, total)
			}
		}
	}

	if err := eng.FlushSnapshots(ctx); err != nil {
		r.logger.Warn("Failed to flush final snapshots", zap.Error(err))
	}

	entries, err := journalDB.Entries()
	if err != nil {
		return nil, err
	}

	stats := tracker.finish(eng, sim, entries, r.config.PlaybookPath, r.config.DataPath)

	if err := types.WriteReplayStats(filepath.Join(r.config.Output, "stats.yaml"), stats); err != nil {
		return nil, err
	}

	finalSnapshots, err := snapshots.List(ctx)
	if err != nil {
		return nil, err
	}

	if err := types.WriteSnapshots(filepath.Join(r.config.Output, "snapshots.yaml"), finalSnapshots); err != nil {
		return nil, err
	}

	if err := journalDB.Write(r.config.Output); err != nil {
		return nil, err
	}

	r.logger.Info("Replay finished",
		zap.String("playbook", config.ID),
		zap.Int("bars", processed),
		zap.Int("closed_trades", len(sim.ClosedTrades())),
		zap.String("output", r.config.Output))

	return stats, nil
}

// openStore builds the snapshot store the config selects. The cleanup
// releases file-backed stores.
func (r *Runner) openStore() (store.SnapshotStore, func(), error) {
	switch r.config.Store {
	case StoreDuckDB:
		db, err := store.NewDuckDBStore(filepath.Join(r.config.Output, "snapshots.duckdb"), r.logger)
		if err != nil {
			return nil, nil, err
		}

		return db, func() { _ = db.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

// ListenTimeframes collects every timeframe the playbook reacts to, from
// phase gates, timeouts and indicator references, sorted short to long so
// aggregation emits nested buckets deterministically.
func ListenTimeframes(config *playbook.Config) []types.Timeframe {
	seen := make(map[types.Timeframe]struct{})

	for _, phase := range config.Phases {
		for _, tf := range phase.EvaluateOn {
			seen[tf] = struct{}{}
		}

		if phase.Timeout != nil {
			seen[phase.Timeout.Timeframe] = struct{}{}
		}
	}

	for _, ref := range config.Indicators {
		seen[ref.Timeframe] = struct{}{}
	}

	timeframes := make([]types.Timeframe, 0, len(seen))
	for tf := range seen {
		timeframes = append(timeframes, tf)
	}

	sort.Slice(timeframes, func(i, j int) bool {
		return timeframes[i].Duration() < timeframes[j].Duration()
	})

	return timeframes
}

// statsTracker accumulates per-symbol cycle counts while a replay runs and
// folds journal entries and closed trades into the final report.
type statsTracker struct {
	config *playbook.Config
	cycles map[string]*types.CycleCounts
}

func newStatsTracker(config *playbook.Config, symbols []string) *statsTracker {
	cycles := make(map[string]*types.CycleCounts, len(symbols))
	for _, symbol := range symbols {
		cycles[symbol] = &types.CycleCounts{}
	}

	return &statsTracker{config: config, cycles: cycles}
}

// observe classifies one bar event as evaluated or gated based on the
// phase the instance is in when the event arrives.
func (t *statsTracker) observe(eng engine.Engine, event types.BarEvent) {
	counts, ok := t.cycles[event.Bar.Symbol]
	if !ok {
		return
	}

	counts.Bars++

	snap, err := eng.Snapshot(t.config.ID, event.Bar.Symbol)
	if err != nil {
		return
	}

	if phase, ok := t.config.Phase(snap.Phase); ok && phase.ListensOn(event.Timeframe) {
		counts.Evaluated++
	} else {
		counts.Gated++
	}
}

func (t *statsTracker) finish(eng engine.Engine, sim *execution.Simulator, entries []journal.Entry, playbookPath, dataPath string) []types.ReplayStats {
	for _, entry := range entries {
		counts, ok := t.cycles[entry.Symbol]
		if !ok || entry.PlaybookID != t.config.ID {
			continue
		}

		switch entry.Kind {
		case journal.EntryKindTransition:
			if entry.Fields["reason"] == "timeout" {
				counts.Timeouts++
			} else {
				counts.Transitions++
			}
		case journal.EntryKindManagement:
			counts.ManagementEvents++
		case journal.EntryKindDiagnostic:
			counts.Diagnostics++
		}
	}

	closed := sim.ClosedTrades()

	symbols := make([]string, 0, len(t.cycles))
	for symbol := range t.cycles {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	stats := make([]types.ReplayStats, 0, len(symbols))

	for _, symbol := range symbols {
		var trades types.TradeCounts

		for _, trade := range closed {
			if trade.PlaybookID != t.config.ID || trade.Symbol != symbol {
				continue
			}

			trades.Closed++
			trades.RealizedPnL += trade.RealizedPnL

			if trade.RealizedPnL > 0 {
				trades.Winning++
			} else if trade.RealizedPnL < 0 {
				trades.Losing++
			}
		}

		trades.Opened = trades.Closed
		if sim.HasPosition(t.config.ID, symbol) {
			trades.Opened++
		}

		if trades.Closed > 0 {
			trades.WinRate = float64(trades.Winning) / float64(trades.Closed)
		}

		finalPhase := ""
		if snap, err := eng.Snapshot(t.config.ID, symbol); err == nil {
			finalPhase = snap.Phase
		}

		stats = append(stats, types.ReplayStats{
			ID:         uuid.New().String(),
			Timestamp:  time.Now().UTC(),
			Symbol:     symbol,
			FinalPhase: finalPhase,
			Cycles:     *t.cycles[symbol],
			Trades:     trades,
			Playbook: types.PlaybookInfo{
				ID:      t.config.ID,
				Version: t.config.Version,
				Name:    t.config.Name,
			},
			PlaybookPath: playbookPath,
			DataPath:     dataPath,
		})
	}

	return stats
}
