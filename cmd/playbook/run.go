package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rxtech-lab/argo-playbook/internal/engine"
	enginev1 "github.com/rxtech-lab/argo-playbook/internal/engine/engine_v1"
	"github.com/rxtech-lab/argo-playbook/internal/execution"
	"github.com/rxtech-lab/argo-playbook/internal/indicator"
	"github.com/rxtech-lab/argo-playbook/internal/journal"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/market"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/replay"
	"github.com/rxtech-lab/argo-playbook/internal/store"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a playbook against a live bar feed with paper execution",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "playbook",
				Aliases:  []string{"p"},
				Usage:    "Path to the playbook document",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "url",
				Aliases:  []string{"u"},
				Usage:    "Websocket URL of the bar feed",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:     "symbol",
				Aliases:  []string{"s"},
				Usage:    "Symbol(s) to activate the playbook for",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Directory for journal exports and file-backed snapshots",
				Value:   "results",
			},
			&cli.BoolFlag{
				Name:  "aggregate",
				Usage: "Synthesize the playbook's higher timeframes from the feed's bars",
			},
			&cli.IntFlag{
				Name:  "history",
				Usage: "Bars of indicator history to keep per timeframe",
				Value: indicator.DefaultHistoryLimit,
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	log, err := logger.NewLogger()
	if err != nil {
		return err
	}

	config, err := playbook.LoadFile(cmd.String("playbook"))
	if err != nil {
		return err
	}

	output := cmd.String("output")
	if err := os.MkdirAll(output, 0o755); err != nil {
		return err
	}

	snapshots, cleanup, err := openLiveStore(ctx, output, log)
	if err != nil {
		return err
	}
	defer cleanup()

	journalDB, err := journal.NewDuckDBJournal(log)
	if err != nil {
		return err
	}
	defer journalDB.Close()

	history := indicator.NewHistory(int(cmd.Int("history")))
	sim := execution.NewSimulator(log)

	eng, err := enginev1.NewPlaybookEngineV1(engine.Collaborators{
		Data:     indicator.NewProvider(history, indicator.NewDefaultRegistry()),
		Executor: sim,
		Store:    snapshots,
		Journal:  journalDB,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	symbols := cmd.StringSlice("symbol")
	for _, symbol := range symbols {
		if err := eng.Activate(ctx, config, symbol); err != nil {
			return err
		}
	}

	var source market.Source = market.NewWebsocketSource(cmd.String("url"), log)
	if cmd.Bool("aggregate") {
		source, err = market.NewAggregator(source, replay.ListenTimeframes(config)...)
		if err != nil {
			return err
		}
	}

	dispatcher := replay.NewDispatcher(eng, sim, history, log)

	log.Info("Live run started",
		zap.String("playbook", config.ID),
		zap.Strings("symbols", symbols),
		zap.String("url", cmd.String("url")))

	for event, streamErr := range source.Stream(ctx) {
		if streamErr != nil {
			log.Warn("Bar feed error", zap.Error(streamErr))
			continue
		}

		// A cycle failure poisons one instance, not the process; keep
		// serving the other instances until shutdown.
		if err := dispatcher.Dispatch(ctx, event); err != nil {
			log.Error("Cycle failed",
				zap.String("symbol", event.Bar.Symbol),
				zap.Error(err))
		}
	}

	// The stream only ends when ctx is canceled, so flush with a fresh
	// deadline to let retained snapshots reach the store.
	flushCtx, flushCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer flushCancel()

	if err := eng.FlushSnapshots(flushCtx); err != nil {
		log.Warn("Failed to flush final snapshots", zap.Error(err))
	}

	if err := journalDB.Write(output); err != nil {
		log.Warn("Failed to export journal", zap.Error(err))
	}

	trades := sim.ClosedTrades()

	var realized float64
	for _, trade := range trades {
		realized += trade.RealizedPnL
	}

	log.Info("Live run stopped",
		zap.Int("closed_trades", len(trades)),
		zap.Float64("realized_pnl", realized))

	return nil
}

// openLiveStore prefers Postgres when POSTGRES_DSN is set (godotenv has
// already folded .env into the environment) and falls back to a
// file-backed DuckDB store under the output directory.
func openLiveStore(ctx context.Context, output string, log *logger.Logger) (store.SnapshotStore, func(), error) {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}

		return pg, func() { pg.Close() }, nil
	}

	db, err := store.NewDuckDBStore(filepath.Join(output, "snapshots.duckdb"), log)
	if err != nil {
		return nil, nil, err
	}

	return db, func() { _ = db.Close() }, nil
}
