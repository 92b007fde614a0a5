package main

import (
	"context"
	"fmt"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/replay"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

var timestampLayouts = []string{"2006-01-02", "2006-01-02 15:04:05"}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Replay a playbook over stored bar data",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a replay config document; other flags override its fields",
			},
			&cli.StringFlag{
				Name:    "playbook",
				Aliases: []string{"p"},
				Usage:   "Path to the playbook document",
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "Path to the bar data file (.parquet or .csv)",
			},
			&cli.StringSliceFlag{
				Name:    "symbol",
				Aliases: []string{"s"},
				Usage:   "Symbol(s) to activate the playbook for",
			},
			&cli.StringFlag{
				Name:    "timeframe",
				Aliases: []string{"t"},
				Usage:   "Timeframe of the bars in the data file",
			},
			&cli.TimestampFlag{
				Name:   "start",
				Usage:  "Replay start time",
				Config: cli.TimestampConfig{Layouts: timestampLayouts},
			},
			&cli.TimestampFlag{
				Name:   "end",
				Usage:  "Replay end time",
				Config: cli.TimestampConfig{Layouts: timestampLayouts},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Directory for stats, journal and snapshot output",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Snapshot store backend: memory or duckdb",
			},
			&cli.IntFlag{
				Name:  "history",
				Usage: "Bars of indicator history to keep per timeframe",
			},
		},
		Action: replayAction,
	}
}

func replayAction(ctx context.Context, cmd *cli.Command) error {
	log, err := logger.NewLogger()
	if err != nil {
		return err
	}

	config := replay.EmptyConfig()

	if path := cmd.String("config"); path != "" {
		config, err = replay.LoadConfigFile(path)
		if err != nil {
			return err
		}
	}

	if cmd.IsSet("playbook") {
		config.PlaybookPath = cmd.String("playbook")
	}

	if cmd.IsSet("data") {
		config.DataPath = cmd.String("data")
	}

	if cmd.IsSet("symbol") {
		config.Symbols = cmd.StringSlice("symbol")
	}

	if cmd.IsSet("timeframe") {
		timeframe, err := types.ParseTimeframe(cmd.String("timeframe"))
		if err != nil {
			return err
		}

		config.Timeframe = timeframe
	}

	if start := cmd.Timestamp("start"); !start.IsZero() {
		config.StartTime = optional.Some(start)
	}

	if end := cmd.Timestamp("end"); !end.IsZero() {
		config.EndTime = optional.Some(end)
	}

	if cmd.IsSet("output") {
		config.Output = cmd.String("output")
	}

	if cmd.IsSet("store") {
		config.Store = replay.StoreBackend(cmd.String("store"))
	}

	if cmd.IsSet("history") {
		config.HistoryLimit = int(cmd.Int("history"))
	}

	runner, err := replay.NewRunner(config, log)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar

	stats, err := runner.Run(ctx, replay.Callbacks{
		OnStart: func(totalBars int) {
			bar = progressbar.Default(int64(totalBars))
		},
		OnBar: func(processed, total int) {
			_ = bar.Add(1)
		},
	})
	if err != nil {
		return err
	}

	if bar != nil {
		_ = bar.Finish()
	}

	for _, s := range stats {
		fmt.Printf("%s: final phase %s, %d trade(s) closed, realized pnl %.2f\n",
			s.Symbol, s.FinalPhase, s.Trades.Closed, s.Trades.RealizedPnL)
	}

	return nil
}
