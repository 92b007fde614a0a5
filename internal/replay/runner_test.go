package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"github.com/stretchr/testify/suite"
)

func optionalTime(value string) optional.Option[time.Time] {
	t, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		panic(err)
	}

	return optional.Some(t)
}

// breakoutPlaybookYAML opens a long with a fixed stop and target the first
// time price crosses the trigger, then parks the trigger out of reach so the
// replay stays deterministic after the position closes.
const breakoutPlaybookYAML = `
schema: playbook-v1
id: pb-breakout
name: Breakout test
version: 1.0.0
variables:
  trigger: 105
initial_phase: idle
phases:
  idle:
    evaluate_on: [M15]
    transitions:
      - to: in_position
        when:
          all:
            - "_price > var.trigger"
        actions:
          - set_variable:
              name: trigger
              expr: "1000000"
          - open_trade:
              direction: long
              lot: "1"
              stop_loss: "_price - 2"
              take_profit: "_price + 4"
  in_position:
    evaluate_on: [M15]
    on_trade_closed: idle
`

// The second bar crosses the trigger and fills at 106 with the stop at 104
// and the target at 110. The third bar's high sweeps the target, so the
// close confirmation lands before that bar's cycle runs.
const breakoutBarsCSV = `time,symbol,open,high,low,close,volume
2024-03-04 09:00:00,EURUSD,100.0,100.5,99.5,100.0,1000.0
2024-03-04 09:15:00,EURUSD,100.0,106.5,99.8,106.0,1200.0
2024-03-04 09:30:00,EURUSD,106.0,111.0,105.0,110.5,1500.0
2024-03-04 09:45:00,EURUSD,110.0,110.2,99.9,100.0,900.0
`

// hourlyPlaybookYAML evaluates on H1 only, so every M15 bar of the base
// stream is gated and the instance moves on the aggregated bars alone.
const hourlyPlaybookYAML = `
schema: playbook-v1
id: pb-hourly
name: Hourly gate test
version: 1.0.0
initial_phase: idle
phases:
  idle:
    evaluate_on: [H1]
    transitions:
      - to: armed
        when:
          all:
            - "_price > 0"
        actions:
          - log:
              message: "armed on the first hourly close"
  armed:
    evaluate_on: [H1]
`

// Two full hours of M15 bars, so the aggregator completes two H1 buckets.
const hourlyBarsCSV = `time,symbol,open,high,low,close,volume
2024-03-04 09:00:00,EURUSD,100.0,100.5,99.5,100.2,1000.0
2024-03-04 09:15:00,EURUSD,100.2,100.8,100.0,100.6,1000.0
2024-03-04 09:30:00,EURUSD,100.6,101.0,100.4,100.9,1000.0
2024-03-04 09:45:00,EURUSD,100.9,101.2,100.7,101.1,1000.0
2024-03-04 10:00:00,EURUSD,101.1,101.4,100.9,101.0,1000.0
2024-03-04 10:15:00,EURUSD,101.0,101.3,100.8,101.2,1000.0
2024-03-04 10:30:00,EURUSD,101.2,101.6,101.0,101.5,1000.0
2024-03-04 10:45:00,EURUSD,101.5,101.8,101.3,101.7,1000.0
`

type RunnerTestSuite struct {
	suite.Suite
	logger *logger.Logger
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func (suite *RunnerTestSuite) SetupSuite() {
	log, err := logger.NewLogger()
	suite.Require().NoError(err)
	suite.logger = log
}

// writeFixtures drops a playbook document and a bar file into a fresh temp
// directory and returns a config pointed at them.
func (suite *RunnerTestSuite) writeFixtures(playbookYAML, barsCSV string) Config {
	dir := suite.T().TempDir()

	playbookPath := filepath.Join(dir, "playbook.yaml")
	suite.Require().NoError(os.WriteFile(playbookPath, []byte(playbookYAML), 0o600))

	dataPath := filepath.Join(dir, "bars.csv")
	suite.Require().NoError(os.WriteFile(dataPath, []byte(barsCSV), 0o600))

	config := EmptyConfig()
	config.PlaybookPath = playbookPath
	config.DataPath = dataPath
	config.Symbols = []string{"EURUSD"}
	config.Timeframe = types.TimeframeM15
	config.Output = filepath.Join(dir, "results")

	return config
}

func (suite *RunnerTestSuite) TestRunBreakoutScenario() {
	config := suite.writeFixtures(breakoutPlaybookYAML, breakoutBarsCSV)

	runner, err := NewRunner(config, suite.logger)
	suite.Require().NoError(err)

	var totalBars, barCalls, lastProcessed int

	stats, err := runner.Run(context.Background(), Callbacks{
		OnStart: func(total int) { totalBars = total },
		OnBar: func(processed, total int) {
			barCalls++
			lastProcessed = processed
			suite.Equal(totalBars, total)
		},
	})
	suite.Require().NoError(err)

	suite.Equal(4, totalBars)
	suite.Equal(4, barCalls)
	suite.Equal(4, lastProcessed)

	suite.Require().Len(stats, 1)
	result := stats[0]

	suite.Equal("EURUSD", result.Symbol)
	suite.Equal("idle", result.FinalPhase)
	suite.Equal("pb-breakout", result.Playbook.ID)
	suite.Equal("1.0.0", result.Playbook.Version)

	suite.Equal(4, result.Cycles.Bars)
	suite.Equal(4, result.Cycles.Evaluated)
	suite.Equal(0, result.Cycles.Gated)
	suite.Equal(2, result.Cycles.Transitions)
	suite.Equal(0, result.Cycles.Timeouts)
	suite.Equal(0, result.Cycles.ManagementEvents)
	suite.Equal(0, result.Cycles.Diagnostics)

	suite.Equal(1, result.Trades.Opened)
	suite.Equal(1, result.Trades.Closed)
	suite.Equal(1, result.Trades.Winning)
	suite.Equal(0, result.Trades.Losing)
	suite.InDelta(1.0, result.Trades.WinRate, 1e-9)
	suite.InDelta(4.0, result.Trades.RealizedPnL, 1e-9)

	suite.FileExists(filepath.Join(config.Output, "stats.yaml"))
	suite.FileExists(filepath.Join(config.Output, "snapshots.yaml"))
	suite.FileExists(filepath.Join(config.Output, "journal.parquet"))
}

func (suite *RunnerTestSuite) TestRunAggregatesHigherTimeframe() {
	config := suite.writeFixtures(hourlyPlaybookYAML, hourlyBarsCSV)

	runner, err := NewRunner(config, suite.logger)
	suite.Require().NoError(err)

	stats, err := runner.Run(context.Background(), Callbacks{})
	suite.Require().NoError(err)

	suite.Require().Len(stats, 1)
	result := stats[0]

	suite.Equal("armed", result.FinalPhase)

	// 8 base bars plus the two completed hourly buckets.
	suite.Equal(10, result.Cycles.Bars)
	suite.Equal(2, result.Cycles.Evaluated)
	suite.Equal(8, result.Cycles.Gated)
	suite.Equal(1, result.Cycles.Transitions)
	suite.Equal(0, result.Cycles.Timeouts)

	suite.Equal(0, result.Trades.Opened)
	suite.Equal(0, result.Trades.Closed)
}

func (suite *RunnerTestSuite) TestRunWritesDuckDBSnapshots() {
	config := suite.writeFixtures(breakoutPlaybookYAML, breakoutBarsCSV)
	config.Store = StoreDuckDB

	runner, err := NewRunner(config, suite.logger)
	suite.Require().NoError(err)

	_, err = runner.Run(context.Background(), Callbacks{})
	suite.Require().NoError(err)

	suite.FileExists(filepath.Join(config.Output, "snapshots.duckdb"))
	suite.FileExists(filepath.Join(config.Output, "snapshots.yaml"))
}

func (suite *RunnerTestSuite) TestRunHonorsTimeRange() {
	config := suite.writeFixtures(breakoutPlaybookYAML, breakoutBarsCSV)
	config.StartTime = optionalTime("2024-03-04 00:00:00")
	config.EndTime = optionalTime("2024-03-04 09:15:00")

	runner, err := NewRunner(config, suite.logger)
	suite.Require().NoError(err)

	stats, err := runner.Run(context.Background(), Callbacks{})
	suite.Require().NoError(err)

	suite.Require().Len(stats, 1)

	// Only the first two bars replay. The second one opens the trade and
	// the data runs out before either protective level is touched, so the
	// position is still open when the stats are cut.
	result := stats[0]
	suite.Equal(2, result.Cycles.Bars)
	suite.Equal(2, result.Cycles.Evaluated)
	suite.Equal(1, result.Cycles.Transitions)
	suite.Equal("in_position", result.FinalPhase)
	suite.Equal(1, result.Trades.Opened)
	suite.Equal(0, result.Trades.Closed)
	suite.InDelta(0.0, result.Trades.RealizedPnL, 1e-9)
}

func (suite *RunnerTestSuite) TestNewRunnerRejectsInvalidConfig() {
	config := EmptyConfig()
	config.DataPath = "bars.csv"
	config.Symbols = []string{"EURUSD"}
	config.Timeframe = types.TimeframeM15

	_, err := NewRunner(config, suite.logger)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))

	config.PlaybookPath = "playbook.yaml"
	config.Timeframe = types.Timeframe("15min")

	_, err = NewRunner(config, suite.logger)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidTimeframe))
}

func (suite *RunnerTestSuite) TestRunRejectsUnsupportedDataFile() {
	config := suite.writeFixtures(breakoutPlaybookYAML, breakoutBarsCSV)
	config.DataPath = filepath.Join(filepath.Dir(config.DataPath), "bars.txt")

	runner, err := NewRunner(config, suite.logger)
	suite.Require().NoError(err)

	_, err = runner.Run(context.Background(), Callbacks{})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataSourceUnavailable))
}
