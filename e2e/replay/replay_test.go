package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-playbook/e2e/replay/testhelper"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/replay"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

const playbooksDir = "../../examples/playbooks"

// ReplayE2ETestSuite drives full replays of the shipped example playbooks
// over generated parquet data.
type ReplayE2ETestSuite struct {
	suite.Suite
	logger  *logger.Logger
	tempDir string
}

func TestReplayE2ETestSuite(t *testing.T) {
	suite.Run(t, new(ReplayE2ETestSuite))
}

func (s *ReplayE2ETestSuite) SetupSuite() {
	log, err := logger.NewLogger()
	s.Require().NoError(err)
	s.logger = log
}

func (s *ReplayE2ETestSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
}

func (s *ReplayE2ETestSuite) TestExamplePlaybooksAreValid() {
	matches, err := filepath.Glob(filepath.Join(playbooksDir, "*.yaml"))
	s.Require().NoError(err)
	s.Require().NotEmpty(matches, "example playbooks should be present")

	for _, path := range matches {
		config, err := playbook.LoadFile(path)
		s.Require().NoError(err, "example %s should validate", path)
		s.NotEmpty(config.ID)
	}
}

func (s *ReplayE2ETestSuite) TestMeanRevertReplay() {
	dataPath := filepath.Join(s.tempDir, "eurusd_m15.parquet")

	err := testhelper.GenerateAndWriteToParquet(testhelper.MockDataConfig{
		Symbol:             "EURUSD",
		StartTime:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:           15 * time.Minute,
		NumDataPoints:      3000,
		Pattern:            testhelper.PatternVolatile,
		InitialPrice:       100.0,
		VolatilityPercent:  1.0,
		MaxDrawdownPercent: 15.0,
		Seed:               42,
	}, dataPath)
	s.Require().NoError(err)

	config := replay.EmptyConfig()
	config.PlaybookPath = filepath.Join(playbooksDir, "eurusd-meanrevert.yaml")
	config.DataPath = dataPath
	config.Symbols = []string{"EURUSD"}
	config.Timeframe = types.TimeframeM15
	config.Output = filepath.Join(s.tempDir, "results")

	runner, err := replay.NewRunner(config, s.logger)
	s.Require().NoError(err)

	stats, err := runner.Run(context.Background(), replay.Callbacks{})
	s.Require().NoError(err)
	s.Require().Len(stats, 1)

	result := stats[0]
	s.Equal("eurusd-meanrevert", result.Playbook.ID)

	// The playbook listens on the base timeframe only, so every bar is
	// evaluated and none are gated.
	s.Equal(3000, result.Cycles.Bars)
	s.Equal(3000, result.Cycles.Evaluated)
	s.Equal(0, result.Cycles.Gated)

	s.Contains([]string{"scanning", "holding"}, result.FinalPhase)
	s.GreaterOrEqual(result.Trades.Opened, result.Trades.Closed)
	s.LessOrEqual(result.Trades.Winning+result.Trades.Losing, result.Trades.Closed)

	s.FileExists(filepath.Join(config.Output, "stats.yaml"))
	s.FileExists(filepath.Join(config.Output, "snapshots.yaml"))
	s.FileExists(filepath.Join(config.Output, "journal.parquet"))

	// The stats file round-trips to the same report.
	raw, err := os.ReadFile(filepath.Join(config.Output, "stats.yaml"))
	s.Require().NoError(err)

	var written []types.ReplayStats
	s.Require().NoError(yaml.Unmarshal(raw, &written))
	s.Require().Len(written, 1)
	s.Equal(result.Symbol, written[0].Symbol)
	s.Equal(result.Cycles, written[0].Cycles)
	s.Equal(result.Trades, written[0].Trades)
}

func (s *ReplayE2ETestSuite) TestGoldBreakoutReplayAggregates() {
	dataPath := filepath.Join(s.tempDir, "xauusd_m15.parquet")

	// 4000 M15 bars starting on an H4 boundary aggregate into exactly 250
	// H4 bars with none left dangling.
	err := testhelper.GenerateAndWriteToParquet(testhelper.MockDataConfig{
		Symbol:            "XAUUSD",
		StartTime:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:          15 * time.Minute,
		NumDataPoints:     4000,
		Pattern:           testhelper.PatternIncreasing,
		InitialPrice:      2000.0,
		VolatilityPercent: 1.5,
		TrendStrength:     0.001,
		Seed:              7,
	}, dataPath)
	s.Require().NoError(err)

	config := replay.EmptyConfig()
	config.PlaybookPath = filepath.Join(playbooksDir, "gold-h4-breakout.yaml")
	config.DataPath = dataPath
	config.Symbols = []string{"XAUUSD"}
	config.Timeframe = types.TimeframeM15
	config.Output = filepath.Join(s.tempDir, "results")

	runner, err := replay.NewRunner(config, s.logger)
	s.Require().NoError(err)

	stats, err := runner.Run(context.Background(), replay.Callbacks{})
	s.Require().NoError(err)
	s.Require().Len(stats, 1)

	result := stats[0]
	s.Equal("gold-h4-breakout", result.Playbook.ID)

	s.Equal(4250, result.Cycles.Bars)
	s.Equal(result.Cycles.Bars, result.Cycles.Evaluated+result.Cycles.Gated)
	s.Positive(result.Cycles.Gated, "idle listens on H4 only, so base bars gate")

	s.Contains([]string{"idle", "wait_pullback", "in_position"}, result.FinalPhase)
	s.GreaterOrEqual(result.Trades.Opened, result.Trades.Closed)

	s.FileExists(filepath.Join(config.Output, "stats.yaml"))
	s.FileExists(filepath.Join(config.Output, "journal.parquet"))
}

func (s *ReplayE2ETestSuite) TestMACDTrendReplay() {
	dataPath := filepath.Join(s.tempDir, "btc_h4.parquet")

	// The data is already H4, so the playbook's own timeframe needs no
	// aggregation and every bar evaluates.
	err := testhelper.GenerateAndWriteToParquet(testhelper.MockDataConfig{
		Symbol:            "BTCUSDT",
		StartTime:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:          4 * time.Hour,
		NumDataPoints:     1500,
		Pattern:           testhelper.PatternDecreasing,
		InitialPrice:      60000.0,
		VolatilityPercent: 2.0,
		TrendStrength:     0.0005,
		Seed:              11,
	}, dataPath)
	s.Require().NoError(err)

	config := replay.EmptyConfig()
	config.PlaybookPath = filepath.Join(playbooksDir, "btc-macd-trend.yaml")
	config.DataPath = dataPath
	config.Symbols = []string{"BTCUSDT"}
	config.Timeframe = types.TimeframeH4
	config.Output = filepath.Join(s.tempDir, "results")

	runner, err := replay.NewRunner(config, s.logger)
	s.Require().NoError(err)

	stats, err := runner.Run(context.Background(), replay.Callbacks{})
	s.Require().NoError(err)
	s.Require().Len(stats, 1)

	result := stats[0]
	s.Equal(1500, result.Cycles.Bars)
	s.Equal(1500, result.Cycles.Evaluated)
	s.Contains([]string{"flat", "riding"}, result.FinalPhase)
}
