package market

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

// Rows are written out of order on purpose; streaming must sort by time.
const replayCSV = `time,symbol,open,high,low,close,volume
2024-03-04 09:30:00,XAUUSD,2702.0,2703.0,2701.0,2703.0,1200.0
2024-03-04 09:00:00,XAUUSD,2700.0,2701.0,2699.0,2701.0,1000.0
2024-03-04 09:15:00,XAUUSD,2701.0,2702.0,2700.0,2702.0,1100.0
`

type ReplayTestSuite struct {
	suite.Suite
	logger   *logger.Logger
	dataPath string
}

func (suite *ReplayTestSuite) SetupSuite() {
	log, err := logger.NewLogger()
	suite.Require().NoError(err)
	suite.logger = log
}

func (suite *ReplayTestSuite) SetupTest() {
	suite.dataPath = filepath.Join(suite.T().TempDir(), "bars.csv")
	suite.Require().NoError(os.WriteFile(suite.dataPath, []byte(replayCSV), 0o600))
}

func (suite *ReplayTestSuite) newSource(opts ReplayOptions) *ReplaySource {
	source, err := NewReplaySource(suite.dataPath, opts, suite.logger)
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { _ = source.Close() })

	return source
}

func (suite *ReplayTestSuite) collect(source *ReplaySource) []types.BarEvent {
	var events []types.BarEvent

	for event, err := range source.Stream(context.Background()) {
		suite.Require().NoError(err)
		events = append(events, event)
	}

	return events
}

func (suite *ReplayTestSuite) TestStreamsBarsInChronologicalOrder() {
	source := suite.newSource(ReplayOptions{Timeframe: types.TimeframeM15})

	events := suite.collect(source)

	suite.Require().Len(events, 3)
	suite.Equal(2701.0, events[0].Bar.Close)
	suite.Equal(2702.0, events[1].Bar.Close)
	suite.Equal(2703.0, events[2].Bar.Close)
	suite.True(events[0].Bar.Time.Equal(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)))
	suite.Equal("XAUUSD", events[0].Bar.Symbol)

	for _, event := range events {
		suite.Equal(types.TimeframeM15, event.Timeframe)
	}
}

func (suite *ReplayTestSuite) TestCountReportsRowsInRange() {
	full := suite.newSource(ReplayOptions{Timeframe: types.TimeframeM15})

	count, err := full.Count()
	suite.Require().NoError(err)
	suite.Equal(3, count)

	bounded := suite.newSource(ReplayOptions{
		Timeframe: types.TimeframeM15,
		Start:     optional.Some(time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)),
		End:       optional.Some(time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)),
	})

	count, err = bounded.Count()
	suite.Require().NoError(err)
	suite.Equal(1, count)
}

func (suite *ReplayTestSuite) TestStreamHonorsTimeRange() {
	source := suite.newSource(ReplayOptions{
		Timeframe: types.TimeframeM15,
		Start:     optional.Some(time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)),
	})

	events := suite.collect(source)

	suite.Require().Len(events, 2)
	suite.Equal(2702.0, events[0].Bar.Close)
	suite.Equal(2703.0, events[1].Bar.Close)
}

func (suite *ReplayTestSuite) TestStopsWhenContextCanceled() {
	source := suite.newSource(ReplayOptions{Timeframe: types.TimeframeM15})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	count := 0
	for _, err := range source.Stream(ctx) {
		suite.Require().NoError(err)

		count++
	}

	suite.Zero(count)
}

func (suite *ReplayTestSuite) TestRejectsUnsupportedFile() {
	_, err := NewReplaySource(filepath.Join(suite.T().TempDir(), "bars.txt"), ReplayOptions{Timeframe: types.TimeframeM15}, suite.logger)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataSourceUnavailable))
}

func (suite *ReplayTestSuite) TestRejectsInvalidTimeframe() {
	_, err := NewReplaySource(suite.dataPath, ReplayOptions{Timeframe: types.Timeframe("15min")}, suite.logger)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidTimeframe))
}

func TestReplaySuite(t *testing.T) {
	suite.Run(t, new(ReplayTestSuite))
}
