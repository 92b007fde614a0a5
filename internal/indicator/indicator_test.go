package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

const testSymbol = "XAUUSD"

var testBase = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// barsFromCloses builds a bar series with the given closes, one bar per 15
// minutes, with a one-point range around each close.
func barsFromCloses(values ...float64) []types.Bar {
	bars := make([]types.Bar, len(values))
	for i, value := range values {
		bars[i] = types.Bar{
			Symbol: testSymbol,
			Time:   testBase.Add(time.Duration(i) * 15 * time.Minute),
			Open:   value,
			High:   value + 1,
			Low:    value - 1,
			Close:  value,
			Volume: 1000,
		}
	}

	return bars
}

type HelpersTestSuite struct {
	suite.Suite
}

func TestHelpersSuite(t *testing.T) {
	suite.Run(t, new(HelpersTestSuite))
}

func (suite *HelpersTestSuite) TestEMASeriesSeedsWithSimpleAverage() {
	series := emaSeries([]float64{1, 2, 3, 4, 5}, 3)

	suite.Require().Len(series, 3)
	suite.InDelta(2.0, series[0], 1e-9)
	suite.InDelta(3.0, series[1], 1e-9)
	suite.InDelta(4.0, series[2], 1e-9)
}

func (suite *HelpersTestSuite) TestEMASeriesEmptyBelowPeriod() {
	suite.Nil(emaSeries([]float64{1, 2}, 3))
}

func (suite *HelpersTestSuite) TestPeriodParamFallsBackToDefault() {
	period, err := periodParam(nil, "period", 14)

	suite.Require().NoError(err)
	suite.Equal(14, period)
}

func (suite *HelpersTestSuite) TestPeriodParamRejectsFraction() {
	_, err := periodParam(map[string]float64{"period": 2.5}, "period", 14)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *HelpersTestSuite) TestPeriodParamRejectsNonPositive() {
	_, err := periodParam(map[string]float64{"period": -3}, "period", 14)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidPeriod))
}

func (suite *HelpersTestSuite) TestFloatParamFallsBackToDefault() {
	suite.InDelta(2.0, floatParam(nil, "std_dev", 2.0), 1e-9)
	suite.InDelta(1.5, floatParam(map[string]float64{"std_dev": 1.5}, "std_dev", 2.0), 1e-9)
}
