package indicator

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

type EMATestSuite struct {
	suite.Suite
	ema Indicator
}

func TestEMASuite(t *testing.T) {
	suite.Run(t, new(EMATestSuite))
}

func (suite *EMATestSuite) SetupTest() {
	suite.ema = NewEMA()
}

func (suite *EMATestSuite) TestName() {
	suite.Equal(types.IndicatorTypeEMA, suite.ema.Name())
}

func (suite *EMATestSuite) TestSmoothedValue() {
	// Seed SMA(1,2,3) = 2, alpha 0.5: 4 -> 3, 5 -> 4.
	values, err := suite.ema.Compute(barsFromCloses(1, 2, 3, 4, 5), map[string]float64{"period": 3})

	suite.Require().NoError(err)
	suite.InDelta(4.0, values[FieldValue], 1e-9)
}

func (suite *EMATestSuite) TestExactlyPeriodBarsIsSeedAverage() {
	values, err := suite.ema.Compute(barsFromCloses(2, 4, 6), map[string]float64{"period": 3})

	suite.Require().NoError(err)
	suite.InDelta(4.0, values[FieldValue], 1e-9)
}

func (suite *EMATestSuite) TestWarmUpError() {
	values, err := suite.ema.Compute(barsFromCloses(1, 2), map[string]float64{"period": 3})

	suite.Nil(values)
	suite.Require().Error(err)
	suite.True(errors.IsInsufficientDataError(err))

	var insufficientErr *errors.InsufficientDataError

	suite.Require().ErrorAs(err, &insufficientErr)
	suite.Equal(3, insufficientErr.Required)
	suite.Equal(2, insufficientErr.Actual)
}

func (suite *EMATestSuite) TestRejectsFractionalPeriod() {
	_, err := suite.ema.Compute(barsFromCloses(1, 2, 3), map[string]float64{"period": 2.5})

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}
