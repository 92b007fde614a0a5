package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

const defaultATRPeriod = 14

// ATR computes the Average True Range. Parameters: period (default 14).
type ATR struct{}

// NewATR creates a new ATR indicator.
func NewATR() Indicator {
	return &ATR{}
}

// Name returns the name of the indicator.
func (a *ATR) Name() types.IndicatorType {
	return types.IndicatorTypeATR
}

// Compute calculates the ATR over the bar series using Wilder's smoothing.
// Output field: value.
func (a *ATR) Compute(bars []types.Bar, params map[string]float64) (map[string]float64, error) {
	period, err := periodParam(params, "period", defaultATRPeriod)
	if err != nil {
		return nil, err
	}

	// The true range of a bar needs the previous bar's close.
	required := period + 1
	if len(bars) < required {
		return nil, errors.NewInsufficientDataErrorf(required, len(bars), seriesSymbol(bars), "insufficient bars for ATR: required %d, got %d", required, len(bars))
	}

	ranges := make([]float64, 0, len(bars)-1)

	for i := 1; i < len(bars); i++ {
		tr := math.Max(
			bars[i].High-bars[i].Low,
			math.Max(
				math.Abs(bars[i].High-bars[i-1].Close),
				math.Abs(bars[i].Low-bars[i-1].Close),
			),
		)
		ranges = append(ranges, tr)
	}

	atr := mean(ranges[:period])
	for i := period; i < len(ranges); i++ {
		atr = (atr*float64(period-1) + ranges[i]) / float64(period)
	}

	return map[string]float64{FieldValue: atr}, nil
}
