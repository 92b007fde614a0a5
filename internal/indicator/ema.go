package indicator

import (
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

const defaultEMAPeriod = 20

// EMA computes the Exponential Moving Average of the close series.
// Parameters: period (default 20).
type EMA struct{}

// NewEMA creates a new EMA indicator.
func NewEMA() Indicator {
	return &EMA{}
}

// Name returns the name of the indicator.
func (e *EMA) Name() types.IndicatorType {
	return types.IndicatorTypeEMA
}

// Compute calculates the EMA with alpha = 2/(period+1), seeded with the
// simple average of the first period closes. Output field: value.
func (e *EMA) Compute(bars []types.Bar, params map[string]float64) (map[string]float64, error) {
	period, err := periodParam(params, "period", defaultEMAPeriod)
	if err != nil {
		return nil, err
	}

	if len(bars) < period {
		return nil, errors.NewInsufficientDataErrorf(period, len(bars), seriesSymbol(bars), "insufficient bars for EMA: required %d, got %d", period, len(bars))
	}

	series := emaSeries(closes(bars), period)

	return map[string]float64{FieldValue: series[len(series)-1]}, nil
}
