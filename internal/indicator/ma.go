package indicator

import (
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

const defaultMAPeriod = 20

// MA computes the Simple Moving Average of the close series.
// Parameters: period (default 20).
type MA struct{}

// NewMA creates a new MA indicator.
func NewMA() Indicator {
	return &MA{}
}

// Name returns the name of the indicator.
func (m *MA) Name() types.IndicatorType {
	return types.IndicatorTypeMA
}

// Compute averages the most recent period closes. Output field: value.
func (m *MA) Compute(bars []types.Bar, params map[string]float64) (map[string]float64, error) {
	period, err := periodParam(params, "period", defaultMAPeriod)
	if err != nil {
		return nil, err
	}

	if len(bars) < period {
		return nil, errors.NewInsufficientDataErrorf(period, len(bars), seriesSymbol(bars), "insufficient bars for MA: required %d, got %d", period, len(bars))
	}

	window := closes(bars[len(bars)-period:])

	return map[string]float64{FieldValue: mean(window)}, nil
}
