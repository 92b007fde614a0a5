package indicator

import (
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

const defaultRSIPeriod = 14

// RSI computes the Relative Strength Index. Parameters: period (default 14).
type RSI struct{}

// NewRSI creates a new RSI indicator.
func NewRSI() Indicator {
	return &RSI{}
}

// Name returns the name of the indicator.
func (r *RSI) Name() types.IndicatorType {
	return types.IndicatorTypeRSI
}

// Compute calculates RSI over the close series using Wilder's smoothing.
// Output field: value.
func (r *RSI) Compute(bars []types.Bar, params map[string]float64) (map[string]float64, error) {
	period, err := periodParam(params, "period", defaultRSIPeriod)
	if err != nil {
		return nil, err
	}

	// One extra bar is needed for the first price change.
	required := period + 1
	if len(bars) < required {
		return nil, errors.NewInsufficientDataErrorf(required, len(bars), seriesSymbol(bars), "insufficient bars for RSI: required %d, got %d", required, len(bars))
	}

	gains := make([]float64, 0, len(bars)-1)
	losses := make([]float64, 0, len(bars)-1)

	for i := 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	// First averages are simple means over the initial period.
	avgGain := mean(gains[:period])
	avgLoss := mean(losses[:period])

	// Subsequent averages use Wilder's smoothing method.
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		return map[string]float64{FieldValue: 100}, nil
	}

	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))

	return map[string]float64{FieldValue: rsi}, nil
}
