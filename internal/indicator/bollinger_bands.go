package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

const (
	defaultBollingerPeriod = 20
	defaultBollingerStdDev = 2.0
)

// BollingerBands computes the Bollinger Bands around a simple moving
// average. Parameters: period (default 20), std_dev (default 2).
type BollingerBands struct{}

// NewBollingerBands creates a new Bollinger Bands indicator.
func NewBollingerBands() Indicator {
	return &BollingerBands{}
}

// Name returns the name of the indicator.
func (bb *BollingerBands) Name() types.IndicatorType {
	return types.IndicatorTypeBollingerBands
}

// Compute calculates the middle band as the SMA of the most recent period
// closes and the outer bands at std_dev standard deviations around it.
// Output fields: upper, middle, lower.
func (bb *BollingerBands) Compute(bars []types.Bar, params map[string]float64) (map[string]float64, error) {
	period, err := periodParam(params, "period", defaultBollingerPeriod)
	if err != nil {
		return nil, err
	}

	multiplier := floatParam(params, "std_dev", defaultBollingerStdDev)
	if multiplier <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "parameter %q must be a positive number, got %v", "std_dev", multiplier)
	}

	if len(bars) < period {
		return nil, errors.NewInsufficientDataErrorf(period, len(bars), seriesSymbol(bars), "insufficient bars for Bollinger Bands: required %d, got %d", period, len(bars))
	}

	window := closes(bars[len(bars)-period:])
	middle := mean(window)

	var squaredDiffSum float64

	for _, value := range window {
		diff := value - middle
		squaredDiffSum += diff * diff
	}

	stdDev := math.Sqrt(squaredDiffSum / float64(period))

	return map[string]float64{
		FieldUpper:  middle + (multiplier * stdDev),
		FieldMiddle: middle,
		FieldLower:  middle - (multiplier * stdDev),
	}, nil
}
