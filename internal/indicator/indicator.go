// Package indicator computes technical indicator values from closed-bar
// series. Indicators are pure: they derive every output from the bars and
// parameters they are handed, so the same history always produces the same
// fields. The Provider adapts a Registry plus a bar History into the
// engine's DataProvider contract.
package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// Output field names. Expressions reference them as ind.<id>.<field>.
const (
	FieldValue  = "value"
	FieldMACD   = "macd"
	FieldSignal = "signal"
	FieldHist   = "hist"
	FieldUpper  = "upper"
	FieldMiddle = "middle"
	FieldLower  = "lower"
)

// Indicator computes one technical indicator over a closed-bar series.
type Indicator interface {
	// Name returns the name of the indicator.
	Name() types.IndicatorType
	// Compute derives the indicator's output fields from bars (oldest
	// first) and the per-reference parameters. It returns an
	// InsufficientDataError while the series is shorter than the
	// indicator's warm-up requirement.
	Compute(bars []types.Bar, params map[string]float64) (map[string]float64, error)
}

// periodParam reads an integer period parameter, falling back to def when
// the key is absent.
func periodParam(params map[string]float64, key string, def int) (int, error) {
	value, ok := params[key]
	if !ok {
		return def, nil
	}

	if value != math.Trunc(value) {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "parameter %q must be an integer, got %v", key, value)
	}

	period := int(value)
	if period <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidPeriod, "parameter %q must be a positive integer, got %d", key, period)
	}

	return period, nil
}

// floatParam reads a float parameter, falling back to def when the key is
// absent.
func floatParam(params map[string]float64, key string, def float64) float64 {
	if value, ok := params[key]; ok {
		return value
	}

	return def
}

// closes extracts the close series from bars, oldest first.
func closes(bars []types.Bar) []float64 {
	values := make([]float64, len(bars))
	for i, bar := range bars {
		values[i] = bar.Close
	}

	return values
}

// mean returns the arithmetic mean of values.
func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// emaSeries smooths values with alpha = 2/(period+1), seeding the first
// output with the simple average of the first period values. This matches
// the pandas ewm implementation with adjust=False. Output[i] corresponds to
// values[period-1+i]; the series is empty when len(values) < period.
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}

	alpha := 2.0 / float64(period+1)

	series := make([]float64, 0, len(values)-period+1)
	ema := mean(values[:period])
	series = append(series, ema)

	for i := period; i < len(values); i++ {
		ema = (values[i] * alpha) + (ema * (1 - alpha))
		series = append(series, ema)
	}

	return series
}

// seriesSymbol returns the symbol bars belong to, for error context.
func seriesSymbol(bars []types.Bar) string {
	if len(bars) == 0 {
		return ""
	}

	return bars[0].Symbol
}
