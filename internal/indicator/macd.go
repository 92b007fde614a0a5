package indicator

import (
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

const (
	defaultMACDFastPeriod   = 12
	defaultMACDSlowPeriod   = 26
	defaultMACDSignalPeriod = 9
)

// MACD computes the Moving Average Convergence Divergence line, its signal
// line, and the histogram. Parameters: fast (default 12), slow (default 26),
// signal (default 9).
type MACD struct{}

// NewMACD creates a new MACD indicator.
func NewMACD() Indicator {
	return &MACD{}
}

// Name returns the name of the indicator.
func (m *MACD) Name() types.IndicatorType {
	return types.IndicatorTypeMACD
}

// Compute calculates the MACD line as fast EMA minus slow EMA, the signal
// line as an EMA of the MACD series, and hist as their difference.
// Output fields: macd, signal, hist.
func (m *MACD) Compute(bars []types.Bar, params map[string]float64) (map[string]float64, error) {
	fast, err := periodParam(params, "fast", defaultMACDFastPeriod)
	if err != nil {
		return nil, err
	}

	slow, err := periodParam(params, "slow", defaultMACDSlowPeriod)
	if err != nil {
		return nil, err
	}

	signal, err := periodParam(params, "signal", defaultMACDSignalPeriod)
	if err != nil {
		return nil, err
	}

	if fast >= slow {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "fast period %d must be shorter than slow period %d", fast, slow)
	}

	// The signal line needs signal MACD values, the first of which exists
	// once the slow EMA is seeded.
	required := slow + signal - 1
	if len(bars) < required {
		return nil, errors.NewInsufficientDataErrorf(required, len(bars), seriesSymbol(bars), "insufficient bars for MACD: required %d, got %d", required, len(bars))
	}

	values := closes(bars)
	fastSeries := emaSeries(values, fast)
	slowSeries := emaSeries(values, slow)

	// Both series end at the latest bar; align the fast series to the slow
	// series' start.
	offset := slow - fast
	macdSeries := make([]float64, len(slowSeries))

	for i := range slowSeries {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}

	signalSeries := emaSeries(macdSeries, signal)

	macdValue := macdSeries[len(macdSeries)-1]
	signalValue := signalSeries[len(signalSeries)-1]

	return map[string]float64{
		FieldMACD:   macdValue,
		FieldSignal: signalValue,
		FieldHist:   macdValue - signalValue,
	}, nil
}
