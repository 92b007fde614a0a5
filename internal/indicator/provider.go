package indicator

import (
	"context"

	"github.com/rxtech-lab/argo-playbook/internal/engine"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// Provider adapts a bar History and an indicator Registry into the engine's
// DataProvider contract. The event loop pushes closed bars into the History
// before dispatching the bar event to the engine.
type Provider struct {
	history  *History
	registry Registry
}

var _ engine.DataProvider = (*Provider)(nil)

// NewProvider creates a Provider over history and registry.
func NewProvider(history *History, registry Registry) *Provider {
	return &Provider{
		history:  history,
		registry: registry,
	}
}

// IndicatorValues computes the reference's output fields from the bars
// retained for the reference's own timeframe. Warm-up shortfalls surface as
// InsufficientDataError so callers can treat the reference as unresolved
// rather than failed.
func (p *Provider) IndicatorValues(ctx context.Context, symbol string, ref playbook.IndicatorRef) (map[string]float64, error) {
	ind, err := p.registry.Get(ref.Type)
	if err != nil {
		return nil, err
	}

	bars := p.history.Bars(symbol, ref.Timeframe)

	return ind.Compute(bars, ref.Params)
}

// MidPrice returns the close of the most recent bar seen for the symbol on
// any timeframe.
func (p *Provider) MidPrice(ctx context.Context, symbol string) (float64, error) {
	bar, ok := p.history.Last(symbol)
	if !ok {
		return 0, errors.Newf(errors.ErrCodeDataSourceUnavailable, "no bars received for symbol %s", symbol)
	}

	return bar.Close, nil
}
