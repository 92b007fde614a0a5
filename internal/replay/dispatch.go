package replay

import (
	"context"

	"github.com/rxtech-lab/argo-playbook/internal/engine"
	"github.com/rxtech-lab/argo-playbook/internal/execution"
	"github.com/rxtech-lab/argo-playbook/internal/indicator"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"go.uber.org/zap"
)

// Dispatcher routes one bar event through the collaborators in order:
// indicator history first, then simulated executions against the new bar,
// close confirmations, the engine cycle itself, and finally fill
// confirmations for anything the cycle opened.
type Dispatcher struct {
	engine  engine.Engine
	sim     *execution.Simulator
	history *indicator.History
	logger  *logger.Logger
	// observe, when set, sees each event after close confirmations have
	// been applied and before the cycle runs.
	observe func(event types.BarEvent)
}

// NewDispatcher wires a dispatcher over an engine, its simulator and the
// bar history feeding the indicator provider.
func NewDispatcher(eng engine.Engine, sim *execution.Simulator, history *indicator.History, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		engine:  eng,
		sim:     sim,
		history: history,
		logger:  logger,
	}
}

// Dispatch feeds one closed bar through the full cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, event types.BarEvent) error {
	d.history.Push(event)
	d.sim.MarkBar(event.Bar)
	d.drainCloses(ctx)

	if d.observe != nil {
		d.observe(event)
	}

	if err := d.engine.OnBarClose(ctx, event); err != nil {
		return err
	}

	for _, fill := range d.sim.TakeFills() {
		if err := d.engine.NotifyTradeOpened(ctx, fill.PlaybookID, fill.Symbol, fill.Fill); err != nil {
			d.logger.Warn("Fill confirmation not applied",
				zap.String("playbook", fill.PlaybookID),
				zap.String("symbol", fill.Symbol),
				zap.Error(err))
		}
	}

	d.drainCloses(ctx)

	return nil
}

// drainCloses reports buffered close confirmations to the engine.
func (d *Dispatcher) drainCloses(ctx context.Context) {
	for _, pending := range d.sim.TakeCloses() {
		if err := d.engine.NotifyTradeClosed(ctx, pending.PlaybookID, pending.Symbol); err != nil {
			d.logger.Warn("Close confirmation not applied",
				zap.String("playbook", pending.PlaybookID),
				zap.String("symbol", pending.Symbol),
				zap.Error(err))
		}
	}
}
