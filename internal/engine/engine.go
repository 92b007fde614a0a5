// Package engine defines the contract between the playbook state machine
// and the collaborators that feed it data and carry out its intents.
package engine

import (
	"context"

	"github.com/rxtech-lab/argo-playbook/internal/journal"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/store"
	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// DataProvider supplies indicator values and prices to evaluation cycles.
type DataProvider interface {
	// IndicatorValues computes the current values for one configured
	// indicator reference from that reference's own timeframe history.
	// It returns an InsufficientDataError while the history is still
	// warming up.
	IndicatorValues(ctx context.Context, symbol string, ref playbook.IndicatorRef) (map[string]float64, error)
	// MidPrice returns the current mid price for the symbol.
	MidPrice(ctx context.Context, symbol string) (float64, error)
}

// Executor carries out the engine's trade intents. The engine never places
// orders itself; fills and closes are reported back through the engine's
// notify methods.
type Executor interface {
	// OpenTrade submits an open intent. The resulting fill is reported
	// through Engine.NotifyTradeOpened.
	OpenTrade(ctx context.Context, intent types.TradeIntent) error
	// CloseTrade submits a close intent for the open position. Completion
	// is reported through Engine.NotifyTradeClosed.
	CloseTrade(ctx context.Context, intent types.CloseIntent) error
	// ModifyTrade adjusts the open position's protective levels or size.
	ModifyTrade(ctx context.Context, intent types.ModifyIntent) error
}

// Collaborators bundles everything an engine needs from the outside world.
// All fields are required.
type Collaborators struct {
	Data     DataProvider
	Executor Executor
	Store    store.SnapshotStore
	Journal  journal.Journal
	Logger   *logger.Logger
}

type Engine interface {
	// Activate creates an instance of the playbook for the symbol with
	// variables initialized to their declared defaults, resuming from a
	// stored snapshot when one exists. The config is validated before
	// activation; activating the same (playbook, symbol) twice is an error.
	Activate(ctx context.Context, config *playbook.Config, symbol string) error
	// Deactivate destroys the instance and deletes its stored snapshot.
	Deactivate(ctx context.Context, playbookID string, symbol string) error
	// OnBarClose runs one evaluation cycle for every instance trading the
	// event's symbol. Events for the same symbol must be delivered in
	// order; the engine serializes cycles per instance.
	OnBarClose(ctx context.Context, event types.BarEvent) error
	// NotifyTradeOpened reports a confirmed fill for an earlier open-trade
	// intent. It populates the instance's position fields and the derived
	// remaining_lot and initial_risk variables.
	NotifyTradeOpened(ctx context.Context, playbookID string, symbol string, fill types.Fill) error
	// NotifyTradeClosed reports that the open position was flattened. It
	// clears the position fields and fired-once memory and takes the
	// phase's on_trade_closed transition when declared.
	NotifyTradeClosed(ctx context.Context, playbookID string, symbol string) error
	// Snapshot returns the instance's current state.
	Snapshot(playbookID string, symbol string) (types.Snapshot, error)
	// FlushSnapshots persists the current snapshot of every active
	// instance, retrying any earlier failed save.
	FlushSnapshots(ctx context.Context) error
}
