package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// Names of the variables the engine maintains on behalf of every playbook.
// They are implicitly declared; playbook expressions may read them and
// set_variable actions may overwrite them.
const (
	varInitialSL    = "initial_sl"
	varInitialTP    = "initial_tp"
	varInitialRisk  = "initial_risk"
	varRemainingLot = "remaining_lot"
)

// instance is the mutable runtime state of one (playbook, symbol) pair.
// Its mutex serializes evaluation cycles and notify callbacks; the engine
// never runs two cycles for the same instance concurrently.
type instance struct {
	mu sync.Mutex

	config *playbook.Config
	symbol string

	phase       string
	vars        map[string]float64
	barsInPhase int
	tfBars      map[types.Timeframe]int
	firedOnce   map[string]struct{}

	// Open-position fields, zero while flat. A zero stop or target means
	// none is set.
	ticket    string
	direction types.TradeDirection
	openPrice float64
	lot       float64
	sl        float64
	tp        float64

	// openPending is set between emitting an open-trade intent and the
	// fill callback, so a later cycle cannot double-open.
	openPending bool

	// prev holds the previous evaluated cycle's indicator values, exposed
	// to expressions as prev.*.
	prev map[string]map[string]float64

	// pendingSnapshot is retained when a store save failed; it is retried
	// on the next dispatch and by FlushSnapshots.
	pendingSnapshot *types.Snapshot

	lastEventTime time.Time
}

func newInstance(config *playbook.Config, symbol string) *instance {
	return &instance{
		config:    config,
		symbol:    symbol,
		phase:     config.InitialPhase,
		vars:      config.DefaultVariables(),
		tfBars:    make(map[types.Timeframe]int),
		firedOnce: make(map[string]struct{}),
	}
}

func (inst *instance) key() types.InstanceKey {
	return types.InstanceKey{PlaybookID: inst.config.ID, Symbol: inst.symbol}
}

// enterPhase moves the instance to the named phase and resets phase-local
// state. Variables persist across transitions.
func (inst *instance) enterPhase(to string) {
	inst.phase = to
	inst.barsInPhase = 0
	inst.tfBars = make(map[types.Timeframe]int)
	inst.firedOnce = make(map[string]struct{})
}

// clearPosition resets the open-position fields after a confirmed close.
func (inst *instance) clearPosition() {
	inst.ticket = ""
	inst.direction = ""
	inst.openPrice = 0
	inst.lot = 0
	inst.sl = 0
	inst.tp = 0
	inst.openPending = false
}

// tradeFields builds the trade.* view for expressions. It returns nil while
// the instance is flat, which makes every trade.* reference unresolved.
func (inst *instance) tradeFields() map[string]float64 {
	if inst.ticket == "" {
		return nil
	}

	return map[string]float64{
		expr.TradeFieldOpenPrice: inst.openPrice,
		expr.TradeFieldLot:       inst.lot,
		expr.TradeFieldSL:        inst.sl,
		expr.TradeFieldTP:        inst.tp,
		expr.TradeFieldDirection: inst.direction.Sign(),
	}
}

// exprContext assembles the read-only view one evaluation cycle sees.
// Vars is the live variable map so actions and effects applied earlier in
// the cycle are visible to later expressions.
func (inst *instance) exprContext(current map[string]map[string]float64, price float64) expr.Context {
	return expr.Context{
		Indicators: current,
		Prev:       inst.prev,
		Vars:       inst.vars,
		Trade:      inst.tradeFields(),
		Risk:       inst.config.Risk.Fields(),
		Price:      price,
		HasPrice:   true,
	}
}

// remainingLot returns the position size after partial closes.
func (inst *instance) remainingLot() float64 {
	if lot, ok := inst.vars[varRemainingLot]; ok {
		return lot
	}

	return inst.lot
}

// snapshot copies the instance state into its persisted form.
func (inst *instance) snapshot(at time.Time) types.Snapshot {
	tfBars := make(map[types.Timeframe]int, len(inst.tfBars))
	for tf, n := range inst.tfBars {
		tfBars[tf] = n
	}

	vars := make(map[string]float64, len(inst.vars))
	for name, value := range inst.vars {
		vars[name] = value
	}

	firedOnce := make([]string, 0, len(inst.firedOnce))
	for name := range inst.firedOnce {
		firedOnce = append(firedOnce, name)
	}
	sort.Strings(firedOnce)

	return types.Snapshot{
		PlaybookID:    inst.config.ID,
		Symbol:        inst.symbol,
		Phase:         inst.phase,
		BarsInPhase:   inst.barsInPhase,
		TimeframeBars: tfBars,
		Variables:     vars,
		FiredOnce:     firedOnce,
		OpenTicket:    inst.ticket,
		OpenDirection: inst.direction,
		UpdatedAt:     at,
	}
}

// restore overlays a stored snapshot onto a freshly created instance.
// Position fields beyond the ticket and direction are the execution
// collaborator's to re-supply after a restart.
func (inst *instance) restore(snapshot types.Snapshot) {
	inst.phase = snapshot.Phase
	inst.barsInPhase = snapshot.BarsInPhase

	inst.tfBars = make(map[types.Timeframe]int, len(snapshot.TimeframeBars))
	for tf, n := range snapshot.TimeframeBars {
		inst.tfBars[tf] = n
	}

	for name, value := range snapshot.Variables {
		inst.vars[name] = value
	}

	inst.firedOnce = make(map[string]struct{}, len(snapshot.FiredOnce))
	for _, name := range snapshot.FiredOnce {
		inst.firedOnce[name] = struct{}{}
	}

	inst.ticket = snapshot.OpenTicket
	inst.direction = snapshot.OpenDirection
	inst.lastEventTime = snapshot.UpdatedAt
}
