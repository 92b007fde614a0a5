package engine

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/journal"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"go.uber.org/zap"
)

// OnBarClose implements the engine.Engine interface.
func (e *PlaybookEngineV1) OnBarClose(ctx context.Context, event types.BarEvent) error {
	if !event.Timeframe.IsValid() {
		return errors.Newf(errors.ErrCodeInvalidTimeframe, "unknown timeframe %q", string(event.Timeframe))
	}

	for _, inst := range e.activeInstances() {
		if inst.symbol != event.Bar.Symbol {
			continue
		}

		if err := e.runCycle(ctx, inst, event); err != nil {
			return err
		}
	}

	return nil
}

// runCycle advances one instance by one bar-close event:
// gate, refresh, count, timeout, transitions, management, snapshot.
func (e *PlaybookEngineV1) runCycle(ctx context.Context, inst *instance, event types.BarEvent) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.pendingSnapshot != nil {
		if err := e.collaborators.Store.Save(ctx, *inst.pendingSnapshot); err == nil {
			inst.pendingSnapshot = nil
		}
	}

	phase, ok := inst.config.Phase(inst.phase)
	if !ok {
		return errors.Newf(errors.ErrCodeInvariantViolation, "instance %s is in undeclared phase %q", inst.key(), inst.phase)
	}

	// Step 1: gate. Phases listen on a subset of timeframes.
	if !phase.ListensOn(event.Timeframe) {
		return nil
	}

	inst.lastEventTime = event.Bar.Time

	// Step 2: refresh indicator values; last cycle's values become prev.*.
	current := e.refreshIndicators(ctx, inst)

	price, err := e.collaborators.Data.MidPrice(ctx, inst.symbol)
	if err != nil {
		e.collaborators.Logger.Debug("Mid price unavailable, using bar close",
			zap.String("instance", inst.key().String()),
			zap.Error(err),
		)

		price = event.Bar.Close
	}

	ectx := inst.exprContext(current, price)

	// Step 3: count.
	inst.barsInPhase++
	inst.tfBars[event.Timeframe]++

	// Step 4: timeout. A timeout transition executes no actions and
	// skips transition and management evaluation.
	if fired := e.applyTimeout(inst, phase, event); fired {
		e.emitSnapshot(ctx, inst, event.Bar.Time)
		inst.prev = current

		return nil
	}

	// Step 5: transitions.
	fired := e.runTransitions(ctx, inst, phase, ectx, event)

	// Step 6: management, only when no transition fired and a position
	// is open.
	if !fired && inst.ticket != "" {
		e.runManagement(ctx, inst, phase, ectx, event)
	}

	// Step 7: persist and roll the indicator cache forward.
	e.emitSnapshot(ctx, inst, event.Bar.Time)
	inst.prev = current

	return nil
}

// refreshIndicators pulls current values for every configured indicator
// reference. A reference that is still warming up or failing stays absent,
// which leaves its expressions unresolved for this cycle.
func (e *PlaybookEngineV1) refreshIndicators(ctx context.Context, inst *instance) map[string]map[string]float64 {
	current := make(map[string]map[string]float64, len(inst.config.Indicators))

	for _, ref := range inst.config.Indicators {
		values, err := e.collaborators.Data.IndicatorValues(ctx, inst.symbol, ref)
		if err != nil {
			if errors.IsInsufficientDataError(err) {
				e.collaborators.Logger.Debug("Indicator warming up",
					zap.String("instance", inst.key().String()),
					zap.String("indicator", ref.ID),
				)
			} else {
				e.collaborators.Logger.Warn("Indicator unavailable",
					zap.String("instance", inst.key().String()),
					zap.String("indicator", ref.ID),
					zap.Error(err),
				)
			}

			continue
		}

		current[ref.ID] = values
	}

	return current
}

// applyTimeout forces the phase's timeout transition once the bar counter
// on the timeout timeframe reaches the threshold.
func (e *PlaybookEngineV1) applyTimeout(inst *instance, phase playbook.Phase, event types.BarEvent) bool {
	timeout := phase.Timeout
	if timeout == nil || timeout.Timeframe != event.Timeframe {
		return false
	}

	if inst.tfBars[timeout.Timeframe] < timeout.Bars {
		return false
	}

	from := inst.phase
	inst.enterPhase(timeout.To)

	e.journalRecord(journal.NewTransitionEntry(
		event.Bar.Time, inst.config.ID, inst.symbol, from, timeout.To, "timeout",
	))
	e.collaborators.Logger.Info("Phase timed out",
		zap.String("instance", inst.key().String()),
		zap.String("from", from),
		zap.String("to", timeout.To),
		zap.Int("bars", timeout.Bars),
	)

	return true
}

// runTransitions evaluates the phase's transitions by descending priority,
// stable on declaration order. The first satisfied transition wins
// exclusively: its actions run in order, then the instance moves to the
// target phase.
func (e *PlaybookEngineV1) runTransitions(ctx context.Context, inst *instance, phase playbook.Phase, ectx expr.Context, event types.BarEvent) bool {
	for _, transition := range orderedTransitions(phase.Transitions) {
		satisfied, diagnostics := e.interp.EvaluateCondition(transition.When, ectx)
		e.recordDiagnostics(inst, "transition to "+transition.To, diagnostics, event)

		if !satisfied {
			continue
		}

		for _, action := range transition.Actions {
			if err := e.applyAction(ctx, inst, ectx, action, event); err != nil {
				e.collaborators.Logger.Error("Action failed",
					zap.String("instance", inst.key().String()),
					zap.String("action", action.Kind()),
					zap.Error(err),
				)
				e.journalRecord(journal.NewDiagnosticEntry(
					event.Bar.Time, inst.config.ID, inst.symbol, inst.phase,
					"action "+action.Kind(), err.Error(),
				))
			}
		}

		from := inst.phase
		inst.enterPhase(transition.To)

		e.journalRecord(journal.NewTransitionEntry(
			event.Bar.Time, inst.config.ID, inst.symbol, from, transition.To, "condition",
		))
		e.collaborators.Logger.Info("Phase transition",
			zap.String("instance", inst.key().String()),
			zap.String("from", from),
			zap.String("to", transition.To),
			zap.Int("priority", transition.Priority),
		)

		return true
	}

	return false
}

func orderedTransitions(transitions []playbook.Transition) []playbook.Transition {
	ordered := make([]playbook.Transition, len(transitions))
	copy(ordered, transitions)

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	return ordered
}

// applyAction executes one transition action. A failing action is skipped;
// the cycle and the remaining actions continue.
func (e *PlaybookEngineV1) applyAction(ctx context.Context, inst *instance, ectx expr.Context, action playbook.Action, event types.BarEvent) error {
	switch {
	case action.SetVariable != nil:
		value, err := e.interp.Evaluate(action.SetVariable.Expr, ectx)
		if err != nil {
			return err
		}

		inst.vars[action.SetVariable.Name] = value

		return nil
	case action.OpenTrade != nil:
		return e.openTrade(ctx, inst, ectx, action.OpenTrade, event)
	case action.CloseTrade != nil:
		return e.closeTrade(ctx, inst, event)
	case action.Log != nil:
		e.journalRecord(journal.NewLogEntry(
			event.Bar.Time, inst.config.ID, inst.symbol, inst.phase, action.Log.Message,
		))

		return nil
	default:
		return errors.New(errors.ErrCodeInvalidAction, "action has no populated variant")
	}
}

// openTrade evaluates the lot and protective levels, caches the computed
// stop and target as instance variables, and emits the open intent. Only
// one open position is permitted per instance.
func (e *PlaybookEngineV1) openTrade(ctx context.Context, inst *instance, ectx expr.Context, action *playbook.OpenTradeAction, event types.BarEvent) error {
	if inst.ticket != "" || inst.openPending {
		return errors.Newf(errors.ErrCodePositionAlreadyOpen, "instance %s already has an open position", inst.key())
	}

	lot, err := e.interp.Evaluate(action.Lot, ectx)
	if err != nil {
		return err
	}

	var stopLoss, takeProfit optional.Option[float64]

	if action.StopLoss.IsSome() {
		level, err := e.interp.Evaluate(action.StopLoss.Unwrap(), ectx)
		if err != nil {
			return err
		}

		stopLoss = optional.Some(level)
	}

	if action.TakeProfit.IsSome() {
		level, err := e.interp.Evaluate(action.TakeProfit.Unwrap(), ectx)
		if err != nil {
			return err
		}

		takeProfit = optional.Some(level)
	}

	if stopLoss.IsSome() {
		inst.vars[varInitialSL] = stopLoss.Unwrap()
	}

	if takeProfit.IsSome() {
		inst.vars[varInitialTP] = takeProfit.Unwrap()
	}

	intent := types.TradeIntent{
		ID:         uuid.New().String(),
		PlaybookID: inst.config.ID,
		Symbol:     inst.symbol,
		Direction:  action.Direction,
		Lot:        lot,
		Time:       event.Bar.Time,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}

	if err := intent.Validate(); err != nil {
		return err
	}

	inst.openPending = true

	if err := e.collaborators.Executor.OpenTrade(ctx, intent); err != nil {
		inst.openPending = false

		return errors.Wrap(errors.ErrCodeOrderFailed, "open intent rejected", err)
	}

	e.collaborators.Logger.Info("Open intent emitted",
		zap.String("instance", inst.key().String()),
		zap.String("direction", string(action.Direction)),
		zap.Float64("lot", lot),
	)

	return nil
}

// closeTrade emits a close intent for the open position.
func (e *PlaybookEngineV1) closeTrade(ctx context.Context, inst *instance, event types.BarEvent) error {
	if inst.ticket == "" {
		return errors.Newf(errors.ErrCodeNoOpenPosition, "instance %s has no open position", inst.key())
	}

	intent := types.CloseIntent{
		ID:         uuid.New().String(),
		PlaybookID: inst.config.ID,
		Symbol:     inst.symbol,
		Ticket:     inst.ticket,
		Time:       event.Bar.Time,
	}

	if err := e.collaborators.Executor.CloseTrade(ctx, intent); err != nil {
		return errors.Wrap(errors.ErrCodeOrderFailed, "close intent rejected", err)
	}

	return nil
}

// recordDiagnostics journals rule evaluation failures so a legitimate
// false stays distinguishable from a broken expression.
func (e *PlaybookEngineV1) recordDiagnostics(inst *instance, where string, diagnostics []expr.Diagnostic, event types.BarEvent) {
	for _, diagnostic := range diagnostics {
		e.collaborators.Logger.Debug("Rule evaluation failed",
			zap.String("instance", inst.key().String()),
			zap.String("where", where),
			zap.String("diagnostic", diagnostic.String()),
		)
		e.journalRecord(journal.NewDiagnosticEntry(
			event.Bar.Time, inst.config.ID, inst.symbol, inst.phase, where, diagnostic.String(),
		))
	}
}

func (e *PlaybookEngineV1) journalRecord(entry journal.Entry) {
	if err := e.collaborators.Journal.Record(entry); err != nil {
		e.collaborators.Logger.Warn("Failed to journal entry",
			zap.String("kind", string(entry.Kind)),
			zap.Error(err),
		)
	}
}
