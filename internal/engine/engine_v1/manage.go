package engine

import (
	"context"
	"math"

	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/journal"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const lotPrecision = 4

// runManagement evaluates every management rule of the phase in declaration
// order. Unlike transitions, all rules are checked each cycle; effects apply
// immediately, so later rules observe earlier effects.
func (e *PlaybookEngineV1) runManagement(ctx context.Context, inst *instance, phase playbook.Phase, ectx expr.Context, event types.BarEvent) {
	for _, rule := range phase.Manage {
		if rule.Once {
			if _, fired := inst.firedOnce[rule.Name]; fired {
				continue
			}
		}

		satisfied, diagnostics := e.interp.EvaluateCondition(rule.When, ectx)
		e.recordDiagnostics(inst, "management rule "+rule.Name, diagnostics, event)

		if !satisfied {
			continue
		}

		applied, err := e.applyEffect(ctx, inst, ectx, rule, event)
		if err != nil {
			e.collaborators.Logger.Error("Management rule failed",
				zap.String("instance", inst.key().String()),
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
			e.journalRecord(journal.NewDiagnosticEntry(
				event.Bar.Time, inst.config.ID, inst.symbol, inst.phase,
				"management rule "+rule.Name, err.Error(),
			))

			continue
		}

		if rule.Once {
			inst.firedOnce[rule.Name] = struct{}{}
		}

		if applied {
			ectx.Trade = inst.tradeFields()
		}
	}
}

// applyEffect carries out the rule's single effect. It reports whether the
// position was actually changed; a trail candidate discarded by the
// tighten-only check is a clean no-op, not an error.
func (e *PlaybookEngineV1) applyEffect(ctx context.Context, inst *instance, ectx expr.Context, rule playbook.ManagementRule, event types.BarEvent) (bool, error) {
	switch {
	case rule.ModifyStopLoss != nil:
		level, err := e.interp.Evaluate(rule.ModifyStopLoss.Expr, ectx)
		if err != nil {
			return false, err
		}

		return e.modifyLevel(ctx, inst, rule.Name, types.ModifyKindStopLoss, types.EffectModifyStopLoss, level, event)
	case rule.ModifyTakeProfit != nil:
		level, err := e.interp.Evaluate(rule.ModifyTakeProfit.Expr, ectx)
		if err != nil {
			return false, err
		}

		return e.modifyLevel(ctx, inst, rule.Name, types.ModifyKindTakeProfit, types.EffectModifyTakeProfit, level, event)
	case rule.TrailStopLoss != nil:
		return e.trailStopLoss(ctx, inst, ectx, rule, event)
	case rule.PartialClose != nil:
		return e.partialClose(ctx, inst, rule, event)
	default:
		return false, errors.Newf(errors.ErrCodeInvalidEffect, "management rule %q has no effect", rule.Name)
	}
}

// modifyLevel sets the stop or target to the computed level.
func (e *PlaybookEngineV1) modifyLevel(ctx context.Context, inst *instance, ruleName string, kind types.ModifyKind, effect types.ManagementEffectKind, level float64, event types.BarEvent) (bool, error) {
	if !isFinite(level) {
		return false, errors.Newf(errors.ErrCodeInvariantViolation, "rule %q computed a non-finite level", ruleName)
	}

	intent := types.ModifyIntent{
		PlaybookID: inst.config.ID,
		Symbol:     inst.symbol,
		Ticket:     inst.ticket,
		Kind:       kind,
		Level:      level,
		Time:       event.Bar.Time,
	}

	if err := e.collaborators.Executor.ModifyTrade(ctx, intent); err != nil {
		return false, errors.Wrap(errors.ErrCodeOrderFailed, "modify intent rejected", err)
	}

	if kind == types.ModifyKindStopLoss {
		inst.sl = level
	} else {
		inst.tp = level
	}

	e.emitManagementEvent(inst, ruleName, effect, level, event)

	return true, nil
}

// trailStopLoss moves the stop to distance behind the current price. The
// stop only ever tightens, and only when the candidate moves at least step
// away from the current stop; both are enforced here regardless of what the
// distance and step expressions evaluate to.
func (e *PlaybookEngineV1) trailStopLoss(ctx context.Context, inst *instance, ectx expr.Context, rule playbook.ManagementRule, event types.BarEvent) (bool, error) {
	trail := rule.TrailStopLoss

	distance, err := e.interp.Evaluate(trail.Distance, ectx)
	if err != nil {
		return false, err
	}

	if !isFinite(distance) || distance < 0 {
		return false, errors.Newf(errors.ErrCodeInvariantViolation, "rule %q computed trail distance %v", rule.Name, distance)
	}

	var step float64

	if trail.Step.IsSome() {
		step, err = e.interp.Evaluate(trail.Step.Unwrap(), ectx)
		if err != nil {
			return false, err
		}

		if !isFinite(step) || step < 0 {
			return false, errors.Newf(errors.ErrCodeInvariantViolation, "rule %q computed trail step %v", rule.Name, step)
		}
	}

	var candidate, improvement float64

	if inst.direction == types.TradeDirectionShort {
		candidate = ectx.Price + distance
		improvement = inst.sl - candidate
	} else {
		candidate = ectx.Price - distance
		improvement = candidate - inst.sl
	}

	if inst.sl != 0 {
		if improvement <= 0 {
			e.collaborators.Logger.Debug("Trail candidate does not tighten stop, discarded",
				zap.String("instance", inst.key().String()),
				zap.String("rule", rule.Name),
				zap.Float64("candidate", candidate),
				zap.Float64("current", inst.sl),
			)

			return false, nil
		}

		if improvement < step {
			e.collaborators.Logger.Debug("Trail candidate within step of current stop, discarded",
				zap.String("instance", inst.key().String()),
				zap.String("rule", rule.Name),
				zap.Float64("candidate", candidate),
				zap.Float64("step", step),
			)

			return false, nil
		}
	}

	intent := types.ModifyIntent{
		PlaybookID: inst.config.ID,
		Symbol:     inst.symbol,
		Ticket:     inst.ticket,
		Kind:       types.ModifyKindStopLoss,
		Level:      candidate,
		Time:       event.Bar.Time,
	}

	if err := e.collaborators.Executor.ModifyTrade(ctx, intent); err != nil {
		return false, errors.Wrap(errors.ErrCodeOrderFailed, "modify intent rejected", err)
	}

	inst.sl = candidate
	e.emitManagementEvent(inst, rule.Name, types.EffectTrailStopLoss, candidate, event)

	return true, nil
}

// partialClose reduces the position by the configured percentage and tracks
// the remaining lot with 4-dp precision.
func (e *PlaybookEngineV1) partialClose(ctx context.Context, inst *instance, rule playbook.ManagementRule, event types.BarEvent) (bool, error) {
	percent := rule.PartialClose.Percent

	intent := types.ModifyIntent{
		PlaybookID:   inst.config.ID,
		Symbol:       inst.symbol,
		Ticket:       inst.ticket,
		Kind:         types.ModifyKindPartialClose,
		ClosePercent: percent,
		Time:         event.Bar.Time,
	}

	if err := e.collaborators.Executor.ModifyTrade(ctx, intent); err != nil {
		return false, errors.Wrap(errors.ErrCodeOrderFailed, "modify intent rejected", err)
	}

	remaining := decimal.NewFromFloat(inst.remainingLot()).
		Mul(decimal.NewFromFloat(100 - percent)).
		Div(decimal.NewFromInt(100)).
		Round(lotPrecision)
	lot, _ := remaining.Float64()

	inst.lot = lot
	inst.vars[varRemainingLot] = lot

	e.emitManagementEvent(inst, rule.Name, types.EffectPartialClose, percent, event)

	return true, nil
}

// emitManagementEvent journals one applied effect. The order modification
// itself already went to the executor as a modify intent.
func (e *PlaybookEngineV1) emitManagementEvent(inst *instance, ruleName string, effect types.ManagementEffectKind, value float64, event types.BarEvent) {
	managementEvent := types.ManagementEvent{
		PlaybookID: inst.config.ID,
		Symbol:     inst.symbol,
		Rule:       ruleName,
		Effect:     effect,
		Value:      value,
		Time:       event.Bar.Time,
	}

	e.journalRecord(journal.NewManagementEntry(inst.phase, managementEvent))
	e.collaborators.Logger.Debug("Management effect applied",
		zap.String("instance", inst.key().String()),
		zap.String("rule", ruleName),
		zap.String("effect", string(effect)),
		zap.Float64("value", value),
	)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
