package playbook

import (
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/version"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// Runtime variables every instance owns without declaring them: open_trade
// caches the computed stop loss and take profit, the fill callback derives
// the initial risk distance, and partial closes maintain the remaining lot.
var implicitVariables = map[string]struct{}{
	"initial_sl":    {},
	"initial_tp":    {},
	"initial_risk":  {},
	"remaining_lot": {},
}

var tradeFields = map[string]struct{}{
	expr.TradeFieldOpenPrice: {},
	expr.TradeFieldLot:       {},
	expr.TradeFieldSL:        {},
	expr.TradeFieldTP:        {},
	expr.TradeFieldDirection: {},
}

// Validate checks the whole document and returns the first problem found as
// a coded error naming the offending phase or field. Every phase reference
// must resolve, every expression must parse, and every reference inside an
// expression must point at a declared indicator or variable, so a playbook
// that validates cannot fail on a dangling name partway through a cycle.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid playbook configuration", err)
	}

	if c.Schema != SchemaV1 {
		return errors.Newf(errors.ErrCodeInvalidSchema, "unsupported schema %q, expected %q", c.Schema, SchemaV1)
	}

	if c.MinEngineVersion.IsSome() {
		if err := version.CheckPlaybookCompatibility(version.Version, c.MinEngineVersion.Unwrap()); err != nil {
			return errors.Wrap(errors.ErrCodeVersionMismatch, "playbook is not compatible with this engine", err)
		}
	}

	indicators, err := c.validateIndicators()
	if err != nil {
		return err
	}

	for name := range c.Variables {
		if !expr.IsIdentifier(name) {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "variable name %q cannot be referenced from expressions", name)
		}
	}

	if _, ok := c.Phases[c.InitialPhase]; !ok {
		return errors.Newf(errors.ErrCodeUnknownPhase, "initial_phase %q is not a declared phase", c.InitialPhase)
	}

	interp := expr.NewInterpreter()

	for _, name := range sortedPhaseNames(c.Phases) {
		if err := c.validatePhase(interp, name, c.Phases[name], indicators); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateIndicators() (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(c.Indicators))

	for _, ref := range c.Indicators {
		if !expr.IsIdentifier(ref.ID) {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "indicator id %q cannot be referenced from expressions", ref.ID)
		}

		if _, dup := ids[ref.ID]; dup {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "duplicate indicator id %q", ref.ID)
		}

		if !ref.Timeframe.IsValid() {
			return nil, errors.Newf(errors.ErrCodeInvalidTimeframe, "indicator %q has unknown timeframe %q", ref.ID, ref.Timeframe)
		}

		ids[ref.ID] = struct{}{}
	}

	return ids, nil
}

func (c *Config) validatePhase(interp *expr.Interpreter, name string, phase Phase, indicators map[string]struct{}) error {
	for _, tf := range phase.EvaluateOn {
		if !tf.IsValid() {
			return errors.Newf(errors.ErrCodeInvalidTimeframe, "phase %q evaluates on unknown timeframe %q", name, tf)
		}
	}

	if phase.Timeout != nil {
		if _, ok := c.Phases[phase.Timeout.To]; !ok {
			return errors.Newf(errors.ErrCodeUnknownPhase, "phase %q: timeout targets unknown phase %q", name, phase.Timeout.To)
		}

		if !phase.ListensOn(phase.Timeout.Timeframe) {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "phase %q: timeout counts timeframe %q which the phase does not evaluate on", name, phase.Timeout.Timeframe)
		}
	}

	if phase.OnTradeClosed.IsSome() {
		target := phase.OnTradeClosed.Unwrap()
		if _, ok := c.Phases[target]; !ok {
			return errors.Newf(errors.ErrCodeUnknownPhase, "phase %q: on_trade_closed targets unknown phase %q", name, target)
		}
	}

	for i, transition := range phase.Transitions {
		if _, ok := c.Phases[transition.To]; !ok {
			return errors.Newf(errors.ErrCodeUnknownPhase, "phase %q: transition %d targets unknown phase %q", name, i, transition.To)
		}

		if err := c.validateCondition(interp, name, transition.When, indicators); err != nil {
			return err
		}

		for _, action := range transition.Actions {
			if err := c.validateAction(interp, name, action, indicators); err != nil {
				return err
			}
		}
	}

	ruleNames := make(map[string]struct{}, len(phase.Manage))

	for _, rule := range phase.Manage {
		if err := c.validateManagementRule(interp, name, rule, indicators, ruleNames); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateCondition(interp *expr.Interpreter, phase string, cond expr.Condition, indicators map[string]struct{}) error {
	for _, rule := range cond.Rules {
		if err := c.validateExpression(interp, phase, rule.Left, indicators); err != nil {
			return err
		}

		if err := c.validateExpression(interp, phase, rule.Right, indicators); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateAction(interp *expr.Interpreter, phase string, action Action, indicators map[string]struct{}) error {
	if count := action.variantCount(); count != 1 {
		return errors.Newf(errors.ErrCodeInvalidAction, "phase %q: action must have exactly one variant, got %d", phase, count)
	}

	switch {
	case action.SetVariable != nil:
		if !c.variableDeclared(action.SetVariable.Name) {
			return errors.Newf(errors.ErrCodeUnknownVariable, "phase %q: set_variable targets undeclared variable %q", phase, action.SetVariable.Name)
		}

		return c.validateExpression(interp, phase, action.SetVariable.Expr, indicators)
	case action.OpenTrade != nil:
		if err := c.validateExpression(interp, phase, action.OpenTrade.Lot, indicators); err != nil {
			return err
		}

		if action.OpenTrade.StopLoss.IsSome() {
			if err := c.validateExpression(interp, phase, action.OpenTrade.StopLoss.Unwrap(), indicators); err != nil {
				return err
			}
		}

		if action.OpenTrade.TakeProfit.IsSome() {
			if err := c.validateExpression(interp, phase, action.OpenTrade.TakeProfit.Unwrap(), indicators); err != nil {
				return err
			}
		}

		return nil
	default:
		return nil
	}
}

func (c *Config) validateManagementRule(interp *expr.Interpreter, phase string, rule ManagementRule, indicators map[string]struct{}, seen map[string]struct{}) error {
	if _, dup := seen[rule.Name]; dup {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "phase %q: duplicate management rule %q", phase, rule.Name)
	}

	seen[rule.Name] = struct{}{}

	if rule.Once == rule.Continuous {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "phase %q: rule %q must set exactly one of once/continuous", phase, rule.Name)
	}

	if count := rule.effectCount(); count != 1 {
		return errors.Newf(errors.ErrCodeInvalidEffect, "phase %q: rule %q must have exactly one effect, got %d", phase, rule.Name, count)
	}

	if err := c.validateCondition(interp, phase, rule.When, indicators); err != nil {
		return err
	}

	switch {
	case rule.ModifyStopLoss != nil:
		return c.validateExpression(interp, phase, rule.ModifyStopLoss.Expr, indicators)
	case rule.ModifyTakeProfit != nil:
		return c.validateExpression(interp, phase, rule.ModifyTakeProfit.Expr, indicators)
	case rule.TrailStopLoss != nil:
		if err := c.validateExpression(interp, phase, rule.TrailStopLoss.Distance, indicators); err != nil {
			return err
		}

		if rule.TrailStopLoss.Step.IsSome() {
			return c.validateExpression(interp, phase, rule.TrailStopLoss.Step.Unwrap(), indicators)
		}

		return nil
	default:
		return nil
	}
}

func (c *Config) validateExpression(interp *expr.Interpreter, phase, src string, indicators map[string]struct{}) error {
	refs, err := interp.References(src)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidExpression, err, "phase %q: invalid expression %q", phase, src)
	}

	for _, ref := range refs {
		switch ref.Root {
		case "ind", "prev":
			if _, ok := indicators[ref.ID]; !ok {
				return errors.Newf(errors.ErrCodeUnknownIndicatorRef, "phase %q: expression %q references undeclared indicator %q", phase, src, ref.ID)
			}
		case "var":
			if !c.variableDeclared(ref.ID) {
				return errors.Newf(errors.ErrCodeUnknownVariable, "phase %q: expression %q references undeclared variable %q", phase, src, ref.ID)
			}
		case "trade":
			if _, ok := tradeFields[ref.ID]; !ok {
				return errors.Newf(errors.ErrCodeInvalidExpression, "phase %q: expression %q references unknown trade field %q", phase, src, ref.ID)
			}
		case "risk":
			if _, ok := c.Risk.Fields()[ref.ID]; !ok {
				return errors.Newf(errors.ErrCodeInvalidExpression, "phase %q: expression %q references unknown risk field %q", phase, src, ref.ID)
			}
		}
	}

	return nil
}

func (c *Config) variableDeclared(name string) bool {
	if _, ok := c.Variables[name]; ok {
		return true
	}

	_, ok := implicitVariables[name]

	return ok
}

func sortedPhaseNames(phases map[string]Phase) []string {
	names := make([]string, 0, len(phases))
	for name := range phases {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
