package playbook

import (
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Phase is one state of the playbook graph. A phase only reacts to bar
// closes on the timeframes it listens on; everything else passes through
// without touching the instance.
type Phase struct {
	EvaluateOn  []types.Timeframe `yaml:"evaluate_on" json:"evaluate_on" jsonschema:"title=Evaluate on,description=Timeframes whose bar closes this phase reacts to,required" validate:"required,min=1"`
	Transitions []Transition      `yaml:"transitions" json:"transitions,omitempty" jsonschema:"title=Transitions" validate:"dive"`
	// Timeout forces a transition after a fixed number of bars with no
	// satisfied transition, so a phase with an unsatisfiable condition
	// cannot wait forever.
	Timeout *Timeout         `yaml:"timeout" json:"timeout,omitempty" jsonschema:"title=Timeout"`
	Manage  []ManagementRule `yaml:"manage" json:"manage,omitempty" jsonschema:"title=Management rules" validate:"dive"`
	// OnTradeClosed names the phase to move to when the open position is
	// closed externally, e.g. by a stop loss hit at the broker.
	OnTradeClosed optional.Option[string] `yaml:"on_trade_closed" json:"on_trade_closed,omitempty" jsonschema:"title=On trade closed"`
}

// UnmarshalYAML maps the optional on_trade_closed target onto an Option.
func (p *Phase) UnmarshalYAML(value *yaml.Node) error {
	type plainPhase struct {
		EvaluateOn    []types.Timeframe `yaml:"evaluate_on"`
		Transitions   []Transition      `yaml:"transitions"`
		Timeout       *Timeout          `yaml:"timeout"`
		Manage        []ManagementRule  `yaml:"manage"`
		OnTradeClosed *string           `yaml:"on_trade_closed"`
	}

	var raw plainPhase
	if err := value.Decode(&raw); err != nil {
		return err
	}

	p.EvaluateOn = raw.EvaluateOn
	p.Transitions = raw.Transitions
	p.Timeout = raw.Timeout
	p.Manage = raw.Manage

	if raw.OnTradeClosed != nil {
		p.OnTradeClosed = optional.Some(*raw.OnTradeClosed)
	}

	return nil
}

// ListensOn reports whether the phase evaluates on the given timeframe.
func (p Phase) ListensOn(timeframe types.Timeframe) bool {
	for _, tf := range p.EvaluateOn {
		if tf == timeframe {
			return true
		}
	}

	return false
}

// Timeout forces the instance into the target phase once Bars consecutive
// closes of Timeframe have been counted in the current phase.
type Timeout struct {
	Bars      int             `yaml:"bars" json:"bars" jsonschema:"title=Bars,description=Bar count that triggers the timeout,minimum=1,required" validate:"required,gt=0"`
	Timeframe types.Timeframe `yaml:"timeframe" json:"timeframe" jsonschema:"title=Timeframe,required" validate:"required"`
	To        string          `yaml:"to" json:"to" jsonschema:"title=Target phase,required" validate:"required"`
}

// Transition is a conditional edge between phases. Higher priority is
// evaluated first; ties keep declaration order. The first satisfied
// transition in a cycle wins exclusively.
type Transition struct {
	Priority int            `yaml:"priority" json:"priority,omitempty" jsonschema:"title=Priority,description=Higher priority is evaluated first"`
	To       string         `yaml:"to" json:"to" jsonschema:"title=Target phase,required" validate:"required"`
	When     expr.Condition `yaml:"when" json:"when" jsonschema:"title=Condition,required"`
	Actions  []Action       `yaml:"actions" json:"actions,omitempty" jsonschema:"title=Actions" validate:"dive"`
}

// Action is a tagged variant: exactly one of the pointers is set. The YAML
// form is a single-key mapping, e.g. {open_trade: {direction: long, ...}}.
type Action struct {
	SetVariable *SetVariableAction `yaml:"set_variable,omitempty" json:"set_variable,omitempty" jsonschema:"title=Set variable"`
	OpenTrade   *OpenTradeAction   `yaml:"open_trade,omitempty" json:"open_trade,omitempty" jsonschema:"title=Open trade"`
	CloseTrade  *CloseTradeAction  `yaml:"close_trade,omitempty" json:"close_trade,omitempty" jsonschema:"title=Close trade"`
	Log         *LogAction         `yaml:"log,omitempty" json:"log,omitempty" jsonschema:"title=Log"`
}

// UnmarshalYAML decodes the single-key action form and rejects everything
// else so a typo cannot silently decode to an empty action.
func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return errors.Newf(errors.ErrCodeInvalidAction, "action at line %d must be a single-key mapping", value.Line)
	}

	key := value.Content[0].Value
	payload := value.Content[1]

	decode := func(target interface{}) error {
		if payload.Tag == "!!null" {
			return nil
		}

		return payload.Decode(target)
	}

	switch key {
	case "set_variable":
		a.SetVariable = &SetVariableAction{}

		return decode(a.SetVariable)
	case "open_trade":
		a.OpenTrade = &OpenTradeAction{}

		return decode(a.OpenTrade)
	case "close_trade":
		a.CloseTrade = &CloseTradeAction{}

		return decode(a.CloseTrade)
	case "log":
		a.Log = &LogAction{}

		return decode(a.Log)
	default:
		return errors.Newf(errors.ErrCodeInvalidAction, "unknown action %q at line %d", key, value.Line)
	}
}

// Kind returns the variant name, for diagnostics and logs.
func (a Action) Kind() string {
	switch {
	case a.SetVariable != nil:
		return "set_variable"
	case a.OpenTrade != nil:
		return "open_trade"
	case a.CloseTrade != nil:
		return "close_trade"
	case a.Log != nil:
		return "log"
	default:
		return "unknown"
	}
}

// variantCount reports how many variants are set. Valid actions have
// exactly one; the unmarshaller guarantees this for YAML input, validation
// re-checks it for configs built in code.
func (a Action) variantCount() int {
	count := 0
	if a.SetVariable != nil {
		count++
	}

	if a.OpenTrade != nil {
		count++
	}

	if a.CloseTrade != nil {
		count++
	}

	if a.Log != nil {
		count++
	}

	return count
}

// SetVariableAction evaluates an expression and stores the result in the
// instance's variables.
type SetVariableAction struct {
	Name string `yaml:"name" json:"name" jsonschema:"title=Variable name,required" validate:"required"`
	Expr string `yaml:"expr" json:"expr" jsonschema:"title=Expression,required" validate:"required"`
}

// OpenTradeAction emits an open-trade intent. Lot, stop loss and take
// profit are expressions evaluated against the cycle context; the computed
// stop loss and take profit are also cached as instance variables so later
// management rules can reference the original risk distance after the live
// stop has moved.
type OpenTradeAction struct {
	Direction  types.TradeDirection    `yaml:"direction" json:"direction" jsonschema:"title=Direction,enum=long,enum=short,required" validate:"required,oneof=long short"`
	Lot        string                  `yaml:"lot" json:"lot" jsonschema:"title=Lot expression,required" validate:"required"`
	StopLoss   optional.Option[string] `yaml:"stop_loss" json:"stop_loss,omitempty" jsonschema:"title=Stop loss expression"`
	TakeProfit optional.Option[string] `yaml:"take_profit" json:"take_profit,omitempty" jsonschema:"title=Take profit expression"`
}

// UnmarshalYAML maps the optional stop loss and take profit expressions
// onto Options.
func (o *OpenTradeAction) UnmarshalYAML(value *yaml.Node) error {
	type plainOpenTrade struct {
		Direction  types.TradeDirection `yaml:"direction"`
		Lot        string               `yaml:"lot"`
		StopLoss   *string              `yaml:"stop_loss"`
		TakeProfit *string              `yaml:"take_profit"`
	}

	var raw plainOpenTrade
	if err := value.Decode(&raw); err != nil {
		return err
	}

	o.Direction = raw.Direction
	o.Lot = raw.Lot

	if raw.StopLoss != nil {
		o.StopLoss = optional.Some(*raw.StopLoss)
	}

	if raw.TakeProfit != nil {
		o.TakeProfit = optional.Some(*raw.TakeProfit)
	}

	return nil
}

// CloseTradeAction emits a close intent for the open position.
type CloseTradeAction struct{}

// LogAction records a message in the journal. It has no state effect.
type LogAction struct {
	Message string `yaml:"message" json:"message" jsonschema:"title=Message,required" validate:"required"`
}

// ManagementRule adjusts an open position while the instance stays in its
// phase. Exactly one of once/continuous is set: a once rule fires at most
// one time per position, a continuous rule re-evaluates every cycle.
type ManagementRule struct {
	Name       string         `yaml:"name" json:"name" jsonschema:"title=Name,required" validate:"required"`
	Once       bool           `yaml:"once,omitempty" json:"once,omitempty" jsonschema:"title=Fire at most once per position"`
	Continuous bool           `yaml:"continuous,omitempty" json:"continuous,omitempty" jsonschema:"title=Re-evaluate every cycle"`
	When       expr.Condition `yaml:"when" json:"when" jsonschema:"title=Condition,required"`

	ModifyStopLoss   *ModifyEffect        `yaml:"modify_stop_loss,omitempty" json:"modify_stop_loss,omitempty" jsonschema:"title=Modify stop loss"`
	ModifyTakeProfit *ModifyEffect        `yaml:"modify_take_profit,omitempty" json:"modify_take_profit,omitempty" jsonschema:"title=Modify take profit"`
	TrailStopLoss    *TrailStopLossEffect `yaml:"trail_stop_loss,omitempty" json:"trail_stop_loss,omitempty" jsonschema:"title=Trail stop loss"`
	PartialClose     *PartialCloseEffect  `yaml:"partial_close,omitempty" json:"partial_close,omitempty" jsonschema:"title=Partial close"`
}

// EffectKind returns the effect variant, for diagnostics and logs.
func (r ManagementRule) EffectKind() types.ManagementEffectKind {
	switch {
	case r.ModifyStopLoss != nil:
		return types.EffectModifyStopLoss
	case r.ModifyTakeProfit != nil:
		return types.EffectModifyTakeProfit
	case r.TrailStopLoss != nil:
		return types.EffectTrailStopLoss
	case r.PartialClose != nil:
		return types.EffectPartialClose
	default:
		return "unknown"
	}
}

func (r ManagementRule) effectCount() int {
	count := 0
	if r.ModifyStopLoss != nil {
		count++
	}

	if r.ModifyTakeProfit != nil {
		count++
	}

	if r.TrailStopLoss != nil {
		count++
	}

	if r.PartialClose != nil {
		count++
	}

	return count
}

// ModifyEffect sets the stop loss or take profit to the expression's
// current value. The YAML form is either a bare expression string or a
// {expr: ...} mapping.
type ModifyEffect struct {
	Expr string `yaml:"expr" json:"expr" jsonschema:"title=Expression,required" validate:"required"`
}

// UnmarshalYAML accepts the scalar shorthand.
func (m *ModifyEffect) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&m.Expr)
	case yaml.MappingNode:
		type plainModify ModifyEffect

		var raw plainModify
		if err := value.Decode(&raw); err != nil {
			return err
		}

		*m = ModifyEffect(raw)

		return nil
	default:
		return errors.Newf(errors.ErrCodeInvalidEffect, "modify effect at line %d must be an expression or a {expr: ...} mapping", value.Line)
	}
}

// TrailStopLossEffect keeps the stop loss Distance behind the current
// price. Candidates that loosen protection are discarded regardless of
// what the expressions evaluate to, and moves smaller than Step are
// skipped to avoid oscillating micro-adjustments.
type TrailStopLossEffect struct {
	Distance string                  `yaml:"distance" json:"distance" jsonschema:"title=Distance expression,required" validate:"required"`
	Step     optional.Option[string] `yaml:"step" json:"step,omitempty" jsonschema:"title=Step expression"`
}

// UnmarshalYAML maps the optional step expression onto an Option.
func (t *TrailStopLossEffect) UnmarshalYAML(value *yaml.Node) error {
	type plainTrail struct {
		Distance string  `yaml:"distance"`
		Step     *string `yaml:"step"`
	}

	var raw plainTrail
	if err := value.Decode(&raw); err != nil {
		return err
	}

	t.Distance = raw.Distance

	if raw.Step != nil {
		t.Step = optional.Some(*raw.Step)
	}

	return nil
}

// PartialCloseEffect emits an intent to reduce the open position by a
// fixed percentage. The YAML form is either a bare number or a
// {percent: ...} mapping.
type PartialCloseEffect struct {
	Percent float64 `yaml:"percent" json:"percent" jsonschema:"title=Percent,description=Share of the position to close,minimum=0,maximum=100" validate:"required,gt=0,lte=100"`
}

// UnmarshalYAML accepts the scalar shorthand.
func (p *PartialCloseEffect) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&p.Percent)
	case yaml.MappingNode:
		type plainPartialClose PartialCloseEffect

		var raw plainPartialClose
		if err := value.Decode(&raw); err != nil {
			return err
		}

		*p = PartialCloseEffect(raw)

		return nil
	default:
		return errors.Newf(errors.ErrCodeInvalidEffect, "partial_close at line %d must be a number or a {percent: ...} mapping", value.Line)
	}
}
