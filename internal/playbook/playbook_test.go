package playbook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

const goldBreakoutYAML = `
schema: playbook-v1
id: gold-breakout
name: Gold H4 breakout
version: 1.0.0
min_engine_version: 1.0.0
indicators:
  - id: h4_atr
    type: atr
    timeframe: H4
    params:
      period: 14
  - id: h4_ema
    type: ema
    timeframe: H4
    params:
      period: 50
  - id: m15_rsi
    type: rsi
    timeframe: M15
    params:
      period: 14
variables:
  bias: 0
  pullback_level:
    default: 0
risk:
  max_lot: 2
  max_daily_trades: 5
  max_drawdown_percent: 10
  max_concurrent_positions: 1
initial_phase: idle
phases:
  idle:
    evaluate_on: [H4]
    transitions:
      - priority: 10
        to: wait_pullback
        when:
          all:
            - "_price > ind.h4_ema.value"
            - "ind.h4_atr.value > 0"
        actions:
          - set_variable: {name: bias, expr: "1"}
          - log: {message: "bullish bias set"}
  wait_pullback:
    evaluate_on: [M15, H4]
    timeout: {bars: 20, timeframe: M15, to: idle}
    transitions:
      - priority: 5
        to: in_position
        when:
          any:
            - "ind.m15_rsi.value < 30"
        actions:
          - set_variable: {name: pullback_level, expr: "_price"}
          - open_trade:
              direction: long
              lot: "risk.max_lot / 2"
              stop_loss: "_price - ind.h4_atr.value * 2"
              take_profit: "_price + ind.h4_atr.value * 3"
      - priority: 1
        to: idle
        when:
          all:
            - "_price < ind.h4_ema.value"
  in_position:
    evaluate_on: [M15]
    on_trade_closed: idle
    transitions:
      - to: idle
        when:
          all:
            - "ind.m15_rsi.value > 70"
        actions:
          - close_trade: {}
          - log: {message: "rsi exit"}
    manage:
      - name: breakeven
        once: true
        when:
          all:
            - "_price >= trade.open_price + (trade.open_price - var.initial_sl)"
        modify_stop_loss: "trade.open_price"
      - name: trail
        continuous: true
        when:
          all:
            - "_price > trade.open_price"
        trail_stop_loss:
          distance: "ind.h4_atr.value * 1.5"
          step: "ind.h4_atr.value * 0.25"
      - name: scale_out
        once: true
        when:
          all:
            - "_price >= trade.open_price + 2 * var.initial_risk"
        partial_close: 50
`

type PlaybookTestSuite struct {
	suite.Suite
}

func TestPlaybookSuite(t *testing.T) {
	suite.Run(t, new(PlaybookTestSuite))
}

func (suite *PlaybookTestSuite) TestLoadGoldBreakout() {
	config, err := Load([]byte(goldBreakoutYAML))
	suite.Require().NoError(err)

	suite.Equal(SchemaV1, config.Schema)
	suite.Equal("gold-breakout", config.ID)
	suite.Equal("Gold H4 breakout", config.Name)
	suite.Equal("1.0.0", config.Version)
	suite.True(config.MinEngineVersion.IsSome())
	suite.Equal("1.0.0", config.MinEngineVersion.Unwrap())

	suite.Len(config.Indicators, 3)
	suite.Equal(types.IndicatorTypeATR, config.Indicators[0].Type)
	suite.Equal(types.TimeframeH4, config.Indicators[0].Timeframe)
	suite.Equal(14.0, config.Indicators[0].Params["period"])

	suite.Equal(0.0, config.Variables["bias"].Default)
	suite.Equal(2.0, config.Risk.MaxLot)
	suite.Equal("idle", config.InitialPhase)
	suite.Len(config.Phases, 3)
}

func (suite *PlaybookTestSuite) TestLoadPhaseDetails() {
	config, err := Load([]byte(goldBreakoutYAML))
	suite.Require().NoError(err)

	suite.Run("idle transitions", func() {
		idle := config.Phases["idle"]
		suite.Equal([]types.Timeframe{types.TimeframeH4}, idle.EvaluateOn)
		suite.Require().Len(idle.Transitions, 1)

		transition := idle.Transitions[0]
		suite.Equal(10, transition.Priority)
		suite.Equal("wait_pullback", transition.To)
		suite.Equal(expr.ConditionAll, transition.When.Op)
		suite.Len(transition.When.Rules, 2)

		suite.Require().Len(transition.Actions, 2)
		suite.Equal("set_variable", transition.Actions[0].Kind())
		suite.Equal("bias", transition.Actions[0].SetVariable.Name)
		suite.Equal("log", transition.Actions[1].Kind())
	})

	suite.Run("wait_pullback timeout and open_trade", func() {
		wait := config.Phases["wait_pullback"]
		suite.True(wait.ListensOn(types.TimeframeM15))
		suite.True(wait.ListensOn(types.TimeframeH4))
		suite.False(wait.ListensOn(types.TimeframeM1))

		suite.Require().NotNil(wait.Timeout)
		suite.Equal(20, wait.Timeout.Bars)
		suite.Equal(types.TimeframeM15, wait.Timeout.Timeframe)
		suite.Equal("idle", wait.Timeout.To)

		suite.Require().Len(wait.Transitions, 2)
		suite.Equal(expr.ConditionAny, wait.Transitions[0].When.Op)

		openTrade := wait.Transitions[0].Actions[1].OpenTrade
		suite.Require().NotNil(openTrade)
		suite.Equal(types.TradeDirectionLong, openTrade.Direction)
		suite.Equal("risk.max_lot / 2", openTrade.Lot)
		suite.True(openTrade.StopLoss.IsSome())
		suite.Equal("_price - ind.h4_atr.value * 2", openTrade.StopLoss.Unwrap())
		suite.True(openTrade.TakeProfit.IsSome())
	})

	suite.Run("in_position management", func() {
		inPosition := config.Phases["in_position"]
		suite.True(inPosition.OnTradeClosed.IsSome())
		suite.Equal("idle", inPosition.OnTradeClosed.Unwrap())

		suite.Require().Len(inPosition.Manage, 3)

		breakeven := inPosition.Manage[0]
		suite.Equal("breakeven", breakeven.Name)
		suite.True(breakeven.Once)
		suite.False(breakeven.Continuous)
		suite.Equal(types.EffectModifyStopLoss, breakeven.EffectKind())
		suite.Equal("trade.open_price", breakeven.ModifyStopLoss.Expr)

		trail := inPosition.Manage[1]
		suite.True(trail.Continuous)
		suite.Equal(types.EffectTrailStopLoss, trail.EffectKind())
		suite.Equal("ind.h4_atr.value * 1.5", trail.TrailStopLoss.Distance)
		suite.True(trail.TrailStopLoss.Step.IsSome())

		scaleOut := inPosition.Manage[2]
		suite.Equal(types.EffectPartialClose, scaleOut.EffectKind())
		suite.Equal(50.0, scaleOut.PartialClose.Percent)
	})
}

func (suite *PlaybookTestSuite) TestVariableShorthand() {
	tests := []struct {
		name     string
		yaml     string
		expected float64
	}{
		{
			name:     "bare scalar",
			yaml:     `{bias: 2.5}`,
			expected: 2.5,
		},
		{
			name:     "mapping form",
			yaml:     `{bias: {default: 2.5}}`,
			expected: 2.5,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			var variables map[string]Variable

			err := yaml.Unmarshal([]byte(tc.yaml), &variables)
			suite.Require().NoError(err)
			suite.Equal(tc.expected, variables["bias"].Default)
		})
	}
}

func (suite *PlaybookTestSuite) TestActionUnmarshalRejectsUnknownKind() {
	var action Action

	err := yaml.Unmarshal([]byte(`{enter_hyperspace: {}}`), &action)
	suite.Require().Error(err)
	suite.Contains(err.Error(), "unknown action")
}

func (suite *PlaybookTestSuite) TestActionUnmarshalRejectsMultipleKeys() {
	var action Action

	err := yaml.Unmarshal([]byte("{close_trade: {}, log: {message: hi}}"), &action)
	suite.Require().Error(err)
	suite.Contains(err.Error(), "single-key mapping")
}

func (suite *PlaybookTestSuite) TestActionUnmarshalNullPayload() {
	var action Action

	err := yaml.Unmarshal([]byte(`{close_trade: null}`), &action)
	suite.Require().NoError(err)
	suite.NotNil(action.CloseTrade)
	suite.Equal("close_trade", action.Kind())
}

func (suite *PlaybookTestSuite) TestModifyEffectShorthand() {
	var long ModifyEffect

	err := yaml.Unmarshal([]byte(`{expr: "trade.open_price"}`), &long)
	suite.Require().NoError(err)

	var short ModifyEffect

	err = yaml.Unmarshal([]byte(`"trade.open_price"`), &short)
	suite.Require().NoError(err)

	suite.Equal(long, short)
}

func (suite *PlaybookTestSuite) TestPartialCloseShorthand() {
	var effect PartialCloseEffect

	err := yaml.Unmarshal([]byte(`33.5`), &effect)
	suite.Require().NoError(err)
	suite.Equal(33.5, effect.Percent)
}

func (suite *PlaybookTestSuite) TestLoadFile() {
	path := filepath.Join(suite.T().TempDir(), "gold-breakout.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte(goldBreakoutYAML), 0644))

	config, err := LoadFile(path)
	suite.Require().NoError(err)
	suite.Equal("gold-breakout", config.ID)
}

func (suite *PlaybookTestSuite) TestLoadFileMissing() {
	_, err := LoadFile(filepath.Join(suite.T().TempDir(), "missing.yaml"))
	suite.Error(err)
}

func (suite *PlaybookTestSuite) TestLoadRejectsMalformedYAML() {
	_, err := Load([]byte("phases: [:::"))
	suite.Error(err)
}

func (suite *PlaybookTestSuite) TestDefaultVariablesCopies() {
	config, err := Load([]byte(goldBreakoutYAML))
	suite.Require().NoError(err)

	vars := config.DefaultVariables()
	suite.Equal(0.0, vars["bias"])

	vars["bias"] = 42

	suite.Equal(0.0, config.Variables["bias"].Default)
	suite.Equal(0.0, config.DefaultVariables()["bias"])
}

func (suite *PlaybookTestSuite) TestRiskProfileFields() {
	risk := RiskProfile{
		MaxLot:                 2,
		MaxDailyTrades:         5,
		MaxDrawdownPercent:     10,
		MaxConcurrentPositions: 1,
	}

	fields := risk.Fields()
	suite.Equal(2.0, fields["max_lot"])
	suite.Equal(5.0, fields["max_daily_trades"])
	suite.Equal(10.0, fields["max_drawdown_percent"])
	suite.Equal(1.0, fields["max_concurrent_positions"])
}
