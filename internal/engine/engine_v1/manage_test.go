package engine

import (
	"context"
	"fmt"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/internal/journal"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// managedConfig builds a two-phase playbook where armed opens a position on
// a positive signal and managed runs the given rules against it. An empty
// stopLoss opens the position unprotected.
func managedConfig(direction types.TradeDirection, stopLoss string, rules ...playbook.ManagementRule) *playbook.Config {
	open := &playbook.OpenTradeAction{Direction: direction, Lot: "1"}
	if stopLoss != "" {
		open.StopLoss = optional.Some(stopLoss)
	}

	return &playbook.Config{
		Schema:  playbook.SchemaV1,
		ID:      "gold-manage",
		Version: "1.0.0",
		Indicators: []playbook.IndicatorRef{
			{ID: "sig", Type: types.IndicatorTypeEMA, Timeframe: types.TimeframeM15, Params: map[string]float64{"period": 20}},
		},
		InitialPhase: "armed",
		Phases: map[string]playbook.Phase{
			"armed": {
				EvaluateOn: []types.Timeframe{types.TimeframeM15},
				Transitions: []playbook.Transition{
					{
						To:      "managed",
						When:    allOf("ind.sig.value > 0"),
						Actions: []playbook.Action{{OpenTrade: open}},
					},
				},
			},
			"managed": {
				EvaluateOn:    []types.Timeframe{types.TimeframeM15},
				OnTradeClosed: optional.Some("armed"),
				Transitions: []playbook.Transition{
					{
						To:      "armed",
						When:    allOf("ind.sig.value < 0"),
						Actions: []playbook.Action{{CloseTrade: &playbook.CloseTradeAction{}}},
					},
				},
				Manage: rules,
			},
		},
	}
}

// openPosition drives the instance into the managed phase and confirms the
// emitted open intent at the given price.
func (suite *PlaybookEngineTestSuite) openPosition(config *playbook.Config, price float64) types.Fill {
	suite.activate(config)
	suite.data.set("sig", map[string]float64{"value": 1})
	suite.closeBar(types.TimeframeM15, price)
	suite.Require().Equal("managed", suite.snapshot(config).Phase)

	return suite.confirmOpen(config)
}

func (suite *PlaybookEngineTestSuite) TestBreakevenFiresOncePerPosition() {
	rule := playbook.ManagementRule{
		Name:           "breakeven",
		Once:           true,
		When:           allOf("_price >= trade.open_price + (trade.open_price - var.initial_sl)"),
		ModifyStopLoss: &playbook.ModifyEffect{Expr: "trade.open_price"},
	}
	config := managedConfig(types.TradeDirectionLong, "_price - 20", rule)

	// Open at 2750 with the stop at 2730: one risk distance above the
	// entry is 2770.
	suite.openPosition(config, 2750)

	suite.closeBar(types.TimeframeM15, 2765)
	suite.Empty(suite.executor.modifies)
	suite.Empty(suite.snapshot(config).FiredOnce)

	suite.closeBar(types.TimeframeM15, 2770)
	suite.Require().Len(suite.executor.modifies, 1)
	intent := suite.executor.modifies[0]
	suite.Equal(types.ModifyKindStopLoss, intent.Kind)
	suite.InDelta(2750, intent.Level, 1e-9)
	suite.Contains(suite.snapshot(config).FiredOnce, "breakeven")

	suite.closeBar(types.TimeframeM15, 2775)
	suite.Len(suite.executor.modifies, 1)

	events := suite.entriesOfKind(journal.EntryKindManagement)
	suite.Require().Len(events, 1)
	suite.Equal("breakeven", events[0].Fields["rule"])
	suite.Equal(string(types.EffectModifyStopLoss), events[0].Fields["effect"])
}

func (suite *PlaybookEngineTestSuite) TestOnceMemoryClearsWithPosition() {
	rule := playbook.ManagementRule{
		Name:           "breakeven",
		Once:           true,
		When:           allOf("_price >= trade.open_price + (trade.open_price - var.initial_sl)"),
		ModifyStopLoss: &playbook.ModifyEffect{Expr: "trade.open_price"},
	}
	config := managedConfig(types.TradeDirectionLong, "_price - 20", rule)
	suite.openPosition(config, 2750)

	suite.closeBar(types.TimeframeM15, 2770)
	suite.Require().Len(suite.executor.modifies, 1)

	suite.Require().NoError(suite.engine.NotifyTradeClosed(context.Background(), config.ID, testSymbol))
	suite.Empty(suite.snapshot(config).FiredOnce)
	suite.Equal("armed", suite.snapshot(config).Phase)

	// The next position gets a fresh once memory.
	suite.closeBar(types.TimeframeM15, 2750)
	suite.confirmOpen(config)
	suite.closeBar(types.TimeframeM15, 2770)
	suite.Len(suite.executor.modifies, 2)
}

func (suite *PlaybookEngineTestSuite) TestTrailTightensLong() {
	rule := playbook.ManagementRule{
		Name:       "trail",
		Continuous: true,
		When:       allOf("_price > 0"),
		TrailStopLoss: &playbook.TrailStopLossEffect{
			Distance: "10",
			Step:     optional.Some("2"),
		},
	}
	config := managedConfig(types.TradeDirectionLong, "_price - 20", rule)
	suite.openPosition(config, 2750)

	suite.closeBar(types.TimeframeM15, 2750) // candidate 2740, applied
	suite.closeBar(types.TimeframeM15, 2751) // candidate 2741, within step
	suite.closeBar(types.TimeframeM15, 2748) // candidate 2738, would loosen
	suite.closeBar(types.TimeframeM15, 2760) // candidate 2750, applied

	modifies := suite.executor.modifies
	suite.Require().Len(modifies, 2)
	suite.InDelta(2740, modifies[0].Level, 1e-9)
	suite.InDelta(2750, modifies[1].Level, 1e-9)

	for i, intent := range modifies {
		suite.Equal(types.ModifyKindStopLoss, intent.Kind)

		if i > 0 {
			suite.GreaterOrEqual(intent.Level, modifies[i-1].Level)
		}
	}
}

func (suite *PlaybookEngineTestSuite) TestTrailTightensShort() {
	rule := playbook.ManagementRule{
		Name:       "trail",
		Continuous: true,
		When:       allOf("_price > 0"),
		TrailStopLoss: &playbook.TrailStopLossEffect{
			Distance: "10",
			Step:     optional.Some("2"),
		},
	}
	config := managedConfig(types.TradeDirectionShort, "_price + 20", rule)
	suite.openPosition(config, 2750)

	suite.closeBar(types.TimeframeM15, 2750) // candidate 2760, applied
	suite.closeBar(types.TimeframeM15, 2749) // candidate 2759, within step
	suite.closeBar(types.TimeframeM15, 2755) // candidate 2765, would loosen
	suite.closeBar(types.TimeframeM15, 2740) // candidate 2750, applied

	modifies := suite.executor.modifies
	suite.Require().Len(modifies, 2)
	suite.InDelta(2760, modifies[0].Level, 1e-9)
	suite.InDelta(2750, modifies[1].Level, 1e-9)

	for i, intent := range modifies {
		suite.Equal(types.ModifyKindStopLoss, intent.Kind)

		if i > 0 {
			suite.LessOrEqual(intent.Level, modifies[i-1].Level)
		}
	}
}

func (suite *PlaybookEngineTestSuite) TestTrailSetsStopWhenNoneExists() {
	rule := playbook.ManagementRule{
		Name:       "trail",
		Continuous: true,
		When:       allOf("_price > 0"),
		TrailStopLoss: &playbook.TrailStopLossEffect{
			Distance: "10",
			Step:     optional.Some("2"),
		},
	}
	config := managedConfig(types.TradeDirectionShort, "", rule)
	suite.openPosition(config, 2750)

	// A short with no stop: the first candidate is above the price and
	// must be applied anyway, there is nothing to tighten against.
	suite.closeBar(types.TimeframeM15, 2750)

	suite.Require().Len(suite.executor.modifies, 1)
	suite.InDelta(2760, suite.executor.modifies[0].Level, 1e-9)
}

func (suite *PlaybookEngineTestSuite) TestRulesRunInOrderAndSeeEarlierEffects() {
	lock := playbook.ManagementRule{
		Name:           "lock",
		Continuous:     true,
		When:           allOf("_price > 0"),
		ModifyStopLoss: &playbook.ModifyEffect{Expr: "trade.open_price - 5"},
	}
	stretch := playbook.ManagementRule{
		Name:             "stretch",
		Continuous:       true,
		When:             allOf("trade.sl >= trade.open_price - 5"),
		ModifyTakeProfit: &playbook.ModifyEffect{Expr: "trade.open_price + 30"},
	}
	config := managedConfig(types.TradeDirectionLong, "_price - 20", lock, stretch)
	suite.openPosition(config, 2750)

	// stretch only passes because it sees the stop lock applied earlier
	// in the same cycle.
	suite.closeBar(types.TimeframeM15, 2750)

	modifies := suite.executor.modifies
	suite.Require().Len(modifies, 2)
	suite.Equal(types.ModifyKindStopLoss, modifies[0].Kind)
	suite.InDelta(2745, modifies[0].Level, 1e-9)
	suite.Equal(types.ModifyKindTakeProfit, modifies[1].Kind)
	suite.InDelta(2780, modifies[1].Level, 1e-9)
}

func (suite *PlaybookEngineTestSuite) TestPartialCloseTracksRemainingLot() {
	first := playbook.ManagementRule{
		Name:         "scale_one",
		Once:         true,
		When:         allOf("_price >= 2800"),
		PartialClose: &playbook.PartialCloseEffect{Percent: 50},
	}
	second := playbook.ManagementRule{
		Name:         "scale_two",
		Once:         true,
		When:         allOf("_price >= 2850"),
		PartialClose: &playbook.PartialCloseEffect{Percent: 50},
	}
	config := managedConfig(types.TradeDirectionLong, "_price - 20", first, second)
	fill := suite.openPosition(config, 2750)

	suite.closeBar(types.TimeframeM15, 2800)
	suite.InDelta(0.5, suite.snapshot(config).Variables["remaining_lot"], 1e-9)

	suite.closeBar(types.TimeframeM15, 2850)
	suite.InDelta(0.25, suite.snapshot(config).Variables["remaining_lot"], 1e-9)

	modifies := suite.executor.modifies
	suite.Require().Len(modifies, 2)

	for _, intent := range modifies {
		suite.Equal(types.ModifyKindPartialClose, intent.Kind)
		suite.Equal(fill.Ticket, intent.Ticket)
		suite.InDelta(50, intent.ClosePercent, 1e-9)
	}

	events := suite.entriesOfKind(journal.EntryKindManagement)
	suite.Require().Len(events, 2)
	suite.Equal(string(types.EffectPartialClose), events[0].Fields["effect"])
}

func (suite *PlaybookEngineTestSuite) TestManagementSkippedWhenTransitionFires() {
	rule := playbook.ManagementRule{
		Name:           "breakeven",
		Once:           true,
		When:           allOf("_price >= trade.open_price + (trade.open_price - var.initial_sl)"),
		ModifyStopLoss: &playbook.ModifyEffect{Expr: "trade.open_price"},
	}
	config := managedConfig(types.TradeDirectionLong, "_price - 20", rule)
	suite.openPosition(config, 2750)

	// The exit signal and the breakeven trigger land on the same bar; a
	// fired transition owns the whole cycle.
	suite.data.set("sig", map[string]float64{"value": -1})
	suite.closeBar(types.TimeframeM15, 2770)

	suite.Equal("armed", suite.snapshot(config).Phase)
	suite.Empty(suite.executor.modifies)
	suite.Len(suite.executor.closes, 1)
}

func (suite *PlaybookEngineTestSuite) TestManagementRequiresConfirmedPosition() {
	rule := playbook.ManagementRule{
		Name:           "breakeven",
		Once:           true,
		When:           allOf("_price > 0"),
		ModifyStopLoss: &playbook.ModifyEffect{Expr: "trade.open_price"},
	}
	config := managedConfig(types.TradeDirectionLong, "_price - 20", rule)
	suite.activate(config)
	suite.data.set("sig", map[string]float64{"value": 1})

	// Open intent emitted but never confirmed: there is no position for
	// the rules to manage.
	suite.closeBar(types.TimeframeM15, 2750)
	suite.closeBar(types.TimeframeM15, 2770)

	suite.Empty(suite.executor.modifies)
}

func (suite *PlaybookEngineTestSuite) TestBrokenRuleFailsClosed() {
	rule := playbook.ManagementRule{
		Name:           "guard",
		Once:           true,
		When:           allOf("1 / ind.sig.value > 0"),
		ModifyStopLoss: &playbook.ModifyEffect{Expr: "trade.open_price"},
	}
	config := managedConfig(types.TradeDirectionLong, "_price - 20", rule)
	suite.openPosition(config, 2750)

	suite.data.set("sig", map[string]float64{"value": 0})
	suite.closeBar(types.TimeframeM15, 2800)

	suite.Empty(suite.executor.modifies)
	diagnostics := suite.entriesOfKind(journal.EntryKindDiagnostic)
	suite.Require().NotEmpty(diagnostics)
	suite.Equal("management rule guard", diagnostics[len(diagnostics)-1].Fields["where"])

	// A broken evaluation is false, not consumed: the rule fires once the
	// expression becomes computable again.
	suite.data.set("sig", map[string]float64{"value": 1})
	suite.closeBar(types.TimeframeM15, 2800)
	suite.Len(suite.executor.modifies, 1)
}

func (suite *PlaybookEngineTestSuite) TestEffectErrorDoesNotConsumeOnce() {
	rule := playbook.ManagementRule{
		Name:           "breakeven",
		Once:           true,
		When:           allOf("_price >= trade.open_price + (trade.open_price - var.initial_sl)"),
		ModifyStopLoss: &playbook.ModifyEffect{Expr: "trade.open_price"},
	}
	config := managedConfig(types.TradeDirectionLong, "_price - 20", rule)
	suite.openPosition(config, 2750)

	suite.executor.modifyErr = fmt.Errorf("broker offline")
	suite.closeBar(types.TimeframeM15, 2770)

	suite.Len(suite.executor.modifies, 1)
	suite.Empty(suite.snapshot(config).FiredOnce)

	suite.executor.modifyErr = nil
	suite.closeBar(types.TimeframeM15, 2772)

	suite.Len(suite.executor.modifies, 2)
	suite.Contains(suite.snapshot(config).FiredOnce, "breakeven")
}

func (suite *PlaybookEngineTestSuite) TestTrailRejectsNegativeDistance() {
	rule := playbook.ManagementRule{
		Name:       "trail",
		Continuous: true,
		When:       allOf("_price > 0"),
		TrailStopLoss: &playbook.TrailStopLossEffect{
			Distance: "0 - 10",
		},
	}
	config := managedConfig(types.TradeDirectionLong, "_price - 20", rule)
	suite.openPosition(config, 2750)

	suite.closeBar(types.TimeframeM15, 2760)

	suite.Empty(suite.executor.modifies)
	diagnostics := suite.entriesOfKind(journal.EntryKindDiagnostic)
	suite.Require().NotEmpty(diagnostics)
	suite.Equal("management rule trail", diagnostics[len(diagnostics)-1].Fields["where"])
}
