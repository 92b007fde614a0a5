// Package execution carries out the engine's trade intents. The simulator
// fills intents at the latest mark price and buffers fill and close
// confirmations for the caller to drain between cycles, the way a broker
// bridge reports asynchronously.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-playbook/internal/engine"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CloseReason tells why the simulator flattened a position.
type CloseReason string

const (
	CloseReasonStopLoss     CloseReason = "stop_loss"
	CloseReasonTakeProfit   CloseReason = "take_profit"
	CloseReasonAction       CloseReason = "action"
	CloseReasonPartialClose CloseReason = "partial_close"
)

// ClosedTrade is one finished round trip with its realized result. Lot is
// the originally filled size; RealizedPnL includes partial-close chunks.
type ClosedTrade struct {
	Ticket      string
	PlaybookID  string
	Symbol      string
	Direction   types.TradeDirection
	Lot         float64
	OpenPrice   float64
	ClosePrice  float64
	OpenTime    time.Time
	CloseTime   time.Time
	RealizedPnL float64
	Reason      CloseReason
}

// PendingFill is a buffered fill confirmation waiting to be reported
// through Engine.NotifyTradeOpened.
type PendingFill struct {
	PlaybookID string
	Symbol     string
	Fill       types.Fill
}

// PendingClose is a buffered close confirmation waiting to be reported
// through Engine.NotifyTradeClosed.
type PendingClose struct {
	PlaybookID string
	Symbol     string
	Trade      ClosedTrade
}

type positionKey struct {
	playbookID string
	symbol     string
}

type position struct {
	ticket    string
	direction types.TradeDirection
	openLot   decimal.Decimal
	lot       decimal.Decimal
	openPrice decimal.Decimal
	// stopLoss and takeProfit are price levels; zero means not set.
	stopLoss   float64
	takeProfit float64
	openTime   time.Time
	// realized accumulates partial-close chunks until the full close.
	realized decimal.Decimal
}

// pnl returns the profit of closing the given lot at price.
func (p *position) pnl(price float64, lot decimal.Decimal) decimal.Decimal {
	diff := decimal.NewFromFloat(price).Sub(p.openPrice)
	if p.direction == types.TradeDirectionShort {
		diff = diff.Neg()
	}

	return diff.Mul(lot)
}

// Simulator executes intents against simulated positions, one per
// (playbook, symbol). Protective levels are checked against every marked
// bar's range; hits fill at the level itself, stop loss first when a bar
// crosses both.
type Simulator struct {
	logger *logger.Logger

	mu        sync.Mutex
	marks     map[string]float64
	positions map[positionKey]*position
	fills     []PendingFill
	closes    []PendingClose
	trades    []ClosedTrade
}

var _ engine.Executor = (*Simulator)(nil)

// NewSimulator creates an empty simulator.
func NewSimulator(logger *logger.Logger) *Simulator {
	return &Simulator{
		logger:    logger,
		marks:     make(map[string]float64),
		positions: make(map[positionKey]*position),
	}
}

// MarkBar updates the symbol's mark price from the bar and closes any
// position whose protective level the bar's range crossed. Confirmations
// are buffered until TakeCloses.
func (s *Simulator) MarkBar(bar types.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marks[bar.Symbol] = bar.Close

	for key, pos := range s.positions {
		if key.symbol != bar.Symbol {
			continue
		}

		level, reason, hit := protectiveHit(pos, bar)
		if !hit {
			continue
		}

		s.closeLocked(key, pos, level, bar.Time, reason)
	}
}

// protectiveHit checks the bar's range against the position's levels.
func protectiveHit(pos *position, bar types.Bar) (float64, CloseReason, bool) {
	if pos.direction == types.TradeDirectionLong {
		if pos.stopLoss != 0 && bar.Low <= pos.stopLoss {
			return pos.stopLoss, CloseReasonStopLoss, true
		}

		if pos.takeProfit != 0 && bar.High >= pos.takeProfit {
			return pos.takeProfit, CloseReasonTakeProfit, true
		}

		return 0, "", false
	}

	if pos.stopLoss != 0 && bar.High >= pos.stopLoss {
		return pos.stopLoss, CloseReasonStopLoss, true
	}

	if pos.takeProfit != 0 && bar.Low <= pos.takeProfit {
		return pos.takeProfit, CloseReasonTakeProfit, true
	}

	return 0, "", false
}

// OpenTrade implements engine.Executor. The intent fills immediately at the
// symbol's mark price.
func (s *Simulator) OpenTrade(ctx context.Context, intent types.TradeIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{playbookID: intent.PlaybookID, symbol: intent.Symbol}
	if _, ok := s.positions[key]; ok {
		return errors.Newf(errors.ErrCodePositionAlreadyOpen, "position already open for playbook %s on %s", intent.PlaybookID, intent.Symbol)
	}

	mark, ok := s.marks[intent.Symbol]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderFailed, "no mark price for %s yet", intent.Symbol)
	}

	stopLoss := intent.StopLoss.TakeOr(0)
	takeProfit := intent.TakeProfit.TakeOr(0)

	if err := checkProtectiveLevels(intent.Direction, mark, stopLoss, takeProfit); err != nil {
		return err
	}

	pos := &position{
		ticket:     uuid.New().String(),
		direction:  intent.Direction,
		openLot:    decimal.NewFromFloat(intent.Lot),
		lot:        decimal.NewFromFloat(intent.Lot),
		openPrice:  decimal.NewFromFloat(mark),
		stopLoss:   stopLoss,
		takeProfit: takeProfit,
		openTime:   intent.Time,
		realized:   decimal.Zero,
	}
	s.positions[key] = pos

	s.fills = append(s.fills, PendingFill{
		PlaybookID: intent.PlaybookID,
		Symbol:     intent.Symbol,
		Fill: types.Fill{
			Ticket:     pos.ticket,
			Direction:  intent.Direction,
			OpenPrice:  mark,
			Lot:        intent.Lot,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			Time:       intent.Time,
		},
	})

	s.logger.Debug("Simulated fill",
		zap.String("ticket", pos.ticket),
		zap.String("symbol", intent.Symbol),
		zap.String("direction", string(intent.Direction)),
		zap.Float64("price", mark))

	return nil
}

// checkProtectiveLevels rejects levels on the wrong side of the fill price.
func checkProtectiveLevels(direction types.TradeDirection, price, stopLoss, takeProfit float64) error {
	if direction == types.TradeDirectionLong {
		if stopLoss != 0 && stopLoss >= price {
			return errors.Newf(errors.ErrCodeOrderFailed, "stop loss %v not below price %v for long", stopLoss, price)
		}

		if takeProfit != 0 && takeProfit <= price {
			return errors.Newf(errors.ErrCodeOrderFailed, "take profit %v not above price %v for long", takeProfit, price)
		}

		return nil
	}

	if stopLoss != 0 && stopLoss <= price {
		return errors.Newf(errors.ErrCodeOrderFailed, "stop loss %v not above price %v for short", stopLoss, price)
	}

	if takeProfit != 0 && takeProfit >= price {
		return errors.Newf(errors.ErrCodeOrderFailed, "take profit %v not below price %v for short", takeProfit, price)
	}

	return nil
}

// CloseTrade implements engine.Executor. The position closes at the
// symbol's mark price.
func (s *Simulator) CloseTrade(ctx context.Context, intent types.CloseIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{playbookID: intent.PlaybookID, symbol: intent.Symbol}

	pos, err := s.lookupLocked(key, intent.Ticket)
	if err != nil {
		return err
	}

	mark, ok := s.marks[intent.Symbol]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderFailed, "no mark price for %s yet", intent.Symbol)
	}

	s.closeLocked(key, pos, mark, intent.Time, CloseReasonAction)

	return nil
}

// ModifyTrade implements engine.Executor.
func (s *Simulator) ModifyTrade(ctx context.Context, intent types.ModifyIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{playbookID: intent.PlaybookID, symbol: intent.Symbol}

	pos, err := s.lookupLocked(key, intent.Ticket)
	if err != nil {
		return err
	}

	mark, ok := s.marks[intent.Symbol]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderFailed, "no mark price for %s yet", intent.Symbol)
	}

	switch intent.Kind {
	case types.ModifyKindStopLoss:
		if err := checkProtectiveLevels(pos.direction, mark, intent.Level, 0); err != nil {
			return err
		}

		pos.stopLoss = intent.Level
	case types.ModifyKindTakeProfit:
		if err := checkProtectiveLevels(pos.direction, mark, 0, intent.Level); err != nil {
			return err
		}

		pos.takeProfit = intent.Level
	case types.ModifyKindPartialClose:
		return s.partialCloseLocked(key, pos, mark, intent)
	default:
		return errors.Newf(errors.ErrCodeOrderFailed, "unsupported modify kind %q", intent.Kind)
	}

	s.logger.Debug("Simulated modify",
		zap.String("ticket", pos.ticket),
		zap.String("kind", string(intent.Kind)),
		zap.Float64("level", intent.Level))

	return nil
}

// partialCloseLocked realizes part of the position at the mark price. A
// hundred percent flattens it entirely.
func (s *Simulator) partialCloseLocked(key positionKey, pos *position, mark float64, intent types.ModifyIntent) error {
	if intent.ClosePercent <= 0 || intent.ClosePercent > 100 {
		return errors.Newf(errors.ErrCodeOrderFailed, "close percent %v out of range (0, 100]", intent.ClosePercent)
	}

	if intent.ClosePercent == 100 {
		s.closeLocked(key, pos, mark, intent.Time, CloseReasonPartialClose)

		return nil
	}

	chunk := pos.lot.Mul(decimal.NewFromFloat(intent.ClosePercent)).Div(decimal.NewFromInt(100))
	pos.realized = pos.realized.Add(pos.pnl(mark, chunk))
	pos.lot = pos.lot.Sub(chunk)

	s.logger.Debug("Simulated partial close",
		zap.String("ticket", pos.ticket),
		zap.Float64("percent", intent.ClosePercent),
		zap.String("remaining_lot", pos.lot.String()))

	return nil
}

// lookupLocked finds the position for the key and checks the ticket.
func (s *Simulator) lookupLocked(key positionKey, ticket string) (*position, error) {
	pos, ok := s.positions[key]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeNoOpenPosition, "no open position for playbook %s on %s", key.playbookID, key.symbol)
	}

	if ticket != "" && ticket != pos.ticket {
		return nil, errors.Newf(errors.ErrCodeTicketNotFound, "ticket %s does not match open position %s", ticket, pos.ticket)
	}

	return pos, nil
}

// closeLocked flattens the position and buffers the confirmation.
func (s *Simulator) closeLocked(key positionKey, pos *position, price float64, closeTime time.Time, reason CloseReason) {
	realized := pos.realized.Add(pos.pnl(price, pos.lot))

	trade := ClosedTrade{
		Ticket:      pos.ticket,
		PlaybookID:  key.playbookID,
		Symbol:      key.symbol,
		Direction:   pos.direction,
		Lot:         pos.openLot.InexactFloat64(),
		OpenPrice:   pos.openPrice.InexactFloat64(),
		ClosePrice:  price,
		OpenTime:    pos.openTime,
		CloseTime:   closeTime,
		RealizedPnL: realized.InexactFloat64(),
		Reason:      reason,
	}

	delete(s.positions, key)

	s.trades = append(s.trades, trade)
	s.closes = append(s.closes, PendingClose{
		PlaybookID: key.playbookID,
		Symbol:     key.symbol,
		Trade:      trade,
	})

	s.logger.Debug("Simulated close",
		zap.String("ticket", trade.Ticket),
		zap.String("reason", string(reason)),
		zap.Float64("pnl", trade.RealizedPnL))
}

// TakeFills returns the fills confirmed since the last call and clears the
// buffer.
func (s *Simulator) TakeFills() []PendingFill {
	s.mu.Lock()
	defer s.mu.Unlock()

	fills := s.fills
	s.fills = nil

	return fills
}

// TakeCloses returns the closes confirmed since the last call and clears
// the buffer.
func (s *Simulator) TakeCloses() []PendingClose {
	s.mu.Lock()
	defer s.mu.Unlock()

	closes := s.closes
	s.closes = nil

	return closes
}

// ClosedTrades returns every trade closed so far in closing order.
func (s *Simulator) ClosedTrades() []ClosedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := make([]ClosedTrade, len(s.trades))
	copy(trades, s.trades)

	return trades
}

// HasPosition reports whether the instance has an open simulated position.
func (s *Simulator) HasPosition(playbookID, symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.positions[positionKey{playbookID: playbookID, symbol: symbol}]

	return ok
}
