package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

type TradeDirection string

const (
	TradeDirectionLong  TradeDirection = "long"
	TradeDirectionShort TradeDirection = "short"
)

// Sign returns +1 for long and -1 for short, the factor expressions see
// as trade.direction.
func (d TradeDirection) Sign() float64 {
	if d == TradeDirectionShort {
		return -1
	}

	return 1
}

// TradeIntent asks the execution collaborator to open a position. The
// engine never places orders itself; it emits intents and waits for the
// fill callback.
type TradeIntent struct {
	ID         string         `yaml:"id" json:"id" validate:"required,uuid"`
	PlaybookID string         `yaml:"playbook_id" json:"playbook_id" validate:"required"`
	Symbol     string         `yaml:"symbol" json:"symbol" validate:"required"`
	Direction  TradeDirection `yaml:"direction" json:"direction" validate:"required,oneof=long short"`
	Lot        float64        `yaml:"lot" json:"lot" validate:"required,gt=0"`
	Time       time.Time      `yaml:"time" json:"time" validate:"required"`
	// StopLoss is the initial protective stop. Can be None if the playbook opens without one.
	StopLoss optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`
	// TakeProfit is the initial profit target. Can be None if the playbook opens without one.
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`
}

// Validate validates the TradeIntent struct.
func (ti *TradeIntent) Validate() error {
	validate := validator.New()
	if err := validate.Struct(ti); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidTradeIntent, "invalid trade intent", err)
	}

	return nil
}

// CloseIntent asks the execution collaborator to flatten the open position.
type CloseIntent struct {
	ID         string    `yaml:"id" json:"id"`
	PlaybookID string    `yaml:"playbook_id" json:"playbook_id"`
	Symbol     string    `yaml:"symbol" json:"symbol"`
	Ticket     string    `yaml:"ticket" json:"ticket"`
	Time       time.Time `yaml:"time" json:"time"`
}

type ModifyKind string

const (
	ModifyKindStopLoss     ModifyKind = "stop_loss"
	ModifyKindTakeProfit   ModifyKind = "take_profit"
	ModifyKindPartialClose ModifyKind = "partial_close"
)

// ModifyIntent asks the execution collaborator to adjust the open position:
// move a protective level or reduce size. Exactly one of the value fields is
// meaningful, selected by Kind.
type ModifyIntent struct {
	PlaybookID string     `yaml:"playbook_id" json:"playbook_id"`
	Symbol     string     `yaml:"symbol" json:"symbol"`
	Ticket     string     `yaml:"ticket" json:"ticket"`
	Kind       ModifyKind `yaml:"kind" json:"kind"`
	// Level is the new stop-loss or take-profit price.
	Level float64 `yaml:"level" json:"level"`
	// ClosePercent is the share of the position to close, 0 < p <= 100.
	ClosePercent float64   `yaml:"close_percent" json:"close_percent"`
	Time         time.Time `yaml:"time" json:"time"`
}

// Fill reports a confirmed open from the execution collaborator.
type Fill struct {
	Ticket     string         `yaml:"ticket" json:"ticket"`
	Direction  TradeDirection `yaml:"direction" json:"direction"`
	OpenPrice  float64        `yaml:"open_price" json:"open_price"`
	Lot        float64        `yaml:"lot" json:"lot"`
	StopLoss   float64        `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit float64        `yaml:"take_profit" json:"take_profit"`
	Time       time.Time      `yaml:"time" json:"time"`
}

type ManagementEffectKind string

const (
	EffectModifyStopLoss   ManagementEffectKind = "modify_stop_loss"
	EffectModifyTakeProfit ManagementEffectKind = "modify_take_profit"
	EffectTrailStopLoss    ManagementEffectKind = "trail_stop_loss"
	EffectPartialClose     ManagementEffectKind = "partial_close"
)

// ManagementEvent records one applied management-rule effect. It is sent to
// the execution collaborator as an order modification and to the journal for
// later analysis.
type ManagementEvent struct {
	PlaybookID string               `yaml:"playbook_id" json:"playbook_id"`
	Symbol     string               `yaml:"symbol" json:"symbol"`
	Rule       string               `yaml:"rule" json:"rule"`
	Effect     ManagementEffectKind `yaml:"effect" json:"effect"`
	Value      float64              `yaml:"value" json:"value"`
	Time       time.Time            `yaml:"time" json:"time"`
}
