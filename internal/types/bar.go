package types

import (
	"time"

	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// Timeframe identifies the candle duration a bar or phase listens on.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
	TimeframeW1  Timeframe = "W1"
)

// AllTimeframes lists every supported timeframe in ascending duration order.
func AllTimeframes() []Timeframe {
	return []Timeframe{
		TimeframeM1,
		TimeframeM5,
		TimeframeM15,
		TimeframeM30,
		TimeframeH1,
		TimeframeH4,
		TimeframeD1,
		TimeframeW1,
	}
}

// Duration returns the wall-clock length of one bar on this timeframe.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case TimeframeM1:
		return time.Minute
	case TimeframeM5:
		return 5 * time.Minute
	case TimeframeM15:
		return 15 * time.Minute
	case TimeframeM30:
		return 30 * time.Minute
	case TimeframeH1:
		return time.Hour
	case TimeframeH4:
		return 4 * time.Hour
	case TimeframeD1:
		return 24 * time.Hour
	case TimeframeW1:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// IsValid reports whether the timeframe is one of the supported constants.
func (t Timeframe) IsValid() bool {
	return t.Duration() != 0
}

// ParseTimeframe converts a string into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	t := Timeframe(s)
	if !t.IsValid() {
		return "", errors.Newf(errors.ErrCodeInvalidTimeframe, "unknown timeframe %q", s)
	}

	return t, nil
}

// Bar is one finalized OHLCV candle.
type Bar struct {
	Symbol string    `yaml:"symbol" json:"symbol"`
	Time   time.Time `yaml:"time" json:"time"`
	Open   float64   `yaml:"open" json:"open"`
	High   float64   `yaml:"high" json:"high"`
	Low    float64   `yaml:"low" json:"low"`
	Close  float64   `yaml:"close" json:"close"`
	Volume float64   `yaml:"volume" json:"volume"`
}

// BarEvent signals that a candle has finalized for (symbol, timeframe).
// It is the unit of work dispatched to the engine.
type BarEvent struct {
	Bar       Bar       `yaml:"bar" json:"bar"`
	Timeframe Timeframe `yaml:"timeframe" json:"timeframe"`
}
