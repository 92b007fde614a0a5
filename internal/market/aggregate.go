package market

import (
	"context"
	"iter"
	"math"
	"time"

	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// Aggregator decorates a Source, synthesizing higher-timeframe bars from
// the base stream. Base events pass through unchanged; whenever a base bar
// completes a bucket of a configured timeframe, the aggregated bar is
// emitted right after it. Buckets left open by a gap in the base stream
// are emitted as soon as a later bar proves them closed. Buckets still
// open when the stream ends are dropped, since their bars never closed.
type Aggregator struct {
	source     Source
	timeframes []types.Timeframe
}

var _ Source = (*Aggregator)(nil)

// NewAggregator wraps source and synthesizes bars for the given timeframes.
// Timeframes no longer than the base event's own timeframe are ignored.
func NewAggregator(source Source, timeframes ...types.Timeframe) (*Aggregator, error) {
	for _, tf := range timeframes {
		if !tf.IsValid() {
			return nil, errors.Newf(errors.ErrCodeInvalidTimeframe, "invalid aggregation timeframe %q", tf)
		}
	}

	return &Aggregator{
		source:     source,
		timeframes: timeframes,
	}, nil
}

type bucketKey struct {
	symbol    string
	timeframe types.Timeframe
}

// bucket accumulates one in-progress higher-timeframe bar.
type bucket struct {
	start  time.Time
	open   float64
	high   float64
	low    float64
	close  float64
	volume float64
}

func newBucket(start time.Time, bar types.Bar) *bucket {
	return &bucket{
		start:  start,
		open:   bar.Open,
		high:   bar.High,
		low:    bar.Low,
		close:  bar.Close,
		volume: bar.Volume,
	}
}

func (b *bucket) absorb(bar types.Bar) {
	b.high = math.Max(b.high, bar.High)
	b.low = math.Min(b.low, bar.Low)
	b.close = bar.Close
	b.volume += bar.Volume
}

func (b *bucket) event(symbol string, timeframe types.Timeframe) types.BarEvent {
	return types.BarEvent{
		Bar: types.Bar{
			Symbol: symbol,
			Time:   b.start,
			Open:   b.open,
			High:   b.high,
			Low:    b.low,
			Close:  b.close,
			Volume: b.volume,
		},
		Timeframe: timeframe,
	}
}

// bucketStart aligns t to the opening time of its timeframe bucket.
// Weekly buckets open on Monday, everything else on UTC epoch boundaries.
func bucketStart(t time.Time, timeframe types.Timeframe) time.Time {
	if timeframe == types.TimeframeW1 {
		day := t.Truncate(24 * time.Hour)
		daysSinceMonday := (int(day.Weekday()) + 6) % 7

		return day.AddDate(0, 0, -daysSinceMonday)
	}

	return t.Truncate(timeframe.Duration())
}

// Stream implements Source.
func (a *Aggregator) Stream(ctx context.Context) iter.Seq2[types.BarEvent, error] {
	return func(yield func(types.BarEvent, error) bool) {
		buckets := make(map[bucketKey]*bucket)

		for event, err := range a.source.Stream(ctx) {
			if err != nil {
				if !yield(types.BarEvent{}, err) {
					return
				}

				continue
			}

			// A bar landing in a new bucket proves the previous bucket
			// closed earlier, so that one is emitted first.
			for _, tf := range a.timeframes {
				if tf.Duration() <= event.Timeframe.Duration() {
					continue
				}

				key := bucketKey{symbol: event.Bar.Symbol, timeframe: tf}

				agg, ok := buckets[key]
				if !ok || agg.start.Equal(bucketStart(event.Bar.Time, tf)) {
					continue
				}

				if !yield(agg.event(key.symbol, tf), nil) {
					return
				}

				delete(buckets, key)
			}

			if !yield(event, nil) {
				return
			}

			for _, tf := range a.timeframes {
				if tf.Duration() <= event.Timeframe.Duration() {
					continue
				}

				key := bucketKey{symbol: event.Bar.Symbol, timeframe: tf}

				agg, ok := buckets[key]
				if !ok {
					agg = newBucket(bucketStart(event.Bar.Time, tf), event.Bar)
					buckets[key] = agg
				} else {
					agg.absorb(event.Bar)
				}

				barEnd := event.Bar.Time.Add(event.Timeframe.Duration())
				if !barEnd.Before(agg.start.Add(tf.Duration())) {
					if !yield(agg.event(key.symbol, tf), nil) {
						return
					}

					delete(buckets, key)
				}
			}
		}
	}
}
