package indicator

import (
	"sync"

	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// DefaultHistoryLimit is the per-(symbol, timeframe) bar retention used
// when no limit is configured.
const DefaultHistoryLimit = 512

type historyKey struct {
	symbol    string
	timeframe types.Timeframe
}

// History retains the most recent closed bars per symbol and timeframe,
// ordered oldest first, evicting the oldest entry once a series reaches the
// limit. Bar events are expected in chronological order per symbol; a bar
// carrying the same time as the last retained entry replaces it.
type History struct {
	limit int
	bars  map[historyKey][]types.Bar
	last  map[string]types.Bar
	mu    sync.RWMutex
}

// NewHistory creates a History keeping at most limit bars per
// (symbol, timeframe). A non-positive limit falls back to
// DefaultHistoryLimit.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	return &History{
		limit: limit,
		bars:  make(map[historyKey][]types.Bar),
		last:  make(map[string]types.Bar),
		mu:    sync.RWMutex{},
	}
}

// Push appends the event's bar to its (symbol, timeframe) series.
func (h *History) Push(event types.BarEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := historyKey{symbol: event.Bar.Symbol, timeframe: event.Timeframe}
	series := h.bars[key]

	if n := len(series); n > 0 && series[n-1].Time.Equal(event.Bar.Time) {
		series[n-1] = event.Bar
	} else {
		series = append(series, event.Bar)
		if len(series) > h.limit {
			series = series[1:]
		}
	}

	h.bars[key] = series

	if last, ok := h.last[event.Bar.Symbol]; !ok || !event.Bar.Time.Before(last.Time) {
		h.last[event.Bar.Symbol] = event.Bar
	}
}

// Bars returns a copy of the retained series for (symbol, timeframe),
// oldest first.
func (h *History) Bars(symbol string, timeframe types.Timeframe) []types.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()

	series := h.bars[historyKey{symbol: symbol, timeframe: timeframe}]
	out := make([]types.Bar, len(series))
	copy(out, series)

	return out
}

// Last returns the most recent bar seen for the symbol on any timeframe.
func (h *History) Last(symbol string) (types.Bar, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bar, ok := h.last[symbol]

	return bar, ok
}

// Len returns the number of retained bars for (symbol, timeframe).
func (h *History) Len(symbol string, timeframe types.Timeframe) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.bars[historyKey{symbol: symbol, timeframe: timeframe}])
}

// Clear drops all retained bars.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.bars = make(map[historyKey][]types.Bar)
	h.last = make(map[string]types.Bar)
}
