// Package testhelper generates synthetic bar series and parquet fixtures
// for replay end-to-end tests.
package testhelper

import (
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// SimulationPattern selects the shape of the generated price path.
type SimulationPattern string

const (
	// PatternIncreasing drifts upward with mild noise.
	PatternIncreasing SimulationPattern = "increasing"
	// PatternDecreasing drifts downward with mild noise.
	PatternDecreasing SimulationPattern = "decreasing"
	// PatternVolatile wanders without drift, capped at a maximum drawdown
	// from the running peak.
	PatternVolatile SimulationPattern = "volatile"
)

// minimumPrice keeps a pathological path from crossing zero.
const minimumPrice = 0.01

// MockDataConfig describes one synthetic bar series.
type MockDataConfig struct {
	Symbol        string
	StartTime     time.Time
	Interval      time.Duration
	NumDataPoints int
	Pattern       SimulationPattern
	InitialPrice  float64
	// VolatilityPercent is the per-bar noise amplitude in percent.
	VolatilityPercent float64
	// TrendStrength is the per-bar drift fraction for the trending patterns.
	TrendStrength float64
	// MaxDrawdownPercent bounds the volatile pattern's drop from its peak.
	MaxDrawdownPercent float64
	// Seed fixes the random sequence; zero seeds from the clock.
	Seed int64
}

// MockDataGenerator produces bar series for end-to-end replays.
type MockDataGenerator struct {
	config MockDataConfig
	rng    *rand.Rand
}

// NewMockDataGenerator creates a generator, filling config defaults.
func NewMockDataGenerator(config MockDataConfig) *MockDataGenerator {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	if config.InitialPrice <= 0 {
		config.InitialPrice = 100.0
	}

	if config.TrendStrength <= 0 {
		config.TrendStrength = 0.001
	}

	if config.VolatilityPercent <= 0 {
		config.VolatilityPercent = 2.0
	}

	if config.MaxDrawdownPercent <= 0 {
		config.MaxDrawdownPercent = 10.0
	}

	return &MockDataGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Generate produces the configured number of bars, oldest first.
func (g *MockDataGenerator) Generate() ([]types.Bar, error) {
	if g.config.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	if g.config.StartTime.IsZero() {
		return nil, fmt.Errorf("start time is required")
	}

	if g.config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}

	if g.config.NumDataPoints <= 0 {
		return nil, fmt.Errorf("NumDataPoints is required")
	}

	bars := make([]types.Bar, g.config.NumDataPoints)
	currentPrice := g.config.InitialPrice
	peakPrice := currentPrice
	currentTime := g.config.StartTime

	for i := range bars {
		newPrice := currentPrice + g.step(currentPrice, peakPrice)
		if newPrice <= 0 {
			newPrice = minimumPrice
		}

		open := currentPrice
		closePrice := newPrice

		// Extend the wicks past the body by a fraction of the volatility.
		wickRange := math.Max(open, closePrice) * (g.config.VolatilityPercent / 100.0) * 0.5
		high := math.Max(open, closePrice) + g.rng.Float64()*wickRange

		low := math.Min(open, closePrice) - g.rng.Float64()*wickRange
		if low <= 0 {
			low = minimumPrice
		}

		bars[i] = types.Bar{
			Symbol: g.config.Symbol,
			Time:   currentTime,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: 1000000 * (0.5 + g.rng.Float64()),
		}

		currentPrice = newPrice
		if currentPrice > peakPrice {
			peakPrice = currentPrice
		}

		currentTime = currentTime.Add(g.config.Interval)
	}

	return bars, nil
}

// step computes the next close-to-close change for the configured pattern.
func (g *MockDataGenerator) step(currentPrice, peakPrice float64) float64 {
	noise := currentPrice * (g.config.VolatilityPercent / 100.0)

	switch g.config.Pattern {
	case PatternIncreasing:
		return currentPrice*g.config.TrendStrength + noise*(g.rng.Float64()-0.3)
	case PatternDecreasing:
		return -currentPrice*g.config.TrendStrength + noise*(g.rng.Float64()-0.7)
	default:
		change := noise * (g.rng.Float64() - 0.45)

		// Clamp at the drawdown floor below the running peak.
		floor := peakPrice * (1 - g.config.MaxDrawdownPercent/100.0)
		if currentPrice+change < floor {
			change = floor + g.rng.Float64()*noise - currentPrice
		}

		return change
	}
}

// WriteToParquet writes bars to a parquet file with the column layout the
// replay source expects.
func WriteToParquet(bars []types.Bar, outputPath string) error {
	if len(bars) == 0 {
		return fmt.Errorf("no bars to write")
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return fmt.Errorf("failed to open DuckDB connection: %w", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE market_data (
			time TIMESTAMP,
			symbol VARCHAR,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	stmt, err := db.Prepare(`
		INSERT INTO market_data (time, symbol, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		_, err = stmt.Exec(bar.Time, bar.Symbol, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	_, err = db.Exec(fmt.Sprintf(`COPY market_data TO '%s' (FORMAT PARQUET)`, outputPath))
	if err != nil {
		return fmt.Errorf("failed to export to parquet: %w", err)
	}

	return nil
}

// GenerateAndWriteToParquet generates a series and writes it in one step.
func GenerateAndWriteToParquet(config MockDataConfig, outputPath string) error {
	generator := NewMockDataGenerator(config)

	bars, err := generator.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate bars: %w", err)
	}

	return WriteToParquet(bars, outputPath)
}
