package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PlaybookInfo contains metadata about the playbook a replay ran.
type PlaybookInfo struct {
	// ID is the unique identifier of the playbook document.
	ID string `yaml:"id" json:"id"`
	// Version is the document revision the replay was run against.
	Version string `yaml:"version" json:"version"`
	// Name is the human-readable name of the playbook.
	Name string `yaml:"name" json:"name"`
}

type CycleCounts struct {
	// Bars dispatched to the instance, including gated ones.
	Bars int `yaml:"bars"`
	// Cycles actually evaluated (bar timeframe matched the phase).
	Evaluated int `yaml:"evaluated"`
	// Cycles skipped by the evaluate_on gate.
	Gated int `yaml:"gated"`
	// Phase changes taken through a satisfied transition.
	Transitions int `yaml:"transitions"`
	// Phase changes forced by a timeout.
	Timeouts int `yaml:"timeouts"`
	// Management effects applied while a position was open.
	ManagementEvents int `yaml:"management_events"`
	// Rule evaluation failures surfaced as diagnostics.
	Diagnostics int `yaml:"diagnostics"`
}

type TradeCounts struct {
	Opened int `yaml:"opened"`
	Closed int `yaml:"closed"`
	// Count of closed trades with positive realized pnl.
	Winning int `yaml:"winning"`
	// Count of closed trades with negative realized pnl.
	Losing  int     `yaml:"losing"`
	WinRate float64 `yaml:"win_rate"`
	// Realized PnL over all closed trades.
	RealizedPnL float64 `yaml:"realized_pnl"`
}

type ReplayStats struct {
	// ID is the unique identifier for this replay run.
	ID string `yaml:"id" json:"id"`
	// Timestamp is when this replay run was executed.
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	// Symbol the instance ran against.
	Symbol string `yaml:"symbol"`
	// FinalPhase the instance ended in.
	FinalPhase string      `yaml:"final_phase"`
	Cycles     CycleCounts `yaml:"cycles"`
	Trades     TradeCounts `yaml:"trades"`
	// Playbook contains metadata about the playbook that was replayed.
	Playbook PlaybookInfo `yaml:"playbook" json:"playbook"`
	// PlaybookPath is the path to the playbook document.
	PlaybookPath string `yaml:"playbook_path" json:"playbook_path"`
	// DataPath is the path to the bar data used for this replay.
	DataPath string `yaml:"data_path" json:"data_path"`
}

func WriteReplayStats(path string, stats []ReplayStats) error {
	data, err := yaml.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal replay stats to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write replay stats to file: %w", err)
	}

	return nil
}
