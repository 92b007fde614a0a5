package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot is the persisted state of one playbook instance, written after
// every evaluated cycle. It is the sole state needed to resume the instance
// after a restart; open-position details beyond the ticket are recovered
// from the execution collaborator.
type Snapshot struct {
	PlaybookID    string             `yaml:"playbook_id" json:"playbook_id"`
	Symbol        string             `yaml:"symbol" json:"symbol"`
	Phase         string             `yaml:"phase" json:"phase"`
	BarsInPhase   int                `yaml:"bars_in_phase" json:"bars_in_phase"`
	TimeframeBars map[Timeframe]int  `yaml:"timeframe_bars" json:"timeframe_bars"`
	Variables     map[string]float64 `yaml:"variables" json:"variables"`
	FiredOnce     []string           `yaml:"fired_once" json:"fired_once"`
	OpenTicket    string             `yaml:"open_ticket" json:"open_ticket"`
	OpenDirection TradeDirection     `yaml:"open_direction" json:"open_direction"`
	UpdatedAt     time.Time          `yaml:"updated_at" json:"updated_at"`
}

// Key returns the (playbook, symbol) identity the snapshot is stored under.
func (s Snapshot) Key() InstanceKey {
	return InstanceKey{PlaybookID: s.PlaybookID, Symbol: s.Symbol}
}

// Clone returns a deep copy whose maps and slices do not alias the receiver.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.TimeframeBars != nil {
		out.TimeframeBars = make(map[Timeframe]int, len(s.TimeframeBars))
		for tf, n := range s.TimeframeBars {
			out.TimeframeBars[tf] = n
		}
	}
	if s.Variables != nil {
		out.Variables = make(map[string]float64, len(s.Variables))
		for name, value := range s.Variables {
			out.Variables[name] = value
		}
	}
	if s.FiredOnce != nil {
		out.FiredOnce = append([]string(nil), s.FiredOnce...)
	}
	return out
}

// WriteSnapshots writes instance snapshots to a YAML file.
func WriteSnapshots(path string, snapshots []Snapshot) error {
	data, err := yaml.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshots to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshots to file: %w", err)
	}

	return nil
}

// InstanceKey identifies one playbook instance. Instances for different
// symbols are fully independent units.
type InstanceKey struct {
	PlaybookID string `yaml:"playbook_id" json:"playbook_id"`
	Symbol     string `yaml:"symbol" json:"symbol"`
}

func (k InstanceKey) String() string {
	return k.PlaybookID + "/" + k.Symbol
}
