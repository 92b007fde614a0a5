package journal

import (
	"strconv"
	"time"

	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// EntryKind classifies what a journal entry records.
type EntryKind string

const (
	// EntryKindTransition records a phase change, including timeouts and
	// trade-closed transitions.
	EntryKindTransition EntryKind = "transition"
	// EntryKindManagement records one applied management-rule effect.
	EntryKindManagement EntryKind = "management"
	// EntryKindDiagnostic records an expression failure that made a rule
	// false. Strategy authors use these to tell a broken rule apart from a
	// legitimately unsatisfied one.
	EntryKindDiagnostic EntryKind = "diagnostic"
	// EntryKindLog records a playbook log action.
	EntryKindLog EntryKind = "log"
)

// Entry is a single journal record with instance context.
type Entry struct {
	// Time is the bar time of the cycle that produced this entry.
	Time       time.Time
	PlaybookID string
	Symbol     string
	Kind       EntryKind
	// Phase is the instance's phase when the entry was recorded.
	Phase string
	// Message is the human-readable entry content.
	Message string
	// Fields contains optional structured key-value data.
	Fields map[string]string
}

// Journal is the interface for recording instance activity.
type Journal interface {
	// Record stores a journal entry.
	Record(entry Entry) error
	// Entries retrieves all stored entries in recording order.
	Entries() ([]Entry, error)
}

// NewTransitionEntry builds the entry for a phase change. Reason tells the
// trigger apart: a satisfied transition, a timeout, or a closed trade.
func NewTransitionEntry(time time.Time, playbookID, symbol, from, to, reason string) Entry {
	return Entry{
		Time:       time,
		PlaybookID: playbookID,
		Symbol:     symbol,
		Kind:       EntryKindTransition,
		Phase:      from,
		Message:    "phase " + from + " -> " + to,
		Fields: map[string]string{
			"from":   from,
			"to":     to,
			"reason": reason,
		},
	}
}

// NewManagementEntry builds the entry for an applied management effect.
func NewManagementEntry(phase string, event types.ManagementEvent) Entry {
	return Entry{
		Time:       event.Time,
		PlaybookID: event.PlaybookID,
		Symbol:     event.Symbol,
		Kind:       EntryKindManagement,
		Phase:      phase,
		Message:    "rule " + event.Rule + " applied " + string(event.Effect),
		Fields: map[string]string{
			"rule":   event.Rule,
			"effect": string(event.Effect),
			"value":  strconv.FormatFloat(event.Value, 'f', -1, 64),
		},
	}
}

// NewDiagnosticEntry builds the entry for a failed rule evaluation. Where
// names the rule's position, e.g. "transition[1].when" or "manage.breakeven".
func NewDiagnosticEntry(time time.Time, playbookID, symbol, phase, where, message string) Entry {
	return Entry{
		Time:       time,
		PlaybookID: playbookID,
		Symbol:     symbol,
		Kind:       EntryKindDiagnostic,
		Phase:      phase,
		Message:    message,
		Fields: map[string]string{
			"where": where,
		},
	}
}

// NewLogEntry builds the entry for a playbook log action.
func NewLogEntry(time time.Time, playbookID, symbol, phase, message string) Entry {
	return Entry{
		Time:       time,
		PlaybookID: playbookID,
		Symbol:     symbol,
		Kind:       EntryKindLog,
		Phase:      phase,
		Message:    message,
	}
}
