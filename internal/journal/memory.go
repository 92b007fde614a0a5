package journal

import (
	"sync"
)

// MemoryJournal keeps entries in memory. It is the default journal for
// tests and short replays; long runs use the DuckDB journal so entries can
// be exported with the results.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Journal = (*MemoryJournal)(nil)

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Record implements the Journal interface.
func (m *MemoryJournal) Record(entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)

	return nil
}

// Entries implements the Journal interface. The returned slice is a copy.
func (m *MemoryJournal) Entries() ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, len(m.entries))
	copy(entries, m.entries)

	return entries, nil
}

// EntriesByKind returns the stored entries of one kind, in recording order.
func (m *MemoryJournal) EntriesByKind(kind EntryKind) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []Entry

	for _, entry := range m.entries {
		if entry.Kind == kind {
			filtered = append(filtered, entry)
		}
	}

	return filtered
}

// Reset discards all stored entries.
func (m *MemoryJournal) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
}
