// Package suppression holds the identifier blacklists consulted during
// candidate scoring. A Snapshot is loaded once per processing batch so a
// whole batch scores against one consistent view of the registry.
package suppression

import (
	"github.com/pawmark/trapper/pkg/models"
)

// Snapshot is an immutable point-in-time view of the suppression registry.
// Lookups are safe for concurrent use.
type Snapshot struct {
	entries map[key]*models.SuppressionEntry
}

type key struct {
	idType models.IdentifierType
	value  string
}

// NewSnapshot builds a snapshot from registry rows. Later rows win on
// duplicate (type, value) pairs.
func NewSnapshot(entries []models.SuppressionEntry) *Snapshot {
	m := make(map[key]*models.SuppressionEntry, len(entries))
	for i := range entries {
		e := entries[i]
		m[key{e.Type, e.ValueNormalized}] = &e
	}
	return &Snapshot{entries: m}
}

// EmptySnapshot returns a snapshot with no entries
func EmptySnapshot() *Snapshot {
	return &Snapshot{entries: map[key]*models.SuppressionEntry{}}
}

// Lookup returns the entry for a normalized identifier value, or nil
func (s *Snapshot) Lookup(idType models.IdentifierType, value string) *models.SuppressionEntry {
	if value == "" {
		return nil
	}
	return s.entries[key{idType, value}]
}

// IsHard reports whether the value is hard-blacklisted
func (s *Snapshot) IsHard(idType models.IdentifierType, value string) bool {
	e := s.Lookup(idType, value)
	return e != nil && e.Tier == models.SuppressionTierHard
}

// IsSoft reports whether the value is soft-blacklisted
func (s *Snapshot) IsSoft(idType models.IdentifierType, value string) bool {
	e := s.Lookup(idType, value)
	return e != nil && e.Tier == models.SuppressionTierSoft
}

// Len returns the number of entries in the snapshot
func (s *Snapshot) Len() int {
	return len(s.entries)
}
