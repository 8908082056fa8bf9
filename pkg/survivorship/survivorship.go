// Package survivorship decides which source's value wins when sources
// disagree on a canonical entity field. Every rule is configured data, and
// every decision is explainable.
package survivorship

import (
	"github.com/pawmark/trapper/pkg/models"
)

// FieldValue is one side of a survivorship comparison
type FieldValue struct {
	Value  string
	Source string
}

// Decision explains the outcome of one field resolution. IncomingWon is
// false whenever the current value survives, including ties.
type Decision struct {
	Field       string `json:"field"`
	Winner      string `json:"winner_source"`
	IncomingWon bool   `json:"incoming_won"`
	Reason      string `json:"reason"`
}

// Rules holds the per-(kind, field) source priority orderings. A source
// earlier in a list outranks every source after it. Fields with no list
// fall back to "first non-empty wins, current has priority".
type Rules struct {
	priorities map[ruleKey][]string
}

type ruleKey struct {
	kind  models.EntityKind
	field string
}

// NewRules builds an empty rule set
func NewRules() *Rules {
	return &Rules{priorities: map[ruleKey][]string{}}
}

// Set configures the priority ordering for one (kind, field) pair
func (r *Rules) Set(kind models.EntityKind, field string, sources ...string) *Rules {
	r.priorities[ruleKey{kind, field}] = sources
	return r
}

// DefaultRules is the production ordering: the clinic's records are
// hand-verified at intake, the shelter's are staff-entered, and everything
// self-reported ranks below both.
func DefaultRules() *Rules {
	r := NewRules()
	contact := []string{"clinichq", "shelterluv", "airtable", "webform", "legacy_spreadsheet"}
	for _, field := range []string{"display_name", "email", "phone", "address"} {
		r.Set(models.EntityKindPerson, field, contact...)
	}
	r.Set(models.EntityKindPlace, "address", "airtable", "clinichq", "shelterluv", "webform", "legacy_spreadsheet")
	r.Set(models.EntityKindAnimal, "display_name", "shelterluv", "clinichq", "airtable", "webform", "legacy_spreadsheet")
	return r
}

// Resolve picks the surviving value for one field. It is a pure function of
// its inputs; rerunning the same comparison always yields the same answer.
func (r *Rules) Resolve(kind models.EntityKind, field string, current, incoming FieldValue) (FieldValue, Decision) {
	if incoming.Value == "" {
		return current, Decision{
			Field:  field,
			Winner: current.Source,
			Reason: "incoming value empty, current kept",
		}
	}
	if current.Value == "" {
		return incoming, Decision{
			Field:       field,
			Winner:      incoming.Source,
			IncomingWon: true,
			Reason:      "current value empty, incoming adopted",
		}
	}

	priorities, ok := r.priorities[ruleKey{kind, field}]
	if !ok {
		return current, Decision{
			Field:  field,
			Winner: current.Source,
			Reason: "no priority configured, current kept",
		}
	}

	currentRank := sourceRank(priorities, current.Source)
	incomingRank := sourceRank(priorities, incoming.Source)

	if incomingRank < currentRank {
		return incoming, Decision{
			Field:       field,
			Winner:      incoming.Source,
			IncomingWon: true,
			Reason:      "incoming source outranks current for this field",
		}
	}

	return current, Decision{
		Field:  field,
		Winner: current.Source,
		Reason: "current source ranks at or above incoming, current kept",
	}
}

// sourceRank returns the source's position in the priority list. Unlisted
// sources rank below every listed one.
func sourceRank(priorities []string, source string) int {
	for i, s := range priorities {
		if s == source {
			return i
		}
	}
	return len(priorities)
}
