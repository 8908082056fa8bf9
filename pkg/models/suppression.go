package models

import (
	"encoding/json"
	"time"
)

// SuppressionTier distinguishes identifiers that must never match on their
// own (hard) from identifiers whose weight is merely reduced (soft).
type SuppressionTier string

const (
	SuppressionTierHard SuppressionTier = "hard"
	SuppressionTierSoft SuppressionTier = "soft"
)

// SuppressionEntry is a normalized identifier value that must not be trusted
// for matching without additional corroboration. Entries are created manually
// (known shared office contacts) or by the soft-blacklist detector; they are
// never deleted automatically.
type SuppressionEntry struct {
	ID                  string          `json:"id" db:"id"`
	Type                IdentifierType  `json:"id_type" db:"id_type"`
	ValueNormalized     string          `json:"value_normalized" db:"value_normalized"`
	Tier                SuppressionTier `json:"tier" db:"tier"`
	MinNameSimilarity   *float64        `json:"min_name_similarity,omitempty" db:"min_name_similarity"`
	RequireAddressMatch bool            `json:"require_address_match" db:"require_address_match"`
	DistinctNames       json.RawMessage `json:"distinct_names,omitempty" db:"distinct_names"`
	Note                *string         `json:"note,omitempty" db:"note"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// AllowsOverride reports whether the entry permits a hard-suppressed
// identifier to match when corroborated by name similarity. Only a positive
// threshold counts; a zero or absent threshold is not an override.
func (e *SuppressionEntry) AllowsOverride() bool {
	return e.MinNameSimilarity != nil && *e.MinNameSimilarity > 0
}

// CreateSuppressionEntryRequest is the manual-entry request used by staff
type CreateSuppressionEntryRequest struct {
	Type                IdentifierType  `json:"id_type" validate:"required,oneof=email phone external_id"`
	Value               string          `json:"value" validate:"required"`
	Tier                SuppressionTier `json:"tier" validate:"required,oneof=hard soft"`
	MinNameSimilarity   *float64        `json:"min_name_similarity,omitempty"`
	RequireAddressMatch bool            `json:"require_address_match"`
	Note                *string         `json:"note,omitempty"`
}
