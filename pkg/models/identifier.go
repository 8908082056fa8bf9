package models

import "time"

// IdentifierType is the kind of contact/identity datum an identifier holds
type IdentifierType string

const (
	IdentifierTypeEmail      IdentifierType = "email"
	IdentifierTypePhone      IdentifierType = "phone"
	IdentifierTypeExternalID IdentifierType = "external_id"
)

// Identifier is a typed, sourced, confidence-scored piece of identity data
// attached to a canonical entity. Rows are append-only: a value is never
// updated in place, only confidence-adjusted or superseded by a new row from
// a different source.
type Identifier struct {
	EntityID        string         `json:"entity_id" db:"entity_id"`
	ID              string         `json:"id" db:"id"`
	Type            IdentifierType `json:"id_type" db:"id_type"`
	ValueNormalized string         `json:"value_normalized" db:"value_normalized"`
	ValueRaw        string         `json:"value_raw" db:"value_raw"`
	SourceSystem    string         `json:"source_system" db:"source_system"`
	Confidence      float64        `json:"confidence" db:"confidence"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	SupersededAt    *time.Time     `json:"superseded_at,omitempty" db:"superseded_at"`
}

// EntityAddress links a normalized postal address to an entity. Address is a
// matching signal, not an identifier: it is shared across households and so
// never uniquely owns an entity.
type EntityAddress struct {
	ID                string    `json:"id" db:"id"`
	EntityID          string    `json:"entity_id" db:"entity_id"`
	AddressNormalized string    `json:"address_normalized" db:"address_normalized"`
	AddressRaw        string    `json:"address_raw" db:"address_raw"`
	SourceSystem      string    `json:"source_system" db:"source_system"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
