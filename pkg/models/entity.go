package models

import (
	"encoding/json"
	"time"
)

// EntityKind identifies which real-world kind a canonical entity represents
type EntityKind string

const (
	EntityKindPerson EntityKind = "person"
	EntityKindPlace  EntityKind = "place"
	EntityKindAnimal EntityKind = "animal"
)

// CanonicalEntity is the single authoritative record for one real-world
// person, place, or animal. Entities are never hard-deleted; a superseded
// entity keeps a merged_into reference to its survivor.
type CanonicalEntity struct {
	ID             string          `json:"id" db:"id"`
	Kind           EntityKind      `json:"kind" db:"kind"`
	DisplayName    string          `json:"display_name" db:"display_name"`
	NameNormalized string          `json:"name_normalized" db:"name_normalized"`
	MergedInto     *string         `json:"merged_into,omitempty" db:"merged_into"`
	Provenance     json.RawMessage `json:"provenance,omitempty" db:"provenance"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

// IsActive reports whether the entity is a valid match target.
func (e *CanonicalEntity) IsActive() bool {
	return e.MergedInto == nil && e.DeletedAt == nil
}

// FieldProvenance records which source last won survivorship for a field
type FieldProvenance struct {
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProvenanceMap maps field name to the source that owns its current value
type ProvenanceMap map[string]FieldProvenance

// CreateEntityRequest is the request for creating a canonical entity through
// the concurrency-safe creation protocol.
type CreateEntityRequest struct {
	Kind         EntityKind `json:"kind" validate:"required,oneof=person place animal"`
	DisplayName  string     `json:"display_name" validate:"required"`
	Email        string     `json:"email,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Address      string     `json:"address,omitempty"`
	AddressRaw   string     `json:"address_raw,omitempty"`
	EmailRaw     string     `json:"email_raw,omitempty"`
	PhoneRaw     string     `json:"phone_raw,omitempty"`
	SourceSystem string     `json:"source_system" validate:"required"`
}

// EntityListResponse is the response for listing canonical entities
type EntityListResponse struct {
	Items      []CanonicalEntity `json:"items"`
	TotalCount int               `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}
