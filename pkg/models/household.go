package models

import "time"

// Household membership roles
const (
	HouseholdRolePrimary = "primary"
	HouseholdRoleMember  = "member"
)

// Household groups person entities that share a residence without merging
// them into a single canonical record.
type Household struct {
	ID                string     `json:"id" db:"id"`
	AddressNormalized string     `json:"address_normalized" db:"address_normalized"`
	Label             string     `json:"label" db:"label"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// HouseholdMember links one person entity to a household
type HouseholdMember struct {
	HouseholdID string    `json:"household_id" db:"household_id"`
	EntityID    string    `json:"entity_id" db:"entity_id"`
	Role        string    `json:"role" db:"role"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// HouseholdMemberLink pairs a membership created by the detector with its
// household, so callers can mirror the link downstream.
type HouseholdMemberLink struct {
	Household *Household `json:"household"`
	EntityID  string     `json:"entity_id"`
	Role      string     `json:"role"`
}

// CreateHouseholdLinkRequest attaches an entity to the household at an
// address, creating the household if none exists yet.
type CreateHouseholdLinkRequest struct {
	EntityID string `json:"entity_id" validate:"required,uuid4"`
	Address  string `json:"address" validate:"required"`
	Role     string `json:"role" validate:"omitempty,oneof=primary member"`
}
