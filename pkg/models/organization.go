package models

import "time"

// Organization is a known institution (clinic, shelter, apartment office)
// whose contact info shows up on intake records submitted on behalf of an
// animal rather than by a private individual.
type Organization struct {
	ID                   string     `json:"id" db:"id"`
	Name                 string     `json:"name" db:"name"`
	PlaceEntityID        string     `json:"place_entity_id" db:"place_entity_id"`
	RepresentativeID     *string    `json:"representative_id,omitempty" db:"representative_id"`
	EmailNormalized      *string    `json:"email_normalized,omitempty" db:"email_normalized"`
	PhoneNormalized      *string    `json:"phone_normalized,omitempty" db:"phone_normalized"`
	AddressNormalized    *string    `json:"address_normalized,omitempty" db:"address_normalized"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt            *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CreateOrganizationRequest registers an institution in the directory
type CreateOrganizationRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}
