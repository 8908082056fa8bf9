// Package orgdirectory is the directory of known institutions whose names
// and contact info show up on intake records. The decision tiers consult it
// to route organization submissions to a representative or reject them.
package orgdirectory

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/pawmark/trapper/pkg/database"
	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/tracing"
)

const noRowsErr = "sql: no rows in result set"

// Repository handles organization directory persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new organization directory repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetByName looks up an organization by normalized display name. Returns
// nil when the name is not in the directory.
func (r *Repository) GetByName(ctx context.Context, nameNormalized string) (*models.Organization, error) {
	ctx, span := tracing.StartSpan(ctx, "orgdirectory.Repository.GetByName")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "place_entity_id", "representative_id", "email_normalized", "phone_normalized", "address_normalized", "created_at", "updated_at", "deleted_at")
	sb.From("organizations")
	sb.Where(
		sb.Equal("name_normalized", nameNormalized),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var org models.Organization
	if err := r.db.GetContext(ctx, &org, query, args...); err != nil {
		if err.Error() == noRowsErr {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to look up organization")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up organization")
	}

	return &org, nil
}

// Create registers an organization with its canonical place entity
func (r *Repository) Create(ctx context.Context, name, nameNormalized, placeEntityID string, representativeID *string) (*models.Organization, error) {
	ctx, span := tracing.StartSpan(ctx, "orgdirectory.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	org := &models.Organization{
		ID:               uuid.New().String(),
		Name:             name,
		PlaceEntityID:    placeEntityID,
		RepresentativeID: representativeID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("organizations")
	sb.Cols("id", "name", "name_normalized", "place_entity_id", "representative_id", "created_at", "updated_at")
	sb.Values(org.ID, org.Name, nameNormalized, org.PlaceEntityID, org.RepresentativeID, org.CreatedAt, org.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create organization")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create organization")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": org.ID, "name": name}).Info("Created organization")
	return org, nil
}

// SetRepresentative maps a person entity as the organization's human contact
func (r *Repository) SetRepresentative(ctx context.Context, orgID, representativeID string) error {
	ctx, span := tracing.StartSpan(ctx, "orgdirectory.Repository.SetRepresentative")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("organizations")
	ub.Set(
		ub.Assign("representative_id", representativeID),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", orgID),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set organization representative")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set organization representative")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "organization not found")
	}
	return nil
}
