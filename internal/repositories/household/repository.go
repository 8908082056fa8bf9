// Package household maintains the derived household groupings. Households
// are a tie-breaking signal only; they never drive a primary match.
package household

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

// Repository handles household persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new household repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetByAddress returns the household at a normalized address, or nil
func (r *Repository) GetByAddress(ctx context.Context, addressNormalized string) (*models.Household, error) {
	ctx, span := tracing.StartSpan(ctx, "household.Repository.GetByAddress")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "address_normalized", "label", "created_at", "updated_at", "deleted_at")
	sb.From("households")
	sb.Where(
		sb.Equal("address_normalized", addressNormalized),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var hh models.Household
	if err := r.db.GetContext(ctx, &hh, query, args...); err != nil {
		if err.Error() == noRowsErr {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get household")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get household")
	}

	return &hh, nil
}

// Link attaches an entity to the household at an address, creating the
// household first if needed. Idempotent on (household, entity).
func (r *Repository) Link(ctx context.Context, entityID, addressNormalized, label, role string) (*models.Household, error) {
	ctx, span := tracing.StartSpan(ctx, "household.Repository.Link")
	defer span.End()

	if role == "" {
		role = models.HouseholdRoleMember
	}

	ownsTx := !database.HasOpenTx(ctx)
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin household link")
	}
	if ownsTx {
		defer database.RollbackTx(ctx, tx)
	}

	now := time.Now().UTC()
	hhID := uuid.New().String()

	upsert := `
		INSERT INTO households (id, address_normalized, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (address_normalized) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id, address_normalized, label, created_at, updated_at, deleted_at`

	var hh models.Household
	if err := tx.GetContext(ctx, &hh, upsert, hhID, addressNormalized, label, now); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert household")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert household")
	}

	member := `
		INSERT INTO household_members (household_id, entity_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (household_id, entity_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, member, hh.ID, entityID, role, now); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to add household member")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to add household member")
	}

	if ownsTx {
		if err := database.CommitTx(ctx, tx); err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit household link")
		}
	}

	return &hh, nil
}

// Members returns the entities linked to a household
func (r *Repository) Members(ctx context.Context, householdID string) ([]models.HouseholdMember, error) {
	ctx, span := tracing.StartSpan(ctx, "household.Repository.Members")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("household_id", "entity_id", "role", "created_at")
	sb.From("household_members")
	sb.Where(sb.Equal("household_id", householdID))
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	members := []models.HouseholdMember{}
	if err := r.db.SelectContext(ctx, &members, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list household members")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list household members")
	}
	return members, nil
}

// DetectHouseholds groups active person entities that share a normalized
// address into households and returns the memberships it linked. Idempotent
// batch job; reruns only add links.
func (r *Repository) DetectHouseholds(ctx context.Context) ([]models.HouseholdMemberLink, error) {
	ctx, span := tracing.StartSpan(ctx, "household.Repository.DetectHouseholds")
	defer span.End()

	query := `
		SELECT a.address_normalized, e.id AS entity_id
		FROM entity_addresses a
		JOIN entities e ON e.id = a.entity_id
		WHERE e.kind = 'person'
		AND e.merged_into IS NULL
		AND e.deleted_at IS NULL
		AND a.address_normalized IN (
			SELECT address_normalized FROM entity_addresses aa
			JOIN entities ee ON ee.id = aa.entity_id
			WHERE ee.kind = 'person' AND ee.merged_into IS NULL AND ee.deleted_at IS NULL
			GROUP BY address_normalized
			HAVING COUNT(DISTINCT ee.id) >= 2
		)
		ORDER BY a.address_normalized, e.id`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to scan for shared addresses")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to scan for shared addresses")
	}
	defer rows.Close()

	type pair struct {
		Address  string `db:"address_normalized"`
		EntityID string `db:"entity_id"`
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.StructScan(&p); err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to scan shared address row")
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to scan for shared addresses")
	}

	var links []models.HouseholdMemberLink
	for _, p := range pairs {
		hh, err := r.Link(ctx, p.EntityID, p.Address, "", models.HouseholdRoleMember)
		if err != nil {
			return links, err
		}
		links = append(links, models.HouseholdMemberLink{
			Household: hh,
			EntityID:  p.EntityID,
			Role:      models.HouseholdRoleMember,
		})
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"links": len(links)}).Info("Household detection complete")
	return links, nil
}
