// Package suppressionentry persists the suppression registry and backs the
// soft-blacklist detector's scans.
package suppressionentry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/pawmark/trapper/pkg/database"
	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/suppression"
	"github.com/pawmark/trapper/pkg/tracing"
)

// Repository handles suppression entry persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new suppression entry repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListAll returns every registry entry, for building a scoring snapshot
func (r *Repository) ListAll(ctx context.Context) ([]models.SuppressionEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "suppressionentry.Repository.ListAll")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "id_type", "value_normalized", "tier", "min_name_similarity", "require_address_match", "distinct_names", "note", "created_at", "updated_at")
	sb.From("suppression_entries")

	query, args := sb.Build()
	entries := []models.SuppressionEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list suppression entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list suppression entries")
	}
	return entries, nil
}

// Snapshot loads the full registry into an immutable lookup view
func (r *Repository) Snapshot(ctx context.Context) (*suppression.Snapshot, error) {
	entries, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return suppression.NewSnapshot(entries), nil
}

// Create records a manual suppression entry. Duplicate (type, value) pairs
// update tier and corroboration requirements in place.
func (r *Repository) Create(ctx context.Context, req *models.CreateSuppressionEntryRequest, valueNormalized string) (*models.SuppressionEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "suppressionentry.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	entry := &models.SuppressionEntry{
		ID:                  uuid.New().String(),
		Type:                req.Type,
		ValueNormalized:     valueNormalized,
		Tier:                req.Tier,
		MinNameSimilarity:   req.MinNameSimilarity,
		RequireAddressMatch: req.RequireAddressMatch,
		Note:                req.Note,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("suppression_entries")
	sb.Cols("id", "id_type", "value_normalized", "tier", "min_name_similarity", "require_address_match", "note", "created_at", "updated_at")
	sb.Values(entry.ID, string(entry.Type), entry.ValueNormalized, string(entry.Tier),
		entry.MinNameSimilarity, entry.RequireAddressMatch, entry.Note, entry.CreatedAt, entry.UpdatedAt)

	query, args := sb.Build()
	query += ` ON CONFLICT (id_type, value_normalized) DO UPDATE SET
		tier = EXCLUDED.tier,
		min_name_similarity = EXCLUDED.min_name_similarity,
		require_address_match = EXCLUDED.require_address_match,
		note = COALESCE(EXCLUDED.note, suppression_entries.note),
		updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create suppression entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create suppression entry")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id_type": string(entry.Type),
		"tier":    string(entry.Tier),
	}).Info("Created suppression entry")

	return entry, nil
}

// FindSharedIdentifiers scans the decision log for identifier values that
// arrived under at least minDistinctNames distinct normalized display names.
// The log is the observation stream: active identifiers are unique per
// entity, so sharing only ever shows up across incoming records.
func (r *Repository) FindSharedIdentifiers(ctx context.Context, idType models.IdentifierType, minDistinctNames int) ([]suppression.SharedIdentifier, error) {
	ctx, span := tracing.StartSpan(ctx, "suppressionentry.Repository.FindSharedIdentifiers")
	defer span.End()

	var field string
	switch idType {
	case models.IdentifierTypeEmail:
		field = "email"
	case models.IdentifierTypePhone:
		field = "phone"
	default:
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "unsupported identifier type for shared scan")
	}

	query := fmt.Sprintf(`
		SELECT $1::text AS id_type, input->>'%[1]s' AS value_normalized, array_agg(DISTINCT input->>'name') AS names
		FROM match_decisions
		WHERE COALESCE(input->>'%[1]s', '') <> ''
		AND COALESCE(input->>'name', '') <> ''
		GROUP BY input->>'%[1]s'
		HAVING COUNT(DISTINCT input->>'name') >= $2`, field)

	rows, err := r.db.QueryxContext(ctx, query, string(idType), minDistinctNames)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to scan for shared identifiers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to scan for shared identifiers")
	}
	defer rows.Close()

	var shared []suppression.SharedIdentifier
	for rows.Next() {
		var s suppression.SharedIdentifier
		var names pq.StringArray
		if err := rows.Scan(&s.Type, &s.Value, &names); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to scan shared identifier row")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to scan shared identifier row")
		}
		s.DistinctNames = names
		shared = append(shared, s)
	}
	if err := rows.Err(); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to scan for shared identifiers")
	}

	return shared, nil
}

// UpsertSoftEntry creates or refreshes a soft-tier entry keyed by the
// normalized identifier. Hard entries are left untouched so the detector
// never weakens a manual hard blacklist.
func (r *Repository) UpsertSoftEntry(ctx context.Context, idType models.IdentifierType, value string, distinctNames []string) error {
	ctx, span := tracing.StartSpan(ctx, "suppressionentry.Repository.UpsertSoftEntry")
	defer span.End()

	now := time.Now().UTC()
	query := `
		INSERT INTO suppression_entries (id, id_type, value_normalized, tier, distinct_names, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id_type, value_normalized) DO UPDATE SET
			distinct_names = EXCLUDED.distinct_names,
			updated_at = EXCLUDED.updated_at
		WHERE suppression_entries.tier = 'soft'`

	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(), string(idType), value, string(models.SuppressionTierSoft),
		suppression.NamesJSON(distinctNames), now)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert soft suppression entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert soft suppression entry")
	}
	return nil
}
