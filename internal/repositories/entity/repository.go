// Package entity persists canonical entities, their identifiers, and their
// linked addresses. Entity creation runs under a transaction-scoped advisory
// lock so concurrent ingestion of the same identity cannot fork duplicates.
package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/pawmark/trapper/pkg/database"
	"github.com/pawmark/trapper/pkg/matching"
	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/normalize"
	"github.com/pawmark/trapper/pkg/tracing"
)

const noRowsErr = "sql: no rows in result set"

// Repository handles canonical entity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// Get retrieves an entity by ID, following the merged_into chain to the
// active survivor. A merged entity is never returned as itself.
func (r *Repository) Get(ctx context.Context, id string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Get")
	defer span.End()

	// merged_into chains are short in practice, but a bad manual merge
	// could loop, so the walk is bounded.
	for hops := 0; hops < 10; hops++ {
		entity, err := r.getRow(ctx, id)
		if err != nil {
			return nil, err
		}
		if entity.MergedInto == nil {
			return entity, nil
		}
		id = *entity.MergedInto
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Error("merged_into chain exceeded depth limit")
	return nil, httperror.NewHTTPError(http.StatusInternalServerError, "entity merge chain too deep")
}

func (r *Repository) getRow(ctx context.Context, id string) (*models.CanonicalEntity, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "kind", "display_name", "name_normalized", "merged_into", "provenance", "created_at", "updated_at", "deleted_at")
	sb.From("entities")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var entity models.CanonicalEntity
	if err := r.db.GetContext(ctx, &entity, query, args...); err != nil {
		if err.Error() == noRowsErr {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("entity %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity")
	}

	return &entity, nil
}

// List returns active entities of a kind, newest first
func (r *Repository) List(ctx context.Context, kind models.EntityKind, page, pageSize int) (*models.EntityListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "kind", "display_name", "name_normalized", "merged_into", "provenance", "created_at", "updated_at", "deleted_at")
	sb.From("entities")
	sb.Where(
		sb.Equal("kind", string(kind)),
		sb.IsNull("merged_into"),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at").Desc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)

	query, args := sb.Build()
	items := []models.CanonicalEntity{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entities")
	}

	cb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cb.Select("COUNT(*)")
	cb.From("entities")
	cb.Where(
		cb.Equal("kind", string(kind)),
		cb.IsNull("merged_into"),
		cb.IsNull("deleted_at"),
	)
	countQuery, countArgs := cb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count entities")
	}

	return &models.EntityListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// ActiveIdentifierOwner returns the active entity that owns an identifier
// value, or nil when no active entity holds it. Ownership through a merged
// entity resolves to the survivor.
func (r *Repository) ActiveIdentifierOwner(ctx context.Context, idType models.IdentifierType, value string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ActiveIdentifierOwner")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("e.id", "e.kind", "e.display_name", "e.name_normalized", "e.merged_into", "e.provenance", "e.created_at", "e.updated_at", "e.deleted_at")
	sb.From("identifiers i")
	sb.JoinWithOption(sqlbuilder.InnerJoin, "entities e", "e.id = i.entity_id")
	sb.Where(
		sb.Equal("i.id_type", string(idType)),
		sb.Equal("i.value_normalized", value),
		sb.IsNull("i.superseded_at"),
		sb.IsNull("e.merged_into"),
		sb.IsNull("e.deleted_at"),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var entity models.CanonicalEntity
	if err := r.db.GetContext(ctx, &entity, query, args...); err != nil {
		if err.Error() == noRowsErr {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to look up identifier owner")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up identifier owner")
	}

	return &entity, nil
}

// candidateRow is one (entity, identifier-or-address) pairing from the pool query
type candidateRow struct {
	EntityID     string  `db:"entity_id"`
	DisplayName  string  `db:"display_name"`
	IDType       *string `db:"id_type"`
	Value        *string `db:"value_normalized"`
	Address      *string `db:"address_normalized"`
	SourceSystem *string `db:"source_system"`
}

// FindCandidates pulls the scoring pool for an incoming record: every active
// entity of the kind that shares the email, the phone, or an address
// normalized-equal to the incoming one, each loaded with all of its active
// identifiers and addresses so scoring sees the complete picture.
func (r *Repository) FindCandidates(ctx context.Context, kind models.EntityKind, email, phone, address string) ([]matching.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.FindCandidates")
	defer span.End()

	if email == "" && phone == "" && address == "" {
		return nil, nil
	}

	ids, err := r.candidateIDs(ctx, kind, email, phone, address)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.loadCandidateRows(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := map[string]*matching.Candidate{}
	order := []string{}
	for _, row := range rows {
		cand, ok := byID[row.EntityID]
		if !ok {
			cand = &matching.Candidate{EntityID: row.EntityID, DisplayName: row.DisplayName}
			byID[row.EntityID] = cand
			order = append(order, row.EntityID)
		}
		switch {
		case row.Address != nil:
			source := ""
			if row.SourceSystem != nil {
				source = *row.SourceSystem
			}
			cand.Addresses = append(cand.Addresses, matching.CandidateAddress{
				AddressNormalized: *row.Address,
				SourceSystem:      source,
			})
		case row.IDType != nil && row.Value != nil:
			switch models.IdentifierType(*row.IDType) {
			case models.IdentifierTypeEmail:
				cand.Emails = append(cand.Emails, *row.Value)
			case models.IdentifierTypePhone:
				cand.Phones = append(cand.Phones, *row.Value)
			}
		}
	}

	candidates := make([]matching.Candidate, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, *byID[id])
	}
	return candidates, nil
}

func (r *Repository) candidateIDs(ctx context.Context, kind models.EntityKind, email, phone, address string) ([]string, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("DISTINCT e.id")
	sb.From("entities e")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "identifiers i", "i.entity_id = e.id AND i.superseded_at IS NULL")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "entity_addresses a", "a.entity_id = e.id")

	matchConds := []string{}
	if email != "" {
		matchConds = append(matchConds, sb.And(sb.Equal("i.id_type", string(models.IdentifierTypeEmail)), sb.Equal("i.value_normalized", email)))
	}
	if phone != "" {
		matchConds = append(matchConds, sb.And(sb.Equal("i.id_type", string(models.IdentifierTypePhone)), sb.Equal("i.value_normalized", phone)))
	}
	if address != "" {
		matchConds = append(matchConds, sb.Equal("a.address_normalized", address))
	}

	sb.Where(
		sb.Equal("e.kind", string(kind)),
		sb.IsNull("e.merged_into"),
		sb.IsNull("e.deleted_at"),
		sb.Or(matchConds...),
	)

	query, args := sb.Build()
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find candidate entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find candidate entities")
	}
	return ids, nil
}

func (r *Repository) loadCandidateRows(ctx context.Context, ids []string) ([]candidateRow, error) {
	idArgs := make([]any, len(ids))
	for i, id := range ids {
		idArgs[i] = id
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		"e.id AS entity_id",
		"e.display_name",
		"i.id_type",
		"i.value_normalized",
		"NULL AS address_normalized",
		"i.source_system",
	)
	sb.From("entities e")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "identifiers i", "i.entity_id = e.id AND i.superseded_at IS NULL")
	sb.Where(sb.In("e.id", idArgs...))

	ab := sqlbuilder.PostgreSQL.NewSelectBuilder()
	ab.Select(
		"e.id AS entity_id",
		"e.display_name",
		"NULL AS id_type",
		"NULL AS value_normalized",
		"a.address_normalized",
		"a.source_system",
	)
	ab.From("entities e")
	ab.JoinWithOption(sqlbuilder.InnerJoin, "entity_addresses a", "a.entity_id = e.id")
	ab.Where(ab.In("e.id", idArgs...))

	query, args := sqlbuilder.UnionAll(sb, ab).BuildWithFlavor(sqlbuilder.PostgreSQL)
	rows := []candidateRow{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load candidate details")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load candidate details")
	}
	return rows, nil
}

// CreateWithDedup creates a canonical entity under the lock, re-check, then
// act protocol. The advisory lock is keyed on the normalized identifiers and
// scoped to the enclosing transaction, so it releases on commit or rollback.
// Returns the entity and whether this call created it.
func (r *Repository) CreateWithDedup(ctx context.Context, req *models.CreateEntityRequest) (*models.CanonicalEntity, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.CreateWithDedup")
	defer span.End()

	ownsTx := !database.HasOpenTx(ctx)
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin entity creation")
	}
	if ownsTx {
		defer database.RollbackTx(ctx, tx)
	}

	lockKey := fmt.Sprintf("%s|%s|%s", req.Kind, req.Email, req.Phone)
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to acquire entity creation lock")
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to acquire entity creation lock")
	}

	// Another call may have created this identity while we waited on the
	// lock. Re-check before inserting.
	if existing, err := r.recheckOwner(ctx, tx, req); err != nil {
		return nil, false, err
	} else if existing != nil {
		if ownsTx {
			if err := database.CommitTx(ctx, tx); err != nil {
				return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit entity lookup")
			}
		}
		return existing, false, nil
	}

	entity, err := r.insertEntity(ctx, tx, req)
	if err != nil {
		return nil, false, err
	}

	if ownsTx {
		if err := database.CommitTx(ctx, tx); err != nil {
			return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit entity creation")
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":     entity.ID,
		"kind":   string(entity.Kind),
		"source": req.SourceSystem,
	}).Info("Created canonical entity")

	return entity, true, nil
}

func (r *Repository) recheckOwner(ctx context.Context, tx database.Tx, req *models.CreateEntityRequest) (*models.CanonicalEntity, error) {
	checks := []struct {
		idType models.IdentifierType
		value  string
	}{
		{models.IdentifierTypeEmail, req.Email},
		{models.IdentifierTypePhone, req.Phone},
	}

	for _, check := range checks {
		if check.value == "" {
			continue
		}

		sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
		sb.Select("e.id", "e.kind", "e.display_name", "e.name_normalized", "e.merged_into", "e.provenance", "e.created_at", "e.updated_at", "e.deleted_at")
		sb.From("identifiers i")
		sb.JoinWithOption(sqlbuilder.InnerJoin, "entities e", "e.id = i.entity_id")
		sb.Where(
			sb.Equal("i.id_type", string(check.idType)),
			sb.Equal("i.value_normalized", check.value),
			sb.IsNull("i.superseded_at"),
			sb.IsNull("e.merged_into"),
			sb.IsNull("e.deleted_at"),
		)
		sb.Limit(1)

		query, args := sb.Build()
		var entity models.CanonicalEntity
		err := tx.GetContext(ctx, &entity, query, args...)
		if err == nil {
			return &entity, nil
		}
		if err.Error() != noRowsErr {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to re-check identifier owner")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to re-check identifier owner")
		}
	}

	return nil, nil
}

func (r *Repository) insertEntity(ctx context.Context, tx database.Tx, req *models.CreateEntityRequest) (*models.CanonicalEntity, error) {
	now := time.Now().UTC()
	nameNormalized := normalize.Name(req.DisplayName)

	provenance := models.ProvenanceMap{
		"display_name": {Source: req.SourceSystem, UpdatedAt: now},
	}
	provJSON, err := json.Marshal(provenance)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode provenance")
	}

	entity := &models.CanonicalEntity{
		ID:             uuid.New().String(),
		Kind:           req.Kind,
		DisplayName:    req.DisplayName,
		NameNormalized: nameNormalized,
		Provenance:     provJSON,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("entities")
	sb.Cols("id", "kind", "display_name", "name_normalized", "provenance", "created_at", "updated_at")
	sb.Values(entity.ID, string(entity.Kind), entity.DisplayName, entity.NameNormalized, entity.Provenance, entity.CreatedAt, entity.UpdatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert entity")
	}

	identifiers := []struct {
		idType models.IdentifierType
		value  string
		raw    string
	}{
		{models.IdentifierTypeEmail, req.Email, req.EmailRaw},
		{models.IdentifierTypePhone, req.Phone, req.PhoneRaw},
	}
	for _, id := range identifiers {
		if id.value == "" {
			continue
		}
		if err := r.insertIdentifier(ctx, tx, entity.ID, id.idType, id.value, id.raw, req.SourceSystem, 1.0); err != nil {
			return nil, err
		}
	}

	if req.Address != "" {
		if err := r.insertAddress(ctx, tx, entity.ID, req.Address, req.AddressRaw, req.SourceSystem); err != nil {
			return nil, err
		}
	}

	return entity, nil
}

func (r *Repository) insertIdentifier(ctx context.Context, tx database.Tx, entityID string, idType models.IdentifierType, value, raw, source string, confidence float64) error {
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("identifiers")
	sb.Cols("id", "entity_id", "id_type", "value_normalized", "value_raw", "source_system", "confidence", "created_at")
	sb.Values(uuid.New().String(), entityID, string(idType), value, raw, source, confidence, time.Now().UTC())

	query, args := sb.Build()
	query += " ON CONFLICT (entity_id, id_type, value_normalized, source_system) WHERE superseded_at IS NULL DO UPDATE SET confidence = GREATEST(identifiers.confidence, EXCLUDED.confidence)"

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert identifier")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert identifier")
	}
	return nil
}

func (r *Repository) insertAddress(ctx context.Context, tx database.Tx, entityID, normalized, raw, source string) error {
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("entity_addresses")
	sb.Cols("id", "entity_id", "address_normalized", "address_raw", "source_system", "created_at")
	sb.Values(uuid.New().String(), entityID, normalized, raw, source, time.Now().UTC())

	query, args := sb.Build()
	query += " ON CONFLICT (entity_id, address_normalized, source_system) DO NOTHING"

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert entity address")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert entity address")
	}
	return nil
}

// AttachIdentifier records a confirmed identifier value for an entity as an
// idempotent upsert. Re-confirming from the same source only ever raises the
// stored confidence, never lowers it.
func (r *Repository) AttachIdentifier(ctx context.Context, entityID string, idType models.IdentifierType, value, raw, source string, confidence float64) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.AttachIdentifier")
	defer span.End()

	ownsTx := !database.HasOpenTx(ctx)
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin identifier attach")
	}
	if ownsTx {
		defer database.RollbackTx(ctx, tx)
	}

	if err := r.insertIdentifier(ctx, tx, entityID, idType, value, raw, source, confidence); err != nil {
		return err
	}
	if ownsTx {
		if err := database.CommitTx(ctx, tx); err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit identifier attach")
		}
	}
	return nil
}

// AddAddress links an address observation to an entity, idempotently
func (r *Repository) AddAddress(ctx context.Context, entityID, normalized, raw, source string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.AddAddress")
	defer span.End()

	ownsTx := !database.HasOpenTx(ctx)
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin address attach")
	}
	if ownsTx {
		defer database.RollbackTx(ctx, tx)
	}

	if err := r.insertAddress(ctx, tx, entityID, normalized, raw, source); err != nil {
		return err
	}
	if ownsTx {
		if err := database.CommitTx(ctx, tx); err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit address attach")
		}
	}
	return nil
}

// ListIdentifiers returns an entity's active identifiers
func (r *Repository) ListIdentifiers(ctx context.Context, entityID string) ([]models.Identifier, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListIdentifiers")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "entity_id", "id_type", "value_normalized", "value_raw", "source_system", "confidence", "created_at", "superseded_at")
	sb.From("identifiers")
	sb.Where(
		sb.Equal("entity_id", entityID),
		sb.IsNull("superseded_at"),
	)
	sb.OrderBy("created_at")

	query, args := sb.Build()
	identifiers := []models.Identifier{}
	if err := r.db.SelectContext(ctx, &identifiers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list identifiers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list identifiers")
	}
	return identifiers, nil
}

// UpdateSurvivedFields applies the survivorship winner for display_name and
// refreshes the per-field provenance map.
func (r *Repository) UpdateSurvivedFields(ctx context.Context, entityID string, displayName *string, provenance models.ProvenanceMap) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.UpdateSurvivedFields")
	defer span.End()

	provJSON, err := json.Marshal(provenance)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode provenance")
	}

	ownsTx := !database.HasOpenTx(ctx)
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin field update")
	}
	if ownsTx {
		defer database.RollbackTx(ctx, tx)
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("entities")
	assigns := []string{
		ub.Assign("provenance", provJSON),
		ub.Assign("updated_at", time.Now().UTC()),
	}
	if displayName != nil {
		assigns = append(assigns, ub.Assign("display_name", *displayName))
	}
	ub.Set(assigns...)
	ub.Where(
		ub.Equal("id", entityID),
		ub.IsNull("merged_into"),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update survived fields")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update survived fields")
	}
	if ownsTx {
		if err := database.CommitTx(ctx, tx); err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit field update")
		}
	}
	return nil
}

// Merge tombstones the loser entity under the survivor: the loser gets a
// merged_into reference, its active identifiers move to the survivor, and
// every future lookup follows the reference. Nothing is hard-deleted.
func (r *Repository) Merge(ctx context.Context, loserID, survivorID string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Merge")
	defer span.End()

	if loserID == survivorID {
		return httperror.NewHTTPError(http.StatusBadRequest, "an entity cannot merge into itself")
	}

	ownsTx := !database.HasOpenTx(ctx)
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin merge")
	}
	if ownsTx {
		defer database.RollbackTx(ctx, tx)
	}

	now := time.Now().UTC()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("entities")
	ub.Set(
		ub.Assign("merged_into", survivorID),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", loserID),
		ub.IsNull("merged_into"),
		ub.IsNull("deleted_at"),
	)
	query, args := ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to tombstone merged entity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to merge entity")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("entity %s is not active", loserID))
	}

	// Move the loser's active identifiers onto the survivor. Values the
	// survivor already holds are superseded on the loser instead.
	moveQuery := `
		UPDATE identifiers SET entity_id = $1
		WHERE entity_id = $2 AND superseded_at IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM identifiers s
			WHERE s.entity_id = $1 AND s.id_type = identifiers.id_type
			AND s.value_normalized = identifiers.value_normalized
			AND s.superseded_at IS NULL
		)`
	if _, err := tx.ExecContext(ctx, moveQuery, survivorID, loserID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to move identifiers to survivor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to merge entity")
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE identifiers SET superseded_at = $1 WHERE entity_id = $2 AND superseded_at IS NULL", now, loserID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to supersede loser identifiers")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to merge entity")
	}

	if ownsTx {
		if err := database.CommitTx(ctx, tx); err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit merge")
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"loser":    loserID,
		"survivor": survivorID,
	}).Info("Merged entity")

	return nil
}
