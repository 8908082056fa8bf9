// Package decision persists the append-only match decision log and the
// review queue that hangs off it.
package decision

import (
	"context"
	"fmt"
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

// Repository handles decision log and review queue persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new decision repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create appends one decision row. Decisions are immutable once written;
// there is no update path.
func (r *Repository) Create(ctx context.Context, decision *models.MatchDecision) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.Create")
	defer span.End()

	if decision.ID == "" {
		decision.ID = uuid.New().String()
	}
	decision.CreatedAt = time.Now().UTC()

	ownsTx := !database.HasOpenTx(ctx)
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin decision write")
	}
	if ownsTx {
		defer database.RollbackTx(ctx, tx)
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("match_decisions")
	sb.Cols("id", "source_system", "staged_record_ref", "input", "candidates", "outcome", "reason", "entity_id", "confidence", "duration_ms", "created_at")
	sb.Values(decision.ID, decision.SourceSystem, decision.StagedRecordRef, decision.Input, decision.Candidates,
		string(decision.Outcome), decision.Reason, decision.EntityID, decision.Confidence, decision.DurationMs, decision.CreatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to write match decision")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to write match decision")
	}

	if ownsTx {
		if err := database.CommitTx(ctx, tx); err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit decision write")
		}
	}

	return decision, nil
}

// Get retrieves a decision by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "source_system", "staged_record_ref", "input", "candidates", "outcome", "reason", "entity_id", "confidence", "duration_ms", "created_at")
	sb.From("match_decisions")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var decision models.MatchDecision
	if err := r.db.GetContext(ctx, &decision, query, args...); err != nil {
		if err.Error() == noRowsErr {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("decision %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match decision")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match decision")
	}

	return &decision, nil
}

// ListByEntity returns the decision history touching one entity, newest first
func (r *Repository) ListByEntity(ctx context.Context, entityID string, limit int) ([]models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.ListByEntity")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "source_system", "staged_record_ref", "input", "candidates", "outcome", "reason", "entity_id", "confidence", "duration_ms", "created_at")
	sb.From("match_decisions")
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	decisions := []models.MatchDecision{}
	if err := r.db.SelectContext(ctx, &decisions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list match decisions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match decisions")
	}
	return decisions, nil
}

// EnqueueReview opens a review item for a needs_review decision
func (r *Repository) EnqueueReview(ctx context.Context, decisionID string, entityID *string, score float64) (*models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.EnqueueReview")
	defer span.End()

	item := &models.ReviewItem{
		ID:         uuid.New().String(),
		DecisionID: decisionID,
		EntityID:   entityID,
		Score:      score,
		Status:     models.ReviewStatusOpen,
		CreatedAt:  time.Now().UTC(),
	}

	ownsTx := !database.HasOpenTx(ctx)
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin review enqueue")
	}
	if ownsTx {
		defer database.RollbackTx(ctx, tx)
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("review_queue")
	sb.Cols("id", "decision_id", "entity_id", "score", "status", "created_at")
	sb.Values(item.ID, item.DecisionID, item.EntityID, item.Score, item.Status, item.CreatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to enqueue review item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to enqueue review item")
	}

	if ownsTx {
		if err := database.CommitTx(ctx, tx); err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit review enqueue")
		}
	}

	return item, nil
}

// ListOpenReviews returns open review items, oldest first so staff work the
// backlog in arrival order.
func (r *Repository) ListOpenReviews(ctx context.Context, limit int) ([]models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.ListOpenReviews")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "decision_id", "entity_id", "score", "status", "resolved_by", "resolved_at", "created_at")
	sb.From("review_queue")
	sb.Where(sb.Equal("status", models.ReviewStatusOpen))
	sb.OrderBy("created_at").Asc()
	sb.Limit(limit)

	query, args := sb.Build()
	items := []models.ReviewItem{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list review items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list review items")
	}
	return items, nil
}

// GetReview retrieves one review item
func (r *Repository) GetReview(ctx context.Context, id string) (*models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.GetReview")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "decision_id", "entity_id", "score", "status", "resolved_by", "resolved_at", "created_at")
	sb.From("review_queue")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var item models.ReviewItem
	if err := r.db.GetContext(ctx, &item, query, args...); err != nil {
		if err.Error() == noRowsErr {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("review item %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get review item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get review item")
	}

	return &item, nil
}

// ResolveReview records a staff disposition on an open review item. Only
// open items can be resolved; a second disposition conflicts.
func (r *Repository) ResolveReview(ctx context.Context, id, status, resolvedBy string) (*models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.ResolveReview")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("review_queue")
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("resolved_by", resolvedBy),
		ub.Assign("resolved_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.ReviewStatusOpen),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to resolve review item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve review item")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("review item %s is not open", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":     id,
		"status": status,
		"by":     resolvedBy,
	}).Info("Resolved review item")

	return r.GetReview(ctx, id)
}
