package graph

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/pawmark/trapper/pkg/models"
)

// EntityGetter loads canonical entities for projection
type EntityGetter interface {
	Get(ctx context.Context, id string) (*models.CanonicalEntity, error)
}

// Syncer pushes accepted writes into the graph read model. The graph is
// derived data; projection failures are logged and never fail the
// originating write.
type Syncer struct {
	projector *Projector
	entities  EntityGetter
	logger    ectologger.Logger
}

// NewSyncer creates a graph syncer over a projector
func NewSyncer(projector *Projector, entities EntityGetter, logger ectologger.Logger) *Syncer {
	return &Syncer{
		projector: projector,
		entities:  entities,
		logger:    logger,
	}
}

// EntityCreated projects a newly created canonical entity node
func (s *Syncer) EntityCreated(ctx context.Context, entityID string) {
	entity, err := s.entities.Get(ctx, entityID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": entityID,
		}).Warn("Skipping graph projection, entity load failed")
		return
	}
	if err := s.projector.ProjectEntity(ctx, entity); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": entityID,
		}).Warn("Graph entity projection failed")
	}
}

// EntityMerged records the MERGED_INTO edge from the tombstoned entity to
// its survivor
func (s *Syncer) EntityMerged(ctx context.Context, survivorID, mergedID string) {
	if err := s.projector.ProjectMerge(ctx, survivorID, mergedID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"survivor_id": survivorID,
			"merged_id":   mergedID,
		}).Warn("Graph merge projection failed")
	}
}

// HouseholdLinked mirrors a household membership edge
func (s *Syncer) HouseholdLinked(ctx context.Context, household *models.Household, entityID, role string) {
	if err := s.projector.ProjectHouseholdMember(ctx, household, entityID, role); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"household_id": household.ID,
			"entity_id":    entityID,
		}).Warn("Graph household projection failed")
	}
}
