// Package events handles event emission for resolution lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/pawmark/trapper/pkg/kafka"
	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes resolution lifecycle events
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitIdentityResolved emits one event per completed resolution, whatever the
// outcome. Downstream consumers key dashboards and sync jobs off this stream.
func (e *Emitter) EmitIdentityResolved(ctx context.Context, sourceSystem string, res *models.Resolution) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitIdentityResolved")
	defer span.End()

	event := &kafka.ResolutionEvent{
		EventType:    "identity.resolved",
		SourceSystem: sourceSystem,
		DecisionID:   res.DecisionID,
		Outcome:      string(res.Outcome),
		Confidence:   res.Confidence,
	}
	if res.EntityID != nil {
		event.EntityID = *res.EntityID
	}

	if err := e.producer.PublishResolutionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit identity.resolved event")
		return err
	}
	return nil
}

// EmitEntityCreated emits an event when a resolution mints a canonical entity
func (e *Emitter) EmitEntityCreated(ctx context.Context, sourceSystem, entityID, decisionID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntityCreated")
	defer span.End()

	event := &kafka.ResolutionEvent{
		EventType:    "entity.created",
		SourceSystem: sourceSystem,
		EntityID:     entityID,
		DecisionID:   decisionID,
	}

	if err := e.producer.PublishResolutionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.created event")
		return err
	}
	return nil
}

// EmitReviewOpened emits an event when a resolution lands in the review queue
func (e *Emitter) EmitReviewOpened(ctx context.Context, item *models.ReviewItem) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitReviewOpened")
	defer span.End()

	event := &kafka.ResolutionEvent{
		EventType:  "review.opened",
		DecisionID: item.DecisionID,
		Confidence: item.Score,
	}
	if item.EntityID != nil {
		event.EntityID = *item.EntityID
	}

	if err := e.producer.PublishResolutionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit review.opened event")
		return err
	}
	return nil
}

// EmitEntityMerged emits an event when a review merge tombstones an entity
func (e *Emitter) EmitEntityMerged(ctx context.Context, survivorID, mergedID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntityMerged")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"merged_id":      mergedID,
	})

	event := &kafka.ResolutionEvent{
		EventType: "entity.merged",
		EntityID:  survivorID,
		Data:      data,
	}

	if err := e.producer.PublishResolutionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.merged event")
		return err
	}
	return nil
}

// EmitSuppressionUpdated emits an event when the detector or staff change the
// suppression registry.
func (e *Emitter) EmitSuppressionUpdated(ctx context.Context, entry *models.SuppressionEntry) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitSuppressionUpdated")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"id_type":        string(entry.Type),
		"tier":           string(entry.Tier),
	})

	event := &kafka.ResolutionEvent{
		EventType:  "suppression.updated",
		DecisionID: entry.ID,
		Data:       data,
	}

	if err := e.producer.PublishResolutionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit suppression.updated event")
		return err
	}
	return nil
}
