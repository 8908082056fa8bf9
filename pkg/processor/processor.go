// Package processor consumes staged intake records from Kafka and runs each
// one through the resolution engine. This is the asynchronous ingestion path;
// the HTTP resolve route is the synchronous one.
package processor

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/pawmark/trapper/pkg/kafka"
	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/tracing"
)

// Resolver runs one intake record through the resolution pipeline
type Resolver interface {
	Resolve(ctx context.Context, req *models.ResolveRequest) (*models.Resolution, error)
}

// EventSink receives lifecycle events for completed resolutions
type EventSink interface {
	EmitIdentityResolved(ctx context.Context, sourceSystem string, res *models.Resolution) error
	EmitEntityCreated(ctx context.Context, sourceSystem, entityID, decisionID string) error
	EmitReviewOpened(ctx context.Context, item *models.ReviewItem) error
}

// GraphSync mirrors newly created entities into the graph read model
type GraphSync interface {
	EntityCreated(ctx context.Context, entityID string)
}

// Processor handles intake message processing
type Processor struct {
	logger   ectologger.Logger
	resolver Resolver
	emitter  EventSink
	graph    GraphSync
}

// NewProcessor creates a new intake message processor. The emitter and graph
// sync may be nil when event output or graph projection is disabled.
func NewProcessor(logger ectologger.Logger, resolver Resolver, emitter EventSink, graph GraphSync) *Processor {
	return &Processor{
		logger:   logger,
		resolver: resolver,
		emitter:  emitter,
		graph:    graph,
	}
}

// ProcessMessage resolves one staged intake record. A returned error means
// the message should be redelivered; malformed and invalid records are logged
// and dropped instead, since retrying them can never succeed.
func (p *Processor) ProcessMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.ProcessMessage")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":  msg.Topic,
		"offset": msg.Offset,
	})

	if msg.IntakeMessage == nil {
		if err := msg.ParseIntakeMessage(); err != nil {
			log.WithError(err).Error("Dropping unparseable intake message")
			return nil
		}
	}

	req := msg.IntakeMessage.ToResolveRequest()
	if req.StagedRecordRef == nil && msg.Key != "" {
		key := msg.Key
		req.StagedRecordRef = &key
	}

	res, err := p.resolver.Resolve(ctx, req)
	if err != nil {
		if isPermanent(err) {
			log.WithError(err).WithFields(map[string]any{
				"source_system": req.SourceSystem,
			}).Warn("Dropping invalid intake record")
			return nil
		}
		return err
	}

	// The decision is already committed; an emit failure must not trigger a
	// redelivery that would resolve the record a second time.
	p.emit(ctx, req.SourceSystem, res)

	if p.graph != nil && res.Outcome == models.OutcomeNewEntity && res.EntityID != nil {
		p.graph.EntityCreated(ctx, *res.EntityID)
	}

	log.WithFields(map[string]any{
		"source_system": req.SourceSystem,
		"outcome":       string(res.Outcome),
		"decision_id":   res.DecisionID,
	}).Info("Processed intake record")
	return nil
}

func (p *Processor) emit(ctx context.Context, sourceSystem string, res *models.Resolution) {
	if p.emitter == nil {
		return
	}

	if err := p.emitter.EmitIdentityResolved(ctx, sourceSystem, res); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to emit identity.resolved event")
	}
	if res.Outcome == models.OutcomeNewEntity && res.EntityID != nil {
		if err := p.emitter.EmitEntityCreated(ctx, sourceSystem, *res.EntityID, res.DecisionID); err != nil {
			p.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.created event")
		}
	}
	if res.ReviewItem != nil {
		if err := p.emitter.EmitReviewOpened(ctx, res.ReviewItem); err != nil {
			p.logger.WithContext(ctx).WithError(err).Error("Failed to emit review.opened event")
		}
	}
}

// isPermanent reports whether a resolution error can never succeed on retry
func isPermanent(err error) bool {
	if !httperror.IsHTTPError(err) {
		return false
	}
	code := httperror.GetStatusCode(err)
	return code >= http.StatusBadRequest && code < http.StatusInternalServerError
}
