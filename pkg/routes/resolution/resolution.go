package resolution

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/pawmark/trapper/pkg/appctx"
	"github.com/pawmark/trapper/pkg/events"
	"github.com/pawmark/trapper/pkg/graph"
	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/resolution"
)

// Register registers resolution routes
func Register(g *echo.Group) {
	g.POST("", Resolve)
}

// Resolve runs one intake record through the resolution engine synchronously.
// This is the same pipeline the Kafka consumer uses; connectors that need the
// entity id immediately call this instead of publishing.
func Resolve(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.ResolveRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SourceSystem == "" {
		req.SourceSystem = appctx.GetSourceSystem(ctx)
	}

	ctx, engine, err := ectoinject.GetContext[*resolution.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	res, err := engine.Resolve(ctx, &req)
	if err != nil {
		return err
	}

	// Event emission is best effort; the decision is already committed.
	if ctx, emitter, err := ectoinject.GetContext[*events.Emitter](ctx); err == nil && emitter != nil {
		_ = emitter.EmitIdentityResolved(ctx, req.SourceSystem, res)
		if res.Outcome == models.OutcomeNewEntity && res.EntityID != nil {
			_ = emitter.EmitEntityCreated(ctx, req.SourceSystem, *res.EntityID, res.DecisionID)
		}
		if res.ReviewItem != nil {
			_ = emitter.EmitReviewOpened(ctx, res.ReviewItem)
		}
	}

	if res.Outcome == models.OutcomeNewEntity && res.EntityID != nil {
		if ctx, syncer, err := ectoinject.GetContext[*graph.Syncer](ctx); err == nil && syncer != nil {
			syncer.EntityCreated(ctx, *res.EntityID)
		}
	}

	return c.JSON(http.StatusOK, res)
}
