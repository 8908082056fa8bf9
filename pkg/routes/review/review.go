package review

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/pawmark/trapper/internal/repositories/decision"
	"github.com/pawmark/trapper/internal/repositories/entity"
	"github.com/pawmark/trapper/pkg/appctx"
	"github.com/pawmark/trapper/pkg/events"
	"github.com/pawmark/trapper/pkg/graph"
	"github.com/pawmark/trapper/pkg/models"
)

// Register registers review queue routes
func Register(g *echo.Group) {
	g.GET("", ListOpenReviews)
	g.GET("/:id", GetReview)
	g.POST("/:id/disposition", DisposeReview)
}

// ListOpenReviews lists open review items, oldest first
func ListOpenReviews(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = parsed
	}

	ctx, repo, err := ectoinject.GetContext[*decision.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, err := repo.ListOpenReviews(ctx, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, items)
}

// GetReview gets a review item with its decision
func GetReview(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*decision.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	item, err := repo.GetReview(ctx, id)
	if err != nil {
		return err
	}

	dec, err := repo.Get(ctx, item.DecisionID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"item":     item,
		"decision": dec,
	})
}

// DisposeReview applies a staff disposition to an open review item. Confirm
// and reject just close the item; merge additionally tombstones the item's
// provisional entity into the chosen survivor.
func DisposeReview(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var disp models.ReviewDisposition
	if err := c.Bind(&disp); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	status, err := dispositionStatus(&disp)
	if err != nil {
		return err
	}

	ctx, repo, err := ectoinject.GetContext[*decision.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	item, err := repo.GetReview(ctx, id)
	if err != nil {
		return err
	}

	if disp.Action == models.ReviewActionMerge {
		if item.EntityID == nil {
			return httperror.NewHTTPError(http.StatusConflict, "review item has no linked entity to merge")
		}
		if *item.EntityID == *disp.MergeIntoEntityID {
			return httperror.NewHTTPError(http.StatusBadRequest, "cannot merge an entity into itself")
		}

		ctx, entities, err := ectoinject.GetContext[*entity.Repository](ctx)
		if err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
		}
		if err := entities.Merge(ctx, *item.EntityID, *disp.MergeIntoEntityID); err != nil {
			return err
		}

		if ctx, emitter, err := ectoinject.GetContext[*events.Emitter](ctx); err == nil && emitter != nil {
			_ = emitter.EmitEntityMerged(ctx, *disp.MergeIntoEntityID, *item.EntityID)
		}
		if ctx, syncer, err := ectoinject.GetContext[*graph.Syncer](ctx); err == nil && syncer != nil {
			syncer.EntityMerged(ctx, *disp.MergeIntoEntityID, *item.EntityID)
		}
	}

	resolved, err := repo.ResolveReview(ctx, id, status, appctx.GetActor(ctx))
	if err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{
			"review_id": id,
			"status":    status,
		}).Info("Disposed review item")
	}

	return c.JSON(http.StatusOK, resolved)
}

func dispositionStatus(disp *models.ReviewDisposition) (string, error) {
	switch disp.Action {
	case models.ReviewActionConfirm:
		return models.ReviewStatusConfirmed, nil
	case models.ReviewActionReject:
		return models.ReviewStatusRejected, nil
	case models.ReviewActionMerge:
		if disp.MergeIntoEntityID == nil {
			return "", httperror.NewHTTPError(http.StatusBadRequest, "merge_into_entity_id is required for merge")
		}
		return models.ReviewStatusMerged, nil
	}
	return "", httperror.NewHTTPError(http.StatusBadRequest, "action must be confirm, reject, or merge")
}
