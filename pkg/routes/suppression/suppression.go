package suppression

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/pawmark/trapper/internal/repositories/suppressionentry"
	"github.com/pawmark/trapper/pkg/events"
	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/normalize"
	"github.com/pawmark/trapper/pkg/suppression"
)

// Register registers suppression registry routes
func Register(g *echo.Group) {
	g.GET("", ListEntries)
	g.POST("", CreateEntry)
	g.POST("/detect", RunDetector)
}

// ListEntries lists all suppression entries
func ListEntries(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, repo, err := ectoinject.GetContext[*suppressionentry.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entries, err := repo.ListAll(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entries)
}

// CreateEntry creates a manual suppression entry. The value is normalized the
// same way matching normalizes it, so lookups always line up.
func CreateEntry(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.CreateSuppressionEntryRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Value == "" || req.Type == "" || req.Tier == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "id_type, value, and tier are required")
	}

	var normalized string
	switch req.Type {
	case models.IdentifierTypeEmail:
		normalized = normalize.Email(req.Value)
	case models.IdentifierTypePhone:
		normalized = normalize.Phone(req.Value)
	default:
		normalized = req.Value
	}
	if normalized == "" {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "value %q does not normalize to a valid %s", req.Value, req.Type)
	}

	ctx, repo, err := ectoinject.GetContext[*suppressionentry.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	created, err := repo.Create(ctx, &req, normalized)
	if err != nil {
		return err
	}

	// Emission is best effort; the registry row is already committed.
	if ctx, emitter, err := ectoinject.GetContext[*events.Emitter](ctx); err == nil && emitter != nil {
		_ = emitter.EmitSuppressionUpdated(ctx, created)
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{
			"id_type": string(created.Type),
			"tier":    string(created.Tier),
		}).Info("Created suppression entry")
	}

	return c.JSON(http.StatusCreated, created)
}

// RunDetector runs one pass of the shared-identifier detector and reports how
// many soft entries it wrote.
func RunDetector(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, detector, err := ectoinject.GetContext[*suppression.Detector](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	count, err := detector.Run(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"entries_written": count})
}
