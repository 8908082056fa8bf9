package entity

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/pawmark/trapper/internal/repositories/decision"
	"github.com/pawmark/trapper/internal/repositories/entity"
	"github.com/pawmark/trapper/pkg/models"
)

// Register registers canonical entity routes
func Register(g *echo.Group) {
	g.GET("", ListEntities)
	g.GET("/:id", GetEntity)
	g.GET("/:id/identifiers", ListEntityIdentifiers)
	g.GET("/:id/decisions", ListEntityDecisions)
}

// ListEntities lists canonical entities by kind, paginated
func ListEntities(c echo.Context) error {
	ctx := c.Request().Context()

	kind := models.EntityKind(c.QueryParam("kind"))
	if kind == "" {
		kind = models.EntityKindPerson
	}
	switch kind {
	case models.EntityKindPerson, models.EntityKindPlace, models.EntityKindAnimal:
	default:
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
	}

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 50)
	if page < 1 || pageSize < 1 || pageSize > 500 {
		return httperror.NewHTTPError(http.StatusBadRequest, "page must be >= 1 and page_size between 1 and 500")
	}

	ctx, repo, err := ectoinject.GetContext[*entity.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	resp, err := repo.List(ctx, kind, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// GetEntity gets a canonical entity by id, following merge chains to the
// surviving record.
func GetEntity(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*entity.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	ent, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ent)
}

// ListEntityIdentifiers lists the identifiers attached to an entity
func ListEntityIdentifiers(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*entity.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	identifiers, err := repo.ListIdentifiers(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, identifiers)
}

// ListEntityDecisions lists the audit decisions that touched an entity
func ListEntityDecisions(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	limit := queryInt(c, "limit", 50)
	if limit < 1 || limit > 500 {
		return httperror.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
	}

	ctx, repo, err := ectoinject.GetContext[*decision.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	decisions, err := repo.ListByEntity(ctx, id, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, decisions)
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return parsed
}
