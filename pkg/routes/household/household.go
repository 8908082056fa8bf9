package household

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/pawmark/trapper/internal/repositories/household"
	"github.com/pawmark/trapper/pkg/graph"
	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/normalize"
)

// Register registers household routes
func Register(g *echo.Group) {
	g.POST("/link", LinkMember)
	g.GET("/:id/members", ListMembers)
	g.POST("/detect", DetectHouseholds)
}

// LinkMember attaches a person entity to the household at an address,
// creating the household if none exists yet.
func LinkMember(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.CreateHouseholdLinkRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.EntityID == "" || req.Address == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "entity_id and address are required")
	}

	address := normalize.Address(req.Address)
	if address == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "address does not normalize to a usable value")
	}
	role := req.Role
	if role == "" {
		role = models.HouseholdRoleMember
	}

	ctx, repo, err := ectoinject.GetContext[*household.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	hh, err := repo.Link(ctx, req.EntityID, address, req.Address, role)
	if err != nil {
		return err
	}

	if ctx, syncer, err := ectoinject.GetContext[*graph.Syncer](ctx); err == nil && syncer != nil {
		syncer.HouseholdLinked(ctx, hh, req.EntityID, role)
	}

	return c.JSON(http.StatusCreated, hh)
}

// ListMembers lists the members of a household
func ListMembers(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*household.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	members, err := repo.Members(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, members)
}

// DetectHouseholds runs one pass of the shared-address household detector
func DetectHouseholds(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, repo, err := ectoinject.GetContext[*household.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	links, err := repo.DetectHouseholds(ctx)
	if err != nil {
		return err
	}

	if ctx, syncer, err := ectoinject.GetContext[*graph.Syncer](ctx); err == nil && syncer != nil {
		for _, link := range links {
			syncer.HouseholdLinked(ctx, link.Household, link.EntityID, link.Role)
		}
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{"linked": len(links)}).Info("Household detection pass complete")
	}

	return c.JSON(http.StatusOK, map[string]any{"members_linked": len(links)})
}
