package encounter

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/triage/internal/domain/facility"
	"github.com/ehr/triage/internal/domain/queue"
	"github.com/ehr/triage/internal/domain/triage"
	"github.com/ehr/triage/internal/platform/auth"
	"github.com/ehr/triage/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	clinical := api.Group("", auth.RequireRole(auth.RoleTriageNurse, auth.RolePhysician))
	clinical.POST("/triage/resolve", h.Resolve)
	clinical.POST("/encounters/:id/triage", h.Triage)
	clinical.POST("/encounters/:id/override", h.Override)

	staff := api.Group("", auth.RequireRole(auth.RoleTriageNurse, auth.RolePhysician, auth.RoleCoordinator))
	staff.GET("/triage/presentations", h.ListPresentations)
	staff.GET("/triage/presentations/:id", h.GetPresentation)
	staff.POST("/encounters", h.Arrive)
	staff.GET("/encounters", h.List)
	staff.GET("/encounters/:id", h.Get)
	staff.GET("/encounters/:id/position", h.Position)
	staff.POST("/encounters/:id/status", h.ChangeStatus)
	staff.POST("/encounters/:id/routing", h.Route)
	staff.GET("/facilities/:id/queue", h.Queue)
	staff.POST("/facilities/:id/queue/recompute", h.RecomputeQueue)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, facility.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, queue.ErrNotQueued):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func forbidden() error {
	return echo.NewHTTPError(http.StatusForbidden, "no access to facility")
}

// load fetches the encounter named by the id path parameter and checks the
// caller may act on its facility.
func (h *Handler) load(c echo.Context) (*Encounter, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(err)
	}
	if !auth.CanAccessFacility(c.Request().Context(), e.FacilityID) {
		return nil, forbidden()
	}
	return e, nil
}

func (h *Handler) Arrive(c echo.Context) error {
	var req ArrivalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !auth.CanAccessFacility(c.Request().Context(), req.FacilityID) {
		return forbidden()
	}
	e, err := h.svc.Arrive(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Get(c echo.Context) error {
	e, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := ListFilter{FacilityID: c.QueryParam("facility_id"), Status: c.QueryParam("status")}
	if filter.FacilityID != "" && !auth.CanAccessFacility(c.Request().Context(), filter.FacilityID) {
		return forbidden()
	}
	if filter.FacilityID == "" && len(auth.FacilityIDsFromContext(c.Request().Context())) > 0 &&
		!auth.HasAnyRole(auth.RolesFromContext(c.Request().Context()), auth.RoleAdmin) {
		return echo.NewHTTPError(http.StatusBadRequest, "facility_id is required")
	}
	items, total, err := h.svc.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Triage(c echo.Context) error {
	e, err := h.load(c)
	if err != nil {
		return err
	}
	var in triage.Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, res, err := h.svc.Triage(c.Request().Context(), e.ID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"encounter": updated,
		"result":    res,
	})
}

func (h *Handler) Override(c echo.Context) error {
	e, err := h.load(c)
	if err != nil {
		return err
	}
	var req OverrideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.Override(c.Request().Context(), e.ID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	e, err := h.load(c)
	if err != nil {
		return err
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.ChangeStatus(c.Request().Context(), e.ID, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Position(c echo.Context) error {
	e, err := h.load(c)
	if err != nil {
		return err
	}
	pos, err := h.svc.Position(c.Request().Context(), e)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"encounter_id": e.ID,
		"position":     pos,
		"ahead":        pos - 1,
	})
}

func (h *Handler) Route(c echo.Context) error {
	e, err := h.load(c)
	if err != nil {
		return err
	}
	var req RouteRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	ranked, err := h.svc.Route(c.Request().Context(), e.ID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"encounter_id": e.ID,
		"tier":         e.Tier,
		"facilities":   ranked,
	})
}

func (h *Handler) Queue(c echo.Context) error {
	facilityID := c.Param("id")
	if !auth.CanAccessFacility(c.Request().Context(), facilityID) {
		return forbidden()
	}
	snap, err := h.svc.Queue(c.Request().Context(), facilityID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) RecomputeQueue(c echo.Context) error {
	facilityID := c.Param("id")
	if !auth.CanAccessFacility(c.Request().Context(), facilityID) {
		return forbidden()
	}
	snap, err := h.svc.RecomputeQueue(c.Request().Context(), facilityID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}
