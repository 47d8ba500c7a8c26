package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/pkg/pagination"
)

// Handler exposes the scheduler over HTTP. Handlers translate wire
// shapes into plain domain inputs and map error kinds onto status codes;
// nothing framework-specific crosses into the service.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the appointment API under api.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments", auth.RequireRole("admin", "assistant", "doctor", "patient"))
	g.POST("", h.Create)
	g.POST("/book", h.Book)
	g.GET("", h.List)
	g.GET("/slots", h.Slots)
	g.POST("/conflicts", h.Conflicts)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.POST("/:id/reschedule", h.Reschedule)
	g.POST("/:id/status", h.Transition)
	g.POST("/:id/confirm", h.Confirm)
	g.POST("/:id/start", h.Start)
	g.POST("/:id/complete", h.Complete)
	g.POST("/:id/cancel", h.Cancel)
	g.DELETE("/:id", h.Delete, auth.RequireRole("admin"))
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

// Book creates an appointment only when the requested start sits on the
// published free-slot grid.
func (h *Handler) Book(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.CreateWithSlotValidation(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) List(c echo.Context) error {
	if v := c.QueryParam("status"); v != "" {
		if _, err := ParseStatus(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status filter")
		}
	}
	params := map[string]string{
		"doctor_id":  c.QueryParam("doctor_id"),
		"patient_id": c.QueryParam("patient_id"),
		"status":     c.QueryParam("status"),
		"date":       c.QueryParam("date"),
	}
	pg := pagination.FromContext(c)
	appts, total, err := h.svc.List(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Update(c.Request().Context(), id, patch, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type rescheduleRequest struct {
	StartTime       time.Time `json:"start_time"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Reschedule(c.Request().Context(), id, req.StartTime, req.DurationMinutes, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	next, err := ParseStatus(req.Status)
	if err != nil {
		return httpError(err)
	}
	a, err := h.svc.TransitionStatus(c.Request().Context(), id, next, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.simpleTransition(c, func(ctx echo.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
		return h.svc.Confirm(ctx.Request().Context(), id, actor)
	})
}

func (h *Handler) Start(c echo.Context) error {
	return h.simpleTransition(c, func(ctx echo.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
		return h.svc.Start(ctx.Request().Context(), id, actor)
	})
}

type completeRequest struct {
	Notes *string `json:"notes,omitempty"`
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var req completeRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	a, err := h.svc.Complete(c.Request().Context(), id, req.Notes, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.simpleTransition(c, func(ctx echo.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
		return h.svc.Cancel(ctx.Request().Context(), id, actor)
	})
}

func (h *Handler) simpleTransition(c echo.Context, op func(echo.Context, uuid.UUID, Actor) (*Appointment, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	a, err := op(c, id, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type slotsResponse struct {
	DoctorID        uuid.UUID   `json:"doctor_id"`
	Date            string      `json:"date"`
	DurationMinutes int         `json:"duration_minutes"`
	Slots           []time.Time `json:"slots"`
}

func (h *Handler) Slots(c echo.Context) error {
	doctorID, err := uuid.Parse(c.QueryParam("doctor_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	date, err := time.ParseInLocation("2006-01-02", c.QueryParam("date"), time.Local)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
	}
	duration := DefaultDurationMinutes
	if v := c.QueryParam("duration"); v != "" {
		duration, err = strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid duration")
		}
	}

	slots, err := h.svc.FindAvailableSlots(c.Request().Context(), doctorID, date, duration)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slotsResponse{
		DoctorID:        doctorID,
		Date:            date.Format("2006-01-02"),
		DurationMinutes: duration,
		Slots:           slots,
	})
}

func (h *Handler) Conflicts(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	report, err := h.svc.CheckConflicts(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id, actor); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// actorFromContext resolves the verified identity placed in the request
// context by the auth middleware into a domain actor.
func actorFromContext(c echo.Context) (Actor, error) {
	ctx := c.Request().Context()
	userID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	role, ok := primaryRole(auth.RolesFromContext(ctx))
	if !ok {
		return Actor{}, echo.NewHTTPError(http.StatusForbidden, "no scheduling role")
	}
	return Actor{UserID: userID, Role: role}, nil
}

// primaryRole picks the strongest recognized role from the claim list.
func primaryRole(roles []string) (Role, bool) {
	for _, want := range []Role{RoleAdmin, RoleAssistant, RoleDoctor, RolePatient} {
		for _, r := range roles {
			if parsed, err := ParseRole(r); err == nil && parsed == want {
				return want, true
			}
		}
	}
	return "", false
}

// httpError maps domain error kinds onto HTTP status codes. Anything
// unrecognized is a store or infrastructure failure and stays a 500.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
