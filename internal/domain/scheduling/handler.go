package scheduling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/apperror"
	"github.com/clinicore/clinicore/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/doctors/:doctorID/availability", h.GetModel)
	api.PUT("/doctors/:doctorID/availability", h.UpdateModel)
	api.POST("/doctors/:doctorID/availability/preview", h.PreviewModel)
	api.POST("/doctors/:doctorID/slots/generate", h.GenerateSlots)
	api.GET("/doctors/:doctorID/slots", h.ListSlots)
	api.DELETE("/doctors/:doctorID/slots", h.ClearAvailableSlots)
	api.GET("/doctors/:doctorID/slots/summary", h.SlotSummary)
	api.GET("/doctors/:doctorID/appointments", h.ListAppointments)
	api.POST("/appointments", h.CreateAppointment)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments/:id/cancel", h.CancelAppointment)
}

// httpError maps the domain error taxonomy onto transport statuses.
func httpError(err error) error {
	var ae *apperror.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case apperror.KindValidation:
			return echo.NewHTTPError(http.StatusBadRequest, ae.Msg)
		case apperror.KindNotFound:
			return echo.NewHTTPError(http.StatusNotFound, ae.Msg)
		case apperror.KindAlreadyBooked, apperror.KindState, apperror.KindConcurrency:
			return echo.NewHTTPError(http.StatusConflict, ae.Msg)
		}
	}
	return err
}

func (h *Handler) GetModel(c echo.Context) error {
	model, err := h.svc.GetModel(c.Request().Context(), c.Param("doctorID"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, model)
}

func (h *Handler) UpdateModel(c echo.Context) error {
	var model AvailabilityModel
	if err := c.Bind(&model); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	force := c.QueryParam("force") == "true"

	res, err := h.svc.UpdateModel(c.Request().Context(), c.Param("doctorID"), &model, force)
	if err != nil {
		if ce, ok := AsConflictError(err); ok {
			return c.JSON(http.StatusConflict, echo.Map{
				"error":     "schedule_conflicts",
				"message":   ce.Error(),
				"conflicts": ce.Conflicts,
			})
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// PreviewModel runs the conflict detector against a candidate model without
// persisting anything.
func (h *Handler) PreviewModel(c echo.Context) error {
	var model AvailabilityModel
	if err := c.Bind(&model); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conflicts, err := h.svc.CheckConflicts(c.Request().Context(), c.Param("doctorID"), &model)
	if err != nil {
		return httpError(err)
	}
	if conflicts == nil {
		conflicts = []Conflict{}
	}
	return c.JSON(http.StatusOK, echo.Map{"conflicts": conflicts})
}

type generateRequest struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

func (h *Handler) GenerateSlots(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	from, err := ParseDate(req.From)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, err := ParseDate(req.To)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	n, err := h.svc.GenerateSlots(c.Request().Context(), c.Param("doctorID"), from, to)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"generated": n, "from": from, "to": to})
}

func (h *Handler) ListSlots(c echo.Context) error {
	date, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date query parameter is required (YYYY-MM-DD)")
	}
	slots, err := h.svc.ListSlots(c.Request().Context(), c.Param("doctorID"), date, SlotStatus(c.QueryParam("status")))
	if err != nil {
		return httpError(err)
	}
	if slots == nil {
		slots = []*Slot{}
	}
	return c.JSON(http.StatusOK, echo.Map{"slots": slots})
}

func (h *Handler) ClearAvailableSlots(c echo.Context) error {
	from, err := ParseDate(c.QueryParam("from"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "from query parameter is required (YYYY-MM-DD)")
	}
	n, err := h.svc.ClearAvailableSlots(c.Request().Context(), c.Param("doctorID"), from)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": n})
}

func (h *Handler) SlotSummary(c echo.Context) error {
	sum, err := h.svc.SlotSummary(c.Request().Context(), c.Param("doctorID"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	p := pagination.FromContext(c)
	appts, total, err := h.svc.ListAppointments(c.Request().Context(), c.Param("doctorID"), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, p.Limit, p.Offset))
}

type createAppointmentRequest struct {
	SlotID     string `json:"slot_id" validate:"required"`
	PatientRef string `json:"patient_ref" validate:"required"`
}

// CreateAppointment reserves a slot for a patient.
func (h *Handler) CreateAppointment(c echo.Context) error {
	var req createAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slotID, err := uuid.Parse(req.SlotID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid slot id")
	}

	appt, err := h.svc.BookSlot(c.Request().Context(), slotID, req.PatientRef)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CancelAppointment(c.Request().Context(), id, req.Reason); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "cancelled"})
}
