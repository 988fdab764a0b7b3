package queue

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/apperror"
	"github.com/clinicore/clinicore/internal/domain/scheduling"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/doctors/:doctorID/queue/check-in", h.CheckIn)
	api.GET("/doctors/:doctorID/queue", h.Board)
	api.GET("/doctors/:doctorID/queue/tokens/:token", h.StatusByToken)
	api.POST("/doctors/:doctorID/check-in", h.DoctorArrive)
	api.DELETE("/doctors/:doctorID/check-in", h.DoctorDepart)
	api.POST("/queue/entries/:id/transition", h.Transition)
	api.GET("/queue/entries/:id/status", h.EntryStatus)
}

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

// optionalDate parses ?date=, defaulting to the zero Date which the service
// resolves to today.
func optionalDate(c echo.Context) (scheduling.Date, error) {
	raw := c.QueryParam("date")
	if raw == "" {
		return scheduling.Date{}, nil
	}
	return scheduling.ParseDate(raw)
}

type checkInRequest struct {
	Date       string `json:"date"`
	PatientRef string `json:"patient_ref" validate:"required"`
	Source     string `json:"source" validate:"required,oneof=APPOINTMENT WALKIN"`
	SlotID     string `json:"slot_id"`
	Priority   string `json:"priority" validate:"omitempty,oneof=NORMAL EMERGENCY"`
}

func (h *Handler) CheckIn(c echo.Context) error {
	var body checkInRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var date scheduling.Date
	if body.Date != "" {
		var err error
		date, err = scheduling.ParseDate(body.Date)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	req := CheckInRequest{
		PatientRef: body.PatientRef,
		Source:     EntrySource(body.Source),
	}
	if body.SlotID != "" {
		slotID, err := uuid.Parse(body.SlotID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid slot_id")
		}
		req.SlotID = &slotID
	}
	if body.Priority == "EMERGENCY" {
		req.Priority = PriorityEmergency
	}

	entry, err := h.svc.CheckIn(c.Request().Context(), c.Param("doctorID"), date, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

func (h *Handler) Board(c echo.Context) error {
	date, err := optionalDate(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entries, err := h.svc.Board(c.Request().Context(), c.Param("doctorID"), date)
	if err != nil {
		return httpError(err)
	}
	if entries == nil {
		entries = []*QueueEntry{}
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": entries})
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=WAITING WITH_DOCTOR COMPLETED CANCELLED NO_SHOW"`
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body transitionRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	entry, err := h.svc.Transition(c.Request().Context(), id, EntryStatus(body.Status))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) EntryStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	status, err := h.svc.EntryStatus(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) StatusByToken(c echo.Context) error {
	token, err := strconv.Atoi(c.Param("token"))
	if err != nil || token < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid token")
	}
	date, err := optionalDate(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status, err := h.svc.StatusByToken(c.Request().Context(), c.Param("doctorID"), date, token)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) DoctorArrive(c echo.Context) error {
	date, err := optionalDate(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	checkin, err := h.svc.DoctorArrive(c.Request().Context(), c.Param("doctorID"), date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, checkin)
}

func (h *Handler) DoctorDepart(c echo.Context) error {
	date, err := optionalDate(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.DoctorDepart(c.Request().Context(), c.Param("doctorID"), date); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
