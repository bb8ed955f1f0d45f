package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/tablepulse/internal/app"
	"github.com/pscheid92/tablepulse/internal/domain"
	apperrors "github.com/pscheid92/tablepulse/internal/platform/errors"
	"github.com/pscheid92/tablepulse/internal/schedule"
)

type moveRequest struct {
	TableID   uuid.UUID `json:"tableId"`
	StartSlot *int      `json:"startSlot"`
}

type tableStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) registerAPIRoutes(rateLimiter echo.MiddlewareFunc) {
	api := s.echo.Group("/api", rateLimiter, s.requireSession)
	api.GET("/schedule", s.handleGetSchedule)
	api.POST("/reservations/:id/move", s.handleMoveReservation)
	api.POST("/reservations/:id/cancel", s.handleCancelReservation)
	api.POST("/tables/:id/status", s.handleUpdateTableStatus)
}

func (s *Server) handleGetSchedule(c echo.Context) error {
	binding, err := bindingFrom(c)
	if err != nil {
		return err
	}

	sched, err := s.schedule.GetSchedule(c.Request().Context(), binding.TenantID, c.QueryParam("date"))
	if err != nil {
		return scheduleError(err, "failed to load schedule")
	}
	return writeJSON(c, http.StatusOK, sched)
}

func (s *Server) handleMoveReservation(c echo.Context) error {
	binding, err := bindingFrom(c)
	if err != nil {
		return err
	}
	reservationID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	var req moveRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.TableID == uuid.Nil || req.StartSlot == nil {
		return apperrors.ValidationError("tableId and startSlot are required")
	}

	moved, err := s.schedule.MoveReservation(c.Request().Context(), binding.TenantID, reservationID, req.TableID, *req.StartSlot)
	if err != nil {
		return scheduleError(err, "failed to move reservation").WithField("reservation_id", reservationID.String())
	}
	return writeJSON(c, http.StatusOK, moved)
}

func (s *Server) handleCancelReservation(c echo.Context) error {
	binding, err := bindingFrom(c)
	if err != nil {
		return err
	}
	reservationID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	canceled, err := s.schedule.CancelReservation(c.Request().Context(), binding.TenantID, reservationID)
	if err != nil {
		return scheduleError(err, "failed to cancel reservation").WithField("reservation_id", reservationID.String())
	}
	return writeJSON(c, http.StatusOK, canceled)
}

func (s *Server) handleUpdateTableStatus(c echo.Context) error {
	binding, err := bindingFrom(c)
	if err != nil {
		return err
	}
	tableID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	var req tableStatusRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	status, err := domain.ParseTableStatus(req.Status)
	if err != nil {
		return apperrors.ValidationError("invalid table status").WithField("status", req.Status)
	}

	table, err := s.schedule.UpdateTableStatus(c.Request().Context(), binding.TenantID, tableID, status)
	if err != nil {
		return scheduleError(err, "failed to update table status").WithField("table_id", tableID.String())
	}
	return writeJSON(c, http.StatusOK, table)
}

// scheduleError maps service errors onto the structured HTTP taxonomy. A
// rejected placement keeps its reason in the response context.
func scheduleError(err error, internalMessage string) *apperrors.Error {
	var conflict *schedule.ConflictError
	switch {
	case errors.As(err, &conflict):
		e := apperrors.ConflictError(conflict.Error()).WithField("reason", string(conflict.Reason))
		if conflict.ConflictsWith != uuid.Nil {
			e.WithField("conflicts_with", conflict.ConflictsWith.String())
		}
		return e
	case errors.Is(err, app.ErrInvalidDate):
		return apperrors.ValidationError(err.Error())
	case errors.Is(err, domain.ErrReservationNotFound):
		return apperrors.NotFoundError("reservation not found")
	case errors.Is(err, domain.ErrTableNotFound):
		return apperrors.NotFoundError("table not found")
	case errors.Is(err, domain.ErrReservationClosed):
		return apperrors.ConflictError("reservation is no longer active").WithField("reason", "closed")
	default:
		return apperrors.InternalError(internalMessage, err)
	}
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ValidationError("invalid UUID format").WithField(name, raw)
	}
	return id, nil
}

func writeJSON(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
