package httpserver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/pscheid92/tablepulse/internal/platform/correlation"
	apperrors "github.com/pscheid92/tablepulse/internal/platform/errors"
)

const bindingKey = "binding"

// correlationMiddleware reuses a caller-supplied request ID or mints one,
// stores it in the request context and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.Resolve(c.Request().Header.Get(correlation.Header))
		c.Response().Header().Set(correlation.Header, id)
		c.SetRequest(c.Request().WithContext(correlation.WithID(c.Request().Context(), id)))
		return next(c)
	}
}

// requireSession validates the session cookie the same way the stream
// endpoint does and stores the binding for handlers.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		binding, err := s.validator.ValidateRequest(c.Request())
		if err != nil {
			slog.InfoContext(c.Request().Context(), "API request rejected", "path", c.Path(), "error", err)
			return apperrors.UnauthorizedError("authentication required")
		}
		c.Set(bindingKey, binding)
		c.SetRequest(c.Request().WithContext(correlation.WithTenant(c.Request().Context(), binding.TenantID)))
		return next(c)
	}
}

func bindingFrom(c echo.Context) (domain.Binding, error) {
	binding, ok := c.Get(bindingKey).(domain.Binding)
	if !ok {
		return domain.Binding{}, apperrors.InternalError("missing session binding in context", nil)
	}
	return binding, nil
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			structuredErr := apperrors.AsStructuredError(err)
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	if binding, ok := c.Get(bindingKey).(domain.Binding); ok {
		attrs = append(attrs, "user_id", binding.UserID)
	}

	ctx := c.Request().Context()
	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound, apperrors.TypeUnauthorized:
		slog.InfoContext(ctx, "Client error", attrs...)
	case apperrors.TypeConflict, apperrors.TypeRateLimited, apperrors.TypeForbidden:
		slog.WarnContext(ctx, "Request refused", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}
