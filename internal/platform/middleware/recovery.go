package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/womenshealth/planner/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 and logs it with the company and
// plan the request was about. http.ErrAbortHandler is re-raised so net/http
// can drop the connection, as it does for PDF downloads cut short.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}

				panicErr, ok := r.(error)
				if !ok {
					panicErr = fmt.Errorf("%v", r)
				}
				panicEvent(logger, c).
					Err(panicErr).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error").
					SetInternal(fmt.Errorf("panic: %w", panicErr))
			}()
			return next(c)
		}
	}
}

// auth swaps the request, so the identity is read from the current one.
func panicEvent(logger zerolog.Logger, c echo.Context) *zerolog.Event {
	rid, _ := c.Get("request_id").(string)
	req := c.Request()
	evt := logger.Error().
		Str("request_id", rid).
		Str("method", req.Method).
		Str("route", c.Path()).
		Str("path", req.URL.Path)
	if companyID := auth.CompanyIDFromContext(req.Context()); companyID != uuid.Nil {
		evt = evt.Str("company_id", companyID.String())
	}
	if strings.Contains(c.Path(), "/plans/:id") {
		evt = evt.Str("plan_id", c.Param("id"))
	}
	return evt
}
