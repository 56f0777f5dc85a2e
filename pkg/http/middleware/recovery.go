package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	"EpiCast/pkg/logger"
)

// Recover turns handler panics into a 500 error for the server's error
// handler. The stack goes to the log only.
func Recover(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				cause, ok := r.(error)
				if !ok {
					cause = fmt.Errorf("%v", r)
				}
				l.Error("handler panic",
					logger.String("method", c.Request().Method),
					logger.String("route", c.Path()),
					logger.Error(cause),
					logger.String("stack", string(debug.Stack())))
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(cause)
			}()
			return next(c)
		}
	}
}
