package api

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"campuswire/internal/forum"
	"campuswire/internal/room"
	"campuswire/pkg/interfaces"
)

var (
	errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errBadLimit     = echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	errBadRoomType  = echo.NewHTTPError(http.StatusBadRequest, "unknown room type")
)

// domainStatus maps service errors onto HTTP status codes
func domainStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, forum.ErrInvalidInput):
		return http.StatusBadRequest, true
	case errors.Is(err, room.ErrAuthenticationRequired), errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusUnauthorized, true
	case errors.Is(err, forum.ErrForbidden), errors.Is(err, room.ErrForbidden), errors.Is(err, room.ErrInvalidRoom):
		return http.StatusForbidden, true
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, forum.ErrThreadClosed), errors.Is(err, forum.ErrInvalidTransition), errors.Is(err, interfaces.ErrVersionConflict):
		return http.StatusConflict, true
	default:
		return 0, false
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed on the %q rule", fe.Tag())
	}
}

// newAppHTTPErrorHandler returns an echo.HTTPErrorHandler that knows how
// to render validation and service errors. Anything unrecognised is a 500
// and gets logged.
func newAppHTTPErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		var validationErrs validator.ValidationErrors
		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		default:
			if errors.As(err, &validationErrs) {
				fldErrs := make(map[string]string, len(validationErrs))
				for _, vErr := range validationErrs {
					fldErrs[vErr.Field()] = fieldMessage(vErr)
				}
				code = http.StatusBadRequest
				message = fldErrs
				break
			}
			if status, ok := domainStatus(err); ok {
				code = status
				message = err.Error()
				break
			}

			code = http.StatusInternalServerError
			message = http.StatusText(http.StatusInternalServerError)
			fields := []zap.Field{
				zap.String("method", ctx.Request().Method),
				zap.String("path", ctx.Request().URL.Path),
				zap.Error(err),
			}
			if identity, ok := identityFrom(ctx); ok {
				fields = append(fields, zap.String("user", identity.ID))
			}
			logger.Error("Request failed", fields...)
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead {
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				logger.Warn("Failed to write error response", zap.Error(err))
			}
		}
	}
}
