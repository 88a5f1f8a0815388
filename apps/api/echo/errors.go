package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/sheet"
	"github.com/trezcool/gradebook/core/user"
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, message := errorResponse(err, translator)
		if code == http.StatusInternalServerError {
			msg := http.StatusText(code)
			logger.Error(msg, errors.Wrap(err, msg), map[string]interface{}{
				"method": ctx.Request().Method,
				"path":   ctx.Path(),
			})
			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
			if ctx.Echo().Debug {
				message = echo.Map{"error": err.Error()}
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func errorResponse(err error, translator ut.Translator) (int, interface{}) {
	var (
		httpErr     *echo.HTTPError
		fieldErrs   validator.ValidationErrors
		reqErr      *core.ValidationError
		parseErr    *sheet.ParseError
		failure     *grade.ValidationFailure
		calcErr     *grade.CalculationError
		visErr      *batch.VisibilityError
		reconcileEr *batch.ReconciliationError
	)
	switch {
	case errors.As(err, &httpErr):
		if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
			httpErr = herr
		}
		if m, ok := httpErr.Message.(string); ok {
			return httpErr.Code, echo.Map{"error": m}
		}
		return httpErr.Code, httpErr.Message
	case errors.As(err, &fieldErrs):
		return http.StatusBadRequest, core.TranslateErrors(fieldErrs, translator)
	case errors.As(err, &reqErr):
		if fields := reqErr.FieldMap(); fields != nil {
			return http.StatusBadRequest, fields
		}
		return http.StatusBadRequest, echo.Map{"error": reqErr.Error()}
	case errors.As(err, &parseErr):
		return http.StatusBadRequest, echo.Map{"error": parseErr.Error()}
	case errors.As(err, &failure):
		return http.StatusUnprocessableEntity, echo.Map{"error": failure.Error(), "violations": failure.Violations}
	case errors.As(err, &calcErr):
		body := echo.Map{"error": calcErr.Error()}
		if calcErr.Suggestion != "" {
			body["suggestion"] = calcErr.Suggestion
		}
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &visErr):
		return http.StatusUnprocessableEntity, echo.Map{
			"error":       visErr.Error(),
			"unknown":     visErr.Unknown,
			"suggestions": visErr.Suggestions,
		}
	case errors.Is(err, batch.ErrClassNotFound),
		errors.Is(err, batch.ErrBatchNotFound),
		errors.Is(err, batch.ErrRecordNotFound),
		errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound, echo.Map{"error": sentinelMessage(err, notFound)}
	case errors.Is(err, batch.ErrBatchExists), errors.Is(err, user.ErrEmailExists), errors.Is(err, user.ErrNumberTaken):
		return http.StatusConflict, echo.Map{"error": sentinelMessage(err, conflicts)}
	case errors.As(err, &reconcileEr):
		return http.StatusInternalServerError, echo.Map{"error": "upload could not be applied"}
	}
	return http.StatusInternalServerError, echo.Map{"error": http.StatusText(http.StatusInternalServerError)}
}

var (
	notFound  = []error{batch.ErrClassNotFound, batch.ErrBatchNotFound, batch.ErrRecordNotFound, user.ErrNotFound}
	conflicts = []error{batch.ErrBatchExists, user.ErrEmailExists, user.ErrNumberTaken}
)

// sentinelMessage hides the wrapping context of store errors from clients.
func sentinelMessage(err error, sentinels []error) string {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
