package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ierr "github.com/smallbiznis/installments/internal/errors"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	status := ierr.HTTPStatusFromErr(err)
	code := ierr.Code(err)
	if status >= http.StatusInternalServerError {
		return status, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
	return status, errorPayload{
		Type:    code,
		Message: errorMessage(err, code),
	}
}

// errorMessage prefers the hints attached by the service layer.
func errorMessage(err error, code string) string {
	if hints := ierr.Hints(err); len(hints) > 0 {
		return strings.Join(hints, "; ")
	}
	return strings.ReplaceAll(code, "_", " ")
}

// classifyError feeds the request logger.
func classifyError(err error) (string, string) {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		code := ""
		if len(vErr.Errors) > 0 {
			code = vErr.Errors[0].Code
		}
		return "validation_error", code
	}
	return ierr.Code(err), err.Error()
}
