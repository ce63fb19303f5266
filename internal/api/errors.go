// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docintake/backend/internal/intake"
	"github.com/docintake/backend/internal/preview"
	"github.com/docintake/backend/internal/slots"
	"github.com/docintake/backend/internal/upload"
	"github.com/docintake/backend/internal/validation"
)

// APIError represents a structured API error response
type APIError struct {
	Status   int    `json:"-"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Kind     string `json:"kind,omitempty"`
	Redirect string `json:"redirect,omitempty"`
	Details  string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// exposeErrorDetails controls whether unexpected errors carry their cause.
var exposeErrorDetails = true

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewRejectedFileError creates a 422 error for a candidate the policy refused
func NewRejectedFileError(verr *validation.Error) *APIError {
	return &APIError{
		Status:  http.StatusUnprocessableEntity,
		Code:    "FILE_REJECTED",
		Message: verr.Message,
		Kind:    string(verr.Kind),
		Details: verr.FileName,
	}
}

// NewCapacityError creates a 409 error for a batch sent to a full slot set
func NewCapacityError(capErr *intake.CapacityExceededError) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CAPACITY_EXCEEDED",
		Message: capErr.Error(),
		Kind:    "capacity",
	}
}

// NewUnauthenticatedError creates a 401 error carrying the login redirect
func NewUnauthenticatedError(redirect string) *APIError {
	return &APIError{
		Status:   http.StatusUnauthorized,
		Code:     "UNAUTHENTICATED",
		Message:  "sign in to upload files",
		Redirect: redirect,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// intakeError maps domain errors from an intake operation to API errors.
func intakeError(err error, c echo.Context, sess *RequestSession) *APIError {
	sessionID := c.Param("id")
	var verr *validation.Error
	var capErr *intake.CapacityExceededError

	switch {
	case errors.As(err, &verr):
		return NewRejectedFileError(verr)
	case errors.As(err, &capErr):
		return NewCapacityError(capErr)
	case errors.Is(err, intake.ErrUnauthenticated):
		return NewUnauthenticatedError(sess.Redirect())
	case errors.Is(err, intake.ErrClosed), errors.Is(err, upload.ErrSessionNotFound):
		return NewNotFoundError("intake session", sessionID)
	case errors.Is(err, slots.ErrSlotNotFound):
		return NewNotFoundError("slot", c.Param("slot"))
	case errors.Is(err, preview.ErrReleased), errors.Is(err, preview.ErrNotSupported):
		return NewNotFoundError("preview", c.Param("slot"))
	default:
		return NewInternalError("intake operation failed", err)
	}
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError

	switch e := err.(type) {
	case *APIError:
		apiErr = e
	case *echo.HTTPError:
		apiErr = &APIError{
			Status:  e.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", e.Message),
		}
	default:
		apiErr = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
		}
		if exposeErrorDetails {
			apiErr.Details = err.Error()
		}
	}

	if err := c.JSON(apiErr.Status, apiErr); err != nil {
		c.Logger().Error(err)
	}
}
