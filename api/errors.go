package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/resource/internal/clock"
	"example.com/backstage/services/resource/internal/models"
	"example.com/backstage/services/resource/internal/service"
	"example.com/backstage/services/resource/internal/validation"
)

// ErrorResponse defines the structure of an error response
type ErrorResponse struct {
	Status      int                    `json:"status"`
	Error       string                 `json:"error"`
	Message     string                 `json:"message"`
	Path        string                 `json:"path"`
	Timestamp   string                 `json:"timestamp"`
	FieldErrors []validation.Violation `json:"fieldErrors"`
}

// Error represents an API error raised at the HTTP boundary
type Error struct {
	Message    string
	StatusCode int
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Boundary errors
var (
	ErrInvalidBody = &Error{Message: "Invalid request body", StatusCode: http.StatusBadRequest}
	ErrInvalidEnum = &Error{Message: "Invalid enum value in request body", StatusCode: http.StatusBadRequest}
	ErrInternal    = &Error{Message: "An unexpected error occurred", StatusCode: http.StatusInternalServerError}
)

// NewError creates a new API error with custom details
func NewError(statusCode int, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), StatusCode: statusCode}
}

// WriteError renders err as an ErrorResponse and aborts the request.
func WriteError(c *gin.Context, clk clock.Clock, err error) {
	status, message := http.StatusInternalServerError, ErrInternal.Message
	violations := []validation.Violation{}

	var (
		apiErr      *Error
		validErr    *service.ValidationError
		notFoundErr *service.NotFoundError
	)
	switch {
	case errors.As(err, &apiErr):
		status, message = apiErr.StatusCode, apiErr.Message
	case errors.As(err, &validErr):
		status, message = http.StatusBadRequest, "Validation failed"
		violations = append(violations, validErr.Violations...)
	case errors.As(err, &notFoundErr):
		status, message = http.StatusNotFound, notFoundErr.Error()
	case errors.Is(err, service.ErrVersionConflict):
		status, message = http.StatusConflict, service.ErrVersionConflict.Error()
	case errors.Is(err, service.ErrIntegrityViolation):
		status, message = http.StatusConflict, service.ErrIntegrityViolation.Error()
	}

	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Int("status", status).
		Str("path", c.Request.URL.Path).
		Str("request_id", c.GetString(requestIDKey)).
		Msg("Request failed")

	c.AbortWithStatusJSON(status, ErrorResponse{
		Status:      status,
		Error:       http.StatusText(status),
		Message:     message,
		Path:        c.Request.URL.Path,
		Timestamp:   clk.Now().Format(models.LocalTimestampLayout),
		FieldErrors: violations,
	})
}
