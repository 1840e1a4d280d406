package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
)

// StatusClientClosedRequest is used when the caller went away before the
// operation finished.
const StatusClientClosedRequest = 499

// Response wraps all API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code    int      `json:"code"`
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	RespondWithStatus(c, http.StatusOK, data)
}

func RespondWithStatus(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithError maps err onto an HTTP status and aborts the chain.
func RespondWithError(c *gin.Context, err error) {
	status, kind := StatusFor(err)
	body := &Error{Code: status, Type: kind, Message: "internal server error"}

	var appErr *apperrors.AppError
	switch {
	case status == http.StatusInternalServerError:
	case errors.As(err, &appErr):
		body.Message = appErr.Message
		body.Fields = appErr.Fields
	case status == http.StatusGatewayTimeout:
		body.Message = "request timed out"
	case status == StatusClientClosedRequest:
		body.Message = "request cancelled"
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}

	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error:   body,
	})
}

// StatusFor returns the HTTP status and a short machine-readable type.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "cancelled"
	}

	switch apperrors.CodeOf(err) {
	case apperrors.ErrValidation:
		return http.StatusBadRequest, "validation_error"
	case apperrors.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case apperrors.ErrAlreadyAssigned:
		return http.StatusConflict, "already_assigned"
	case apperrors.ErrAlreadyCompleted:
		return http.StatusConflict, "already_completed"
	case apperrors.ErrInvalidTransition:
		return http.StatusConflict, "invalid_transition"
	case apperrors.ErrResyncRequired:
		return http.StatusGone, "resync_required"
	case apperrors.ErrUnauthorized:
		return http.StatusUnauthorized, "unauthorized"
	case apperrors.ErrForbidden:
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
