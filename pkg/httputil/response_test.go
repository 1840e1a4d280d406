package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{apperrors.NewValidation("roomNumber"), http.StatusBadRequest, "validation_error"},
		{apperrors.NewNotFound("request", nil), http.StatusNotFound, "not_found"},
		{apperrors.NewAlreadyAssigned("r", "n"), http.StatusConflict, "already_assigned"},
		{apperrors.NewAlreadyCompleted("r"), http.StatusConflict, "already_completed"},
		{apperrors.NewInvalidTransition("pending", "pending"), http.StatusConflict, "invalid_transition"},
		{apperrors.NewResyncRequired(1, 5), http.StatusGone, "resync_required"},
		{apperrors.Unauthorized(nil), http.StatusUnauthorized, "unauthorized"},
		{apperrors.Forbidden(nil), http.StatusForbidden, "forbidden"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{fmt.Errorf("waiting for request lock: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{context.Canceled, StatusClientClosedRequest, "cancelled"},
		{fmt.Errorf("wrapped: %w", apperrors.NewAlreadyCompleted("r")), http.StatusConflict, "already_completed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, kind := StatusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, kind, tc.err.Error())
	}
}

func TestRespondWithError_HidesInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondWithError(c, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	assert.Len(t, c.Errors, 1)
}

func TestRespondWithError_Timeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondWithError(c, context.DeadlineExceeded)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), "request timed out")
	assert.Empty(t, c.Errors)
}

func TestRespondWithError_ValidationFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondWithError(c, apperrors.NewValidation("patientName", "disease"))

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, []string{"patientName", "disease"}, resp.Error.Fields)
	assert.True(t, c.IsAborted())
}
