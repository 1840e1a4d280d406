package request

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/nurse-call-api/internal/middleware"
	"github.com/jwalitptl/nurse-call-api/internal/model"
	"github.com/jwalitptl/nurse-call-api/internal/service/coordination"
	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
	"github.com/jwalitptl/nurse-call-api/pkg/httputil"
)

type Handler struct {
	service coordination.Servicer
}

func NewHandler(service coordination.Servicer) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the request API. nurseOnly guards the routes that
// change a request's status.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, nurseOnly ...gin.HandlerFunc) {
	requests := r.Group("/requests")
	{
		requests.POST("", h.SubmitRequest)
		requests.POST("/emergency", h.SubmitEmergency)
		requests.GET("/active", h.ListActive)
		requests.GET("/completed", h.ListCompleted)
		requests.GET("/snapshot", h.Snapshot)
		requests.GET("/assigned", h.ListAssigned)
		requests.GET("/:id", h.GetRequest)

		nurse := requests.Group("", nurseOnly...)
		nurse.PATCH("/:id/assign", h.ClaimRequest)
		nurse.PATCH("/:id/status", h.UpdateStatus)
		nurse.POST("/:id/complete", h.CompleteRequest)
	}
}

func (h *Handler) SubmitRequest(c *gin.Context) {
	var req model.SubmitRequest
	if err := bindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	created, err := h.service.SubmitRequest(c.Request.Context(), model.RequestFields{
		PatientName:   req.PatientName,
		ContactNumber: req.ContactNumber,
		RoomNumber:    req.RoomNumber,
		BedNumber:     req.BedNumber,
		Disease:       req.Disease,
		Description:   req.Description,
	}, c.GetHeader(middleware.HeaderIdempotencyKey))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithStatus(c, http.StatusCreated, created)
}

func (h *Handler) SubmitEmergency(c *gin.Context) {
	var req model.EmergencyRequest
	if err := bindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	created, err := h.service.SubmitEmergency(c.Request.Context(), req, c.GetHeader(middleware.HeaderIdempotencyKey))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithStatus(c, http.StatusCreated, created)
}

func (h *Handler) GetRequest(c *gin.Context) {
	req, err := h.service.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, req)
}

func (h *Handler) ListActive(c *gin.Context) {
	reqs, err := h.service.ListActive(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, reqs)
}

func (h *Handler) ListCompleted(c *gin.Context) {
	reqs, err := h.service.ListCompleted(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, reqs)
}

// ListAssigned defaults to the caller's own requests.
func (h *Handler) ListAssigned(c *gin.Context) {
	nurseID := c.Query("nurseId")
	if nurseID == "" {
		nurseID = middleware.UserID(c)
	}

	reqs, err := h.service.ListAssigned(c.Request.Context(), nurseID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, reqs)
}

func (h *Handler) Snapshot(c *gin.Context) {
	snap, err := h.service.Snapshot(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, snap)
}

func (h *Handler) ClaimRequest(c *gin.Context) {
	var req model.AssignRequest
	if err := bindJSON(c, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.RespondWithError(c, err)
		return
	}
	if req.NurseID == "" {
		req.NurseID = middleware.UserID(c)
	}

	updated, err := h.service.ClaimRequest(c.Request.Context(), c.Param("id"), req.NurseID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, updated)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var req model.UpdateStatusRequest
	if err := bindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	updated, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), model.RequestStatus(req.Status), middleware.UserID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, updated)
}

func (h *Handler) CompleteRequest(c *gin.Context) {
	updated, err := h.service.CompleteRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, updated)
}

// bindJSON decodes the body and turns binding failures into a
// ValidationError naming the offending JSON fields. An empty body still
// unwraps to io.EOF.
func bindJSON(c *gin.Context, obj interface{}) error {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, lowerFirst(fe.Field()))
		}
		return apperrors.NewValidation(fields...)
	}
	return &apperrors.AppError{
		Code:    apperrors.ErrValidation,
		Message: "malformed request body",
		Err:     err,
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	out := string(r)
	return strings.Replace(out, "ID", "Id", 1)
}
