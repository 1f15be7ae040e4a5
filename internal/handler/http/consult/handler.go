package consult

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/middleware"
	"careconnect-backend/internal/service/consult"
	"careconnect-backend/pkg/audit"
	"careconnect-backend/pkg/pagination"
	"careconnect-backend/pkg/response"
)

// Handler handles consultation HTTP requests
type Handler struct {
	consultService *consult.Service
	auditLog       *audit.AuditLogger
}

// NewHandler creates a new consult handler. auditLog may be nil.
func NewHandler(consultService *consult.Service, auditLog *audit.AuditLogger) *Handler {
	return &Handler{
		consultService: consultService,
		auditLog:       auditLog,
	}
}

// CreateConsultation submits a symptom intake
// POST /v1/consultations
func (h *Handler) CreateConsultation(c *gin.Context) {
	var req domain.ConsultationCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	patientID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	resp, err := h.consultService.CreateConsultation(c.Request.Context(), patientID, req.Symptoms)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	if h.auditLog != nil {
		_ = h.auditLog.LogConsultRequested(c.Request.Context(), patientID, resp.ConsultationID, c.ClientIP())
	}

	response.Success(c, http.StatusCreated, resp)
}

// GetConsultation retrieves a consultation
// GET /v1/consultations/:id
func (h *Handler) GetConsultation(c *gin.Context) {
	consultationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid consultation ID")
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	resp, err := h.consultService.GetConsultation(c.Request.Context(), consultationID, userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, resp)
}

// ListConsultations lists the user's consultations
// GET /v1/consultations?limit=&offset=
func (h *Handler) ListConsultations(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	params, err := pagination.ParsePaginationParams(c.Query("page"), c.Query("limit"), "", "")
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	consultations, err := h.consultService.ListForUser(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"consultations": consultations,
		"page":          params.Page,
		"count":         len(consultations),
	})
}

// CloseConsultation ends a consultation
// POST /v1/consultations/:id/close
func (h *Handler) CloseConsultation(c *gin.Context) {
	consultationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid consultation ID")
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.consultService.CloseConsultation(c.Request.Context(), consultationID, userID); err != nil {
		response.FromAppError(c, err)
		return
	}

	if h.auditLog != nil {
		_ = h.auditLog.LogConsultClosed(c.Request.Context(), userID, consultationID, "closed")
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Consultation closed",
	})
}
