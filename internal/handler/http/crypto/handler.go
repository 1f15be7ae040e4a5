package crypto

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/middleware"
	"careconnect-backend/internal/service/crypto"
	"careconnect-backend/pkg/audit"
	"careconnect-backend/pkg/response"
)

// Handler handles key bundle HTTP requests
type Handler struct {
	cryptoService *crypto.Service
	auditLog      *audit.AuditLogger
}

// NewHandler creates a new crypto handler. auditLog may be nil.
func NewHandler(cryptoService *crypto.Service, auditLog *audit.AuditLogger) *Handler {
	return &Handler{
		cryptoService: cryptoService,
		auditLog:      auditLog,
	}
}

// PublishKeys stores the authenticated user's public key bundle
// PUT /v1/keys
func (h *Handler) PublishKeys(c *gin.Context) {
	var req domain.KeysUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.cryptoService.PublishKeyBundle(c.Request.Context(), userID, &req); err != nil {
		response.FromAppError(c, err)
		return
	}

	if h.auditLog != nil {
		_ = h.auditLog.LogKeyRegistered(c.Request.Context(), userID, "x25519-bundle", c.ClientIP())
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Key bundle published",
	})
}

// GetKeys returns another user's public key bundle
// GET /v1/keys/:user_id
func (h *Handler) GetKeys(c *gin.Context) {
	targetID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	bundle, err := h.cryptoService.FetchKeyBundle(c.Request.Context(), targetID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, bundle)
}

// DeleteKeys removes the authenticated user's published key material
// DELETE /v1/keys
func (h *Handler) DeleteKeys(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.cryptoService.DeleteKeys(c.Request.Context(), userID); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Key material deleted",
	})
}
