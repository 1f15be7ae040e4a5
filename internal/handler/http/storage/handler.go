package storage

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/middleware"
	"careconnect-backend/internal/service/storage"
	"careconnect-backend/pkg/audit"
	"careconnect-backend/pkg/pagination"
	"careconnect-backend/pkg/response"
)

// Handler handles attachment HTTP requests
type Handler struct {
	storageService *storage.Service
	auditLog       *audit.AuditLogger
}

// NewHandler creates a new storage handler. auditLog may be nil.
func NewHandler(storageService *storage.Service, auditLog *audit.AuditLogger) *Handler {
	return &Handler{
		storageService: storageService,
		auditLog:       auditLog,
	}
}

// RequestUpload asks for a presigned upload URL
// POST /v1/attachments
func (h *Handler) RequestUpload(c *gin.Context) {
	var req domain.AttachmentUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	resp, err := h.storageService.RequestUpload(c.Request.Context(), userID, &req)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	if h.auditLog != nil {
		_ = h.auditLog.LogAttachmentUpload(c.Request.Context(), userID, resp.AttachmentID, req.FileName, req.FileSize)
	}

	response.Success(c, http.StatusCreated, resp)
}

// CompleteUpload confirms the object was transferred
// POST /v1/attachments/:id/complete
func (h *Handler) CompleteUpload(c *gin.Context) {
	attachmentID, userID, ok := h.attachmentAndUser(c)
	if !ok {
		return
	}

	if err := h.storageService.CompleteUpload(c.Request.Context(), attachmentID, userID); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":       "Upload completed",
		"attachment_id": attachmentID,
	})
}

// GetDownloadURL returns a presigned download URL
// GET /v1/attachments/:id/download
func (h *Handler) GetDownloadURL(c *gin.Context) {
	attachmentID, userID, ok := h.attachmentAndUser(c)
	if !ok {
		return
	}

	resp, err := h.storageService.GetDownloadURL(c.Request.Context(), attachmentID, userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, resp)
}

// ListAttachments lists a conversation's attachments
// GET /v1/conversations/:id/attachments?page=&limit=
func (h *Handler) ListAttachments(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

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

	attachments, err := h.storageService.ListAttachments(c.Request.Context(), conversationID, userID, params.Limit, params.Offset)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"attachments": attachments,
		"page":        params.Page,
		"count":       len(attachments),
	})
}

// DeleteAttachment removes an attachment
// DELETE /v1/attachments/:id
func (h *Handler) DeleteAttachment(c *gin.Context) {
	attachmentID, userID, ok := h.attachmentAndUser(c)
	if !ok {
		return
	}

	if err := h.storageService.DeleteAttachment(c.Request.Context(), attachmentID, userID); err != nil {
		response.FromAppError(c, err)
		return
	}

	if h.auditLog != nil {
		_ = h.auditLog.LogAttachmentDelete(c.Request.Context(), userID, attachmentID)
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Attachment deleted",
	})
}

func (h *Handler) attachmentAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	attachmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid attachment ID")
		return uuid.Nil, uuid.Nil, false
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, uuid.Nil, false
	}

	return attachmentID, userID, true
}
