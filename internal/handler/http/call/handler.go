// Package call exposes the call lifecycle over HTTP: placing, answering,
// and ending calls plus history. Realtime signal exchange lives in the
// WebSocket gateway, not here.
package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/middleware"
	"careconnect-backend/internal/service/call"
	"careconnect-backend/pkg/audit"
	"careconnect-backend/pkg/pagination"
	"careconnect-backend/pkg/response"
)

// Handler handles call HTTP requests
type Handler struct {
	callService *call.Service
	auditLog    *audit.AuditLogger
}

// NewHandler creates a new call handler. auditLog may be nil.
func NewHandler(callService *call.Service, auditLog *audit.AuditLogger) *Handler {
	return &Handler{
		callService: callService,
		auditLog:    auditLog,
	}
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	CalleeID       string  `json:"callee_id" binding:"required,uuid"`
	CallType       string  `json:"call_type" binding:"required,oneof=video voice"`
	ConversationID *string `json:"conversation_id,omitempty" binding:"omitempty,uuid"`
}

// InitiateCall places a new call
// POST /v1/calls
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	calleeID, err := uuid.Parse(req.CalleeID)
	if err != nil {
		response.ValidationError(c, "Invalid callee ID")
		return
	}

	var conversationID *uuid.UUID
	if req.ConversationID != nil {
		parsed, err := uuid.Parse(*req.ConversationID)
		if err != nil {
			response.ValidationError(c, "Invalid conversation ID")
			return
		}
		conversationID = &parsed
	}

	output, err := h.callService.InitiateCall(c.Request.Context(), &call.InitiateCallInput{
		CallerID:       callerID,
		CalleeID:       calleeID,
		CallType:       domain.CallType(req.CallType),
		ConversationID: conversationID,
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	if h.auditLog != nil {
		_ = h.auditLog.LogCallPlaced(c.Request.Context(), callerID, output.SessionID, c.ClientIP())
	}

	response.Success(c, http.StatusCreated, output)
}

// AcceptCall answers a ringing call
// POST /v1/calls/:id/accept
func (h *Handler) AcceptCall(c *gin.Context) {
	sessionID, userID, ok := h.sessionAndUser(c)
	if !ok {
		return
	}

	session, err := h.callService.AcceptCall(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	if h.auditLog != nil {
		_ = h.auditLog.LogCallAnswered(c.Request.Context(), userID, sessionID)
	}

	response.Success(c, http.StatusOK, session)
}

// DeclineCall rejects a ringing call
// POST /v1/calls/:id/decline
func (h *Handler) DeclineCall(c *gin.Context) {
	sessionID, userID, ok := h.sessionAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.DeclineCall(c.Request.Context(), sessionID, userID); err != nil {
		response.FromAppError(c, err)
		return
	}

	if h.auditLog != nil {
		_ = h.auditLog.LogCallOutcome(c.Request.Context(), userID, sessionID, "declined", 0)
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Call declined",
		"session_id": sessionID,
	})
}

// EndCall hangs up a call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	sessionID, userID, ok := h.sessionAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.EndCall(c.Request.Context(), sessionID, userID); err != nil {
		response.FromAppError(c, err)
		return
	}

	if h.auditLog != nil {
		_ = h.auditLog.LogCallOutcome(c.Request.Context(), userID, sessionID, "ended", 0)
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Call ended",
		"session_id": sessionID,
	})
}

// GetCallStatus returns the current session state
// GET /v1/calls/:id
func (h *Handler) GetCallStatus(c *gin.Context) {
	sessionID, userID, ok := h.sessionAndUser(c)
	if !ok {
		return
	}

	session, err := h.callService.GetCallStatus(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// GetCallHistory lists the user's past calls with peers resolved
// GET /v1/calls?page=&limit=
func (h *Handler) GetCallHistory(c *gin.Context) {
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

	entries, total, err := h.callService.GetUserCallHistory(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.BuildPaginationResponse(params, int64(total), entries))
}

// sessionAndUser parses the session ID param and resolves the caller
// identity, writing the error response itself on failure.
func (h *Handler) sessionAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return uuid.Nil, uuid.Nil, false
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, uuid.Nil, false
	}

	return sessionID, userID, true
}
