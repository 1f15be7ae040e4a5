package chat

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"careconnect-backend/internal/middleware"
	"careconnect-backend/internal/service/chat"
	"careconnect-backend/pkg/response"
)

// Handler handles chat HTTP requests
type Handler struct {
	chatService *chat.Service
}

// NewHandler creates a new chat handler
func NewHandler(chatService *chat.Service) *Handler {
	return &Handler{
		chatService: chatService,
	}
}

// SendMessageRequest represents send message request
type SendMessageRequest struct {
	ConversationID string                 `json:"conversation_id" binding:"required,uuid"`
	Content        string                 `json:"content" binding:"required"`
	IsEncrypted    bool                   `json:"is_encrypted"`
	MessageType    string                 `json:"message_type" binding:"required,oneof=text attachment system"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// GetMessagesQuery represents query parameters for listing messages
type GetMessagesQuery struct {
	Limit     int    `form:"limit"`
	PageState string `form:"page_state"` // Base64 encoded
}

// SendMessage handles sending a new message
// POST /v1/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	senderID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	output, err := h.chatService.SendMessage(c.Request.Context(), &chat.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        req.Content,
		IsEncrypted:    req.IsEncrypted,
		MessageType:    req.MessageType,
		Metadata:       req.Metadata,
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, output.Message)
}

// GetMessages handles listing messages with pagination
// GET /v1/conversations/:id/messages
func (h *Handler) GetMessages(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	requesterID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var query GetMessagesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	var pageState []byte
	if query.PageState != "" {
		pageState, err = base64.StdEncoding.DecodeString(query.PageState)
		if err != nil {
			response.ValidationError(c, "Invalid page state")
			return
		}
	}

	output, err := h.chatService.GetMessages(c.Request.Context(), &chat.GetMessagesInput{
		ConversationID: conversationID,
		RequesterID:    requesterID,
		Limit:          query.Limit,
		PageState:      pageState,
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages":        output.Messages,
		"next_page_state": base64.StdEncoding.EncodeToString(output.NextPageState),
		"has_more":        output.HasMore,
	})
}

// DeleteMessage handles an erasure request for one message
// DELETE /v1/conversations/:id/messages/:message_id?bucket=
func (h *Handler) DeleteMessage(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	messageID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		response.ValidationError(c, "Invalid message ID")
		return
	}

	bucket, err := strconv.Atoi(c.Query("bucket"))
	if err != nil {
		response.ValidationError(c, "Invalid bucket")
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.chatService.DeleteMessage(c.Request.Context(), conversationID, bucket, messageID, userID); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Message deleted",
	})
}

// PresenceRequest marks a doctor available or away
type PresenceRequest struct {
	Specialty string `json:"specialty" binding:"required"`
	Online    bool   `json:"online"`
}

// SetPresence handles doctor availability updates
// PUT /v1/presence
func (h *Handler) SetPresence(c *gin.Context) {
	var req PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.chatService.SetPresence(c.Request.Context(), userID, req.Specialty, req.Online); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"online": req.Online,
	})
}

// Heartbeat extends a doctor's availability window
// POST /v1/presence/heartbeat
func (h *Handler) Heartbeat(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.chatService.RefreshPresence(c.Request.Context(), userID); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Presence refreshed",
	})
}
