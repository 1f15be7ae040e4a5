package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/middleware"
	"careconnect-backend/pkg/constants"
	"careconnect-backend/pkg/database"
	"careconnect-backend/pkg/env"
	"careconnect-backend/pkg/logger"
	"careconnect-backend/pkg/metrics"
)

// Chat frame types. Persisted messages arrive through Redis from the chat
// service; typing and read receipts are ephemeral and relayed in-process.
const (
	ChatFrameMessage = "message"
	ChatFrameTyping  = "typing"
	ChatFrameRead    = "read"
)

// ChatFrame is one message on a chat WebSocket connection.
type ChatFrame struct {
	Type           string          `json:"type"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	SenderID       uuid.UUID       `json:"sender_id,omitempty"`
	MessageID      uuid.UUID       `json:"message_id,omitempty"`
	Message        *domain.Message `json:"message,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ChatMembership checks that a user belongs to a conversation before the
// upgrade is accepted.
type ChatMembership interface {
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Reject empty origins - require explicit origin for security
			return false
		}
		return GetAllowedOrigins()[origin]
	},
}

// ChatHub fans conversation traffic out to connected WebSocket clients.
// Each conversation with at least one local client holds one Redis
// subscription on the channel the chat service publishes to.
type ChatHub struct {
	conversations map[uuid.UUID]map[*ChatClient]bool

	// Cancel functions for conversation subscriptions
	subscriptionCancels map[uuid.UUID]context.CancelFunc

	redis      *database.RedisClient
	membership ChatMembership

	mu sync.RWMutex

	register   chan *ChatClient
	unregister chan *ChatClient
	broadcast  chan *ChatFrame

	// Concurrency limit: maxConnections is the maximum number of concurrent WebSocket connections
	maxConnections int
	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// ChatClient represents a WebSocket client attached to one conversation
type ChatClient struct {
	hub            *ChatHub
	conn           *websocket.Conn
	send           chan []byte
	userID         uuid.UUID
	conversationID uuid.UUID
}

// NewChatHub creates a new chat hub. The connection cap defaults to 1000
// and can be raised via WS_MAX_CHAT_CONNECTIONS.
func NewChatHub(redis *database.RedisClient, membership ChatMembership) *ChatHub {
	maxConns := env.GetInt("WS_MAX_CHAT_CONNECTIONS", 1000)
	if maxConns <= 0 {
		maxConns = 1000
	}

	hub := &ChatHub{
		conversations:       make(map[uuid.UUID]map[*ChatClient]bool),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		redis:               redis,
		membership:          membership,
		register:            make(chan *ChatClient),
		unregister:          make(chan *ChatClient),
		broadcast:           make(chan *ChatFrame, 256),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}

	go hub.run()

	return hub
}

// run handles hub operations
func (h *ChatHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.conversations[client.conversationID] == nil {
				h.conversations[client.conversationID] = make(map[*ChatClient]bool)

				ctx, cancel := context.WithCancel(context.Background())
				h.subscriptionCancels[client.conversationID] = cancel

				go h.subscribeToConversation(ctx, client.conversationID)
			}
			h.conversations[client.conversationID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.conversations[client.conversationID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)

					// The last local client releases the conversation's
					// Redis subscription.
					if len(clients) == 0 {
						if cancel, ok := h.subscriptionCancels[client.conversationID]; ok {
							cancel()
							delete(h.subscriptionCancels, client.conversationID)
						}
						delete(h.conversations, client.conversationID)
					}
				}
			}
			h.mu.Unlock()

		case frame := <-h.broadcast:
			h.deliver(frame)
		}
	}
}

func (h *ChatHub) deliver(frame *ChatFrame) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ChatBroadcastPanicTotal.Inc()
			logger.Error("Panic during chat broadcast",
				zap.String("conversation_id", frame.ConversationID.String()),
				zap.Any("panic", r))
		}
	}()

	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Warn("Failed to marshal chat frame", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.conversations[frame.ConversationID]
	if !ok {
		return
	}
	for client := range clients {
		// The sender already renders its own ephemeral frames.
		if frame.SenderID != uuid.Nil && client.userID == frame.SenderID && frame.Type != ChatFrameMessage {
			continue
		}
		select {
		case client.send <- payload:
			metrics.ChatWebSocketMessagesTotal.WithLabelValues("out").Inc()
		default:
			metrics.ChatClientMessageDroppedTotal.WithLabelValues("slow_client").Inc()
			close(client.send)
			delete(clients, client)
		}
	}
}

// subscribeToConversation bridges the chat service's Redis channel for one
// conversation into the hub.
func (h *ChatHub) subscribeToConversation(ctx context.Context, conversationID uuid.UUID) {
	pubsub := h.redis.SafeSubscribe(ctx, "chat:"+conversationID.String())
	if pubsub == nil {
		logger.Warn("Chat subscription unavailable, Redis degraded",
			zap.String("conversation_id", conversationID.String()))
		return
	}
	defer pubsub.Close()

	metrics.ChatRedisSubscriptionActive.Inc()
	defer metrics.ChatRedisSubscriptionActive.Dec()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var message domain.Message
			if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
				logger.Warn("Dropping malformed chat message from Redis",
					zap.String("conversation_id", conversationID.String()),
					zap.Error(err))
				continue
			}

			h.broadcast <- &ChatFrame{
				Type:           ChatFrameMessage,
				ConversationID: conversationID,
				SenderID:       message.SenderID,
				Message:        &message,
				Timestamp:      message.SentAt,
			}
		}
	}
}

// ServeWS upgrades GET /ws/chat?conversation_id= connections. Identity
// comes from the auth middleware; membership is checked before the
// upgrade.
func (h *ChatHub) ServeWS(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Query("conversation_id"))
	if err != nil {
		metrics.ChatWebSocketConnectionTotal.WithLabelValues("bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid conversation_id required"})
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		metrics.ChatWebSocketConnectionUnauthorizedTotal.Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	member, err := h.membership.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		metrics.ChatWebSocketConnectionTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		metrics.ChatWebSocketConnectionUnauthorizedTotal.Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		metrics.ChatWebSocketConnectionTotal.WithLabelValues("at_capacity").Inc()
		logger.Warn("Chat WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		metrics.ChatWebSocketConnectionTotal.WithLabelValues("upgrade_failed").Inc()
		logger.Warn("Chat WebSocket upgrade failed",
			zap.String("conversation_id", conversationID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	metrics.ChatWebSocketConnectionTotal.WithLabelValues("accepted").Inc()
	metrics.ChatWebSocketConnections.Inc()

	client := &ChatClient{
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, 256),
		userID:         userID,
		conversationID: conversationID,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump reads ephemeral frames (typing, read receipts) from the client.
// Persisted messages go through the HTTP API, never through the socket.
func (c *ChatClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		metrics.ChatWebSocketConnections.Dec()
		<-c.hub.semaphore
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				metrics.ChatWebSocketErrorsTotal.WithLabelValues("read").Inc()
				logger.Debug("Chat WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			metrics.ChatWebSocketDisconnectionTotal.WithLabelValues("read_closed").Inc()
			break
		}
		metrics.ChatWebSocketMessagesTotal.WithLabelValues("in").Inc()

		var frame ChatFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			metrics.ChatWebSocketErrorsTotal.WithLabelValues("malformed").Inc()
			logger.Warn("Invalid frame from chat client",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		if frame.Type != ChatFrameTyping && frame.Type != ChatFrameRead {
			continue
		}

		frame.SenderID = c.userID
		frame.ConversationID = c.conversationID
		frame.Message = nil
		frame.Timestamp = time.Now()

		c.hub.broadcast <- &frame
	}
}

// writePump writes queued frames and keeps the connection alive with
// pings.
func (c *ChatClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
