package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/signaling"
	"careconnect-backend/pkg/constants"
	"careconnect-backend/pkg/env"
	"careconnect-backend/pkg/jwt"
	"careconnect-backend/pkg/logger"
	"careconnect-backend/pkg/metrics"
)

// Client frame types accepted on /ws/calls.
const (
	FrameSendSignal   = "send-signal"
	FrameJoinSession  = "join-session"
	FrameLeaveSession = "leave-session"
)

// Server frame types pushed to connected clients.
const (
	FrameSignal        = "signal"
	FrameSessionStatus = "session-status"
	FrameIncomingCall  = "incoming-call"
	FrameError         = "error"
)

// clientFrame is one message read from a gateway connection.
type clientFrame struct {
	Type       string            `json:"type"`
	SessionID  uuid.UUID         `json:"session_id,omitempty"`
	SignalType domain.SignalType `json:"signal_type,omitempty"`
	SignalData json.RawMessage   `json:"signal_data,omitempty"`
}

// serverFrame is one message written to a gateway connection.
type serverFrame struct {
	Type    string              `json:"type"`
	Signal  *domain.CallSignal  `json:"signal,omitempty"`
	Session *domain.CallSession `json:"session,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// GetAllowedOrigins returns allowed WebSocket origins from environment or defaults
func GetAllowedOrigins() map[string]bool {
	allowedOrigins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}

	for _, origin := range env.GetStringSlice("CORS_ALLOWED_ORIGINS", nil) {
		allowedOrigins[strings.TrimSpace(origin)] = true
	}

	return allowedOrigins
}

var gatewayUpgrader = websocket.Upgrader{
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

// Gateway is the browser-facing WebSocket endpoint for call negotiation.
// One connection per signed-in user; the connection carries the user's
// incoming-call feed plus the signal and status feeds of every session
// the client has joined.
type Gateway struct {
	channel    signaling.Channel
	registry   signaling.Registry
	jwtManager *jwt.JWTManager

	// Concurrency limit: maxConnections is the maximum number of concurrent WebSocket connections
	maxConnections int
	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// NewGateway creates the call gateway. The connection cap defaults to 1000
// and can be raised via WS_MAX_CALL_CONNECTIONS.
func NewGateway(channel signaling.Channel, registry signaling.Registry, jwtManager *jwt.JWTManager) *Gateway {
	maxConns := env.GetInt("WS_MAX_CALL_CONNECTIONS", 1000)
	if maxConns <= 0 {
		maxConns = 1000
	}

	return &Gateway{
		channel:        channel,
		registry:       registry,
		jwtManager:     jwtManager,
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}
}

// gatewayClient is one authenticated WebSocket connection.
type gatewayClient struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	userID  uuid.UUID
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionAttachment
}

// sessionAttachment holds the live subscriptions for one joined session.
// seen deduplicates signal IDs because the live feed and the pending
// catch-up query may both deliver the same signal.
type sessionAttachment struct {
	signals signaling.Subscription
	status  signaling.Subscription

	mu   sync.Mutex
	seen map[string]struct{}
}

func (a *sessionAttachment) close() {
	if a.signals != nil {
		a.signals.Close()
	}
	if a.status != nil {
		a.status.Close()
	}
}

// ServeWS upgrades GET /ws/calls?token= connections. The token query
// parameter carries the JWT because browsers cannot set headers on
// WebSocket upgrades.
func (g *Gateway) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		metrics.GatewayConnectionTotal.WithLabelValues("unauthorized").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}

	claims, err := g.jwtManager.ValidateToken(token)
	if err != nil {
		metrics.GatewayConnectionTotal.WithLabelValues("unauthorized").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	// Acquire semaphore to limit concurrent connections
	select {
	case g.semaphore <- struct{}{}:
	default:
		metrics.GatewayConnectionTotal.WithLabelValues("at_capacity").Inc()
		logger.Warn("Call gateway connection rejected: max connections reached",
			zap.Int("max_connections", g.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &gatewayClient{
		gateway:  g,
		send:     make(chan []byte, 256),
		userID:   claims.UserID,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[uuid.UUID]*sessionAttachment),
	}

	// The ring feed for this user: every session created with them as the
	// callee becomes an incoming-call frame. Subscribing before the
	// handshake completes means a call placed right after connect is not
	// missed; frames queue in the send buffer until the pumps start.
	inserts, err := g.registry.SubscribeInserts(ctx, client.userID, func(session *domain.CallSession) {
		client.enqueue(&serverFrame{Type: FrameIncomingCall, Session: session})
	})
	if err != nil {
		// The connection is still useful for joined sessions, so keep it.
		logger.Warn("Call gateway could not subscribe to ring feed",
			zap.String("user_id", client.userID.String()),
			zap.Error(err))
	}

	conn, err := gatewayUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		if inserts != nil {
			inserts.Close()
		}
		<-g.semaphore
		metrics.GatewayConnectionTotal.WithLabelValues("upgrade_failed").Inc()
		logger.Warn("Call gateway upgrade failed",
			zap.String("user_id", claims.UserID.String()),
			zap.Error(err))
		return
	}
	client.conn = conn

	metrics.GatewayConnectionTotal.WithLabelValues("accepted").Inc()
	metrics.GatewayConnectionsActive.Inc()

	go client.writePump()
	go client.readPump(inserts)
}

// enqueue queues a frame for the write pump. A client that cannot keep up
// loses the connection rather than blocking feed callbacks.
func (c *gatewayClient) enqueue(frame *serverFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Warn("Failed to marshal gateway frame", zap.Error(err))
		return
	}

	select {
	case <-c.ctx.Done():
		metrics.GatewayFrameDroppedTotal.WithLabelValues("closed").Inc()
	case c.send <- payload:
	default:
		metrics.GatewayFrameDroppedTotal.WithLabelValues("slow_client").Inc()
		logger.Warn("Disconnecting slow call gateway client",
			zap.String("user_id", c.userID.String()))
		c.cancel()
	}
}

func (c *gatewayClient) sendError(message string) {
	c.enqueue(&serverFrame{Type: FrameError, Error: message})
}

// readPump reads client frames until the connection drops, then tears
// down every subscription the connection owned.
func (c *gatewayClient) readPump(inserts signaling.Subscription) {
	defer func() {
		c.cancel()
		if inserts != nil {
			inserts.Close()
		}
		c.mu.Lock()
		for _, att := range c.sessions {
			att.close()
		}
		c.sessions = nil
		c.mu.Unlock()
		c.conn.Close()
		metrics.GatewayConnectionsActive.Dec()
		<-c.gateway.semaphore
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
				logger.Debug("Call gateway connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Warn("Invalid frame from call gateway client",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			c.sendError("malformed frame")
			continue
		}

		switch frame.Type {
		case FrameSendSignal:
			c.handleSendSignal(&frame)
		case FrameJoinSession:
			c.handleJoin(frame.SessionID)
		case FrameLeaveSession:
			c.handleLeave(frame.SessionID)
		default:
			c.sendError("unknown frame type: " + frame.Type)
		}
	}
}

// handleSendSignal validates a signal frame and appends it to the feed.
// The recipient is always the other participant of the session; the
// client never chooses the target.
func (c *gatewayClient) handleSendSignal(frame *clientFrame) {
	if !frame.SignalType.Valid() {
		c.sendError("unknown signal type")
		return
	}
	if frame.SessionID == uuid.Nil {
		c.sendError("session_id required")
		return
	}

	session, err := c.gateway.registry.GetSession(c.ctx, frame.SessionID)
	if err != nil {
		c.sendError("unknown session")
		return
	}

	peer, ok := session.OtherParty(c.userID)
	if !ok {
		c.sendError("not a participant of this call")
		return
	}

	if session.Status.Terminal() && frame.SignalType != domain.SignalTypeHangup {
		c.sendError("call already ended")
		return
	}

	signal := &domain.CallSignal{
		ID:            domain.NewSignalID(),
		CallSessionID: session.ID,
		FromUserID:    c.userID,
		ToUserID:      peer,
		SignalType:    frame.SignalType,
		SignalData:    frame.SignalData,
	}

	if err := c.gateway.channel.Send(c.ctx, signal); err != nil {
		logger.Error("Failed to append signal from gateway",
			zap.String("session_id", session.ID.String()),
			zap.String("signal_type", string(frame.SignalType)),
			zap.Error(err))
		c.sendError("signal not delivered")
	}
}

// handleJoin attaches the connection to a session's signal and status
// feeds, then replays stored signals addressed to this user. Subscribing
// before the replay means nothing is missed; the seen set absorbs the
// overlap.
func (c *gatewayClient) handleJoin(sessionID uuid.UUID) {
	if sessionID == uuid.Nil {
		c.sendError("session_id required")
		return
	}

	c.mu.Lock()
	_, joined := c.sessions[sessionID]
	c.mu.Unlock()
	if joined {
		return
	}

	session, err := c.gateway.registry.GetSession(c.ctx, sessionID)
	if err != nil {
		c.sendError("unknown session")
		return
	}
	if !session.HasParticipant(c.userID) {
		c.sendError("not a participant of this call")
		return
	}

	att := &sessionAttachment{seen: make(map[string]struct{})}

	att.signals, err = c.gateway.channel.Subscribe(c.ctx, sessionID, func(signal *domain.CallSignal) {
		c.deliverSignal(att, signal)
	})
	if err != nil {
		c.sendError("could not join session")
		return
	}

	att.status, err = c.gateway.registry.SubscribeSessionUpdates(c.ctx, sessionID, func(session *domain.CallSession) {
		c.enqueue(&serverFrame{Type: FrameSessionStatus, Session: session})
	})
	if err != nil {
		att.close()
		c.sendError("could not join session")
		return
	}

	c.mu.Lock()
	if c.sessions == nil {
		c.mu.Unlock()
		att.close()
		return
	}
	if _, raced := c.sessions[sessionID]; raced {
		c.mu.Unlock()
		att.close()
		return
	}
	c.sessions[sessionID] = att
	c.mu.Unlock()

	// Current state first, so the client renders before signals arrive.
	c.enqueue(&serverFrame{Type: FrameSessionStatus, Session: session})

	pending, err := c.gateway.channel.FetchPending(c.ctx, sessionID, c.userID)
	if err != nil {
		logger.Warn("Failed to fetch pending signals on join",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
		return
	}
	for _, signal := range pending {
		c.deliverSignal(att, signal)
	}
}

func (c *gatewayClient) handleLeave(sessionID uuid.UUID) {
	c.mu.Lock()
	att, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()

	if ok {
		att.close()
	}
}

// deliverSignal forwards one feed signal to the client, dropping own
// echoes and duplicates.
func (c *gatewayClient) deliverSignal(att *sessionAttachment, signal *domain.CallSignal) {
	if signal.ToUserID != c.userID {
		if signal.FromUserID == c.userID {
			metrics.SignalSelfEchoDroppedTotal.Inc()
		}
		return
	}

	att.mu.Lock()
	if _, dup := att.seen[signal.ID]; dup {
		att.mu.Unlock()
		metrics.SignalDuplicateDroppedTotal.Inc()
		return
	}
	att.seen[signal.ID] = struct{}{}
	att.mu.Unlock()

	c.enqueue(&serverFrame{Type: FrameSignal, Signal: signal})
}

// writePump writes queued frames and keeps the connection alive with
// pings.
func (c *gatewayClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
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
