package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/signaling"
	"careconnect-backend/pkg/jwt"
)

func newGatewayServer(t *testing.T) (*httptest.Server, *signaling.Memory, *jwt.JWTManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := signaling.NewMemory()
	manager := jwt.NewJWTManager("gateway-test-secret", time.Hour)

	router := gin.New()
	gateway := NewGateway(mem, mem, manager)
	router.GET("/ws/calls", gateway.ServeWS)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return server, mem, manager
}

func dialGateway(t *testing.T, server *httptest.Server, manager *jwt.JWTManager, userID uuid.UUID) *websocket.Conn {
	t.Helper()

	token, err := manager.GenerateToken(userID, "user@example.com", "Test User", "patient")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/calls?token=" + token
	header := http.Header{"Origin": []string{"http://localhost:3000"}}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame serverFrame
	require.NoError(t, json.Unmarshal(payload, &frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame clientFrame) {
	t.Helper()

	payload, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func ringingSession(caller, callee uuid.UUID) *domain.CallSession {
	return &domain.CallSession{
		ID:       uuid.New(),
		CallerID: caller,
		CalleeID: callee,
		CallType: domain.CallTypeVideo,
		Status:   domain.CallStatusRinging,
	}
}

func TestGateway_RejectsBadToken(t *testing.T) {
	server, _, _ := newGatewayServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/calls?token=not-a-token"
	header := http.Header{"Origin": []string{"http://localhost:3000"}}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}
	if conn != nil {
		conn.Close()
	}
}

func TestGateway_IncomingCallFrame(t *testing.T) {
	server, mem, manager := newGatewayServer(t)

	caller := uuid.New()
	callee := uuid.New()
	conn := dialGateway(t, server, manager, callee)

	session := ringingSession(caller, callee)
	require.NoError(t, mem.Create(context.Background(), session))

	frame := readFrame(t, conn)
	assert.Equal(t, FrameIncomingCall, frame.Type)
	require.NotNil(t, frame.Session)
	assert.Equal(t, session.ID, frame.Session.ID)
	assert.Equal(t, caller, frame.Session.CallerID)
	assert.Equal(t, domain.CallStatusRinging, frame.Session.Status)
}

func TestGateway_JoinReplaysPendingSignals(t *testing.T) {
	server, mem, manager := newGatewayServer(t)

	caller := uuid.New()
	callee := uuid.New()
	session := ringingSession(caller, callee)
	require.NoError(t, mem.Create(context.Background(), session))

	// Offer stored before the callee ever connects.
	offer := &domain.CallSignal{
		ID:            domain.NewSignalID(),
		CallSessionID: session.ID,
		FromUserID:    caller,
		ToUserID:      callee,
		SignalType:    domain.SignalTypeOffer,
		SignalData:    json.RawMessage(`{"sdp":"v=0 offer"}`),
	}
	require.NoError(t, mem.Send(context.Background(), offer))

	conn := dialGateway(t, server, manager, callee)
	writeFrame(t, conn, clientFrame{Type: FrameJoinSession, SessionID: session.ID})

	status := readFrame(t, conn)
	assert.Equal(t, FrameSessionStatus, status.Type)
	require.NotNil(t, status.Session)
	assert.Equal(t, session.ID, status.Session.ID)

	replayed := readFrame(t, conn)
	assert.Equal(t, FrameSignal, replayed.Type)
	require.NotNil(t, replayed.Signal)
	assert.Equal(t, offer.ID, replayed.Signal.ID)
	assert.Equal(t, domain.SignalTypeOffer, replayed.Signal.SignalType)
	assert.JSONEq(t, `{"sdp":"v=0 offer"}`, string(replayed.Signal.SignalData))
}

func TestGateway_SendSignalReachesPeer(t *testing.T) {
	server, mem, manager := newGatewayServer(t)

	caller := uuid.New()
	callee := uuid.New()
	session := ringingSession(caller, callee)
	require.NoError(t, mem.Create(context.Background(), session))

	callerConn := dialGateway(t, server, manager, caller)
	calleeConn := dialGateway(t, server, manager, callee)

	writeFrame(t, callerConn, clientFrame{Type: FrameJoinSession, SessionID: session.ID})
	writeFrame(t, calleeConn, clientFrame{Type: FrameJoinSession, SessionID: session.ID})

	// Each side gets the session snapshot on join.
	assert.Equal(t, FrameSessionStatus, readFrame(t, callerConn).Type)
	assert.Equal(t, FrameSessionStatus, readFrame(t, calleeConn).Type)

	writeFrame(t, callerConn, clientFrame{
		Type:       FrameSendSignal,
		SessionID:  session.ID,
		SignalType: domain.SignalTypeOffer,
		SignalData: json.RawMessage(`{"sdp":"v=0 live offer"}`),
	})

	frame := readFrame(t, calleeConn)
	assert.Equal(t, FrameSignal, frame.Type)
	require.NotNil(t, frame.Signal)
	assert.Equal(t, caller, frame.Signal.FromUserID)
	assert.Equal(t, callee, frame.Signal.ToUserID)
	assert.Equal(t, domain.SignalTypeOffer, frame.Signal.SignalType)
	assert.NotEmpty(t, frame.Signal.ID)
}

func TestGateway_SessionStatusFrame(t *testing.T) {
	server, mem, manager := newGatewayServer(t)

	caller := uuid.New()
	callee := uuid.New()
	session := ringingSession(caller, callee)
	require.NoError(t, mem.Create(context.Background(), session))

	conn := dialGateway(t, server, manager, caller)
	writeFrame(t, conn, clientFrame{Type: FrameJoinSession, SessionID: session.ID})
	assert.Equal(t, FrameSessionStatus, readFrame(t, conn).Type)

	require.NoError(t, mem.UpdateStatus(context.Background(), session.ID, domain.CallStatusActive, time.Now()))

	frame := readFrame(t, conn)
	assert.Equal(t, FrameSessionStatus, frame.Type)
	require.NotNil(t, frame.Session)
	assert.Equal(t, domain.CallStatusActive, frame.Session.Status)
	assert.NotNil(t, frame.Session.StartedAt)
}

func TestGateway_NonParticipantCannotJoin(t *testing.T) {
	server, mem, manager := newGatewayServer(t)

	session := ringingSession(uuid.New(), uuid.New())
	require.NoError(t, mem.Create(context.Background(), session))

	stranger := dialGateway(t, server, manager, uuid.New())
	writeFrame(t, stranger, clientFrame{Type: FrameJoinSession, SessionID: session.ID})

	frame := readFrame(t, stranger)
	assert.Equal(t, FrameError, frame.Type)
	assert.Contains(t, frame.Error, "not a participant")
}

func TestGateway_SendSignalUnknownType(t *testing.T) {
	server, mem, manager := newGatewayServer(t)

	caller := uuid.New()
	session := ringingSession(caller, uuid.New())
	require.NoError(t, mem.Create(context.Background(), session))

	conn := dialGateway(t, server, manager, caller)
	writeFrame(t, conn, clientFrame{
		Type:       FrameSendSignal,
		SessionID:  session.ID,
		SignalType: domain.SignalType("screen-share"),
	})

	frame := readFrame(t, conn)
	assert.Equal(t, FrameError, frame.Type)
	assert.Contains(t, frame.Error, "unknown signal type")
}
