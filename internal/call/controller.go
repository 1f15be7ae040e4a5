// Package call implements the station-side call engine: a lifecycle
// controller that watches the session registry for the user's calls, and a
// peer connection manager that negotiates WebRTC media through the
// persisted signal channel.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/signaling"
	"careconnect-backend/pkg/constants"
	apperrors "careconnect-backend/pkg/errors"
	"careconnect-backend/pkg/logger"
)

// DirectoryLookup resolves a user id to the display name shown on call
// screens.
type DirectoryLookup interface {
	DisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// IncomingCall is the nullable projection a station UI renders while a
// call is ringing for this user.
type IncomingCall struct {
	SessionID  uuid.UUID
	CallerID   uuid.UUID
	CallerName string
	CallType   domain.CallType
}

// ActiveCall is the nullable projection for an outgoing or established
// call. Initiator reports which side this station is.
type ActiveCall struct {
	SessionID  uuid.UUID
	Initiator  bool
	RemoteID   uuid.UUID
	RemoteName string
}

// ControllerConfig carries the collaborators for a station user's call
// state machine. The hooks are optional; they run on subscription
// goroutines and must not block.
type ControllerConfig struct {
	SelfID   uuid.UUID
	Registry signaling.Registry
	Channel  signaling.Channel
	Media    MediaSource

	// Directory is optional; ids are shown raw without it.
	Directory DirectoryLookup

	// ICEServers defaults to a public STUN server when empty.
	ICEServers []webrtc.ICEServer

	OnIncomingCall    func(IncomingCall)
	OnCallActive      func(ActiveCall)
	OnCallEnded       func(sessionID uuid.UUID, status domain.CallStatus)
	OnRemoteTrack     func(*webrtc.TrackRemote)
	OnConnectionState func(webrtc.PeerConnectionState)
}

// Controller drives one call at a time for a station user. It watches the
// registry for sessions ringing toward the user, owns the
// initiate/accept/decline/end actions, and runs the Peer once a session
// reaches active. The caller never offers before the callee accepts, and
// the callee never offers at all.
type Controller struct {
	selfID     uuid.UUID
	registry   signaling.Registry
	channel    signaling.Channel
	media      MediaSource
	directory  DirectoryLookup
	iceServers []webrtc.ICEServer

	onIncomingCall    func(IncomingCall)
	onCallActive      func(ActiveCall)
	onCallEnded       func(uuid.UUID, domain.CallStatus)
	onRemoteTrack     func(*webrtc.TrackRemote)
	onConnectionState func(webrtc.PeerConnectionState)

	mu          sync.Mutex
	closed      bool
	ringSub     signaling.Subscription
	sessionSub  signaling.Subscription
	session     *domain.CallSession
	incoming    *IncomingCall
	active      *ActiveCall
	peer        *Peer
	peerStarted bool
	names       map[uuid.UUID]string
}

// NewController wires the call state machine for one station user.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.SelfID == uuid.Nil {
		return nil, apperrors.ValidationError("user id is required")
	}
	if cfg.Registry == nil || cfg.Channel == nil || cfg.Media == nil {
		return nil, apperrors.ValidationError("registry, channel and media source are required")
	}

	return &Controller{
		selfID:            cfg.SelfID,
		registry:          cfg.Registry,
		channel:           cfg.Channel,
		media:             cfg.Media,
		directory:         cfg.Directory,
		iceServers:        cfg.ICEServers,
		onIncomingCall:    cfg.OnIncomingCall,
		onCallActive:      cfg.OnCallActive,
		onCallEnded:       cfg.OnCallEnded,
		onRemoteTrack:     cfg.OnRemoteTrack,
		onConnectionState: cfg.OnConnectionState,
		names:             make(map[uuid.UUID]string),
	}, nil
}

// Start begins watching for incoming calls addressed to this user.
func (c *Controller) Start(ctx context.Context) error {
	sub, err := c.registry.SubscribeInserts(ctx, c.selfID, c.handleIncoming)
	if err != nil {
		return apperrors.TransportError("subscribe incoming calls", err)
	}

	c.mu.Lock()
	c.ringSub = sub
	c.mu.Unlock()
	return nil
}

// IncomingCall returns the ringing call waiting on this user, or nil.
func (c *Controller) IncomingCall() *IncomingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incoming == nil {
		return nil
	}
	snapshot := *c.incoming
	return &snapshot
}

// ActiveCall returns the outgoing or established call, or nil.
func (c *Controller) ActiveCall() *ActiveCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	snapshot := *c.active
	return &snapshot
}

// Peer returns the live peer connection manager, or nil before the call
// is active.
func (c *Controller) Peer() *Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// InitiateCall creates a ringing session toward calleeID and enters the
// outgoing state. The peer starts only once the callee accepts; no media
// is touched before then.
func (c *Controller) InitiateCall(ctx context.Context, calleeID uuid.UUID, callType domain.CallType, conversationID *uuid.UUID) (uuid.UUID, error) {
	if calleeID == c.selfID {
		return uuid.Nil, apperrors.ValidationError("cannot call yourself")
	}
	if !callType.Valid() {
		return uuid.Nil, apperrors.ValidationError("invalid call type")
	}

	calleeName := c.displayName(calleeID)

	session := &domain.CallSession{
		ID:             uuid.New(),
		ConversationID: conversationID,
		CallerID:       c.selfID,
		CalleeID:       calleeID,
		CallType:       callType,
		Status:         domain.CallStatusRinging,
		CreatedAt:      time.Now().UTC(),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return uuid.Nil, apperrors.CallStateError("controller is closed")
	}
	if c.session != nil {
		c.mu.Unlock()
		return uuid.Nil, apperrors.ConflictError("another call is already in progress")
	}
	sess := *session
	c.session = &sess
	c.active = &ActiveCall{
		SessionID:  session.ID,
		Initiator:  true,
		RemoteID:   calleeID,
		RemoteName: calleeName,
	}
	c.mu.Unlock()

	if err := c.registry.Create(ctx, session); err != nil {
		c.clearCall(session.ID)
		return uuid.Nil, apperrors.TransportError("create call session", err)
	}

	sub, err := c.registry.SubscribeSessionUpdates(ctx, session.ID, c.handleSessionUpdate)
	if err != nil {
		c.clearCall(session.ID)
		c.persistEnded(session.ID)
		return uuid.Nil, apperrors.TransportError("watch call session", err)
	}
	c.attachSessionSub(session.ID, sub)

	// Cover a status change that landed before the watch attached.
	c.reconcileStatus(session.ID)
	return session.ID, nil
}

// AcceptCall answers the ringing incoming call: the session moves to
// active and this side starts its peer as the non-initiator. On a status
// write failure the incoming call is kept so the user may retry.
func (c *Controller) AcceptCall(ctx context.Context) error {
	c.mu.Lock()
	if c.incoming == nil || c.session == nil {
		c.mu.Unlock()
		return apperrors.CallStateError("no incoming call to accept")
	}
	incoming := *c.incoming
	sessionID := c.session.ID
	c.mu.Unlock()

	startedAt := time.Now().UTC()
	if err := c.registry.UpdateStatus(ctx, sessionID, domain.CallStatusActive, startedAt); err != nil {
		return err
	}

	c.mu.Lock()
	if c.session == nil || c.session.ID != sessionID {
		c.mu.Unlock()
		return apperrors.CallStateError("call ended while accepting")
	}
	c.session.Status = domain.CallStatusActive
	c.session.StartedAt = &startedAt
	c.incoming = nil
	active := ActiveCall{
		SessionID:  sessionID,
		Initiator:  false,
		RemoteID:   incoming.CallerID,
		RemoteName: incoming.CallerName,
	}
	c.active = &active
	c.peerStarted = true
	sess := *c.session
	c.mu.Unlock()

	return c.startPeer(ctx, &sess, false, active)
}

// DeclineCall rejects the ringing incoming call. No media is ever
// acquired on this side.
func (c *Controller) DeclineCall(ctx context.Context) error {
	c.mu.Lock()
	if c.incoming == nil || c.session == nil {
		c.mu.Unlock()
		return apperrors.CallStateError("no incoming call to decline")
	}
	sessionID := c.session.ID
	c.mu.Unlock()

	if err := c.registry.UpdateStatus(ctx, sessionID, domain.CallStatusDeclined, time.Now().UTC()); err != nil {
		return err
	}

	c.finishCall(sessionID, domain.CallStatusDeclined, false)
	return nil
}

// EndCall hangs up the current call, outgoing ringing included, and
// persists the ended status.
func (c *Controller) EndCall(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return apperrors.CallStateError("no call to end")
	}
	sessionID := c.session.ID
	peer, sub := c.teardownLocked()
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	if peer != nil {
		peer.End(ctx)
	}

	err := c.registry.UpdateStatus(ctx, sessionID, domain.CallStatusEnded, time.Now().UTC())
	if c.onCallEnded != nil {
		c.onCallEnded(sessionID, domain.CallStatusEnded)
	}
	if err != nil && !apperrors.IsCode(err, apperrors.ErrCodeCallState) {
		return apperrors.TransportError("end call", err)
	}
	return nil
}

// Close tears down the controller: the incoming watch and any live call.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ringSub := c.ringSub
	c.ringSub = nil
	var sessionID uuid.UUID
	var peer *Peer
	var sub signaling.Subscription
	if c.session != nil {
		sessionID = c.session.ID
		peer, sub = c.teardownLocked()
	}
	c.mu.Unlock()

	if ringSub != nil {
		_ = ringSub.Close()
	}
	if sub != nil {
		_ = sub.Close()
	}
	if peer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
		peer.End(ctx)
		cancel()
		c.persistEnded(sessionID)
	}
	return nil
}

// handleIncoming runs on the registry insert feed for sessions ringing
// toward this user.
func (c *Controller) handleIncoming(session *domain.CallSession) {
	if session.Status != domain.CallStatusRinging || session.CalleeID != c.selfID {
		return
	}

	callerName := c.displayName(session.CallerID)

	c.mu.Lock()
	if c.closed || c.session != nil {
		c.mu.Unlock()
		logger.Info("ignoring incoming call while busy",
			zap.String("session_id", session.ID.String()),
			zap.String("caller_id", session.CallerID.String()))
		return
	}
	sess := *session
	c.session = &sess
	incoming := IncomingCall{
		SessionID:  session.ID,
		CallerID:   session.CallerID,
		CallerName: callerName,
		CallType:   session.CallType,
	}
	c.incoming = &incoming
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	sub, err := c.registry.SubscribeSessionUpdates(ctx, session.ID, c.handleSessionUpdate)
	cancel()
	if err != nil {
		logger.Warn("failed to watch ringing session",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	} else {
		c.attachSessionSub(session.ID, sub)
	}

	// The caller may have hung up before the watch attached.
	c.reconcileStatus(session.ID)

	if c.onIncomingCall != nil {
		c.onIncomingCall(incoming)
	}
}

func (c *Controller) handleSessionUpdate(session *domain.CallSession) {
	c.handleStatusChange(session.ID, session.Status)
}

func (c *Controller) handleStatusChange(sessionID uuid.UUID, status domain.CallStatus) {
	switch status {
	case domain.CallStatusActive:
		c.mu.Lock()
		if c.session == nil || c.session.ID != sessionID {
			c.mu.Unlock()
			return
		}
		c.session.Status = status
		if c.active == nil || !c.active.Initiator || c.peerStarted {
			c.mu.Unlock()
			return
		}
		c.peerStarted = true
		sess := *c.session
		active := *c.active
		c.mu.Unlock()

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), constants.LongTimeout)
			defer cancel()
			_ = c.startPeer(ctx, &sess, true, active)
		}()

	case domain.CallStatusDeclined, domain.CallStatusMissed, domain.CallStatusEnded:
		c.finishCall(sessionID, status, false)
	}
}

// startPeer builds and starts the peer for an active session. Any failure
// tears the call down and persists ended, so the remote side is not left
// ringing against a dead station.
func (c *Controller) startPeer(ctx context.Context, session *domain.CallSession, initiator bool, projection ActiveCall) error {
	peer, err := NewPeer(PeerConfig{
		Session:           session,
		SelfID:            c.selfID,
		Initiator:         initiator,
		Channel:           c.channel,
		Media:             c.media,
		ICEServers:        c.iceServers,
		OnRemoteTrack:     c.onRemoteTrack,
		OnConnectionState: c.onConnectionState,
		OnCallEnded: func() {
			c.handlePeerEnded(session.ID)
		},
	})
	if err != nil {
		logger.Error("failed to build call peer",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		c.finishCall(session.ID, domain.CallStatusEnded, true)
		return err
	}

	c.mu.Lock()
	if c.closed || c.session == nil || c.session.ID != session.ID {
		// The call was torn down while we were off the lock.
		c.mu.Unlock()
		return apperrors.CallStateError("call ended before start")
	}
	c.peer = peer
	c.mu.Unlock()

	if err := peer.Start(ctx, session.CallType == domain.CallTypeVideo); err != nil {
		logger.Error("failed to start call peer",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		c.finishCall(session.ID, domain.CallStatusEnded, true)
		return err
	}

	if c.onCallActive != nil {
		c.onCallActive(projection)
	}
	return nil
}

// handlePeerEnded runs when the peer fires OnCallEnded: remote hangup,
// terminal connection state, or a local End routed through the peer.
func (c *Controller) handlePeerEnded(sessionID uuid.UUID) {
	c.finishCall(sessionID, domain.CallStatusEnded, true)
}

// finishCall tears down local state for sessionID if it is still current.
// With persist set the terminal status is also written; a losing race
// against the remote side's own terminal write is fine.
func (c *Controller) finishCall(sessionID uuid.UUID, status domain.CallStatus, persist bool) {
	c.mu.Lock()
	if c.session == nil || c.session.ID != sessionID {
		c.mu.Unlock()
		return
	}
	peer, sub := c.teardownLocked()
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	if peer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		peer.End(ctx)
		cancel()
	}
	if persist {
		c.persistEnded(sessionID)
	}
	if c.onCallEnded != nil {
		c.onCallEnded(sessionID, status)
	}
}

// teardownLocked clears every per-call field and hands back the resources
// that must be closed outside the lock.
func (c *Controller) teardownLocked() (*Peer, signaling.Subscription) {
	peer := c.peer
	sub := c.sessionSub
	c.peer = nil
	c.sessionSub = nil
	c.session = nil
	c.incoming = nil
	c.active = nil
	c.peerStarted = false
	return peer, sub
}

func (c *Controller) clearCall(sessionID uuid.UUID) {
	c.mu.Lock()
	if c.session != nil && c.session.ID == sessionID {
		c.teardownLocked()
	}
	c.mu.Unlock()
}

func (c *Controller) attachSessionSub(sessionID uuid.UUID, sub signaling.Subscription) {
	c.mu.Lock()
	if c.session == nil || c.session.ID != sessionID {
		c.mu.Unlock()
		_ = sub.Close()
		return
	}
	c.sessionSub = sub
	c.mu.Unlock()
}

// reconcileStatus performs the one-shot status read that covers updates
// written before the live watch attached.
func (c *Controller) reconcileStatus(sessionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	status, err := c.registry.GetStatus(ctx, sessionID)
	if err != nil {
		logger.Warn("failed to read call status",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return
	}
	if status != domain.CallStatusRinging {
		c.handleStatusChange(sessionID, status)
	}
}

func (c *Controller) persistEnded(sessionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	err := c.registry.UpdateStatus(ctx, sessionID, domain.CallStatusEnded, time.Now().UTC())
	if err != nil && !apperrors.IsCode(err, apperrors.ErrCodeCallState) {
		logger.Warn("failed to mark call ended",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
}

func (c *Controller) displayName(userID uuid.UUID) string {
	c.mu.Lock()
	if name, ok := c.names[userID]; ok {
		c.mu.Unlock()
		return name
	}
	c.mu.Unlock()

	if c.directory == nil {
		return userID.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()
	name, err := c.directory.DisplayName(ctx, userID)
	if err != nil || name == "" {
		if err != nil {
			logger.Warn("failed to resolve display name",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
		return userID.String()
	}

	c.mu.Lock()
	c.names[userID] = name
	c.mu.Unlock()
	return name
}
