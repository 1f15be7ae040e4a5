// Package call implements the server-side call session orchestration: the
// HTTP surface over the session registry, push notification dispatch on
// ring, terminal-event publishing, and the ring-timeout sweep. The device
// state machine lives in internal/call; this service only mediates the
// registry on behalf of REST clients.
package call

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/events"
	"careconnect-backend/internal/telemetry"
	apperrors "careconnect-backend/pkg/errors"
	"careconnect-backend/pkg/logger"
	"careconnect-backend/pkg/metrics"
	"careconnect-backend/pkg/push"
)

// SessionRegistry is the slice of the signaling registry the service
// writes through.
type SessionRegistry interface {
	Create(ctx context.Context, session *domain.CallSession) error
	UpdateStatus(ctx context.Context, sessionID uuid.UUID, status domain.CallStatus, at time.Time) error
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error)
}

// HistoryRepository answers read-side session queries.
type HistoryRepository interface {
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error)
	CountForUser(ctx context.Context, userID uuid.UUID) (int, error)
	ActiveSessionForUser(ctx context.Context, userID uuid.UUID) (*domain.CallSession, error)
	ListStaleRinging(ctx context.Context, cutoff time.Time) ([]*domain.CallSession, error)
}

// Directory resolves display names for notifications and history entries.
type Directory interface {
	GetDisplayInfo(ctx context.Context, userID uuid.UUID) (*domain.DisplayInfo, error)
}

// Notifier is the push surface the service rings and notifies through.
type Notifier interface {
	SendIncomingCallNotification(ctx context.Context, data *push.CallNotificationData, calleeID uuid.UUID) error
	SendMissedCallNotification(ctx context.Context, sessionID, callerID uuid.UUID, callerName string, calleeID uuid.UUID) error
}

// Service handles call session business logic
type Service struct {
	registry  SessionRegistry
	history   HistoryRepository
	directory Directory
	notifier  Notifier
	publisher events.Publisher
}

// NewService creates a new call service. Notifier and publisher may be nil
// (station deployments run without push or an event broker).
func NewService(registry SessionRegistry, history HistoryRepository, directory Directory, notifier Notifier, publisher events.Publisher) *Service {
	return &Service{
		registry:  registry,
		history:   history,
		directory: directory,
		notifier:  notifier,
		publisher: publisher,
	}
}

// InitiateCallInput contains call initiation data
type InitiateCallInput struct {
	CallerID       uuid.UUID
	CalleeID       uuid.UUID
	CallType       domain.CallType
	ConversationID *uuid.UUID
}

// InitiateCallOutput contains the created session info
type InitiateCallOutput struct {
	SessionID uuid.UUID
	CallType  domain.CallType
	Status    domain.CallStatus
	CreatedAt time.Time
}

// InitiateCall creates a ringing session and notifies the callee. A failed
// create aborts the attempt; a failed push does not (the callee's live
// ring subscription still fires).
func (s *Service) InitiateCall(ctx context.Context, input *InitiateCallInput) (*InitiateCallOutput, error) {
	ctx, span := telemetry.Tracer("call-service").Start(ctx, "call.initiate")
	defer span.End()

	if !input.CallType.Valid() {
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeValidation, "invalid call type", 400)
	}
	if input.CallerID == input.CalleeID {
		metrics.RecordCallPlacementRejected("self_call")
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeValidation, "cannot call yourself", 400)
	}

	// One call at a time per user.
	if busy, err := s.history.ActiveSessionForUser(ctx, input.CallerID); err == nil && busy != nil {
		metrics.RecordCallPlacementRejected("caller_busy")
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeCallState, "caller already in a call", 409)
	}
	if busy, err := s.history.ActiveSessionForUser(ctx, input.CalleeID); err == nil && busy != nil {
		metrics.RecordCallPlacementRejected("callee_busy")
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeCallState, "callee is in another call", 409)
	}

	session := &domain.CallSession{
		ID:             uuid.New(),
		ConversationID: input.ConversationID,
		CallerID:       input.CallerID,
		CalleeID:       input.CalleeID,
		CallType:       input.CallType,
		Status:         domain.CallStatusRinging,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.registry.Create(ctx, session); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeTransport, "failed to create call session", err)
	}

	span.SetAttributes(attribute.String("call.type", string(input.CallType)))
	metrics.RecordCallPlaced(string(input.CallType))

	s.notifyRing(ctx, session)

	return &InitiateCallOutput{
		SessionID: session.ID,
		CallType:  session.CallType,
		Status:    session.Status,
		CreatedAt: session.CreatedAt,
	}, nil
}

// notifyRing sends the incoming-call push. Best effort.
func (s *Service) notifyRing(ctx context.Context, session *domain.CallSession) {
	if s.notifier == nil {
		return
	}

	callerName := s.displayName(ctx, session.CallerID)
	data := &push.CallNotificationData{
		SessionID:      session.ID,
		ConversationID: session.ConversationID,
		CallerID:       session.CallerID,
		CallerName:     callerName,
		CallType:       string(session.CallType),
		Timestamp:      session.CreatedAt.Unix(),
	}

	if err := s.notifier.SendIncomingCallNotification(ctx, data, session.CalleeID); err != nil {
		logger.Warn("failed to send incoming call notification",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}
}

// AcceptCall transitions a ringing session to active. Only the callee may
// accept.
func (s *Service) AcceptCall(ctx context.Context, sessionID, actorID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if actorID != session.CalleeID {
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeForbidden, "only the callee may accept", 403)
	}

	if err := s.registry.UpdateStatus(ctx, sessionID, domain.CallStatusActive, time.Now().UTC()); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeTransport, "failed to accept call", err)
	}

	metrics.RecordCallOutcome("accepted", time.Since(session.CreatedAt))

	return s.getSession(ctx, sessionID)
}

// DeclineCall transitions a ringing session to declined. Only the callee
// may decline.
func (s *Service) DeclineCall(ctx context.Context, sessionID, actorID uuid.UUID) error {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if actorID != session.CalleeID {
		return apperrors.NewWithStatus(apperrors.ErrCodeForbidden, "only the callee may decline", 403)
	}

	if err := s.registry.UpdateStatus(ctx, sessionID, domain.CallStatusDeclined, time.Now().UTC()); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeTransport, "failed to decline call", err)
	}

	metrics.RecordCallOutcome("declined", time.Since(session.CreatedAt))
	s.publishTerminal(ctx, sessionID)

	return nil
}

// EndCall transitions a session to ended. Either participant may end, from
// ringing (caller cancels) or active.
func (s *Service) EndCall(ctx context.Context, sessionID, actorID uuid.UUID) error {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if !session.HasParticipant(actorID) {
		return apperrors.NewWithStatus(apperrors.ErrCodeForbidden, "not a participant of this call", 403)
	}

	now := time.Now().UTC()
	if err := s.registry.UpdateStatus(ctx, sessionID, domain.CallStatusEnded, now); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeTransport, "failed to end call", err)
	}

	if session.StartedAt != nil {
		metrics.RecordCallDuration(string(session.CallType), now.Sub(*session.StartedAt))
	}
	metrics.RecordCallOutcome("ended", time.Since(session.CreatedAt))
	s.publishTerminal(ctx, sessionID)

	return nil
}

// MissCall transitions a ringing session to missed and notifies the callee.
// Produced by the ring sweeper; also accepted as an external policy write.
func (s *Service) MissCall(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := s.registry.UpdateStatus(ctx, sessionID, domain.CallStatusMissed, time.Now().UTC()); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeTransport, "failed to mark call missed", err)
	}

	metrics.RecordCallOutcome("missed", time.Since(session.CreatedAt))
	s.publishTerminal(ctx, sessionID)

	if s.notifier != nil {
		callerName := s.displayName(ctx, session.CallerID)
		if err := s.notifier.SendMissedCallNotification(ctx, session.ID, session.CallerID, callerName, session.CalleeID); err != nil {
			logger.Warn("failed to send missed call notification",
				zap.String("session_id", session.ID.String()),
				zap.Error(err))
		}
	}

	return nil
}

// GetCallStatus retrieves current session state. Participants only.
func (s *Service) GetCallStatus(ctx context.Context, sessionID, actorID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !session.HasParticipant(actorID) {
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeForbidden, "not a participant of this call", 403)
	}

	return session, nil
}

// HistoryEntry is one call in a user's history with the counterpart
// resolved.
type HistoryEntry struct {
	Session *domain.CallSession `json:"session"`
	Peer    *domain.DisplayInfo `json:"peer,omitempty"`
}

// GetUserCallHistory retrieves call history for a user, newest first.
func (s *Service) GetUserCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*HistoryEntry, int, error) {
	if limit == 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	sessions, err := s.history.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to list call history", err)
	}

	total, err := s.history.CountForUser(ctx, userID)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to count call history", err)
	}

	entries := make([]*HistoryEntry, 0, len(sessions))
	for _, session := range sessions {
		entry := &HistoryEntry{Session: session}
		if peerID, ok := session.OtherParty(userID); ok && s.directory != nil {
			if info, err := s.directory.GetDisplayInfo(ctx, peerID); err == nil {
				entry.Peer = info
			}
		}
		entries = append(entries, entry)
	}

	return entries, total, nil
}

// StartRingSweeper marks sessions missed once they ring past ringTimeout.
// Runs until ctx is canceled.
func (s *Service) StartRingSweeper(ctx context.Context, interval, ringTimeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepStaleRinging(ctx, ringTimeout)
			}
		}
	}()
}

func (s *Service) sweepStaleRinging(ctx context.Context, ringTimeout time.Duration) {
	stale, err := s.history.ListStaleRinging(ctx, time.Now().UTC().Add(-ringTimeout))
	if err != nil {
		logger.Warn("ring sweep query failed", zap.Error(err))
		return
	}

	for _, session := range stale {
		if err := s.MissCall(ctx, session.ID); err != nil {
			// Another instance or the callee may have raced us to a
			// terminal status; first writer wins.
			logger.Debug("ring sweep transition skipped",
				zap.String("session_id", session.ID.String()),
				zap.Error(err))
			continue
		}
		metrics.RecordRingTimeout()
	}
}

func (s *Service) getSession(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.registry.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.WrapWithStatus(apperrors.ErrCodeCallNotFound, fmt.Sprintf("call session %s not found", sessionID), 404, err)
	}
	return session, nil
}

// publishTerminal emits the terminal session event for downstream
// consumers. Best effort.
func (s *Service) publishTerminal(ctx context.Context, sessionID uuid.UUID) {
	if s.publisher == nil {
		return
	}

	session, err := s.registry.GetSession(ctx, sessionID)
	if err != nil {
		logger.Warn("failed to load session for event publish",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return
	}

	if err := s.publisher.PublishCallEnded(ctx, session); err != nil {
		logger.Warn("failed to publish call event",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
}

func (s *Service) displayName(ctx context.Context, userID uuid.UUID) string {
	if s.directory == nil {
		return ""
	}
	info, err := s.directory.GetDisplayInfo(ctx, userID)
	if err != nil {
		return ""
	}
	return info.DisplayName
}
