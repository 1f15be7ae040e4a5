package call

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"careconnect-backend/internal/domain"
	apperrors "careconnect-backend/pkg/errors"
	"careconnect-backend/pkg/push"
)

// MockRegistry is a mock implementation of SessionRegistry
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Create(ctx context.Context, session *domain.CallSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockRegistry) UpdateStatus(ctx context.Context, sessionID uuid.UUID, status domain.CallStatus, at time.Time) error {
	args := m.Called(ctx, sessionID, status, at)
	return args.Error(0)
}

func (m *MockRegistry) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

// MockHistory is a mock implementation of HistoryRepository
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallSession), args.Error(1)
}

func (m *MockHistory) CountForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockHistory) ActiveSessionForUser(ctx context.Context, userID uuid.UUID) (*domain.CallSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockHistory) ListStaleRinging(ctx context.Context, cutoff time.Time) ([]*domain.CallSession, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallSession), args.Error(1)
}

// MockDirectory is a mock implementation of Directory
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) GetDisplayInfo(ctx context.Context, userID uuid.UUID) (*domain.DisplayInfo, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DisplayInfo), args.Error(1)
}

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendIncomingCallNotification(ctx context.Context, data *push.CallNotificationData, calleeID uuid.UUID) error {
	args := m.Called(ctx, data, calleeID)
	return args.Error(0)
}

func (m *MockNotifier) SendMissedCallNotification(ctx context.Context, sessionID, callerID uuid.UUID, callerName string, calleeID uuid.UUID) error {
	args := m.Called(ctx, sessionID, callerID, callerName, calleeID)
	return args.Error(0)
}

func ringingSession(callerID, calleeID uuid.UUID) *domain.CallSession {
	return &domain.CallSession{
		ID:        uuid.New(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		CallType:  domain.CallTypeVideo,
		Status:    domain.CallStatusRinging,
		CreatedAt: time.Now().UTC(),
	}
}

// TestInitiateCall tests the happy path: free participants, ringing row,
// incoming-call push to the callee.
func TestInitiateCall(t *testing.T) {
	mockRegistry := new(MockRegistry)
	mockHistory := new(MockHistory)
	mockDirectory := new(MockDirectory)
	mockNotifier := new(MockNotifier)
	service := NewService(mockRegistry, mockHistory, mockDirectory, mockNotifier, nil)

	callerID := uuid.New()
	calleeID := uuid.New()

	// Setup expectations
	mockHistory.On("ActiveSessionForUser", mock.Anything, callerID).Return(nil, nil)
	mockHistory.On("ActiveSessionForUser", mock.Anything, calleeID).Return(nil, nil)
	mockRegistry.On("Create", mock.Anything, mock.AnythingOfType("*domain.CallSession")).Return(nil)
	mockDirectory.On("GetDisplayInfo", mock.Anything, callerID).
		Return(&domain.DisplayInfo{UserID: callerID, DisplayName: "Dr. Chen"}, nil)
	mockNotifier.On("SendIncomingCallNotification", mock.Anything, mock.AnythingOfType("*push.CallNotificationData"), calleeID).Return(nil)

	// Execute
	output, err := service.InitiateCall(context.Background(), &InitiateCallInput{
		CallerID: callerID,
		CalleeID: calleeID,
		CallType: domain.CallTypeVideo,
	})

	// Assert
	assert.NoError(t, err)
	assert.NotNil(t, output)
	assert.Equal(t, domain.CallStatusRinging, output.Status)
	assert.Equal(t, domain.CallTypeVideo, output.CallType)
	mockRegistry.AssertExpectations(t)
	mockNotifier.AssertExpectations(t)
}

// TestInitiateCall_CallerBusy tests that a caller with a live session
// cannot place a second call.
func TestInitiateCall_CallerBusy(t *testing.T) {
	mockRegistry := new(MockRegistry)
	mockHistory := new(MockHistory)
	service := NewService(mockRegistry, mockHistory, nil, nil, nil)

	callerID := uuid.New()
	calleeID := uuid.New()

	mockHistory.On("ActiveSessionForUser", mock.Anything, callerID).
		Return(ringingSession(callerID, uuid.New()), nil)

	output, err := service.InitiateCall(context.Background(), &InitiateCallInput{
		CallerID: callerID,
		CalleeID: calleeID,
		CallType: domain.CallTypeVoice,
	})

	assert.Error(t, err)
	assert.Nil(t, output)
	assert.Equal(t, apperrors.ErrCodeCallState, apperrors.GetAppError(err).Code)
	mockRegistry.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// TestInitiateCall_SelfCall rejects calling yourself.
func TestInitiateCall_SelfCall(t *testing.T) {
	service := NewService(new(MockRegistry), new(MockHistory), nil, nil, nil)

	userID := uuid.New()
	output, err := service.InitiateCall(context.Background(), &InitiateCallInput{
		CallerID: userID,
		CalleeID: userID,
		CallType: domain.CallTypeVideo,
	})

	assert.Error(t, err)
	assert.Nil(t, output)
}

// TestInitiateCall_PushFailureDoesNotAbort tests that a failed push leaves
// the created session in place.
func TestInitiateCall_PushFailureDoesNotAbort(t *testing.T) {
	mockRegistry := new(MockRegistry)
	mockHistory := new(MockHistory)
	mockDirectory := new(MockDirectory)
	mockNotifier := new(MockNotifier)
	service := NewService(mockRegistry, mockHistory, mockDirectory, mockNotifier, nil)

	callerID := uuid.New()
	calleeID := uuid.New()

	mockHistory.On("ActiveSessionForUser", mock.Anything, mock.Anything).Return(nil, nil)
	mockRegistry.On("Create", mock.Anything, mock.Anything).Return(nil)
	mockDirectory.On("GetDisplayInfo", mock.Anything, callerID).
		Return(&domain.DisplayInfo{UserID: callerID, DisplayName: "Dr. Chen"}, nil)
	mockNotifier.On("SendIncomingCallNotification", mock.Anything, mock.Anything, calleeID).
		Return(assert.AnError)

	output, err := service.InitiateCall(context.Background(), &InitiateCallInput{
		CallerID: callerID,
		CalleeID: calleeID,
		CallType: domain.CallTypeVideo,
	})

	assert.NoError(t, err)
	assert.NotNil(t, output)
}

// TestAcceptCall tests the callee accepting a ringing session.
func TestAcceptCall(t *testing.T) {
	mockRegistry := new(MockRegistry)
	mockHistory := new(MockHistory)
	service := NewService(mockRegistry, mockHistory, nil, nil, nil)

	callerID := uuid.New()
	calleeID := uuid.New()
	session := ringingSession(callerID, calleeID)

	started := time.Now().UTC()
	active := *session
	active.Status = domain.CallStatusActive
	active.StartedAt = &started

	mockRegistry.On("GetSession", mock.Anything, session.ID).Return(session, nil).Once()
	mockRegistry.On("UpdateStatus", mock.Anything, session.ID, domain.CallStatusActive, mock.AnythingOfType("time.Time")).Return(nil)
	mockRegistry.On("GetSession", mock.Anything, session.ID).Return(&active, nil).Once()

	result, err := service.AcceptCall(context.Background(), session.ID, calleeID)

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, result.Status)
	assert.NotNil(t, result.StartedAt)
	mockRegistry.AssertExpectations(t)
}

// TestAcceptCall_WrongActor tests that the caller cannot accept their own
// call.
func TestAcceptCall_WrongActor(t *testing.T) {
	mockRegistry := new(MockRegistry)
	service := NewService(mockRegistry, new(MockHistory), nil, nil, nil)

	callerID := uuid.New()
	session := ringingSession(callerID, uuid.New())

	mockRegistry.On("GetSession", mock.Anything, session.ID).Return(session, nil)

	_, err := service.AcceptCall(context.Background(), session.ID, callerID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetAppError(err).Code)
	mockRegistry.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestDeclineCall tests the callee declining.
func TestDeclineCall(t *testing.T) {
	mockRegistry := new(MockRegistry)
	service := NewService(mockRegistry, new(MockHistory), nil, nil, nil)

	callerID := uuid.New()
	calleeID := uuid.New()
	session := ringingSession(callerID, calleeID)

	mockRegistry.On("GetSession", mock.Anything, session.ID).Return(session, nil)
	mockRegistry.On("UpdateStatus", mock.Anything, session.ID, domain.CallStatusDeclined, mock.AnythingOfType("time.Time")).Return(nil)

	err := service.DeclineCall(context.Background(), session.ID, calleeID)

	assert.NoError(t, err)
	mockRegistry.AssertExpectations(t)
}

// TestEndCall_NonParticipant tests that a third user cannot end a call.
func TestEndCall_NonParticipant(t *testing.T) {
	mockRegistry := new(MockRegistry)
	service := NewService(mockRegistry, new(MockHistory), nil, nil, nil)

	session := ringingSession(uuid.New(), uuid.New())
	mockRegistry.On("GetSession", mock.Anything, session.ID).Return(session, nil)

	err := service.EndCall(context.Background(), session.ID, uuid.New())

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetAppError(err).Code)
}

// TestMissCall tests the sweeper path: missed status plus a missed-call
// push to the callee.
func TestMissCall(t *testing.T) {
	mockRegistry := new(MockRegistry)
	mockDirectory := new(MockDirectory)
	mockNotifier := new(MockNotifier)
	service := NewService(mockRegistry, new(MockHistory), mockDirectory, mockNotifier, nil)

	callerID := uuid.New()
	calleeID := uuid.New()
	session := ringingSession(callerID, calleeID)

	mockRegistry.On("GetSession", mock.Anything, session.ID).Return(session, nil)
	mockRegistry.On("UpdateStatus", mock.Anything, session.ID, domain.CallStatusMissed, mock.AnythingOfType("time.Time")).Return(nil)
	mockDirectory.On("GetDisplayInfo", mock.Anything, callerID).
		Return(&domain.DisplayInfo{UserID: callerID, DisplayName: "Dr. Chen"}, nil)
	mockNotifier.On("SendMissedCallNotification", mock.Anything, session.ID, callerID, "Dr. Chen", calleeID).Return(nil)

	err := service.MissCall(context.Background(), session.ID)

	assert.NoError(t, err)
	mockNotifier.AssertExpectations(t)
}

// TestGetUserCallHistory tests pagination defaults and peer resolution.
func TestGetUserCallHistory(t *testing.T) {
	mockRegistry := new(MockRegistry)
	mockHistory := new(MockHistory)
	mockDirectory := new(MockDirectory)
	service := NewService(mockRegistry, mockHistory, mockDirectory, nil, nil)

	userID := uuid.New()
	peerID := uuid.New()
	sessions := []*domain.CallSession{ringingSession(userID, peerID)}

	mockHistory.On("ListForUser", mock.Anything, userID, 20, 0).Return(sessions, nil)
	mockHistory.On("CountForUser", mock.Anything, userID).Return(1, nil)
	mockDirectory.On("GetDisplayInfo", mock.Anything, peerID).
		Return(&domain.DisplayInfo{UserID: peerID, DisplayName: "Sam Okafor"}, nil)

	entries, total, err := service.GetUserCallHistory(context.Background(), userID, 0, 0)

	assert.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, entries, 1)
	assert.Equal(t, "Sam Okafor", entries[0].Peer.DisplayName)
}
