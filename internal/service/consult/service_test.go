package consult

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/repository/postgres"
	"careconnect-backend/internal/triage"
	apperrors "careconnect-backend/pkg/errors"
)

// Mocks
type MockConsultationStore struct {
	mock.Mock
}

func (m *MockConsultationStore) Create(ctx context.Context, consultation *domain.Consultation) error {
	args := m.Called(ctx, consultation)
	return args.Error(0)
}

func (m *MockConsultationStore) GetByID(ctx context.Context, consultationID uuid.UUID) (*domain.Consultation, error) {
	args := m.Called(ctx, consultationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Consultation), args.Error(1)
}

func (m *MockConsultationStore) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Consultation, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Consultation), args.Error(1)
}

func (m *MockConsultationStore) SetTriage(ctx context.Context, consultationID uuid.UUID, triageText, specialty string) error {
	args := m.Called(ctx, consultationID, triageText, specialty)
	return args.Error(0)
}

func (m *MockConsultationStore) AssignDoctorTx(ctx context.Context, tx *postgres.Transaction, consultationID, doctorID, conversationID uuid.UUID) error {
	args := m.Called(ctx, tx, consultationID, doctorID, conversationID)
	return args.Error(0)
}

func (m *MockConsultationStore) LeastRecentlyMatched(ctx context.Context, candidates []uuid.UUID) (uuid.UUID, error) {
	args := m.Called(ctx, candidates)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockConsultationStore) Close(ctx context.Context, consultationID uuid.UUID) error {
	args := m.Called(ctx, consultationID)
	return args.Error(0)
}

type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) BeginTx(ctx context.Context) (*postgres.Transaction, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*postgres.Transaction), args.Error(1)
}

func (m *MockConversationStore) CreateTx(ctx context.Context, tx *postgres.Transaction, conv *domain.Conversation) error {
	args := m.Called(ctx, tx, conv)
	return args.Error(0)
}

func (m *MockConversationStore) FindByParticipants(ctx context.Context, patientID, doctorID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, patientID, doctorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

type MockTriageClient struct {
	mock.Mock
}

func (m *MockTriageClient) Assess(ctx context.Context, symptoms string) (*triage.Assessment, error) {
	args := m.Called(ctx, symptoms)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*triage.Assessment), args.Error(1)
}

type MockPresence struct {
	mock.Mock
}

func (m *MockPresence) OnlineDoctors(ctx context.Context, specialty string) ([]uuid.UUID, error) {
	args := m.Called(ctx, specialty)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

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

func TestCreateConsultation_TriageDownLeavesPending(t *testing.T) {
	consultations := new(MockConsultationStore)
	conversations := new(MockConversationStore)
	triageClient := new(MockTriageClient)
	presence := new(MockPresence)
	directory := new(MockDirectory)

	service := NewService(consultations, conversations, triageClient, presence, directory, nil, nil)

	patientID := uuid.New()
	ctx := context.Background()

	// Expectations
	consultations.On("Create", ctx, mock.AnythingOfType("*domain.Consultation")).Return(nil)
	triageClient.On("Assess", ctx, mock.AnythingOfType("string")).Return(nil, assert.AnError)

	// Execute
	resp, err := service.CreateConsultation(ctx, patientID, "persistent headache and blurry vision for two days")

	// Assert: the intake row survives even though triage is down.
	assert.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, domain.ConsultationPending, resp.Status)
	consultations.AssertNotCalled(t, "SetTriage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateConsultation_NoDoctorsOnlineLeavesTriaged(t *testing.T) {
	consultations := new(MockConsultationStore)
	conversations := new(MockConversationStore)
	triageClient := new(MockTriageClient)
	presence := new(MockPresence)
	directory := new(MockDirectory)

	service := NewService(consultations, conversations, triageClient, presence, directory, nil, nil)

	patientID := uuid.New()
	ctx := context.Background()

	consultations.On("Create", ctx, mock.AnythingOfType("*domain.Consultation")).Return(nil)
	triageClient.On("Assess", ctx, mock.AnythingOfType("string")).Return(&triage.Assessment{
		Summary:   "Possible migraine, non-urgent",
		Specialty: "neurology",
	}, nil)
	consultations.On("SetTriage", ctx, mock.Anything, "Possible migraine, non-urgent", "neurology").Return(nil)
	presence.On("OnlineDoctors", ctx, "neurology").Return([]uuid.UUID{}, nil)

	resp, err := service.CreateConsultation(ctx, patientID, "persistent headache and blurry vision for two days")

	assert.NoError(t, err)
	assert.Equal(t, domain.ConsultationTriaged, resp.Status)
	assert.Nil(t, resp.Doctor)
	consultations.AssertNotCalled(t, "AssignDoctorTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateConsultation_SymptomsTooShort(t *testing.T) {
	consultations := new(MockConsultationStore)
	conversations := new(MockConversationStore)
	triageClient := new(MockTriageClient)
	presence := new(MockPresence)
	directory := new(MockDirectory)

	service := NewService(consultations, conversations, triageClient, presence, directory, nil, nil)

	resp, err := service.CreateConsultation(context.Background(), uuid.New(), "sick")

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	consultations.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestGetConsultation_AccessControl(t *testing.T) {
	consultations := new(MockConsultationStore)
	conversations := new(MockConversationStore)
	triageClient := new(MockTriageClient)
	presence := new(MockPresence)
	directory := new(MockDirectory)

	service := NewService(consultations, conversations, triageClient, presence, directory, nil, nil)

	consultationID := uuid.New()
	patientID := uuid.New()
	doctorID := uuid.New()
	ctx := context.Background()

	consultations.On("GetByID", ctx, consultationID).Return(&domain.Consultation{
		ConsultationID: consultationID,
		PatientID:      patientID,
		DoctorID:       &doctorID,
		Status:         domain.ConsultationMatched,
	}, nil)
	directory.On("GetDisplayInfo", ctx, doctorID).Return(&domain.DisplayInfo{UserID: doctorID, DisplayName: "Dr. Chen"}, nil)

	// The assigned doctor can read it.
	resp, err := service.GetConsultation(ctx, consultationID, doctorID)
	assert.NoError(t, err)
	assert.Equal(t, "Dr. Chen", resp.Doctor.DisplayName)

	// A stranger cannot.
	resp, err = service.GetConsultation(ctx, consultationID, uuid.New())
	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
}

func TestCloseConsultation(t *testing.T) {
	consultations := new(MockConsultationStore)
	conversations := new(MockConversationStore)
	triageClient := new(MockTriageClient)
	presence := new(MockPresence)
	directory := new(MockDirectory)

	service := NewService(consultations, conversations, triageClient, presence, directory, nil, nil)

	consultationID := uuid.New()
	patientID := uuid.New()
	ctx := context.Background()

	consultations.On("GetByID", ctx, consultationID).Return(&domain.Consultation{
		ConsultationID: consultationID,
		PatientID:      patientID,
		Status:         domain.ConsultationMatched,
	}, nil)
	consultations.On("Close", ctx, consultationID).Return(nil)

	err := service.CloseConsultation(ctx, consultationID, patientID)

	assert.NoError(t, err)
	consultations.AssertExpectations(t)
}
