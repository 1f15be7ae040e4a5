// Package consult runs the symptom intake pipeline: AI triage, doctor
// matching over live presence, and conversation creation.
package consult

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/events"
	"careconnect-backend/internal/repository/postgres"
	"careconnect-backend/internal/triage"
	"careconnect-backend/pkg/constants"
	apperrors "careconnect-backend/pkg/errors"
	"careconnect-backend/pkg/logger"
	"careconnect-backend/pkg/sanitize"
)

// ConsultationStore persists consultations.
type ConsultationStore interface {
	Create(ctx context.Context, consultation *domain.Consultation) error
	GetByID(ctx context.Context, consultationID uuid.UUID) (*domain.Consultation, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Consultation, error)
	SetTriage(ctx context.Context, consultationID uuid.UUID, triageText, specialty string) error
	AssignDoctorTx(ctx context.Context, tx *postgres.Transaction, consultationID, doctorID, conversationID uuid.UUID) error
	LeastRecentlyMatched(ctx context.Context, candidates []uuid.UUID) (uuid.UUID, error)
	Close(ctx context.Context, consultationID uuid.UUID) error
}

// ConversationStore opens patient/doctor threads, transactionally when
// matching.
type ConversationStore interface {
	BeginTx(ctx context.Context) (*postgres.Transaction, error)
	CreateTx(ctx context.Context, tx *postgres.Transaction, conv *domain.Conversation) error
	FindByParticipants(ctx context.Context, patientID, doctorID uuid.UUID) (*domain.Conversation, error)
}

// Presence lists available doctors.
type Presence interface {
	OnlineDoctors(ctx context.Context, specialty string) ([]uuid.UUID, error)
}

// Directory resolves doctor display info.
type Directory interface {
	GetDisplayInfo(ctx context.Context, userID uuid.UUID) (*domain.DisplayInfo, error)
}

// Notifier tells the patient their consult is ready.
type Notifier interface {
	SendConsultReadyNotification(ctx context.Context, consultationID uuid.UUID, doctorName string, patientID uuid.UUID) error
}

// Service handles consultation business logic
type Service struct {
	consultations ConsultationStore
	conversations ConversationStore
	triage        triage.Client
	presence      Presence
	directory     Directory
	notifier      Notifier         // optional
	publisher     events.Publisher // optional
}

// NewService creates a new consult service. notifier and publisher may be
// nil.
func NewService(
	consultations ConsultationStore,
	conversations ConversationStore,
	triageClient triage.Client,
	presence Presence,
	directory Directory,
	notifier Notifier,
	publisher events.Publisher,
) *Service {
	return &Service{
		consultations: consultations,
		conversations: conversations,
		triage:        triageClient,
		presence:      presence,
		directory:     directory,
		notifier:      notifier,
		publisher:     publisher,
	}
}

// CreateConsultation runs the intake pipeline. The consultation row is the
// anchor: it survives in pending when triage is down and in triaged when no
// doctor is online, so each later stage can be retried without losing the
// patient's request.
func (s *Service) CreateConsultation(ctx context.Context, patientID uuid.UUID, symptoms string) (*domain.ConsultationResponse, error) {
	symptoms = sanitize.SanitizeText(symptoms)
	if len(symptoms) < 10 || len(symptoms) > constants.MaxSymptomsLength {
		return nil, apperrors.ValidationError("symptoms description length out of range")
	}

	consultation := &domain.Consultation{
		ConsultationID: uuid.New(),
		PatientID:      patientID,
		Symptoms:       symptoms,
		Status:         domain.ConsultationPending,
	}
	if err := s.consultations.Create(ctx, consultation); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to create consultation", err)
	}

	assessment, err := s.triage.Assess(ctx, symptoms)
	if err != nil {
		logger.Warn("triage unavailable, consultation left pending",
			zap.String("consultation_id", consultation.ConsultationID.String()),
			zap.Error(err))
		return s.toResponse(ctx, consultation), nil
	}

	if err := s.consultations.SetTriage(ctx, consultation.ConsultationID, assessment.Summary, assessment.Specialty); err != nil {
		return nil, err
	}
	consultation.TriageText = &assessment.Summary
	consultation.Specialty = &assessment.Specialty
	consultation.Status = domain.ConsultationTriaged

	if err := s.matchDoctor(ctx, consultation); err != nil {
		logger.Warn("doctor matching failed, consultation left triaged",
			zap.String("consultation_id", consultation.ConsultationID.String()),
			zap.Error(err))
	}

	return s.toResponse(ctx, consultation), nil
}

// matchDoctor assigns an online doctor and opens the conversation. Mutates
// consultation on success.
func (s *Service) matchDoctor(ctx context.Context, consultation *domain.Consultation) error {
	specialty := ""
	if consultation.Specialty != nil {
		specialty = *consultation.Specialty
	}

	candidates, err := s.presence.OnlineDoctors(ctx, specialty)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to list online doctors", err)
	}
	if len(candidates) == 0 {
		return apperrors.ServiceUnavailableError("no doctors available")
	}

	doctorID, err := s.consultations.LeastRecentlyMatched(ctx, candidates)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to pick doctor", err)
	}

	conversation, err := s.conversations.FindByParticipants(ctx, consultation.PatientID, doctorID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to find conversation", err)
	}

	tx, err := s.conversations.BeginTx(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if conversation == nil {
		conversation = &domain.Conversation{
			ConversationID: uuid.New(),
			PatientID:      consultation.PatientID,
			DoctorID:       doctorID,
			ConsultationID: &consultation.ConsultationID,
		}
		if err := s.conversations.CreateTx(ctx, tx, conversation); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to create conversation", err)
		}
	}

	if err := s.consultations.AssignDoctorTx(ctx, tx, consultation.ConsultationID, doctorID, conversation.ConversationID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to commit match", err)
	}

	consultation.DoctorID = &doctorID
	consultation.ConversationID = &conversation.ConversationID
	consultation.Status = domain.ConsultationMatched

	s.announceMatch(ctx, consultation)
	return nil
}

// announceMatch publishes the assignment and notifies the patient. Best
// effort.
func (s *Service) announceMatch(ctx context.Context, consultation *domain.Consultation) {
	if s.publisher != nil {
		if err := s.publisher.PublishConsultAssigned(ctx, consultation); err != nil {
			logger.Warn("failed to publish consult assignment",
				zap.String("consultation_id", consultation.ConsultationID.String()),
				zap.Error(err))
		}
	}

	if s.notifier == nil || consultation.DoctorID == nil {
		return
	}

	doctorName := "Your doctor"
	if info, err := s.directory.GetDisplayInfo(ctx, *consultation.DoctorID); err == nil && info != nil {
		doctorName = info.DisplayName
	}

	if err := s.notifier.SendConsultReadyNotification(ctx, consultation.ConsultationID, doctorName, consultation.PatientID); err != nil {
		logger.Warn("failed to send consult ready notification",
			zap.String("consultation_id", consultation.ConsultationID.String()),
			zap.Error(err))
	}
}

// GetConsultation retrieves a consultation. Only the patient or the
// assigned doctor may read it.
func (s *Service) GetConsultation(ctx context.Context, consultationID, requesterID uuid.UUID) (*domain.ConsultationResponse, error) {
	consultation, err := s.consultations.GetByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if !canAccess(consultation, requesterID) {
		return nil, apperrors.ForbiddenError("not a party to this consultation")
	}

	return s.toResponse(ctx, consultation), nil
}

// ListForUser returns the user's consultations, newest first.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ConsultationResponse, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	consultations, err := s.consultations.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to list consultations", err)
	}

	responses := make([]*domain.ConsultationResponse, len(consultations))
	for i, c := range consultations {
		responses[i] = s.toResponse(ctx, c)
	}
	return responses, nil
}

// CloseConsultation ends a consultation. Only the patient or the assigned
// doctor may close.
func (s *Service) CloseConsultation(ctx context.Context, consultationID, requesterID uuid.UUID) error {
	consultation, err := s.consultations.GetByID(ctx, consultationID)
	if err != nil {
		return err
	}
	if !canAccess(consultation, requesterID) {
		return apperrors.ForbiddenError("not a party to this consultation")
	}

	if err := s.consultations.Close(ctx, consultationID); err != nil {
		return err
	}
	consultation.Status = domain.ConsultationClosed

	if s.publisher != nil {
		if err := s.publisher.PublishConsultClosed(ctx, consultation); err != nil {
			logger.Warn("failed to publish consult close",
				zap.String("consultation_id", consultationID.String()),
				zap.Error(err))
		}
	}

	return nil
}

func canAccess(consultation *domain.Consultation, userID uuid.UUID) bool {
	if consultation.PatientID == userID {
		return true
	}
	return consultation.DoctorID != nil && *consultation.DoctorID == userID
}

func (s *Service) toResponse(ctx context.Context, consultation *domain.Consultation) *domain.ConsultationResponse {
	response := &domain.ConsultationResponse{
		ConsultationID: consultation.ConsultationID,
		Symptoms:       consultation.Symptoms,
		TriageText:     consultation.TriageText,
		ConversationID: consultation.ConversationID,
		Status:         consultation.Status,
		CreatedAt:      consultation.CreatedAt,
	}
	if consultation.DoctorID != nil {
		if info, err := s.directory.GetDisplayInfo(ctx, *consultation.DoctorID); err == nil {
			response.Doctor = info
		}
	}
	return response
}
