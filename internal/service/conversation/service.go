// Package conversation exposes patient/doctor threads with resolved
// participant identities.
package conversation

import (
	"context"

	"github.com/google/uuid"

	"careconnect-backend/internal/domain"
	"careconnect-backend/pkg/constants"
	apperrors "careconnect-backend/pkg/errors"
)

// Repository is the conversation persistence surface.
type Repository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	FindByParticipants(ctx context.Context, patientID, doctorID uuid.UUID) (*domain.Conversation, error)
	GetUserConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	Delete(ctx context.Context, conversationID uuid.UUID) error
}

// UserDirectory resolves participant display identities in bulk.
type UserDirectory interface {
	GetDisplayInfos(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.DisplayInfo, error)
}

// Service handles conversation business logic
type Service struct {
	repo  Repository
	users UserDirectory
}

// NewService creates a new conversation service
func NewService(repo Repository, users UserDirectory) *Service {
	return &Service{
		repo:  repo,
		users: users,
	}
}

// OpenConversation returns the thread between a patient and a doctor,
// creating it if the pair has never talked. Idempotent for a given pair.
func (s *Service) OpenConversation(ctx context.Context, patientID, doctorID uuid.UUID) (*domain.Conversation, error) {
	if patientID == doctorID {
		return nil, apperrors.ValidationError("patient and doctor must be different users")
	}

	existing, err := s.repo.FindByParticipants(ctx, patientID, doctorID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to find conversation", err)
	}
	if existing != nil {
		return existing, nil
	}

	conv := &domain.Conversation{
		ConversationID: uuid.New(),
		PatientID:      patientID,
		DoctorID:       doctorID,
	}
	if err := s.repo.Create(ctx, conv); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to create conversation", err)
	}

	return conv, nil
}

// GetConversation retrieves a conversation with resolved participants.
// Only participants may read it.
func (s *Service) GetConversation(ctx context.Context, conversationID, requesterID uuid.UUID) (*domain.ConversationResponse, error) {
	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(requesterID) {
		return nil, apperrors.ForbiddenError("not a participant of this conversation")
	}

	resolved, err := s.resolve(ctx, []*domain.Conversation{conv})
	if err != nil {
		return nil, err
	}
	return resolved[0], nil
}

// GetUserConversations retrieves the user's threads, most recently active
// first.
func (s *Service) GetUserConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ConversationResponse, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	conversations, err := s.repo.GetUserConversations(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to get conversations", err)
	}

	return s.resolve(ctx, conversations)
}

// DeleteConversation removes a thread. Only participants may delete.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, requesterID uuid.UUID) error {
	ok, err := s.repo.IsParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to check conversation membership", err)
	}
	if !ok {
		return apperrors.ForbiddenError("not a participant of this conversation")
	}

	return s.repo.Delete(ctx, conversationID)
}

// resolve attaches display identities to conversations with a single bulk
// directory lookup. Missing users degrade to a nil participant rather than
// failing the listing.
func (s *Service) resolve(ctx context.Context, conversations []*domain.Conversation) ([]*domain.ConversationResponse, error) {
	ids := make([]uuid.UUID, 0, len(conversations)*2)
	seen := make(map[uuid.UUID]struct{}, len(conversations)*2)
	for _, conv := range conversations {
		for _, id := range []uuid.UUID{conv.PatientID, conv.DoctorID} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	infos, err := s.users.GetDisplayInfos(ctx, ids)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to resolve participants", err)
	}

	responses := make([]*domain.ConversationResponse, len(conversations))
	for i, conv := range conversations {
		responses[i] = &domain.ConversationResponse{
			ConversationID: conv.ConversationID,
			Patient:        infos[conv.PatientID],
			Doctor:         infos[conv.DoctorID],
			ConsultationID: conv.ConsultationID,
			CreatedAt:      conv.CreatedAt,
			LastMessageAt:  conv.LastMessageAt,
		}
	}
	return responses, nil
}
