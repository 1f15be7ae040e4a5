package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"careconnect-backend/internal/domain"
	apperrors "careconnect-backend/pkg/errors"
)

// Mocks
type MockAttachmentStore struct {
	mock.Mock
}

func (m *MockAttachmentStore) Create(ctx context.Context, att *domain.Attachment) error {
	args := m.Called(ctx, att)
	return args.Error(0)
}

func (m *MockAttachmentStore) GetByID(ctx context.Context, attachmentID uuid.UUID) (*domain.Attachment, error) {
	args := m.Called(ctx, attachmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Attachment), args.Error(1)
}

func (m *MockAttachmentStore) UpdateStatus(ctx context.Context, attachmentID uuid.UUID, status string) error {
	args := m.Called(ctx, attachmentID, status)
	return args.Error(0)
}

func (m *MockAttachmentStore) ListForConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.Attachment, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Attachment), args.Error(1)
}

type MockMembership struct {
	mock.Mock
}

func (m *MockMembership) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

type MockObjects struct {
	mock.Mock
}

func (m *MockObjects) PresignedUpload(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectKey, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockObjects) PresignedDownload(ctx context.Context, objectKey, fileName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectKey, fileName, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockObjects) StatObject(ctx context.Context, objectKey string) (int64, error) {
	args := m.Called(ctx, objectKey)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockObjects) Remove(ctx context.Context, objectKey string) error {
	args := m.Called(ctx, objectKey)
	return args.Error(0)
}

func TestRequestUpload(t *testing.T) {
	attachments := new(MockAttachmentStore)
	membership := new(MockMembership)
	objects := new(MockObjects)
	service := NewService(attachments, membership, objects)

	conversationID := uuid.New()
	uploaderID := uuid.New()
	ctx := context.Background()

	// Expectations
	membership.On("IsParticipant", ctx, conversationID, uploaderID).Return(true, nil)
	objects.On("PresignedUpload", ctx, mock.AnythingOfType("string"), mock.AnythingOfType("time.Duration")).
		Return("https://minio.local/presigned-put", nil)
	attachments.On("Create", ctx, mock.MatchedBy(func(att *domain.Attachment) bool {
		return att.Status == "uploading" && att.UploaderID == uploaderID
	})).Return(nil)

	// Execute
	resp, err := service.RequestUpload(ctx, uploaderID, &domain.AttachmentUploadRequest{
		ConversationID: conversationID,
		FileName:       "lab-results.pdf",
		FileSize:       1024,
		ContentType:    "application/pdf",
	})

	// Assert
	assert.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, "https://minio.local/presigned-put", resp.UploadURL)
	assert.NotEqual(t, uuid.Nil, resp.AttachmentID)

	attachments.AssertExpectations(t)
	objects.AssertExpectations(t)
}

func TestRequestUpload_ContentTypeRejected(t *testing.T) {
	attachments := new(MockAttachmentStore)
	membership := new(MockMembership)
	objects := new(MockObjects)
	service := NewService(attachments, membership, objects)

	resp, err := service.RequestUpload(context.Background(), uuid.New(), &domain.AttachmentUploadRequest{
		ConversationID: uuid.New(),
		FileName:       "payload.exe",
		FileSize:       1024,
		ContentType:    "application/octet-stream",
	})

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	membership.AssertNotCalled(t, "IsParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestUpload_NotParticipant(t *testing.T) {
	attachments := new(MockAttachmentStore)
	membership := new(MockMembership)
	objects := new(MockObjects)
	service := NewService(attachments, membership, objects)

	conversationID := uuid.New()
	ctx := context.Background()

	membership.On("IsParticipant", ctx, conversationID, mock.Anything).Return(false, nil)

	resp, err := service.RequestUpload(ctx, uuid.New(), &domain.AttachmentUploadRequest{
		ConversationID: conversationID,
		FileName:       "photo.png",
		FileSize:       2048,
		ContentType:    "image/png",
	})

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
	objects.AssertNotCalled(t, "PresignedUpload", mock.Anything, mock.Anything, mock.Anything)
}

func TestCompleteUpload(t *testing.T) {
	attachments := new(MockAttachmentStore)
	membership := new(MockMembership)
	objects := new(MockObjects)
	service := NewService(attachments, membership, objects)

	attachmentID := uuid.New()
	uploaderID := uuid.New()
	ctx := context.Background()

	attachments.On("GetByID", ctx, attachmentID).Return(&domain.Attachment{
		AttachmentID: attachmentID,
		UploaderID:   uploaderID,
		ObjectKey:    "conversations/x/y",
		FileSize:     1024,
		Status:       "uploading",
	}, nil)
	objects.On("StatObject", ctx, "conversations/x/y").Return(int64(1024), nil)
	attachments.On("UpdateStatus", ctx, attachmentID, "completed").Return(nil)

	err := service.CompleteUpload(ctx, attachmentID, uploaderID)

	assert.NoError(t, err)
	attachments.AssertExpectations(t)
}

func TestCompleteUpload_SizeMismatch(t *testing.T) {
	attachments := new(MockAttachmentStore)
	membership := new(MockMembership)
	objects := new(MockObjects)
	service := NewService(attachments, membership, objects)

	attachmentID := uuid.New()
	uploaderID := uuid.New()
	ctx := context.Background()

	attachments.On("GetByID", ctx, attachmentID).Return(&domain.Attachment{
		AttachmentID: attachmentID,
		UploaderID:   uploaderID,
		ObjectKey:    "conversations/x/y",
		FileSize:     1024,
		Status:       "uploading",
	}, nil)
	objects.On("StatObject", ctx, "conversations/x/y").Return(int64(999999), nil)

	err := service.CompleteUpload(ctx, attachmentID, uploaderID)

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	attachments.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetDownloadURL_NonParticipant(t *testing.T) {
	attachments := new(MockAttachmentStore)
	membership := new(MockMembership)
	objects := new(MockObjects)
	service := NewService(attachments, membership, objects)

	attachmentID := uuid.New()
	conversationID := uuid.New()
	ctx := context.Background()

	attachments.On("GetByID", ctx, attachmentID).Return(&domain.Attachment{
		AttachmentID:   attachmentID,
		ConversationID: conversationID,
		Status:         "completed",
	}, nil)
	membership.On("IsParticipant", ctx, conversationID, mock.Anything).Return(false, nil)

	resp, err := service.GetDownloadURL(ctx, attachmentID, uuid.New())

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
}

func TestDeleteAttachment_OnlyUploader(t *testing.T) {
	attachments := new(MockAttachmentStore)
	membership := new(MockMembership)
	objects := new(MockObjects)
	service := NewService(attachments, membership, objects)

	attachmentID := uuid.New()
	ctx := context.Background()

	attachments.On("GetByID", ctx, attachmentID).Return(&domain.Attachment{
		AttachmentID: attachmentID,
		UploaderID:   uuid.New(),
		ObjectKey:    "conversations/x/y",
		Status:       "completed",
	}, nil)

	err := service.DeleteAttachment(ctx, attachmentID, uuid.New())

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
	objects.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
}
