package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"dm-service/internal/broker"
	"dm-service/internal/models"
	"dm-service/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, senderID, recipientID int, text string) (models.Message, error) {
	args := m.Called(ctx, senderID, recipientID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListThread(ctx context.Context, viewerID, otherID int) ([]models.Message, error) {
	args := m.Called(ctx, viewerID, otherID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) ListContainer(ctx context.Context, viewerID int, container models.Container) ([]models.Message, error) {
	args := m.Called(ctx, viewerID, container)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkThreadRead(ctx context.Context, viewerID, otherID int, ids []string, readAt time.Time) ([]string, error) {
	args := m.Called(ctx, viewerID, otherID, ids, readAt)
	var marked []string
	if val := args.Get(0); val != nil {
		marked = val.([]string)
	}
	return marked, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDeleted(ctx context.Context, messageID string, viewerID int) (models.Message, bool, error) {
	args := m.Called(ctx, messageID, viewerID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) PurgeFullyDeleted(ctx context.Context, userA, userB int) ([]string, error) {
	args := m.Called(ctx, userA, userB)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *MessageRepositoryMock) PurgeAllFullyDeleted(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, userID int) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type MemberDirectoryMock struct {
	mock.Mock
}

func (m *MemberDirectoryMock) BulkMembers(ctx context.Context, ids []int) (map[int]models.Member, error) {
	args := m.Called(ctx, ids)
	var members map[int]models.Member
	if val := args.Get(0); val != nil {
		members = val.(map[int]models.Member)
	}
	return members, args.Error(1)
}

// BrokerPublisherMock records envelopes handed to the broker.
type BrokerPublisherMock struct {
	mock.Mock
}

func (m *BrokerPublisherMock) Publish(ctx context.Context, env models.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

type MessageServiceMock struct {
	mock.Mock
}

func (m *MessageServiceMock) SendMessage(ctx context.Context, viewerID, recipientID int, text string) (models.MessageSummary, error) {
	args := m.Called(ctx, viewerID, recipientID, text)
	var msg models.MessageSummary
	if val := args.Get(0); val != nil {
		msg = val.(models.MessageSummary)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) OpenThread(ctx context.Context, viewerID, otherID int) (models.OpenedThread, error) {
	args := m.Called(ctx, viewerID, otherID)
	var thread models.OpenedThread
	if val := args.Get(0); val != nil {
		thread = val.(models.OpenedThread)
	}
	return thread, args.Error(1)
}

func (m *MessageServiceMock) ListContainer(ctx context.Context, viewerID int, container string) ([]models.MessageSummary, error) {
	args := m.Called(ctx, viewerID, container)
	var msgs []models.MessageSummary
	if val := args.Get(0); val != nil {
		msgs = val.([]models.MessageSummary)
	}
	return msgs, args.Error(1)
}

func (m *MessageServiceMock) DeleteMessage(ctx context.Context, viewerID int, messageID string) error {
	args := m.Called(ctx, viewerID, messageID)
	return args.Error(0)
}

func (m *MessageServiceMock) UnreadCount(ctx context.Context, viewerID int) (int, error) {
	args := m.Called(ctx, viewerID)
	return args.Int(0), args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.MemberDirectory = (*MemberDirectoryMock)(nil)
var _ broker.Publisher = (*BrokerPublisherMock)(nil)
