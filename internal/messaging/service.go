package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"dm-service/internal/events"
	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

var tracer = otel.Tracer("dm-service/messaging")

// Options tune the service.
type Options struct {
	SendRPS   float64
	SendBurst int
}

// Service implements the direct-message operations for an authenticated viewer.
//
// Every operation persists first and publishes afterwards. Publishing is
// best-effort: a failed publish is logged and never rolls back the write.
type Service struct {
	messages repositories.MessageRepository
	members  repositories.MemberDirectory
	events   *events.Distributor
	audit    *telemetry.AuditEmitter
	limiter  *limiterPool
	log      *zap.Logger
	now      func() time.Time
}

// NewService wires the service. members and audit may be nil.
func NewService(messages repositories.MessageRepository, members repositories.MemberDirectory, dist *events.Distributor, audit *telemetry.AuditEmitter, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		messages: messages,
		members:  members,
		events:   dist,
		audit:    audit,
		limiter:  newLimiterPool(opts.SendRPS, opts.SendBurst),
		log:      log,
		now:      repositories.Now,
	}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func checkViewer(viewerID int) error {
	if viewerID <= 0 {
		return ErrUnauthenticated
	}
	return nil
}

func checkCounterpart(viewerID, otherID int) error {
	if otherID <= 0 {
		return validationError("user id must be positive")
	}
	if otherID == viewerID {
		return validationError("cannot message yourself")
	}
	return nil
}

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return validationError("text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextRunes {
		return validationError("text exceeds %d characters", MaxTextRunes)
	}
	return nil
}

func startSpan(ctx context.Context, name string, viewerID int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.Int("dm.viewer_id", viewerID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SendMessage stores a message from viewer to recipient and announces it.
func (s *Service) SendMessage(ctx context.Context, viewerID, recipientID int, text string) (summary models.MessageSummary, err error) {
	ctx, span := startSpan(ctx, "messaging.SendMessage", viewerID)
	defer func() { endSpan(span, err) }()

	if err := checkViewer(viewerID); err != nil {
		return models.MessageSummary{}, err
	}
	if err := checkCounterpart(viewerID, recipientID); err != nil {
		return models.MessageSummary{}, err
	}
	if err := validateText(text); err != nil {
		return models.MessageSummary{}, err
	}
	if !s.limiter.Allow(viewerID) {
		return models.MessageSummary{}, ErrRateLimited
	}

	msg, err := s.messages.CreateMessage(ctx, viewerID, recipientID, text)
	if err != nil {
		return models.MessageSummary{}, err
	}
	observability.IncMessageSent()
	span.SetAttributes(attribute.String("dm.message_id", msg.ID))

	summary = s.summarize(ctx, []models.Message{msg})[0]
	_ = s.events.MessageNew(ctx, summary)
	_ = s.events.UnreadDelta(ctx, recipientID, 1)
	return summary, nil
}

// OpenThread returns the viewer's side of the thread with other and marks
// everything other sent to the viewer as read.
func (s *Service) OpenThread(ctx context.Context, viewerID, otherID int) (thread models.OpenedThread, err error) {
	ctx, span := startSpan(ctx, "messaging.OpenThread", viewerID)
	defer func() { endSpan(span, err) }()

	if err := checkViewer(viewerID); err != nil {
		return models.OpenedThread{}, err
	}
	if err := checkCounterpart(viewerID, otherID); err != nil {
		return models.OpenedThread{}, err
	}

	msgs, err := s.messages.ListThread(ctx, viewerID, otherID)
	if err != nil {
		return models.OpenedThread{}, err
	}

	// Only messages the viewer is about to receive can become read.
	var unread []string
	for _, m := range msgs {
		if m.SenderID == otherID && m.RecipientID == viewerID && m.DateRead == nil {
			unread = append(unread, m.ID)
		}
	}

	readAt := s.now()
	var marked []string
	if len(unread) > 0 {
		marked, err = s.messages.MarkThreadRead(ctx, viewerID, otherID, unread, readAt)
		if err != nil {
			return models.OpenedThread{}, err
		}
	}

	if len(marked) > 0 {
		transitioned := make(map[string]struct{}, len(marked))
		for _, id := range marked {
			transitioned[id] = struct{}{}
		}
		for i := range msgs {
			if _, ok := transitioned[msgs[i].ID]; ok {
				at := readAt
				msgs[i].DateRead = &at
			}
		}
		observability.AddMessagesRead(len(marked))
		_ = s.events.MessagesRead(ctx, viewerID, otherID, marked, readAt)
		_ = s.events.UnreadDelta(ctx, viewerID, -len(marked))
	}
	span.SetAttributes(attribute.Int("dm.marked_read", len(marked)))

	return models.OpenedThread{
		Messages:    s.summarize(ctx, msgs),
		UnreadDelta: -len(marked),
	}, nil
}

// ListContainer returns the viewer's inbox or outbox, newest first.
func (s *Service) ListContainer(ctx context.Context, viewerID int, container string) (list []models.MessageSummary, err error) {
	ctx, span := startSpan(ctx, "messaging.ListContainer", viewerID)
	defer func() { endSpan(span, err) }()

	if err := checkViewer(viewerID); err != nil {
		return nil, err
	}
	c, ok := models.ParseContainer(container)
	if !ok {
		return nil, validationError("unknown container %q", container)
	}

	msgs, err := s.messages.ListContainer(ctx, viewerID, c)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, msgs), nil
}

// DeleteMessage hides a message from the viewer only. Once both participants
// have deleted it the message is purged.
func (s *Service) DeleteMessage(ctx context.Context, viewerID int, messageID string) (err error) {
	ctx, span := startSpan(ctx, "messaging.DeleteMessage", viewerID)
	defer func() { endSpan(span, err) }()

	if err := checkViewer(viewerID); err != nil {
		return err
	}
	if _, err := uuid.Parse(messageID); err != nil {
		return ErrNotFound
	}
	span.SetAttributes(attribute.String("dm.message_id", messageID))

	msg, changed, err := s.messages.MarkDeleted(ctx, messageID, viewerID)
	if err != nil {
		return err
	}
	if changed {
		s.audit.MessageDeleted(ctx, viewerID, messageID)
		if msg.RecipientID == viewerID && msg.DateRead == nil {
			_ = s.events.UnreadDelta(ctx, viewerID, -1)
		}
	}

	// The delete is committed; a failed purge is left to the janitor sweep.
	purged, err := s.messages.PurgeFullyDeleted(ctx, msg.SenderID, msg.RecipientID)
	if err != nil {
		s.log.Warn("purge after delete failed", zap.String("message_id", messageID), zap.Error(err))
		return nil
	}
	if len(purged) > 0 {
		observability.AddMessagesPurged("delete", len(purged))
		s.audit.MessagesPurged(ctx, viewerID, purged)
	}
	return nil
}

// UnreadCount seeds a client's badge.
func (s *Service) UnreadCount(ctx context.Context, viewerID int) (int, error) {
	if err := checkViewer(viewerID); err != nil {
		return 0, err
	}
	return s.messages.CountUnread(ctx, viewerID)
}

// summarize resolves participant details. A directory failure degrades to
// id-only summaries.
func (s *Service) summarize(ctx context.Context, msgs []models.Message) []models.MessageSummary {
	out := make([]models.MessageSummary, 0, len(msgs))
	var members map[int]models.Member
	if s.members != nil && len(msgs) > 0 {
		seen := make(map[int]struct{})
		ids := make([]int, 0, 2)
		for _, m := range msgs {
			for _, id := range []int{m.SenderID, m.RecipientID} {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
		var err error
		members, err = s.members.BulkMembers(ctx, ids)
		if err != nil {
			s.log.Warn("member lookup failed", zap.Ints("user_ids", ids), zap.Error(err))
		}
	}
	for _, m := range msgs {
		out = append(out, models.Summarize(m, members))
	}
	return out
}
