package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"dm-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotParticipant  = errors.New("not a participant of the message")
)

// MessageRepository is the durable record of direct messages.
//
// Every mutating method is a single atomic write; callers never observe a
// partially applied batch.
type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID, recipientID int, text string) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	// ListThread returns the messages between viewer and other that are visible
	// to viewer, ascending by creation time.
	ListThread(ctx context.Context, viewerID, otherID int) ([]models.Message, error)
	// ListContainer returns the viewer's inbox or outbox, newest first.
	ListContainer(ctx context.Context, viewerID int, container models.Container) ([]models.Message, error)
	// MarkThreadRead stamps readAt on the messages among ids that other sent to
	// viewer and that are still unread. It returns the ids that transitioned.
	MarkThreadRead(ctx context.Context, viewerID, otherID int, ids []string, readAt time.Time) ([]string, error)
	// MarkDeleted sets the viewer's own tombstone flag and returns the row as
	// written. changed is false when the flag was already set.
	MarkDeleted(ctx context.Context, messageID string, viewerID int) (msg models.Message, changed bool, err error)
	// PurgeFullyDeleted removes the messages of one pair that both sides deleted.
	PurgeFullyDeleted(ctx context.Context, userA, userB int) ([]string, error)
	// PurgeAllFullyDeleted sweeps the whole store. Never called on a request path.
	PurgeAllFullyDeleted(ctx context.Context) (int, error)
	CountUnread(ctx context.Context, userID int) (int, error)
}

// NewMessageID returns a time-ordered unique id.
func NewMessageID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Now is the persistence timestamp: UTC at microsecond precision so it
// round-trips through TIMESTAMPTZ unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

const messageColumns = `id, sender_id, recipient_id, text, created, date_read, sender_deleted, recipient_deleted`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a new unread message.
func (r *MessageRepo) CreateMessage(ctx context.Context, senderID, recipientID int, text string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, sender_id, recipient_id, text, created)
        VALUES ($1, $2, $3, $4, $5) RETURNING `+messageColumns,
		NewMessageID(), senderID, recipientID, text, Now()).StructScan(&msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListThread returns ordered thread messages filtered per viewer visibility rules.
func (r *MessageRepo) ListThread(ctx context.Context, viewerID, otherID int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE (sender_id=$1 AND recipient_id=$2 AND sender_deleted = FALSE)
           OR (sender_id=$2 AND recipient_id=$1 AND recipient_deleted = FALSE)
        ORDER BY created ASC, id ASC`
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, viewerID, otherID); err != nil {
		return nil, fmt.Errorf("list thread: %w", err)
	}
	return msgs, nil
}

// ListContainer returns the inbox or outbox of the viewer.
func (r *MessageRepo) ListContainer(ctx context.Context, viewerID int, container models.Container) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE recipient_id=$1 AND recipient_deleted = FALSE ORDER BY created DESC, id DESC`
	if container == models.ContainerOutbox {
		query = `SELECT ` + messageColumns + ` FROM messages WHERE sender_id=$1 AND sender_deleted = FALSE ORDER BY created DESC, id DESC`
	}
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, viewerID); err != nil {
		return nil, fmt.Errorf("list %s: %w", container, err)
	}
	return msgs, nil
}

// MarkThreadRead marks the unread messages addressed to the viewer in one statement.
// Concurrent callers never both claim the same row: the row lock makes the
// second UPDATE re-check date_read IS NULL.
func (r *MessageRepo) MarkThreadRead(ctx context.Context, viewerID, otherID int, ids []string, readAt time.Time) ([]string, error) {
	marked := []string{}
	if len(ids) == 0 {
		return marked, nil
	}
	err := r.db.SelectContext(ctx, &marked, `UPDATE messages SET date_read = $3
        WHERE recipient_id=$1 AND sender_id=$2 AND id = ANY($4)
        AND date_read IS NULL AND recipient_deleted = FALSE
        RETURNING id`, viewerID, otherID, readAt, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("mark thread read: %w", err)
	}
	return marked, nil
}

// MarkDeleted flips only the flag that belongs to the viewer. The locked
// sub-select exposes the flags as they were before the update.
func (r *MessageRepo) MarkDeleted(ctx context.Context, messageID string, viewerID int) (models.Message, bool, error) {
	var row struct {
		models.Message
		Changed bool `db:"changed"`
	}
	err := r.db.GetContext(ctx, &row, `UPDATE messages m SET
            sender_deleted = m.sender_deleted OR m.sender_id = $2,
            recipient_deleted = m.recipient_deleted OR m.recipient_id = $2
        FROM (SELECT id, sender_deleted, recipient_deleted FROM messages WHERE id=$1 FOR UPDATE) prev
        WHERE m.id = prev.id AND (m.sender_id=$2 OR m.recipient_id=$2)
        RETURNING m.id, m.sender_id, m.recipient_id, m.text, m.created, m.date_read, m.sender_deleted, m.recipient_deleted,
            (m.sender_id=$2 AND NOT prev.sender_deleted) OR (m.recipient_id=$2 AND NOT prev.recipient_deleted) AS changed`,
		messageID, viewerID)
	if err == nil {
		return row.Message, row.Changed, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, fmt.Errorf("mark deleted: %w", err)
	}
	// Distinguish a stranger from a message that no longer exists.
	if _, getErr := r.GetMessage(ctx, messageID); getErr != nil {
		return models.Message{}, false, getErr
	}
	return models.Message{}, false, ErrNotParticipant
}

// PurgeFullyDeleted deletes the pair's messages whose flags are both set, as
// they are at statement time.
func (r *MessageRepo) PurgeFullyDeleted(ctx context.Context, userA, userB int) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, `DELETE FROM messages
        WHERE ((sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1))
        AND sender_deleted = TRUE AND recipient_deleted = TRUE
        RETURNING id`, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("purge pair: %w", err)
	}
	return ids, nil
}

// PurgeAllFullyDeleted removes every fully deleted message.
func (r *MessageRepo) PurgeAllFullyDeleted(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE sender_deleted = TRUE AND recipient_deleted = TRUE`)
	if err != nil {
		return 0, fmt.Errorf("purge sweep: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountUnread counts the unread inbox messages of a member.
func (r *MessageRepo) CountUnread(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE recipient_id=$1 AND date_read IS NULL AND recipient_deleted = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
