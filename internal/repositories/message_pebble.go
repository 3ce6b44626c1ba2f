package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"dm-service/internal/models"
)

// Key layout:
//
//	msg/<id>                                 message JSON
//	thread/<lo>/<hi>/<created>/<id>          both participants, kept until purge
//	inbox/<recipient>/<created>/<id>         removed on recipient delete
//	outbox/<sender>/<created>/<id>           removed on sender delete
//	unread/<recipient>/<sender>/<id>         removed on read or recipient delete
//
// Numbers are zero padded so lexical order equals numeric order.
const (
	msgPrefix    = "msg/"
	threadPrefix = "thread/"
	inboxPrefix  = "inbox/"
	outboxPrefix = "outbox/"
	unreadPrefix = "unread/"
)

type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// PebbleMessageRepo stores messages in an embedded pebble database.
// Writers are serialised by mu and every write is one committed batch.
type PebbleMessageRepo struct {
	db *pebble.DB
	mu sync.Mutex
}

// NewPebbleMessageRepo constructs PebbleMessageRepo over an open database.
func NewPebbleMessageRepo(db *pebble.DB) *PebbleMessageRepo {
	return &PebbleMessageRepo{db: db}
}

func pad(n int64) string {
	return fmt.Sprintf("%020d", n)
}

func messageKey(id string) []byte {
	return []byte(msgPrefix + id)
}

func threadPairPrefix(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return threadPrefix + pad(int64(a)) + "/" + pad(int64(b)) + "/"
}

func threadKey(m models.Message) []byte {
	return []byte(threadPairPrefix(m.SenderID, m.RecipientID) + pad(m.Created.UnixNano()) + "/" + m.ID)
}

func inboxKey(m models.Message) []byte {
	return []byte(inboxPrefix + pad(int64(m.RecipientID)) + "/" + pad(m.Created.UnixNano()) + "/" + m.ID)
}

func outboxKey(m models.Message) []byte {
	return []byte(outboxPrefix + pad(int64(m.SenderID)) + "/" + pad(m.Created.UnixNano()) + "/" + m.ID)
}

func unreadPairPrefix(recipientID, senderID int) string {
	return unreadPrefix + pad(int64(recipientID)) + "/" + pad(int64(senderID)) + "/"
}

func unreadKey(m models.Message) []byte {
	return []byte(unreadPairPrefix(m.RecipientID, m.SenderID) + m.ID)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// lastSegment returns the message id at the end of an index key.
func lastSegment(key []byte) string {
	if i := bytes.LastIndexByte(key, '/'); i >= 0 {
		return string(key[i+1:])
	}
	return string(key)
}

func scanIDs(r pebbleReader, prefix string, reverse bool) ([]string, error) {
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []string
	if reverse {
		for iter.Last(); iter.Valid(); iter.Prev() {
			ids = append(ids, lastSegment(iter.Key()))
		}
	} else {
		for iter.First(); iter.Valid(); iter.Next() {
			ids = append(ids, lastSegment(iter.Key()))
		}
	}
	return ids, iter.Error()
}

func getMessage(r pebbleReader, id string) (models.Message, error) {
	value, closer, err := r.Get(messageKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	defer closer.Close()

	var msg models.Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return models.Message{}, fmt.Errorf("decode message %s: %w", id, err)
	}
	return msg, nil
}

func putMessage(b *pebble.Batch, m models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.Set(messageKey(m.ID), data, nil)
}

// loadMessages resolves index ids against one consistent view. Ids whose
// message disappeared between index and record are skipped.
func loadMessages(r pebbleReader, ids []string, keep func(models.Message) bool) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := getMessage(r, id)
		if errors.Is(err, ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if keep(msg) {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// CreateMessage stores a new unread message with all of its index entries.
func (r *PebbleMessageRepo) CreateMessage(ctx context.Context, senderID, recipientID int, text string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	msg := models.Message{
		ID:          NewMessageID(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Text:        text,
		Created:     Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.db.NewBatch()
	defer b.Close()
	if err := putMessage(b, msg); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	for _, key := range [][]byte{threadKey(msg), inboxKey(msg), outboxKey(msg), unreadKey(msg)} {
		if err := b.Set(key, nil, nil); err != nil {
			return models.Message{}, fmt.Errorf("insert message: %w", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// GetMessage retrieves a single message.
func (r *PebbleMessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	return getMessage(r.db, messageID)
}

// ListThread returns the pair's messages visible to the viewer, oldest first.
func (r *PebbleMessageRepo) ListThread(ctx context.Context, viewerID, otherID int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := r.db.NewSnapshot()
	defer snap.Close()

	ids, err := scanIDs(snap, threadPairPrefix(viewerID, otherID), false)
	if err != nil {
		return nil, fmt.Errorf("list thread: %w", err)
	}
	return loadMessages(snap, ids, func(m models.Message) bool { return m.VisibleTo(viewerID) })
}

// ListContainer returns the viewer's inbox or outbox, newest first.
func (r *PebbleMessageRepo) ListContainer(ctx context.Context, viewerID int, container models.Container) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := inboxPrefix + pad(int64(viewerID)) + "/"
	keep := func(m models.Message) bool { return m.RecipientID == viewerID && !m.RecipientDeleted }
	if container == models.ContainerOutbox {
		prefix = outboxPrefix + pad(int64(viewerID)) + "/"
		keep = func(m models.Message) bool { return m.SenderID == viewerID && !m.SenderDeleted }
	}

	snap := r.db.NewSnapshot()
	defer snap.Close()

	ids, err := scanIDs(snap, prefix, true)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", container, err)
	}
	return loadMessages(snap, ids, keep)
}

// MarkThreadRead stamps readAt on the unread messages among ids that other
// sent to viewer. Unread messages outside ids keep their index entry.
func (r *PebbleMessageRepo) MarkThreadRead(ctx context.Context, viewerID, otherID int, ids []string, readAt time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []string{}, nil
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	candidates, err := scanIDs(r.db, unreadPairPrefix(viewerID, otherID), false)
	if err != nil {
		return nil, fmt.Errorf("mark thread read: %w", err)
	}

	b := r.db.NewBatch()
	defer b.Close()
	marked := []string{}
	for _, id := range candidates {
		if _, ok := wanted[id]; !ok {
			continue
		}
		msg, err := getMessage(r.db, id)
		if errors.Is(err, ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("mark thread read: %w", err)
		}
		if err := b.Delete(unreadKey(msg), nil); err != nil {
			return nil, fmt.Errorf("mark thread read: %w", err)
		}
		if msg.DateRead != nil || msg.RecipientDeleted {
			continue
		}
		at := readAt
		msg.DateRead = &at
		if err := putMessage(b, msg); err != nil {
			return nil, fmt.Errorf("mark thread read: %w", err)
		}
		marked = append(marked, msg.ID)
	}
	if b.Empty() {
		return marked, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("mark thread read: %w", err)
	}
	return marked, nil
}

// MarkDeleted sets the viewer's own tombstone flag.
func (r *PebbleMessageRepo) MarkDeleted(ctx context.Context, messageID string, viewerID int) (models.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := getMessage(r.db, messageID)
	if err != nil {
		return models.Message{}, false, err
	}
	if !msg.IsParticipant(viewerID) {
		return models.Message{}, false, ErrNotParticipant
	}
	if !msg.VisibleTo(viewerID) {
		return msg, false, nil
	}

	b := r.db.NewBatch()
	defer b.Close()
	if msg.SenderID == viewerID {
		msg.SenderDeleted = true
		if err := b.Delete(outboxKey(msg), nil); err != nil {
			return models.Message{}, false, fmt.Errorf("mark deleted: %w", err)
		}
	}
	if msg.RecipientID == viewerID {
		msg.RecipientDeleted = true
		if err := b.Delete(inboxKey(msg), nil); err != nil {
			return models.Message{}, false, fmt.Errorf("mark deleted: %w", err)
		}
		if err := b.Delete(unreadKey(msg), nil); err != nil {
			return models.Message{}, false, fmt.Errorf("mark deleted: %w", err)
		}
	}
	if err := putMessage(b, msg); err != nil {
		return models.Message{}, false, fmt.Errorf("mark deleted: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return models.Message{}, false, fmt.Errorf("mark deleted: %w", err)
	}
	return msg, true, nil
}

func deleteAllKeys(b *pebble.Batch, m models.Message) error {
	for _, key := range [][]byte{messageKey(m.ID), threadKey(m), inboxKey(m), outboxKey(m), unreadKey(m)} {
		if err := b.Delete(key, nil); err != nil {
			return err
		}
	}
	return nil
}

// PurgeFullyDeleted removes the pair's messages that both sides deleted,
// judged on the state read under the writer lock.
func (r *PebbleMessageRepo) PurgeFullyDeleted(ctx context.Context, userA, userB int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates, err := scanIDs(r.db, threadPairPrefix(userA, userB), false)
	if err != nil {
		return nil, fmt.Errorf("purge pair: %w", err)
	}
	doomed, err := loadMessages(r.db, candidates, models.Message.Purgeable)
	if err != nil {
		return nil, fmt.Errorf("purge pair: %w", err)
	}
	return r.deleteMessages(doomed)
}

// PurgeAllFullyDeleted sweeps every message record.
func (r *PebbleMessageRepo) PurgeAllFullyDeleted(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := scanIDs(r.db, msgPrefix, false)
	if err != nil {
		return 0, fmt.Errorf("purge sweep: %w", err)
	}
	doomed, err := loadMessages(r.db, ids, models.Message.Purgeable)
	if err != nil {
		return 0, fmt.Errorf("purge sweep: %w", err)
	}
	purged, err := r.deleteMessages(doomed)
	return len(purged), err
}

// deleteMessages must be called with mu held.
func (r *PebbleMessageRepo) deleteMessages(msgs []models.Message) ([]string, error) {
	ids := []string{}
	if len(msgs) == 0 {
		return ids, nil
	}
	b := r.db.NewBatch()
	defer b.Close()
	for _, m := range msgs {
		if err := deleteAllKeys(b, m); err != nil {
			return nil, fmt.Errorf("purge: %w", err)
		}
		ids = append(ids, m.ID)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("purge: %w", err)
	}
	return ids, nil
}

// CountUnread counts the unread index entries of a member.
func (r *PebbleMessageRepo) CountUnread(ctx context.Context, userID int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ids, err := scanIDs(r.db, unreadPrefix+pad(int64(userID))+"/", false)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return len(ids), nil
}
