package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

// MemberDirectory resolves display data for member ids. Unknown ids are
// simply absent from the result.
type MemberDirectory interface {
	BulkMembers(ctx context.Context, ids []int) (map[int]models.Member, error)
}

// MemberRepo reads the members table.
type MemberRepo struct {
	db *sqlx.DB
}

// NewMemberRepo constructs MemberRepo.
func NewMemberRepo(db *sqlx.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

// BulkMembers loads the given members in one query.
func (r *MemberRepo) BulkMembers(ctx context.Context, ids []int) (map[int]models.Member, error) {
	out := make(map[int]models.Member, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT user_id, first_name, last_name, image FROM members WHERE user_id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var members []models.Member
	if err := r.db.SelectContext(ctx, &members, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("bulk members: %w", err)
	}
	for _, m := range members {
		out[m.UserID] = m
	}
	return out, nil
}

const memberPrefix = "member/"

func memberKey(id int) []byte {
	return []byte(memberPrefix + pad(int64(id)))
}

// PebbleMemberRepo keeps the directory next to the embedded message store.
type PebbleMemberRepo struct {
	db *pebble.DB
}

// NewPebbleMemberRepo constructs PebbleMemberRepo.
func NewPebbleMemberRepo(db *pebble.DB) *PebbleMemberRepo {
	return &PebbleMemberRepo{db: db}
}

// PutMember inserts or replaces a directory entry.
func (r *PebbleMemberRepo) PutMember(_ context.Context, m models.Member) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := r.db.Set(memberKey(m.UserID), data, pebble.Sync); err != nil {
		return fmt.Errorf("put member: %w", err)
	}
	return nil
}

// BulkMembers loads the given members from one snapshot.
func (r *PebbleMemberRepo) BulkMembers(ctx context.Context, ids []int) (map[int]models.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[int]models.Member, len(ids))
	snap := r.db.NewSnapshot()
	defer snap.Close()

	for _, id := range ids {
		if _, seen := out[id]; seen {
			continue
		}
		value, closer, err := snap.Get(memberKey(id))
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("bulk members: %w", err)
		}
		var m models.Member
		err = json.Unmarshal(value, &m)
		closer.Close()
		if err != nil {
			return nil, fmt.Errorf("decode member %d: %w", id, err)
		}
		out[id] = m
	}
	return out, nil
}
