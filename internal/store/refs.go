package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sundial-labs/memoria/internal/types"
)

// RefStore is row storage for named references.
type RefStore struct {
	q Querier
}

// NewRefStore binds a ref store to a connection or transaction.
func NewRefStore(q Querier) *RefStore {
	return &RefStore{q: q}
}

const refColumns = `id, name, content, channel_id, metadata, created_at, updated_at`

// Create inserts a ref with both timestamps set to now and returns the
// stored record.
func (s *RefStore) Create(ctx context.Context, r *types.Ref) (*types.Ref, error) {
	now := time.Now().UTC()
	stored := *r
	stored.CreatedAt = now
	stored.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO refs (id, name, content, channel_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.Name, stored.Content, nullableString(stored.ChannelID),
		metadataArg(stored.Metadata), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ref: %w", err)
	}
	return &stored, nil
}

// FindByID returns the ref or nil when absent.
func (s *RefStore) FindByID(ctx context.Context, id string) (*types.Ref, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+refColumns+` FROM refs WHERE id = ?`, id)
	return scanRef(row)
}

// FindByName returns the most recently updated ref with that name, or nil.
// The schema does not enforce name uniqueness; callers are expected to keep
// names unique.
func (s *RefStore) FindByName(ctx context.Context, name string) (*types.Ref, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+refColumns+` FROM refs WHERE name = ?
		ORDER BY updated_at DESC LIMIT 1
	`, name)
	return scanRef(row)
}

// Update merges the partial update into the stored row. Returns nil when no
// such ref exists.
func (s *RefStore) Update(ctx context.Context, id string, upd types.RefUpdate) (*types.Ref, error) {
	cur, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, nil
	}

	if upd.Name != nil {
		cur.Name = *upd.Name
	}
	if upd.Content != nil {
		cur.Content = *upd.Content
	}
	if upd.ChannelID != nil {
		cur.ChannelID = *upd.ChannelID
	}
	if upd.Metadata != nil {
		cur.Metadata = upd.Metadata
	}

	cur.UpdatedAt = time.Now().UTC()

	_, err = s.q.ExecContext(ctx, `
		UPDATE refs SET name = ?, content = ?, channel_id = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, cur.Name, cur.Content, nullableString(cur.ChannelID), metadataArg(cur.Metadata), cur.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update ref %s: %w", id, err)
	}
	return cur, nil
}

// Delete reports whether a row was removed.
func (s *RefStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM refs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete ref %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List pages refs by recency of update.
func (s *RefStore) List(ctx context.Context, opts types.ListOptions) ([]*types.Ref, error) {
	limit, offset := normalizeList(opts.Limit, opts.Offset)
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+refColumns+` FROM refs
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list refs: %w", err)
	}
	defer rows.Close()
	return scanRefRows(rows)
}

// Count returns the total number of refs.
func (s *RefStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM refs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count refs: %w", err)
	}
	return n, nil
}

// FindByChannelID pages refs scoped to one channel.
func (s *RefStore) FindByChannelID(ctx context.Context, channelID string, opts types.ListOptions) ([]*types.Ref, error) {
	limit, offset := normalizeList(opts.Limit, opts.Offset)
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+refColumns+` FROM refs WHERE channel_id = ?
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, channelID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find refs by channel: %w", err)
	}
	defer rows.Close()
	return scanRefRows(rows)
}

func scanRef(row *sql.Row) (*types.Ref, error) {
	var r types.Ref
	var channelID, metadata sql.NullString
	err := row.Scan(&r.ID, &r.Name, &r.Content, &channelID, &metadata, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ref: %w", err)
	}
	r.ChannelID = channelID.String
	r.Metadata = metadataFromColumn(metadata)
	return &r, nil
}

func scanRefRows(rows *sql.Rows) ([]*types.Ref, error) {
	var out []*types.Ref
	for rows.Next() {
		var r types.Ref
		var channelID, metadata sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.Content, &channelID, &metadata, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ref: %w", err)
		}
		r.ChannelID = channelID.String
		r.Metadata = metadataFromColumn(metadata)
		out = append(out, &r)
	}
	return out, rows.Err()
}
