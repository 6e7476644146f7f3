package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sundial-labs/memoria/internal/types"
)

// RuleStore is row storage for rules. Embedding columns are written by the
// vector index, never here.
type RuleStore struct {
	q Querier
}

// NewRuleStore binds a rule store to a connection or transaction.
func NewRuleStore(q Querier) *RuleStore {
	return &RuleStore{q: q}
}

const ruleColumns = `id, content, tags, tier, metadata, created_at, updated_at`

// Create inserts a rule with both timestamps set to now and returns the
// stored record.
func (s *RuleStore) Create(ctx context.Context, r *types.Rule) (*types.Rule, error) {
	if err := ValidateTier(r.Tier); err != nil {
		return nil, err
	}
	tags, err := encodeTags(r.Tags)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stored := *r
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Tags == nil {
		stored.Tags = []string{}
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO rules (id, content, tags, tier, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.Content, tags, stored.Tier, metadataArg(stored.Metadata), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert rule: %w", err)
	}
	return &stored, nil
}

// FindByID returns the rule or nil when absent.
func (s *RuleStore) FindByID(ctx context.Context, id string) (*types.Rule, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	return scanRule(row)
}

// Update merges the partial update into the stored row and writes all
// mutable columns back. Returns nil when no such rule exists.
func (s *RuleStore) Update(ctx context.Context, id string, upd types.RuleUpdate) (*types.Rule, error) {
	cur, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, nil
	}

	if upd.Content != nil {
		cur.Content = *upd.Content
	}
	if upd.Tags != nil {
		cur.Tags = upd.Tags
	}
	if upd.Tier != nil {
		if err := ValidateTier(*upd.Tier); err != nil {
			return nil, err
		}
		cur.Tier = *upd.Tier
	}
	if upd.Metadata != nil {
		cur.Metadata = upd.Metadata
	}

	tags, err := encodeTags(cur.Tags)
	if err != nil {
		return nil, err
	}
	cur.UpdatedAt = time.Now().UTC()

	_, err = s.q.ExecContext(ctx, `
		UPDATE rules SET content = ?, tags = ?, tier = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, cur.Content, tags, cur.Tier, metadataArg(cur.Metadata), cur.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule %s: %w", id, err)
	}
	return cur, nil
}

// Delete reports whether a row was removed.
func (s *RuleStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List pages rules by recency of update.
func (s *RuleStore) List(ctx context.Context, opts types.ListOptions) ([]*types.Rule, error) {
	limit, offset := normalizeList(opts.Limit, opts.Offset)
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()
	return scanRuleRows(rows)
}

// Count returns the total number of rules.
func (s *RuleStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return n, nil
}

// FindByTier pages rules of one tier.
func (s *RuleStore) FindByTier(ctx context.Context, tier int, opts types.ListOptions) ([]*types.Rule, error) {
	limit, offset := normalizeList(opts.Limit, opts.Offset)
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules WHERE tier = ?
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, tier, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find rules by tier: %w", err)
	}
	defer rows.Close()
	return scanRuleRows(rows)
}

// FindByTags matches rules carrying any of the given tags (OR filter on the
// JSON-encoded column).
func (s *RuleStore) FindByTags(ctx context.Context, tags []string, opts types.ListOptions) ([]*types.Rule, error) {
	clause, args := tagsFilter(tags)
	if clause == "" {
		return s.List(ctx, opts)
	}
	limit, offset := normalizeList(opts.Limit, opts.Offset)
	args = append(args, limit, offset)

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules WHERE `+clause+`
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find rules by tags: %w", err)
	}
	defer rows.Close()
	return scanRuleRows(rows)
}

func scanRule(row *sql.Row) (*types.Rule, error) {
	var r types.Rule
	var tags string
	var metadata sql.NullString
	err := row.Scan(&r.ID, &r.Content, &tags, &r.Tier, &metadata, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}
	r.Tags = decodeTags(tags)
	r.Metadata = metadataFromColumn(metadata)
	return &r, nil
}

func scanRuleRows(rows *sql.Rows) ([]*types.Rule, error) {
	var out []*types.Rule
	for rows.Next() {
		var r types.Rule
		var tags string
		var metadata sql.NullString
		if err := rows.Scan(&r.ID, &r.Content, &tags, &r.Tier, &metadata, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Tags = decodeTags(tags)
		r.Metadata = metadataFromColumn(metadata)
		out = append(out, &r)
	}
	return out, rows.Err()
}
