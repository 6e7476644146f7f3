package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sundial-labs/memoria/internal/types"
)

// ProjectDocStore is row storage for project documents.
type ProjectDocStore struct {
	q Querier
}

// NewProjectDocStore binds a doc store to a connection or transaction.
func NewProjectDocStore(q Querier) *ProjectDocStore {
	return &ProjectDocStore{q: q}
}

const docColumns = `id, project_id, title, content, file_path, tags, metadata, created_at, updated_at`

// Create inserts a doc with both timestamps set to now and returns the
// stored record.
func (s *ProjectDocStore) Create(ctx context.Context, d *types.ProjectDoc) (*types.ProjectDoc, error) {
	tags, err := encodeTags(d.Tags)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stored := *d
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Tags == nil {
		stored.Tags = []string{}
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO project_docs (id, project_id, title, content, file_path, tags, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.ProjectID, stored.Title, stored.Content, nullableString(stored.FilePath),
		tags, metadataArg(stored.Metadata), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert project doc: %w", err)
	}
	return &stored, nil
}

// FindByID returns the doc or nil when absent.
func (s *ProjectDocStore) FindByID(ctx context.Context, id string) (*types.ProjectDoc, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+docColumns+` FROM project_docs WHERE id = ?`, id)
	return scanDoc(row)
}

// Update merges the partial update into the stored row. Returns nil when no
// such doc exists.
func (s *ProjectDocStore) Update(ctx context.Context, id string, upd types.ProjectDocUpdate) (*types.ProjectDoc, error) {
	cur, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, nil
	}

	if upd.ProjectID != nil {
		cur.ProjectID = *upd.ProjectID
	}
	if upd.Title != nil {
		cur.Title = *upd.Title
	}
	if upd.Content != nil {
		cur.Content = *upd.Content
	}
	if upd.FilePath != nil {
		cur.FilePath = *upd.FilePath
	}
	if upd.Tags != nil {
		cur.Tags = upd.Tags
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
		UPDATE project_docs SET project_id = ?, title = ?, content = ?, file_path = ?,
			tags = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, cur.ProjectID, cur.Title, cur.Content, nullableString(cur.FilePath),
		tags, metadataArg(cur.Metadata), cur.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update project doc %s: %w", id, err)
	}
	return cur, nil
}

// Delete reports whether a row was removed.
func (s *ProjectDocStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM project_docs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete project doc %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List pages docs by recency of update.
func (s *ProjectDocStore) List(ctx context.Context, opts types.ListOptions) ([]*types.ProjectDoc, error) {
	limit, offset := normalizeList(opts.Limit, opts.Offset)
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+docColumns+` FROM project_docs
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list project docs: %w", err)
	}
	defer rows.Close()
	return scanDocRows(rows)
}

// Count returns the total number of docs.
func (s *ProjectDocStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_docs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count project docs: %w", err)
	}
	return n, nil
}

// FindByProjectID pages docs of one project.
func (s *ProjectDocStore) FindByProjectID(ctx context.Context, projectID string, opts types.ListOptions) ([]*types.ProjectDoc, error) {
	limit, offset := normalizeList(opts.Limit, opts.Offset)
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+docColumns+` FROM project_docs WHERE project_id = ?
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find docs by project: %w", err)
	}
	defer rows.Close()
	return scanDocRows(rows)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanDoc(row *sql.Row) (*types.ProjectDoc, error) {
	var d types.ProjectDoc
	var tags string
	var filePath, metadata sql.NullString
	err := row.Scan(&d.ID, &d.ProjectID, &d.Title, &d.Content, &filePath, &tags, &metadata, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project doc: %w", err)
	}
	d.FilePath = filePath.String
	d.Tags = decodeTags(tags)
	d.Metadata = metadataFromColumn(metadata)
	return &d, nil
}

func scanDocRows(rows *sql.Rows) ([]*types.ProjectDoc, error) {
	var out []*types.ProjectDoc
	for rows.Next() {
		var d types.ProjectDoc
		var tags string
		var filePath, metadata sql.NullString
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Title, &d.Content, &filePath, &tags, &metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project doc: %w", err)
		}
		d.FilePath = filePath.String
		d.Tags = decodeTags(tags)
		d.Metadata = metadataFromColumn(metadata)
		out = append(out, &d)
	}
	return out, rows.Err()
}
