package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/sundial-labs/memoria/internal/db"
	"github.com/sundial-labs/memoria/internal/logging"
	"github.com/sundial-labs/memoria/internal/types"
	"github.com/sundial-labs/memoria/internal/vector"
)

// scanOrder fixes the cross-table iteration order, which is also the
// tie-break order for equal similarity scores.
var scanOrder = []string{TableRules, TableProjectDocs, TableRefs}

var tableTypes = map[string]string{
	TableRules:       types.TypeRule,
	TableProjectDocs: types.TypeProjectDoc,
	TableRefs:        types.TypeRef,
}

// Index reads and writes embedding columns and runs the brute-force cosine
// scan. Like the row stores it binds to a connection or transaction and is
// ephemeral per call.
type Index struct {
	q    Querier
	dims int
	log  *logging.Logger
}

// NewIndex binds a vector index to a connection or transaction.
func NewIndex(q Querier, dims int) *Index {
	if dims <= 0 {
		dims = vector.DefaultDimensions
	}
	return &Index{q: q, dims: dims, log: logging.New("index")}
}

// TableStats counts rows and embedded rows for one table.
type TableStats struct {
	Total    int `json:"total"`
	Embedded int `json:"embedded"`
}

// IndexStats is the per-table and grand-total embedding census.
type IndexStats struct {
	Tables        map[string]TableStats `json:"tables"`
	TotalRows     int                   `json:"totalRows"`
	TotalEmbedded int                   `json:"totalEmbedded"`
}

func validTable(table string) error {
	if _, ok := tableTypes[table]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return nil
}

// StoreEmbedding dimension-checks v and writes it to the row's embedding
// column. Updating a missing row is a no-op, matching row-lookup semantics.
func (ix *Index) StoreEmbedding(ctx context.Context, table, id string, v []float32) error {
	if err := validTable(table); err != nil {
		return err
	}
	if err := vector.ValidateDimensions(v, ix.dims); err != nil {
		return err
	}
	if !vector.IsValid(v) {
		return fmt.Errorf("embedding for %s/%s contains non-finite values", table, id)
	}

	_, err := ix.q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET embedding = ? WHERE id = ?`, table),
		vector.Serialize(v), id)
	if err != nil {
		return fmt.Errorf("failed to store embedding for %s/%s: %w", table, id, err)
	}
	return nil
}

// GetEmbedding returns the row's vector, or nil when the row is missing or
// has no embedding.
func (ix *Index) GetEmbedding(ctx context.Context, table, id string) ([]float32, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}

	var blob []byte
	err := ix.q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT embedding FROM %s WHERE id = ?`, table), id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding for %s/%s: %w", table, id, err)
	}
	if blob == nil {
		return nil, nil
	}
	v, err := vector.Deserialize(blob)
	if err != nil {
		return nil, fmt.Errorf("corrupt embedding on %s/%s: %w", table, id, err)
	}
	return v, nil
}

// ClearEmbeddings nulls the embedding column in one table, or in all three
// when table is empty.
func (ix *Index) ClearEmbeddings(ctx context.Context, table string) error {
	tables := scanOrder
	if table != "" {
		if err := validTable(table); err != nil {
			return err
		}
		tables = []string{table}
	}
	for _, t := range tables {
		if _, err := ix.q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET embedding = NULL`, t)); err != nil {
			return fmt.Errorf("failed to clear embeddings in %s: %w", t, err)
		}
	}
	return nil
}

// Stats counts rows and embedded rows per table plus grand totals.
func (ix *Index) Stats(ctx context.Context) (IndexStats, error) {
	stats := IndexStats{Tables: make(map[string]TableStats, len(scanOrder))}
	for _, t := range scanOrder {
		var ts TableStats
		err := ix.q.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*), COUNT(embedding) FROM %s`, t)).Scan(&ts.Total, &ts.Embedded)
		if err != nil {
			return IndexStats{}, fmt.Errorf("failed to count %s: %w", t, err)
		}
		stats.Tables[t] = ts
		stats.TotalRows += ts.Total
		stats.TotalEmbedded += ts.Embedded
	}
	return stats, nil
}

// SemanticSearch scans every embedded row in all three tables, scores it
// against q with cosine similarity, keeps rows at or above the threshold,
// and returns the top opts.Limit sorted by score descending. Ties keep the
// table scan order (rules, project_docs, refs) then row order.
func (ix *Index) SemanticSearch(ctx context.Context, q []float32, opts types.SearchOptions) ([]types.SearchResult, error) {
	if err := vector.ValidateDimensions(q, ix.dims); err != nil {
		return nil, err
	}

	var results []types.SearchResult
	for _, table := range scanOrder {
		if err := ix.scanTable(ctx, table, q, opts, &results); err != nil {
			return nil, err
		}
	}
	return rank(results, opts.Limit), nil
}

// SearchInTable runs the same scan over a single table.
func (ix *Index) SearchInTable(ctx context.Context, table string, q []float32, opts types.SearchOptions) ([]types.SearchResult, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}
	if err := vector.ValidateDimensions(q, ix.dims); err != nil {
		return nil, err
	}

	var results []types.SearchResult
	if err := ix.scanTable(ctx, table, q, opts, &results); err != nil {
		return nil, err
	}
	return rank(results, opts.Limit), nil
}

// FindSimilar searches with the stored embedding of table/id as the query
// and drops that row from the results. A row without an embedding yields no
// results.
func (ix *Index) FindSimilar(ctx context.Context, table, id string, opts types.SearchOptions) ([]types.SearchResult, error) {
	emb, err := ix.GetEmbedding(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if emb == nil {
		return []types.SearchResult{}, nil
	}

	results, err := ix.SemanticSearch(ctx, emb, opts)
	if err != nil {
		return nil, err
	}
	filtered := results[:0]
	for _, r := range results {
		if r.ID != id {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// scanTable streams one table's embedded rows and appends candidates at or
// above the threshold. Scope filters are pushed into SQL; rows with corrupt
// or mismatched embeddings are skipped.
func (ix *Index) scanTable(ctx context.Context, table string, q []float32, opts types.SearchOptions, out *[]types.SearchResult) error {
	cols := "id, content, embedding"
	if opts.IncludeMetadata {
		cols += ", metadata"
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE embedding IS NOT NULL`, cols, table)
	var args []any

	switch table {
	case TableRules:
		if opts.Tier > 0 {
			query += ` AND tier = ?`
			args = append(args, opts.Tier)
		}
		if clause, tagArgs := tagsFilter(opts.Tags); clause != "" {
			query += ` AND ` + clause
			args = append(args, tagArgs...)
		}
	case TableProjectDocs:
		if opts.ProjectID != "" {
			query += ` AND project_id = ?`
			args = append(args, opts.ProjectID)
		}
		if clause, tagArgs := tagsFilter(opts.Tags); clause != "" {
			query += ` AND ` + clause
			args = append(args, tagArgs...)
		}
	case TableRefs:
		if opts.ChannelID != "" {
			query += ` AND channel_id = ?`
			args = append(args, opts.ChannelID)
		}
	}

	rows, err := ix.q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", table, err)
	}
	defer rows.Close()

	typeTag := tableTypes[table]
	for rows.Next() {
		var id, content string
		var blob []byte
		var metadata sql.NullString

		dest := []any{&id, &content, &blob}
		if opts.IncludeMetadata {
			dest = append(dest, &metadata)
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan %s row: %w", table, err)
		}

		emb, err := vector.Deserialize(blob)
		if err != nil {
			ix.log.Warnf("skipping %s/%s: corrupt embedding: %v", table, id, err)
			continue
		}
		sim, err := vector.CosineSimilarity(q, emb)
		if err != nil {
			ix.log.Warnf("skipping %s/%s: %v", table, id, err)
			continue
		}
		if sim < opts.Threshold {
			continue
		}

		r := types.SearchResult{ID: id, Content: content, Similarity: sim, Type: typeTag}
		if opts.IncludeMetadata {
			r.Metadata = metadataFromColumn(metadata)
		}
		*out = append(*out, r)
	}
	return rows.Err()
}

// rank sorts candidates by similarity descending (stable, so scan order
// breaks ties) and truncates to limit.
func rank(results []types.SearchResult, limit int) []types.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []types.SearchResult{}
	}
	return results
}

// BatchStoreEmbeddings applies every update inside one transaction; any
// failure rolls the whole batch back.
func BatchStoreEmbeddings(ctx context.Context, conn *db.Conn, dims int, updates []types.EmbeddingUpdate) error {
	return conn.WithTransaction(ctx, func(tx *sql.Tx) error {
		ix := NewIndex(tx, dims)
		for _, u := range updates {
			if err := ix.StoreEmbedding(ctx, u.Table, u.ID, u.Embedding); err != nil {
				return err
			}
		}
		return nil
	})
}
