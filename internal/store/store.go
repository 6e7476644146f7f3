// Package store implements row storage for the three entity kinds and the
// vector index over their embedding columns. Stores are ephemeral: they bind
// to a checked-out connection (or a transaction on one) and do not outlive
// the call that created them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Allowlisted table names. Anything else is ErrUnknownTable.
const (
	TableRules       = "rules"
	TableProjectDocs = "project_docs"
	TableRefs        = "refs"
)

var (
	// ErrUnknownTable is returned for table names outside the allowlist.
	// Caller bug.
	ErrUnknownTable = errors.New("unknown table")

	// ErrInvalidTier is returned when a rule tier falls outside [1,5].
	ErrInvalidTier = errors.New("tier must be between 1 and 5")

	// ErrInvalidTag rejects tags containing a double quote, which would
	// break the JSON-substring tag filter.
	ErrInvalidTag = errors.New(`tags must not contain '"'`)
)

// Querier is the subset of database/sql that stores need. Both a pooled
// connection and *sql.Tx satisfy it, so every store works inside or outside
// a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	defaultListLimit = 50
)

func normalizeList(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ValidateTier range-checks a rule tier on the write path; the schema CHECK
// constraint backs it up for direct SQL writes.
func ValidateTier(tier int) error {
	if tier < 1 || tier > 5 {
		return fmt.Errorf("%w: got %d", ErrInvalidTier, tier)
	}
	return nil
}

// ValidateTags rejects tag strings the substring filter can't handle.
func ValidateTags(tags []string) error {
	for _, tag := range tags {
		if strings.Contains(tag, `"`) {
			return fmt.Errorf("%w: %q", ErrInvalidTag, tag)
		}
	}
	return nil
}

// encodeTags serializes tags as JSON text; nil encodes as "[]".
func encodeTags(tags []string) (string, error) {
	if err := ValidateTags(tags); err != nil {
		return "", err
	}
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(s string) []string {
	if s == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return []string{}
	}
	if tags == nil {
		return []string{}
	}
	return tags
}

// metadataArg maps metadata to its column value: JSON text or NULL.
func metadataArg(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

func metadataFromColumn(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}

// tagsFilter builds an OR of JSON-substring matches: tags LIKE '%"tag"%'.
// Coarse on purpose; ValidateTags keeps it exact.
func tagsFilter(tags []string) (string, []any) {
	if len(tags) == 0 {
		return "", nil
	}
	clauses := make([]string, len(tags))
	args := make([]any, len(tags))
	for i, tag := range tags {
		clauses[i] = "tags LIKE ?"
		args[i] = `%"` + tag + `"%`
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args
}
