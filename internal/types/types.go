package types

import (
	"encoding/json"
	"time"
)

// Entity type tags used in search results and cache keys.
const (
	TypeRule       = "rule"
	TypeProjectDoc = "project_doc"
	TypeRef        = "ref"
)

// Rule is an unscoped policy statement with a tier classification (1-5,
// 1 = highest priority).
type Rule struct {
	ID        string          `json:"id"`
	Content   string          `json:"content"`
	Tags      []string        `json:"tags"`
	Tier      int             `json:"tier"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Embedding []float32       `json:"embedding,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProjectDoc is a document grouped under a project. ProjectID is indexed but
// not a foreign key.
type ProjectDoc struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	FilePath  string          `json:"file_path,omitempty"`
	Tags      []string        `json:"tags"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Embedding []float32       `json:"embedding,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Ref is a named lookup, optionally scoped to a channel. Name uniqueness is
// caller discipline, not a schema constraint.
type Ref struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Content   string          `json:"content"`
	ChannelID string          `json:"channel_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Embedding []float32       `json:"embedding,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SearchResult is one semantic search hit. Similarity is cosine, in [-1, 1].
type SearchResult struct {
	ID         string          `json:"id"`
	Content    string          `json:"content"`
	Similarity float64         `json:"similarity_score"`
	Type       string          `json:"type"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// RuleUpdate is a partial update; nil fields keep the stored value.
type RuleUpdate struct {
	Content  *string
	Tags     []string
	Tier     *int
	Metadata json.RawMessage
}

// ProjectDocUpdate is a partial update; nil fields keep the stored value.
type ProjectDocUpdate struct {
	ProjectID *string
	Title     *string
	Content   *string
	FilePath  *string
	Tags      []string
	Metadata  json.RawMessage
}

// RefUpdate is a partial update; nil fields keep the stored value.
type RefUpdate struct {
	Name      *string
	Content   *string
	ChannelID *string
	Metadata  json.RawMessage
}

// ListOptions controls paging for list and scoped-finder queries.
type ListOptions struct {
	Limit  int // 0 means 50
	Offset int
}

// SearchOptions controls semantic search. The zero value is not the default;
// use DefaultSearchOptions (a zero threshold is a meaningful setting).
type SearchOptions struct {
	Limit           int
	Threshold       float64
	IncludeMetadata bool

	// Scope filters. Zero values match everything. ProjectID applies to
	// project docs, ChannelID to refs, Tier to rules, Tags to rules and docs.
	ProjectID string
	ChannelID string
	Tier      int
	Tags      []string
}

// DefaultSearchOptions returns the documented defaults: limit 10,
// threshold 0.7, metadata included.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Limit: 10, Threshold: 0.7, IncludeMetadata: true}
}

// EmbeddingUpdate pairs a row with the vector to store on it.
type EmbeddingUpdate struct {
	Table     string
	ID        string
	Embedding []float32
}

// Migration is one versioned schema change. Up and Down are executed
// statement by statement inside a single transaction.
type Migration struct {
	Version     int
	Description string
	Up          []string
	Down        []string
}
