// Package memory is the embedding-aware store behind the agent runtime: rules
// the agent must follow, project documentation, and named references, all
// with optional vector embeddings for semantic recall. It composes the
// connection pool, the row stores, the vector index, and read-through caches
// behind one facade.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/sundial-labs/memoria/internal/cache"
	"github.com/sundial-labs/memoria/internal/config"
	"github.com/sundial-labs/memoria/internal/db"
	"github.com/sundial-labs/memoria/internal/logging"
	"github.com/sundial-labs/memoria/internal/store"
	"github.com/sundial-labs/memoria/internal/types"
)

// ErrNotInitialized is returned by every operation before Initialize has
// succeeded.
var ErrNotInitialized = errors.New("memory service not initialized")

// Service is the facade over the memory store. All methods are safe for
// concurrent use once Initialize has returned.
type Service struct {
	cfg *config.Config
	log *logging.Logger

	mu          sync.Mutex
	pool        *db.Pool
	initialized bool

	ruleCache   *cache.Cache[*types.Rule]
	docCache    *cache.Cache[*types.ProjectDoc]
	refCache    *cache.Cache[*types.Ref]
	searchCache *cache.Cache[[]types.SearchResult]
}

// New builds an uninitialized service. Call Initialize before use.
func New(cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	opts := cache.Options{
		MaxSize:        cfg.Cache.MaxSize,
		TTL:            cfg.Cache.TTL(),
		UpdateAgeOnGet: cfg.Cache.UpdateAgeOnGet,
	}
	return &Service{
		cfg:         cfg,
		log:         logging.New("memory"),
		ruleCache:   cache.New[*types.Rule](opts),
		docCache:    cache.New[*types.ProjectDoc](opts),
		refCache:    cache.New[*types.Ref](opts),
		searchCache: cache.New[[]types.SearchResult](opts),
	}
}

// Initialize opens the connection pool and brings the schema up to date.
// Calling it again is a warning, not an error.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		s.log.Warnf("already initialized, ignoring")
		return nil
	}
	if s.cfg.Database.UsesRemoteFeatures() {
		s.log.Warnf("authToken/syncUrl/encryptionKey are not supported by the embedded driver, ignoring")
	}

	pool, err := db.Open(db.Config{
		URL:             s.cfg.Database.URL,
		MaxConnections:  s.cfg.Database.MaxConnections,
		IdleTimeout:     s.cfg.Database.IdleTimeout(),
		CheckoutTimeout: s.cfg.Database.CheckoutTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		return db.NewMigrator(c).InitializeSchema(ctx)
	})
	if err != nil {
		pool.Shutdown()
		return err
	}

	s.pool = pool
	s.initialized = true
	s.log.Infof("initialized (db=%s, dims=%d)", s.cfg.Database.URL, s.cfg.Vector.Dimensions)
	return nil
}

// Shutdown closes the pool and drops all cached state. Idempotent.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	s.initialized = false
	err := s.pool.Shutdown()
	s.pool = nil
	s.ClearCache()
	s.log.Infof("shut down")
	return err
}

// IsReady reports whether the service has been initialized.
func (s *Service) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Service) ready() (*db.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return s.pool, nil
}

// ClearCache empties every cache namespace.
func (s *Service) ClearCache() {
	s.ruleCache.Clear()
	s.docCache.Clear()
	s.refCache.Clear()
	s.searchCache.Clear()
}

// dims returns the configured embedding dimensionality.
func (s *Service) dims() int {
	return s.cfg.Vector.Dimensions
}

// ---- Rules ----

// CreateRule stores a rule, generating an id when none is given. If the rule
// carries an embedding, row and embedding are written in one transaction.
func (s *Service) CreateRule(ctx context.Context, r *types.Rule) (*types.Rule, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	rule := *r
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	var created *types.Rule
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		if len(rule.Embedding) == 0 {
			var err error
			created, err = store.NewRuleStore(c).Create(ctx, &rule)
			return err
		}
		return c.WithTransaction(ctx, func(tx *sql.Tx) error {
			var err error
			created, err = store.NewRuleStore(tx).Create(ctx, &rule)
			if err != nil {
				return err
			}
			return store.NewIndex(tx, s.dims()).StoreEmbedding(ctx, store.TableRules, created.ID, rule.Embedding)
		})
	})
	if err != nil {
		return nil, err
	}

	s.ruleCache.Set(created.ID, created)
	s.searchCache.Clear()
	s.log.Debugf("created rule %s (tier %d)", created.ID, created.Tier)
	return created, nil
}

// GetRule returns the rule or nil when absent. Hits are served from cache.
func (s *Service) GetRule(ctx context.Context, id string) (*types.Rule, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	if cached, ok := s.ruleCache.Get(id); ok {
		return cached, nil
	}

	var rule *types.Rule
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		rule, err = store.NewRuleStore(c).FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rule != nil {
		s.ruleCache.Set(id, rule)
	}
	return rule, nil
}

// UpdateRule applies a partial update. Returns nil when no such rule exists.
func (s *Service) UpdateRule(ctx context.Context, id string, upd types.RuleUpdate) (*types.Rule, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	var updated *types.Rule
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		updated, err = store.NewRuleStore(c).Update(ctx, id, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		s.ruleCache.Delete(id)
		return nil, nil
	}
	s.ruleCache.Set(id, updated)
	s.searchCache.Clear()
	return updated, nil
}

// DeleteRule removes a rule, reporting whether a row was deleted.
func (s *Service) DeleteRule(ctx context.Context, id string) (bool, error) {
	pool, err := s.ready()
	if err != nil {
		return false, err
	}

	var deleted bool
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		deleted, err = store.NewRuleStore(c).Delete(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}
	s.ruleCache.Delete(id)
	if deleted {
		s.searchCache.Clear()
	}
	return deleted, nil
}

// ListRules pages rules by recency of update. Never cached.
func (s *Service) ListRules(ctx context.Context, opts types.ListOptions) ([]*types.Rule, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	var rules []*types.Rule
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		rules, err = store.NewRuleStore(c).List(ctx, opts)
		return err
	})
	return rules, err
}

// FindRulesByTier pages rules of one tier.
func (s *Service) FindRulesByTier(ctx context.Context, tier int, opts types.ListOptions) ([]*types.Rule, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	var rules []*types.Rule
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		rules, err = store.NewRuleStore(c).FindByTier(ctx, tier, opts)
		return err
	})
	return rules, err
}

// FindRulesByTags pages rules matching any of the given tags.
func (s *Service) FindRulesByTags(ctx context.Context, tags []string, opts types.ListOptions) ([]*types.Rule, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	var rules []*types.Rule
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		rules, err = store.NewRuleStore(c).FindByTags(ctx, tags, opts)
		return err
	})
	return rules, err
}

// ---- Project docs ----

// CreateProjectDoc stores a project document, generating an id when none is
// given. An attached embedding is written in the same transaction.
func (s *Service) CreateProjectDoc(ctx context.Context, d *types.ProjectDoc) (*types.ProjectDoc, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	doc := *d
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	var created *types.ProjectDoc
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		if len(doc.Embedding) == 0 {
			var err error
			created, err = store.NewProjectDocStore(c).Create(ctx, &doc)
			return err
		}
		return c.WithTransaction(ctx, func(tx *sql.Tx) error {
			var err error
			created, err = store.NewProjectDocStore(tx).Create(ctx, &doc)
			if err != nil {
				return err
			}
			return store.NewIndex(tx, s.dims()).StoreEmbedding(ctx, store.TableProjectDocs, created.ID, doc.Embedding)
		})
	})
	if err != nil {
		return nil, err
	}

	s.docCache.Set(created.ID, created)
	s.searchCache.Clear()
	s.log.Debugf("created doc %s (project %s)", created.ID, created.ProjectID)
	return created, nil
}

// GetProjectDoc returns the doc or nil when absent.
func (s *Service) GetProjectDoc(ctx context.Context, id string) (*types.ProjectDoc, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	if cached, ok := s.docCache.Get(id); ok {
		return cached, nil
	}

	var doc *types.ProjectDoc
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		doc, err = store.NewProjectDocStore(c).FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if doc != nil {
		s.docCache.Set(id, doc)
	}
	return doc, nil
}

// UpdateProjectDoc applies a partial update. Returns nil when absent.
func (s *Service) UpdateProjectDoc(ctx context.Context, id string, upd types.ProjectDocUpdate) (*types.ProjectDoc, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	var updated *types.ProjectDoc
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		updated, err = store.NewProjectDocStore(c).Update(ctx, id, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		s.docCache.Delete(id)
		return nil, nil
	}
	s.docCache.Set(id, updated)
	s.searchCache.Clear()
	return updated, nil
}

// DeleteProjectDoc removes a doc, reporting whether a row was deleted.
func (s *Service) DeleteProjectDoc(ctx context.Context, id string) (bool, error) {
	pool, err := s.ready()
	if err != nil {
		return false, err
	}

	var deleted bool
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		deleted, err = store.NewProjectDocStore(c).Delete(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}
	s.docCache.Delete(id)
	if deleted {
		s.searchCache.Clear()
	}
	return deleted, nil
}

// ListProjectDocs pages docs by recency of update.
func (s *Service) ListProjectDocs(ctx context.Context, opts types.ListOptions) ([]*types.ProjectDoc, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	var docs []*types.ProjectDoc
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		docs, err = store.NewProjectDocStore(c).List(ctx, opts)
		return err
	})
	return docs, err
}

// FindDocsByProject pages docs belonging to one project.
func (s *Service) FindDocsByProject(ctx context.Context, projectID string, opts types.ListOptions) ([]*types.ProjectDoc, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	var docs []*types.ProjectDoc
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		docs, err = store.NewProjectDocStore(c).FindByProjectID(ctx, projectID, opts)
		return err
	})
	return docs, err
}

// ---- Refs ----

// Ref cache keys. Each ref occupies two entries so lookups by id and by name
// both hit.
func refIDKey(id string) string     { return "id:" + id }
func refNameKey(name string) string { return "name:" + name }

func (s *Service) cacheRef(r *types.Ref) {
	s.refCache.Set(refIDKey(r.ID), r)
	s.refCache.Set(refNameKey(r.Name), r)
}

func (s *Service) evictRef(id string) {
	if old, ok := s.refCache.Peek(refIDKey(id)); ok && old != nil {
		s.refCache.Delete(refNameKey(old.Name))
	}
	s.refCache.Delete(refIDKey(id))
}

// CreateRef stores a named reference, generating an id when none is given.
// An attached embedding is written in the same transaction.
func (s *Service) CreateRef(ctx context.Context, r *types.Ref) (*types.Ref, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	ref := *r
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}

	var created *types.Ref
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		if len(ref.Embedding) == 0 {
			var err error
			created, err = store.NewRefStore(c).Create(ctx, &ref)
			return err
		}
		return c.WithTransaction(ctx, func(tx *sql.Tx) error {
			var err error
			created, err = store.NewRefStore(tx).Create(ctx, &ref)
			if err != nil {
				return err
			}
			return store.NewIndex(tx, s.dims()).StoreEmbedding(ctx, store.TableRefs, created.ID, ref.Embedding)
		})
	})
	if err != nil {
		return nil, err
	}

	s.cacheRef(created)
	s.searchCache.Clear()
	s.log.Debugf("created ref %s (%s)", created.ID, created.Name)
	return created, nil
}

// GetRef returns the ref by id, or nil when absent.
func (s *Service) GetRef(ctx context.Context, id string) (*types.Ref, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	if cached, ok := s.refCache.Get(refIDKey(id)); ok {
		return cached, nil
	}

	var ref *types.Ref
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		ref, err = store.NewRefStore(c).FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ref != nil {
		s.cacheRef(ref)
	}
	return ref, nil
}

// GetRefByName returns the most recently updated ref with that name, or nil.
func (s *Service) GetRefByName(ctx context.Context, name string) (*types.Ref, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	if cached, ok := s.refCache.Get(refNameKey(name)); ok {
		return cached, nil
	}

	var ref *types.Ref
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		ref, err = store.NewRefStore(c).FindByName(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ref != nil {
		s.cacheRef(ref)
	}
	return ref, nil
}

// UpdateRef applies a partial update. Returns nil when absent. A rename
// evicts the old name key.
func (s *Service) UpdateRef(ctx context.Context, id string, upd types.RefUpdate) (*types.Ref, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	var updated *types.Ref
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		updated, err = store.NewRefStore(c).Update(ctx, id, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.evictRef(id)
	if updated == nil {
		return nil, nil
	}
	s.cacheRef(updated)
	s.searchCache.Clear()
	return updated, nil
}

// DeleteRef removes a ref, reporting whether a row was deleted.
func (s *Service) DeleteRef(ctx context.Context, id string) (bool, error) {
	pool, err := s.ready()
	if err != nil {
		return false, err
	}

	var deleted bool
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		deleted, err = store.NewRefStore(c).Delete(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}
	s.evictRef(id)
	if deleted {
		s.searchCache.Clear()
	}
	return deleted, nil
}

// ListRefs pages refs by recency of update.
func (s *Service) ListRefs(ctx context.Context, opts types.ListOptions) ([]*types.Ref, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	var refs []*types.Ref
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		refs, err = store.NewRefStore(c).List(ctx, opts)
		return err
	})
	return refs, err
}

// FindRefsByChannel pages refs scoped to one channel.
func (s *Service) FindRefsByChannel(ctx context.Context, channelID string, opts types.ListOptions) ([]*types.Ref, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	var refs []*types.Ref
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		refs, err = store.NewRefStore(c).FindByChannelID(ctx, channelID, opts)
		return err
	})
	return refs, err
}

// ---- Embeddings and search ----

// StoreEmbedding writes the vector onto an existing row.
func (s *Service) StoreEmbedding(ctx context.Context, table, id string, v []float32) error {
	pool, err := s.ready()
	if err != nil {
		return err
	}
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		return store.NewIndex(c, s.dims()).StoreEmbedding(ctx, table, id, v)
	})
	if err != nil {
		return err
	}
	s.evictEntity(table, id)
	s.searchCache.Clear()
	return nil
}

// GetEmbedding reads a stored vector, nil when the row has none.
func (s *Service) GetEmbedding(ctx context.Context, table, id string) ([]float32, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	var v []float32
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		v, err = store.NewIndex(c, s.dims()).GetEmbedding(ctx, table, id)
		return err
	})
	return v, err
}

// BatchStoreEmbeddings writes every update in one transaction; any failure
// rolls the whole batch back.
func (s *Service) BatchStoreEmbeddings(ctx context.Context, updates []types.EmbeddingUpdate) error {
	pool, err := s.ready()
	if err != nil {
		return err
	}
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		return store.BatchStoreEmbeddings(ctx, c, s.dims(), updates)
	})
	if err != nil {
		return err
	}
	for _, u := range updates {
		s.evictEntity(u.Table, u.ID)
	}
	s.searchCache.Clear()
	return nil
}

// ClearEmbeddings nulls stored vectors in one table, or all tables when
// table is empty.
func (s *Service) ClearEmbeddings(ctx context.Context, table string) error {
	pool, err := s.ready()
	if err != nil {
		return err
	}
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		return store.NewIndex(c, s.dims()).ClearEmbeddings(ctx, table)
	})
	if err != nil {
		return err
	}
	s.searchCache.Clear()
	return nil
}

func (s *Service) evictEntity(table, id string) {
	switch table {
	case store.TableRules:
		s.ruleCache.Delete(id)
	case store.TableProjectDocs:
		s.docCache.Delete(id)
	case store.TableRefs:
		s.evictRef(id)
	}
}

// SemanticSearch scores every embedded row against q and returns the top
// matches. A nil opts means the defaults (limit 10, threshold 0.7, metadata
// included). Identical queries are served from the search cache until the
// next write.
func (s *Service) SemanticSearch(ctx context.Context, q []float32, opts *types.SearchOptions) ([]types.SearchResult, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	o := types.DefaultSearchOptions()
	if opts != nil {
		o = *opts
	}

	key := searchFingerprint(q, o)
	if cached, ok := s.searchCache.Get(key); ok {
		s.log.Tracef("search cache hit (%d results)", len(cached))
		return cached, nil
	}

	var results []types.SearchResult
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		results, err = store.NewIndex(c, s.dims()).SemanticSearch(ctx, q, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.searchCache.Set(key, results)
	return results, nil
}

// SearchInTable runs a search restricted to one table. Not cached.
func (s *Service) SearchInTable(ctx context.Context, table string, q []float32, opts *types.SearchOptions) ([]types.SearchResult, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	o := types.DefaultSearchOptions()
	if opts != nil {
		o = *opts
	}

	var results []types.SearchResult
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		results, err = store.NewIndex(c, s.dims()).SearchInTable(ctx, table, q, o)
		return err
	})
	return results, err
}

// FindSimilar returns the nearest embedded rows to an existing one,
// excluding the row itself.
func (s *Service) FindSimilar(ctx context.Context, table, id string, opts *types.SearchOptions) ([]types.SearchResult, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	o := types.DefaultSearchOptions()
	if opts != nil {
		o = *opts
	}

	var results []types.SearchResult
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		results, err = store.NewIndex(c, s.dims()).FindSimilar(ctx, table, id, o)
		return err
	})
	return results, err
}

// ---- Stats and health ----

// ProcessStats is a point-in-time snapshot of this process.
type ProcessStats struct {
	RSSBytes         uint64  `json:"rssBytes"`
	SystemMemUsedPct float64 `json:"systemMemUsedPercent"`
	Goroutines       int     `json:"goroutines"`
}

// Stats aggregates pool, cache, index, and process statistics.
type Stats struct {
	Pool    db.Stats               `json:"pool"`
	Caches  map[string]cache.Stats `json:"caches"`
	Index   store.IndexStats       `json:"index"`
	Process ProcessStats           `json:"process"`
}

// GetStats returns the aggregate statistics snapshot.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	var idx store.IndexStats
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		var err error
		idx, err = store.NewIndex(c, s.dims()).Stats(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Pool: pool.Stats(),
		Caches: map[string]cache.Stats{
			"rules":  s.ruleCache.GetStats(),
			"docs":   s.docCache.GetStats(),
			"refs":   s.refCache.GetStats(),
			"search": s.searchCache.GetStats(),
		},
		Index:   idx,
		Process: processStats(s.log),
	}
	return stats, nil
}

func processStats(log *logging.Logger) ProcessStats {
	ps := ProcessStats{Goroutines: runtime.NumGoroutine()}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil {
			ps.RSSBytes = mi.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err != nil {
		log.Debugf("system memory snapshot unavailable: %v", err)
	} else {
		ps.SystemMemUsedPct = vm.UsedPercent
	}
	return ps
}

// Health is the service health report.
type Health struct {
	Status        string           `json:"status"`
	SchemaVersion int              `json:"schemaVersion"`
	Pool          db.Stats         `json:"pool"`
	Index         store.IndexStats `json:"index"`
	Process       ProcessStats     `json:"process"`
	Error         string           `json:"error,omitempty"`
}

// HealthCheck verifies the database answers and reports the schema version
// and an index/memory snapshot.
func (s *Service) HealthCheck(ctx context.Context) *Health {
	pool, err := s.ready()
	if err != nil {
		return &Health{Status: "unavailable", Error: err.Error()}
	}

	h := &Health{Status: "ok", Pool: pool.Stats(), Process: processStats(s.log)}
	err = pool.WithConnection(ctx, func(c *db.Conn) error {
		version, err := db.NewMigrator(c).CurrentVersion(ctx)
		if err != nil {
			return err
		}
		h.SchemaVersion = version
		h.Index, err = store.NewIndex(c, s.dims()).Stats(ctx)
		return err
	})
	if err != nil {
		h.Status = "degraded"
		h.Error = err.Error()
	}
	return h
}
