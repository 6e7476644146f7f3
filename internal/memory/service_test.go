package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sundial-labs/memoria/internal/config"
	"github.com/sundial-labs/memoria/internal/store"
	"github.com/sundial-labs/memoria/internal/types"
)

const testDims = 4

func newTestService(t *testing.T) *Service {
	t.Helper()

	cfg := config.Default()
	cfg.Database.URL = filepath.Join(t.TempDir(), "memory_test.db")
	cfg.Vector.Dimensions = testDims

	s := New(cfg)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize service: %v", err)
	}
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func TestOperationsRequireInitialize(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if _, err := s.GetRule(ctx, "x"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := s.SemanticSearch(ctx, []float32{1, 0, 0, 0}, nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if s.IsReady() {
		t.Error("service should not be ready before Initialize")
	}
	if err := s.Shutdown(); err != nil {
		t.Errorf("shutdown of uninitialized service should be a no-op: %v", err)
	}
}

func TestInitializeIdempotent(t *testing.T) {
	s := newTestService(t)
	if err := s.Initialize(context.Background()); err != nil {
		t.Errorf("second initialize should warn, not error: %v", err)
	}
	if !s.IsReady() {
		t.Error("service should be ready")
	}
}

func TestRuleLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created, err := s.CreateRule(ctx, &types.Rule{Content: "prefer table tests", Tier: 2, Tags: []string{"testing"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("create should generate an id")
	}

	// A read immediately after a write sees the write.
	got, err := s.GetRule(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.Content != "prefer table tests" {
		t.Fatalf("read after write mismatch: %+v", got)
	}

	newContent := "prefer table tests for variants"
	updated, err := s.UpdateRule(ctx, created.ID, types.RuleUpdate{Content: &newContent})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Content != newContent {
		t.Errorf("update not applied: %+v", updated)
	}
	got, _ = s.GetRule(ctx, created.ID)
	if got.Content != newContent {
		t.Errorf("read after update mismatch: %+v", got)
	}

	deleted, err := s.DeleteRule(ctx, created.ID)
	if err != nil || !deleted {
		t.Fatalf("delete failed: (%v, %v)", deleted, err)
	}
	got, err = s.GetRule(ctx, created.ID)
	if err != nil || got != nil {
		t.Errorf("deleted rule should read (nil, nil), got (%v, %v)", got, err)
	}
}

func TestGetRuleServesFromCache(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created, err := s.CreateRule(ctx, &types.Rule{Content: "x", Tier: 1})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.GetRule(ctx, created.ID); err != nil {
			t.Fatalf("get failed: %v", err)
		}
	}

	stats := s.ruleCache.GetStats()
	if stats.TotalHits < 3 {
		t.Errorf("expected at least 3 cache hits, got %d", stats.TotalHits)
	}

	// Misses are never cached.
	if _, err := s.GetRule(ctx, "absent"); err != nil {
		t.Fatalf("get of absent rule failed: %v", err)
	}
	if s.ruleCache.Has("absent") {
		t.Error("negative lookups must not be cached")
	}
}

func TestCreateRuleWithEmbeddingIsAtomic(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// Valid embedding: row and vector both land.
	created, err := s.CreateRule(ctx, &types.Rule{
		Content: "x", Tier: 1, Embedding: []float32{1, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("create with embedding failed: %v", err)
	}
	v, err := s.GetEmbedding(ctx, store.TableRules, created.ID)
	if err != nil || v == nil {
		t.Fatalf("embedding should be stored, got (%v, %v)", v, err)
	}

	// Wrong dimensionality: the whole create rolls back.
	bad, err := s.CreateRule(ctx, &types.Rule{
		ID: "bad-rule", Content: "x", Tier: 1, Embedding: []float32{1, 0},
	})
	if err == nil {
		t.Fatalf("expected dimension error, got %+v", bad)
	}
	got, err := s.GetRule(ctx, "bad-rule")
	if err != nil || got != nil {
		t.Errorf("failed create must not leave a row behind, got (%v, %v)", got, err)
	}
}

func TestProjectDocLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created, err := s.CreateProjectDoc(ctx, &types.ProjectDoc{
		ProjectID: "proj-a", Title: "Readme", Content: "hello",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	docs, err := s.FindDocsByProject(ctx, "proj-a", types.ListOptions{})
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected 1 doc for proj-a, got (%d, %v)", len(docs), err)
	}

	newTitle := "README"
	if _, err := s.UpdateProjectDoc(ctx, created.ID, types.ProjectDocUpdate{Title: &newTitle}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ := s.GetProjectDoc(ctx, created.ID)
	if got.Title != "README" {
		t.Errorf("update not visible: %+v", got)
	}

	if deleted, err := s.DeleteProjectDoc(ctx, created.ID); err != nil || !deleted {
		t.Errorf("delete failed: (%v, %v)", deleted, err)
	}
}

func TestRefNameLookupAndRename(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created, err := s.CreateRef(ctx, &types.Ref{Name: "runbook", Content: "steps", ChannelID: "chan-1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := s.GetRefByName(ctx, "runbook")
	if err != nil || got == nil || got.ID != created.ID {
		t.Fatalf("lookup by name failed: (%v, %v)", got, err)
	}

	// Rename: the old name stops resolving, the new one works.
	newName := "deploy-runbook"
	if _, err := s.UpdateRef(ctx, created.ID, types.RefUpdate{Name: &newName}); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	got, err = s.GetRefByName(ctx, "runbook")
	if err != nil || got != nil {
		t.Errorf("old name should not resolve, got (%v, %v)", got, err)
	}
	got, err = s.GetRefByName(ctx, "deploy-runbook")
	if err != nil || got == nil {
		t.Fatalf("new name should resolve, got (%v, %v)", got, err)
	}

	refs, err := s.FindRefsByChannel(ctx, "chan-1", types.ListOptions{})
	if err != nil || len(refs) != 1 {
		t.Errorf("expected 1 ref in chan-1, got (%d, %v)", len(refs), err)
	}

	if deleted, err := s.DeleteRef(ctx, created.ID); err != nil || !deleted {
		t.Fatalf("delete failed: (%v, %v)", deleted, err)
	}
	if got, _ := s.GetRefByName(ctx, "deploy-runbook"); got != nil {
		t.Error("deleted ref should not resolve by name")
	}
}

func TestSemanticSearchDefaultsAndCache(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.CreateRule(ctx, &types.Rule{
		ID: "r1", Content: "close", Tier: 1, Embedding: []float32{1, 0.1, 0, 0},
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.CreateRule(ctx, &types.Rule{
		ID: "r2", Content: "far", Tier: 1, Embedding: []float32{0, 1, 0, 0},
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	q := []float32{1, 0, 0, 0}

	// Default threshold 0.7 keeps only the close rule.
	results, err := s.SemanticSearch(ctx, q, nil)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "r1" {
		t.Fatalf("expected only r1, got %v", results)
	}

	// Same query again is a cache hit.
	before := s.searchCache.GetStats().TotalHits
	if _, err := s.SemanticSearch(ctx, q, nil); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if s.searchCache.GetStats().TotalHits != before+1 {
		t.Error("repeated search should hit the cache")
	}

	// A write invalidates cached searches.
	if _, err := s.CreateRule(ctx, &types.Rule{
		ID: "r3", Content: "closer", Tier: 1, Embedding: []float32{1, 0, 0, 0},
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	results, err = s.SemanticSearch(ctx, q, nil)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 || results[0].ID != "r3" {
		t.Errorf("search after write should see the new rule first, got %v", results)
	}

	// Different options produce a different cache key.
	opts := types.DefaultSearchOptions()
	opts.Threshold = -1
	results, err = s.SemanticSearch(ctx, q, &opts)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("lower threshold should admit all 3 rules, got %d", len(results))
	}
}

func TestFindSimilarThroughFacade(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.CreateRule(ctx, &types.Rule{
		ID: "anchor", Content: "x", Tier: 1, Embedding: []float32{1, 0, 0, 0},
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.CreateRule(ctx, &types.Rule{
		ID: "neighbor", Content: "x", Tier: 1, Embedding: []float32{1, 0.1, 0, 0},
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	results, err := s.FindSimilar(ctx, store.TableRules, "anchor", nil)
	if err != nil {
		t.Fatalf("find similar failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "neighbor" {
		t.Errorf("expected only the neighbor, got %v", results)
	}
}

func TestBatchStoreEmbeddingsAndStats(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	r, err := s.CreateRule(ctx, &types.Rule{Content: "x", Tier: 1})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	d, err := s.CreateProjectDoc(ctx, &types.ProjectDoc{ProjectID: "p", Title: "t", Content: "c"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err = s.BatchStoreEmbeddings(ctx, []types.EmbeddingUpdate{
		{Table: store.TableRules, ID: r.ID, Embedding: []float32{1, 0, 0, 0}},
		{Table: store.TableProjectDocs, ID: d.ID, Embedding: []float32{0, 1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Index.TotalRows != 2 || stats.Index.TotalEmbedded != 2 {
		t.Errorf("index stats wrong: %+v", stats.Index)
	}
	if stats.Pool.MaxConnections != 10 {
		t.Errorf("pool stats wrong: %+v", stats.Pool)
	}
	if _, ok := stats.Caches["rules"]; !ok {
		t.Error("cache stats should include the rules namespace")
	}
	if stats.Process.Goroutines <= 0 {
		t.Error("process stats should report goroutines")
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestService(t)

	h := s.HealthCheck(context.Background())
	if h.Status != "ok" {
		t.Errorf("expected ok, got %s (%s)", h.Status, h.Error)
	}
	if h.SchemaVersion != 1 {
		t.Errorf("expected schema version 1, got %d", h.SchemaVersion)
	}

	uninit := New(nil)
	if h := uninit.HealthCheck(context.Background()); h.Status != "unavailable" {
		t.Errorf("uninitialized service should report unavailable, got %s", h.Status)
	}
}

func TestClearEmbeddingsThroughFacade(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	r, err := s.CreateRule(ctx, &types.Rule{Content: "x", Tier: 1, Embedding: []float32{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := s.ClearEmbeddings(ctx, ""); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if v, _ := s.GetEmbedding(ctx, store.TableRules, r.ID); v != nil {
		t.Error("embedding should be cleared")
	}
}
