package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestPool(t *testing.T, maxConns int) *Pool {
	t.Helper()
	p, err := Open(Config{
		URL:             filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:  maxConns,
		IdleTimeout:     time.Second,
		CheckoutTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() { p.Shutdown() })
	return p
}

func TestGetRelease(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	c, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	stats := p.Stats()
	if stats.ActiveConnections != 1 || stats.TotalConnections != 1 {
		t.Errorf("stats after checkout: %+v", stats)
	}

	p.Release(c)
	stats = p.Stats()
	if stats.ActiveConnections != 0 || stats.IdleConnections != 1 {
		t.Errorf("stats after release: %+v", stats)
	}
}

func TestConnectionWorks(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	err := p.WithConnection(ctx, func(c *Conn) error {
		var one int
		return c.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
	if err != nil {
		t.Fatalf("with connection: %v", err)
	}
}

func TestPoolInvariants(t *testing.T) {
	p := newTestPool(t, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.WithConnection(ctx, func(c *Conn) error {
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}

	deadline := time.After(3 * time.Second)
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	for {
		stats := p.Stats()
		if stats.ActiveConnections+stats.IdleConnections > stats.TotalConnections {
			t.Fatalf("active+idle > total: %+v", stats)
		}
		if stats.TotalConnections > stats.MaxConnections {
			t.Fatalf("total > max: %+v", stats)
		}
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("workers did not finish")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSaturationFIFO(t *testing.T) {
	p := newTestPool(t, 1)
	ctx := context.Background()

	var order []int
	var orderMu sync.Mutex
	var peakWaiting int64

	started := make(chan int, 3)
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			started <- n
			p.WithConnection(ctx, func(c *Conn) error {
				time.Sleep(50 * time.Millisecond)
				orderMu.Lock()
				order = append(order, n)
				orderMu.Unlock()
				return nil
			})
		}(i)
		// Give each goroutine time to enqueue before the next starts.
		<-started
		time.Sleep(20 * time.Millisecond)
		if w := int64(p.Stats().WaitingRequests); w > atomic.LoadInt64(&peakWaiting) {
			atomic.StoreInt64(&peakWaiting, w)
		}
	}
	wg.Wait()

	if len(order) != 3 {
		t.Fatalf("completed %d ops, want 3", len(order))
	}
	for i, want := range []int{1, 2, 3} {
		if order[i] != want {
			t.Fatalf("completion order = %v, want [1 2 3]", order)
		}
	}
	if peakWaiting != 2 {
		t.Errorf("peak waiting = %d, want 2", peakWaiting)
	}
}

func TestCheckoutTimeout(t *testing.T) {
	p := newTestPool(t, 1)
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	go p.WithConnection(ctx, func(c *Conn) error {
		close(holding)
		<-release
		return nil
	})
	<-holding

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Get(shortCtx)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrCheckoutTimeout) {
		t.Fatalf("expected ErrCheckoutTimeout, got %v", err)
	}
	if elapsed < 100*time.Millisecond || elapsed > 250*time.Millisecond {
		t.Errorf("timeout took %v, want ~100ms", elapsed)
	}

	// The pool recovers once the slow op finishes: no leaked waiter.
	close(release)
	time.Sleep(20 * time.Millisecond)
	if w := p.Stats().WaitingRequests; w != 0 {
		t.Errorf("waiting requests after recovery = %d", w)
	}
	if err := p.WithConnection(ctx, func(c *Conn) error { return nil }); err != nil {
		t.Errorf("checkout after recovery: %v", err)
	}
}

func TestShutdown(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	if err := p.WithConnection(ctx, func(c *Conn) error { return nil }); err != nil {
		t.Fatalf("with connection: %v", err)
	}

	if err := p.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	// Idempotent.
	if err := p.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	if _, err := p.Get(ctx); !errors.Is(err, ErrPoolShuttingDown) {
		t.Errorf("expected ErrPoolShuttingDown, got %v", err)
	}
}

func TestShutdownRejectsWaiters(t *testing.T) {
	p := newTestPool(t, 1)
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	go p.WithConnection(ctx, func(c *Conn) error {
		close(holding)
		<-release
		return nil
	})
	<-holding

	waiterErr := make(chan error, 1)
	go func() {
		_, err := p.Get(ctx)
		waiterErr <- err
	}()
	// Let the waiter enqueue.
	for p.Stats().WaitingRequests == 0 {
		time.Sleep(time.Millisecond)
	}

	go p.Shutdown()
	if err := <-waiterErr; !errors.Is(err, ErrPoolShuttingDown) {
		t.Errorf("waiter got %v, want ErrPoolShuttingDown", err)
	}
	close(release)
}

func TestWithTransaction(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	err := p.WithConnection(ctx, func(c *Conn) error {
		if _, err := c.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`); err != nil {
			return err
		}

		// Committed transaction persists.
		if err := c.WithTransaction(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO t (v) VALUES ('kept')`)
			return err
		}); err != nil {
			return err
		}

		// Failed transaction rolls back.
		wantErr := errors.New("boom")
		err := c.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `INSERT INTO t (v) VALUES ('dropped')`); err != nil {
				return err
			}
			return wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Errorf("expected boom, got %v", err)
		}

		var count int
		if err := c.QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&count); err != nil {
			return err
		}
		if count != 1 {
			t.Errorf("row count = %d, want 1 (rollback leaked)", count)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestIdleReaper(t *testing.T) {
	p, err := Open(Config{
		URL:             filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:  5,
		IdleTimeout:     100 * time.Millisecond,
		CheckoutTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	defer p.Shutdown()

	// Check out 5 at once, then release them all to the idle set.
	ctx := context.Background()
	conns := make([]*Conn, 5)
	for i := range conns {
		conns[i], err = p.Get(ctx)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
	}
	for _, c := range conns {
		p.Release(c)
	}
	if got := p.Stats().IdleConnections; got != 5 {
		t.Fatalf("idle = %d, want 5", got)
	}

	// After the idle timeout the reaper shrinks the pool to the floor.
	deadline := time.After(2 * time.Second)
	for {
		if p.Stats().IdleConnections <= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("reaper never shrank pool: %+v", p.Stats())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
