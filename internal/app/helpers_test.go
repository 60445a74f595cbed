package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pdl_sync/internal/app"
	"pdl_sync/internal/domain"
	mysqlrepo "pdl_sync/internal/storage/mysql"
	"pdl_sync/internal/storage/sqlite"
)

// ---- fakes ----

type fakeUpstream struct {
	mu        sync.Mutex
	agencies  []map[string]any
	agencyErr error
	props     map[string][]map[string]any
	failures  map[string][]error // returned in order before props are served
	calls     map[string]int

	entered chan struct{} // signalled when FetchAgencies starts
	gate    chan struct{} // FetchAgencies waits for it to close
	panicky bool
}

func newUpstream(agencies ...map[string]any) *fakeUpstream {
	return &fakeUpstream{
		agencies: agencies,
		props:    map[string][]map[string]any{},
		failures: map[string][]error{},
		calls:    map[string]int{},
	}
}

func (f *fakeUpstream) FetchAgencies(ctx context.Context) ([]map[string]any, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panicky {
		panic("upstream exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["agencies"]++
	return f.agencies, f.agencyErr
}

func (f *fakeUpstream) FetchProperties(ctx context.Context, key string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if errs := f.failures[key]; len(errs) > 0 {
		f.failures[key] = errs[1:]
		return nil, errs[0]
	}
	return f.props[key], nil
}

func (f *fakeUpstream) callsFor(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// fakeCache round-trips values through JSON like the Redis adapter does.
type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
	dels  []string
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	c.store[key] = b
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	c.dels = append(c.dels, key)
	return nil
}

// ---- helpers ----

func newStore(t *testing.T) *mysqlrepo.Repo {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return mysqlrepo.New(db)
}

func newOrchestrator(up domain.Upstream, store domain.Store, opts app.SyncOptions) *app.Orchestrator {
	return app.NewOrchestrator(up, store, nil, opts)
}

func agency(name, key string) map[string]any {
	return map[string]any{"Name": name, "Key": key}
}

func transient() error {
	return &domain.UpstreamError{Kind: domain.Transient, Op: "properties", Status: 503, Err: errors.New("service unavailable")}
}

func notFound() error {
	return &domain.UpstreamError{Kind: domain.Permanent, Op: "properties", Status: 404, Err: errors.New("not found")}
}

func pstr(s string) *string { return &s }
