package studio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windriver/studio-mcp/internal/cache"
	"github.com/windriver/studio-mcp/internal/observability"
)

// fakeFetcher records calls and serves canned responses per path.
type fakeFetcher struct {
	responses map[string][]byte
	err       error
	getCalls  []string
	postCalls []string
}

func (f *fakeFetcher) Get(ctx context.Context, operation, path string) ([]byte, error) {
	f.getCalls = append(f.getCalls, path)
	if f.err != nil {
		return nil, f.err
	}
	if data, ok := f.responses[path]; ok {
		return data, nil
	}
	return []byte(`{}`), nil
}

func (f *fakeFetcher) Post(ctx context.Context, operation, path string, body interface{}) ([]byte, error) {
	f.postCalls = append(f.postCalls, path)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(`{"accepted":true}`), nil
}

func newTestProvider(t *testing.T, fetcher *fakeFetcher) (*Provider, cache.Store) {
	t.Helper()

	opts := cache.DefaultOptions()
	opts.Logger = observability.NewNoopLogger()
	opts.SweepInterval = 0
	store, err := cache.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	invalidator := cache.NewInvalidator(store, observability.NewNoopLogger())
	return NewProvider(fetcher, store, invalidator, observability.NewNoopLogger()), store
}

func TestProvider_PipelineList_CachesResult(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"/api/v1/pipelines": []byte(`[{"id":"p1"},{"id":"p2"}]`),
	}}
	provider, _ := newTestProvider(t, fetcher)

	ctx := context.Background()
	owner := cache.DefaultOwner()

	data1, err := provider.PipelineList(ctx, owner, false)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"p1"},{"id":"p2"}]`, string(data1))
	assert.Len(t, fetcher.getCalls, 1)

	// Second read is served from the cache
	data2, err := provider.PipelineList(ctx, owner, false)
	require.NoError(t, err)
	assert.Equal(t, data1, data2)
	assert.Len(t, fetcher.getCalls, 1, "cached read should not hit the API")
}

func TestProvider_BypassSkipsCacheButRefreshes(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"/api/v1/pipelines": []byte(`[{"id":"p1"}]`),
	}}
	provider, store := newTestProvider(t, fetcher)

	ctx := context.Background()
	owner := cache.DefaultOwner()

	_, err := provider.PipelineList(ctx, owner, false)
	require.NoError(t, err)

	// Bypass forces a fetch even though the entry is cached
	fetcher.responses["/api/v1/pipelines"] = []byte(`[{"id":"p1"},{"id":"p9"}]`)
	data, err := provider.PipelineList(ctx, owner, true)
	require.NoError(t, err)
	assert.Contains(t, string(data), "p9")
	assert.Len(t, fetcher.getCalls, 2)

	// The fresh result replaced the stored entry
	cached, err := store.Get(ctx, owner, cache.PipelinesListKey())
	require.NoError(t, err)
	assert.Contains(t, string(cached), "p9")
}

func TestProvider_FetchErrorPropagates(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	provider, _ := newTestProvider(t, fetcher)

	_, err := provider.PipelineList(context.Background(), cache.DefaultOwner(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestProvider_RunDetails_CompletedUsesStableKey(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"/api/v1/runs/r1": []byte(`{"id":"r1","state":"completed"}`),
	}}
	provider, store := newTestProvider(t, fetcher)

	ctx := context.Background()
	owner := cache.DefaultOwner()

	_, err := provider.RunDetails(ctx, owner, "r1", true, false)
	require.NoError(t, err)

	_, err = store.Get(ctx, owner, cache.CompletedRunKey("r1"))
	assert.NoError(t, err, "completed run should be stored under the completed key")

	_, err = store.Get(ctx, owner, cache.RunDetailsKey("r1"))
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestProvider_StartRun_InvalidatesListings(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"/api/v1/pipelines/p1/runs": []byte(`[{"id":"r1"}]`),
		"/api/v1/runs":              []byte(`[{"id":"r1"}]`),
	}}
	provider, store := newTestProvider(t, fetcher)

	ctx := context.Background()
	owner := cache.DefaultOwner()

	// Prime the listings
	_, err := provider.PipelineRuns(ctx, owner, "p1", false)
	require.NoError(t, err)
	_, err = provider.RunsList(ctx, owner, false)
	require.NoError(t, err)

	// Start a run
	_, err = provider.StartRun(ctx, owner, "p1", map[string]interface{}{"branch": "main"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/v1/pipelines/p1/runs"}, fetcher.postCalls)

	// Both listings are gone
	_, err = store.Get(ctx, owner, cache.PipelineRunsKey("p1"))
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = store.Get(ctx, owner, cache.RunsListKey())
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestProvider_CancelRun_InvalidatesRunViews(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"/api/v1/runs/r1": []byte(`{"id":"r1","state":"running"}`),
	}}
	provider, store := newTestProvider(t, fetcher)

	ctx := context.Background()
	owner := cache.DefaultOwner()

	_, err := provider.RunDetails(ctx, owner, "r1", false, false)
	require.NoError(t, err)

	_, err = provider.CancelRun(ctx, owner, "p1", "r1")
	require.NoError(t, err)

	_, err = store.Get(ctx, owner, cache.RunDetailsKey("r1"))
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestProvider_MutationScopedToOwner(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"/api/v1/runs": []byte(`[{"id":"r1"}]`),
	}}
	provider, store := newTestProvider(t, fetcher)

	ctx := context.Background()
	alice := cache.NewOwner("alice", "acme", "prod")
	bob := cache.NewOwner("bob", "acme", "prod")

	_, err := provider.RunsList(ctx, alice, false)
	require.NoError(t, err)
	_, err = provider.RunsList(ctx, bob, false)
	require.NoError(t, err)

	_, err = provider.StartRun(ctx, alice, "p1", nil)
	require.NoError(t, err)

	// Alice's listing is invalidated, Bob's survives
	_, err = store.Get(ctx, alice, cache.RunsListKey())
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = store.Get(ctx, bob, cache.RunsListKey())
	assert.NoError(t, err)
}

func TestProvider_Warm(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"/api/v1/pipelines":    []byte(`[{"id":"p1"},{"id":"p2"}]`),
		"/api/v1/pipelines/p1": []byte(`{"id":"p1","stages":[]}`),
		"/api/v1/pipelines/p2": []byte(`{"id":"p2","stages":[]}`),
	}}
	provider, store := newTestProvider(t, fetcher)

	ctx := context.Background()
	owner := cache.DefaultOwner()

	require.NoError(t, provider.Warm(ctx, owner))

	for _, key := range []string{
		cache.PipelinesListKey(),
		cache.PipelineDefinitionKey("p1"),
		cache.PipelineDefinitionKey("p2"),
	} {
		_, err := store.Get(ctx, owner, key)
		assert.NoError(t, err, "expected %s to be warmed", key)
	}
}

func TestPipelineIDs(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{"bare array", `[{"id":"a"},{"id":"b"}]`, []string{"a", "b"}},
		{"wrapped object", `{"pipelines":[{"id":"a"}]}`, []string{"a"}},
		{"missing ids skipped", `[{"id":"a"},{"name":"x"}]`, []string{"a"}},
		{"invalid json", `not json`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pipelineIDs([]byte(tt.data)))
		})
	}
}
