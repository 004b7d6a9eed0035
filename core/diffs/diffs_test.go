package diffs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memCache is an in-memory Cache.
type memCache struct {
	mu    sync.Mutex
	diffs map[string]schema.CommitDiff
	err   error
}

func newMemCache() *memCache {
	return &memCache{diffs: make(map[string]schema.CommitDiff)}
}

func (c *memCache) GetDiff(_ context.Context, repo, sha string) (*schema.CommitDiff, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	d, ok := c.diffs[repo+"/"+sha]
	if !ok {
		return nil, false, nil
	}
	return &d, true, nil
}

func (c *memCache) SaveDiff(_ context.Context, diff schema.CommitDiff) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diffs[diff.Repo+"/"+diff.SHA] = diff
	return nil
}

var patch = []schema.FilePatch{{Path: "a.go", Patch: "+x\n", Additions: 1}}

func TestFetchUnitDiffs(t *testing.T) {
	src := &contract.MockCommitSource{}
	cache := newMemCache()
	cache.diffs["api/cached"] = schema.CommitDiff{SHA: "cached", Repo: "api", Files: patch}

	transient := contract.NewTransientError("fetch", errors.New("429"))
	src.On("FetchDiff", mock.Anything, "acme", "api", "flaky").Return(nil, transient).Once()
	src.On("FetchDiff", mock.Anything, "acme", "api", "flaky").Return(patch, nil).Once()
	src.On("FetchDiff", mock.Anything, "acme", "api", "gone").Return(nil, errors.New("bad object")).Once()
	src.On("FetchDiff", mock.Anything, "acme", "api", "slow").Return(nil, transient).Times(3)

	f := NewFetcher(src, cache, contract.RetryPolicy{Attempts: 3}, nil, nil)
	diffs, stats, err := f.FetchUnitDiffs(context.Background(), "acme", "api", []string{"cached", "flaky", "gone", "slow"})

	require.NoError(t, err)
	require.Len(t, diffs, 4)
	assert.Equal(t, Stats{CacheHits: 1, Fetched: 1, Partial: 2}, stats)
	assert.Equal(t, patch, diffs[1].Files)
	assert.True(t, diffs[2].Partial)
	assert.Contains(t, diffs[2].Error, "bad object")
	assert.True(t, diffs[3].Partial)
	src.AssertExpectations(t)

	// Complete diffs come from the cache. Partial ones are fetched again:
	// "gone" still fails, "slow" recovers and replaces its cache entry.
	src.On("FetchDiff", mock.Anything, "acme", "api", "gone").Return(nil, errors.New("bad object")).Once()
	src.On("FetchDiff", mock.Anything, "acme", "api", "slow").Return(patch, nil).Once()
	diffs, stats, err = f.FetchUnitDiffs(context.Background(), "acme", "api", []string{"flaky", "gone", "slow"})
	require.NoError(t, err)
	assert.Equal(t, Stats{CacheHits: 1, Fetched: 1, Partial: 1}, stats)
	assert.True(t, diffs[1].Partial)
	assert.False(t, diffs[2].Partial)
	assert.Equal(t, patch, diffs[2].Files)
	src.AssertNumberOfCalls(t, "FetchDiff", 8)

	cached, hit, err := cache.GetDiff(context.Background(), "api", "slow")
	require.NoError(t, err)
	require.True(t, hit)
	assert.False(t, cached.Partial)
	assert.Empty(t, cached.Error)

	diffs, stats, err = f.FetchUnitDiffs(context.Background(), "acme", "api", []string{"slow"})
	require.NoError(t, err)
	assert.Equal(t, Stats{CacheHits: 1}, stats)
	assert.Equal(t, patch, diffs[0].Files)
	src.AssertNumberOfCalls(t, "FetchDiff", 8)
}

func TestFetchUnitDiffs_CacheError(t *testing.T) {
	cache := newMemCache()
	cache.err = assert.AnError
	f := NewFetcher(&contract.MockCommitSource{}, cache, contract.RetryPolicy{Attempts: 1}, nil, nil)

	_, _, err := f.FetchUnitDiffs(context.Background(), "acme", "api", []string{"a"})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestFetchUnitDiffs_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFetcher(&contract.MockCommitSource{}, newMemCache(), contract.RetryPolicy{Attempts: 1}, nil, nil)

	_, _, err := f.FetchUnitDiffs(ctx, "acme", "api", []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatsAdd(t *testing.T) {
	s := Stats{CacheHits: 1}
	s.Add(Stats{CacheHits: 2, Fetched: 3, Partial: 1})
	assert.Equal(t, Stats{CacheHits: 3, Fetched: 3, Partial: 1}, s)
}
