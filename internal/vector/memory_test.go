package vector

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/finrag/internal/models"
)

func rec(id string, logical uint64, vec ...float32) *models.Record {
	return &models.Record{ID: id, Body: id, SourceKind: models.SourceDocument, LogicalTime: logical, Vector: vec}
}

func TestMemoryIndex_UpsertQuery(t *testing.T) {
	idx, err := NewMemoryIndex(3, MetricCosine)
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	for _, r := range []*models.Record{
		rec("a", 1, 1, 0, 0),
		rec("b", 1, 0.9, 0.1, 0),
		rec("c", 1, 0, 1, 0),
	} {
		applied, err := idx.Upsert(ctx, r)
		require.NoError(t, err)
		assert.True(t, applied)
	}
	assert.Equal(t, 3, idx.Len())

	results, err := idx.Query(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Record.ID)
	assert.Equal(t, "b", results[1].Record.ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestMemoryIndex_LastWriteWinsOrderIndependent(t *testing.T) {
	// Every permutation of the same set of versions must converge on the
	// greatest logical time.
	versions := []*models.Record{
		rec("doc-1", 3, 0, 0, 1),
		rec("doc-1", 1, 1, 0, 0),
		rec("doc-1", 2, 0, 1, 0),
	}
	ctx := context.Background()
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		idx, err := NewMemoryIndex(3, MetricCosine)
		require.NoError(t, err)
		for _, i := range p {
			_, err := idx.Upsert(ctx, versions[i])
			require.NoError(t, err)
		}
		got, ok := idx.Get("doc-1")
		require.True(t, ok)
		assert.Equal(t, uint64(3), got.LogicalTime, "permutation %v", p)
		assert.Equal(t, 1, idx.Len())
	}
}

func TestMemoryIndex_StaleWriteRejected(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()

	applied, err := idx.Upsert(ctx, rec("doc-1", 1, 1, 0))
	require.NoError(t, err)
	assert.True(t, applied)

	// Logical time 0 arrives after 1: must be a silent no-op.
	applied, err = idx.Upsert(ctx, rec("doc-1", 0, 0, 1))
	require.NoError(t, err)
	assert.False(t, applied)

	got, ok := idx.Get("doc-1")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0}, got.Vector)
	assert.Equal(t, uint64(1), idx.StaleWrites())
}

func TestMemoryIndex_EqualLogicalTimeReplaces(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()

	_, _ = idx.Upsert(ctx, rec("doc-1", 5, 1, 0))
	applied, err := idx.Upsert(ctx, rec("doc-1", 5, 0, 1))
	require.NoError(t, err)
	assert.True(t, applied)

	got, _ := idx.Get("doc-1")
	assert.Equal(t, []float32{0, 1}, got.Vector)
}

func TestMemoryIndex_DeleteHidesRecord(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()

	_, _ = idx.Upsert(ctx, rec("doc-1", 1, 1, 0))
	assert.True(t, idx.Delete(ctx, "doc-1", 2))
	assert.Equal(t, 0, idx.Len())

	_, ok := idx.Get("doc-1")
	assert.False(t, ok)

	results, err := idx.Query(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryIndex_StaleUpsertAfterDeleteStaysDead(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()

	_, _ = idx.Upsert(ctx, rec("doc-1", 1, 1, 0))
	idx.Delete(ctx, "doc-1", 3)

	// An upsert with logical time 2 arrives after the delete at 3: the
	// tombstone must win regardless of arrival order.
	applied, err := idx.Upsert(ctx, rec("doc-1", 2, 0, 1))
	require.NoError(t, err)
	assert.False(t, applied)

	results, _ := idx.Query(ctx, []float32{0, 1}, 10, nil)
	assert.Empty(t, results)
}

func TestMemoryIndex_UpsertAfterDeleteReappears(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()

	_, _ = idx.Upsert(ctx, rec("doc-1", 1, 1, 0))
	idx.Delete(ctx, "doc-1", 2)

	applied, err := idx.Upsert(ctx, rec("doc-1", 3, 0, 1))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, idx.Len())

	results, err := idx.Query(ctx, []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []float32{0, 1}, results[0].Record.Vector)
}

func TestMemoryIndex_DeleteUnknownLeavesTombstone(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()

	assert.True(t, idx.Delete(ctx, "ghost", 5))
	applied, err := idx.Upsert(ctx, rec("ghost", 4, 1, 0))
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMemoryIndex_QueryFilter(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()

	news := rec("n-1", 1, 1, 0)
	news.SourceKind = models.SourceNews
	market := rec("m-1", 1, 1, 0)
	market.SourceKind = models.SourceMarket
	market.Metadata = models.Metadata{{Key: "symbol", Value: "AAPL"}}
	_, _ = idx.Upsert(ctx, news)
	_, _ = idx.Upsert(ctx, market)

	results, err := idx.Query(ctx, []float32{1, 0}, 10, &models.Filter{Kinds: []models.SourceKind{models.SourceMarket}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m-1", results[0].Record.ID)

	results, err = idx.Query(ctx, []float32{1, 0}, 10, &models.Filter{Metadata: map[string]string{"symbol": "MSFT"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryIndex_TieBreakByLogicalTime(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()

	// Identical vectors score identically; the fresher record must rank first.
	_, _ = idx.Upsert(ctx, rec("old", 1, 1, 0))
	_, _ = idx.Upsert(ctx, rec("new", 9, 1, 0))

	results, err := idx.Query(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "new", results[0].Record.ID)
	assert.Equal(t, "old", results[1].Record.ID)
}

func TestMemoryIndex_QueryCancelled(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()
	_, _ = idx.Upsert(ctx, rec("a", 1, 1, 0))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := idx.Query(cancelled, []float32{1, 0}, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryIndex_Compact(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()

	_, _ = idx.Upsert(ctx, rec("doc-1", 1, 1, 0))
	idx.Delete(ctx, "doc-1", 2)

	assert.Equal(t, 0, idx.Compact(time.Hour), "fresh tombstone must be retained")
	assert.Equal(t, 1, idx.Compact(0))

	// After reclamation the freshness history is gone; a stale upsert succeeds
	// as a brand new record. Callers choose retention accordingly.
	applied, _ := idx.Upsert(ctx, rec("doc-1", 1, 1, 0))
	assert.True(t, applied)
}

func TestMemoryIndex_ConcurrentWritersAndReaders(t *testing.T) {
	idx, _ := NewMemoryIndex(4, MetricCosine)
	ctx := context.Background()
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("rec-%d", rng.Intn(50))
				r := rec(id, uint64(i), rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32())
				if rng.Intn(10) == 0 {
					idx.Delete(ctx, id, uint64(i))
				} else if _, err := idx.Upsert(ctx, r); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 10, nil); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, idx.Len(), 50)
}

func TestMemoryIndex_ReadYourWrites(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("rec-%d", i)
		_, err := idx.Upsert(ctx, rec(id, 1, 1, 0))
		require.NoError(t, err)
		results, err := idx.Query(ctx, []float32{1, 0}, i+1, nil)
		require.NoError(t, err)
		found := false
		for _, r := range results {
			if r.Record.ID == id {
				found = true
				break
			}
		}
		assert.True(t, found, "upserted record %s must be visible immediately", id)
	}
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3, MetricCosine)
	ctx := context.Background()

	_, err := idx.Upsert(ctx, rec("a", 1, 1, 0))
	assert.Error(t, err)

	_, err = idx.Query(ctx, []float32{1, 0}, 1, nil)
	assert.Error(t, err)
}
