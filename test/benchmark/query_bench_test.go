// Package benchmark holds index throughput benchmarks.
package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/meridian/finrag/internal/embedding"
	"github.com/meridian/finrag/internal/models"
	"github.com/meridian/finrag/internal/vector"
)

func seed(b *testing.B, n, dims int) (*vector.MemoryIndex, []float32) {
	b.Helper()
	emb := embedding.NewMockEmbedder(dims)
	idx, err := vector.NewMemoryIndex(dims, vector.MetricCosine)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < n; i++ {
		body := fmt.Sprintf("record body %d", i)
		vec, err := emb.Embed(ctx, body)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := idx.Upsert(ctx, &models.Record{
			ID:          fmt.Sprintf("rec-%d", i),
			Body:        body,
			SourceKind:  models.SourceNews,
			LogicalTime: 1,
			Vector:      vec,
		}); err != nil {
			b.Fatal(err)
		}
	}
	qv, err := emb.Embed(ctx, "benchmark query")
	if err != nil {
		b.Fatal(err)
	}
	return idx, qv
}

func BenchmarkQuery10k(b *testing.B) {
	idx, qv := seed(b, 10_000, 128)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := idx.Query(ctx, qv, 10, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkQueryDuringWrites(b *testing.B) {
	idx, qv := seed(b, 10_000, 128)
	ctx := context.Background()
	emb := embedding.NewMockEmbedder(128)
	stop := make(chan struct{})
	go func() {
		var lt uint64 = 2
		for {
			select {
			case <-stop:
				return
			default:
			}
			vec, _ := emb.Embed(ctx, "churn")
			_, _ = idx.Upsert(ctx, &models.Record{
				ID: "rec-0", Body: "churn", SourceKind: models.SourceNews,
				LogicalTime: lt, Vector: vec,
			})
			lt++
		}
	}()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := idx.Query(ctx, qv, 10, nil); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	close(stop)
}

func BenchmarkUpsert(b *testing.B) {
	emb := embedding.NewMockEmbedder(128)
	idx, err := vector.NewMemoryIndex(128, vector.MetricCosine)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	vec, err := emb.Embed(ctx, "upsert benchmark body")
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := idx.Upsert(ctx, &models.Record{
			ID:          fmt.Sprintf("rec-%d", i%1000),
			Body:        "upsert benchmark body",
			SourceKind:  models.SourceNews,
			LogicalTime: uint64(i + 1),
			Vector:      vec,
		}); err != nil {
			b.Fatal(err)
		}
	}
}
