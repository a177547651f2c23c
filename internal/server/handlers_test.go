package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridian/finrag/internal/agent"
	"github.com/meridian/finrag/internal/config"
	"github.com/meridian/finrag/internal/embedding"
	"github.com/meridian/finrag/internal/models"
	"github.com/meridian/finrag/internal/pipeline"
	"github.com/meridian/finrag/internal/search"
	"github.com/meridian/finrag/internal/vector"
)

type cannedGenerator struct{ answer string }

func (g *cannedGenerator) Generate(context.Context, string, string) (string, error) {
	return g.answer, nil
}

type unreachableMarket struct{}

func (unreachableMarket) Quote(context.Context, string) (*agent.Quote, error) {
	return nil, errors.New("feed unreachable")
}

func newTestServer(t *testing.T) (*Server, *vector.MemoryIndex) {
	t.Helper()
	emb := embedding.NewMockEmbedder(8)
	idx, err := vector.NewMemoryIndex(8, vector.MetricCosine)
	require.NoError(t, err)
	ctx := context.Background()
	vec, err := emb.Embed(ctx, "AAPL raised guidance on services strength")
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, &models.Record{
		ID:          "news-1",
		Body:        "AAPL raised guidance on services strength",
		SourceKind:  models.SourceNews,
		LogicalTime: 1,
		Vector:      vec,
	})
	require.NoError(t, err)

	engine := search.NewEngine(idx, emb, search.DefaultConfig())
	copilot := agent.NewCopilot(engine, &cannedGenerator{answer: "Guidance was raised [news-1]."}, unreachableMarket{})
	srv := NewServer(copilot, &pipeline.Metrics{}, idx, &config.ServerConfig{Host: "localhost", Port: 0}, zap.NewNop())
	return srv, idx
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleAsk(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/ask", askRequest{Question: "what about AAPL guidance?"})

	require.Equal(t, http.StatusOK, rec.Code)
	var res agent.AskResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Empty(t, res.Error)
	assert.Equal(t, "Guidance was raised [news-1].", res.Answer)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "news-1", res.Sources[0].ID)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleAsk_badBody(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAnalyze_errorInBody(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/analyze", analyzeRequest{
		Portfolio: agent.Portfolio{Positions: []agent.Position{{Symbol: "AAPL", Quantity: 1}}},
	})

	// Agent failures are data, not transport errors.
	require.Equal(t, http.StatusOK, rec.Code)
	var rep agent.PortfolioReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rep))
	assert.Contains(t, rep.Error, "market data for AAPL")
}

func TestHandleStatus(t *testing.T) {
	srv, idx := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		IndexSize int                      `json:"index_size"`
		Pipeline  pipeline.MetricsSnapshot `json:"pipeline"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, idx.Len(), resp.IndexSize)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
