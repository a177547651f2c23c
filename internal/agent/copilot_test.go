package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/finrag/internal/embedding"
	"github.com/meridian/finrag/internal/models"
	"github.com/meridian/finrag/internal/search"
	"github.com/meridian/finrag/internal/vector"
)

// stubGenerator returns a canned answer, an error, or panics.
type stubGenerator struct {
	answer     string
	err        error
	panicWith  any
	lastPrompt string
}

func (g *stubGenerator) Generate(_ context.Context, _ string, userPrompt string) (string, error) {
	g.lastPrompt = userPrompt
	if g.panicWith != nil {
		panic(g.panicWith)
	}
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

// stubMarket serves quotes from a map.
type stubMarket struct {
	quotes map[string]*Quote
	err    error
}

func (m *stubMarket) Quote(_ context.Context, symbol string) (*Quote, error) {
	if m.err != nil {
		return nil, m.err
	}
	q, ok := m.quotes[symbol]
	if !ok {
		return nil, ErrSymbolNotFound
	}
	return q, nil
}

func newTestEngine(t *testing.T, recs ...*models.Record) (*search.Engine, *vector.MemoryIndex) {
	t.Helper()
	emb := embedding.NewMockEmbedder(8)
	idx, err := vector.NewMemoryIndex(8, vector.MetricCosine)
	require.NoError(t, err)
	ctx := context.Background()
	for _, rec := range recs {
		vec, err := emb.Embed(ctx, rec.Body)
		require.NoError(t, err)
		rec.Vector = vec
		_, err = idx.Upsert(ctx, rec)
		require.NoError(t, err)
	}
	return search.NewEngine(idx, emb, search.DefaultConfig()), idx
}

func TestCopilot_Ask(t *testing.T) {
	engine, _ := newTestEngine(t,
		&models.Record{ID: "news-1", Body: "AAPL guidance raised for Q3", SourceKind: models.SourceNews, LogicalTime: 1},
	)
	gen := &stubGenerator{answer: "Guidance was raised [news-1]."}
	c := NewCopilot(engine, gen, &stubMarket{})

	res := c.Ask(context.Background(), "what happened to AAPL guidance?", nil)
	assert.Empty(t, res.Error)
	assert.Equal(t, "Guidance was raised [news-1].", res.Answer)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "news-1", res.Sources[0].ID)
	assert.Contains(t, gen.lastPrompt, "[news-1]")
	assert.False(t, res.Timestamp.IsZero())
}

func TestCopilot_AskEmptyQuestion(t *testing.T) {
	engine, _ := newTestEngine(t)
	c := NewCopilot(engine, &stubGenerator{answer: "x"}, &stubMarket{})

	res := c.Ask(context.Background(), "   ", nil)
	assert.Equal(t, "question is empty", res.Error)
	assert.Empty(t, res.Answer)
}

func TestCopilot_AskGenerationFailure(t *testing.T) {
	engine, _ := newTestEngine(t,
		&models.Record{ID: "a", Body: "indexed body", SourceKind: models.SourceNews, LogicalTime: 1},
	)
	gen := &stubGenerator{err: errors.New("model overloaded")}
	c := NewCopilot(engine, gen, &stubMarket{})

	res := c.Ask(context.Background(), "anything", nil)
	assert.Contains(t, res.Error, "generation failed")
	assert.Empty(t, res.Answer)
}

func TestCopilot_AskPanicBecomesError(t *testing.T) {
	engine, _ := newTestEngine(t)
	gen := &stubGenerator{panicWith: "nil map write"}
	c := NewCopilot(engine, gen, &stubMarket{})

	var res AskResult
	require.NotPanics(t, func() {
		res = c.Ask(context.Background(), "anything", nil)
	})
	assert.Contains(t, res.Error, "internal error")
}

func TestCopilot_Analyze(t *testing.T) {
	engine, _ := newTestEngine(t,
		&models.Record{ID: "news-1", Body: "semiconductor demand stays hot", SourceKind: models.SourceNews, LogicalTime: 1},
	)
	market := &stubMarket{quotes: map[string]*Quote{
		"AAPL": {Symbol: "AAPL", Price: 200, ChangePct: 1.0},
		"NVDA": {Symbol: "NVDA", Price: 100, ChangePct: -2.0},
	}}
	gen := &stubGenerator{answer: "Balanced but tech heavy."}
	c := NewCopilot(engine, gen, market)

	rep := c.Analyze(context.Background(), &Portfolio{
		Positions: []Position{{Symbol: "AAPL", Quantity: 10}, {Symbol: "NVDA", Quantity: 20}},
		Cash:      1000,
	})
	assert.Empty(t, rep.Error)
	assert.InDelta(t, 5000.0, rep.PortfolioValue, 1e-9) // 2000 + 2000 + 1000 cash
	assert.InDelta(t, -20.0, rep.DailyChange, 1e-9)     // +20 - 40
	assert.Greater(t, rep.RiskScore, 0.0)
	assert.LessOrEqual(t, rep.RiskScore, 10.0)
	assert.Equal(t, "Balanced but tech heavy.", rep.Analysis)
}

func TestCopilot_AnalyzeSplitLotsMatchMergedPosition(t *testing.T) {
	engine, _ := newTestEngine(t)
	market := &stubMarket{quotes: map[string]*Quote{
		"AAPL": {Symbol: "AAPL", Price: 200, ChangePct: 1.0},
		"NVDA": {Symbol: "NVDA", Price: 100, ChangePct: -2.0},
	}}
	c := NewCopilot(engine, &stubGenerator{answer: "x"}, market)

	// The same holding bought in two lots must weigh like one position.
	split := c.Analyze(context.Background(), &Portfolio{
		Positions: []Position{
			{Symbol: "AAPL", Quantity: 6},
			{Symbol: "AAPL", Quantity: 4},
			{Symbol: "NVDA", Quantity: 20},
		},
	})
	merged := c.Analyze(context.Background(), &Portfolio{
		Positions: []Position{
			{Symbol: "AAPL", Quantity: 10},
			{Symbol: "NVDA", Quantity: 20},
		},
	})
	require.Empty(t, split.Error)
	require.Empty(t, merged.Error)
	assert.InDelta(t, merged.PortfolioValue, split.PortfolioValue, 1e-9)
	assert.InDelta(t, merged.RiskScore, split.RiskScore, 1e-9)
	// AAPL 2000 + NVDA 2000: two equal weights, Herfindahl 0.5.
	assert.InDelta(t, 5.0, split.RiskScore, 1e-9)
}

func TestCopilot_AnalyzeMarketFailure(t *testing.T) {
	engine, _ := newTestEngine(t)
	market := &stubMarket{err: errors.New("feed unreachable")}
	c := NewCopilot(engine, &stubGenerator{answer: "x"}, market)

	var rep PortfolioReport
	require.NotPanics(t, func() {
		rep = c.Analyze(context.Background(), &Portfolio{
			Positions: []Position{{Symbol: "AAPL", Quantity: 1}},
		})
	})
	assert.Contains(t, rep.Error, "market data for AAPL")
	assert.Empty(t, rep.Analysis)
}

func TestCopilot_AnalyzeEmptyPortfolio(t *testing.T) {
	engine, _ := newTestEngine(t)
	c := NewCopilot(engine, &stubGenerator{answer: "x"}, &stubMarket{})

	rep := c.Analyze(context.Background(), nil)
	assert.Equal(t, "portfolio is empty", rep.Error)
}

func TestIndexMarketData_Quote(t *testing.T) {
	_, idx := newTestEngine(t)
	ctx := context.Background()
	emb := embedding.NewMockEmbedder(8)

	put := func(id string, lt uint64, price string) {
		body := "AAPL trading update " + price
		vec, err := emb.Embed(ctx, body)
		require.NoError(t, err)
		_, err = idx.Upsert(ctx, &models.Record{
			ID:         id,
			Body:       body,
			SourceKind: models.SourceMarket,
			Metadata: models.Metadata{
				{Key: "symbol", Value: "AAPL"},
				{Key: "price", Value: price},
				{Key: "change_pct", Value: "0.5"},
			},
			LogicalTime: lt,
			Vector:      vec,
			ObservedAt:  time.Now(),
		})
		require.NoError(t, err)
	}
	put("mkt-1", 1, "199.10")
	put("mkt-2", 2, "201.40")

	md := NewIndexMarketData(idx)
	q, err := md.Quote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 201.40, q.Price)
	assert.Equal(t, 0.5, q.ChangePct)

	_, err = md.Quote(ctx, "MSFT")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}
