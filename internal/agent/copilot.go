// Package agent exposes the decision-support surface: grounded question
// answering and portfolio analysis over the live retrieval engine.
package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridian/finrag/internal/models"
	"github.com/meridian/finrag/internal/search"
)

// SourceRef names a record that grounded an answer.
type SourceRef struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// AskResult is the outcome of one question. Error carries any failure as
// data: callers never receive a Go error or a panic from Ask.
type AskResult struct {
	Answer    string      `json:"answer,omitempty"`
	Sources   []SourceRef `json:"sources,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

// Position is one portfolio holding.
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
}

// Portfolio is the caller's current holdings.
type Portfolio struct {
	Positions []Position `json:"positions"`
	Cash      float64    `json:"cash"`
}

// PortfolioReport is the outcome of one analysis. As with AskResult, any
// failure is reported through Error.
type PortfolioReport struct {
	PortfolioValue float64   `json:"portfolio_value"`
	DailyChange    float64   `json:"daily_change"`
	RiskScore      float64   `json:"risk_score"`
	Analysis       string    `json:"analysis,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Error          string    `json:"error,omitempty"`
}

// Copilot answers questions and analyzes portfolios, grounding every response
// in the retrieval engine's current view.
type Copilot struct {
	engine    *search.Engine
	generator Generator
	market    MarketData
	logger    *zap.Logger
}

// CopilotOption configures a Copilot.
type CopilotOption func(*Copilot)

// WithLogger sets a logger for agent activity.
func WithLogger(l *zap.Logger) CopilotOption {
	return func(c *Copilot) { c.logger = l }
}

// NewCopilot creates a copilot over the given engine, generator, and market data.
func NewCopilot(engine *search.Engine, generator Generator, market MarketData, opts ...CopilotOption) *Copilot {
	c := &Copilot{engine: engine, generator: generator, market: market, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ask retrieves context for the question and generates a grounded answer.
// Retrieval degradation is tolerated (the model is told no context was
// available); retrieval and generation errors, and any panic below this
// frame, surface only through the Error field.
func (c *Copilot) Ask(ctx context.Context, question string, filter *models.Filter) (res AskResult) {
	res.Timestamp = time.Now().UTC()
	defer c.capturePanic("ask", &res.Error)

	question = strings.TrimSpace(question)
	if question == "" {
		res.Error = "question is empty"
		return res
	}
	bundle, err := c.engine.Retrieve(ctx, &models.Query{Text: question, Filter: filter})
	if err != nil {
		res.Error = fmt.Sprintf("retrieval failed: %v", err)
		return res
	}
	if bundle.Diagnostic != "" {
		c.logger.Warn("answering without retrieved context", zap.String("diagnostic", bundle.Diagnostic))
	}
	answer, err := c.generator.Generate(ctx, askSystemPrompt, buildAskPrompt(question, bundle))
	if err != nil {
		res.Error = fmt.Sprintf("generation failed: %v", err)
		return res
	}
	res.Answer = answer
	for _, sr := range bundle.Records {
		res.Sources = append(res.Sources, SourceRef{ID: sr.Record.ID, Score: sr.Score})
	}
	return res
}

// Analyze prices the portfolio from live market data, derives a risk score,
// and generates a narrative assessment. A failed quote, retrieval error, or
// generation error ends up in the Error field with whatever numbers were
// computed before the failure.
func (c *Copilot) Analyze(ctx context.Context, portfolio *Portfolio) (rep PortfolioReport) {
	rep.Timestamp = time.Now().UTC()
	defer c.capturePanic("analyze", &rep.Error)

	if portfolio == nil || (len(portfolio.Positions) == 0 && portfolio.Cash == 0) {
		rep.Error = "portfolio is empty"
		return rep
	}

	values := make(map[string]float64, len(portfolio.Positions))
	total := portfolio.Cash
	var change float64
	for _, pos := range portfolio.Positions {
		quote, err := c.market.Quote(ctx, pos.Symbol)
		if err != nil {
			rep.Error = fmt.Sprintf("market data for %s: %v", pos.Symbol, err)
			return rep
		}
		v := quote.Price * pos.Quantity
		values[pos.Symbol] += v
		total += v
		change += v * quote.ChangePct / 100
	}
	rep.PortfolioValue = total
	rep.DailyChange = change
	rep.RiskScore = concentrationRisk(values, total)

	bundle, err := c.engine.Retrieve(ctx, &models.Query{
		Text: analysisQueryText(portfolio),
		Filter: &models.Filter{
			Kinds: []models.SourceKind{models.SourceNews, models.SourceSanctions},
		},
	})
	if err != nil {
		rep.Error = fmt.Sprintf("retrieval failed: %v", err)
		return rep
	}
	analysis, err := c.generator.Generate(ctx, analyzeSystemPrompt, buildAnalyzePrompt(portfolio, &rep, bundle))
	if err != nil {
		rep.Error = fmt.Sprintf("generation failed: %v", err)
		return rep
	}
	rep.Analysis = analysis
	return rep
}

// capturePanic converts a panic below the agent boundary into an error field.
func (c *Copilot) capturePanic(op string, dst *string) {
	if r := recover(); r != nil {
		c.logger.Error("agent panic recovered", zap.String("op", op), zap.Any("panic", r))
		*dst = fmt.Sprintf("internal error: %v", r)
	}
}

// concentrationRisk scores position concentration from 0 (fully diversified)
// to 10 (single holding) using a normalized Herfindahl index over position
// weights.
func concentrationRisk(values map[string]float64, total float64) float64 {
	if total <= 0 || len(values) == 0 {
		return 0
	}
	var h float64
	for _, v := range values {
		w := v / total
		h += w * w
	}
	return math.Round(h*100) / 10
}

func analysisQueryText(p *Portfolio) string {
	symbols := make([]string, 0, len(p.Positions))
	for _, pos := range p.Positions {
		symbols = append(symbols, pos.Symbol)
	}
	sort.Strings(symbols)
	return "latest developments affecting " + strings.Join(symbols, " ")
}

func buildAnalyzePrompt(p *Portfolio, rep *PortfolioReport, bundle *models.ContextBundle) string {
	var b strings.Builder
	b.WriteString("Positions:\n")
	for _, pos := range p.Positions {
		fmt.Fprintf(&b, "- %s x %.4f\n", pos.Symbol, pos.Quantity)
	}
	fmt.Fprintf(&b, "Cash: %.2f\n", p.Cash)
	fmt.Fprintf(&b, "Total value: %.2f\nDaily change: %.2f\nConcentration risk (0-10): %.1f\n",
		rep.PortfolioValue, rep.DailyChange, rep.RiskScore)
	b.WriteString("\nRecent context:\n")
	if bundle.Empty() {
		b.WriteString("(none retrieved)\n")
	} else {
		for _, sr := range bundle.Records {
			fmt.Fprintf(&b, "[%s] %s\n", sr.Record.ID, snippet(sr.Record.Body, 300))
		}
	}
	return b.String()
}
