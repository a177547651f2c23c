package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/meridian/finrag/internal/models"
)

// ErrSymbolNotFound is returned when no live market record exists for a symbol.
var ErrSymbolNotFound = errors.New("symbol not found")

// Quote is the latest observed market state for one symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	ChangePct float64   `json:"change_pct"`
	Summary   string    `json:"summary,omitempty"`
	AsOf      time.Time `json:"as_of"`
}

// MarketData resolves symbols to their latest quotes.
type MarketData interface {
	Quote(ctx context.Context, symbol string) (*Quote, error)
}

// recordRanger iterates live records. Satisfied by vector.MemoryIndex.
type recordRanger interface {
	Range(fn func(*models.Record) bool)
}

// IndexMarketData serves quotes from market records already flowing through
// the index, so the copilot sees the same freshness as retrieval does.
type IndexMarketData struct {
	index recordRanger
}

// NewIndexMarketData creates a MarketData view over the live index.
func NewIndexMarketData(index recordRanger) *IndexMarketData {
	return &IndexMarketData{index: index}
}

// Quote returns the freshest market record for symbol, by logical time.
func (m *IndexMarketData) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var latest *models.Record
	m.index.Range(func(rec *models.Record) bool {
		if rec.SourceKind != models.SourceMarket {
			return true
		}
		sym, ok := rec.Metadata.Get("symbol")
		if !ok || sym != symbol {
			return true
		}
		if latest == nil || rec.LogicalTime > latest.LogicalTime {
			latest = rec
		}
		return ctx.Err() == nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	q := &Quote{Symbol: symbol, Summary: latest.Body, AsOf: latest.ObservedAt}
	if v, ok := latest.Metadata.Get("price"); ok {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed price for %s: %w", symbol, err)
		}
		q.Price = p
	}
	if v, ok := latest.Metadata.Get("change_pct"); ok {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed change_pct for %s: %w", symbol, err)
		}
		q.ChangePct = c
	}
	return q, nil
}
