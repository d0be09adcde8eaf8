package exchange

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"botforge/backend/internal/model"
)

// SimClient is an in-process exchange adapter. It fills every order
// immediately at a configured mark price and keeps no real connection.
// Used in development mode and by the test suite.
type SimClient struct {
	mu     sync.Mutex
	pair   model.Pair
	marks  map[string]decimal.Decimal
	closed bool
}

// NewSimClient creates a simulated adapter for a pair
func NewSimClient(pair model.Pair) *SimClient {
	return &SimClient{
		pair:  pair,
		marks: make(map[string]decimal.Decimal),
	}
}

// SimFactory returns a Factory producing simulated adapters
func SimFactory() Factory {
	return func(ctx context.Context, pair model.Pair, cfg model.SessionConfig) (Client, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewSimClient(pair), nil
	}
}

// SetMarkPrice sets the fill price for a symbol
func (s *SimClient) SetMarkPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[strings.ToUpper(symbol)] = price
}

// Ready verifies the adapter holds a usable connection
func (s *SimClient) Ready(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Transientf("adapter closed")
	}
	return ctx.Err()
}

// PlaceMarketOrder fills at the mark price
func (s *SimClient) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return s.fill(ctx, req, s.markPrice(req.Pair.Symbol))
}

// PlaceLimitOrder fills at the limit price
func (s *SimClient) PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	price := req.LimitPrice
	if price.IsZero() {
		price = s.markPrice(req.Pair.Symbol)
	}
	return s.fill(ctx, req, price)
}

// Close marks the adapter unusable
func (s *SimClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SimClient) markPrice(symbol string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.marks[strings.ToUpper(symbol)]; ok {
		return p
	}
	return decimal.NewFromInt(100)
}

func (s *SimClient) fill(ctx context.Context, req OrderRequest, price decimal.Decimal) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, Transientf("adapter closed")
	}
	return &OrderResult{
		ExchangeOrderID:  uuid.New().String(),
		ExecutedPrice:    price,
		ExecutedQuantity: req.Quantity,
	}, nil
}
