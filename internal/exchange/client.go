package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"botforge/backend/internal/model"
)

// OrderRequest describes a single order submitted to an exchange
type OrderRequest struct {
	Pair       model.Pair
	Action     string
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
}

// OrderResult is the exchange's acknowledgement of a filled order
type OrderResult struct {
	ExchangeOrderID  string
	ExecutedPrice    decimal.Decimal
	ExecutedQuantity decimal.Decimal
}

// Client is a connected exchange adapter bound to one trading pair.
// Implementations are not required to be safe for concurrent use;
// each bot session owns exactly one client.
type Client interface {
	// Ready verifies the adapter holds a usable connection
	Ready(ctx context.Context) error

	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	Close() error
}

// Factory opens an adapter for a pair. Called once per session start,
// under the orchestrator's connect timeout.
type Factory func(ctx context.Context, pair model.Pair, cfg model.SessionConfig) (Client, error)

// transientError marks a failure worth retrying
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient wraps err so callers retry it
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf formats a retryable error
func Transientf(format string, args ...interface{}) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is retryable
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
