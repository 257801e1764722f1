// Package pricefeed resolves token symbols to USD prices.
//
// Every Source reports failure as an error wrapping ErrUnavailable; callers treat that
// as "skip this venue for this cycle", never as fatal.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrUnavailable = errors.New("price unavailable")

type Quote struct {
	Symbol string    `json:"symbol"`
	USD    float64   `json:"usd"`
	Ts     time.Time `json:"ts"`
}

type Source interface {
	Price(ctx context.Context, symbol string) (Quote, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context, symbol string) (Quote, error)

func (f SourceFunc) Price(ctx context.Context, symbol string) (Quote, error) { return f(ctx, symbol) }

func unavailable(symbol string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", symbol, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", symbol, ErrUnavailable, cause)
}
