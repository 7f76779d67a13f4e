// Package pricefeed supplies the USD value of one whole unit of the native
// asset, used for market cap and the launch threshold.
package pricefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Feed returns the current USD price of one whole native unit.
type Feed interface {
	USDPerNative(ctx context.Context) (decimal.Decimal, error)
}

// Static is a fixed price, adjustable at runtime.
type Static struct {
	mu    sync.RWMutex
	price decimal.Decimal
}

// NewStatic returns a feed that always reports price.
func NewStatic(price decimal.Decimal) *Static {
	return &Static{price: price}
}

func (s *Static) USDPerNative(context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.price.IsPositive() {
		return decimal.Zero, fmt.Errorf("static price %s is not positive", s.price)
	}
	return s.price, nil
}

// Set replaces the reported price.
func (s *Static) Set(price decimal.Decimal) {
	s.mu.Lock()
	s.price = price
	s.mu.Unlock()
}
