// internal/domain/slippage.go
package domain

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// SlippageType selects how a caller derives the minimum acceptable output of a trade.
type SlippageType string

const (
	// SlippageFixed uses Value as the exact minimum output in base units.
	SlippageFixed SlippageType = "fixed"
	// SlippagePercent allows the output to fall Value percent below the quote.
	SlippagePercent SlippageType = "percent"
	// SlippageNone accepts any non-zero output.
	SlippageNone SlippageType = "none"
)

// SlippageConfig is a caller-side slippage policy.
type SlippageConfig struct {
	Type  SlippageType    `json:"type" yaml:"type"`
	Value decimal.Decimal `json:"value" yaml:"value"`
}

// MinAmountOut derives the minimum output for an expected (quoted) amount.
func MinAmountOut(expected *uint256.Int, cfg SlippageConfig) (*uint256.Int, error) {
	switch cfg.Type {
	case SlippageFixed:
		return FromDecimal("slippage.value", cfg.Value, 0)
	case SlippagePercent:
		if cfg.Value.IsNegative() || cfg.Value.GreaterThan(hundred) {
			return nil, NewError(KindValidation, "slippage.value", "percent must be within [0, 100], got %s", cfg.Value)
		}
		return PercentOf("slippage.value", expected, hundred.Sub(cfg.Value))
	default:
		return uint256.NewInt(1), nil
	}
}
