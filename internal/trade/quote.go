package trade

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/fees"
	"github.com/rovshanmuradov/launchpad/internal/pricing"
)

// QuoteBuy estimates a buy of nativeIn without changing state.
func (e *Executor) QuoteBuy(token common.Address, nativeIn *uint256.Int) (*domain.Quote, error) {
	if nativeIn == nil || nativeIn.IsZero() {
		return nil, domain.NewError(domain.KindValidation, "nativeIn", "amount must be positive")
	}
	pool, err := e.registry.Peek(token)
	if err != nil {
		return nil, err
	}
	if err := pool.Tradable(); err != nil {
		return nil, err
	}
	cfg := e.config()

	before, err := pricing.SpotPrice(pool)
	if err != nil {
		return nil, err
	}
	q, fee, err := quoteBuy(cfg, pool, nativeIn)
	if err != nil {
		return nil, err
	}
	after := pool.Clone()
	after.RealNativeReserve = new(uint256.Int).Add(after.RealNativeReserve, new(uint256.Int).Sub(nativeIn, fee.Total))
	after.RealTokenReserve = new(uint256.Int).Sub(after.RealTokenReserve, q.TokensOut)
	priceAfter, err := pricing.SpotPrice(after)
	if err != nil {
		return nil, err
	}

	return &domain.Quote{
		Side:        domain.SideBuy,
		AmountIn:    nativeIn.Clone(),
		AmountOut:   q.TokensOut,
		Fee:         fee.Total,
		PriceBefore: before,
		PriceAfter:  priceAfter,
	}, nil
}

// QuoteSell estimates a sell of tokensIn without changing state.
func (e *Executor) QuoteSell(token common.Address, tokensIn *uint256.Int) (*domain.Quote, error) {
	if tokensIn == nil || tokensIn.IsZero() {
		return nil, domain.NewError(domain.KindValidation, "tokensIn", "amount must be positive")
	}
	pool, err := e.registry.Peek(token)
	if err != nil {
		return nil, err
	}
	if err := pool.Tradable(); err != nil {
		return nil, err
	}
	cfg := e.config()

	before, err := pricing.SpotPrice(pool)
	if err != nil {
		return nil, err
	}
	q, fee, netOut, err := quoteSell(cfg, pool, tokensIn)
	if err != nil {
		return nil, err
	}
	after := pool.Clone()
	after.RealNativeReserve = new(uint256.Int).Sub(after.RealNativeReserve, q.GrossNativeOut)
	after.RealTokenReserve = new(uint256.Int).Add(after.RealTokenReserve, tokensIn)
	priceAfter, err := pricing.SpotPrice(after)
	if err != nil {
		return nil, err
	}

	return &domain.Quote{
		Side:        domain.SideSell,
		AmountIn:    tokensIn.Clone(),
		AmountOut:   netOut,
		Fee:         fee.Total,
		PriceBefore: before,
		PriceAfter:  priceAfter,
	}, nil
}

// quoteBuy applies fees, the curve, the per-trade cap and the launch
// reservation to a gross buy.
func quoteBuy(cfg *domain.GlobalConfig, pool *domain.Pool, grossIn *uint256.Int) (*pricing.BuyQuote, *fees.Breakdown, error) {
	fee, err := fees.Buy(cfg, pool, grossIn)
	if err != nil {
		return nil, nil, err
	}
	if !grossIn.Gt(fee.Total) {
		return nil, nil, domain.NewError(domain.KindInsufficientPayment, "nativeIn",
			"payment %s does not cover fee %s", grossIn.Dec(), fee.Total.Dec())
	}
	net := new(uint256.Int).Sub(grossIn, fee.Total)

	q, err := pricing.QuoteBuy(pool, net)
	if err != nil {
		return nil, nil, err
	}
	if q.TokensOut.IsZero() {
		return nil, nil, domain.NewError(domain.KindValidation, "nativeIn", "amount too small to buy any tokens")
	}

	maxBuy, err := domain.PercentOf("max_buy_percent", pool.TotalSupply, cfg.MaxBuyPercent)
	if err != nil {
		return nil, nil, err
	}
	if q.TokensOut.Gt(maxBuy) {
		return nil, nil, domain.NewError(domain.KindCapExceeded, "nativeIn",
			"buy of %s tokens exceeds per-trade cap %s", q.TokensOut.Dec(), maxBuy.Dec())
	}

	remaining, err := domain.Sub("realTokenReserve", pool.RealTokenReserve, q.TokensOut)
	if err != nil {
		return nil, nil, domain.WrapError(domain.KindInsufficientReserve, "realTokenReserve", err)
	}
	if remaining.Lt(pool.ReservedForLaunch) {
		return nil, nil, domain.NewError(domain.KindInsufficientReserve, "realTokenReserve",
			"buy would leave %s tokens, launch needs %s", remaining.Dec(), pool.ReservedForLaunch.Dec())
	}
	return q, fee, nil
}

// quoteSell applies the per-trade cap, the curve and fees to a sell.
func quoteSell(cfg *domain.GlobalConfig, pool *domain.Pool, tokensIn *uint256.Int) (*pricing.SellQuote, *fees.Breakdown, *uint256.Int, error) {
	maxSell, err := domain.PercentOf("max_sell_percent", pool.TotalSupply, cfg.MaxSellPercent)
	if err != nil {
		return nil, nil, nil, err
	}
	if tokensIn.Gt(maxSell) {
		return nil, nil, nil, domain.NewError(domain.KindCapExceeded, "tokensIn",
			"sell of %s tokens exceeds per-trade cap %s", tokensIn.Dec(), maxSell.Dec())
	}

	q, err := pricing.QuoteSell(pool, tokensIn)
	if err != nil {
		return nil, nil, nil, err
	}
	fee, err := fees.Sell(cfg, q.GrossNativeOut)
	if err != nil {
		return nil, nil, nil, err
	}
	netOut, err := domain.Sub("nativeOut", q.GrossNativeOut, fee.Total)
	if err != nil {
		return nil, nil, nil, err
	}
	if netOut.IsZero() {
		return nil, nil, nil, domain.NewError(domain.KindValidation, "tokensIn", "amount too small to receive any native")
	}
	return q, fee, netOut, nil
}
