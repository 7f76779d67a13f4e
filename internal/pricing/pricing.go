// Package pricing is the bonding-curve math: spot price, market cap and
// constant-product quotes over virtual+real reserves. Every function is pure.
package pricing

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/launchpad/internal/domain"
)

// pricePrecision is the number of decimal places kept when dividing reserves.
const pricePrecision = 36

// SpotPrice returns effectiveNative / effectiveToken in whole native per whole token.
func SpotPrice(p *domain.Pool) (decimal.Decimal, error) {
	effNative, err := p.EffectiveNative()
	if err != nil {
		return decimal.Zero, err
	}
	effToken, err := p.EffectiveToken()
	if err != nil {
		return decimal.Zero, err
	}
	if effToken.IsZero() {
		return decimal.Zero, domain.NewError(domain.KindArithmeticFault, "effectiveTokenReserve", "zero effective token reserve")
	}
	native := domain.ToDecimal(effNative, p.NativeDecimals)
	token := domain.ToDecimal(effToken, p.TokenDecimals)
	return native.DivRound(token, pricePrecision), nil
}

// CirculatingSupply is totalSupply - realTokenReserve, in base units.
func CirculatingSupply(p *domain.Pool) (*uint256.Int, error) {
	return p.TokensSold()
}

// MarketCap returns spotPrice x circulatingSupply x usdPerNative.
func MarketCap(p *domain.Pool, usdPerNative decimal.Decimal) (decimal.Decimal, error) {
	price, err := SpotPrice(p)
	if err != nil {
		return decimal.Zero, err
	}
	return MarketCapAt(p, price, usdPerNative)
}

// MarketCapAt is MarketCap for an already computed spot price.
func MarketCapAt(p *domain.Pool, price, usdPerNative decimal.Decimal) (decimal.Decimal, error) {
	circulating, err := CirculatingSupply(p)
	if err != nil {
		return decimal.Zero, err
	}
	return price.Mul(domain.ToDecimal(circulating, p.TokenDecimals)).Mul(usdPerNative), nil
}

// BuyQuote is the curve movement for netIn native entering the pool.
type BuyQuote struct {
	TokensOut          *uint256.Int
	NewEffectiveNative *uint256.Int
	NewEffectiveToken  *uint256.Int
}

// QuoteBuy prices a buy of netIn native (fees already removed). The post-trade
// token reserve is rounded up so rounding always favours the pool.
func QuoteBuy(p *domain.Pool, netIn *uint256.Int) (*BuyQuote, error) {
	effNative, err := p.EffectiveNative()
	if err != nil {
		return nil, err
	}
	effToken, err := p.EffectiveToken()
	if err != nil {
		return nil, err
	}
	newNative, err := domain.Add("nativeIn", effNative, netIn)
	if err != nil {
		return nil, err
	}
	newToken, err := domain.CeilDiv("k", p.K, newNative)
	if err != nil {
		return nil, err
	}
	if newToken.Gt(effToken) {
		// only reachable for a zero-sized buy after earlier rounding
		newToken = effToken.Clone()
	}
	out, err := domain.Sub("tokensOut", effToken, newToken)
	if err != nil {
		return nil, err
	}
	return &BuyQuote{TokensOut: out, NewEffectiveNative: newNative, NewEffectiveToken: newToken}, nil
}

// SellQuote is the curve movement for tokensIn returning to the pool.
type SellQuote struct {
	GrossNativeOut     *uint256.Int
	NewEffectiveNative *uint256.Int
	NewEffectiveToken  *uint256.Int
}

// QuoteSell prices a sell of tokensIn. Selling more than has left the curve is
// rejected since the effective token reserve would exceed the virtual one.
func QuoteSell(p *domain.Pool, tokensIn *uint256.Int) (*SellQuote, error) {
	sold, err := p.TokensSold()
	if err != nil {
		return nil, err
	}
	if tokensIn.Gt(sold) {
		return nil, domain.NewError(domain.KindInsufficientReserve, "tokensIn",
			"selling %s but only %s tokens left the curve", tokensIn.Dec(), sold.Dec())
	}
	effNative, err := p.EffectiveNative()
	if err != nil {
		return nil, err
	}
	effToken, err := p.EffectiveToken()
	if err != nil {
		return nil, err
	}
	newToken, err := domain.Add("tokensIn", effToken, tokensIn)
	if err != nil {
		return nil, err
	}
	newNative, err := domain.CeilDiv("k", p.K, newToken)
	if err != nil {
		return nil, err
	}
	if newNative.Gt(effNative) {
		newNative = effNative.Clone()
	}
	gross, err := domain.Sub("grossNativeOut", effNative, newNative)
	if err != nil {
		return nil, err
	}
	if gross.Gt(p.RealNativeReserve) {
		return nil, domain.NewError(domain.KindArithmeticFault, "realNativeReserve",
			"payout %s exceeds real reserve %s", gross.Dec(), p.RealNativeReserve.Dec())
	}
	return &SellQuote{GrossNativeOut: gross, NewEffectiveNative: newNative, NewEffectiveToken: newToken}, nil
}

// CurveConstant returns virtualNative x virtualToken.
func CurveConstant(virtualNative, virtualToken *uint256.Int) (*uint256.Int, error) {
	return domain.Mul("k", virtualNative, virtualToken)
}
