package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Side is the direction of a curve trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// BuyParams spends NativeIn (fees included) on tokens.
type BuyParams struct {
	Token        common.Address
	Trader       common.Address
	NativeIn     *uint256.Int
	MinTokensOut *uint256.Int
}

// SellParams returns TokensIn to the curve for native.
type SellParams struct {
	Token        common.Address
	Trader       common.Address
	TokensIn     *uint256.Int
	MinNativeOut *uint256.Int
}

// TradeResult describes a committed trade. NativeAmount is what the trader
// paid (buy) or received (sell); Fee is the total fee, OwnerFee its creator share.
type TradeResult struct {
	ID           string
	Side         Side
	Token        common.Address
	Trader       common.Address
	NativeAmount *uint256.Int
	TokenAmount  *uint256.Int
	Fee          *uint256.Int
	OwnerFee     *uint256.Int
	Price        decimal.Decimal
	MarketCapUSD decimal.Decimal
	Timestamp    time.Time

	// Set when this trade triggered the launch.
	Launched bool
	Pairs    []common.Address
	// Set when the launch condition held but the launch aborted; the trade
	// itself is still committed.
	LaunchErr error
}

// Quote is a non-mutating price estimate.
type Quote struct {
	Side        Side
	AmountIn    *uint256.Int
	AmountOut   *uint256.Int
	Fee         *uint256.Int
	PriceBefore decimal.Decimal
	PriceAfter  decimal.Decimal
}

// LiquidityDeployment is one router's share of a launch.
type LiquidityDeployment struct {
	RouterID  string
	Pair      common.Address
	Native    *uint256.Int
	Tokens    *uint256.Int
	Liquidity *uint256.Int
}

// LaunchResult describes a completed launch.
type LaunchResult struct {
	Token       common.Address
	Deployments []LiquidityDeployment
	OwnerTokens *uint256.Int
	// Curve residue: native credited to the protocol, tokens burned.
	TreasuryNative *uint256.Int
	BurnedTokens   *uint256.Int
	LaunchedAt     time.Time
}

// PairAddresses lists the external pairs seeded by the launch.
func (r *LaunchResult) PairAddresses() []common.Address {
	out := make([]common.Address, 0, len(r.Deployments))
	for _, d := range r.Deployments {
		out = append(out, d.Pair)
	}
	return out
}
