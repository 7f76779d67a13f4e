// internal/domain/config.go
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// RouterConfig is one entry of the router allow-list.
type RouterConfig struct {
	ID      string         `mapstructure:"id" json:"id"`
	Address common.Address `mapstructure:"address" json:"address"`
	// Weight sets the router's pro-rata share of the launch liquidity.
	Weight  uint64 `mapstructure:"weight" json:"weight"`
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
}

// GlobalConfig is the engine-wide, owner-mutable configuration. Trades and
// launches read one immutable snapshot of it at entry. Percentages are plain
// percents (3 means 3%); quantities are in whole units.
type GlobalConfig struct {
	Version uint64 `mapstructure:"-" json:"version"`

	PlatformBuyFeePercent  decimal.Decimal `mapstructure:"platform_buy_fee_percent" json:"platform_buy_fee_percent"`
	PlatformSellFeePercent decimal.Decimal `mapstructure:"platform_sell_fee_percent" json:"platform_sell_fee_percent"`
	OwnerFeePercent        decimal.Decimal `mapstructure:"owner_fee_percent" json:"owner_fee_percent"`
	MaxBuyPercent          decimal.Decimal `mapstructure:"max_buy_percent" json:"max_buy_percent"`
	MaxSellPercent         decimal.Decimal `mapstructure:"max_sell_percent" json:"max_sell_percent"`
	FirstBuyFee            decimal.Decimal `mapstructure:"first_buy_fee" json:"first_buy_fee"`

	TargetMarketCapUSD decimal.Decimal `mapstructure:"target_market_cap_usd" json:"target_market_cap_usd"`
	TargetLpAmount     decimal.Decimal `mapstructure:"target_lp_amount" json:"target_lp_amount"`
	DesiredTokensForLp decimal.Decimal `mapstructure:"desired_tokens_for_lp" json:"desired_tokens_for_lp"`
	DesiredNativeForLp decimal.Decimal `mapstructure:"desired_native_for_lp" json:"desired_native_for_lp"`
	TokenOwnerLpFee    decimal.Decimal `mapstructure:"token_owner_lp_fee" json:"token_owner_lp_fee"`

	DefaultTotalSupply          decimal.Decimal `mapstructure:"default_total_supply" json:"default_total_supply"`
	DefaultVirtualNativeReserve decimal.Decimal `mapstructure:"default_virtual_native_reserve" json:"default_virtual_native_reserve"`
	DefaultVirtualTokenReserve  decimal.Decimal `mapstructure:"default_virtual_token_reserve" json:"default_virtual_token_reserve"`

	NativeDecimals uint8 `mapstructure:"native_decimals" json:"native_decimals"`
	TokenDecimals  uint8 `mapstructure:"token_decimals" json:"token_decimals"`

	// LaunchSlippagePercent bounds the router-side min amounts at launch.
	LaunchSlippagePercent decimal.Decimal `mapstructure:"launch_slippage_percent" json:"launch_slippage_percent"`
	LaunchDeadline        time.Duration   `mapstructure:"launch_deadline" json:"launch_deadline"`

	Routers []RouterConfig `mapstructure:"routers" json:"routers"`
}

// DefaultGlobalConfig mirrors the classic fair-launch parameters: 30 native of
// virtual liquidity against 1.073B virtual tokens over a 1B supply.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Version:                     1,
		PlatformBuyFeePercent:       decimal.NewFromInt(1),
		PlatformSellFeePercent:      decimal.NewFromInt(1),
		OwnerFeePercent:             decimal.NewFromInt(20),
		MaxBuyPercent:               decimal.NewFromInt(10),
		MaxSellPercent:              decimal.NewFromInt(10),
		FirstBuyFee:                 decimal.Zero,
		TargetMarketCapUSD:          decimal.NewFromInt(69_000),
		TargetLpAmount:              decimal.Zero,
		DesiredTokensForLp:          decimal.NewFromInt(200_000_000),
		DesiredNativeForLp:          decimal.NewFromInt(5),
		TokenOwnerLpFee:             decimal.Zero,
		DefaultTotalSupply:          decimal.NewFromInt(1_000_000_000),
		DefaultVirtualNativeReserve: decimal.NewFromInt(30),
		DefaultVirtualTokenReserve:  decimal.NewFromInt(1_073_000_000),
		NativeDecimals:              18,
		TokenDecimals:               18,
		LaunchSlippagePercent:       decimal.Zero,
		LaunchDeadline:              5 * time.Minute,
	}
}

// Clone returns a deep copy.
func (c *GlobalConfig) Clone() *GlobalConfig {
	out := *c
	out.Routers = append([]RouterConfig(nil), c.Routers...)
	return &out
}

// Validate checks every field. It is run on load and after every admin update.
func (c *GlobalConfig) Validate() error {
	percents := []struct {
		field string
		value decimal.Decimal
	}{
		{"platform_buy_fee_percent", c.PlatformBuyFeePercent},
		{"platform_sell_fee_percent", c.PlatformSellFeePercent},
		{"owner_fee_percent", c.OwnerFeePercent},
		{"max_buy_percent", c.MaxBuyPercent},
		{"max_sell_percent", c.MaxSellPercent},
		{"launch_slippage_percent", c.LaunchSlippagePercent},
	}
	for _, p := range percents {
		if p.value.IsNegative() || p.value.GreaterThan(hundred) {
			return NewError(KindValidation, p.field, "must be within [0, 100], got %s", p.value)
		}
	}
	if c.PlatformBuyFeePercent.Equal(hundred) {
		return NewError(KindValidation, "platform_buy_fee_percent", "fee would consume the whole trade")
	}

	amounts := []struct {
		field string
		value decimal.Decimal
	}{
		{"first_buy_fee", c.FirstBuyFee},
		{"target_market_cap_usd", c.TargetMarketCapUSD},
		{"target_lp_amount", c.TargetLpAmount},
		{"desired_tokens_for_lp", c.DesiredTokensForLp},
		{"desired_native_for_lp", c.DesiredNativeForLp},
		{"token_owner_lp_fee", c.TokenOwnerLpFee},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return NewError(KindValidation, a.field, "must not be negative, got %s", a.value)
		}
	}

	if !c.DefaultTotalSupply.IsPositive() {
		return NewError(KindValidation, "default_total_supply", "must be positive")
	}
	if !c.DefaultVirtualNativeReserve.IsPositive() {
		return NewError(KindValidation, "default_virtual_native_reserve", "must be positive")
	}
	if !c.DefaultVirtualTokenReserve.IsPositive() {
		return NewError(KindValidation, "default_virtual_token_reserve", "must be positive")
	}
	// The curve must never run out of virtual tokens before the supply is sold.
	if c.DefaultVirtualTokenReserve.LessThan(c.DefaultTotalSupply) {
		return NewError(KindValidation, "default_virtual_token_reserve", "must be at least default_total_supply")
	}
	if c.DesiredTokensForLp.Add(c.TokenOwnerLpFee).GreaterThan(c.DefaultTotalSupply) {
		return NewError(KindValidation, "desired_tokens_for_lp", "LP tokens plus owner LP fee exceed total supply")
	}
	if c.NativeDecimals > 36 || c.TokenDecimals > 36 {
		return NewError(KindValidation, "decimals", "decimals above 36 are not supported")
	}
	if c.LaunchDeadline < 0 {
		return NewError(KindValidation, "launch_deadline", "must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Routers))
	for _, r := range c.Routers {
		if r.ID == "" {
			return NewError(KindValidation, "routers.id", "router id is empty")
		}
		if _, dup := seen[r.ID]; dup {
			return NewError(KindValidation, "routers.id", "duplicate router %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Address == (common.Address{}) {
			return NewError(KindValidation, "routers.address", "router %q has zero address", r.ID)
		}
		if r.Weight == 0 {
			return NewError(KindValidation, "routers.weight", "router %q has zero weight", r.ID)
		}
	}
	return nil
}

// Router looks up an allow-listed router.
func (c *GlobalConfig) Router(id string) (RouterConfig, bool) {
	for _, r := range c.Routers {
		if r.ID == id {
			return r, true
		}
	}
	return RouterConfig{}, false
}

// EnabledRouterIDs lists the ids of every enabled router in config order.
func (c *GlobalConfig) EnabledRouterIDs() []string {
	ids := make([]string, 0, len(c.Routers))
	for _, r := range c.Routers {
		if r.Enabled {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// NativeUnits converts a whole-unit native amount to base units.
func (c *GlobalConfig) NativeUnits(field string, d decimal.Decimal) (*uint256.Int, error) {
	return FromDecimal(field, d, c.NativeDecimals)
}

// TokenUnits converts a whole-unit token amount to base units.
func (c *GlobalConfig) TokenUnits(field string, d decimal.Decimal) (*uint256.Int, error) {
	return FromDecimal(field, d, c.TokenDecimals)
}
