// Package fees computes platform, owner and first-buy fees for curve trades.
package fees

import (
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/launchpad/internal/domain"
)

// Breakdown splits a fee between the pool creator and the protocol treasury.
type Breakdown struct {
	// Platform is the percentage fee on the trade amount.
	Platform *uint256.Int
	// FirstBuy is the flat fee of a pool's first purchase, zero otherwise.
	FirstBuy *uint256.Int
	// Total is Platform + FirstBuy.
	Total *uint256.Int
	// Owner is the creator's cut of Platform.
	Owner *uint256.Int
	// Protocol is Total - Owner.
	Protocol *uint256.Int

	FirstBuyApplied bool
}

// Buy computes the fee on grossIn native spent on pool. The first-buy fee is
// added while the pool has not consumed it; the caller marks it consumed only
// once the trade commits.
func Buy(cfg *domain.GlobalConfig, pool *domain.Pool, grossIn *uint256.Int) (*Breakdown, error) {
	platform, err := domain.PercentOf("platform_buy_fee_percent", grossIn, cfg.PlatformBuyFeePercent)
	if err != nil {
		return nil, err
	}
	firstBuy := domain.Zero()
	applied := false
	if !pool.FirstBuyConsumed {
		firstBuy, err = cfg.NativeUnits("first_buy_fee", cfg.FirstBuyFee)
		if err != nil {
			return nil, err
		}
		applied = true
	}
	return split(cfg, platform, firstBuy, applied)
}

// Sell computes the fee on grossOut native leaving the pool.
func Sell(cfg *domain.GlobalConfig, grossOut *uint256.Int) (*Breakdown, error) {
	platform, err := domain.PercentOf("platform_sell_fee_percent", grossOut, cfg.PlatformSellFeePercent)
	if err != nil {
		return nil, err
	}
	return split(cfg, platform, domain.Zero(), false)
}

// OwnerShare returns the creator's cut of fee.
func OwnerShare(cfg *domain.GlobalConfig, fee *uint256.Int) (*uint256.Int, error) {
	return domain.PercentOf("owner_fee_percent", fee, cfg.OwnerFeePercent)
}

func split(cfg *domain.GlobalConfig, platform, firstBuy *uint256.Int, applied bool) (*Breakdown, error) {
	total, err := domain.Add("fee", platform, firstBuy)
	if err != nil {
		return nil, err
	}
	owner, err := OwnerShare(cfg, platform)
	if err != nil {
		return nil, err
	}
	protocol, err := domain.Sub("fee", total, owner)
	if err != nil {
		return nil, err
	}
	return &Breakdown{
		Platform:        platform,
		FirstBuy:        firstBuy,
		Total:           total,
		Owner:           owner,
		Protocol:        protocol,
		FirstBuyApplied: applied,
	}, nil
}

// Accrue credits b to the pool's fee balances.
func Accrue(pool *domain.Pool, b *Breakdown) error {
	owner, err := domain.Add("ownerFeesAccrued", pool.OwnerFeesAccrued, b.Owner)
	if err != nil {
		return err
	}
	protocol, err := domain.Add("protocolFeesAccrued", pool.ProtocolFeesAccrued, b.Protocol)
	if err != nil {
		return err
	}
	pool.OwnerFeesAccrued = owner
	pool.ProtocolFeesAccrued = protocol
	if b.FirstBuyApplied {
		pool.FirstBuyConsumed = true
	}
	return nil
}
