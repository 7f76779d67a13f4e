package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/storage/models"
)

// PoolToRecord flattens a pool into its current-schema row.
func PoolToRecord(p *domain.Pool) *models.PoolRecord {
	rec := &models.PoolRecord{
		Token:                p.Token.Hex(),
		Owner:                p.Owner.Hex(),
		Name:                 p.Name,
		Symbol:               p.Symbol,
		SchemaVersion:        models.CurrentPoolSchema,
		Variant:              int(p.Variant),
		NativeDecimals:       p.NativeDecimals,
		TokenDecimals:        p.TokenDecimals,
		TotalSupply:          dec(p.TotalSupply),
		RealNativeReserve:    dec(p.RealNativeReserve),
		RealTokenReserve:     dec(p.RealTokenReserve),
		VirtualNativeReserve: dec(p.VirtualNativeReserve),
		VirtualTokenReserve:  dec(p.VirtualTokenReserve),
		K:                    dec(p.K),
		ReservedForLaunch:    dec(p.ReservedForLaunch),
		OwnerLpFee:           dec(p.OwnerLpFee),
		ProtocolFeesAccrued:  dec(p.ProtocolFeesAccrued),
		OwnerFeesAccrued:     dec(p.OwnerFeesAccrued),
		LpNative:             dec(p.LpNative),
		LpTokens:             dec(p.LpTokens),
		FirstBuyConsumed:     p.FirstBuyConsumed,
		Status:               p.Status.String(),
		Launched:             p.Launched,
		SelectedRouters:      strings.Join(p.SelectedRouters, ","),
		ConfigVersion:        p.ConfigVersion,
		PoolCreatedAt:        p.CreatedAt,
	}
	pairs := make([]string, 0, len(p.Pairs))
	for _, a := range p.Pairs {
		pairs = append(pairs, a.Hex())
	}
	rec.Pairs = strings.Join(pairs, ",")
	if !p.LaunchedAt.IsZero() {
		t := p.LaunchedAt
		rec.LaunchedAt = &t
	}
	return rec
}

// RecordToPool rebuilds a pool from a row of any schema version. Rows
// written before router selection existed load as legacy pools that seed
// every enabled router and carry no owner LP fee.
func RecordToPool(rec *models.PoolRecord, cfg *domain.GlobalConfig) (*domain.Pool, error) {
	var err error
	p := &domain.Pool{
		Token:            common.HexToAddress(rec.Token),
		Owner:            common.HexToAddress(rec.Owner),
		Name:             rec.Name,
		Symbol:           rec.Symbol,
		Variant:          domain.Variant(rec.Variant),
		NativeDecimals:   rec.NativeDecimals,
		TokenDecimals:    rec.TokenDecimals,
		FirstBuyConsumed: rec.FirstBuyConsumed,
		Launched:         rec.Launched,
		ConfigVersion:    rec.ConfigVersion,
		CreatedAt:        rec.PoolCreatedAt,
		EscrowNative:     domain.Zero(),
		EscrowTokens:     domain.Zero(),
	}
	if rec.LaunchedAt != nil {
		p.LaunchedAt = *rec.LaunchedAt
	}

	fields := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"total_supply", rec.TotalSupply, &p.TotalSupply},
		{"real_native_reserve", rec.RealNativeReserve, &p.RealNativeReserve},
		{"real_token_reserve", rec.RealTokenReserve, &p.RealTokenReserve},
		{"virtual_native_reserve", rec.VirtualNativeReserve, &p.VirtualNativeReserve},
		{"virtual_token_reserve", rec.VirtualTokenReserve, &p.VirtualTokenReserve},
		{"curve_k", rec.K, &p.K},
		{"reserved_for_launch", rec.ReservedForLaunch, &p.ReservedForLaunch},
		{"owner_lp_fee", rec.OwnerLpFee, &p.OwnerLpFee},
		{"protocol_fees_accrued", rec.ProtocolFeesAccrued, &p.ProtocolFeesAccrued},
		{"owner_fees_accrued", rec.OwnerFeesAccrued, &p.OwnerFeesAccrued},
		{"lp_native", rec.LpNative, &p.LpNative},
		{"lp_tokens", rec.LpTokens, &p.LpTokens},
	}
	for _, f := range fields {
		if *f.dst, err = parseAmount(f.name, f.raw); err != nil {
			return nil, err
		}
	}

	if p.Status, err = parseStatus(rec.Status, rec.Launched); err != nil {
		return nil, err
	}
	if rec.SelectedRouters != "" {
		p.SelectedRouters = strings.Split(rec.SelectedRouters, ",")
	}
	if rec.Pairs != "" {
		for _, a := range strings.Split(rec.Pairs, ",") {
			p.Pairs = append(p.Pairs, common.HexToAddress(a))
		}
	}

	switch rec.SchemaVersion {
	case models.PoolSchemaV2:
	case 0, models.PoolSchemaV1:
		p.Variant = domain.VariantLegacy
		p.OwnerLpFee = domain.Zero()
		if len(p.SelectedRouters) == 0 && cfg != nil {
			p.SelectedRouters = cfg.EnabledRouterIDs()
		}
		if p.ReservedForLaunch.IsZero() && cfg != nil {
			if p.ReservedForLaunch, err = cfg.TokenUnits("desired_tokens_for_lp", cfg.DesiredTokensForLp); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("pool %s: unsupported schema version %d", rec.Token, rec.SchemaVersion)
	}
	return p, nil
}

// TradeToRecord flattens a trade result.
func TradeToRecord(t *domain.TradeResult) *models.TradeRecord {
	executed := t.Timestamp
	if executed.IsZero() {
		executed = time.Now().UTC()
	}
	return &models.TradeRecord{
		TradeID:      t.ID,
		Token:        t.Token.Hex(),
		Trader:       t.Trader.Hex(),
		Side:         string(t.Side),
		NativeAmount: dec(t.NativeAmount),
		TokenAmount:  dec(t.TokenAmount),
		Fee:          dec(t.Fee),
		OwnerFee:     dec(t.OwnerFee),
		Price:        t.Price.String(),
		MarketCapUSD: t.MarketCapUSD.String(),
		Launched:     t.Launched,
		ExecutedAt:   executed,
	}
}

func dec(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	if raw == "" {
		return domain.Zero(), nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s %q: %w", field, raw, err)
	}
	return v, nil
}

func parseStatus(raw string, launched bool) (domain.Status, error) {
	switch raw {
	case "", domain.StatusTrading.String():
		if launched {
			return domain.StatusLaunched, nil
		}
		return domain.StatusTrading, nil
	// a launch cannot survive a restart; it either committed or rolled back
	case domain.StatusLaunching.String():
		return domain.StatusTrading, nil
	case domain.StatusLaunched.String():
		return domain.StatusLaunched, nil
	case domain.StatusHalted.String():
		return domain.StatusHalted, nil
	default:
		return 0, fmt.Errorf("unknown pool status %q", raw)
	}
}
