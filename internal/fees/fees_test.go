package fees

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/launchpad/internal/domain"
)

func testConfig() *domain.GlobalConfig {
	cfg := domain.DefaultGlobalConfig()
	cfg.NativeDecimals = 2
	cfg.PlatformBuyFeePercent = decimal.NewFromInt(3)
	cfg.PlatformSellFeePercent = decimal.NewFromInt(2)
	cfg.OwnerFeePercent = decimal.NewFromInt(20)
	cfg.FirstBuyFee = decimal.RequireFromString("0.5")
	return cfg
}

func TestBuyChargesFirstBuyFeeOnce(t *testing.T) {
	cfg := testConfig()
	pool := &domain.Pool{
		OwnerFeesAccrued:    domain.Zero(),
		ProtocolFeesAccrued: domain.Zero(),
	}

	b, err := Buy(cfg, pool, uint256.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(300), b.Platform.Uint64())
	assert.Equal(t, uint64(50), b.FirstBuy.Uint64())
	assert.Equal(t, uint64(350), b.Total.Uint64())
	// the creator shares the percentage fee only
	assert.Equal(t, uint64(60), b.Owner.Uint64())
	assert.Equal(t, uint64(290), b.Protocol.Uint64())
	assert.True(t, b.FirstBuyApplied)
	assert.False(t, pool.FirstBuyConsumed, "quoting must not consume the first-buy fee")

	require.NoError(t, Accrue(pool, b))
	assert.True(t, pool.FirstBuyConsumed)
	assert.Equal(t, uint64(60), pool.OwnerFeesAccrued.Uint64())
	assert.Equal(t, uint64(290), pool.ProtocolFeesAccrued.Uint64())

	b, err = Buy(cfg, pool, uint256.NewInt(10_000))
	require.NoError(t, err)
	assert.True(t, b.FirstBuy.IsZero())
	assert.Equal(t, uint64(300), b.Total.Uint64())
	assert.False(t, b.FirstBuyApplied)
}

func TestSellFee(t *testing.T) {
	cfg := testConfig()

	b, err := Sell(cfg, uint256.NewInt(999))
	require.NoError(t, err)
	// floor(999 * 2 / 100) = 19, floor(19 * 20 / 100) = 3
	assert.Equal(t, uint64(19), b.Total.Uint64())
	assert.Equal(t, uint64(3), b.Owner.Uint64())
	assert.Equal(t, uint64(16), b.Protocol.Uint64())
	assert.True(t, b.FirstBuy.IsZero())
}

func TestZeroFees(t *testing.T) {
	cfg := testConfig()
	cfg.PlatformBuyFeePercent = decimal.Zero
	cfg.FirstBuyFee = decimal.Zero

	b, err := Buy(cfg, &domain.Pool{}, uint256.NewInt(1_000))
	require.NoError(t, err)
	assert.True(t, b.Total.IsZero())
	assert.True(t, b.Owner.IsZero())
}
