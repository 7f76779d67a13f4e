package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := NewError(KindCapExceeded, "nativeIn", "buy of %d tokens exceeds cap", 10)
	wrapped := fmt.Errorf("trade failed: %w", err)

	assert.True(t, errors.Is(wrapped, ErrCapExceeded))
	assert.False(t, errors.Is(wrapped, ErrSlippageExceeded))
	assert.Equal(t, KindCapExceeded, KindOf(wrapped))
	assert.Equal(t, "cap_exceeded [nativeIn]: buy of 10 tokens exceeds cap", err.Error())
}

func TestWrapErrorKeepsCause(t *testing.T) {
	inner := NewError(KindInsufficientPayment, "payment", "short")
	outer := WrapError(KindValidation, "payment", inner)

	assert.True(t, errors.Is(outer, ErrValidation))
	assert.True(t, errors.Is(outer, ErrInsufficientPayment))
	assert.Equal(t, KindValidation, KindOf(outer))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestAmountArithmeticFailsClosed(t *testing.T) {
	maxAmount := new(uint256.Int).SetAllOne()

	_, err := Add("x", maxAmount, uint256.NewInt(1))
	assert.ErrorIs(t, err, ErrArithmeticFault)

	_, err = Sub("x", uint256.NewInt(1), uint256.NewInt(2))
	assert.ErrorIs(t, err, ErrArithmeticFault)

	_, err = Mul("x", maxAmount, uint256.NewInt(2))
	assert.ErrorIs(t, err, ErrArithmeticFault)

	_, err = CeilDiv("x", uint256.NewInt(1), Zero())
	assert.ErrorIs(t, err, ErrArithmeticFault)
}

func TestCeilDiv(t *testing.T) {
	q, err := CeilDiv("x", uint256.NewInt(10), uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), q.Uint64())

	q, err = CeilDiv("x", uint256.NewInt(9), uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), q.Uint64())
}

func TestDecimalConversion(t *testing.T) {
	x, err := FromDecimal("amount", decimal.RequireFromString("1.5"), 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", x.Dec())
	assert.True(t, ToDecimal(x, 18).Equal(decimal.RequireFromString("1.5")))

	// dust below one base unit is truncated
	x, err = FromDecimal("amount", decimal.RequireFromString("1.29"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), x.Uint64())

	_, err = FromDecimal("amount", decimal.NewFromInt(-1), 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPercentOfFloors(t *testing.T) {
	x, err := PercentOf("fee", uint256.NewInt(1_000_001), decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(30_000), x.Uint64())

	x, err = PercentOf("fee", uint256.NewInt(999), decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), x.Uint64())

	_, err = PercentOf("fee", uint256.NewInt(1), decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMinAmountOut(t *testing.T) {
	expected := uint256.NewInt(1000)

	out, err := MinAmountOut(expected, SlippageConfig{Type: SlippagePercent, Value: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.Equal(t, uint64(950), out.Uint64())

	out, err = MinAmountOut(expected, SlippageConfig{Type: SlippageFixed, Value: decimal.NewFromInt(777)})
	require.NoError(t, err)
	assert.Equal(t, uint64(777), out.Uint64())

	out, err = MinAmountOut(expected, SlippageConfig{Type: SlippageNone})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.Uint64())

	_, err = MinAmountOut(expected, SlippageConfig{Type: SlippagePercent, Value: decimal.NewFromInt(101)})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGlobalConfigValidate(t *testing.T) {
	valid := DefaultGlobalConfig()
	valid.Routers = []RouterConfig{{ID: "uni", Address: common.HexToAddress("0x01"), Weight: 1, Enabled: true}}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *GlobalConfig)
		field  string
	}{
		{"fee above 100", func(c *GlobalConfig) { c.PlatformBuyFeePercent = decimal.NewFromInt(101) }, "platform_buy_fee_percent"},
		{"fee of 100", func(c *GlobalConfig) { c.PlatformBuyFeePercent = decimal.NewFromInt(100) }, "platform_buy_fee_percent"},
		{"negative owner share", func(c *GlobalConfig) { c.OwnerFeePercent = decimal.NewFromInt(-1) }, "owner_fee_percent"},
		{"negative first buy fee", func(c *GlobalConfig) { c.FirstBuyFee = decimal.NewFromInt(-1) }, "first_buy_fee"},
		{"zero supply", func(c *GlobalConfig) { c.DefaultTotalSupply = decimal.Zero }, "default_total_supply"},
		{"zero virtual native", func(c *GlobalConfig) { c.DefaultVirtualNativeReserve = decimal.Zero }, "default_virtual_native_reserve"},
		{"virtual tokens below supply", func(c *GlobalConfig) { c.DefaultVirtualTokenReserve = decimal.NewFromInt(1) }, "default_virtual_token_reserve"},
		{"lp reservation above supply", func(c *GlobalConfig) { c.TokenOwnerLpFee = c.DefaultTotalSupply }, "desired_tokens_for_lp"},
		{"duplicate router", func(c *GlobalConfig) { c.Routers = append(c.Routers, c.Routers[0]) }, "routers.id"},
		{"zero weight", func(c *GlobalConfig) { c.Routers[0].Weight = 0 }, "routers.weight"},
		{"zero router address", func(c *GlobalConfig) { c.Routers[0].Address = common.Address{} }, "routers.address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid.Clone()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, KindValidation, e.Kind)
			assert.Equal(t, tt.field, e.Field)
		})
	}
}

func TestGlobalConfigCloneIsDeep(t *testing.T) {
	cfg := DefaultGlobalConfig()
	cfg.Routers = []RouterConfig{{ID: "a", Address: common.HexToAddress("0x01"), Weight: 1, Enabled: true}}

	clone := cfg.Clone()
	clone.Routers[0].Enabled = false

	assert.True(t, cfg.Routers[0].Enabled)
	assert.Equal(t, []string{"a"}, cfg.EnabledRouterIDs())
	assert.Empty(t, clone.EnabledRouterIDs())
}

func TestPoolCloneAndReserves(t *testing.T) {
	p := &Pool{
		TotalSupply:          uint256.NewInt(1000),
		RealNativeReserve:    uint256.NewInt(5),
		RealTokenReserve:     uint256.NewInt(900),
		VirtualNativeReserve: uint256.NewInt(30),
		VirtualTokenReserve:  uint256.NewInt(1073),
		SelectedRouters:      []string{"a"},
	}

	sold, err := p.TokensSold()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), sold.Uint64())

	effN, err := p.EffectiveNative()
	require.NoError(t, err)
	assert.Equal(t, uint64(35), effN.Uint64())

	effT, err := p.EffectiveToken()
	require.NoError(t, err)
	assert.Equal(t, uint64(973), effT.Uint64())

	c := p.Clone()
	c.RealNativeReserve.SetUint64(99)
	c.SelectedRouters[0] = "b"
	assert.Equal(t, uint64(5), p.RealNativeReserve.Uint64())
	assert.Equal(t, "a", p.SelectedRouters[0])
	// nil amounts come back as zero
	assert.True(t, c.EscrowNative.IsZero())
}

func TestPoolTradable(t *testing.T) {
	p := &Pool{Status: StatusTrading}
	assert.NoError(t, p.Tradable())

	p.Status = StatusLaunching
	assert.ErrorIs(t, p.Tradable(), ErrNotTradable)

	p.Status = StatusHalted
	assert.ErrorIs(t, p.Tradable(), ErrNotTradable)
	assert.Equal(t, "halted", p.Status.String())

	p.Status = StatusLaunched
	p.Launched = true
	assert.ErrorIs(t, p.Tradable(), ErrAlreadyLaunched)
}
