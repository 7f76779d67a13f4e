package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/events"
	"github.com/rovshanmuradov/launchpad/internal/token"
)

var (
	custody = common.HexToAddress("0xc0")
	creator = common.HexToAddress("0xa1")
)

type capture struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capture) Publish(e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capture) types() []events.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type())
	}
	return out
}

// fakeBuyer moves the whole initial buy into the reserve without touching the curve.
type fakeBuyer struct {
	err error
	// launch marks the pool launched and announces it, as a graduating buy would
	launch bool
}

func (b *fakeBuyer) BuyOnHandle(_ context.Context, _ *domain.GlobalConfig, h *Handle, p domain.BuyParams, pub events.Publisher) (*domain.TradeResult, error) {
	if b.err != nil {
		return nil, b.err
	}
	pool := h.Pool()
	pool.RealNativeReserve = p.NativeIn.Clone()
	pool.FirstBuyConsumed = true
	h.Commit(pool)
	_ = pub.Publish(events.TradeEvent{BaseEvent: events.NewBase(events.BuyTokens), Token: p.Token})
	if b.launch {
		pool = h.Pool()
		pool.Status = domain.StatusLaunched
		pool.Launched = true
		h.Commit(pool)
		_ = pub.Publish(events.TokenLaunchedEvent{BaseEvent: events.NewBase(events.TokenLaunched), Token: p.Token})
	}
	return &domain.TradeResult{Token: p.Token, NativeAmount: p.NativeIn, Launched: b.launch}, nil
}

func testConfig() *domain.GlobalConfig {
	cfg := domain.DefaultGlobalConfig()
	cfg.TokenOwnerLpFee = decimal.NewFromInt(1_000_000)
	cfg.Routers = []domain.RouterConfig{
		{ID: "beta", Address: common.HexToAddress("0xb"), Weight: 1, Enabled: true},
		{ID: "alpha", Address: common.HexToAddress("0xa"), Weight: 1, Enabled: true},
		{ID: "off", Address: common.HexToAddress("0xf"), Weight: 1, Enabled: false},
	}
	return cfg
}

func newRegistry() (*Registry, *capture) {
	pub := &capture{}
	return New(token.NewFactory(common.HexToAddress("0xd3"), zap.NewNop()), custody, pub, zap.NewNop()), pub
}

func TestCreateSeedsPool(t *testing.T) {
	r, pub := newRegistry()
	cfg := testConfig()

	res, err := r.Create(context.Background(), cfg, CreateParams{
		Name:    "Moon Coin",
		Symbol:  "MOON",
		Creator: creator,
		Routers: []string{"beta", "alpha"},
	})
	require.NoError(t, err)

	p := res.Pool
	supply, _ := cfg.TokenUnits("", cfg.DefaultTotalSupply)
	assert.Equal(t, supply, p.TotalSupply)
	assert.Equal(t, supply, p.RealTokenReserve)
	assert.True(t, p.RealNativeReserve.IsZero())
	assert.Equal(t, new(uint256.Int).Mul(p.VirtualNativeReserve, p.VirtualTokenReserve), p.K)
	assert.Equal(t, domain.VariantStandard, p.Variant)
	assert.Equal(t, []string{"alpha", "beta"}, p.SelectedRouters)
	assert.Equal(t, domain.StatusTrading, p.Status)
	assert.False(t, p.FirstBuyConsumed)
	assert.Nil(t, res.InitialBuy)
	assert.True(t, res.Refund.IsZero())

	ownerFee, _ := cfg.TokenUnits("", cfg.TokenOwnerLpFee)
	lp, _ := cfg.TokenUnits("", cfg.DesiredTokensForLp)
	assert.Equal(t, ownerFee, p.OwnerLpFee)
	assert.Equal(t, new(uint256.Int).Add(lp, ownerFee), p.ReservedForLaunch)

	tok, ok := r.Tokens().Get(res.Token)
	require.True(t, ok)
	assert.Equal(t, supply, tok.BalanceOf(custody))

	assert.Equal(t, []events.EventType{events.TokenCreated}, pub.types())
	assert.Len(t, r.List(), 1)
}

func TestCreateValidation(t *testing.T) {
	r, _ := newRegistry()
	cfg := testConfig()

	tests := []struct {
		name  string
		p     CreateParams
		field string
	}{
		{"empty name", CreateParams{Symbol: "A", Creator: creator, Routers: []string{"alpha"}}, "name"},
		{"long symbol", CreateParams{Name: "A", Symbol: "ABCDEFGHIJK", Creator: creator, Routers: []string{"alpha"}}, "symbol"},
		{"symbol with space", CreateParams{Name: "A", Symbol: "A B", Creator: creator, Routers: []string{"alpha"}}, "symbol"},
		{"zero creator", CreateParams{Name: "A", Symbol: "A", Routers: []string{"alpha"}}, "creator"},
		{"no routers", CreateParams{Name: "A", Symbol: "A", Creator: creator}, "routers"},
		{"unknown router", CreateParams{Name: "A", Symbol: "A", Creator: creator, Routers: []string{"zeta"}}, "routers"},
		{"disabled router", CreateParams{Name: "A", Symbol: "A", Creator: creator, Routers: []string{"off"}}, "routers"},
		{"duplicate router", CreateParams{Name: "A", Symbol: "A", Creator: creator, Routers: []string{"alpha", "alpha"}}, "routers"},
		{"unknown variant", CreateParams{Name: "A", Symbol: "A", Creator: creator, Routers: []string{"alpha"}, Variant: 9}, "variant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(context.Background(), cfg, tt.p)
			var e *domain.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, domain.KindValidation, e.Kind)
			assert.Equal(t, tt.field, e.Field)
		})
	}
	assert.Empty(t, r.List())
}

func TestCreateLegacyVariant(t *testing.T) {
	r, _ := newRegistry()

	res, err := r.Create(context.Background(), testConfig(), CreateParams{
		Name:    "Old",
		Symbol:  "OLD",
		Creator: creator,
		Variant: domain.VariantLegacy,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.VariantLegacy, res.Pool.Variant)
	assert.Equal(t, []string{"alpha", "beta"}, res.Pool.SelectedRouters)
	assert.True(t, res.Pool.OwnerLpFee.IsZero())
}

func TestCreateWithInitialBuy(t *testing.T) {
	r, pub := newRegistry()
	r.SetBuyer(&fakeBuyer{})

	res, err := r.Create(context.Background(), testConfig(), CreateParams{
		Name:       "Moon",
		Symbol:     "MOON",
		Creator:    creator,
		Routers:    []string{"alpha"},
		InitialBuy: uint256.NewInt(700),
		Payment:    uint256.NewInt(1000),
	})
	require.NoError(t, err)
	require.NotNil(t, res.InitialBuy)
	assert.Equal(t, uint64(300), res.Refund.Uint64())
	assert.Equal(t, uint64(700), res.Pool.RealNativeReserve.Uint64())
	assert.True(t, res.Pool.FirstBuyConsumed)
	// the buy is announced after the token itself
	assert.Equal(t, []events.EventType{events.TokenCreated, events.BuyTokens}, pub.types())
}

func TestCreateAnnouncesTokenBeforeItsLaunch(t *testing.T) {
	r, pub := newRegistry()
	r.SetBuyer(&fakeBuyer{launch: true})

	res, err := r.Create(context.Background(), testConfig(), CreateParams{
		Name:       "Moon",
		Symbol:     "MOON",
		Creator:    creator,
		Routers:    []string{"alpha"},
		InitialBuy: uint256.NewInt(700),
		Payment:    uint256.NewInt(700),
	})
	require.NoError(t, err)
	assert.True(t, res.InitialBuy.Launched)
	assert.Equal(t, []events.EventType{events.TokenCreated, events.BuyTokens, events.TokenLaunched}, pub.types())
}

func TestCreateRejectsShortPayment(t *testing.T) {
	r, _ := newRegistry()
	r.SetBuyer(&fakeBuyer{})

	_, err := r.Create(context.Background(), testConfig(), CreateParams{
		Name:       "Moon",
		Symbol:     "MOON",
		Creator:    creator,
		Routers:    []string{"alpha"},
		InitialBuy: uint256.NewInt(700),
		Payment:    uint256.NewInt(699),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment)
}

func TestFailedInitialBuyRollsBack(t *testing.T) {
	r, pub := newRegistry()
	boom := errors.New("boom")
	r.SetBuyer(&fakeBuyer{err: boom})

	_, err := r.Create(context.Background(), testConfig(), CreateParams{
		Name:       "Moon",
		Symbol:     "MOON",
		Creator:    creator,
		Routers:    []string{"alpha"},
		InitialBuy: uint256.NewInt(1),
		Payment:    uint256.NewInt(1),
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, r.List())
	assert.Empty(t, pub.types())
}

func TestAcquireDuringLaunch(t *testing.T) {
	r, _ := newRegistry()
	res, err := r.Create(context.Background(), testConfig(), CreateParams{
		Name: "Moon", Symbol: "MOON", Creator: creator, Routers: []string{"alpha"},
	})
	require.NoError(t, err)

	h, release, err := r.Acquire(res.Token)
	require.NoError(t, err)
	require.True(t, h.BeginLaunch())
	assert.False(t, h.BeginLaunch(), "launch flag must be exclusive")

	_, _, err = r.Acquire(res.Token)
	assert.ErrorIs(t, err, domain.ErrNotTradable)
	_, err = r.Peek(res.Token)
	assert.ErrorIs(t, err, domain.ErrNotTradable)

	h.EndLaunch()
	release()

	_, release, err = r.Acquire(res.Token)
	require.NoError(t, err)
	release()

	_, _, err = r.Acquire(common.HexToAddress("0x99"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommitReplacesState(t *testing.T) {
	r, _ := newRegistry()
	res, err := r.Create(context.Background(), testConfig(), CreateParams{
		Name: "Moon", Symbol: "MOON", Creator: creator, Routers: []string{"alpha"},
	})
	require.NoError(t, err)

	h, release, err := r.Acquire(res.Token)
	require.NoError(t, err)
	working := h.Pool()
	working.RealNativeReserve = uint256.NewInt(42)

	// uncommitted changes stay invisible
	assert.True(t, h.Pool().RealNativeReserve.IsZero())
	h.Commit(working)
	release()

	snap, err := r.Snapshot(res.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.RealNativeReserve.Uint64())
}

func TestRestoreRegistersJournaledPool(t *testing.T) {
	r, _ := newRegistry()
	res, err := r.Create(context.Background(), testConfig(), CreateParams{
		Name:    "Moon",
		Symbol:  "MOON",
		Creator: creator,
		Routers: []string{"alpha"},
	})
	require.NoError(t, err)

	// a fresh process sees only the journaled pool and its holders
	pool := res.Pool.Clone()
	holder := common.HexToAddress("0xbeef")
	sold := uint256.NewInt(5_000)
	pool.RealTokenReserve = new(uint256.Int).Sub(pool.TotalSupply, sold)
	balances := map[common.Address]*uint256.Int{
		custody: pool.RealTokenReserve.Clone(),
		holder:  sold,
	}

	restored, _ := newRegistry()
	require.NoError(t, restored.Restore(pool, balances))

	got, err := restored.Snapshot(pool.Token)
	require.NoError(t, err)
	assert.Equal(t, pool, got)
	assert.Len(t, restored.List(), 1)

	tok, ok := restored.Tokens().Get(pool.Token)
	require.True(t, ok)
	assert.Equal(t, sold, tok.BalanceOf(holder))
	assert.Equal(t, pool.TotalSupply, tok.TotalSupply())

	// trading resumes on the restored entry
	h, release, err := restored.Acquire(pool.Token)
	require.NoError(t, err)
	release()
	assert.Equal(t, pool.Token, h.Token())

	assert.Error(t, restored.Restore(pool, balances))
}

func TestRestoreRejectsInconsistentLedger(t *testing.T) {
	r, _ := newRegistry()
	res, err := r.Create(context.Background(), testConfig(), CreateParams{
		Name:    "Moon",
		Symbol:  "MOON",
		Creator: creator,
		Routers: []string{"alpha"},
	})
	require.NoError(t, err)
	pool := res.Pool

	tests := []struct {
		name     string
		mutate   func(p *domain.Pool)
		balances map[common.Address]*uint256.Int
	}{
		{"balances short of supply", nil, map[common.Address]*uint256.Int{custody: uint256.NewInt(1)}},
		{"reserve outside custody", nil, map[common.Address]*uint256.Int{creator: pool.TotalSupply.Clone()}},
		{"journaled mid-launch", func(p *domain.Pool) { p.Status = domain.StatusLaunching }, map[common.Address]*uint256.Int{custody: pool.TotalSupply.Clone()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pool.Clone()
			if tt.mutate != nil {
				tt.mutate(p)
			}
			fresh, _ := newRegistry()
			assert.Error(t, fresh.Restore(p, tt.balances))
			_, err := fresh.Snapshot(p.Token)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}
