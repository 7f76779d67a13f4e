package launch

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
	"github.com/rovshanmuradov/launchpad/internal/pricing"
	"github.com/rovshanmuradov/launchpad/internal/registry"
	"github.com/rovshanmuradov/launchpad/internal/token"
)

var (
	custody = common.HexToAddress("0xc0")
	creator = common.HexToAddress("0xa1")
	trader  = common.HexToAddress("0xbeef")
	usd     = decimal.NewFromInt(3000)
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

// fakeRouter parks the pulled tokens at its pair address.
type fakeRouter struct {
	id      string
	addr    common.Address
	pair    common.Address
	tokens  *token.Factory
	fail    error
	// unwindFail makes Unwind leave the liquidity in the pair
	unwindFail error
	mu         sync.Mutex
	unwound    int
}

func (r *fakeRouter) ID() string { return r.id }

func (r *fakeRouter) AddLiquidity(_ context.Context, p AddLiquidityParams) (*Receipt, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	tok, _ := r.tokens.Get(p.Token)
	if err := tok.TransferFrom(r.addr, p.TokenSource, r.pair, p.TokenAmountDesired); err != nil {
		return nil, err
	}
	return &Receipt{
		RouterID:    r.id,
		Pair:        r.pair,
		Token:       p.Token,
		TokenSource: p.TokenSource,
		Recipient:   p.Recipient,
		Native:      p.NativeValue.Clone(),
		Tokens:      p.TokenAmountDesired.Clone(),
		Liquidity:   uint256.NewInt(1),
		PairCreated: true,
	}, nil
}

func (r *fakeRouter) Unwind(_ context.Context, rc *Receipt) error {
	if r.unwindFail != nil {
		return r.unwindFail
	}
	tok, _ := r.tokens.Get(rc.Token)
	if err := tok.Transfer(r.pair, rc.TokenSource, rc.Tokens); err != nil {
		return err
	}
	r.mu.Lock()
	r.unwound++
	r.mu.Unlock()
	return nil
}

type fixture struct {
	cfg      *domain.GlobalConfig
	registry *registry.Registry
	tokens   *token.Factory
	coord    *Coordinator
	pub      *capture
	alpha    *fakeRouter
	beta     *fakeRouter
	token    common.Address
}

func testConfig() *domain.GlobalConfig {
	cfg := domain.DefaultGlobalConfig()
	cfg.TargetMarketCapUSD = decimal.NewFromInt(36_900)
	cfg.DesiredNativeForLp = decimal.NewFromInt(6)
	cfg.DesiredTokensForLp = decimal.NewFromInt(200_000_000)
	cfg.TokenOwnerLpFee = decimal.NewFromInt(1_000_000)
	cfg.Routers = []domain.RouterConfig{
		{ID: "alpha", Address: common.HexToAddress("0xa"), Weight: 1, Enabled: true},
		{ID: "beta", Address: common.HexToAddress("0xb"), Weight: 2, Enabled: true},
	}
	return cfg
}

func newFixture(t *testing.T, cfg *domain.GlobalConfig) *fixture {
	t.Helper()
	tokens := token.NewFactory(common.HexToAddress("0xd3"), zap.NewNop())
	pub := &capture{}
	reg := registry.New(tokens, custody, nil, zap.NewNop())
	res, err := reg.Create(context.Background(), cfg, registry.CreateParams{
		Name:    "Moon",
		Symbol:  "MOON",
		Creator: creator,
		Routers: []string{"alpha", "beta"},
	})
	require.NoError(t, err)

	f := &fixture{
		cfg:      cfg,
		registry: reg,
		tokens:   tokens,
		coord:    NewCoordinator(tokens, custody, pub, nil, zap.NewNop()),
		pub:      pub,
		alpha:    &fakeRouter{id: "alpha", addr: common.HexToAddress("0xa"), pair: common.HexToAddress("0xa0"), tokens: tokens},
		beta:     &fakeRouter{id: "beta", addr: common.HexToAddress("0xb"), pair: common.HexToAddress("0xb0"), tokens: tokens},
		token:    res.Token,
	}
	f.coord.Register(f.alpha)
	f.coord.Register(f.beta)
	return f
}

// fill pushes net native through the curve as if a trader had bought.
func (f *fixture) fill(t *testing.T, net string) *domain.Pool {
	t.Helper()
	amount, err := f.cfg.NativeUnits("net", decimal.RequireFromString(net))
	require.NoError(t, err)

	h, release, err := f.registry.Acquire(f.token)
	require.NoError(t, err)
	defer release()

	pool := h.Pool()
	q, err := pricing.QuoteBuy(pool, amount)
	require.NoError(t, err)
	pool.RealNativeReserve = new(uint256.Int).Add(pool.RealNativeReserve, amount)
	pool.RealTokenReserve = new(uint256.Int).Sub(pool.RealTokenReserve, q.TokensOut)
	tok, _ := f.tokens.Get(f.token)
	require.NoError(t, tok.Transfer(custody, trader, q.TokensOut))
	h.Commit(pool)
	return pool.Clone()
}

func (f *fixture) launch(t *testing.T) (*domain.LaunchResult, error) {
	t.Helper()
	h, release, err := f.registry.Acquire(f.token)
	require.NoError(t, err)
	defer release()
	return f.coord.Launch(context.Background(), f.cfg, h, nil)
}

func (f *fixture) tokenBalance(addr common.Address) *uint256.Int {
	tok, _ := f.tokens.Get(f.token)
	return tok.BalanceOf(addr)
}

func TestShouldLaunch(t *testing.T) {
	tests := []struct {
		name     string
		net      string
		mutate   func(cfg *domain.GlobalConfig)
		expected bool
	}{
		{"below target market cap", "5", nil, false},
		{"target and desired native reached", "10", nil, true},
		{"desired native not reached", "10", func(c *domain.GlobalConfig) { c.DesiredNativeForLp = decimal.NewFromInt(20) }, false},
		{"target lp amount reached", "10", func(c *domain.GlobalConfig) {
			c.DesiredNativeForLp = decimal.NewFromInt(20)
			c.TargetLpAmount = decimal.NewFromInt(8)
		}, true},
		{"target lp amount not reached", "10", func(c *domain.GlobalConfig) {
			c.DesiredNativeForLp = decimal.NewFromInt(20)
			c.TargetLpAmount = decimal.NewFromInt(12)
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			f := newFixture(t, cfg)
			pool := f.fill(t, tt.net)

			ready, err := f.coord.ShouldLaunch(cfg, pool, usd)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ready)
		})
	}
}

func TestShouldLaunchIgnoresLaunchedPool(t *testing.T) {
	f := newFixture(t, testConfig())
	pool := f.fill(t, "10")
	pool.Launched = true

	ready, err := f.coord.ShouldLaunch(f.cfg, pool, usd)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestPlanSplitsByWeight(t *testing.T) {
	f := newFixture(t, testConfig())
	pool := f.fill(t, "10")

	plan, err := f.coord.PlanFor(f.cfg, pool)
	require.NoError(t, err)

	six, _ := f.cfg.NativeUnits("", decimal.NewFromInt(6))
	two, _ := f.cfg.NativeUnits("", decimal.NewFromInt(2))
	four, _ := f.cfg.NativeUnits("", decimal.NewFromInt(4))
	lpTokens, _ := f.cfg.TokenUnits("", f.cfg.DesiredTokensForLp)

	assert.Equal(t, six, plan.Native)
	assert.Equal(t, lpTokens, plan.Tokens)
	assert.Equal(t, pool.OwnerLpFee, plan.OwnerTokens)

	require.Len(t, plan.Shares, 2)
	assert.Equal(t, "alpha", plan.Shares[0].Router.ID)
	assert.Equal(t, two, plan.Shares[0].Native)
	assert.Equal(t, four, plan.Shares[1].Native)
	sum := new(uint256.Int).Add(plan.Shares[0].Tokens, plan.Shares[1].Tokens)
	assert.Equal(t, lpTokens, sum)
	assert.True(t, plan.Shares[1].Tokens.Gt(plan.Shares[0].Tokens))
}

func TestPlanRejectsZeroShare(t *testing.T) {
	f := newFixture(t, testConfig())
	pool := f.fill(t, "10")
	pool.RealNativeReserve = uint256.NewInt(1)

	_, err := f.coord.PlanFor(f.cfg, pool)
	assert.ErrorIs(t, err, domain.ErrLaunchAborted)
}

func TestPlanRejectsDisabledRouter(t *testing.T) {
	f := newFixture(t, testConfig())
	pool := f.fill(t, "10")
	cfg := f.cfg.Clone()
	cfg.Routers[1].Enabled = false

	_, err := f.coord.PlanFor(cfg, pool)
	assert.ErrorIs(t, err, domain.ErrLaunchAborted)
}

func TestLaunchDeploysLiquidity(t *testing.T) {
	f := newFixture(t, testConfig())
	before := f.fill(t, "10")
	custodyBefore := f.tokenBalance(custody)

	res, err := f.launch(t)
	require.NoError(t, err)
	assert.Len(t, res.Deployments, 2)
	assert.Equal(t, []common.Address{f.alpha.pair, f.beta.pair}, res.PairAddresses())

	p, err := f.registry.Snapshot(f.token)
	require.NoError(t, err)
	assert.True(t, p.Launched)
	assert.Equal(t, domain.StatusLaunched, p.Status)
	assert.True(t, p.EscrowNative.IsZero())
	assert.True(t, p.EscrowTokens.IsZero())

	plan, err := f.coord.PlanFor(f.cfg, before)
	require.NoError(t, err)
	assert.Equal(t, plan.Native, p.LpNative)
	assert.Equal(t, plan.Tokens, p.LpTokens)

	// native beyond the LP target goes to the protocol
	residue := new(uint256.Int).Sub(before.RealNativeReserve, plan.Native)
	assert.Equal(t, residue, res.TreasuryNative)
	assert.Equal(t, new(uint256.Int).Add(before.ProtocolFeesAccrued, residue), p.ProtocolFeesAccrued)
	assert.True(t, p.RealNativeReserve.IsZero())

	// unsold curve tokens are burned and leave the supply
	lpAndFee := new(uint256.Int).Add(plan.Tokens, plan.OwnerTokens)
	burned := new(uint256.Int).Sub(custodyBefore, lpAndFee)
	assert.False(t, burned.IsZero())
	assert.Equal(t, burned, res.BurnedTokens)
	assert.True(t, f.tokenBalance(custody).IsZero())
	assert.True(t, p.RealTokenReserve.IsZero())
	assert.Equal(t, new(uint256.Int).Sub(before.TotalSupply, burned), p.TotalSupply)

	assert.Equal(t, before.OwnerLpFee, f.tokenBalance(creator))

	tok, _ := f.tokens.Get(f.token)
	assert.Equal(t, p.TotalSupply, tok.TotalSupply())
	circulating := new(uint256.Int).Add(f.tokenBalance(trader), f.tokenBalance(creator))
	circulating.Add(circulating, f.tokenBalance(f.alpha.pair))
	circulating.Add(circulating, f.tokenBalance(f.beta.pair))
	assert.Equal(t, tok.TotalSupply(), circulating)

	assert.True(t, tok.Allowance(custody, f.alpha.addr).IsZero())
	assert.True(t, tok.Allowance(custody, f.beta.addr).IsZero())

	assert.Equal(t, []events.EventType{events.TokenLaunched}, f.pub.types())
	launched, ok := f.pub.events[0].(events.TokenLaunchedEvent)
	require.True(t, ok)
	assert.Equal(t, burned, launched.Burned)

	_, err = f.launch(t)
	assert.ErrorIs(t, err, domain.ErrAlreadyLaunched)
}

func TestFailedRouterUnwindsLaunch(t *testing.T) {
	f := newFixture(t, testConfig())
	f.beta.fail = errors.New("pair reverted")
	before := f.fill(t, "10")
	custodyBefore := f.tokenBalance(custody)

	_, err := f.launch(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLaunchAborted)

	after, err := f.registry.Snapshot(f.token)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, after.Launched)
	assert.Equal(t, domain.StatusTrading, after.Status)

	assert.Equal(t, 1, f.alpha.unwound)
	assert.Equal(t, custodyBefore, f.tokenBalance(custody))
	assert.True(t, f.tokenBalance(f.alpha.pair).IsZero())

	tok, _ := f.tokens.Get(f.token)
	assert.True(t, tok.Allowance(custody, f.alpha.addr).IsZero())
	assert.True(t, tok.Allowance(custody, f.beta.addr).IsZero())

	assert.Equal(t, []events.EventType{events.LaunchAborted}, f.pub.types())

	// the launching flag is released
	_, release, err := f.registry.Acquire(f.token)
	require.NoError(t, err)
	release()

	f.beta.fail = nil
	_, err = f.launch(t)
	require.NoError(t, err)
}

func TestStrandedLiquidityHaltsPool(t *testing.T) {
	f := newFixture(t, testConfig())
	f.alpha.unwindFail = errors.New("pair paused")
	f.beta.fail = errors.New("pair reverted")
	before := f.fill(t, "10")
	custodyBefore := f.tokenBalance(custody)

	_, err := f.launch(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLaunchAborted)
	assert.Contains(t, err.Error(), "pair paused")
	assert.Contains(t, err.Error(), "halted")

	plan, err := f.coord.PlanFor(f.cfg, before)
	require.NoError(t, err)
	alphaShare := plan.Shares[0]

	after, err := f.registry.Snapshot(f.token)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHalted, after.Status)
	assert.False(t, after.Launched)
	assert.Equal(t, []common.Address{f.alpha.pair}, after.Pairs)
	assert.Equal(t, alphaShare.Native, after.LpNative)
	assert.Equal(t, alphaShare.Tokens, after.LpTokens)
	assert.Equal(t, new(uint256.Int).Sub(before.RealNativeReserve, alphaShare.Native), after.RealNativeReserve)
	assert.Equal(t, new(uint256.Int).Sub(before.RealTokenReserve, alphaShare.Tokens), after.RealTokenReserve)
	assert.True(t, after.EscrowNative.IsZero())
	assert.True(t, after.EscrowTokens.IsZero())

	// custody holds exactly the reserve; the rest sits in the pair
	assert.Equal(t, after.RealTokenReserve, f.tokenBalance(custody))
	assert.Equal(t, alphaShare.Tokens, f.tokenBalance(f.alpha.pair))
	assert.Equal(t, custodyBefore, new(uint256.Int).Add(f.tokenBalance(custody), f.tokenBalance(f.alpha.pair)))

	assert.ErrorIs(t, after.Tradable(), domain.ErrNotTradable)
	ready, err := f.coord.ShouldLaunch(f.cfg, after, usd)
	require.NoError(t, err)
	assert.False(t, ready)

	require.Equal(t, []events.EventType{events.LaunchAborted}, f.pub.types())
	aborted, ok := f.pub.events[0].(events.LaunchAbortedEvent)
	require.True(t, ok)
	assert.True(t, aborted.Halted)
	assert.Equal(t, []common.Address{f.alpha.pair}, aborted.StrandedPairs)

	// a halted pool refuses another launch attempt
	f.alpha.unwindFail = nil
	f.beta.fail = nil
	_, err = f.launch(t)
	assert.ErrorIs(t, err, domain.ErrNotTradable)
}

func TestLaunchEventsFollowCallerPublisher(t *testing.T) {
	f := newFixture(t, testConfig())
	f.fill(t, "10")

	h, release, err := f.registry.Acquire(f.token)
	require.NoError(t, err)
	defer release()

	local := &capture{}
	_, err = f.coord.Launch(context.Background(), f.cfg, h, local)
	require.NoError(t, err)
	assert.Equal(t, []events.EventType{events.TokenLaunched}, local.types())
	assert.Empty(t, f.pub.types())
}
