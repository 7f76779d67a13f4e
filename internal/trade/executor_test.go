package trade

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/events"
	"github.com/rovshanmuradov/launchpad/internal/pricefeed"
	"github.com/rovshanmuradov/launchpad/internal/registry"
	"github.com/rovshanmuradov/launchpad/internal/storage"
	"github.com/rovshanmuradov/launchpad/internal/storage/models"
	"github.com/rovshanmuradov/launchpad/internal/token"
)

var (
	custody = common.HexToAddress("0xc0")
	creator = common.HexToAddress("0xa1")
	trader  = common.HexToAddress("0xbeef")
)

type failingJournal struct {
	storage.Nop
	err error
}

func (j failingJournal) RecordTrade(context.Context, *domain.Pool, *domain.TradeResult) error {
	return j.err
}

type launchJournal struct {
	storage.Nop
	launches []*models.LaunchRecord
	saved    []*domain.Pool
}

func (j *launchJournal) RecordLaunch(_ context.Context, rec *models.LaunchRecord) error {
	j.launches = append(j.launches, rec)
	return nil
}

func (j *launchJournal) SavePool(_ context.Context, p *domain.Pool) error {
	j.saved = append(j.saved, p)
	return nil
}

type stubLauncher struct {
	ready    bool
	checkErr error
	err      error
	// halt leaves the pool halted when err is set
	halt     bool
	launches int
}

func (l *stubLauncher) ShouldLaunch(*domain.GlobalConfig, *domain.Pool, decimal.Decimal) (bool, error) {
	return l.ready, l.checkErr
}

func (l *stubLauncher) Launch(_ context.Context, _ *domain.GlobalConfig, h *registry.Handle, _ events.Publisher) (*domain.LaunchResult, error) {
	l.launches++
	if l.err != nil {
		if l.halt {
			pool := h.Pool()
			pool.Status = domain.StatusHalted
			pool.Pairs = []common.Address{common.HexToAddress("0x1234")}
			h.Commit(pool)
		}
		return nil, l.err
	}
	pool := h.Pool()
	pool.Launched = true
	pool.Status = domain.StatusLaunched
	h.Commit(pool)
	return &domain.LaunchResult{
		Token:       pool.Token,
		Deployments: []domain.LiquidityDeployment{{RouterID: "alpha", Pair: common.HexToAddress("0x1234")}},
	}, nil
}

func testConfig() *domain.GlobalConfig {
	cfg := domain.DefaultGlobalConfig()
	cfg.PlatformBuyFeePercent = decimal.NewFromInt(3)
	cfg.PlatformSellFeePercent = decimal.NewFromInt(1)
	cfg.OwnerFeePercent = decimal.NewFromInt(20)
	cfg.Routers = []domain.RouterConfig{
		{ID: "alpha", Address: common.HexToAddress("0xa"), Weight: 1, Enabled: true},
	}
	return cfg
}

type fixture struct {
	cfg      *domain.GlobalConfig
	registry *registry.Registry
	exec     *Executor
	token    common.Address
}

func newFixture(t *testing.T, cfg *domain.GlobalConfig, launcher Launcher, journal storage.Journal) *fixture {
	t.Helper()
	reg := registry.New(token.NewFactory(common.HexToAddress("0xd3"), zap.NewNop()), custody, nil, zap.NewNop())
	exec, err := NewExecutor(&ExecutorConfig{
		Registry: reg,
		Launcher: launcher,
		Feed:     pricefeed.NewStatic(decimal.NewFromInt(3000)),
		Journal:  journal,
		Config:   func() *domain.GlobalConfig { return cfg },
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)

	res, err := reg.Create(context.Background(), cfg, registry.CreateParams{
		Name:    "Moon",
		Symbol:  "MOON",
		Creator: creator,
		Routers: []string{"alpha"},
	})
	require.NoError(t, err)
	return &fixture{cfg: cfg, registry: reg, exec: exec, token: res.Token}
}

func (f *fixture) native(t *testing.T, s string) *uint256.Int {
	t.Helper()
	x, err := f.cfg.NativeUnits("amount", decimal.RequireFromString(s))
	require.NoError(t, err)
	return x
}

func (f *fixture) pool(t *testing.T) *domain.Pool {
	t.Helper()
	p, err := f.registry.Snapshot(f.token)
	require.NoError(t, err)
	return p
}

func (f *fixture) balance(trader common.Address) *uint256.Int {
	tok, _ := f.registry.Tokens().Get(f.token)
	return tok.BalanceOf(trader)
}

func (f *fixture) buy(t *testing.T, amount string) *domain.TradeResult {
	t.Helper()
	res, err := f.exec.Buy(context.Background(), domain.BuyParams{
		Token:    f.token,
		Trader:   trader,
		NativeIn: f.native(t, amount),
	})
	require.NoError(t, err)
	return res
}

func TestBuyMovesPriceUp(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	before := f.pool(t)

	q, err := f.exec.QuoteBuy(f.token, f.native(t, "1"))
	require.NoError(t, err)

	res := f.buy(t, "1")
	after := f.pool(t)

	assert.Equal(t, q.AmountOut, res.TokenAmount)
	assert.Equal(t, q.Fee, res.Fee)
	assert.True(t, q.PriceAfter.Equal(res.Price))
	assert.True(t, res.Price.GreaterThan(q.PriceBefore))

	// 3% of 1 native, a fifth of it to the creator
	assert.Equal(t, f.native(t, "0.03"), res.Fee)
	assert.Equal(t, f.native(t, "0.006"), res.OwnerFee)
	assert.Equal(t, f.native(t, "0.97"), after.RealNativeReserve)
	assert.Equal(t, f.native(t, "0.006"), after.OwnerFeesAccrued)
	assert.Equal(t, f.native(t, "0.024"), after.ProtocolFeesAccrued)
	assert.Equal(t, new(uint256.Int).Sub(before.RealTokenReserve, res.TokenAmount), after.RealTokenReserve)
	assert.Equal(t, res.TokenAmount, f.balance(trader))
	assert.True(t, after.FirstBuyConsumed)
	assert.True(t, res.MarketCapUSD.IsPositive())
	assert.NotEmpty(t, res.ID)
}

func TestSellMovesPriceDown(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	bought := f.buy(t, "2")
	half := new(uint256.Int).Rsh(bought.TokenAmount, 1)

	q, err := f.exec.QuoteSell(f.token, half)
	require.NoError(t, err)

	res, err := f.exec.Sell(context.Background(), domain.SellParams{
		Token:        f.token,
		Trader:       trader,
		TokensIn:     half,
		MinNativeOut: q.AmountOut,
	})
	require.NoError(t, err)

	assert.Equal(t, q.AmountOut, res.NativeAmount)
	assert.True(t, res.Price.LessThan(bought.Price))
	assert.Equal(t, new(uint256.Int).Sub(bought.TokenAmount, half), f.balance(trader))
}

func TestRoundTripLosesOnlyFees(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	in := f.native(t, "1")
	bought := f.buy(t, "1")

	sold, err := f.exec.Sell(context.Background(), domain.SellParams{
		Token:    f.token,
		Trader:   trader,
		TokensIn: bought.TokenAmount,
	})
	require.NoError(t, err)

	assert.True(t, sold.NativeAmount.Lt(in))
	// 0.97 back through the curve, minus 1% on the way out
	floor := f.native(t, "0.96")
	assert.False(t, sold.NativeAmount.Lt(floor), "got %s", sold.NativeAmount.Dec())

	p := f.pool(t)
	assert.Equal(t, p.TotalSupply, p.RealTokenReserve)
	assert.True(t, f.balance(trader).IsZero())
}

func TestCapExceededLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	before := f.pool(t)

	_, err := f.exec.Buy(context.Background(), domain.BuyParams{
		Token:    f.token,
		Trader:   trader,
		NativeIn: f.native(t, "10"),
	})
	assert.ErrorIs(t, err, domain.ErrCapExceeded)
	assert.Equal(t, before, f.pool(t))
	assert.True(t, f.balance(trader).IsZero())

	_, err = f.exec.QuoteBuy(f.token, f.native(t, "10"))
	assert.ErrorIs(t, err, domain.ErrCapExceeded)
}

func TestSellCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSellPercent = decimal.NewFromInt(1)
	f := newFixture(t, cfg, nil, nil)
	bought := f.buy(t, "1")

	_, err := f.exec.Sell(context.Background(), domain.SellParams{
		Token:    f.token,
		Trader:   trader,
		TokensIn: bought.TokenAmount,
	})
	assert.ErrorIs(t, err, domain.ErrCapExceeded)
}

func TestSlippageRejection(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	q, err := f.exec.QuoteBuy(f.token, f.native(t, "1"))
	require.NoError(t, err)
	before := f.pool(t)

	_, err = f.exec.Buy(context.Background(), domain.BuyParams{
		Token:        f.token,
		Trader:       trader,
		NativeIn:     f.native(t, "1"),
		MinTokensOut: new(uint256.Int).AddUint64(q.AmountOut, 1),
	})
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assert.Equal(t, before, f.pool(t))
}

func TestFirstBuyFee(t *testing.T) {
	cfg := testConfig()
	cfg.FirstBuyFee = decimal.RequireFromString("0.01")
	f := newFixture(t, cfg, nil, nil)

	first := f.buy(t, "1")
	assert.Equal(t, f.native(t, "0.04"), first.Fee)
	// the creator shares only the percentage fee
	assert.Equal(t, f.native(t, "0.006"), first.OwnerFee)

	second := f.buy(t, "1")
	assert.Equal(t, f.native(t, "0.03"), second.Fee)
}

func TestPaymentMustCoverFee(t *testing.T) {
	cfg := testConfig()
	cfg.FirstBuyFee = decimal.NewFromInt(1)
	f := newFixture(t, cfg, nil, nil)

	_, err := f.exec.Buy(context.Background(), domain.BuyParams{
		Token:    f.token,
		Trader:   trader,
		NativeIn: f.native(t, "0.5"),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment)
	assert.False(t, f.pool(t).FirstBuyConsumed)
}

func TestLaunchReservationBlocksBuy(t *testing.T) {
	cfg := testConfig()
	cfg.DesiredTokensForLp = decimal.NewFromInt(980_000_000)
	f := newFixture(t, cfg, nil, nil)

	_, err := f.exec.Buy(context.Background(), domain.BuyParams{
		Token:    f.token,
		Trader:   trader,
		NativeIn: f.native(t, "1"),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientReserve)
}

func TestSellMoreThanHeld(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	bought := f.buy(t, "1")

	_, err := f.exec.Sell(context.Background(), domain.SellParams{
		Token:    f.token,
		Trader:   trader,
		TokensIn: new(uint256.Int).AddUint64(bought.TokenAmount, 1),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestJournalFailureRevertsTrade(t *testing.T) {
	boom := errors.New("disk full")
	f := newFixture(t, testConfig(), nil, failingJournal{err: boom})
	before := f.pool(t)

	_, err := f.exec.Buy(context.Background(), domain.BuyParams{
		Token:    f.token,
		Trader:   trader,
		NativeIn: f.native(t, "1"),
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, f.pool(t))
	assert.True(t, f.balance(trader).IsZero())
}

func TestInvalidParams(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)

	_, err := f.exec.Buy(context.Background(), domain.BuyParams{Token: f.token, Trader: trader})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.exec.Buy(context.Background(), domain.BuyParams{Token: f.token, NativeIn: f.native(t, "1")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.exec.Sell(context.Background(), domain.SellParams{Token: f.token, Trader: trader})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.exec.Buy(context.Background(), domain.BuyParams{
		Token: common.HexToAddress("0x99"), Trader: trader, NativeIn: f.native(t, "1"),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBuyTriggersLaunch(t *testing.T) {
	launcher := &stubLauncher{ready: true}
	f := newFixture(t, testConfig(), launcher, nil)

	res := f.buy(t, "1")
	assert.True(t, res.Launched)
	assert.Equal(t, []common.Address{common.HexToAddress("0x1234")}, res.Pairs)
	assert.NoError(t, res.LaunchErr)
	assert.Equal(t, 1, launcher.launches)

	_, err := f.exec.Buy(context.Background(), domain.BuyParams{
		Token:    f.token,
		Trader:   trader,
		NativeIn: f.native(t, "1"),
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyLaunched)

	_, err = f.exec.QuoteSell(f.token, res.TokenAmount)
	assert.ErrorIs(t, err, domain.ErrAlreadyLaunched)
}

func TestAbortedLaunchKeepsTrade(t *testing.T) {
	launcher := &stubLauncher{ready: true, err: domain.NewError(domain.KindLaunchAborted, "router", "pair rejected liquidity")}
	f := newFixture(t, testConfig(), launcher, nil)

	res := f.buy(t, "1")
	assert.False(t, res.Launched)
	assert.ErrorIs(t, res.LaunchErr, domain.ErrLaunchAborted)
	assert.Equal(t, res.TokenAmount, f.balance(trader))

	p := f.pool(t)
	assert.False(t, p.Launched)
	assert.Equal(t, f.native(t, "0.97"), p.RealNativeReserve)

	// retry reaches the launcher again
	launcher.err = nil
	lr, err := f.exec.RetryLaunch(context.Background(), f.token)
	require.NoError(t, err)
	assert.Len(t, lr.PairAddresses(), 1)
	assert.Equal(t, 2, launcher.launches)
}

func TestRetryLaunchBelowThreshold(t *testing.T) {
	f := newFixture(t, testConfig(), &stubLauncher{}, nil)

	_, err := f.exec.RetryLaunch(context.Background(), f.token)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLaunchCheckFailureReachesCaller(t *testing.T) {
	launcher := &stubLauncher{checkErr: errors.New("price feed stale")}
	f := newFixture(t, testConfig(), launcher, nil)

	res := f.buy(t, "1")
	assert.False(t, res.Launched)
	assert.EqualError(t, res.LaunchErr, "price feed stale")
	assert.Equal(t, 0, launcher.launches)
	assert.Equal(t, res.TokenAmount, f.balance(trader))
}

func TestHaltedLaunchIsJournaled(t *testing.T) {
	launcher := &stubLauncher{ready: true, halt: true, err: domain.NewError(domain.KindLaunchAborted, "routers", "unwind failed")}
	journal := &launchJournal{}
	f := newFixture(t, testConfig(), launcher, journal)

	res := f.buy(t, "1")
	assert.ErrorIs(t, res.LaunchErr, domain.ErrLaunchAborted)

	require.Len(t, journal.launches, 1)
	assert.Equal(t, models.LaunchStatusHalted, journal.launches[0].Status)
	assert.Equal(t, common.HexToAddress("0x1234").Hex(), journal.launches[0].Pairs)
	require.NotEmpty(t, journal.saved)
	assert.Equal(t, domain.StatusHalted, journal.saved[len(journal.saved)-1].Status)

	_, err := f.exec.Buy(context.Background(), domain.BuyParams{
		Token:    f.token,
		Trader:   trader,
		NativeIn: f.native(t, "1"),
	})
	assert.ErrorIs(t, err, domain.ErrNotTradable)
	_, err = f.exec.RetryLaunch(context.Background(), f.token)
	assert.ErrorIs(t, err, domain.ErrNotTradable)
	assert.Equal(t, 1, launcher.launches)
}
