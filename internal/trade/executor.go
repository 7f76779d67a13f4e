// internal/trade/executor.go
package trade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/events"
	"github.com/rovshanmuradov/launchpad/internal/fees"
	"github.com/rovshanmuradov/launchpad/internal/metrics"
	"github.com/rovshanmuradov/launchpad/internal/pricefeed"
	"github.com/rovshanmuradov/launchpad/internal/pricing"
	"github.com/rovshanmuradov/launchpad/internal/registry"
	"github.com/rovshanmuradov/launchpad/internal/storage"
	"github.com/rovshanmuradov/launchpad/internal/storage/models"
)

// Launcher graduates a pool once a buy pushes it over the threshold.
type Launcher interface {
	ShouldLaunch(cfg *domain.GlobalConfig, pool *domain.Pool, usdPerNative decimal.Decimal) (bool, error)
	// Launch publishes its events to pub, or to its own publisher when pub is nil.
	Launch(ctx context.Context, cfg *domain.GlobalConfig, h *registry.Handle, pub events.Publisher) (*domain.LaunchResult, error)
}

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Registry *registry.Registry
	Launcher Launcher
	Feed     pricefeed.Feed
	Journal  storage.Journal
	Events   events.Publisher
	Metrics  *metrics.Collector
	// Config returns the live configuration snapshot.
	Config func() *domain.GlobalConfig
	Logger *zap.Logger
}

// Executor runs buys and sells against the curve. Every trade is computed on
// a copy of the pool and committed whole, or not at all.
type Executor struct {
	registry *registry.Registry
	launcher Launcher
	feed     pricefeed.Feed
	journal  storage.Journal
	events   events.Publisher
	metrics  *metrics.Collector
	config   func() *domain.GlobalConfig
	logger   *zap.Logger
}

var _ registry.Buyer = (*Executor)(nil)

// NewExecutor creates an executor and registers it as the registry's buyer.
func NewExecutor(cfg *ExecutorConfig) (*Executor, error) {
	if cfg.Registry == nil || cfg.Feed == nil || cfg.Config == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("executor requires registry, feed, config and logger")
	}
	journal := cfg.Journal
	if journal == nil {
		journal = storage.Nop{}
	}
	e := &Executor{
		registry: cfg.Registry,
		launcher: cfg.Launcher,
		feed:     cfg.Feed,
		journal:  journal,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		config:   cfg.Config,
		logger:   cfg.Logger.Named("trade_executor"),
	}
	cfg.Registry.SetBuyer(e)
	return e, nil
}

// Buy spends p.NativeIn on tokens of p.Token.
func (e *Executor) Buy(ctx context.Context, p domain.BuyParams) (*domain.TradeResult, error) {
	cfg := e.config()
	h, release, err := e.registry.Acquire(p.Token)
	if err != nil {
		e.metrics.RecordRejected(string(domain.SideBuy), string(domain.KindOf(err)))
		return nil, err
	}
	defer release()
	return e.BuyOnHandle(ctx, cfg, h, p, e.events)
}

// Sell returns p.TokensIn to the curve of p.Token.
func (e *Executor) Sell(ctx context.Context, p domain.SellParams) (*domain.TradeResult, error) {
	cfg := e.config()
	h, release, err := e.registry.Acquire(p.Token)
	if err != nil {
		e.metrics.RecordRejected(string(domain.SideSell), string(domain.KindOf(err)))
		return nil, err
	}
	defer release()
	return e.sellOnHandle(ctx, cfg, h, p)
}

// BuyOnHandle executes a buy on a pool the caller already holds, then runs
// the launch if the buy crossed the threshold.
func (e *Executor) BuyOnHandle(ctx context.Context, cfg *domain.GlobalConfig, h *registry.Handle, p domain.BuyParams, pub events.Publisher) (*domain.TradeResult, error) {
	start := time.Now()
	result, working, usd, err := e.buy(ctx, cfg, h, p)
	if err != nil {
		e.metrics.RecordRejected(string(domain.SideBuy), string(domain.KindOf(err)))
		e.logger.Debug("Buy rejected",
			zap.String("token", p.Token.Hex()),
			zap.String("trader", p.Trader.Hex()),
			zap.Error(err))
		return nil, err
	}
	e.committed(result, working, time.Since(start), pub)

	if e.launcher == nil {
		return result, nil
	}
	ready, err := e.launcher.ShouldLaunch(cfg, working, usd)
	if err != nil {
		// the trade stands; the launch can be retried later
		e.logger.Warn("Launch condition check failed", zap.String("token", p.Token.Hex()), zap.Error(err))
		result.LaunchErr = err
		return result, nil
	}
	if ready {
		e.launch(ctx, cfg, h, result, pub)
	}
	return result, nil
}

// RetryLaunch re-evaluates a pool whose earlier launch aborted.
func (e *Executor) RetryLaunch(ctx context.Context, token common.Address) (*domain.LaunchResult, error) {
	if e.launcher == nil {
		return nil, domain.NewError(domain.KindLaunchAborted, "launcher", "no launcher configured")
	}
	cfg := e.config()
	h, release, err := e.registry.Acquire(token)
	if err != nil {
		return nil, err
	}
	defer release()

	pool := h.Pool()
	if err := pool.Tradable(); err != nil {
		return nil, err
	}
	usd, err := e.feed.USDPerNative(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get native price: %w", err)
	}
	ready, err := e.launcher.ShouldLaunch(cfg, pool, usd)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, domain.NewError(domain.KindValidation, "market_cap", "launch threshold not reached")
	}

	start := time.Now()
	lr, err := e.launcher.Launch(ctx, cfg, h, e.events)
	e.recordLaunch(ctx, h, token, lr, err, start)
	return lr, err
}

func (e *Executor) buy(ctx context.Context, cfg *domain.GlobalConfig, h *registry.Handle, p domain.BuyParams) (*domain.TradeResult, *domain.Pool, decimal.Decimal, error) {
	if p.NativeIn == nil || p.NativeIn.IsZero() {
		return nil, nil, decimal.Zero, domain.NewError(domain.KindValidation, "nativeIn", "amount must be positive")
	}
	if p.Trader == (common.Address{}) {
		return nil, nil, decimal.Zero, domain.NewError(domain.KindValidation, "trader", "trader address is zero")
	}
	pool := h.Pool()
	if err := pool.Tradable(); err != nil {
		return nil, nil, decimal.Zero, err
	}

	q, fee, err := quoteBuy(cfg, pool, p.NativeIn)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	minOut := p.MinTokensOut
	if minOut == nil || minOut.IsZero() {
		minOut = uint256.NewInt(1)
	}
	if q.TokensOut.Lt(minOut) {
		return nil, nil, decimal.Zero, domain.NewError(domain.KindSlippageExceeded, "minTokensOut",
			"would receive %s tokens, minimum %s", q.TokensOut.Dec(), minOut.Dec())
	}

	net := new(uint256.Int).Sub(p.NativeIn, fee.Total)
	working := pool.Clone()
	if working.RealNativeReserve, err = domain.Add("realNativeReserve", working.RealNativeReserve, net); err != nil {
		return nil, nil, decimal.Zero, err
	}
	working.RealTokenReserve = new(uint256.Int).Sub(working.RealTokenReserve, q.TokensOut)
	if err := fees.Accrue(working, fee); err != nil {
		return nil, nil, decimal.Zero, err
	}

	usd, err := e.feed.USDPerNative(ctx)
	if err != nil {
		return nil, nil, decimal.Zero, fmt.Errorf("failed to get native price: %w", err)
	}
	result, err := newResult(domain.SideBuy, p.Token, p.Trader, working, usd)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	result.NativeAmount = p.NativeIn.Clone()
	result.TokenAmount = q.TokensOut
	result.Fee = fee.Total
	result.OwnerFee = fee.Owner

	if err := e.settle(ctx, h, working, result, e.registry.Custody(), p.Trader, q.TokensOut); err != nil {
		return nil, nil, decimal.Zero, err
	}
	return result, working, usd, nil
}

func (e *Executor) sellOnHandle(ctx context.Context, cfg *domain.GlobalConfig, h *registry.Handle, p domain.SellParams) (*domain.TradeResult, error) {
	start := time.Now()
	result, working, err := e.sell(ctx, cfg, h, p)
	if err != nil {
		e.metrics.RecordRejected(string(domain.SideSell), string(domain.KindOf(err)))
		e.logger.Debug("Sell rejected",
			zap.String("token", p.Token.Hex()),
			zap.String("trader", p.Trader.Hex()),
			zap.Error(err))
		return nil, err
	}
	e.committed(result, working, time.Since(start), e.events)
	return result, nil
}

func (e *Executor) sell(ctx context.Context, cfg *domain.GlobalConfig, h *registry.Handle, p domain.SellParams) (*domain.TradeResult, *domain.Pool, error) {
	if p.TokensIn == nil || p.TokensIn.IsZero() {
		return nil, nil, domain.NewError(domain.KindValidation, "tokensIn", "amount must be positive")
	}
	if p.Trader == (common.Address{}) {
		return nil, nil, domain.NewError(domain.KindValidation, "trader", "trader address is zero")
	}
	pool := h.Pool()
	if err := pool.Tradable(); err != nil {
		return nil, nil, err
	}

	tok, ok := e.registry.Tokens().Get(p.Token)
	if !ok {
		return nil, nil, domain.NewError(domain.KindNotFound, "token", "token %s not deployed", p.Token.Hex())
	}
	if bal := tok.BalanceOf(p.Trader); bal.Lt(p.TokensIn) {
		return nil, nil, domain.NewError(domain.KindInsufficientBalance, "tokensIn",
			"trader holds %s, selling %s", bal.Dec(), p.TokensIn.Dec())
	}

	q, fee, netOut, err := quoteSell(cfg, pool, p.TokensIn)
	if err != nil {
		return nil, nil, err
	}
	if p.MinNativeOut != nil && netOut.Lt(p.MinNativeOut) {
		return nil, nil, domain.NewError(domain.KindSlippageExceeded, "minNativeOut",
			"would receive %s native, minimum %s", netOut.Dec(), p.MinNativeOut.Dec())
	}

	working := pool.Clone()
	working.RealNativeReserve = new(uint256.Int).Sub(working.RealNativeReserve, q.GrossNativeOut)
	if working.RealTokenReserve, err = domain.Add("realTokenReserve", working.RealTokenReserve, p.TokensIn); err != nil {
		return nil, nil, err
	}
	if err := fees.Accrue(working, fee); err != nil {
		return nil, nil, err
	}

	usd, err := e.feed.USDPerNative(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get native price: %w", err)
	}
	result, err := newResult(domain.SideSell, p.Token, p.Trader, working, usd)
	if err != nil {
		return nil, nil, err
	}
	result.NativeAmount = netOut
	result.TokenAmount = p.TokensIn.Clone()
	result.Fee = fee.Total
	result.OwnerFee = fee.Owner

	if err := e.settle(ctx, h, working, result, p.Trader, e.registry.Custody(), p.TokensIn); err != nil {
		return nil, nil, err
	}
	return result, working, nil
}

// settle moves the tokens, journals the trade and commits the pool. A
// journal failure reverses the transfer and leaves the pool untouched.
func (e *Executor) settle(ctx context.Context, h *registry.Handle, working *domain.Pool, result *domain.TradeResult, from, to common.Address, amount *uint256.Int) error {
	tok, ok := e.registry.Tokens().Get(working.Token)
	if !ok {
		return domain.NewError(domain.KindNotFound, "token", "token %s not deployed", working.Token.Hex())
	}
	if err := tok.Transfer(from, to, amount); err != nil {
		return err
	}
	if err := e.journal.RecordTrade(ctx, working, result); err != nil {
		if rerr := tok.Transfer(to, from, amount); rerr != nil {
			e.logger.Error("Failed to reverse token transfer",
				zap.String("trade_id", result.ID),
				zap.Error(rerr))
		}
		return fmt.Errorf("failed to journal trade: %w", err)
	}
	h.Commit(working)
	return nil
}

func (e *Executor) committed(result *domain.TradeResult, working *domain.Pool, elapsed time.Duration, pub events.Publisher) {
	eventType := events.BuyTokens
	if result.Side == domain.SideSell {
		eventType = events.SellTokens
	}

	e.logger.Info("Trade executed",
		zap.String("trade_id", result.ID),
		zap.String("side", string(result.Side)),
		zap.String("token", result.Token.Hex()),
		zap.String("trader", result.Trader.Hex()),
		zap.String("native", result.NativeAmount.Dec()),
		zap.String("tokens", result.TokenAmount.Dec()),
		zap.String("fee", result.Fee.Dec()),
		zap.String("price", result.Price.String()),
		zap.String("market_cap_usd", result.MarketCapUSD.StringFixed(2)))

	events.Emit(pub, events.TradeEvent{
		BaseEvent:    events.NewBase(eventType),
		TradeID:      result.ID,
		Token:        result.Token,
		Trader:       result.Trader,
		NativeAmount: result.NativeAmount.Clone(),
		TokenAmount:  result.TokenAmount.Clone(),
		Fee:          result.Fee.Clone(),
		Price:        result.Price,
		MarketCap:    result.MarketCapUSD,
	}, e.dropped)

	protocolFee := new(uint256.Int).Sub(result.Fee, result.OwnerFee)
	e.metrics.RecordTrade(string(result.Side), result.Token.Hex(),
		domain.ToDecimal(result.NativeAmount, working.NativeDecimals), result.MarketCapUSD, elapsed)
	e.metrics.RecordFees(domain.ToDecimal(result.OwnerFee, working.NativeDecimals),
		domain.ToDecimal(protocolFee, working.NativeDecimals))
}

func (e *Executor) dropped(ev events.Event, err error) {
	e.logger.Error("Trade event lost",
		zap.String("event_type", string(ev.Type())),
		zap.Error(err))
	e.metrics.RecordEventDropped(string(ev.Type()))
}

func (e *Executor) launch(ctx context.Context, cfg *domain.GlobalConfig, h *registry.Handle, result *domain.TradeResult, pub events.Publisher) {
	start := time.Now()
	lr, err := e.launcher.Launch(ctx, cfg, h, pub)
	e.recordLaunch(ctx, h, result.Token, lr, err, start)
	if err != nil {
		// the trade stands; the launch can be retried later
		result.LaunchErr = err
		return
	}
	result.Launched = true
	result.Pairs = lr.PairAddresses()
}

func (e *Executor) recordLaunch(ctx context.Context, h *registry.Handle, token common.Address, lr *domain.LaunchResult, launchErr error, start time.Time) {
	rec := &models.LaunchRecord{
		Token:       token.Hex(),
		StartedAt:   start.UTC(),
		CompletedAt: time.Now().UTC(),
	}
	pool := h.Pool()
	rec.Routers = joinRouters(pool.SelectedRouters)
	switch {
	case launchErr == nil:
		rec.Status = models.LaunchStatusLaunched
		rec.Pairs = joinAddresses(lr.PairAddresses())
		rec.Native = pool.LpNative.Dec()
		rec.Tokens = pool.LpTokens.Dec()
	case pool.Status == domain.StatusHalted:
		rec.Status = models.LaunchStatusHalted
		rec.Error = launchErr.Error()
		rec.Pairs = joinAddresses(pool.Pairs)
		rec.Native = pool.LpNative.Dec()
		rec.Tokens = pool.LpTokens.Dec()
	default:
		rec.Status = models.LaunchStatusAborted
		rec.Error = launchErr.Error()
	}
	if launchErr == nil || pool.Status == domain.StatusHalted {
		if err := e.journal.SavePool(ctx, pool); err != nil {
			e.logger.Error("Failed to journal pool after launch", zap.String("token", token.Hex()), zap.String("status", pool.Status.String()), zap.Error(err))
		}
	}
	if err := e.journal.RecordLaunch(ctx, rec); err != nil {
		e.logger.Error("Failed to journal launch attempt", zap.String("token", token.Hex()), zap.Error(err))
	}
}

func newResult(side domain.Side, token, trader common.Address, working *domain.Pool, usd decimal.Decimal) (*domain.TradeResult, error) {
	price, err := pricing.SpotPrice(working)
	if err != nil {
		return nil, err
	}
	mcap, err := pricing.MarketCapAt(working, price, usd)
	if err != nil {
		return nil, err
	}
	return &domain.TradeResult{
		ID:           uuid.New().String(),
		Side:         side,
		Token:        token,
		Trader:       trader,
		Price:        price,
		MarketCapUSD: mcap,
		Timestamp:    time.Now().UTC(),
	}, nil
}

func joinRouters(ids []string) string {
	return strings.Join(ids, ",")
}

func joinAddresses(addrs []common.Address) string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	return strings.Join(out, ",")
}
