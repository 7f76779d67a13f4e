// internal/launch/coordinator.go
package launch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/events"
	"github.com/rovshanmuradov/launchpad/internal/metrics"
	"github.com/rovshanmuradov/launchpad/internal/pricing"
	"github.com/rovshanmuradov/launchpad/internal/registry"
	"github.com/rovshanmuradov/launchpad/internal/token"
)

const unwindTimeout = 30 * time.Second

// Plan is the liquidity a launch would deploy.
type Plan struct {
	Native      *uint256.Int
	Tokens      *uint256.Int
	OwnerTokens *uint256.Int
	Shares      []Share
}

// Share is one router's part of the plan.
type Share struct {
	Router  domain.RouterConfig
	Native  *uint256.Int
	Tokens  *uint256.Int
	backend Router
}

// Coordinator moves a graduated pool's reserves into external liquidity.
type Coordinator struct {
	mu      sync.RWMutex
	routers map[string]Router

	tokens  *token.Factory
	custody common.Address
	events  events.Publisher
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewCoordinator creates a coordinator. Tokens are pulled from custody.
func NewCoordinator(tokens *token.Factory, custody common.Address, publisher events.Publisher, collector *metrics.Collector, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		routers: make(map[string]Router),
		tokens:  tokens,
		custody: custody,
		events:  publisher,
		metrics: collector,
		logger:  logger.Named("launch"),
	}
}

// Register makes a router backend available under its id.
func (c *Coordinator) Register(r Router) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routers[r.ID()] = r
	c.logger.Info("Router registered", zap.String("router", r.ID()))
}

func (c *Coordinator) router(id string) (Router, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routers[id]
	return r, ok
}

// ShouldLaunch reports whether the pool met the graduation condition.
func (c *Coordinator) ShouldLaunch(cfg *domain.GlobalConfig, pool *domain.Pool, usdPerNative decimal.Decimal) (bool, error) {
	if pool.Launched || pool.Status != domain.StatusTrading {
		return false, nil
	}
	mcap, err := pricing.MarketCap(pool, usdPerNative)
	if err != nil {
		return false, err
	}
	if mcap.LessThan(cfg.TargetMarketCapUSD) {
		return false, nil
	}

	desired, err := cfg.NativeUnits("desired_native_for_lp", cfg.DesiredNativeForLp)
	if err != nil {
		return false, err
	}
	if !pool.RealNativeReserve.Lt(desired) {
		return true, nil
	}
	if cfg.TargetLpAmount.IsPositive() {
		target, err := cfg.NativeUnits("target_lp_amount", cfg.TargetLpAmount)
		if err != nil {
			return false, err
		}
		return !pool.RealNativeReserve.Lt(target), nil
	}
	return false, nil
}

// PlanFor computes the launch amounts and their router split without side effects.
func (c *Coordinator) PlanFor(cfg *domain.GlobalConfig, pool *domain.Pool) (*Plan, error) {
	available, err := domain.Sub("realTokenReserve", pool.RealTokenReserve, pool.OwnerLpFee)
	if err != nil {
		return nil, domain.WrapError(domain.KindLaunchAborted, "owner_lp_fee", err)
	}

	nativeLp := pool.RealNativeReserve.Clone()
	if cfg.DesiredNativeForLp.IsPositive() {
		desired, err := cfg.NativeUnits("desired_native_for_lp", cfg.DesiredNativeForLp)
		if err != nil {
			return nil, err
		}
		nativeLp = domain.MinAmount(desired, pool.RealNativeReserve)
	}
	tokensLp := available
	if cfg.DesiredTokensForLp.IsPositive() {
		desired, err := cfg.TokenUnits("desired_tokens_for_lp", cfg.DesiredTokensForLp)
		if err != nil {
			return nil, err
		}
		tokensLp = domain.MinAmount(desired, available)
	}
	if nativeLp.IsZero() || tokensLp.IsZero() {
		return nil, domain.NewError(domain.KindLaunchAborted, "reserves", "nothing to deploy (native %s, tokens %s)", nativeLp.Dec(), tokensLp.Dec())
	}

	if len(pool.SelectedRouters) == 0 {
		return nil, domain.NewError(domain.KindLaunchAborted, "routers", "pool has no routers selected")
	}
	shares := make([]Share, 0, len(pool.SelectedRouters))
	var totalWeight uint64
	for _, id := range pool.SelectedRouters {
		rc, ok := cfg.Router(id)
		if !ok || !rc.Enabled {
			return nil, domain.NewError(domain.KindLaunchAborted, "routers", "router %q is not enabled", id)
		}
		backend, ok := c.router(id)
		if !ok {
			return nil, domain.NewError(domain.KindLaunchAborted, "routers", "router %q has no backend", id)
		}
		totalWeight += rc.Weight
		shares = append(shares, Share{Router: rc, backend: backend})
	}
	if totalWeight == 0 {
		return nil, domain.NewError(domain.KindLaunchAborted, "routers", "selected routers have zero total weight")
	}

	// pro-rata by weight; the last router takes the rounding remainder
	restNative, restTokens := nativeLp.Clone(), tokensLp.Clone()
	w := uint256.NewInt(totalWeight)
	for i := range shares {
		if i == len(shares)-1 {
			shares[i].Native, shares[i].Tokens = restNative, restTokens
			break
		}
		weight := uint256.NewInt(shares[i].Router.Weight)
		n, err := domain.Mul("launch.native_share", nativeLp, weight)
		if err != nil {
			return nil, err
		}
		t, err := domain.Mul("launch.token_share", tokensLp, weight)
		if err != nil {
			return nil, err
		}
		shares[i].Native = n.Div(n, w)
		shares[i].Tokens = t.Div(t, w)
		restNative.Sub(restNative, shares[i].Native)
		restTokens.Sub(restTokens, shares[i].Tokens)
	}
	for _, s := range shares {
		if s.Native.IsZero() || s.Tokens.IsZero() {
			return nil, domain.NewError(domain.KindLaunchAborted, "routers", "router %q share rounds to zero", s.Router.ID)
		}
	}

	return &Plan{
		Native:      nativeLp,
		Tokens:      tokensLp,
		OwnerTokens: pool.OwnerLpFee.Clone(),
		Shares:      shares,
	}, nil
}

// Launch deploys the pool's liquidity to every selected router. The caller
// holds h. Either every router call succeeds and the pool ends Launched, or
// the deployments are unwound and the pool is restored to Trading with a
// LaunchAborted error. A deployment that cannot be unwound halts the pool.
// Events go to pub, or to the coordinator's publisher when pub is nil.
func (c *Coordinator) Launch(ctx context.Context, cfg *domain.GlobalConfig, h *registry.Handle, pub events.Publisher) (*domain.LaunchResult, error) {
	if pub == nil {
		pub = c.events
	}
	start := time.Now()
	original := h.Pool()
	if err := original.Tradable(); err != nil {
		return nil, err
	}

	plan, err := c.PlanFor(cfg, original)
	if err != nil {
		c.abort(pub, original.Token, err, nil)
		return nil, err
	}

	tok, ok := c.tokens.Get(original.Token)
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "token", "token %s not deployed", original.Token.Hex())
	}

	if !h.BeginLaunch() {
		return nil, domain.NewError(domain.KindNotTradable, "status", "launch of %s already in progress", original.Token.Hex())
	}
	defer h.EndLaunch()

	// debit before any router sees the funds
	working := original.Clone()
	if working.RealNativeReserve, err = domain.Sub("realNativeReserve", working.RealNativeReserve, plan.Native); err != nil {
		return nil, err
	}
	if working.RealTokenReserve, err = domain.Sub("realTokenReserve", working.RealTokenReserve, plan.Tokens); err != nil {
		return nil, err
	}
	working.EscrowNative = plan.Native.Clone()
	working.EscrowTokens = plan.Tokens.Clone()
	working.Status = domain.StatusLaunching
	h.Commit(working)

	logger := c.logger.With(zap.String("token", original.Token.Hex()))
	logger.Info("Launch started",
		zap.String("native", plan.Native.Dec()),
		zap.String("tokens", plan.Tokens.Dec()),
		zap.Int("routers", len(plan.Shares)))

	receipts, err := c.deploy(ctx, cfg, tok, plan)
	if err != nil {
		stranded, unwindErr := c.unwind(ctx, receipts)
		c.resetApprovals(tok, plan)

		if len(stranded) == 0 {
			h.Commit(original)
			err = domain.WrapError(domain.KindLaunchAborted, "routers", err)
			logger.Warn("Launch aborted", zap.Error(err))
			c.abort(pub, original.Token, err, nil)
			c.metrics.RecordLaunch(false, time.Since(start))
			return nil, err
		}

		halted := haltedPool(original, stranded)
		h.Commit(halted)
		err = domain.WrapError(domain.KindLaunchAborted, "routers",
			errors.Join(err, unwindErr, fmt.Errorf("pool halted, liquidity stranded in %d pair(s)", len(stranded))))
		logger.Error("Launch aborted with stranded liquidity, pool halted",
			zap.Int("stranded", len(stranded)),
			zap.String("real_native", halted.RealNativeReserve.Dec()),
			zap.String("real_tokens", halted.RealTokenReserve.Dec()),
			zap.Error(err))
		c.abort(pub, original.Token, err, halted.Pairs)
		c.metrics.RecordLaunchStatus("halted", time.Since(start))
		return nil, err
	}
	c.resetApprovals(tok, plan)

	result := &domain.LaunchResult{
		Token:       original.Token,
		OwnerTokens: plan.OwnerTokens,
		LaunchedAt:  time.Now().UTC(),
	}
	usedNative, usedTokens := domain.Zero(), domain.Zero()
	for _, r := range receipts {
		result.Deployments = append(result.Deployments, domain.LiquidityDeployment{
			RouterID:  r.RouterID,
			Pair:      r.Pair,
			Native:    r.Native,
			Tokens:    r.Tokens,
			Liquidity: r.Liquidity,
		})
		usedNative.Add(usedNative, r.Native)
		usedTokens.Add(usedTokens, r.Tokens)
	}

	final := working.Clone()
	if !plan.OwnerTokens.IsZero() {
		if err := tok.Transfer(c.custody, original.Owner, plan.OwnerTokens); err != nil {
			// the pairs are live; the creator's share stays in the reserve
			logger.Error("Failed to transfer owner LP fee", zap.Error(err))
			result.OwnerTokens = domain.Zero()
		}
	}

	// residue: native the routers did not take goes to the protocol, curve
	// tokens nobody bought are burned
	leftNative := new(uint256.Int).Add(working.RealNativeReserve, new(uint256.Int).Sub(plan.Native, usedNative))
	leftTokens := new(uint256.Int).Add(working.RealTokenReserve, new(uint256.Int).Sub(plan.Tokens, usedTokens))
	leftTokens.Sub(leftTokens, plan.OwnerTokens)
	if final.ProtocolFeesAccrued, err = domain.Add("protocolFeesAccrued", final.ProtocolFeesAccrued, leftNative); err != nil {
		logger.Error("Failed to credit launch residue", zap.Error(err))
		final.RealNativeReserve = leftNative
	} else {
		final.RealNativeReserve = domain.Zero()
		result.TreasuryNative = leftNative
	}
	final.RealTokenReserve = new(uint256.Int).Sub(plan.OwnerTokens, result.OwnerTokens)
	result.BurnedTokens = domain.Zero()
	if !leftTokens.IsZero() {
		if err := tok.Burn(c.custody, leftTokens); err != nil {
			logger.Error("Failed to burn unsold tokens", zap.Error(err))
			final.RealTokenReserve.Add(final.RealTokenReserve, leftTokens)
		} else {
			final.TotalSupply = new(uint256.Int).Sub(final.TotalSupply, leftTokens)
			result.BurnedTokens = leftTokens
		}
	}
	if result.TreasuryNative == nil {
		result.TreasuryNative = domain.Zero()
	}

	final.EscrowNative = domain.Zero()
	final.EscrowTokens = domain.Zero()
	final.LpNative = usedNative
	final.LpTokens = usedTokens
	final.Pairs = result.PairAddresses()
	final.Status = domain.StatusLaunched
	final.Launched = true
	final.LaunchedAt = result.LaunchedAt
	h.Commit(final)

	logger.Info("Token launched",
		zap.Int("pairs", len(final.Pairs)),
		zap.String("lp_native", usedNative.Dec()),
		zap.String("lp_tokens", usedTokens.Dec()),
		zap.String("treasury_native", result.TreasuryNative.Dec()),
		zap.String("burned", result.BurnedTokens.Dec()),
		zap.Duration("elapsed", time.Since(start)))
	c.metrics.RecordLaunch(true, time.Since(start))

	c.emit(pub, events.TokenLaunchedEvent{
		BaseEvent:     events.NewBase(events.TokenLaunched),
		Token:         original.Token,
		PairAddresses: final.Pairs,
		Native:        usedNative.Clone(),
		Tokens:        usedTokens.Clone(),
		Burned:        result.BurnedTokens.Clone(),
	})
	return result, nil
}

// haltedPool is the pre-launch pool less what the stranded deployments hold.
func haltedPool(original *domain.Pool, stranded []*Receipt) *domain.Pool {
	p := original.Clone()
	lpNative, lpTokens := domain.Zero(), domain.Zero()
	p.Pairs = nil
	for _, r := range stranded {
		lpNative.Add(lpNative, r.Native)
		lpTokens.Add(lpTokens, r.Tokens)
		p.Pairs = append(p.Pairs, r.Pair)
	}
	p.RealNativeReserve = subFloor(p.RealNativeReserve, lpNative)
	p.RealTokenReserve = subFloor(p.RealTokenReserve, lpTokens)
	p.LpNative = lpNative
	p.LpTokens = lpTokens
	p.EscrowNative = domain.Zero()
	p.EscrowTokens = domain.Zero()
	p.Status = domain.StatusHalted
	return p
}

func subFloor(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return domain.Zero()
	}
	return new(uint256.Int).Sub(a, b)
}

// deploy runs every router call concurrently. The returned slice holds the
// receipts of the calls that succeeded, even when err is set.
func (c *Coordinator) deploy(ctx context.Context, cfg *domain.GlobalConfig, tok *token.Token, plan *Plan) ([]*Receipt, error) {
	for _, s := range plan.Shares {
		if err := tok.Approve(c.custody, s.Router.Address, s.Tokens); err != nil {
			return nil, fmt.Errorf("approve %s: %w", s.Router.ID, err)
		}
	}

	deadline := time.Now().Add(cfg.LaunchDeadline)
	callCtx := ctx
	if cfg.LaunchDeadline > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	slippage := domain.SlippageConfig{Type: domain.SlippagePercent, Value: cfg.LaunchSlippagePercent}

	receipts := make([]*Receipt, len(plan.Shares))
	g, gctx := errgroup.WithContext(callCtx)
	for i, s := range plan.Shares {
		g.Go(func() error {
			minTokens, err := domain.MinAmountOut(s.Tokens, slippage)
			if err != nil {
				return err
			}
			minNative, err := domain.MinAmountOut(s.Native, slippage)
			if err != nil {
				return err
			}
			r, err := s.backend.AddLiquidity(gctx, AddLiquidityParams{
				Token:              tok.Address(),
				TokenSource:        c.custody,
				TokenAmountDesired: s.Tokens.Clone(),
				TokenAmountMin:     minTokens,
				NativeValue:        s.Native.Clone(),
				NativeAmountMin:    minNative,
				Recipient:          c.custody,
				Deadline:           deadline,
			})
			if err != nil {
				return fmt.Errorf("router %s: %w", s.Router.ID, err)
			}
			if r.Native.Gt(s.Native) || r.Tokens.Gt(s.Tokens) {
				receipts[i] = r
				return fmt.Errorf("router %s consumed more than its share", s.Router.ID)
			}
			receipts[i] = r
			return nil
		})
	}
	err := g.Wait()

	done := make([]*Receipt, 0, len(receipts))
	for _, r := range receipts {
		if r != nil {
			done = append(done, r)
		}
	}
	return done, err
}

// unwind reverses the given deployments and returns those it could not.
func (c *Coordinator) unwind(ctx context.Context, receipts []*Receipt) ([]*Receipt, error) {
	if len(receipts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unwindTimeout)
	defer cancel()

	var (
		stranded []*Receipt
		errs     []error
	)
	for _, r := range receipts {
		backend, ok := c.router(r.RouterID)
		if !ok {
			stranded = append(stranded, r)
			errs = append(errs, fmt.Errorf("unwind %s: router not registered", r.RouterID))
			continue
		}
		if err := backend.Unwind(ctx, r); err != nil {
			c.logger.Error("Failed to unwind deployment",
				zap.String("router", r.RouterID),
				zap.String("pair", r.Pair.Hex()),
				zap.Error(err))
			stranded = append(stranded, r)
			errs = append(errs, fmt.Errorf("unwind %s: %w", r.RouterID, err))
		}
	}
	return stranded, errors.Join(errs...)
}

func (c *Coordinator) resetApprovals(tok *token.Token, plan *Plan) {
	for _, s := range plan.Shares {
		_ = tok.Approve(c.custody, s.Router.Address, domain.Zero())
	}
}

func (c *Coordinator) abort(pub events.Publisher, addr common.Address, reason error, stranded []common.Address) {
	c.emit(pub, events.LaunchAbortedEvent{
		BaseEvent:     events.NewBase(events.LaunchAborted),
		Token:         addr,
		Reason:        reason.Error(),
		Halted:        len(stranded) > 0,
		StrandedPairs: stranded,
	})
}

func (c *Coordinator) emit(pub events.Publisher, ev events.Event) {
	events.Emit(pub, ev, func(ev events.Event, err error) {
		c.logger.Error("Launch event lost",
			zap.String("event_type", string(ev.Type())),
			zap.Error(err))
		c.metrics.RecordEventDropped(string(ev.Type()))
	})
}
