// internal/registry/registry.go
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/events"
	"github.com/rovshanmuradov/launchpad/internal/pricing"
	"github.com/rovshanmuradov/launchpad/internal/token"
)

const (
	maxNameLength   = 32
	maxSymbolLength = 10
)

// Buyer executes the creator's initial buy on the still-unpublished pool.
// Events raised by the buy go to pub.
type Buyer interface {
	BuyOnHandle(ctx context.Context, cfg *domain.GlobalConfig, h *Handle, p domain.BuyParams, pub events.Publisher) (*domain.TradeResult, error)
}

// CreateParams describes a new token and its pool.
type CreateParams struct {
	Name    string
	Symbol  string
	Creator common.Address
	// InitialBuy is the native the creator spends on their own token right
	// away, fees included. Payment must cover it.
	InitialBuy *uint256.Int
	Payment    *uint256.Int
	Routers    []string
	Variant    domain.Variant
}

// CreateResult is the outcome of Create.
type CreateResult struct {
	Token      common.Address
	Pool       *domain.Pool
	InitialBuy *domain.TradeResult
	Refund     *uint256.Int
}

type entry struct {
	mu        sync.Mutex
	launching atomic.Bool
	pool      *domain.Pool
}

// Registry owns every pool and the single-writer boundary of each.
type Registry struct {
	mu      sync.RWMutex
	pools   map[common.Address]*entry
	order   []common.Address
	tokens  *token.Factory
	custody common.Address
	buyer   Buyer
	events  events.Publisher
	logger  *zap.Logger
}

// New creates a registry whose pools hold their tokens at custody.
func New(tokens *token.Factory, custody common.Address, publisher events.Publisher, logger *zap.Logger) *Registry {
	return &Registry{
		pools:   make(map[common.Address]*entry),
		tokens:  tokens,
		custody: custody,
		events:  publisher,
		logger:  logger.Named("pool_registry"),
	}
}

// SetBuyer wires the executor used for initial buys.
func (r *Registry) SetBuyer(b Buyer) {
	r.buyer = b
}

// Custody is the address holding every pool's tokens.
func (r *Registry) Custody() common.Address {
	return r.custody
}

// Tokens exposes the token factory.
func (r *Registry) Tokens() *token.Factory {
	return r.tokens
}

// Create deploys a token, seeds its pool and optionally runs the creator's first buy.
func (r *Registry) Create(ctx context.Context, cfg *domain.GlobalConfig, p CreateParams) (*CreateResult, error) {
	if err := validateMetadata(p.Name, p.Symbol); err != nil {
		return nil, err
	}
	if p.Creator == (common.Address{}) {
		return nil, domain.NewError(domain.KindValidation, "creator", "creator address is zero")
	}

	variant, routers, err := normalize(cfg, p.Variant, p.Routers)
	if err != nil {
		return nil, err
	}

	initialBuy := amountOrZero(p.InitialBuy)
	payment := amountOrZero(p.Payment)
	if payment.Lt(initialBuy) {
		return nil, domain.WrapError(domain.KindValidation, "payment",
			domain.NewError(domain.KindInsufficientPayment, "payment",
				"payment %s does not cover initial buy %s", payment.Dec(), initialBuy.Dec()))
	}
	if !initialBuy.IsZero() && r.buyer == nil {
		return nil, fmt.Errorf("registry has no buyer configured for initial buys")
	}

	pool, err := r.seedPool(cfg, p, variant, routers)
	if err != nil {
		return nil, err
	}

	tok, err := r.tokens.Deploy(p.Name, p.Symbol, cfg.TokenDecimals, pool.TotalSupply, r.custody)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy token: %w", err)
	}
	pool.Token = tok.Address()

	// the pool is visible but locked until the creator's buy settles
	e := &entry{pool: pool}
	e.mu.Lock()
	r.mu.Lock()
	r.pools[pool.Token] = e
	r.order = append(r.order, pool.Token)
	r.mu.Unlock()

	result := &CreateResult{Token: pool.Token}
	pending := &eventBuffer{}
	if !initialBuy.IsZero() {
		trade, err := r.buyer.BuyOnHandle(ctx, cfg, &Handle{token: pool.Token, e: e}, domain.BuyParams{
			Token:        pool.Token,
			Trader:       p.Creator,
			NativeIn:     initialBuy,
			MinTokensOut: uint256.NewInt(1),
		}, pending)
		if err != nil {
			e.mu.Unlock()
			r.remove(pool.Token)
			r.logger.Warn("Pool creation rolled back",
				zap.String("token", pool.Token.Hex()),
				zap.Error(err))
			return nil, fmt.Errorf("initial buy failed: %w", err)
		}
		result.InitialBuy = trade
	}
	result.Pool = e.pool.Clone()
	e.mu.Unlock()
	result.Refund = new(uint256.Int).Sub(payment, initialBuy)

	r.logger.Info("Pool created",
		zap.String("token", pool.Token.Hex()),
		zap.String("symbol", p.Symbol),
		zap.String("creator", p.Creator.Hex()),
		zap.Strings("routers", routers),
		zap.String("variant", variant.String()))

	// TokenCreated leads; the initial buy and any launch it triggered follow
	events.Emit(r.events, events.TokenCreatedEvent{
		BaseEvent: events.NewBase(events.TokenCreated),
		Token:     pool.Token,
		Owner:     p.Creator,
		Name:      p.Name,
		Symbol:    p.Symbol,
		Routers:   routers,
	}, r.dropped)
	pending.flush(r.events, r.dropped)
	return result, nil
}

// Restore re-registers a pool loaded from the journal. The token is
// re-deployed at pool.Token with the given holder balances, which must add
// up to the pool's supply.
func (r *Registry) Restore(pool *domain.Pool, balances map[common.Address]*uint256.Int) error {
	if pool == nil || pool.Token == (common.Address{}) {
		return domain.NewError(domain.KindValidation, "token", "restored pool has no token address")
	}
	if pool.Status == domain.StatusLaunching {
		return domain.NewError(domain.KindNotTradable, "status", "pool %s was journaled mid-launch", pool.Token.Hex())
	}
	if _, err := r.entry(pool.Token); err == nil {
		return fmt.Errorf("pool %s already registered", pool.Token.Hex())
	}

	supply := domain.Zero()
	for _, amount := range balances {
		if amount == nil {
			continue
		}
		var err error
		if supply, err = domain.Add("restoredSupply", supply, amount); err != nil {
			return err
		}
	}
	if !supply.Eq(pool.TotalSupply) {
		return domain.NewError(domain.KindValidation, "balances", "holder balances %s do not match supply %s", supply.Dec(), pool.TotalSupply.Dec())
	}
	held := balances[r.custody]
	if held == nil {
		held = domain.Zero()
	}
	if held.Lt(pool.RealTokenReserve) {
		return domain.NewError(domain.KindValidation, "balances", "custody does not cover the reserve of %s", pool.Token.Hex())
	}

	if _, err := r.tokens.Restore(pool.Token, pool.Name, pool.Symbol, pool.TokenDecimals, balances); err != nil {
		return fmt.Errorf("failed to restore token: %w", err)
	}

	r.mu.Lock()
	r.pools[pool.Token] = &entry{pool: pool.Clone()}
	r.order = append(r.order, pool.Token)
	r.mu.Unlock()

	r.logger.Info("Pool restored",
		zap.String("token", pool.Token.Hex()),
		zap.String("symbol", pool.Symbol),
		zap.String("status", pool.Status.String()),
		zap.Int("holders", len(balances)))
	return nil
}

func (r *Registry) dropped(ev events.Event, err error) {
	r.logger.Error("Pool event lost",
		zap.String("event_type", string(ev.Type())),
		zap.Error(err))
}

func (r *Registry) seedPool(cfg *domain.GlobalConfig, p CreateParams, variant domain.Variant, routers []string) (*domain.Pool, error) {
	supply, err := cfg.TokenUnits("default_total_supply", cfg.DefaultTotalSupply)
	if err != nil {
		return nil, err
	}
	vNative, err := cfg.NativeUnits("default_virtual_native_reserve", cfg.DefaultVirtualNativeReserve)
	if err != nil {
		return nil, err
	}
	vToken, err := cfg.TokenUnits("default_virtual_token_reserve", cfg.DefaultVirtualTokenReserve)
	if err != nil {
		return nil, err
	}
	if vNative.IsZero() || vToken.IsZero() {
		return nil, domain.NewError(domain.KindValidation, "virtual_reserves", "virtual reserves round to zero base units")
	}
	k, err := pricing.CurveConstant(vNative, vToken)
	if err != nil {
		return nil, err
	}

	lpTokens, err := cfg.TokenUnits("desired_tokens_for_lp", cfg.DesiredTokensForLp)
	if err != nil {
		return nil, err
	}
	ownerLpFee := domain.Zero()
	if variant == domain.VariantStandard {
		ownerLpFee, err = cfg.TokenUnits("token_owner_lp_fee", cfg.TokenOwnerLpFee)
		if err != nil {
			return nil, err
		}
	}
	reserved, err := domain.Add("reservedForLaunch", lpTokens, ownerLpFee)
	if err != nil {
		return nil, err
	}
	if reserved.Gt(supply) {
		return nil, domain.NewError(domain.KindValidation, "desired_tokens_for_lp", "launch reservation exceeds supply")
	}

	return &domain.Pool{
		Owner:                p.Creator,
		Name:                 p.Name,
		Symbol:               p.Symbol,
		Variant:              variant,
		NativeDecimals:       cfg.NativeDecimals,
		TokenDecimals:        cfg.TokenDecimals,
		TotalSupply:          supply,
		RealNativeReserve:    domain.Zero(),
		RealTokenReserve:     supply.Clone(),
		VirtualNativeReserve: vNative,
		VirtualTokenReserve:  vToken,
		K:                    k,
		ReservedForLaunch:    reserved,
		OwnerLpFee:           ownerLpFee,
		Status:               domain.StatusTrading,
		SelectedRouters:      routers,
		EscrowNative:         domain.Zero(),
		EscrowTokens:         domain.Zero(),
		ProtocolFeesAccrued:  domain.Zero(),
		OwnerFeesAccrued:     domain.Zero(),
		LpNative:             domain.Zero(),
		LpTokens:             domain.Zero(),
		ConfigVersion:        cfg.Version,
		CreatedAt:            time.Now().UTC(),
	}, nil
}

// normalize migrates the creation request to the canonical schema and
// validates the router selection against the allow-list.
func normalize(cfg *domain.GlobalConfig, variant domain.Variant, selected []string) (domain.Variant, []string, error) {
	switch variant {
	case 0, domain.VariantStandard:
		variant = domain.VariantStandard
	case domain.VariantLegacy:
		if len(selected) == 0 {
			selected = cfg.EnabledRouterIDs()
		}
	default:
		return 0, nil, domain.NewError(domain.KindValidation, "variant", "unknown variant %d", variant)
	}

	if len(selected) == 0 {
		return 0, nil, domain.NewError(domain.KindValidation, "routers", "at least one router must be selected")
	}

	seen := make(map[string]struct{}, len(selected))
	routers := make([]string, 0, len(selected))
	for _, id := range selected {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup {
			return 0, nil, domain.NewError(domain.KindValidation, "routers", "router %q selected twice", id)
		}
		rc, ok := cfg.Router(id)
		if !ok {
			return 0, nil, domain.NewError(domain.KindValidation, "routers", "unknown router %q", id)
		}
		if !rc.Enabled {
			return 0, nil, domain.NewError(domain.KindValidation, "routers", "router %q is disabled", id)
		}
		seen[id] = struct{}{}
		routers = append(routers, id)
	}
	sort.Strings(routers)
	return variant, routers, nil
}

func validateMetadata(name, symbol string) error {
	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return domain.NewError(domain.KindValidation, "name", "name must be 1-%d characters", maxNameLength)
	}
	if symbol == "" || utf8.RuneCountInString(symbol) > maxSymbolLength {
		return domain.NewError(domain.KindValidation, "symbol", "symbol must be 1-%d characters", maxSymbolLength)
	}
	for _, c := range symbol {
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return domain.NewError(domain.KindValidation, "symbol", "symbol must be alphanumeric, got %q", symbol)
		}
	}
	return nil
}

type eventBuffer struct {
	events []events.Event
}

func (b *eventBuffer) Publish(ev events.Event) error {
	b.events = append(b.events, ev)
	return nil
}

func (b *eventBuffer) flush(to events.Publisher, dropped events.DropFunc) {
	for _, ev := range b.events {
		events.Emit(to, ev, dropped)
	}
	b.events = nil
}

func (r *Registry) remove(addr common.Address) {
	r.mu.Lock()
	delete(r.pools, addr)
	for i, a := range r.order {
		if a == addr {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.tokens.Remove(addr)
}

// Snapshot returns a copy of the pool's committed state.
func (r *Registry) Snapshot(addr common.Address) (*domain.Pool, error) {
	e, err := r.entry(addr)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Clone(), nil
}

// Peek returns a copy of the pool's committed state without waiting for an
// in-flight launch. It may observe the Launching status.
func (r *Registry) Peek(addr common.Address) (*domain.Pool, error) {
	e, err := r.entry(addr)
	if err != nil {
		return nil, err
	}
	if e.launching.Load() {
		if e.mu.TryLock() {
			defer e.mu.Unlock()
		} else {
			return nil, domain.NewError(domain.KindNotTradable, "status", "launch of %s in progress", addr.Hex())
		}
	} else {
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	return e.pool.Clone(), nil
}

// List returns snapshots of every pool in creation order.
func (r *Registry) List() []*domain.Pool {
	r.mu.RLock()
	order := append([]common.Address(nil), r.order...)
	r.mu.RUnlock()

	out := make([]*domain.Pool, 0, len(order))
	for _, addr := range order {
		if p, err := r.Peek(addr); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) entry(addr common.Address) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.pools[addr]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "token", "no pool for %s", addr.Hex())
	}
	return e, nil
}
