// Package amm is an in-process constant-product exchange. It stands in for
// the external routers a launch seeds and derives pair addresses the way a
// Uniswap V2 factory does.
package amm

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/launch"
	"github.com/rovshanmuradov/launchpad/internal/token"
)

// MinimumLiquidity is locked forever in every new pair.
var MinimumLiquidity = uint256.NewInt(1000)

// Config describes one router deployment.
type Config struct {
	ID            string         `mapstructure:"id"`
	Address       common.Address `mapstructure:"address"`
	Factory       common.Address `mapstructure:"factory"`
	WrappedNative common.Address `mapstructure:"wrapped_native"`
	InitCodeHash  common.Hash    `mapstructure:"init_code_hash"`
}

// Pair is the state of one token/native pool.
type Pair struct {
	Address        common.Address
	Token          common.Address
	ReserveNative  *uint256.Int
	ReserveToken   *uint256.Int
	TotalLiquidity *uint256.Int
	liquidity      map[common.Address]*uint256.Int
}

// Router is a constant-product router over the shared token ledger.
type Router struct {
	cfg    Config
	tokens *token.Factory
	logger *zap.Logger

	mu    sync.Mutex
	pairs map[common.Address]*Pair
}

var _ launch.Router = (*Router)(nil)

// NewRouter creates a router whose token pulls go through tokens.
func NewRouter(cfg Config, tokens *token.Factory, logger *zap.Logger) (*Router, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("router id is required")
	}
	if cfg.Address == (common.Address{}) || cfg.Factory == (common.Address{}) || cfg.WrappedNative == (common.Address{}) {
		return nil, fmt.Errorf("router %s: address, factory and wrapped_native are required", cfg.ID)
	}
	return &Router{
		cfg:    cfg,
		tokens: tokens,
		logger: logger.Named("amm").With(zap.String("router", cfg.ID)),
		pairs:  make(map[common.Address]*Pair),
	}, nil
}

func (r *Router) ID() string { return r.cfg.ID }

// PairFor derives the CREATE2 address of the token/native pair.
func (r *Router) PairFor(tok common.Address) common.Address {
	a, b := tok, r.cfg.WrappedNative
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	salt := crypto.Keccak256Hash(a.Bytes(), b.Bytes())
	return crypto.CreateAddress2(r.cfg.Factory, salt, r.cfg.InitCodeHash.Bytes())
}

// Pair returns a copy of the pair's reserves.
func (r *Router) Pair(tok common.Address) (Pair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[r.PairFor(tok)]
	if !ok {
		return Pair{}, false
	}
	return Pair{
		Address:        p.Address,
		Token:          p.Token,
		ReserveNative:  p.ReserveNative.Clone(),
		ReserveToken:   p.ReserveToken.Clone(),
		TotalLiquidity: p.TotalLiquidity.Clone(),
	}, true
}

// LiquidityOf returns holder's LP balance in the pair of tok.
func (r *Router) LiquidityOf(tok, holder common.Address) *uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[r.PairFor(tok)]
	if !ok {
		return domain.Zero()
	}
	if l, ok := p.liquidity[holder]; ok {
		return l.Clone()
	}
	return domain.Zero()
}

// AddLiquidity deposits native and tokens, creating the pair on first use.
func (r *Router) AddLiquidity(ctx context.Context, p launch.AddLiquidityParams) (*launch.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.Deadline.IsZero() && time.Now().After(p.Deadline) {
		return nil, fmt.Errorf("router %s: expired", r.cfg.ID)
	}
	if p.NativeValue == nil || p.TokenAmountDesired == nil || p.NativeValue.IsZero() || p.TokenAmountDesired.IsZero() {
		return nil, fmt.Errorf("router %s: insufficient amounts", r.cfg.ID)
	}
	tok, ok := r.tokens.Get(p.Token)
	if !ok {
		return nil, fmt.Errorf("router %s: unknown token %s", r.cfg.ID, p.Token.Hex())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	addr := r.PairFor(p.Token)
	pair, exists := r.pairs[addr]
	created := !exists
	if created {
		pair = &Pair{
			Address:        addr,
			Token:          p.Token,
			ReserveNative:  domain.Zero(),
			ReserveToken:   domain.Zero(),
			TotalLiquidity: domain.Zero(),
			liquidity:      make(map[common.Address]*uint256.Int),
		}
	}

	native, tokens, err := optimalAmounts(pair, p)
	if err != nil {
		return nil, fmt.Errorf("router %s: %w", r.cfg.ID, err)
	}
	liquidity, err := mintLiquidity(pair, native, tokens)
	if err != nil {
		return nil, fmt.Errorf("router %s: %w", r.cfg.ID, err)
	}

	if err := tok.TransferFrom(r.cfg.Address, p.TokenSource, addr, tokens); err != nil {
		return nil, fmt.Errorf("router %s: %w", r.cfg.ID, err)
	}

	if created {
		pair.TotalLiquidity = MinimumLiquidity.Clone()
		r.pairs[addr] = pair
	}
	pair.ReserveNative.Add(pair.ReserveNative, native)
	pair.ReserveToken.Add(pair.ReserveToken, tokens)
	pair.TotalLiquidity.Add(pair.TotalLiquidity, liquidity)
	held, ok := pair.liquidity[p.Recipient]
	if !ok {
		held = domain.Zero()
	}
	pair.liquidity[p.Recipient] = new(uint256.Int).Add(held, liquidity)

	r.logger.Info("Liquidity added",
		zap.String("pair", addr.Hex()),
		zap.Bool("created", created),
		zap.String("native", native.Dec()),
		zap.String("tokens", tokens.Dec()),
		zap.String("liquidity", liquidity.Dec()))

	return &launch.Receipt{
		RouterID:    r.cfg.ID,
		Pair:        addr,
		Token:       p.Token,
		TokenSource: p.TokenSource,
		Recipient:   p.Recipient,
		Native:      native,
		Tokens:      tokens,
		Liquidity:   liquidity,
		PairCreated: created,
	}, nil
}

// Unwind reverses a deployment. A pair created by the deployment is dropped
// whole; otherwise the receipt's liquidity is burned pro rata.
func (r *Router) Unwind(_ context.Context, rc *launch.Receipt) error {
	tok, ok := r.tokens.Get(rc.Token)
	if !ok {
		return fmt.Errorf("router %s: unknown token %s", r.cfg.ID, rc.Token.Hex())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pair, ok := r.pairs[rc.Pair]
	if !ok {
		return fmt.Errorf("router %s: no pair %s", r.cfg.ID, rc.Pair.Hex())
	}

	if rc.PairCreated {
		if err := tok.Transfer(pair.Address, rc.TokenSource, pair.ReserveToken); err != nil {
			return err
		}
		delete(r.pairs, rc.Pair)
		r.logger.Info("Pair unwound", zap.String("pair", rc.Pair.Hex()))
		return nil
	}

	held, ok := pair.liquidity[rc.Recipient]
	if !ok || held.Lt(rc.Liquidity) {
		return fmt.Errorf("router %s: recipient holds less liquidity than the receipt", r.cfg.ID)
	}
	nativeOut := new(uint256.Int).Div(new(uint256.Int).Mul(rc.Liquidity, pair.ReserveNative), pair.TotalLiquidity)
	tokensOut := new(uint256.Int).Div(new(uint256.Int).Mul(rc.Liquidity, pair.ReserveToken), pair.TotalLiquidity)
	if err := tok.Transfer(pair.Address, rc.TokenSource, tokensOut); err != nil {
		return err
	}
	pair.liquidity[rc.Recipient] = new(uint256.Int).Sub(held, rc.Liquidity)
	pair.TotalLiquidity.Sub(pair.TotalLiquidity, rc.Liquidity)
	pair.ReserveNative.Sub(pair.ReserveNative, nativeOut)
	pair.ReserveToken.Sub(pair.ReserveToken, tokensOut)
	r.logger.Info("Liquidity removed",
		zap.String("pair", rc.Pair.Hex()),
		zap.String("native", nativeOut.Dec()),
		zap.String("tokens", tokensOut.Dec()))
	return nil
}

// optimalAmounts keeps the deposit at the pair's current ratio.
func optimalAmounts(pair *Pair, p launch.AddLiquidityParams) (*uint256.Int, *uint256.Int, error) {
	if pair.ReserveNative.IsZero() && pair.ReserveToken.IsZero() {
		return p.NativeValue.Clone(), p.TokenAmountDesired.Clone(), nil
	}

	tokensOptimal := quote(p.NativeValue, pair.ReserveNative, pair.ReserveToken)
	if !tokensOptimal.Gt(p.TokenAmountDesired) {
		if p.TokenAmountMin != nil && tokensOptimal.Lt(p.TokenAmountMin) {
			return nil, nil, fmt.Errorf("insufficient token amount")
		}
		return p.NativeValue.Clone(), tokensOptimal, nil
	}
	nativeOptimal := quote(p.TokenAmountDesired, pair.ReserveToken, pair.ReserveNative)
	if p.NativeAmountMin != nil && nativeOptimal.Lt(p.NativeAmountMin) {
		return nil, nil, fmt.Errorf("insufficient native amount")
	}
	return nativeOptimal, p.TokenAmountDesired.Clone(), nil
}

func quote(amountA, reserveA, reserveB *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Mul(amountA, reserveB)
	return out.Div(out, reserveA)
}

func mintLiquidity(pair *Pair, native, tokens *uint256.Int) (*uint256.Int, error) {
	if pair.TotalLiquidity.IsZero() {
		product, overflow := new(uint256.Int).MulOverflow(native, tokens)
		if overflow {
			return nil, fmt.Errorf("liquidity overflow")
		}
		root := new(uint256.Int).Sqrt(product)
		if !root.Gt(MinimumLiquidity) {
			return nil, fmt.Errorf("insufficient liquidity minted")
		}
		return root.Sub(root, MinimumLiquidity), nil
	}

	byNative := new(uint256.Int).Div(new(uint256.Int).Mul(native, pair.TotalLiquidity), pair.ReserveNative)
	byToken := new(uint256.Int).Div(new(uint256.Int).Mul(tokens, pair.TotalLiquidity), pair.ReserveToken)
	liquidity := domain.MinAmount(byNative, byToken)
	if liquidity.IsZero() {
		return nil, fmt.Errorf("insufficient liquidity minted")
	}
	return liquidity, nil
}
