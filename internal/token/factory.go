package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Factory deploys tokens at CREATE-derived addresses of the deployer and
// keeps every deployed token addressable.
type Factory struct {
	mu       sync.RWMutex
	deployer common.Address
	nonce    uint64
	tokens   map[common.Address]*Token
	logger   *zap.Logger
}

// NewFactory creates a factory deploying from deployer.
func NewFactory(deployer common.Address, logger *zap.Logger) *Factory {
	return &Factory{
		deployer: deployer,
		tokens:   make(map[common.Address]*Token),
		logger:   logger.Named("token_factory"),
	}
}

// Deploy creates a token and mints supply to mintTo.
func (f *Factory) Deploy(name, symbol string, decimals uint8, supply *uint256.Int, mintTo common.Address) (*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// restored tokens occupy the nonces of an earlier run
	addr := crypto.CreateAddress(f.deployer, f.nonce)
	for f.tokens[addr] != nil {
		f.nonce++
		addr = crypto.CreateAddress(f.deployer, f.nonce)
	}

	t := newToken(addr, name, symbol, decimals)
	if err := t.mint(mintTo, supply); err != nil {
		return nil, fmt.Errorf("failed to mint %s: %w", symbol, err)
	}

	f.nonce++
	f.tokens[addr] = t

	f.logger.Debug("Token deployed",
		zap.String("token", addr.Hex()),
		zap.String("symbol", symbol),
		zap.String("supply", supply.Dec()),
		zap.Uint64("nonce", f.nonce-1))

	return t, nil
}

// Restore re-creates a token deployed by an earlier run at its original
// address, crediting each holder. The supply is the sum of the balances.
func (f *Factory) Restore(addr common.Address, name, symbol string, decimals uint8, balances map[common.Address]*uint256.Int) (*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.tokens[addr]; exists {
		return nil, fmt.Errorf("token address %s already deployed", addr.Hex())
	}
	t := newToken(addr, name, symbol, decimals)
	for holder, amount := range balances {
		if amount == nil || amount.IsZero() {
			continue
		}
		if err := t.mint(holder, amount); err != nil {
			return nil, fmt.Errorf("failed to restore %s balance of %s: %w", symbol, holder.Hex(), err)
		}
	}
	f.tokens[addr] = t

	f.logger.Debug("Token restored",
		zap.String("token", addr.Hex()),
		zap.String("symbol", symbol),
		zap.String("supply", t.totalSupply.Dec()),
		zap.Int("holders", len(t.balances)))
	return t, nil
}

// Get returns a deployed token.
func (f *Factory) Get(addr common.Address) (*Token, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tokens[addr]
	return t, ok
}

// Remove forgets a token whose pool creation was rolled back.
func (f *Factory) Remove(addr common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, addr)
}
