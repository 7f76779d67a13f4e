// Package token is an in-process fixed-supply fungible token ledger with
// ERC-20 semantics: balances, allowances and transfers.
package token

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/launchpad/internal/domain"
)

// Token is one deployed token. Balances always sum to TotalSupply.
type Token struct {
	mu sync.RWMutex

	address     common.Address
	name        string
	symbol      string
	decimals    uint8
	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
}

func newToken(addr common.Address, name, symbol string, decimals uint8) *Token {
	return &Token{
		address:     addr,
		name:        name,
		symbol:      symbol,
		decimals:    decimals,
		totalSupply: new(uint256.Int),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

// TotalSupply returns the supply minted at deployment less what was burned.
func (t *Token) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSupply.Clone()
}

// BalanceOf returns the balance of owner.
func (t *Token) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceOf(owner).Clone()
}

// Allowance returns how much spender may move from owner.
func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Transfer moves amount from from to to.
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfer(from, to, amount)
}

// Approve sets spender's allowance over owner's balance.
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return domain.NewError(domain.KindValidation, "spender", "approve to the zero address")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	t.allowances[owner][spender] = amount.Clone()
	return nil
}

// TransferFrom moves amount from from to to using spender's allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := new(uint256.Int)
	if a, ok := t.allowances[from][spender]; ok {
		allowed = a
	}
	if allowed.Lt(amount) {
		return domain.NewError(domain.KindInsufficientBalance, "allowance",
			"%s may move %s of %s, requested %s", spender.Hex(), allowed.Dec(), from.Hex(), amount.Dec())
	}
	if err := t.transfer(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][spender] = new(uint256.Int).Sub(allowed, amount)
	return nil
}

// Burn destroys amount of from's balance and shrinks the supply by as much.
func (t *Token) Burn(from common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balanceOf(from)
	if bal.Lt(amount) {
		return domain.NewError(domain.KindInsufficientBalance, "balance",
			"%s holds %s %s, burning %s", from.Hex(), bal.Dec(), t.symbol, amount.Dec())
	}
	t.balances[from] = new(uint256.Int).Sub(bal, amount)
	t.totalSupply = new(uint256.Int).Sub(t.totalSupply, amount)
	return nil
}

// mint credits supply at deployment or when a ledger is restored.
func (t *Token) mint(to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	supply, err := domain.Add("totalSupply", t.totalSupply, amount)
	if err != nil {
		return err
	}
	bal, err := domain.Add("balance", t.balanceOf(to), amount)
	if err != nil {
		return err
	}
	t.totalSupply = supply
	t.balances[to] = bal
	return nil
}

func (t *Token) transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return domain.NewError(domain.KindValidation, "to", "transfer to the zero address")
	}
	fromBal := t.balanceOf(from)
	if fromBal.Lt(amount) {
		return domain.NewError(domain.KindInsufficientBalance, "balance",
			"%s holds %s %s, needs %s", from.Hex(), fromBal.Dec(), t.symbol, amount.Dec())
	}
	if from == to {
		return nil
	}
	toBal, err := domain.Add("balance", t.balanceOf(to), amount)
	if err != nil {
		return err
	}
	t.balances[from] = new(uint256.Int).Sub(fromBal, amount)
	t.balances[to] = toBal
	return nil
}

func (t *Token) balanceOf(owner common.Address) *uint256.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(uint256.Int)
}
