package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/storage/models"
)

// Holders rebuilds the token balances behind a journaled pool from its trade
// history. The curve reserve sits at custody and launch liquidity at the
// pairs. A launched pool's creator holds the LP fee unless it stayed in the
// reserve.
func Holders(pool *domain.Pool, trades []*models.TradeRecord, custody common.Address) (map[common.Address]*uint256.Int, error) {
	balances := make(map[common.Address]*uint256.Int)
	credit := func(holder common.Address, amount *uint256.Int) {
		if amount.IsZero() {
			return
		}
		if cur, ok := balances[holder]; ok {
			cur.Add(cur, amount)
			return
		}
		balances[holder] = amount.Clone()
	}

	for _, t := range trades {
		if t.Token != pool.Token.Hex() {
			continue
		}
		amount, err := parseAmount("token_amount", t.TokenAmount)
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.TradeID, err)
		}
		trader := common.HexToAddress(t.Trader)
		switch domain.Side(t.Side) {
		case domain.SideBuy:
			credit(trader, amount)
		case domain.SideSell:
			cur, ok := balances[trader]
			if !ok || cur.Lt(amount) {
				return nil, fmt.Errorf("trade %s: %s sells more than it bought", t.TradeID, trader.Hex())
			}
			cur.Sub(cur, amount)
			if cur.IsZero() {
				delete(balances, trader)
			}
		default:
			return nil, fmt.Errorf("trade %s: unknown side %q", t.TradeID, t.Side)
		}
	}

	credit(custody, pool.RealTokenReserve)
	if len(pool.Pairs) > 0 {
		// per-pair amounts are not journaled; the last pair takes the remainder
		n := uint256.NewInt(uint64(len(pool.Pairs)))
		share := new(uint256.Int).Div(pool.LpTokens, n)
		rest := pool.LpTokens.Clone()
		for i, pair := range pool.Pairs {
			if i == len(pool.Pairs)-1 {
				credit(pair, rest)
				break
			}
			credit(pair, share)
			rest.Sub(rest, share)
		}
	}

	held := domain.Zero()
	for _, amount := range balances {
		held.Add(held, amount)
	}
	if held.Gt(pool.TotalSupply) {
		return nil, fmt.Errorf("ledger of %s holds %s, supply is %s", pool.Token.Hex(), held.Dec(), pool.TotalSupply.Dec())
	}
	left := new(uint256.Int).Sub(pool.TotalSupply, held)
	if left.IsZero() {
		return balances, nil
	}
	if pool.Status != domain.StatusLaunched || !left.Eq(pool.OwnerLpFee) {
		return nil, fmt.Errorf("ledger of %s is short %s tokens", pool.Token.Hex(), left.Dec())
	}
	credit(pool.Owner, left)
	return balances, nil
}
