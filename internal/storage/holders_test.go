package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/storage/models"
)

var (
	vault = common.HexToAddress("0xc0")
	bob   = common.HexToAddress("0xb0b")
	carol = common.HexToAddress("0xca201")
)

func tradeRec(id string, token common.Address, trader common.Address, side domain.Side, tokens uint64) *models.TradeRecord {
	return &models.TradeRecord{
		TradeID:     id,
		Token:       token.Hex(),
		Trader:      trader.Hex(),
		Side:        string(side),
		TokenAmount: uint256.NewInt(tokens).Dec(),
	}
}

func TestHoldersOfTradingPool(t *testing.T) {
	pool := samplePool()
	// 300 sold: bob nets 200, carol 100
	trades := []*models.TradeRecord{
		tradeRec("1", pool.Token, bob, domain.SideBuy, 250),
		tradeRec("2", pool.Token, carol, domain.SideBuy, 100),
		tradeRec("3", pool.Token, bob, domain.SideSell, 50),
		tradeRec("4", common.HexToAddress("0x9999"), bob, domain.SideBuy, 1_000),
	}

	balances, err := Holders(pool, trades, vault)
	require.NoError(t, err)
	assert.Equal(t, map[common.Address]*uint256.Int{
		vault: uint256.NewInt(700),
		bob:   uint256.NewInt(200),
		carol: uint256.NewInt(100),
	}, balances)
}

func TestHoldersOfLaunchedPool(t *testing.T) {
	pool := samplePool()
	pairA, pairB := common.HexToAddress("0xa0"), common.HexToAddress("0xb0")
	// 300 sold, 205 in two pairs, 10 to the creator, the rest burned
	pool.Status = domain.StatusLaunched
	pool.Launched = true
	pool.RealTokenReserve = domain.Zero()
	pool.LpTokens = uint256.NewInt(205)
	pool.Pairs = []common.Address{pairA, pairB}
	pool.TotalSupply = uint256.NewInt(515)
	trades := []*models.TradeRecord{
		tradeRec("1", pool.Token, bob, domain.SideBuy, 300),
	}

	balances, err := Holders(pool, trades, vault)
	require.NoError(t, err)
	assert.Equal(t, map[common.Address]*uint256.Int{
		bob:        uint256.NewInt(300),
		pairA:      uint256.NewInt(102),
		pairB:      uint256.NewInt(103),
		pool.Owner: uint256.NewInt(10),
	}, balances)
}

func TestHoldersRejectsBrokenLedger(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *domain.Pool)
		trades []*models.TradeRecord
	}{
		{"sell without a buy", nil, []*models.TradeRecord{
			tradeRec("1", samplePool().Token, bob, domain.SideSell, 10),
		}},
		{"trades exceed supply", nil, []*models.TradeRecord{
			tradeRec("1", samplePool().Token, bob, domain.SideBuy, 400),
		}},
		{"missing trades", nil, []*models.TradeRecord{
			tradeRec("1", samplePool().Token, bob, domain.SideBuy, 100),
		}},
		{"unknown side", nil, []*models.TradeRecord{
			tradeRec("1", samplePool().Token, bob, domain.Side("swap"), 300),
		}},
		{"halted pool short of its pairs", func(p *domain.Pool) {
			p.Status = domain.StatusHalted
			p.Pairs = []common.Address{common.HexToAddress("0xa0")}
			p.LpTokens = uint256.NewInt(10)
			p.RealTokenReserve = uint256.NewInt(680)
		}, []*models.TradeRecord{
			tradeRec("1", samplePool().Token, bob, domain.SideBuy, 300),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := samplePool()
			if tt.mutate != nil {
				tt.mutate(pool)
			}
			_, err := Holders(pool, tt.trades, vault)
			assert.Error(t, err)
		})
	}
}
