// internal/domain/pool.go
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Status is the launch state of a pool. It only ever moves forward, except
// that an aborted launch returns Launching to Trading.
type Status uint8

const (
	StatusTrading Status = iota
	StatusLaunching
	StatusLaunched
	// StatusHalted: an aborted launch could not take back liquidity it had
	// already deployed. The pool no longer trades; Pairs lists where the
	// stranded liquidity sits.
	StatusHalted
)

func (s Status) String() string {
	switch s {
	case StatusTrading:
		return "trading"
	case StatusLaunching:
		return "launching"
	case StatusLaunched:
		return "launched"
	case StatusHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Variant is the schema generation a pool was created under. Older variants
// are migrated into the canonical Pool record at creation or load time.
type Variant uint8

const (
	// VariantLegacy pools predate explicit router selection and owner LP fees:
	// they seed every enabled router and reserve no tokens for the creator.
	VariantLegacy Variant = 1
	// VariantStandard is the canonical schema.
	VariantStandard Variant = 2
)

func (v Variant) String() string {
	switch v {
	case VariantLegacy:
		return "legacy"
	case VariantStandard:
		return "standard"
	default:
		return "unknown"
	}
}

// Pool is the bonding-curve record of one token.
type Pool struct {
	Token   common.Address
	Owner   common.Address
	Name    string
	Symbol  string
	Variant Variant

	NativeDecimals uint8
	TokenDecimals  uint8

	TotalSupply          *uint256.Int
	RealNativeReserve    *uint256.Int
	RealTokenReserve     *uint256.Int
	VirtualNativeReserve *uint256.Int
	VirtualTokenReserve  *uint256.Int
	K                    *uint256.Int

	// Tokens the launch must find in the pool: LP seed plus the creator's LP fee.
	ReservedForLaunch *uint256.Int
	OwnerLpFee        *uint256.Int

	FirstBuyConsumed bool
	Status           Status
	Launched         bool
	SelectedRouters  []string

	// Native debited from the reserves while a launch is in flight.
	EscrowNative *uint256.Int
	EscrowTokens *uint256.Int

	ProtocolFeesAccrued *uint256.Int
	OwnerFeesAccrued    *uint256.Int

	LpNative *uint256.Int
	LpTokens *uint256.Int
	Pairs    []common.Address

	ConfigVersion uint64
	CreatedAt     time.Time
	LaunchedAt    time.Time
}

// Clone returns a deep copy; the engine mutates clones and commits them whole.
func (p *Pool) Clone() *Pool {
	c := *p
	c.TotalSupply = cloneAmount(p.TotalSupply)
	c.RealNativeReserve = cloneAmount(p.RealNativeReserve)
	c.RealTokenReserve = cloneAmount(p.RealTokenReserve)
	c.VirtualNativeReserve = cloneAmount(p.VirtualNativeReserve)
	c.VirtualTokenReserve = cloneAmount(p.VirtualTokenReserve)
	c.K = cloneAmount(p.K)
	c.ReservedForLaunch = cloneAmount(p.ReservedForLaunch)
	c.OwnerLpFee = cloneAmount(p.OwnerLpFee)
	c.EscrowNative = cloneAmount(p.EscrowNative)
	c.EscrowTokens = cloneAmount(p.EscrowTokens)
	c.ProtocolFeesAccrued = cloneAmount(p.ProtocolFeesAccrued)
	c.OwnerFeesAccrued = cloneAmount(p.OwnerFeesAccrued)
	c.LpNative = cloneAmount(p.LpNative)
	c.LpTokens = cloneAmount(p.LpTokens)
	c.SelectedRouters = append([]string(nil), p.SelectedRouters...)
	c.Pairs = append([]common.Address(nil), p.Pairs...)
	return &c
}

func cloneAmount(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x.Clone()
}

// TokensSold is the amount of supply that has left the curve.
func (p *Pool) TokensSold() (*uint256.Int, error) {
	return Sub("realTokenReserve", p.TotalSupply, p.RealTokenReserve)
}

// EffectiveNative is virtualNativeReserve + realNativeReserve.
func (p *Pool) EffectiveNative() (*uint256.Int, error) {
	return Add("effectiveNativeReserve", p.VirtualNativeReserve, p.RealNativeReserve)
}

// EffectiveToken is virtualTokenReserve - tokensSold.
func (p *Pool) EffectiveToken() (*uint256.Int, error) {
	sold, err := p.TokensSold()
	if err != nil {
		return nil, err
	}
	return Sub("effectiveTokenReserve", p.VirtualTokenReserve, sold)
}

// Tradable reports whether curve trading is still allowed.
func (p *Pool) Tradable() error {
	switch {
	case p.Launched || p.Status == StatusLaunched:
		return NewError(KindAlreadyLaunched, "launched", "token %s has launched", p.Token.Hex())
	case p.Status == StatusLaunching:
		return NewError(KindNotTradable, "status", "launch of %s in progress", p.Token.Hex())
	case p.Status == StatusHalted:
		return NewError(KindNotTradable, "status", "token %s is halted: launch liquidity is stranded", p.Token.Hex())
	default:
		return nil
	}
}
