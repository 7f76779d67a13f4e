package launch

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AddLiquidityParams mirrors a router's add-liquidity-with-native call. The
// router pulls TokenAmountDesired from TokenSource using its allowance.
type AddLiquidityParams struct {
	Token              common.Address
	TokenSource        common.Address
	TokenAmountDesired *uint256.Int
	TokenAmountMin     *uint256.Int
	NativeValue        *uint256.Int
	NativeAmountMin    *uint256.Int
	Recipient          common.Address
	Deadline           time.Time
}

// Receipt records what one AddLiquidity call deployed.
type Receipt struct {
	RouterID    string
	Pair        common.Address
	Token       common.Address
	TokenSource common.Address
	Recipient   common.Address
	Native      *uint256.Int
	Tokens      *uint256.Int
	Liquidity   *uint256.Int
	// PairCreated is set when the call created the pair.
	PairCreated bool
}

// Router seeds liquidity on an external exchange.
type Router interface {
	ID() string
	AddLiquidity(ctx context.Context, p AddLiquidityParams) (*Receipt, error)
	// Unwind reverses a deployment, returning its tokens to the receipt's
	// TokenSource. It is only used to compensate a launch that aborted.
	Unwind(ctx context.Context, r *Receipt) error
}
