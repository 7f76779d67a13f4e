// internal/events/types.go
package events

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// EventType names an observable engine event.
type EventType string

const (
	TokenCreated  EventType = "token.created"
	BuyTokens     EventType = "trade.buy"
	SellTokens    EventType = "trade.sell"
	TokenLaunched EventType = "token.launched"
	LaunchAborted EventType = "token.launch_aborted"
	ConfigUpdated EventType = "config.updated"
	FeesWithdrawn EventType = "fees.withdrawn"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.EventTime }

// NewBase stamps an event of type t with the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// TokenCreatedEvent is emitted once a pool and its token exist.
type TokenCreatedEvent struct {
	BaseEvent
	Token   common.Address
	Owner   common.Address
	Name    string
	Symbol  string
	Routers []string
}

// TradeEvent is emitted for BuyTokens and SellTokens.
type TradeEvent struct {
	BaseEvent
	TradeID      string
	Token        common.Address
	Trader       common.Address
	NativeAmount *uint256.Int
	TokenAmount  *uint256.Int
	Fee          *uint256.Int
	Price        decimal.Decimal
	MarketCap    decimal.Decimal
}

// TokenLaunchedEvent is emitted when a pool's liquidity moved to external pairs.
type TokenLaunchedEvent struct {
	BaseEvent
	Token         common.Address
	PairAddresses []common.Address
	Native        *uint256.Int
	Tokens        *uint256.Int
	Burned        *uint256.Int
}

// LaunchAbortedEvent is emitted when a launch attempt rolled back.
type LaunchAbortedEvent struct {
	BaseEvent
	Token  common.Address
	Reason string
	// Halted is set when deployed liquidity could not be taken back;
	// StrandedPairs lists where it sits.
	Halted        bool
	StrandedPairs []common.Address
}

// ConfigUpdatedEvent is emitted after an administrative config change.
type ConfigUpdatedEvent struct {
	BaseEvent
	Field   string
	Version uint64
}

// FeesWithdrawnEvent is emitted when accrued fees leave the engine.
type FeesWithdrawnEvent struct {
	BaseEvent
	Token     common.Address
	Recipient common.Address
	Amount    *uint256.Int
	Owner     bool
}
