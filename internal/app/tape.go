package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/config"
	"github.com/rovshanmuradov/launchpad/internal/events"
	"github.com/rovshanmuradov/launchpad/internal/logger"
)

// TradeTapeHeader is the column layout of the trade tape.
var TradeTapeHeader = []string{
	"timestamp", "trade_id", "side", "token", "trader",
	"native_amount", "token_amount", "fee", "price", "market_cap_usd",
}

// Tape mirrors bus events into append-only files: trades as CSV rows and,
// optionally, every event as a JSON line.
type Tape struct {
	trades *logger.SafeCSVWriter
	events *logger.SafeFileWriter
	subs   []events.Subscription
	logger *zap.Logger
}

// OpenTape opens the configured files and subscribes them to bus. It returns
// nil when both tapes are disabled.
func OpenTape(cfg config.TapeConfig, bus *events.Bus, log *zap.Logger) (*Tape, error) {
	if cfg.Trades == "" && cfg.Events == "" {
		return nil, nil
	}
	t := &Tape{logger: log.Named("tape")}

	if cfg.Trades != "" {
		w, err := logger.NewSafeCSVWriter(cfg.Trades, TradeTapeHeader, cfg.FlushInterval, t.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open trade tape: %w", err)
		}
		t.trades = w
		t.subs = append(t.subs,
			bus.SubscribeFunc(events.BuyTokens, t.writeTrade),
			bus.SubscribeFunc(events.SellTokens, t.writeTrade))
	}

	if cfg.Events != "" {
		w, err := logger.NewSafeFileWriter(cfg.Events, cfg.FlushInterval, t.logger)
		if err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("failed to open event tape: %w", err)
		}
		t.events = w
		t.subs = append(t.subs, bus.SubscribeFunc(events.AllEvents, t.writeEvent))
	}

	t.logger.Info("Tape opened",
		zap.String("trades", cfg.Trades),
		zap.String("events", cfg.Events))
	return t, nil
}

func (t *Tape) writeTrade(_ context.Context, ev events.Event) error {
	te, ok := ev.(events.TradeEvent)
	if !ok {
		return fmt.Errorf("unexpected %T on %s", ev, ev.Type())
	}
	side := "buy"
	if te.Type() == events.SellTokens {
		side = "sell"
	}
	return t.trades.WriteRecord([]string{
		te.Timestamp().Format(time.RFC3339Nano),
		te.TradeID,
		side,
		te.Token.Hex(),
		te.Trader.Hex(),
		te.NativeAmount.Dec(),
		te.TokenAmount.Dec(),
		te.Fee.Dec(),
		te.Price.String(),
		te.MarketCap.StringFixed(2),
	})
}

type tapeLine struct {
	Type  events.EventType `json:"type"`
	Time  time.Time        `json:"time"`
	Event events.Event     `json:"event"`
}

func (t *Tape) writeEvent(_ context.Context, ev events.Event) error {
	data, err := json.Marshal(tapeLine{Type: ev.Type(), Time: ev.Timestamp(), Event: ev})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ev.Type(), err)
	}
	return t.events.WriteLine(data)
}

// Close unsubscribes and flushes both files. The bus should be drained first.
func (t *Tape) Close() error {
	for _, s := range t.subs {
		s.Unsubscribe()
	}
	t.subs = nil

	var firstErr error
	if t.trades != nil {
		firstErr = t.trades.Close()
	}
	if t.events != nil {
		if err := t.events.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
