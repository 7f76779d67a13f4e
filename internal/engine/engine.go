// Package engine assembles the launchpad: settings, pool registry, trade
// executor and launch coordinator behind one entry point.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/events"
	"github.com/rovshanmuradov/launchpad/internal/launch"
	"github.com/rovshanmuradov/launchpad/internal/metrics"
	"github.com/rovshanmuradov/launchpad/internal/pricefeed"
	"github.com/rovshanmuradov/launchpad/internal/registry"
	"github.com/rovshanmuradov/launchpad/internal/settings"
	"github.com/rovshanmuradov/launchpad/internal/storage"
	"github.com/rovshanmuradov/launchpad/internal/storage/models"
	"github.com/rovshanmuradov/launchpad/internal/token"
	"github.com/rovshanmuradov/launchpad/internal/trade"
)

const defaultEventBuffer = 1024

// Options configures New.
type Options struct {
	Config *domain.GlobalConfig
	// Deployer derives token addresses; Custody holds every pool's tokens.
	Deployer common.Address
	Custody  common.Address

	Feed        pricefeed.Feed
	Journal     storage.Journal
	Registerer  prometheus.Registerer
	EventBuffer int
	Logger      *zap.Logger
}

// Engine is the launchpad.
type Engine struct {
	settings *settings.Manager
	tokens   *token.Factory
	registry *registry.Registry
	executor *trade.Executor
	launcher *launch.Coordinator
	journal  storage.Journal
	feed     pricefeed.Feed
	bus      *events.Bus
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// New wires an engine and returns it with the owner capability for
// administrative calls.
func New(opts Options) (*Engine, *settings.OwnerCap, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Config == nil {
		opts.Config = domain.DefaultGlobalConfig()
	}
	if opts.Feed == nil {
		return nil, nil, fmt.Errorf("price feed is required")
	}
	if opts.Custody == (common.Address{}) || opts.Deployer == (common.Address{}) {
		return nil, nil, fmt.Errorf("deployer and custody addresses are required")
	}
	if opts.Journal == nil {
		opts.Journal = storage.Nop{}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}

	logger := opts.Logger.Named("engine")
	bus := events.NewBus(opts.Logger, opts.EventBuffer)
	collector := metrics.NewCollector(opts.Registerer)
	bus.SubscribeFunc(events.AllEvents, func(_ context.Context, ev events.Event) error {
		collector.RecordEvent(string(ev.Type()))
		return nil
	})

	mgr, ownerCap, err := settings.NewManager(opts.Config, bus, opts.Logger)
	if err != nil {
		_ = bus.Shutdown(context.Background())
		return nil, nil, fmt.Errorf("invalid global config: %w", err)
	}

	tokens := token.NewFactory(opts.Deployer, opts.Logger)
	reg := registry.New(tokens, opts.Custody, bus, opts.Logger)
	coordinator := launch.NewCoordinator(tokens, opts.Custody, bus, collector, opts.Logger)
	executor, err := trade.NewExecutor(&trade.ExecutorConfig{
		Registry: reg,
		Launcher: coordinator,
		Feed:     opts.Feed,
		Journal:  opts.Journal,
		Events:   bus,
		Metrics:  collector,
		Config:   mgr.Snapshot,
		Logger:   opts.Logger,
	})
	if err != nil {
		_ = bus.Shutdown(context.Background())
		return nil, nil, err
	}

	logger.Info("Engine initialized",
		zap.Uint64("config_version", mgr.Snapshot().Version),
		zap.String("custody", opts.Custody.Hex()))

	return &Engine{
		settings: mgr,
		tokens:   tokens,
		registry: reg,
		executor: executor,
		launcher: coordinator,
		journal:  opts.Journal,
		feed:     opts.Feed,
		bus:      bus,
		metrics:  collector,
		logger:   logger,
	}, ownerCap, nil
}

// RestorePools reloads every journaled pool together with the token balances
// its trade history implies. A pool whose ledger does not add up is skipped
// and reported in the returned error.
func (e *Engine) RestorePools(ctx context.Context) (int, error) {
	pools, err := e.journal.ListPools(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list journaled pools: %w", err)
	}

	var (
		restored int
		errs     []error
	)
	for _, p := range pools {
		trades, err := e.journal.ListTrades(ctx, storage.TradeFilter{Token: p.Token})
		if err != nil {
			errs = append(errs, fmt.Errorf("pool %s: %w", p.Token.Hex(), err))
			continue
		}
		balances, err := storage.Holders(p, trades, e.registry.Custody())
		if err == nil {
			err = e.registry.Restore(p, balances)
		}
		if err != nil {
			e.logger.Error("Failed to restore pool", zap.String("token", p.Token.Hex()), zap.Error(err))
			errs = append(errs, fmt.Errorf("pool %s: %w", p.Token.Hex(), err))
			continue
		}
		restored++
	}

	e.logger.Info("Journaled pools restored",
		zap.Int("restored", restored),
		zap.Int("skipped", len(pools)-restored))
	return restored, errors.Join(errs...)
}

// RegisterRouter makes a router backend available to launches.
func (e *Engine) RegisterRouter(r launch.Router) {
	e.launcher.Register(r)
}

func (e *Engine) Settings() *settings.Manager { return e.settings }
func (e *Engine) Events() *events.Bus         { return e.bus }
func (e *Engine) Tokens() *token.Factory      { return e.tokens }
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }
func (e *Engine) Journal() storage.Journal    { return e.journal }

// CreateToken deploys a token with its pool and runs the creator's optional first buy.
func (e *Engine) CreateToken(ctx context.Context, p registry.CreateParams) (*registry.CreateResult, error) {
	res, err := e.registry.Create(ctx, e.settings.Snapshot(), p)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordPoolCreated()
	if res.InitialBuy == nil {
		if err := e.journal.SavePool(ctx, res.Pool); err != nil {
			e.logger.Error("Failed to journal new pool",
				zap.String("token", res.Token.Hex()),
				zap.Error(err))
		}
	}
	return res, nil
}

func (e *Engine) Buy(ctx context.Context, p domain.BuyParams) (*domain.TradeResult, error) {
	return e.executor.Buy(ctx, p)
}

func (e *Engine) Sell(ctx context.Context, p domain.SellParams) (*domain.TradeResult, error) {
	return e.executor.Sell(ctx, p)
}

func (e *Engine) QuoteBuy(token common.Address, nativeIn *uint256.Int) (*domain.Quote, error) {
	return e.executor.QuoteBuy(token, nativeIn)
}

func (e *Engine) QuoteSell(token common.Address, tokensIn *uint256.Int) (*domain.Quote, error) {
	return e.executor.QuoteSell(token, tokensIn)
}

// RetryLaunch attempts the launch of a pool that met the threshold but whose
// previous launch aborted.
func (e *Engine) RetryLaunch(ctx context.Context, token common.Address) (*domain.LaunchResult, error) {
	return e.executor.RetryLaunch(ctx, token)
}

// USDPerNative reads the price feed the engine values pools with.
func (e *Engine) USDPerNative(ctx context.Context) (decimal.Decimal, error) {
	return e.feed.USDPerNative(ctx)
}

// Pool returns a snapshot of one pool.
func (e *Engine) Pool(token common.Address) (*domain.Pool, error) {
	return e.registry.Peek(token)
}

// Pools returns snapshots of every pool in creation order.
func (e *Engine) Pools() []*domain.Pool {
	return e.registry.List()
}

// Trades reads the trade journal.
func (e *Engine) Trades(ctx context.Context, f storage.TradeFilter) ([]*models.TradeRecord, error) {
	return e.journal.ListTrades(ctx, f)
}

// Close stops event delivery and closes the journal.
func (e *Engine) Close(ctx context.Context) error {
	busErr := e.bus.Shutdown(ctx)
	if err := e.journal.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return busErr
}
