// Package settings holds the live GlobalConfig. Readers take immutable
// snapshots; writers must present the owner capability, and every write
// produces a new validated snapshot with Version+1.
package settings

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/events"
)

// OwnerCap is the capability required for administrative writes. Only the
// Manager that minted it accepts it.
type OwnerCap struct {
	m *Manager
}

// Manager owns the current configuration snapshot.
type Manager struct {
	current   atomic.Pointer[domain.GlobalConfig]
	writeMu   sync.Mutex
	publisher events.Publisher
	logger    *zap.Logger
	cap       *OwnerCap
}

// NewManager validates initial and returns the manager with its owner capability.
func NewManager(initial *domain.GlobalConfig, publisher events.Publisher, logger *zap.Logger) (*Manager, *OwnerCap, error) {
	cfg := initial.Clone()
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	m := &Manager{
		publisher: publisher,
		logger:    logger.Named("settings"),
	}
	m.cap = &OwnerCap{m: m}
	m.current.Store(cfg)
	return m, m.cap, nil
}

// Snapshot returns the current configuration. Callers must not mutate it.
func (m *Manager) Snapshot() *domain.GlobalConfig {
	return m.current.Load()
}

// Authorize checks that c is this manager's owner capability.
func (m *Manager) Authorize(c *OwnerCap, field string) error {
	if c == nil || c != m.cap {
		return domain.NewError(domain.KindUnauthorized, field, "owner capability required")
	}
	return nil
}

func (m *Manager) update(c *OwnerCap, field string, apply func(cfg *domain.GlobalConfig)) error {
	if err := m.Authorize(c, field); err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	next := m.current.Load().Clone()
	apply(next)
	next.Version++
	if err := next.Validate(); err != nil {
		return err
	}
	m.current.Store(next)

	m.logger.Info("Config updated",
		zap.String("field", field),
		zap.Uint64("version", next.Version))

	events.Emit(m.publisher, events.ConfigUpdatedEvent{
		BaseEvent: events.NewBase(events.ConfigUpdated),
		Field:     field,
		Version:   next.Version,
	}, func(ev events.Event, err error) {
		m.logger.Error("Config event lost", zap.Uint64("version", next.Version), zap.Error(err))
	})
	return nil
}

func (m *Manager) SetPlatformBuyFeePercent(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "platform_buy_fee_percent", func(cfg *domain.GlobalConfig) { cfg.PlatformBuyFeePercent = v })
}

func (m *Manager) SetPlatformSellFeePercent(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "platform_sell_fee_percent", func(cfg *domain.GlobalConfig) { cfg.PlatformSellFeePercent = v })
}

func (m *Manager) SetOwnerFeePercent(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "owner_fee_percent", func(cfg *domain.GlobalConfig) { cfg.OwnerFeePercent = v })
}

func (m *Manager) SetMaxBuyPercent(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "max_buy_percent", func(cfg *domain.GlobalConfig) { cfg.MaxBuyPercent = v })
}

func (m *Manager) SetMaxSellPercent(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "max_sell_percent", func(cfg *domain.GlobalConfig) { cfg.MaxSellPercent = v })
}

func (m *Manager) SetFirstBuyFee(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "first_buy_fee", func(cfg *domain.GlobalConfig) { cfg.FirstBuyFee = v })
}

func (m *Manager) SetTargetMarketCapUSD(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "target_market_cap_usd", func(cfg *domain.GlobalConfig) { cfg.TargetMarketCapUSD = v })
}

func (m *Manager) SetTargetLpAmount(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "target_lp_amount", func(cfg *domain.GlobalConfig) { cfg.TargetLpAmount = v })
}

func (m *Manager) SetDesiredTokensForLp(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "desired_tokens_for_lp", func(cfg *domain.GlobalConfig) { cfg.DesiredTokensForLp = v })
}

func (m *Manager) SetDesiredNativeForLp(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "desired_native_for_lp", func(cfg *domain.GlobalConfig) { cfg.DesiredNativeForLp = v })
}

func (m *Manager) SetTokenOwnerLpFee(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "token_owner_lp_fee", func(cfg *domain.GlobalConfig) { cfg.TokenOwnerLpFee = v })
}

func (m *Manager) SetDefaultTotalSupply(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "default_total_supply", func(cfg *domain.GlobalConfig) { cfg.DefaultTotalSupply = v })
}

// SetDefaultVirtualReserves changes the curve seed of pools created afterwards.
func (m *Manager) SetDefaultVirtualReserves(c *OwnerCap, native, tokens decimal.Decimal) error {
	return m.update(c, "default_virtual_reserves", func(cfg *domain.GlobalConfig) {
		cfg.DefaultVirtualNativeReserve = native
		cfg.DefaultVirtualTokenReserve = tokens
	})
}

func (m *Manager) SetLaunchSlippagePercent(c *OwnerCap, v decimal.Decimal) error {
	return m.update(c, "launch_slippage_percent", func(cfg *domain.GlobalConfig) { cfg.LaunchSlippagePercent = v })
}

func (m *Manager) SetLaunchDeadline(c *OwnerCap, d time.Duration) error {
	return m.update(c, "launch_deadline", func(cfg *domain.GlobalConfig) { cfg.LaunchDeadline = d })
}

// SetRouter adds or replaces an allow-list entry.
func (m *Manager) SetRouter(c *OwnerCap, r domain.RouterConfig) error {
	return m.update(c, "routers", func(cfg *domain.GlobalConfig) {
		for i := range cfg.Routers {
			if cfg.Routers[i].ID == r.ID {
				cfg.Routers[i] = r
				return
			}
		}
		cfg.Routers = append(cfg.Routers, r)
	})
}

// SetRouterEnabled toggles an allow-listed router. Unknown ids are rejected.
func (m *Manager) SetRouterEnabled(c *OwnerCap, id string, enabled bool) error {
	if _, ok := m.Snapshot().Router(id); !ok {
		return domain.NewError(domain.KindValidation, "routers.id", "unknown router %q", id)
	}
	return m.update(c, "routers", func(cfg *domain.GlobalConfig) {
		for i := range cfg.Routers {
			if cfg.Routers[i].ID == id {
				cfg.Routers[i].Enabled = enabled
			}
		}
	})
}
