// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/launchpad/internal/amm"
	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/logger"
	"github.com/rovshanmuradov/launchpad/internal/pricefeed"
	"github.com/rovshanmuradov/launchpad/internal/storage/gormstore"
)

const envPrefix = "LAUNCHPAD"

// Price feed sources.
const (
	FeedStatic = "static"
	FeedHTTP   = "http"
)

type Config struct {
	Engine    EngineConfig        `mapstructure:"engine"`
	Global    domain.GlobalConfig `mapstructure:"global"`
	Routers   []amm.Config        `mapstructure:"routers"`
	PriceFeed PriceFeedConfig     `mapstructure:"price_feed"`
	// Storage with an empty driver disables the journal.
	Storage gormstore.Config `mapstructure:"storage"`
	Metrics MetricsConfig    `mapstructure:"metrics"`
	Tape    TapeConfig       `mapstructure:"tape"`
	Logger  logger.Config    `mapstructure:"logger"`
}

type EngineConfig struct {
	Deployer    common.Address `mapstructure:"deployer"`
	Custody     common.Address `mapstructure:"custody"`
	EventBuffer int            `mapstructure:"event_buffer"`
}

type PriceFeedConfig struct {
	Source    string               `mapstructure:"source"`
	StaticUSD decimal.Decimal      `mapstructure:"static_usd"`
	HTTP      pricefeed.HTTPConfig `mapstructure:"http"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// TapeConfig enables append-only files fed from the event bus. Empty paths
// disable the corresponding tape.
type TapeConfig struct {
	Trades        string        `mapstructure:"trades"` // csv
	Events        string        `mapstructure:"events"` // json lines
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

const (
	DefaultEventBuffer   = 1024
	DefaultStaticUSD     = "3000"
	DefaultMetricsListen = ":9464"
	DefaultMetricsPath   = "/metrics"
)

// LoadConfig reads path (yaml, json or toml), applies LAUNCHPAD_* overrides
// and validates the result. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Global.Version = 1

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func defaults() map[string]interface{} {
	g := domain.DefaultGlobalConfig()
	return map[string]interface{}{
		"engine.deployer":     "0x00000000000000000000000000000000000d3910",
		"engine.custody":      "0x000000000000000000000000000000000c057ad1",
		"engine.event_buffer": DefaultEventBuffer,

		"global.platform_buy_fee_percent":       g.PlatformBuyFeePercent.String(),
		"global.platform_sell_fee_percent":      g.PlatformSellFeePercent.String(),
		"global.owner_fee_percent":              g.OwnerFeePercent.String(),
		"global.max_buy_percent":                g.MaxBuyPercent.String(),
		"global.max_sell_percent":               g.MaxSellPercent.String(),
		"global.first_buy_fee":                  g.FirstBuyFee.String(),
		"global.target_market_cap_usd":          g.TargetMarketCapUSD.String(),
		"global.target_lp_amount":               g.TargetLpAmount.String(),
		"global.desired_tokens_for_lp":          g.DesiredTokensForLp.String(),
		"global.desired_native_for_lp":          g.DesiredNativeForLp.String(),
		"global.token_owner_lp_fee":             g.TokenOwnerLpFee.String(),
		"global.default_total_supply":           g.DefaultTotalSupply.String(),
		"global.default_virtual_native_reserve": g.DefaultVirtualNativeReserve.String(),
		"global.default_virtual_token_reserve":  g.DefaultVirtualTokenReserve.String(),
		"global.native_decimals":                g.NativeDecimals,
		"global.token_decimals":                 g.TokenDecimals,
		"global.launch_slippage_percent":        g.LaunchSlippagePercent.String(),
		"global.launch_deadline":                g.LaunchDeadline.String(),

		"price_feed.source":         FeedStatic,
		"price_feed.static_usd":     DefaultStaticUSD,
		"price_feed.http.cache_ttl": "30s",
		"price_feed.http.timeout":   "5s",
		"price_feed.http.max_tries": 3,

		"storage.driver":            "",
		"storage.dsn":               "",
		"storage.max_idle_conns":    5,
		"storage.max_open_conns":    10,
		"storage.connect_retries":   5,
		"storage.conn_max_lifetime": "1h",
		"storage.log_level":         "warn",

		"metrics.listen": DefaultMetricsListen,
		"metrics.path":   DefaultMetricsPath,

		"tape.flush_interval": "1s",

		"logger.file":        "launchpad.log",
		"logger.level":       "info",
		"logger.max_size":    100,
		"logger.max_age":     7,
		"logger.max_backups": 3,
		"logger.compress":    true,
		"logger.console":     true,
		"logger.pretty":      false,
	}
}

// decodeHook converts config strings into decimals, addresses and durations.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decimalHook,
		addressHook,
		hashHook,
	)
}

var (
	decimalType = reflect.TypeOf(decimal.Decimal{})
	addressType = reflect.TypeOf(common.Address{})
	hashType    = reflect.TypeOf(common.Hash{})
)

func decimalHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint64:
		return decimal.NewFromUint64(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	default:
		return data, nil
	}
}

func addressHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != addressType || from.Kind() != reflect.String {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if !common.IsHexAddress(s) {
		return nil, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func hashHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != hashType || from.Kind() != reflect.String {
		return data, nil
	}
	return common.HexToHash(strings.TrimSpace(data.(string))), nil
}

func validateConfig(cfg *Config) error {
	if cfg.Engine.Deployer == (common.Address{}) || cfg.Engine.Custody == (common.Address{}) {
		return errors.New("engine.deployer and engine.custody are required")
	}
	if cfg.Engine.Deployer == cfg.Engine.Custody {
		return errors.New("engine.deployer and engine.custody must differ")
	}
	if cfg.Engine.EventBuffer <= 0 {
		return errors.New("invalid engine.event_buffer")
	}

	if err := validateRouters(cfg); err != nil {
		return err
	}
	if err := cfg.Global.Validate(); err != nil {
		return fmt.Errorf("invalid global config: %w", err)
	}

	switch cfg.PriceFeed.Source {
	case FeedStatic:
		if !cfg.PriceFeed.StaticUSD.IsPositive() {
			return errors.New("price_feed.static_usd must be positive")
		}
	case FeedHTTP:
		if err := validateURL(cfg.PriceFeed.HTTP.URL, "http"); err != nil {
			return fmt.Errorf("price_feed.http.url: %w", err)
		}
		if cfg.PriceFeed.HTTP.Path == "" {
			return errors.New("price_feed.http.path is required")
		}
	default:
		return fmt.Errorf("unknown price_feed.source %q", cfg.PriceFeed.Source)
	}

	switch cfg.Storage.Driver {
	case "", gormstore.DriverSQLite:
	case gormstore.DriverPostgres:
		if cfg.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", cfg.Storage.Driver)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return errors.New("metrics.listen is required when metrics are enabled")
	}
	if (cfg.Tape.Trades != "" || cfg.Tape.Events != "") && cfg.Tape.FlushInterval <= 0 {
		return errors.New("tape.flush_interval must be positive")
	}
	return nil
}

// validateRouters fills the allow-list from the router deployments when it is
// empty and checks the two agree.
func validateRouters(cfg *Config) error {
	if len(cfg.Global.Routers) == 0 {
		for _, r := range cfg.Routers {
			cfg.Global.Routers = append(cfg.Global.Routers, domain.RouterConfig{
				ID:      r.ID,
				Address: r.Address,
				Weight:  1,
				Enabled: true,
			})
		}
	}
	if len(cfg.Global.Routers) == 0 {
		return errors.New("no routers configured")
	}

	deployed := make(map[string]amm.Config, len(cfg.Routers))
	for _, r := range cfg.Routers {
		if r.ID == "" {
			return errors.New("router id is required")
		}
		deployed[r.ID] = r
	}
	for _, rc := range cfg.Global.Routers {
		r, ok := deployed[rc.ID]
		if !ok {
			if rc.Enabled {
				return fmt.Errorf("router %q is allow-listed but not deployed", rc.ID)
			}
			continue
		}
		if r.Address != rc.Address {
			return fmt.Errorf("router %q address mismatch between routers and global.routers", rc.ID)
		}
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

// loadEnvironmentVariables covers overrides AutomaticEnv cannot reach: keys
// without a default and the short LAUNCHPAD_PRICE_USD alias.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	if url := v.GetString("price_feed_http_url"); url != "" {
		cfg.PriceFeed.HTTP.URL = url
	}
	if raw := v.GetString("price_usd"); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid %s_PRICE_USD: %w", envPrefix, err)
		}
		cfg.PriceFeed.StaticUSD = price
	}
	return nil
}
