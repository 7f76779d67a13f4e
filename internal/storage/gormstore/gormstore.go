// internal/storage/gormstore/gormstore.go
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/storage"
	"github.com/rovshanmuradov/launchpad/internal/storage/models"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config describes the journal database.
type Config struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectRetries  uint          `mapstructure:"connect_retries"`
	LogLevel        string        `mapstructure:"log_level"`
}

// Store реализует storage.Journal поверх GORM
type Store struct {
	db     *gorm.DB
	driver string
	// legacy rows are migrated against this config
	cfg    func() *domain.GlobalConfig
	logger *zap.Logger
}

var _ storage.Journal = (*Store)(nil)

// Open connects to the database, retrying transient connection failures.
// cfgSource supplies the configuration legacy pool rows are migrated with.
func Open(ctx context.Context, cfg Config, cfgSource func() *domain.GlobalConfig, zapLogger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		dialector = sqlite.Open(dsn)
		cfg.Driver = DriverSQLite
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	logger := zapLogger.Named("storage")
	gormCfg := &gorm.Config{
		Logger: newGormLogger(logger.Named("gorm"), parseLogLevel(cfg.LogLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
	}

	tries := cfg.ConnectRetries
	if tries == 0 {
		tries = 5
	}
	notify := func(err error, d time.Duration) {
		logger.Warn("Database connection failed, retrying",
			zap.String("driver", cfg.Driver),
			zap.Duration("backoff", d),
			zap.Error(err))
	}
	operation := func() (*gorm.DB, error) {
		db, err := gorm.Open(dialector, gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to get database instance: %w", err))
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(notify))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Настройка пула соединений
	if cfg.Driver == DriverSQLite {
		// sqlite serializes writers anyway; one connection keeps memory DSNs consistent
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Info("Journal database connected", zap.String("driver", cfg.Driver))

	return &Store{
		db:     db,
		driver: cfg.Driver,
		cfg:    cfgSource,
		logger: logger,
	}, nil
}

// RunMigrations использует GORM AutoMigrate; на postgres миграции
// сериализуются advisory-блокировкой.
func (s *Store) RunMigrations() error {
	if s.driver == DriverPostgres {
		var lockObtained bool
		if err := s.db.Raw("SELECT pg_try_advisory_lock(101)").Scan(&lockObtained).Error; err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !lockObtained {
			return fmt.Errorf("another migration is in progress")
		}
		defer s.db.Exec("SELECT pg_advisory_unlock(101)")
	}

	if err := s.db.AutoMigrate(
		&models.PoolRecord{},
		&models.TradeRecord{},
		&models.LaunchRecord{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SavePool upserts the pool row keyed by token address.
func (s *Store) SavePool(ctx context.Context, pool *domain.Pool) error {
	return upsertPool(s.db.WithContext(ctx), storage.PoolToRecord(pool))
}

func upsertPool(tx *gorm.DB, rec *models.PoolRecord) error {
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at", "schema_version", "variant",
			"real_native_reserve", "real_token_reserve",
			"reserved_for_launch", "owner_lp_fee",
			"protocol_fees_accrued", "owner_fees_accrued",
			"lp_native", "lp_tokens", "first_buy_consumed",
			"status", "launched", "selected_routers", "pairs", "launched_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save pool %s: %w", rec.Token, err)
	}
	return nil
}

func (s *Store) GetPool(ctx context.Context, token common.Address) (*domain.Pool, error) {
	var rec models.PoolRecord
	err := s.db.WithContext(ctx).Where("token = ?", token.Hex()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return storage.RecordToPool(&rec, s.globalConfig())
}

func (s *Store) ListPools(ctx context.Context) ([]*domain.Pool, error) {
	var recs []*models.PoolRecord
	if err := s.db.WithContext(ctx).Order("id asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	pools := make([]*domain.Pool, 0, len(recs))
	for _, rec := range recs {
		p, err := storage.RecordToPool(rec, s.globalConfig())
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, nil
}

// RecordTrade writes the trade and the resulting pool state in one transaction.
func (s *Store) RecordTrade(ctx context.Context, pool *domain.Pool, trade *domain.TradeResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(storage.TradeToRecord(trade)).Error; err != nil {
			return fmt.Errorf("failed to save trade %s: %w", trade.ID, err)
		}
		return upsertPool(tx, storage.PoolToRecord(pool))
	})
}

func (s *Store) ListTrades(ctx context.Context, f storage.TradeFilter) ([]*models.TradeRecord, error) {
	q := s.db.WithContext(ctx).Model(&models.TradeRecord{})
	if f.Token != (common.Address{}) {
		q = q.Where("token = ?", f.Token.Hex())
	}
	if f.Trader != (common.Address{}) {
		q = q.Where("trader = ?", f.Trader.Hex())
	}
	if f.Side != "" {
		q = q.Where("side = ?", string(f.Side))
	}
	if !f.From.IsZero() {
		q = q.Where("executed_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("executed_at <= ?", f.To)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var trades []*models.TradeRecord
	err := q.Order("id asc").Find(&trades).Error
	return trades, err
}

func (s *Store) RecordLaunch(ctx context.Context, launch *models.LaunchRecord) error {
	return s.db.WithContext(ctx).Create(launch).Error
}

func (s *Store) ListLaunches(ctx context.Context, token common.Address) ([]*models.LaunchRecord, error) {
	var launches []*models.LaunchRecord
	err := s.db.WithContext(ctx).
		Where("token = ?", token.Hex()).
		Order("id asc").
		Find(&launches).Error
	return launches, err
}

func (s *Store) globalConfig() *domain.GlobalConfig {
	if s.cfg == nil {
		return nil
	}
	return s.cfg()
}
