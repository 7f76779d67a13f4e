// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/storage/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// TradeFilter narrows ListTrades. Zero values match everything.
type TradeFilter struct {
	Token  common.Address
	Trader common.Address
	Side   domain.Side
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Journal is the audit log of pools, trades and launch attempts. The
// in-memory registry stays authoritative; the journal is written before a
// trade commits so a failed write aborts the trade.
type Journal interface {
	// Пулы
	SavePool(ctx context.Context, pool *domain.Pool) error
	GetPool(ctx context.Context, token common.Address) (*domain.Pool, error)
	ListPools(ctx context.Context) ([]*domain.Pool, error)

	// Сделки
	RecordTrade(ctx context.Context, pool *domain.Pool, trade *domain.TradeResult) error
	ListTrades(ctx context.Context, filter TradeFilter) ([]*models.TradeRecord, error)

	// Запуски
	RecordLaunch(ctx context.Context, launch *models.LaunchRecord) error
	ListLaunches(ctx context.Context, token common.Address) ([]*models.LaunchRecord, error)

	RunMigrations() error
	Close() error
}

// Nop is a Journal that stores nothing.
type Nop struct{}

var _ Journal = Nop{}

func (Nop) SavePool(context.Context, *domain.Pool) error { return nil }
func (Nop) GetPool(context.Context, common.Address) (*domain.Pool, error) {
	return nil, ErrNotFound
}
func (Nop) ListPools(context.Context) ([]*domain.Pool, error) { return nil, nil }
func (Nop) RecordTrade(context.Context, *domain.Pool, *domain.TradeResult) error {
	return nil
}
func (Nop) ListTrades(context.Context, TradeFilter) ([]*models.TradeRecord, error) {
	return nil, nil
}
func (Nop) RecordLaunch(context.Context, *models.LaunchRecord) error { return nil }
func (Nop) ListLaunches(context.Context, common.Address) ([]*models.LaunchRecord, error) {
	return nil, nil
}
func (Nop) RunMigrations() error { return nil }
func (Nop) Close() error         { return nil }
