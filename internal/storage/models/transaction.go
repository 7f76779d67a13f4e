// internal/storage/models/transaction.go
package models

import "time"

// TradeRecord is one executed curve trade.
type TradeRecord struct {
	BaseModel
	TradeID      string    `gorm:"uniqueIndex;not null;type:varchar(36)"`
	Token        string    `gorm:"index;not null;type:varchar(42)"`
	Trader       string    `gorm:"index;not null;type:varchar(42)"`
	Side         string    `gorm:"not null;type:varchar(8)"`
	NativeAmount string    `gorm:"not null;type:varchar(80)"`
	TokenAmount  string    `gorm:"not null;type:varchar(80)"`
	Fee          string    `gorm:"not null;type:varchar(80)"`
	OwnerFee     string    `gorm:"type:varchar(80)"`
	Price        string    `gorm:"not null;type:varchar(100)"`
	MarketCapUSD string    `gorm:"type:varchar(100)"`
	Launched     bool      `gorm:"default:false"`
	ExecutedAt   time.Time `gorm:"index;not null"`
}
