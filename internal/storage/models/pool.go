// internal/storage/models/pool.go
package models

import (
	"time"
)

// PoolRecord is the persisted state of one bonding-curve pool. Amounts are
// decimal strings of base units.
type PoolRecord struct {
	BaseModel
	Token         string `gorm:"uniqueIndex;not null;type:varchar(42)"`
	Owner         string `gorm:"index;not null;type:varchar(42)"`
	Name          string `gorm:"not null;type:varchar(64)"`
	Symbol        string `gorm:"not null;type:varchar(16)"`
	SchemaVersion int    `gorm:"not null;default:1"`
	Variant       int    `gorm:"not null;default:1"`

	NativeDecimals uint8 `gorm:"not null"`
	TokenDecimals  uint8 `gorm:"not null"`

	TotalSupply          string `gorm:"not null;type:varchar(80)"`
	RealNativeReserve    string `gorm:"not null;type:varchar(80)"`
	RealTokenReserve     string `gorm:"not null;type:varchar(80)"`
	VirtualNativeReserve string `gorm:"not null;type:varchar(80)"`
	VirtualTokenReserve  string `gorm:"not null;type:varchar(80)"`
	K                    string `gorm:"column:curve_k;not null;type:varchar(80)"`
	ReservedForLaunch    string `gorm:"type:varchar(80)"`
	OwnerLpFee           string `gorm:"type:varchar(80)"`
	ProtocolFeesAccrued  string `gorm:"type:varchar(80)"`
	OwnerFeesAccrued     string `gorm:"type:varchar(80)"`
	LpNative             string `gorm:"type:varchar(80)"`
	LpTokens             string `gorm:"type:varchar(80)"`

	FirstBuyConsumed bool
	Status           string `gorm:"index;not null;type:varchar(16)"`
	Launched         bool   `gorm:"index"`
	// Comma separated router ids and pair addresses.
	SelectedRouters string `gorm:"type:text"`
	Pairs           string `gorm:"type:text"`

	ConfigVersion uint64
	PoolCreatedAt time.Time `gorm:"not null"`
	LaunchedAt    *time.Time
}
