// internal/storage/models/base.go
package models

import "time"

// BaseModel заменяет gorm.Model для большего контроля
type BaseModel struct {
	ID        uint       `gorm:"primarykey"`
	CreatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	DeletedAt *time.Time `gorm:"index"`
}

// Schema versions of PoolRecord rows.
const (
	// PoolSchemaV1 rows predate router selection and the owner LP fee.
	PoolSchemaV1 = 1
	// PoolSchemaV2 is the current row layout.
	PoolSchemaV2 = 2

	CurrentPoolSchema = PoolSchemaV2
)
