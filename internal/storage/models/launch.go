// internal/storage/models/launch.go
package models

import "time"

// Launch attempt outcomes.
const (
	LaunchStatusLaunched = "launched"
	LaunchStatusAborted  = "aborted"
	LaunchStatusHalted   = "halted"
)

// LaunchRecord is the history of one launch attempt.
type LaunchRecord struct {
	BaseModel
	Token       string `gorm:"index;not null;type:varchar(42)"`
	Status      string `gorm:"not null;type:varchar(20)"`
	Routers     string `gorm:"type:text"`
	Pairs       string `gorm:"type:text"`
	Native      string `gorm:"type:varchar(80)"`
	Tokens      string `gorm:"type:varchar(80)"`
	Error       string `gorm:"type:text"`
	StartedAt   time.Time
	CompletedAt time.Time
}
