package mirror

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionRow is the relational projection of one consumption session. Amount
// columns hold decimal strings so arbitrary-precision values survive storage.
type SessionRow struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID       uint64    `gorm:"uniqueIndex"`
	Owner           string    `gorm:"index"`
	ContentID       string    `gorm:"index"`
	RatePerSecond   string    `gorm:"size:80"`
	Status          string    `gorm:"size:16;index"`
	ConsumedSeconds uint64
	Charged         string `gorm:"size:80"`
	FromYield       string `gorm:"size:80"`
	FromPrincipal   string `gorm:"size:80"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Checkpoint records the last stream cursor the mirror has applied so a
// restart resumes without replaying or skipping events.
type Checkpoint struct {
	ID        uint `gorm:"primaryKey"`
	Cursor    uint64
	UpdatedAt time.Time
}

// AutoMigrate creates or upgrades the mirror schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&SessionRow{}, &Checkpoint{})
}
