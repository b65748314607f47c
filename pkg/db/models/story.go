package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Story is a sellable upload. ReferenceNumber is the public handle baked
// into share links; the raw file lives in object storage under ObjectKey.
// UsageLimit caps how many settled purchases the story accepts; remaining
// capacity is recomputed from the ledger, never cached on the row.
type Story struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID         uuid.UUID       `gorm:"column:owner_id;type:uuid;not null;index"`
	Owner           *User           `gorm:"foreignKey:OwnerID"`
	Title           *string         `gorm:"column:title"`
	Price           decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	ObjectKey       string          `gorm:"column:object_key;not null"`
	FileName        string          `gorm:"column:file_name;not null"`
	FileType        *string         `gorm:"column:file_type"`
	UsageLimit      int             `gorm:"column:usage_limit;not null;default:1"`
	ReferenceNumber string          `gorm:"column:reference_number;not null;uniqueIndex"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt       gorm.DeletedAt  `gorm:"column:deleted_at;index"`
}
