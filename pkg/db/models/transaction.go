package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/unlockit/unlockit-backend/pkg/enums"
)

// Transaction records money movement against a creator's wallet: buyer
// payments for a story and creator withdrawals. Reference is the internal
// correlation handle; ProviderReference holds the Stripe session or payout
// ID. PayableAmount is what the transaction was opened for;
// WithdrawableAmount is what settlement actually credited. Rows are never
// deleted, a removed story leaves StoryID null.
type Transaction struct {
	ID                 uuid.UUID               `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID            uuid.UUID               `gorm:"column:owner_id;type:uuid;not null;index"`
	Owner              *User                   `gorm:"foreignKey:OwnerID"`
	StoryID            *uuid.UUID              `gorm:"column:story_id;type:uuid;index"`
	Story              *Story                  `gorm:"foreignKey:StoryID"`
	Email              string                  `gorm:"column:email;not null"`
	PayableAmount      decimal.Decimal         `gorm:"column:payable_amount;type:numeric(10,2);not null"`
	WithdrawableAmount decimal.Decimal         `gorm:"column:withdrawable_amount;type:numeric(10,2);not null;default:0"`
	Kind               enums.TransactionKind   `gorm:"column:kind;type:transaction_kind;not null"`
	Status             enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'pending'"`
	Reference          string                  `gorm:"column:reference;not null;uniqueIndex"`
	ProviderReference  *string                 `gorm:"column:provider_reference"`
	FileDownloaded     bool                    `gorm:"column:file_downloaded;not null;default:false"`
	MetaData           json.RawMessage         `gorm:"column:meta_data;type:jsonb"`

	// withdrawal destination snapshot
	AccountNumber *string `gorm:"column:account_number"`
	AccountName   *string `gorm:"column:account_name"`
	BankName      *string `gorm:"column:bank_name"`
	BankCode      *string `gorm:"column:bank_code"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
