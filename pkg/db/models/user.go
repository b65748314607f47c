package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/unlockit/unlockit-backend/pkg/enums"
)

// User represents a creator account that uploads stories and receives
// wallet credits when buyers pay. WalletBalance only moves inside the
// same DB transaction that flips a transaction row's status.
type User struct {
	ID            uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email         string              `gorm:"type:text;not null;uniqueIndex"`
	Username      *string             `gorm:"column:username;uniqueIndex"`
	PasswordHash  string              `gorm:"column:password_hash;not null"`
	Name          *string             `gorm:"column:name"`
	AccountStatus enums.AccountStatus `gorm:"column:account_status;type:account_status;not null;default:'active'"`
	WalletBalance decimal.Decimal     `gorm:"column:wallet_balance;type:numeric(10,2);not null;default:0"`

	// payout destination on file, provisioned lazily on first withdrawal
	PayeeAccountID *string `gorm:"column:payee_account_id"`
	BankAccountID  *string `gorm:"column:bank_account_id"`
	AccountNumber  *string `gorm:"column:account_number"`
	AccountName    *string `gorm:"column:account_name"`
	BankName       *string `gorm:"column:bank_name"`
	BankCode       *string `gorm:"column:bank_code"`

	LastLoginAt *time.Time `gorm:"column:last_login_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
