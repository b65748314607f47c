package users

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/unlockit/unlockit-backend/pkg/db/models"
	"github.com/unlockit/unlockit-backend/pkg/enums"
)

// UserDTO is the transport shape that omits sensitive credentials.
type UserDTO struct {
	ID            uuid.UUID           `json:"id"`
	Email         string              `json:"email"`
	Username      *string             `json:"username,omitempty"`
	Name          *string             `json:"name,omitempty"`
	AccountStatus enums.AccountStatus `json:"account_status"`
	WalletBalance decimal.Decimal     `json:"wallet_balance"`
	LastLoginAt   *time.Time          `json:"last_login_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	Email        string
	Username     *string
	PasswordHash string
	Name         *string
}

// BankDetails is the payout destination snapshot kept on the user row.
type BankDetails struct {
	AccountNumber string
	AccountName   string
	BankName      string
	BankCode      string
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}

	return &UserDTO{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		Name:          u.Name,
		AccountStatus: u.AccountStatus,
		WalletBalance: u.WalletBalance,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	return &models.User{
		ID:            uuid.New(),
		Email:         c.Email,
		Username:      c.Username,
		PasswordHash:  c.PasswordHash,
		Name:          c.Name,
		AccountStatus: enums.AccountStatusActive,
		WalletBalance: decimal.Zero,
	}
}

// Matches reports whether the snapshot on file equals the requested details,
// so withdrawal only re-provisions a payee bank account when they differ.
func (b BankDetails) Matches(u *models.User) bool {
	if u == nil {
		return false
	}
	eq := func(have *string, want string) bool {
		return have != nil && *have == want
	}
	return eq(u.AccountNumber, b.AccountNumber) &&
		eq(u.AccountName, b.AccountName) &&
		eq(u.BankName, b.BankName) &&
		eq(u.BankCode, b.BankCode)
}
