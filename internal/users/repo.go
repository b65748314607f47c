package users

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/unlockit/unlockit-backend/pkg/db/models"
)

// Repository exposes user-related persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Create inserts a new user and returns the persisted model.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	user := dto.ToModel()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// FindByEmail retrieves the user matching the provided email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateLastLogin refreshes the user's last_login_at timestamp.
func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("last_login_at", at).Error
}

// CreditWallet adds amount to the user's wallet balance in a single UPDATE.
// Call it inside the same transaction that flips the ledger row.
func (r *Repository) CreditWallet(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return r.adjustWallet(ctx, id, amount)
}

// DebitWallet subtracts amount from the user's wallet balance.
func (r *Repository) DebitWallet(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return r.adjustWallet(ctx, id, amount.Neg())
}

func (r *Repository) adjustWallet(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("wallet_balance", gorm.Expr("wallet_balance + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	return nil
}

// UpdatePayeeAccount stores the provider-side payee account ID.
func (r *Repository) UpdatePayeeAccount(ctx context.Context, id uuid.UUID, payeeAccountID string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("payee_account_id", payeeAccountID).Error
}

// UpdateBankDetails overwrites the payout destination snapshot.
func (r *Repository) UpdateBankDetails(ctx context.Context, id uuid.UUID, bankAccountID string, details BankDetails) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"bank_account_id": bankAccountID,
			"account_number":  details.AccountNumber,
			"account_name":    details.AccountName,
			"bank_name":       details.BankName,
			"bank_code":       details.BankCode,
		}).Error
}
