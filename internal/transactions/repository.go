package transactions

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/unlockit/unlockit-backend/pkg/db/models"
	"github.com/unlockit/unlockit-backend/pkg/enums"
	"github.com/unlockit/unlockit-backend/pkg/pagination"
)

// Repository exposes transaction ledger persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a transactions repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Create inserts the ledger row.
func (r *Repository) Create(ctx context.Context, tx *models.Transaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

// FindByReference loads a row by its internal correlation reference.
func (r *Repository) FindByReference(ctx context.Context, ref string) (*models.Transaction, error) {
	var row models.Transaction
	if err := r.db.WithContext(ctx).Where("reference = ?", ref).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// FindByReferenceForUpdate loads the row under a row lock so concurrent
// settlement attempts serialize. The lock clause only applies on Postgres;
// sqlite serializes writers on its own.
func (r *Repository) FindByReferenceForUpdate(ctx context.Context, ref string) (*models.Transaction, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var row models.Transaction
	if err := query.Where("reference = ?", ref).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Save persists all fields of the row.
func (r *Repository) Save(ctx context.Context, tx *models.Transaction) error {
	return r.db.WithContext(ctx).Save(tx).Error
}

// MarkDownloaded latches the one-shot download flag. It reports whether
// this call won the latch.
func (r *Repository) MarkDownloaded(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND file_downloaded = ?", id, false).
		UpdateColumn("file_downloaded", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListByOwner returns one keyset page of the owner's ledger, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, input ListInput) ([]models.Transaction, string, error) {
	limit := pagination.NormalizeLimit(input.Limit)

	query := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(input.Limit))

	if input.Kind != nil {
		query = query.Where("kind = ?", *input.Kind)
	}
	if cursor, err := pagination.ParseCursor(input.Cursor); err != nil {
		return nil, "", err
	} else if cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Transaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

// SumSettledPayments totals the withdrawable amounts of the owner's settled
// payments.
func (r *Repository) SumSettledPayments(ctx context.Context, ownerID uuid.UUID) (decimal.Decimal, error) {
	return r.sumAmounts(ctx, "withdrawable_amount",
		"owner_id = ? AND kind = ? AND status = ?",
		ownerID, enums.TransactionKindPayment, enums.TransactionStatusSuccess)
}

// SumActiveWithdrawals totals the owner's withdrawals that have not failed.
// Pending withdrawals stay counted so the balance cannot be double-spent.
func (r *Repository) SumActiveWithdrawals(ctx context.Context, ownerID uuid.UUID) (decimal.Decimal, error) {
	return r.sumAmounts(ctx, "payable_amount",
		"owner_id = ? AND kind = ? AND status <> ?",
		ownerID, enums.TransactionKindWithdrawal, enums.TransactionStatusFailed)
}

func (r *Repository) sumAmounts(ctx context.Context, column, where string, args ...any) (decimal.Decimal, error) {
	var total *string
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("SUM("+column+")").
		Where(where, args...).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if total == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*total)
}
