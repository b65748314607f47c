package transactions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlockit/unlockit-backend/pkg/db/models"
	"github.com/unlockit/unlockit-backend/pkg/enums"
)

func seedTransaction(t *testing.T, repo *Repository, row *models.Transaction) *models.Transaction {
	t.Helper()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	require.NoError(t, repo.Create(context.Background(), row))
	return row
}

func TestRepositoryMarkDownloadedLatchesOnce(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	row := seedTransaction(t, repo, &models.Transaction{
		OwnerID:       uuid.New(),
		Email:         "buyer@example.com",
		PayableAmount: decimal.NewFromInt(5),
		Kind:          enums.TransactionKindPayment,
		Status:        enums.TransactionStatusSuccess,
		Reference:     "LATCHAA1111111",
	})

	won, err := repo.MarkDownloaded(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, won)

	again, err := repo.MarkDownloaded(ctx, row.ID)
	require.NoError(t, err)
	assert.False(t, again)

	reloaded, err := repo.FindByReference(ctx, row.Reference)
	require.NoError(t, err)
	assert.True(t, reloaded.FileDownloaded)
}

func TestRepositoryListByOwnerFiltersKind(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	owner := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		seedTransaction(t, repo, &models.Transaction{
			OwnerID:       owner,
			Email:         "buyer@example.com",
			PayableAmount: decimal.NewFromInt(int64(i + 1)),
			Kind:          enums.TransactionKindPayment,
			Status:        enums.TransactionStatusSuccess,
			Reference:     fmt.Sprintf("LISTPAY%d111111", i),
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		})
	}
	seedTransaction(t, repo, &models.Transaction{
		OwnerID:       owner,
		Email:         "creator@example.com",
		PayableAmount: decimal.NewFromInt(9),
		Kind:          enums.TransactionKindWithdrawal,
		Status:        enums.TransactionStatusPending,
		Reference:     "LISTWDR0111111",
		CreatedAt:     base.Add(10 * time.Minute),
	})

	all, _, err := repo.ListByOwner(ctx, owner, ListInput{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "LISTWDR0111111", all[0].Reference)

	kind := enums.TransactionKindPayment
	paymentsOnly, _, err := repo.ListByOwner(ctx, owner, ListInput{Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, paymentsOnly, 3)

	page, cursor, err := repo.ListByOwner(ctx, owner, ListInput{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
	require.NotEmpty(t, cursor)

	rest, _, err := repo.ListByOwner(ctx, owner, ListInput{Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestRepositoryBalanceSums(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	owner := uuid.New()

	seedTransaction(t, repo, &models.Transaction{
		OwnerID:            owner,
		Email:              "b1@example.com",
		PayableAmount:      decimal.RequireFromString("10.00"),
		WithdrawableAmount: decimal.RequireFromString("10.00"),
		Kind:               enums.TransactionKindPayment,
		Status:             enums.TransactionStatusSuccess,
		Reference:          "SUMSPAY1111111",
	})
	seedTransaction(t, repo, &models.Transaction{
		OwnerID:            owner,
		Email:              "b2@example.com",
		PayableAmount:      decimal.RequireFromString("7.50"),
		WithdrawableAmount: decimal.RequireFromString("7.50"),
		Kind:               enums.TransactionKindPayment,
		Status:             enums.TransactionStatusSuccess,
		Reference:          "SUMSPAY2222222",
	})
	// pending payments and failed withdrawals stay out of the sums
	seedTransaction(t, repo, &models.Transaction{
		OwnerID:       owner,
		Email:         "b3@example.com",
		PayableAmount: decimal.RequireFromString("99.00"),
		Kind:          enums.TransactionKindPayment,
		Status:        enums.TransactionStatusPending,
		Reference:     "SUMSPAY3333333",
	})
	seedTransaction(t, repo, &models.Transaction{
		OwnerID:       owner,
		Email:         "c@example.com",
		PayableAmount: decimal.RequireFromString("5.00"),
		Kind:          enums.TransactionKindWithdrawal,
		Status:        enums.TransactionStatusPending,
		Reference:     "SUMSWDR1111111",
	})
	seedTransaction(t, repo, &models.Transaction{
		OwnerID:       owner,
		Email:         "c@example.com",
		PayableAmount: decimal.RequireFromString("3.00"),
		Kind:          enums.TransactionKindWithdrawal,
		Status:        enums.TransactionStatusFailed,
		Reference:     "SUMSWDR2222222",
	})

	settled, err := repo.SumSettledPayments(ctx, owner)
	require.NoError(t, err)
	assert.True(t, settled.Equal(decimal.RequireFromString("17.50")), "got %s", settled)

	withdrawn, err := repo.SumActiveWithdrawals(ctx, owner)
	require.NoError(t, err)
	assert.True(t, withdrawn.Equal(decimal.RequireFromString("5.00")), "got %s", withdrawn)
}
