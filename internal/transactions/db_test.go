package transactions

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/unlockit/unlockit-backend/internal/users"
	"github.com/unlockit/unlockit-backend/pkg/db/models"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  username TEXT UNIQUE,
  password_hash TEXT NOT NULL,
  name TEXT,
  account_status TEXT NOT NULL DEFAULT 'active',
  wallet_balance NUMERIC NOT NULL DEFAULT 0,
  payee_account_id TEXT,
  bank_account_id TEXT,
  account_number TEXT,
  account_name TEXT,
  bank_name TEXT,
  bank_code TEXT,
  last_login_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS stories (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  title TEXT,
  price NUMERIC NOT NULL,
  object_key TEXT NOT NULL,
  file_name TEXT NOT NULL,
  file_type TEXT,
  usage_limit INTEGER NOT NULL DEFAULT 1,
  reference_number TEXT NOT NULL UNIQUE,
  created_at DATETIME,
  updated_at DATETIME,
  deleted_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  story_id TEXT,
  email TEXT NOT NULL,
  payable_amount NUMERIC NOT NULL,
  withdrawable_amount NUMERIC NOT NULL DEFAULT 0,
  kind TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  reference TEXT NOT NULL UNIQUE,
  provider_reference TEXT,
  file_downloaded INTEGER NOT NULL DEFAULT 0,
  meta_data TEXT,
  account_number TEXT,
  account_name TEXT,
  bank_name TEXT,
  bank_code TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  UNIQUE (event_type, aggregate_type, aggregate_id)
);`}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func sqliteUniqueCheck(err error, _ string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func seedUser(t *testing.T, db *gorm.DB, balance string) *models.User {
	t.Helper()

	repo := users.NewRepository(db)
	user, err := repo.Create(context.Background(), users.CreateUserDTO{
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	if balance != "0" {
		require.NoError(t, repo.CreditWallet(context.Background(), user.ID, decimal.RequireFromString(balance)))
		user.WalletBalance = decimal.RequireFromString(balance)
	}
	return user
}

func seedLedgerStory(t *testing.T, db *gorm.DB, ownerID uuid.UUID) *models.Story {
	t.Helper()

	story := &models.Story{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Price:           decimal.RequireFromString("12.00"),
		ObjectKey:       "stories/" + ownerID.String() + "/file.pdf",
		FileName:        "file.pdf",
		UsageLimit:      5,
		ReferenceNumber: "RN-" + uuid.NewString()[:8],
	}
	require.NoError(t, db.Create(story).Error)
	return story
}
