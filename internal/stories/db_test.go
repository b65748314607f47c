package stories

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/unlockit/unlockit-backend/pkg/db/models"
	"github.com/unlockit/unlockit-backend/pkg/enums"
)

func setupStoriesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	stories := `
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
);`
	transactions := `
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
);`
	require.NoError(t, db.Exec(stories).Error)
	require.NoError(t, db.Exec(transactions).Error)
	return db
}

func seedStory(t *testing.T, db *gorm.DB, ownerID uuid.UUID, ref string) *models.Story {
	t.Helper()

	story := &models.Story{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Price:           decimal.RequireFromString("5.00"),
		ObjectKey:       "stories/" + ownerID.String() + "/" + ref + "/file.pdf",
		FileName:        "file.pdf",
		UsageLimit:      2,
		ReferenceNumber: ref,
	}
	require.NoError(t, db.Create(story).Error)
	return story
}

func seedSettledPayment(t *testing.T, db *gorm.DB, story *models.Story, ref string) {
	t.Helper()

	tx := &models.Transaction{
		ID:            uuid.New(),
		OwnerID:       story.OwnerID,
		StoryID:       &story.ID,
		Email:         "buyer@example.com",
		PayableAmount: story.Price,
		Kind:          enums.TransactionKindPayment,
		Status:        enums.TransactionStatusSuccess,
		Reference:     ref,
	}
	require.NoError(t, db.Create(tx).Error)
}
