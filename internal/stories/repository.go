package stories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/unlockit/unlockit-backend/pkg/db/models"
	"github.com/unlockit/unlockit-backend/pkg/enums"
	"github.com/unlockit/unlockit-backend/pkg/pagination"
)

// Repository exposes story persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a stories repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Create inserts the story row.
func (r *Repository) Create(ctx context.Context, story *models.Story) error {
	return r.db.WithContext(ctx).Create(story).Error
}

// FindByID loads a story by its UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	var story models.Story
	if err := r.db.WithContext(ctx).First(&story, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &story, nil
}

// FindByIDForOwner loads a story scoped to its owner.
func (r *Repository) FindByIDForOwner(ctx context.Context, ownerID, id uuid.UUID) (*models.Story, error) {
	var story models.Story
	if err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&story).Error; err != nil {
		return nil, err
	}
	return &story, nil
}

// FindByReferenceNumber loads a story by its public reference number.
func (r *Repository) FindByReferenceNumber(ctx context.Context, reference string) (*models.Story, error) {
	var story models.Story
	if err := r.db.WithContext(ctx).
		Where("reference_number = ?", reference).
		First(&story).Error; err != nil {
		return nil, err
	}
	return &story, nil
}

// ListByOwner returns one keyset page of the owner's stories, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, input ListInput) ([]models.Story, string, error) {
	limit := pagination.NormalizeLimit(input.Limit)

	query := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(input.Limit))

	if input.Search != "" {
		query = query.Where("title LIKE ?", "%"+input.Search+"%")
	}
	if cursor, err := pagination.ParseCursor(input.Cursor); err != nil {
		return nil, "", err
	} else if cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Story
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

// Delete soft-deletes the owner's story. Returns gorm.ErrRecordNotFound when
// nothing matched.
func (r *Repository) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&models.Story{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountSettledPurchases counts successfully settled payments for the story.
// The usage limit is always checked against this live count.
func (r *Repository) CountSettledPurchases(ctx context.Context, storyID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("story_id = ? AND kind = ? AND status = ?",
			storyID, enums.TransactionKindPayment, enums.TransactionStatusSuccess).
		Count(&count).Error
	return count, err
}
