package stories

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/unlockit/unlockit-backend/pkg/db/models"
)

// StoryDTO is the owner-facing transport shape of a story.
type StoryDTO struct {
	ID              uuid.UUID       `json:"id"`
	Title           *string         `json:"title,omitempty"`
	Price           decimal.Decimal `json:"price"`
	FileName        string          `json:"file_name"`
	FileType        *string         `json:"file_type,omitempty"`
	UsageLimit      int             `json:"usage_limit"`
	ReferenceNumber string          `json:"reference_number"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CreateStoryInput holds the validated payload to register a story.
type CreateStoryInput struct {
	Title      *string
	Price      decimal.Decimal
	FileName   string
	FileType   *string
	SizeBytes  int64
	UsageLimit int
}

// CreatedStory pairs the persisted story with the one-time upload URL the
// creator PUTs the file to.
type CreatedStory struct {
	Story     StoryDTO `json:"story"`
	UploadURL string   `json:"upload_url"`
}

// ListInput holds story listing filters.
type ListInput struct {
	Search string
	Limit  int
	Cursor string
}

// StoryListResult is one page of the owner's stories.
type StoryListResult struct {
	Items      []StoryDTO `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

func FromModel(s *models.Story) StoryDTO {
	return StoryDTO{
		ID:              s.ID,
		Title:           s.Title,
		Price:           s.Price,
		FileName:        s.FileName,
		FileType:        s.FileType,
		UsageLimit:      s.UsageLimit,
		ReferenceNumber: s.ReferenceNumber,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
