package stories

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/unlockit/unlockit-backend/pkg/config"
	"github.com/unlockit/unlockit-backend/pkg/db/models"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
	"github.com/unlockit/unlockit-backend/pkg/logger"
	"github.com/unlockit/unlockit-backend/pkg/reference"
)

const (
	// maxFileSizeBytes caps declared upload sizes at 100 MiB.
	maxFileSizeBytes = 100 << 20

	defaultMaxUsageLimit = 100

	maxReferenceAttempts = 5

	storyReferenceIndex = "idx_stories_reference_number"
)

// ErrReferenceExhausted is returned when reference generation keeps
// colliding with existing rows.
var ErrReferenceExhausted = pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique reference")

// Service exposes creator story management plus the public resolution used
// by the download flow.
type Service interface {
	Create(ctx context.Context, ownerID uuid.UUID, input CreateStoryInput) (*CreatedStory, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*StoryDTO, error)
	List(ctx context.Context, ownerID uuid.UUID, input ListInput) (*StoryListResult, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	ShareLink(ctx context.Context, ownerID, id uuid.UUID) (string, error)
	ResolveByPublicReference(ctx context.Context, composed string) (*models.Story, error)
	CanStillDownload(ctx context.Context, story *models.Story) (bool, error)
	ShareableLink(story *models.Story) (string, error)
}

type blobStore interface {
	SignedURL(method, object string, expiry time.Duration, contentType string) (string, error)
	Delete(ctx context.Context, object string) error
}

type uniqueViolationChecker func(err error, constraintName string) bool

type service struct {
	repo          *Repository
	blobs         blobStore
	downloadCfg   config.DownloadConfig
	uploadExpiry  time.Duration
	logg          *logger.Logger
	isUniqueError uniqueViolationChecker
}

// NewService constructs the story service.
func NewService(repo *Repository, blobs blobStore, downloadCfg config.DownloadConfig, gcsCfg config.GCSConfig, logg *logger.Logger, uniqueCheck uniqueViolationChecker) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stories repository required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store required")
	}
	if uniqueCheck == nil {
		return nil, fmt.Errorf("unique violation checker required")
	}
	return &service{
		repo:          repo,
		blobs:         blobs,
		downloadCfg:   downloadCfg,
		uploadExpiry:  gcsCfg.UploadURLExpiry,
		logg:          logg,
		isUniqueError: uniqueCheck,
	}, nil
}

// Create validates the input, allocates a unique reference number with
// bounded retries, persists the row, and returns a signed PUT URL the
// creator uploads the file to.
func (s *service) Create(ctx context.Context, ownerID uuid.UUID, input CreateStoryInput) (*CreatedStory, error) {
	if err := s.validateCreate(input); err != nil {
		return nil, err
	}

	var story *models.Story
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		ref, err := reference.Story()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating story reference")
		}

		candidate := &models.Story{
			ID:              uuid.New(),
			OwnerID:         ownerID,
			Title:           input.Title,
			Price:           input.Price,
			ObjectKey:       buildObjectKey(ownerID, ref, input.FileName),
			FileName:        input.FileName,
			FileType:        input.FileType,
			UsageLimit:      input.UsageLimit,
			ReferenceNumber: ref,
		}
		err = s.repo.Create(ctx, candidate)
		if err == nil {
			story = candidate
			break
		}
		if s.isUniqueError(err, storyReferenceIndex) {
			continue
		}
		return nil, err
	}
	if story == nil {
		return nil, ErrReferenceExhausted
	}

	contentType := ""
	if input.FileType != nil {
		contentType = *input.FileType
	}
	uploadURL, err := s.blobs.SignedURL("PUT", story.ObjectKey, s.uploadExpiry, contentType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "signing upload url")
	}

	return &CreatedStory{Story: FromModel(story), UploadURL: uploadURL}, nil
}

// Get loads a single story scoped to its owner.
func (s *service) Get(ctx context.Context, ownerID, id uuid.UUID) (*StoryDTO, error) {
	story, err := s.repo.FindByIDForOwner(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Story not found")
		}
		return nil, err
	}
	dto := FromModel(story)
	return &dto, nil
}

// List returns one page of the owner's stories.
func (s *service) List(ctx context.Context, ownerID uuid.UUID, input ListInput) (*StoryListResult, error) {
	rows, next, err := s.repo.ListByOwner(ctx, ownerID, input)
	if err != nil {
		return nil, err
	}

	items := make([]StoryDTO, 0, len(rows))
	for i := range rows {
		items = append(items, FromModel(&rows[i]))
	}
	return &StoryListResult{Items: items, NextCursor: next}, nil
}

// Delete removes the blob first, then soft-deletes the row. Blob failures
// are logged and do not block the delete; transactions keep a nulled story
// reference either way.
func (s *service) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	story, err := s.repo.FindByIDForOwner(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "Story not found")
		}
		return err
	}

	if err := s.blobs.Delete(ctx, story.ObjectKey); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithStoryRef(ctx, story.ReferenceNumber),
			fmt.Sprintf("blob delete failed, continuing: %v", err))
	}

	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "Story not found")
		}
		return err
	}
	return nil
}

// ShareLink loads an owned story and returns its public share-page URL.
func (s *service) ShareLink(ctx context.Context, ownerID, id uuid.UUID) (string, error) {
	story, err := s.repo.FindByIDForOwner(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "Story not found")
		}
		return "", err
	}
	return s.ShareableLink(story)
}

// ResolveByPublicReference maps a composed share-link reference to its
// story. The composed form carries a leading noise segment; any
// malformation or lookup miss collapses to the same not-found error.
func (s *service) ResolveByPublicReference(ctx context.Context, composed string) (*models.Story, error) {
	notFound := pkgerrors.New(pkgerrors.CodeNotFound, "Story not found")

	parts := strings.Split(strings.TrimSpace(composed), "-")
	if len(parts) != 3 {
		return nil, notFound
	}
	ref := parts[1] + "-" + parts[2]

	story, err := s.repo.FindByReferenceNumber(ctx, ref)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound
		}
		return nil, err
	}
	return story, nil
}

// CanStillDownload checks the live settled-purchase count against the
// story's usage limit. The count is recomputed on every call.
func (s *service) CanStillDownload(ctx context.Context, story *models.Story) (bool, error) {
	if story.UsageLimit <= 0 {
		return true, nil
	}
	count, err := s.repo.CountSettledPurchases(ctx, story.ID)
	if err != nil {
		return false, err
	}
	return count < int64(story.UsageLimit), nil
}

// ShareableLink builds the public share-page URL with a freshly noised
// reference.
func (s *service) ShareableLink(story *models.Story) (string, error) {
	noisy, err := reference.WithNoise(story.ReferenceNumber)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building shareable reference")
	}
	return s.downloadCfg.PageURL + "?storyReference=" + url.QueryEscape(noisy), nil
}

func (s *service) validateCreate(input CreateStoryInput) error {
	details := map[string]string{}

	if !input.Price.IsPositive() {
		details["price"] = "must be greater than zero"
	}
	if strings.TrimSpace(input.FileName) == "" {
		details["file_name"] = "is required"
	}
	if input.SizeBytes <= 0 {
		details["size_bytes"] = "is required"
	} else if input.SizeBytes > maxFileSizeBytes {
		details["size_bytes"] = "exceeds the maximum file size"
	}

	maxUsage := s.downloadCfg.MaxUsageNumber
	if maxUsage <= 0 {
		maxUsage = defaultMaxUsageLimit
	}
	if input.UsageLimit < 1 || input.UsageLimit > maxUsage {
		details["usage_limit"] = fmt.Sprintf("must be between 1 and %d", maxUsage)
	}

	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid story").WithDetails(details)
	}
	return nil
}

func buildObjectKey(ownerID uuid.UUID, ref, fileName string) string {
	return path.Join("stories", ownerID.String(), ref, path.Base(fileName))
}
