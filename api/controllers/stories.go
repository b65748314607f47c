package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/unlockit/unlockit-backend/api/middleware"
	"github.com/unlockit/unlockit-backend/api/responses"
	"github.com/unlockit/unlockit-backend/api/validators"
	"github.com/unlockit/unlockit-backend/internal/stories"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
	"github.com/unlockit/unlockit-backend/pkg/logger"
)

const maxStoryPageSize = 100

type createStoryRequest struct {
	Title      *string `json:"title"`
	Price      string  `json:"price" validate:"required"`
	FileName   string  `json:"file_name" validate:"required"`
	FileType   *string `json:"file_type"`
	SizeBytes  int64   `json:"size_bytes" validate:"required,min=1"`
	UsageLimit int     `json:"usage_limit" validate:"min=0"`
}

type shareLinkResponse struct {
	ShareURL string `json:"share_url"`
}

func ownerFromContext(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	ownerID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return ownerID, nil
}

// StoryCreate registers a story and returns the signed upload URL.
func StoryCreate(svc stories.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := ownerFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createStoryRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		price, err := decimal.NewFromString(body.Price)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "price must be a decimal string"))
			return
		}

		created, err := svc.Create(r.Context(), ownerID, stories.CreateStoryInput{
			Title:      body.Title,
			Price:      price,
			FileName:   validators.SanitizeString(body.FileName, 255),
			FileType:   body.FileType,
			SizeBytes:  body.SizeBytes,
			UsageLimit: body.UsageLimit,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, created)
	}
}

// StoryList returns one page of the owner's stories.
func StoryList(svc stories.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := ownerFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, maxStoryPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), ownerID, stories.ListInput{
			Search: validators.SanitizeString(r.URL.Query().Get("search"), 120),
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// StoryGet returns a single owned story.
func StoryGet(svc stories.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := ownerFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		storyID, err := uuid.Parse(chi.URLParam(r, "storyID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid story id"))
			return
		}

		story, err := svc.Get(r.Context(), ownerID, storyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, story)
	}
}

// StoryDelete removes an owned story and its stored file.
func StoryDelete(svc stories.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := ownerFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		storyID, err := uuid.Parse(chi.URLParam(r, "storyID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid story id"))
			return
		}

		if err := svc.Delete(r.Context(), ownerID, storyID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

// StoryShareLink returns the public link a creator sends to buyers.
func StoryShareLink(svc stories.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := ownerFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		storyID, err := uuid.Parse(chi.URLParam(r, "storyID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid story id"))
			return
		}

		link, err := svc.ShareLink(r.Context(), ownerID, storyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, shareLinkResponse{ShareURL: link})
	}
}
