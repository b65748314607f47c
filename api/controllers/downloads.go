package controllers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/unlockit/unlockit-backend/api/responses"
	"github.com/unlockit/unlockit-backend/api/validators"
	"github.com/unlockit/unlockit-backend/internal/downloads"
	"github.com/unlockit/unlockit-backend/pkg/config"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
	"github.com/unlockit/unlockit-backend/pkg/logger"
)

type paymentLinkRequest struct {
	StoryReference string `json:"story_reference" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
}

// SharedStory returns the public card for a shared story reference. No
// authentication: the noised reference is the capability.
func SharedStory(engine downloads.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimSpace(r.URL.Query().Get("storyReference"))
		if ref == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "storyReference is required"))
			return
		}

		card, err := engine.StoryDetails(r.Context(), ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, card)
	}
}

// SharedStoryPaymentLink opens a pending ledger row and returns the provider
// checkout URL for the buyer.
func SharedStoryPaymentLink(engine downloads.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body paymentLinkRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		link, err := engine.RequestPaymentLink(r.Context(), downloads.PaymentLinkInput{
			StoryReference: strings.TrimSpace(body.StoryReference),
			Email:          strings.ToLower(strings.TrimSpace(body.Email)),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, link)
	}
}

// Download redeems a one-shot token and streams the story file. Redemption
// failures redirect the browser to the error page instead of returning JSON.
func Download(engine downloads.Engine, downloadCfg config.DownloadConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			http.Redirect(w, r, downloadCfg.ErrorURL, http.StatusFound)
			return
		}

		file, err := engine.ConsumeDownload(ctx, token)
		if err != nil {
			if logg != nil {
				logg.Warn(ctx, fmt.Sprintf("download redemption failed: %v", err))
			}
			http.Redirect(w, r, downloadCfg.ErrorURL, http.StatusFound)
			return
		}
		defer file.Body.Close()

		if file.ContentType != "" {
			w.Header().Set("Content-Type", file.ContentType)
		} else {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		if file.ContentLength > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(file.ContentLength, 10))
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))

		if _, err := io.Copy(w, file.Body); err != nil && logg != nil {
			logg.Warn(ctx, fmt.Sprintf("download stream interrupted: %v", err))
		}
	}
}
