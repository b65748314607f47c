// Package downloads implements the paid-download lifecycle: payment-link
// requests, webhook-driven settlement, capability-token issue, and the
// one-shot token-gated download itself.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gorm.io/gorm"

	"github.com/unlockit/unlockit-backend/internal/payments"
	"github.com/unlockit/unlockit-backend/internal/stories"
	"github.com/unlockit/unlockit-backend/internal/transactions"
	"github.com/unlockit/unlockit-backend/pkg/config"
	"github.com/unlockit/unlockit-backend/pkg/db"
	"github.com/unlockit/unlockit-backend/pkg/db/models"
	"github.com/unlockit/unlockit-backend/pkg/enums"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
	"github.com/unlockit/unlockit-backend/pkg/logger"
	"github.com/unlockit/unlockit-backend/pkg/metrics"
	"github.com/unlockit/unlockit-backend/pkg/outbox"
	"github.com/unlockit/unlockit-backend/pkg/outbox/payloads"
	"github.com/unlockit/unlockit-backend/pkg/reference"
	"github.com/unlockit/unlockit-backend/pkg/storage/gcs"
	"github.com/unlockit/unlockit-backend/pkg/token"

	"github.com/shopspring/decimal"
)

const checkoutObjectType = "checkout.session"

// Engine drives the paid-download lifecycle.
type Engine interface {
	RequestPaymentLink(ctx context.Context, input PaymentLinkInput) (*PaymentLink, error)
	StoryDetails(ctx context.Context, composedRef string) (*StoryCard, error)
	HandleSettlement(ctx context.Context, event SettlementEvent) error
	ConsumeDownload(ctx context.Context, tokenString string) (*DownloadFile, error)
}

type blobReader interface {
	Download(ctx context.Context, object string) (*gcs.Object, error)
}

type eventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type engine struct {
	dbClient    *db.Client
	stories     stories.Service
	storiesRepo *stories.Repository
	ledger      transactions.Service
	txRepo      *transactions.Repository
	gateway     payments.Gateway
	codec       *token.Codec
	blobs       blobReader
	events      eventEmitter
	metrics     *metrics.SettlementMetrics
	logg        *logger.Logger

	baseURL     string
	feePct      decimal.Decimal
	downloadCfg config.DownloadConfig
}

// Config carries the engine's scalar settings.
type Config struct {
	BaseURL        string
	PlatformFeePct float64
	Download       config.DownloadConfig
}

// NewEngine constructs the download engine.
func NewEngine(
	dbClient *db.Client,
	storySvc stories.Service,
	storiesRepo *stories.Repository,
	ledger transactions.Service,
	txRepo *transactions.Repository,
	gateway payments.Gateway,
	codec *token.Codec,
	blobs blobReader,
	events eventEmitter,
	settlementMetrics *metrics.SettlementMetrics,
	logg *logger.Logger,
	cfg Config,
) (Engine, error) {
	if dbClient == nil || storySvc == nil || storiesRepo == nil || ledger == nil || txRepo == nil {
		return nil, fmt.Errorf("db client, story service and ledger are required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if codec == nil {
		return nil, fmt.Errorf("token codec required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob reader required")
	}
	if events == nil {
		return nil, fmt.Errorf("event emitter required")
	}
	return &engine{
		dbClient:    dbClient,
		stories:     storySvc,
		storiesRepo: storiesRepo,
		ledger:      ledger,
		txRepo:      txRepo,
		gateway:     gateway,
		codec:       codec,
		blobs:       blobs,
		events:      events,
		metrics:     settlementMetrics,
		logg:        logg,
		baseURL:     cfg.BaseURL,
		feePct:      decimal.NewFromFloat(cfg.PlatformFeePct),
		downloadCfg: cfg.Download,
	}, nil
}

// RequestPaymentLink resolves the shared story, checks remaining capacity,
// opens the PENDING ledger row, and returns the provider checkout URL. A
// session failure leaves the PENDING row behind; it is harmless and
// auditable.
func (e *engine) RequestPaymentLink(ctx context.Context, input PaymentLinkInput) (*PaymentLink, error) {
	story, err := e.stories.ResolveByPublicReference(ctx, input.StoryReference)
	if err != nil {
		return nil, err
	}

	ok, err := e.stories.CanStillDownload(ctx, story)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "usage limit exceeded")
	}

	tx, err := e.ledger.OpenPayment(ctx, story, input.Email)
	if err != nil {
		return nil, err
	}

	fee := story.Price.Mul(e.feePct).Div(decimal.NewFromInt(100)).Round(2)
	session, err := e.gateway.CreateCheckoutSession(ctx, payments.CheckoutInput{
		Title:                storyTitle(story),
		Description:          "One-time download of " + story.FileName,
		Amount:               story.Price,
		PlatformFee:          fee,
		BuyerEmail:           input.Email,
		CorrelationReference: tx.Reference,
	})
	if err != nil {
		return nil, err
	}
	return &PaymentLink{CheckoutURL: session.CheckoutURL}, nil
}

// StoryDetails returns the public card for the share page.
func (e *engine) StoryDetails(ctx context.Context, composedRef string) (*StoryCard, error) {
	story, err := e.stories.ResolveByPublicReference(ctx, composedRef)
	if err != nil {
		return nil, err
	}
	return &StoryCard{
		Title:          story.Title,
		Price:          story.Price,
		FileName:       story.FileName,
		FileType:       story.FileType,
		StoryReference: composedRef,
	}, nil
}

// HandleSettlement processes one verified webhook trigger. Anything that is
// not a checkout session acks as a no-op. The session state is re-fetched
// from the provider; the webhook body is never the source of truth. All
// business outcomes ack; only infrastructure failures propagate so the
// provider redelivers.
func (e *engine) HandleSettlement(ctx context.Context, event SettlementEvent) error {
	started := time.Now()
	defer func() {
		e.metrics.ObserveSettlementDuration(event.EventType, time.Since(started))
	}()

	if event.ObjectType != checkoutObjectType {
		e.metrics.IncWebhookEvent(event.EventType, "skipped")
		return nil
	}

	details, err := e.gateway.RetrieveSession(ctx, event.SessionID)
	if err != nil {
		e.metrics.IncWebhookEvent(event.EventType, "retrieve_failed")
		return err
	}

	result, err := e.ledger.Reconcile(ctx, transactions.ReconcileInput{
		Reference:         details.CorrelationReference,
		ProviderReference: details.ProviderReference,
		State:             settlementState(details.Status),
		AmountReceived:    details.AmountReceived,
		RawPayload:        details.Raw,
	})
	if err != nil {
		e.metrics.IncWebhookEvent(event.EventType, "reconcile_failed")
		return err
	}
	e.metrics.IncWebhookEvent(event.EventType, string(result.Outcome))

	switch result.Outcome {
	case transactions.ReconcileSettled:
		e.metrics.IncSettlement("settled")
	case transactions.ReconcileAlreadySettled:
		// Redelivery after a crash between settle and emit still issues the
		// link; the outbox dedup makes the emit a no-op otherwise.
	default:
		return nil
	}
	return e.issueDownloadLink(ctx, result.Transaction)
}

// issueDownloadLink mints the capability token over the noised story
// reference and queues the email through the outbox. The emit is
// idempotent per transaction, so webhook redelivery cannot resend it.
func (e *engine) issueDownloadLink(ctx context.Context, row *models.Transaction) error {
	if row.StoryID == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "settled payment has no story")
	}
	story, err := e.storiesRepo.FindByID(ctx, *row.StoryID)
	if err != nil {
		return err
	}

	noisy, err := reference.WithNoise(story.ReferenceNumber)
	if err != nil {
		return err
	}
	sealed, err := e.codec.Encode(token.Payload{
		TransactionReference: row.Reference,
		StoryReference:       noisy,
	})
	if err != nil {
		return err
	}
	downloadURL := e.baseURL + "/api/v1/download?token=" + url.QueryEscape(sealed)

	title := storyTitle(story)
	return e.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		return e.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDownloadLinkIssued,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   row.ID,
			Data: payloads.DownloadLinkIssuedEvent{
				TransactionID:        row.ID,
				TransactionReference: row.Reference,
				BuyerEmail:           row.Email,
				StoryTitle:           title,
				DownloadToken:        sealed,
				DownloadURL:          downloadURL,
			},
			Version: 1,
		})
	})
}

// ConsumeDownload redeems a capability token exactly once. The blob is
// fetched before the latch flips, so a storage failure never burns the
// token; losing the latch race closes the stream and reports consumed.
func (e *engine) ConsumeDownload(ctx context.Context, tokenString string) (*DownloadFile, error) {
	payload, err := e.codec.Decode(tokenString)
	if err != nil {
		if e.logg != nil {
			e.logg.Warn(ctx, "rejected download token")
		}
		e.metrics.IncDownload("invalid_token")
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invalid download token")
	}

	storyRef, err := reference.StripNoise(payload.StoryReference)
	if err != nil {
		e.metrics.IncDownload("invalid_token")
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invalid download token")
	}

	story, err := e.storiesRepo.FindByReferenceNumber(ctx, storyRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			e.metrics.IncDownload("story_missing")
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Story not found")
		}
		return nil, err
	}
	row, err := e.txRepo.FindByReference(ctx, payload.TransactionReference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			e.metrics.IncDownload("transaction_missing")
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, err
	}

	if row.StoryID == nil || *row.StoryID != story.ID {
		e.metrics.IncDownload("mismatch")
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invalid download token")
	}
	if row.Status != enums.TransactionStatusSuccess {
		e.metrics.IncDownload("unsettled")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment not settled")
	}
	if row.FileDownloaded {
		e.metrics.IncDownload("consumed")
		return nil, pkgerrors.New(pkgerrors.CodeConsumed, "download already used")
	}

	blob, err := e.blobs.Download(ctx, story.ObjectKey)
	if err != nil {
		e.metrics.IncDownload("blob_failed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching story file")
	}

	won, err := e.txRepo.MarkDownloaded(ctx, row.ID)
	if err != nil {
		_ = blob.Body.Close()
		return nil, err
	}
	if !won {
		_ = blob.Body.Close()
		e.metrics.IncDownload("consumed")
		return nil, pkgerrors.New(pkgerrors.CodeConsumed, "download already used")
	}

	if err := e.recordConsumed(ctx, row, story); err != nil && e.logg != nil {
		e.logg.Error(e.logg.WithTransactionRef(ctx, row.Reference),
			"failed to record download consumption", err)
	}

	e.metrics.IncDownload("success")
	contentType := blob.ContentType
	if contentType == "" && story.FileType != nil {
		contentType = *story.FileType
	}
	return &DownloadFile{
		FileName:      story.FileName,
		ContentType:   contentType,
		ContentLength: blob.ContentLength,
		Body:          blob.Body,
	}, nil
}

func (e *engine) recordConsumed(ctx context.Context, row *models.Transaction, story *models.Story) error {
	return e.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		return e.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDownloadConsumed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   row.ID,
			Data: payloads.DownloadConsumedEvent{
				TransactionID:        row.ID,
				TransactionReference: row.Reference,
				StoryID:              story.ID,
				ConsumedAt:           time.Now().UTC(),
			},
			Version: 1,
		})
	})
}

func settlementState(status payments.SessionStatus) transactions.SettlementState {
	switch status {
	case payments.SessionPaid:
		return transactions.SettlementPaid
	case payments.SessionProcessing:
		return transactions.SettlementProcessing
	case payments.SessionFailed:
		return transactions.SettlementFailed
	default:
		return transactions.SettlementUnknown
	}
}

func storyTitle(story *models.Story) string {
	if story.Title != nil && *story.Title != "" {
		return *story.Title
	}
	return story.FileName
}
