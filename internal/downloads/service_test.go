package downloads

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/unlockit/unlockit-backend/internal/payments"
	"github.com/unlockit/unlockit-backend/internal/stories"
	"github.com/unlockit/unlockit-backend/internal/transactions"
	"github.com/unlockit/unlockit-backend/internal/users"
	"github.com/unlockit/unlockit-backend/pkg/config"
	dbpkg "github.com/unlockit/unlockit-backend/pkg/db"
	"github.com/unlockit/unlockit-backend/pkg/db/models"
	"github.com/unlockit/unlockit-backend/pkg/enums"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
	"github.com/unlockit/unlockit-backend/pkg/metrics"
	"github.com/unlockit/unlockit-backend/pkg/outbox"
	"github.com/unlockit/unlockit-backend/pkg/outbox/payloads"
	"github.com/unlockit/unlockit-backend/pkg/reference"
	"github.com/unlockit/unlockit-backend/pkg/storage/gcs"
	"github.com/unlockit/unlockit-backend/pkg/token"
)

func setupDownloadsTestDB(t *testing.T) *gorm.DB {
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

func downloadsUniqueCheck(err error, _ string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type stubGateway struct {
	checkoutInputs []payments.CheckoutInput
	session        *payments.SessionDetails
	sessionErr     error
	retrieved      []string
}

func (g *stubGateway) CreateCheckoutSession(ctx context.Context, input payments.CheckoutInput) (*payments.CheckoutSession, error) {
	g.checkoutInputs = append(g.checkoutInputs, input)
	return &payments.CheckoutSession{SessionID: "cs_test", CheckoutURL: "https://checkout.example.com/s/cs_test"}, nil
}

func (g *stubGateway) RetrieveSession(ctx context.Context, sessionID string) (*payments.SessionDetails, error) {
	g.retrieved = append(g.retrieved, sessionID)
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	return g.session, nil
}

func (g *stubGateway) CreatePayeeAccount(ctx context.Context, email string) (string, error) {
	return "", errors.New("not implemented")
}

func (g *stubGateway) CreatePayeeOnboardingLink(ctx context.Context, payeeAccountID string) (string, error) {
	return "", errors.New("not implemented")
}

func (g *stubGateway) CreateBankAccount(ctx context.Context, payeeAccountID string, details users.BankDetails) (string, error) {
	return "", errors.New("not implemented")
}

func (g *stubGateway) IssuePayout(ctx context.Context, input payments.PayoutInput) (string, error) {
	return "", errors.New("not implemented")
}

type stubSigner struct{}

func (s *stubSigner) SignedURL(method, object string, expiry time.Duration, contentType string) (string, error) {
	return "https://signed.example.com/" + object, nil
}

func (s *stubSigner) Delete(ctx context.Context, object string) error { return nil }

type stubBlobReader struct {
	content string
	err     error
	calls   int
}

func (b *stubBlobReader) Download(ctx context.Context, object string) (*gcs.Object, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return &gcs.Object{
		Body:          io.NopCloser(strings.NewReader(b.content)),
		ContentType:   "application/pdf",
		ContentLength: int64(len(b.content)),
	}, nil
}

type engineHarness struct {
	engine  Engine
	db      *gorm.DB
	gateway *stubGateway
	blobs   *stubBlobReader
	codec   *token.Codec
	txRepo  *transactions.Repository
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	db := setupDownloadsTestDB(t)
	gateway := &stubGateway{}
	blobs := &stubBlobReader{content: "story file body"}

	downloadCfg := config.DownloadConfig{
		PageURL:  "https://unlockit.example/download",
		ErrorURL: "https://unlockit.example/download/error",
	}
	storiesRepo := stories.NewRepository(db)
	storySvc, err := stories.NewService(storiesRepo, &stubSigner{}, downloadCfg, config.GCSConfig{}, nil, downloadsUniqueCheck)
	require.NoError(t, err)

	txRepo := transactions.NewRepository(db)
	events := outbox.NewService(outbox.NewRepository(db), nil)
	ledger, err := transactions.NewService(
		dbpkg.NewWithConn(db), txRepo, users.NewRepository(db), gateway, events, nil, downloadsUniqueCheck)
	require.NoError(t, err)

	codec, err := token.NewCodec("downloads-engine-test-secret")
	require.NoError(t, err)

	eng, err := NewEngine(
		dbpkg.NewWithConn(db),
		storySvc,
		storiesRepo,
		ledger,
		txRepo,
		gateway,
		codec,
		blobs,
		events,
		metrics.NewSettlementMetrics(nil),
		nil,
		Config{
			BaseURL:        "https://api.unlockit.example",
			PlatformFeePct: 10,
			Download:       downloadCfg,
		},
	)
	require.NoError(t, err)

	return &engineHarness{engine: eng, db: db, gateway: gateway, blobs: blobs, codec: codec, txRepo: txRepo}
}

func seedCreator(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	repo := users.NewRepository(db)
	user, err := repo.Create(context.Background(), users.CreateUserDTO{
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	return user
}

func seedDownloadStory(t *testing.T, db *gorm.DB, ownerID uuid.UUID, usageLimit int) *models.Story {
	t.Helper()

	title := "Night Shift"
	fileType := "application/pdf"
	story := &models.Story{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Title:           &title,
		Price:           decimal.RequireFromString("12.00"),
		ObjectKey:       "stories/" + ownerID.String() + "/night-shift.pdf",
		FileName:        "night-shift.pdf",
		FileType:        &fileType,
		UsageLimit:      usageLimit,
		ReferenceNumber: "RN-" + strings.ToUpper(uuid.NewString()[:8]),
	}
	require.NoError(t, db.Create(story).Error)
	return story
}

func composedRef(story *models.Story) string {
	return "n0ise1-" + story.ReferenceNumber
}

func seedSettledPayment(t *testing.T, db *gorm.DB, story *models.Story, email string) *models.Transaction {
	t.Helper()

	ref, err := reference.Transaction()
	require.NoError(t, err)
	row := &models.Transaction{
		ID:                 uuid.New(),
		OwnerID:            story.OwnerID,
		StoryID:            &story.ID,
		Email:              email,
		PayableAmount:      story.Price,
		WithdrawableAmount: story.Price,
		Kind:               enums.TransactionKindPayment,
		Status:             enums.TransactionStatusSuccess,
		Reference:          ref,
	}
	require.NoError(t, db.Create(row).Error)
	return row
}

func mintToken(t *testing.T, codec *token.Codec, txRef string, story *models.Story) string {
	t.Helper()

	noisy, err := reference.WithNoise(story.ReferenceNumber)
	require.NoError(t, err)
	sealed, err := codec.Encode(token.Payload{TransactionReference: txRef, StoryReference: noisy})
	require.NoError(t, err)
	return sealed
}

func TestRequestPaymentLinkOpensPendingTransaction(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	creator := seedCreator(t, h.db)
	story := seedDownloadStory(t, h.db, creator.ID, 5)

	link, err := h.engine.RequestPaymentLink(ctx, PaymentLinkInput{
		StoryReference: composedRef(story),
		Email:          "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example.com/s/cs_test", link.CheckoutURL)

	require.Len(t, h.gateway.checkoutInputs, 1)
	input := h.gateway.checkoutInputs[0]
	assert.Equal(t, "Night Shift", input.Title)
	assert.True(t, input.Amount.Equal(decimal.RequireFromString("12.00")))
	assert.True(t, input.PlatformFee.Equal(decimal.RequireFromString("1.20")))
	assert.Len(t, input.CorrelationReference, 14)

	row, err := h.txRepo.FindByReference(ctx, input.CorrelationReference)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPending, row.Status)
	assert.Equal(t, "buyer@example.com", row.Email)
}

func TestRequestPaymentLinkRejectsExhaustedStories(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	creator := seedCreator(t, h.db)
	story := seedDownloadStory(t, h.db, creator.ID, 1)
	seedSettledPayment(t, h.db, story, "earlier@example.com")

	_, err := h.engine.RequestPaymentLink(ctx, PaymentLinkInput{
		StoryReference: composedRef(story),
		Email:          "late@example.com",
	})
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
	assert.Empty(t, h.gateway.checkoutInputs)
}

func TestStoryDetailsReturnsPublicCard(t *testing.T) {
	h := newEngineHarness(t)

	creator := seedCreator(t, h.db)
	story := seedDownloadStory(t, h.db, creator.ID, 5)

	card, err := h.engine.StoryDetails(context.Background(), composedRef(story))
	require.NoError(t, err)
	assert.Equal(t, "Night Shift", card.Title)
	assert.Equal(t, "night-shift.pdf", card.FileName)
	assert.True(t, card.Price.Equal(story.Price))
	assert.Equal(t, composedRef(story), card.StoryReference)
}

func TestHandleSettlementIgnoresOtherObjects(t *testing.T) {
	h := newEngineHarness(t)
	h.gateway.sessionErr = errors.New("should not be called")

	err := h.engine.HandleSettlement(context.Background(), SettlementEvent{
		EventType:  "payment_intent.succeeded",
		ObjectType: "payment_intent",
		SessionID:  "pi_1",
	})
	require.NoError(t, err)
	assert.Empty(t, h.gateway.retrieved)
}

func TestHandleSettlementIssuesDownloadLinkOnce(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	creator := seedCreator(t, h.db)
	story := seedDownloadStory(t, h.db, creator.ID, 5)

	_, err := h.engine.RequestPaymentLink(ctx, PaymentLinkInput{
		StoryReference: composedRef(story),
		Email:          "buyer@example.com",
	})
	require.NoError(t, err)
	txRef := h.gateway.checkoutInputs[0].CorrelationReference

	h.gateway.session = &payments.SessionDetails{
		Status:               payments.SessionPaid,
		AmountReceived:       decimal.RequireFromString("12.00"),
		CorrelationReference: txRef,
		ProviderReference:    "pi_settled",
		Raw:                  json.RawMessage(`{"id":"cs_test"}`),
	}
	event := SettlementEvent{
		EventType:  "checkout.session.completed",
		ObjectType: "checkout.session",
		SessionID:  "cs_test",
	}
	require.NoError(t, h.engine.HandleSettlement(ctx, event))

	row, err := h.txRepo.FindByReference(ctx, txRef)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusSuccess, row.Status)

	owner, err := users.NewRepository(h.db).FindByID(ctx, creator.ID)
	require.NoError(t, err)
	assert.True(t, owner.WalletBalance.Equal(decimal.RequireFromString("12.00")))

	var events []models.OutboxEvent
	require.NoError(t, h.db.
		Where("event_type = ? AND aggregate_id = ?", enums.EventDownloadLinkIssued, row.ID).
		Find(&events).Error)
	require.Len(t, events, 1)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(events[0].Payload, &envelope))
	var issued payloads.DownloadLinkIssuedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &issued))
	assert.Equal(t, "buyer@example.com", issued.BuyerEmail)
	assert.NotEmpty(t, issued.DownloadToken)
	assert.Contains(t, issued.DownloadURL, "https://api.unlockit.example/api/v1/download?token=")

	payload, err := h.codec.Decode(issued.DownloadToken)
	require.NoError(t, err)
	assert.Equal(t, txRef, payload.TransactionReference)
	stripped, err := reference.StripNoise(payload.StoryReference)
	require.NoError(t, err)
	assert.Equal(t, story.ReferenceNumber, stripped)

	// Redelivery settles nothing twice: no extra credit, no second email.
	require.NoError(t, h.engine.HandleSettlement(ctx, event))

	owner, err = users.NewRepository(h.db).FindByID(ctx, creator.ID)
	require.NoError(t, err)
	assert.True(t, owner.WalletBalance.Equal(decimal.RequireFromString("12.00")))

	var count int64
	require.NoError(t, h.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventDownloadLinkIssued, row.ID).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConsumeDownloadIsOneShot(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	creator := seedCreator(t, h.db)
	story := seedDownloadStory(t, h.db, creator.ID, 5)
	row := seedSettledPayment(t, h.db, story, "buyer@example.com")
	sealed := mintToken(t, h.codec, row.Reference, story)

	file, err := h.engine.ConsumeDownload(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, "night-shift.pdf", file.FileName)
	assert.Equal(t, "application/pdf", file.ContentType)
	body, err := io.ReadAll(file.Body)
	require.NoError(t, err)
	require.NoError(t, file.Body.Close())
	assert.Equal(t, "story file body", string(body))

	reloaded, err := h.txRepo.FindByReference(ctx, row.Reference)
	require.NoError(t, err)
	assert.True(t, reloaded.FileDownloaded)

	var count int64
	require.NoError(t, h.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventDownloadConsumed, row.ID).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)

	_, err = h.engine.ConsumeDownload(ctx, sealed)
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeConsumed, appErr.Code())
}

func TestConsumeDownloadRejectsGarbageTokens(t *testing.T) {
	h := newEngineHarness(t)

	_, err := h.engine.ConsumeDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeNotFound, appErr.Code())
}

func TestConsumeDownloadRequiresSettledPayment(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	creator := seedCreator(t, h.db)
	story := seedDownloadStory(t, h.db, creator.ID, 5)
	row := seedSettledPayment(t, h.db, story, "buyer@example.com")
	require.NoError(t, h.db.Model(&models.Transaction{}).
		Where("id = ?", row.ID).
		Update("status", enums.TransactionStatusPending).Error)

	_, err := h.engine.ConsumeDownload(ctx, mintToken(t, h.codec, row.Reference, story))
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}

func TestConsumeDownloadKeepsTokenOnBlobFailure(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	creator := seedCreator(t, h.db)
	story := seedDownloadStory(t, h.db, creator.ID, 5)
	row := seedSettledPayment(t, h.db, story, "buyer@example.com")
	sealed := mintToken(t, h.codec, row.Reference, story)

	h.blobs.err = errors.New("bucket unavailable")
	_, err := h.engine.ConsumeDownload(ctx, sealed)
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeDependency, appErr.Code())

	reloaded, err := h.txRepo.FindByReference(ctx, row.Reference)
	require.NoError(t, err)
	assert.False(t, reloaded.FileDownloaded)

	h.blobs.err = nil
	file, err := h.engine.ConsumeDownload(ctx, sealed)
	require.NoError(t, err)
	require.NoError(t, file.Body.Close())
}

func TestConsumeDownloadRejectsMismatchedStory(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	creator := seedCreator(t, h.db)
	story := seedDownloadStory(t, h.db, creator.ID, 5)
	other := seedDownloadStory(t, h.db, creator.ID, 5)
	row := seedSettledPayment(t, h.db, other, "buyer@example.com")

	_, err := h.engine.ConsumeDownload(ctx, mintToken(t, h.codec, row.Reference, story))
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeNotFound, appErr.Code())
}
