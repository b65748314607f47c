package transactions

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/unlockit/unlockit-backend/pkg/db/models"
	"github.com/unlockit/unlockit-backend/pkg/enums"
)

// TransactionDTO is the owner-facing transport shape of a ledger row.
type TransactionDTO struct {
	ID                 uuid.UUID               `json:"id"`
	StoryID            *uuid.UUID              `json:"story_id,omitempty"`
	Email              string                  `json:"email"`
	PayableAmount      decimal.Decimal         `json:"payable_amount"`
	WithdrawableAmount decimal.Decimal         `json:"withdrawable_amount"`
	Kind               enums.TransactionKind   `json:"kind"`
	Status             enums.TransactionStatus `json:"status"`
	Reference          string                  `json:"reference"`
	FileDownloaded     bool                    `json:"file_downloaded"`
	CreatedAt          time.Time               `json:"created_at"`
	UpdatedAt          time.Time               `json:"updated_at"`
}

// ListInput holds ledger listing filters.
type ListInput struct {
	Kind   *enums.TransactionKind
	Limit  int
	Cursor string
}

// TransactionListResult is one page of the owner's ledger.
type TransactionListResult struct {
	Items      []TransactionDTO `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// SettlementState is the provider-neutral session outcome fed into
// reconciliation.
type SettlementState string

const (
	SettlementPaid       SettlementState = "paid"
	SettlementProcessing SettlementState = "processing"
	SettlementFailed     SettlementState = "failed"
	SettlementUnknown    SettlementState = "unknown"
)

// ReconcileInput carries the authoritative provider state into settlement.
type ReconcileInput struct {
	Reference         string
	ProviderReference string
	State             SettlementState
	AmountReceived    decimal.Decimal
	RawPayload        json.RawMessage
}

// ReconcileOutcome tells the caller what the settlement attempt did.
type ReconcileOutcome string

const (
	ReconcileSettled        ReconcileOutcome = "settled"
	ReconcileAlreadySettled ReconcileOutcome = "already_settled"
	ReconcileNotFound       ReconcileOutcome = "not_found"
	ReconcilePending        ReconcileOutcome = "pending"
	ReconcileFailed         ReconcileOutcome = "failed"
	ReconcileUnrecognized   ReconcileOutcome = "unrecognized"
)

// ReconcileResult pairs the outcome with the post-reconcile row, when one
// exists.
type ReconcileResult struct {
	Outcome     ReconcileOutcome
	Transaction *models.Transaction
}

func FromModel(t *models.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                 t.ID,
		StoryID:            t.StoryID,
		Email:              t.Email,
		PayableAmount:      t.PayableAmount,
		WithdrawableAmount: t.WithdrawableAmount,
		Kind:               t.Kind,
		Status:             t.Status,
		Reference:          t.Reference,
		FileDownloaded:     t.FileDownloaded,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}
