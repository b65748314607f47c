// Package payloads defines the typed data carried inside outbox envelopes.
package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentSettledEvent is emitted when a checkout session settles and the
// creator's wallet is credited.
type PaymentSettledEvent struct {
	TransactionID        uuid.UUID       `json:"transaction_id"`
	TransactionReference string          `json:"transaction_reference"`
	StoryID              uuid.UUID       `json:"story_id"`
	StoryReference       string          `json:"story_reference"`
	OwnerID              uuid.UUID       `json:"owner_id"`
	BuyerEmail           string          `json:"buyer_email"`
	Amount               decimal.Decimal `json:"amount"`
	SettledAt            time.Time       `json:"settled_at"`
}

// PaymentFailedEvent is emitted when a checkout session resolves unpaid.
type PaymentFailedEvent struct {
	TransactionID        uuid.UUID `json:"transaction_id"`
	TransactionReference string    `json:"transaction_reference"`
	BuyerEmail           string    `json:"buyer_email"`
	Reason               string    `json:"reason,omitempty"`
}

// DownloadLinkIssuedEvent carries the sealed token destined for the buyer's
// inbox. The token is already encrypted; the notifier only formats mail.
type DownloadLinkIssuedEvent struct {
	TransactionID        uuid.UUID `json:"transaction_id"`
	TransactionReference string    `json:"transaction_reference"`
	BuyerEmail           string    `json:"buyer_email"`
	StoryTitle           string    `json:"story_title,omitempty"`
	DownloadToken        string    `json:"download_token"`
	DownloadURL          string    `json:"download_url"`
}

// DownloadConsumedEvent records a successful one-shot redemption.
type DownloadConsumedEvent struct {
	TransactionID        uuid.UUID `json:"transaction_id"`
	TransactionReference string    `json:"transaction_reference"`
	StoryID              uuid.UUID `json:"story_id"`
	ConsumedAt           time.Time `json:"consumed_at"`
}

// WithdrawalRequestedEvent is emitted when a creator opens a payout.
type WithdrawalRequestedEvent struct {
	TransactionID        uuid.UUID       `json:"transaction_id"`
	TransactionReference string          `json:"transaction_reference"`
	OwnerID              uuid.UUID       `json:"owner_id"`
	Amount               decimal.Decimal `json:"amount"`
	BankName             string          `json:"bank_name,omitempty"`
	AccountNumber        string          `json:"account_number,omitempty"`
}

// NotificationRequestedEvent asks the notifier to send an arbitrary email.
type NotificationRequestedEvent struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}
