// Package payments defines the narrow payment-provider surface the ledger
// and download engine depend on, plus its Stripe implementation.
package payments

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/unlockit/unlockit-backend/internal/users"
)

// SessionStatus is the provider-neutral settlement state of a checkout
// session.
type SessionStatus string

const (
	SessionPaid       SessionStatus = "paid"
	SessionProcessing SessionStatus = "processing"
	SessionFailed     SessionStatus = "failed"
	SessionUnknown    SessionStatus = "unknown"
)

// CheckoutInput describes a single-story checkout.
type CheckoutInput struct {
	Title                string
	Description          string
	Amount               decimal.Decimal
	Currency             string
	PlatformFee          decimal.Decimal
	BuyerEmail           string
	CorrelationReference string
}

// CheckoutSession is what the buyer gets redirected to.
type CheckoutSession struct {
	SessionID   string
	CheckoutURL string
}

// SessionDetails is the authoritative session state re-fetched from the
// provider during settlement. Raw carries the provider's response body for
// the ledger's meta_data column.
type SessionDetails struct {
	Status               SessionStatus
	AmountReceived       decimal.Decimal
	CorrelationReference string
	ProviderReference    string
	Raw                  json.RawMessage
}

// PayoutInput requests a transfer of a creator's balance to their bank.
type PayoutInput struct {
	PayeeAccountID string
	Amount         decimal.Decimal
	Currency       string
	Reference      string
}

// Gateway is the payment-provider port. Every implementation failure
// surfaces as a dependency error, never a panic.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, input CheckoutInput) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*SessionDetails, error)
	CreatePayeeAccount(ctx context.Context, email string) (string, error)
	CreatePayeeOnboardingLink(ctx context.Context, payeeAccountID string) (string, error)
	CreateBankAccount(ctx context.Context, payeeAccountID string, details users.BankDetails) (string, error)
	IssuePayout(ctx context.Context, input PayoutInput) (string, error)
}
