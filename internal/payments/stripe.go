package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/account"
	"github.com/stripe/stripe-go/v84/accountlink"
	"github.com/stripe/stripe-go/v84/bankaccount"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/payout"

	"github.com/unlockit/unlockit-backend/internal/users"
	"github.com/unlockit/unlockit-backend/pkg/config"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
	pkgstripe "github.com/unlockit/unlockit-backend/pkg/stripe"
)

// StripeGateway implements Gateway on Stripe Checkout, Connect accounts
// and Payouts.
type StripeGateway struct {
	cfg config.StripeConfig
}

// NewStripeGateway builds the gateway. The client is taken to force the
// one-time API-key initialization before any call goes out.
func NewStripeGateway(client *pkgstripe.Client, cfg config.StripeConfig) (*StripeGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" || strings.TrimSpace(cfg.CancelURL) == "" {
		return nil, fmt.Errorf("stripe success and cancel urls required")
	}
	return &StripeGateway{cfg: cfg}, nil
}

// CreateCheckoutSession opens a single-item payment session. The caller's
// correlation reference travels as client_reference_id and comes back
// untouched on the webhook side.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (*CheckoutSession, error) {
	currency := input.Currency
	if currency == "" {
		currency = g.cfg.Currency
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(input.CorrelationReference),
		SuccessURL:        stripe.String(g.cfg.SuccessURL),
		CancelURL:         stripe.String(g.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(toCents(input.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(input.Title),
						Description: stripe.String(input.Description),
					},
				},
			},
		},
	}
	params.Context = ctx
	if input.BuyerEmail != "" {
		params.CustomerEmail = stripe.String(input.BuyerEmail)
	}
	params.AddMetadata("reference", input.CorrelationReference)
	if !input.PlatformFee.IsZero() {
		params.AddMetadata("platform_fee", input.PlatformFee.StringFixed(2))
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, dependencyErr("creating checkout session", err)
	}
	return &CheckoutSession{SessionID: sess.ID, CheckoutURL: sess.URL}, nil
}

// RetrieveSession re-fetches the authoritative session state.
func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*SessionDetails, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := session.Get(sessionID, params)
	if err != nil {
		return nil, dependencyErr("retrieving checkout session", err)
	}

	var raw json.RawMessage
	if sess.LastResponse != nil {
		raw = json.RawMessage(sess.LastResponse.RawJSON)
	}

	return &SessionDetails{
		Status:               mapSessionStatus(sess),
		AmountReceived:       fromCents(sess.AmountTotal),
		CorrelationReference: sess.ClientReferenceID,
		ProviderReference:    sess.ID,
		Raw:                  raw,
	}, nil
}

// CreatePayeeAccount provisions an express connected account for payouts.
func (g *StripeGateway) CreatePayeeAccount(ctx context.Context, email string) (string, error) {
	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(email),
	}
	params.Context = ctx

	acct, err := account.New(params)
	if err != nil {
		return "", dependencyErr("creating payee account", err)
	}
	return acct.ID, nil
}

// CreatePayeeOnboardingLink returns the hosted onboarding URL for the account.
func (g *StripeGateway) CreatePayeeOnboardingLink(ctx context.Context, payeeAccountID string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(payeeAccountID),
		RefreshURL: stripe.String(g.cfg.CancelURL),
		ReturnURL:  stripe.String(g.cfg.SuccessURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := accountlink.New(params)
	if err != nil {
		return "", dependencyErr("creating onboarding link", err)
	}
	return link.URL, nil
}

// CreateBankAccount attaches an external bank account to the payee account.
func (g *StripeGateway) CreateBankAccount(ctx context.Context, payeeAccountID string, details users.BankDetails) (string, error) {
	params := &stripe.BankAccountParams{
		Account:           stripe.String(payeeAccountID),
		Country:           stripe.String("US"),
		Currency:          stripe.String(g.cfg.Currency),
		AccountNumber:     stripe.String(details.AccountNumber),
		AccountHolderName: stripe.String(details.AccountName),
		RoutingNumber:     stripe.String(details.BankCode),
	}
	params.Context = ctx

	ba, err := bankaccount.New(params)
	if err != nil {
		return "", dependencyErr("attaching bank account", err)
	}
	return ba.ID, nil
}

// IssuePayout requests a payout of the payee's balance to their bank.
func (g *StripeGateway) IssuePayout(ctx context.Context, input PayoutInput) (string, error) {
	currency := input.Currency
	if currency == "" {
		currency = g.cfg.Currency
	}

	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(toCents(input.Amount)),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	params.SetStripeAccount(input.PayeeAccountID)
	params.AddMetadata("reference", input.Reference)

	p, err := payout.New(params)
	if err != nil {
		return "", dependencyErr("issuing payout", err)
	}
	return p.ID, nil
}

func mapSessionStatus(sess *stripe.CheckoutSession) SessionStatus {
	switch sess.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return SessionPaid
	}
	switch sess.Status {
	case stripe.CheckoutSessionStatusOpen:
		return SessionProcessing
	case stripe.CheckoutSessionStatusExpired:
		return SessionFailed
	}
	return SessionUnknown
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Shift(-2)
}

func dependencyErr(op string, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s failed", op))
}
