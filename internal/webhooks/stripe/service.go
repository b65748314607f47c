// Package stripewebhook turns verified Stripe events into settlement
// triggers. Signature verification and replay protection happen at the
// HTTP controller; this layer only translates and dispatches.
package stripewebhook

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	"github.com/unlockit/unlockit-backend/internal/downloads"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
)

type settlementHandler interface {
	HandleSettlement(ctx context.Context, event downloads.SettlementEvent) error
}

type Service struct {
	engine settlementHandler
}

func NewService(engine settlementHandler) (*Service, error) {
	if engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "download engine required")
	}
	return &Service{engine: engine}, nil
}

// HandleEvent forwards the event's object identity to the settlement
// engine. The engine ignores anything that is not a checkout session and
// re-fetches session state from Stripe, so the webhook body is only ever
// used as a trigger.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	return s.engine.HandleSettlement(ctx, downloads.SettlementEvent{
		EventType:  string(event.Type),
		ObjectType: event.GetObjectValue("object"),
		SessionID:  event.GetObjectValue("id"),
	})
}
