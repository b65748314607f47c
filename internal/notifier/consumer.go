// Package notifier consumes domain events and sends the corresponding
// transactional email. It is the only component that talks to the mail
// provider.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/unlockit/unlockit-backend/pkg/db/models"
	"github.com/unlockit/unlockit-backend/pkg/enums"
	"github.com/unlockit/unlockit-backend/pkg/logger"
	"github.com/unlockit/unlockit-backend/pkg/mailer"
	"github.com/unlockit/unlockit-backend/pkg/outbox"
	"github.com/unlockit/unlockit-backend/pkg/outbox/idempotency"
	"github.com/unlockit/unlockit-backend/pkg/outbox/payloads"
)

const (
	consumerName = "download-notifier"

	maxSendAttempts    = 3
	initialSendBackoff = 250 * time.Millisecond
)

type usersReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Consumer watches domain events and mails buyers and creators.
type Consumer struct {
	sender       mailer.Sender
	users        usersReader
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds the notifier consumer.
func NewConsumer(sender mailer.Sender, users usersReader, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if sender == nil {
		return nil, fmt.Errorf("mail sender required")
	}
	if users == nil {
		return nil, fmt.Errorf("users reader required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		sender:       sender,
		users:        users,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if !wantsEmail(enums.OutboxEventType(eventType)) {
		c.logg.Info(logCtx, "skipping event without email routing")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, consumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	message, err := c.buildMessage(ctx, enums.OutboxEventType(eventType), envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to build email", err)
		_ = c.idempotency.Delete(ctx, consumerName, eventID)
		return processResult{nack: true}
	}
	if message == nil {
		return processResult{ack: true}
	}

	if err := c.send(ctx, *message); err != nil {
		c.logg.Error(logCtx, "failed to send email", err)
		_ = c.idempotency.Delete(ctx, consumerName, eventID)
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "notification email sent")
	return processResult{ack: true}
}

func (c *Consumer) buildMessage(ctx context.Context, eventType enums.OutboxEventType, data json.RawMessage) (*mailer.Message, error) {
	switch eventType {
	case enums.EventDownloadLinkIssued:
		var payload payloads.DownloadLinkIssuedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parsing download link payload: %w", err)
		}
		if payload.BuyerEmail == "" || payload.DownloadURL == "" {
			return nil, fmt.Errorf("download link payload missing recipient or url")
		}
		message := downloadLinkEmail(payload)
		return &message, nil
	case enums.EventWithdrawalRequested:
		var payload payloads.WithdrawalRequestedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parsing withdrawal payload: %w", err)
		}
		owner, err := c.users.FindByID(ctx, payload.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("loading withdrawal owner: %w", err)
		}
		message := withdrawalRequestedEmail(owner.Email, payload)
		return &message, nil
	case enums.EventNotificationRequested:
		var payload payloads.NotificationRequestedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parsing notification payload: %w", err)
		}
		if payload.Recipient == "" {
			return nil, fmt.Errorf("notification payload missing recipient")
		}
		message := notificationEmail(payload)
		return &message, nil
	default:
		return nil, nil
	}
}

// send retries transient provider failures with exponential backoff before
// giving the message back to the subscription for redelivery.
func (c *Consumer) send(ctx context.Context, message mailer.Message) error {
	backoff := retry.WithMaxRetries(maxSendAttempts, retry.NewExponential(initialSendBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.sender.Send(ctx, message); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func wantsEmail(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventDownloadLinkIssued, enums.EventWithdrawalRequested, enums.EventNotificationRequested:
		return true
	default:
		return false
	}
}
