// Package mailer sends transactional email through the SendGrid v3 HTTP API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/unlockit/unlockit-backend/pkg/config"
	"github.com/unlockit/unlockit-backend/pkg/logger"
)

const defaultEndpoint = "https://api.sendgrid.com/v3/mail/send"

// Message is a single outbound email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender is the surface the notifier depends on.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Client posts messages to SendGrid.
type Client struct {
	httpClient *http.Client
	apiKey     string
	from       string
	endpoint   string
	logg       *logger.Logger
}

func NewClient(cfg config.SendgridConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if strings.TrimSpace(cfg.DefaultFrom) == "" {
		return nil, errors.New("sendgrid from address is required")
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     cfg.APIKey,
		from:       cfg.DefaultFrom,
		endpoint:   defaultEndpoint,
		logg:       logg,
	}, nil
}

type sendgridAddress struct {
	Email string `json:"email"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridPersonalization struct {
	To []sendgridAddress `json:"to"`
}

type sendgridRequest struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
}

// Send delivers the message. SendGrid answers 202 on acceptance.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c == nil {
		return errors.New("mailer not initialized")
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("recipient is required")
	}
	if msg.HTMLBody == "" && msg.TextBody == "" {
		return errors.New("message body is required")
	}

	content := []sendgridContent{}
	if msg.TextBody != "" {
		content = append(content, sendgridContent{Type: "text/plain", Value: msg.TextBody})
	}
	if msg.HTMLBody != "" {
		content = append(content, sendgridContent{Type: "text/html", Value: msg.HTMLBody})
	}

	body, err := json.Marshal(sendgridRequest{
		Personalizations: []sendgridPersonalization{{To: []sendgridAddress{{Email: msg.To}}}},
		From:             sendgridAddress{Email: c.from},
		Subject:          msg.Subject,
		Content:          content,
	})
	if err != nil {
		return fmt.Errorf("marshaling mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting mail: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("sendgrid returned %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "recipient", msg.To), "email dispatched")
	}
	return nil
}
