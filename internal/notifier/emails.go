package notifier

import (
	"fmt"
	"html"

	"github.com/unlockit/unlockit-backend/pkg/mailer"
	"github.com/unlockit/unlockit-backend/pkg/outbox/payloads"
)

func downloadLinkEmail(payload payloads.DownloadLinkIssuedEvent) mailer.Message {
	title := payload.StoryTitle
	if title == "" {
		title = "your story"
	}
	escapedTitle := html.EscapeString(title)
	escapedURL := html.EscapeString(payload.DownloadURL)

	htmlBody := fmt.Sprintf(`<p>Thanks for your purchase!</p>
<p>Your copy of <strong>%s</strong> is ready. The link below works exactly once, so save the file somewhere safe.</p>
<p><a href="%s">Download %s</a></p>
<p>Order reference: %s</p>`,
		escapedTitle, escapedURL, escapedTitle, html.EscapeString(payload.TransactionReference))

	textBody := fmt.Sprintf(`Thanks for your purchase!

Your copy of %s is ready. The link below works exactly once, so save the file somewhere safe.

%s

Order reference: %s
`, title, payload.DownloadURL, payload.TransactionReference)

	return mailer.Message{
		To:       payload.BuyerEmail,
		Subject:  fmt.Sprintf("Your download of %s is ready", title),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}
}

func withdrawalRequestedEmail(recipient string, payload payloads.WithdrawalRequestedEvent) mailer.Message {
	amount := payload.Amount.StringFixed(2)
	destination := payload.BankName
	if payload.AccountNumber != "" {
		destination = fmt.Sprintf("%s (%s)", payload.BankName, maskAccountNumber(payload.AccountNumber))
	}

	htmlBody := fmt.Sprintf(`<p>We received your withdrawal request.</p>
<p>Amount: <strong>%s</strong><br>Destination: %s<br>Reference: %s</p>
<p>You will see the payout land once the transfer clears.</p>`,
		html.EscapeString(amount), html.EscapeString(destination), html.EscapeString(payload.TransactionReference))

	textBody := fmt.Sprintf(`We received your withdrawal request.

Amount: %s
Destination: %s
Reference: %s

You will see the payout land once the transfer clears.
`, amount, destination, payload.TransactionReference)

	return mailer.Message{
		To:       recipient,
		Subject:  "Withdrawal request received",
		HTMLBody: htmlBody,
		TextBody: textBody,
	}
}

func notificationEmail(payload payloads.NotificationRequestedEvent) mailer.Message {
	return mailer.Message{
		To:       payload.Recipient,
		Subject:  payload.Subject,
		HTMLBody: fmt.Sprintf("<p>%s</p>", html.EscapeString(payload.Body)),
		TextBody: payload.Body,
	}
}

func maskAccountNumber(value string) string {
	if len(value) <= 4 {
		return value
	}
	return "****" + value[len(value)-4:]
}
