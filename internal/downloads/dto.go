package downloads

import (
	"io"

	"github.com/shopspring/decimal"
)

// PaymentLinkInput is the public payment-link request.
type PaymentLinkInput struct {
	StoryReference string
	Email          string
}

// PaymentLink is what the share page redirects the buyer to.
type PaymentLink struct {
	CheckoutURL string `json:"checkout_url"`
}

// StoryCard is the public story summary shown on the share page.
type StoryCard struct {
	Title          *string         `json:"title,omitempty"`
	Price          decimal.Decimal `json:"price"`
	FileName       string          `json:"file_name"`
	FileType       *string         `json:"file_type,omitempty"`
	StoryReference string          `json:"story_reference"`
}

// SettlementEvent is the decoded webhook trigger. Only checkout.session
// objects reach reconciliation; the session is re-fetched from the
// provider, the webhook body is never trusted for amounts.
type SettlementEvent struct {
	EventType  string
	ObjectType string
	SessionID  string
}

// DownloadFile is the streamed story payload. Body must be closed by the
// caller.
type DownloadFile struct {
	FileName      string
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}
