package payments

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidTransfer is returned when a transfer request is incomplete.
	ErrInvalidTransfer = errors.New("payments: invalid transfer request")
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrUnsupportedEvent is returned for webhook events the gateway does not handle.
	ErrUnsupportedEvent = errors.New("payments: unsupported webhook event")
)

// Transfer event types delivered by the payout webhook.
const (
	EventTransferCreated  = "transfer.created"
	EventTransferUpdated  = "transfer.updated"
	EventTransferReversed = "transfer.reversed"
)

// TransferRequest moves funds from the platform balance to a partner's connected account.
type TransferRequest struct {
	PayoutID       string
	Destination    string
	Currency       string
	AmountCents    int64
	IdempotencyKey string
	Metadata       map[string]string
}

// Transfer is the gateway's view of a payout transfer.
type Transfer struct {
	ID            string
	PayoutID      string
	Destination   string
	Currency      string
	AmountCents   int64
	ReversedCents int64
	Reversed      bool
	CreatedAt     time.Time
}

// TransferEvent is a verified webhook notification about a transfer.
type TransferEvent struct {
	ID       string
	Type     string
	Transfer Transfer
}

// Gateway creates payout transfers.
type Gateway interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error)
}

// WebhookVerifier authenticates and decodes webhook deliveries.
type WebhookVerifier interface {
	ParseTransferEvent(payload []byte, signature string) (TransferEvent, error)
}
