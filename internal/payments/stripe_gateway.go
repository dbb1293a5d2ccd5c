package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/Luneo19/luneo-platform-sub030/internal/platform/textutil"
)

const payoutMetadataKey = "payoutId"

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeTransferAPI interface {
	New(params *stripe.TransferParams) (*stripe.Transfer, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	// Transfers overrides the Stripe transfer client, mainly for tests.
	Transfers stripeTransferAPI
}

// StripeGateway disburses payouts as Stripe Connect transfers and verifies
// Stripe webhook signatures.
type StripeGateway struct {
	transfers     stripeTransferAPI
	webhookSecret string
	logger        StripeLogger
}

var (
	_ Gateway         = (*StripeGateway)(nil)
	_ WebhookVerifier = (*StripeGateway)(nil)
)

// NewStripeGateway constructs a Stripe-backed Gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	transfers := cfg.Transfers
	if transfers == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		transfers = client.New(apiKey, cfg.Backends).Transfers
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		transfers:     transfers,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		logger:        logger,
	}, nil
}

// CreateTransfer sends AmountCents to the destination connected account.
func (g *StripeGateway) CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	if g == nil {
		return Transfer{}, errors.New("stripe: gateway is nil")
	}
	destination := strings.TrimSpace(req.Destination)
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	switch {
	case destination == "":
		return Transfer{}, fmt.Errorf("%w: destination account is required", ErrInvalidTransfer)
	case currency == "":
		return Transfer{}, fmt.Errorf("%w: currency is required", ErrInvalidTransfer)
	case req.AmountCents <= 0:
		return Transfer{}, fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(currency),
		Destination: stripe.String(destination),
	}
	params.Context = ctx
	if payoutID := strings.TrimSpace(req.PayoutID); payoutID != "" {
		params.TransferGroup = stripe.String(payoutID)
		params.AddMetadata(payoutMetadataKey, payoutID)
	}
	for k, v := range textutil.NormalizeMetadata(req.Metadata) {
		params.AddMetadata(k, v)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	transfer, err := g.transfers.New(params)
	if err != nil {
		return Transfer{}, fmt.Errorf("stripe: create transfer: %w", err)
	}

	result := stripeTransfer(transfer)
	g.logger(ctx, "payments.stripe.transfer.created", map[string]any{
		"transferId":  result.ID,
		"payoutId":    result.PayoutID,
		"amountCents": result.AmountCents,
		"currency":    result.Currency,
	})
	return result, nil
}

// ParseTransferEvent verifies the Stripe-Signature header and decodes transfer events.
func (g *StripeGateway) ParseTransferEvent(payload []byte, signature string) (TransferEvent, error) {
	if g == nil || g.webhookSecret == "" {
		return TransferEvent{}, errors.New("stripe: webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return TransferEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	switch eventType {
	case EventTransferCreated, EventTransferUpdated, EventTransferReversed:
	default:
		return TransferEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return TransferEvent{}, fmt.Errorf("stripe: event %s has no data", event.ID)
	}

	var transfer stripe.Transfer
	if err := json.Unmarshal(event.Data.Raw, &transfer); err != nil {
		return TransferEvent{}, fmt.Errorf("stripe: decode transfer: %w", err)
	}
	return TransferEvent{
		ID:       event.ID,
		Type:     eventType,
		Transfer: stripeTransfer(&transfer),
	}, nil
}

func stripeTransfer(t *stripe.Transfer) Transfer {
	if t == nil {
		return Transfer{}
	}
	out := Transfer{
		ID:            t.ID,
		Currency:      string(t.Currency),
		AmountCents:   t.Amount,
		ReversedCents: t.AmountReversed,
		Reversed:      t.Reversed,
		PayoutID:      t.Metadata[payoutMetadataKey],
	}
	if t.Destination != nil {
		out.Destination = t.Destination.ID
	}
	if t.Created > 0 {
		out.CreatedAt = time.Unix(t.Created, 0).UTC()
	}
	return out
}
