package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
)

// ErrMalformedEvent means the signature was valid but the payload could not be decoded.
var ErrMalformedEvent = errors.New("malformed processor event")

// Stripe event types the reconciler acts on.
const (
	EventPaymentSucceeded      = "payment_intent.succeeded"
	EventPaymentFailed         = "payment_intent.payment_failed"
	EventPaymentRequiresAction = "payment_intent.requires_action"
	EventTransferCreated       = "transfer.created"
	EventTransferFailed        = "transfer.failed"
	EventTransferReversed      = "transfer.reversed"
	EventAccountUpdated        = "account.updated"
	EventPayoutCreated         = "payout.created"
	EventPayoutFailed          = "payout.failed"
)

// WebhookVerifier checks Stripe signatures and parses events.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewWebhookVerifier creates a verifier. A zero tolerance uses Stripe's default.
func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &WebhookVerifier{secret: secret, tolerance: tolerance}
}

// Verify checks the Stripe-Signature header and returns the typed event. A bad signature
// returns domain.ErrSignatureInvalid; an undecodable payload returns ErrMalformedEvent.
func (v *WebhookVerifier) Verify(payload []byte, signatureHeader string) (domain.ProcessorEvent, error) {
	if v.secret == "" {
		return nil, domain.WrapError(domain.CodeSignatureInvalid, "webhook secret is not configured", nil)
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, v.secret, v.tolerance); err != nil {
		return nil, domain.WrapError(domain.CodeSignatureInvalid, domain.ErrSignatureInvalid.Message, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ParseEvent(event)
}

// ParseEvent converts a Stripe event into its typed variant.
func ParseEvent(event stripe.Event) (domain.ProcessorEvent, error) {
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	meta := domain.EventMeta{
		ID:         event.ID,
		Type:       string(event.Type),
		AccountID:  event.Account,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch string(event.Type) {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentRequiresAction:
		var pi stripe.PaymentIntent
		if err := decode(raw, &pi); err != nil {
			return nil, err
		}
		return paymentEvent(meta, &pi), nil

	case EventTransferCreated, EventTransferFailed, EventTransferReversed:
		var t stripe.Transfer
		if err := decode(raw, &t); err != nil {
			return nil, err
		}
		payoutID := metadataUUID(t.Metadata, metadataPayoutID)
		if string(event.Type) == EventTransferCreated {
			return domain.TransferCreatedEvent{EventMeta: meta, TransferID: t.ID, PayoutID: payoutID, Amount: t.Amount}, nil
		}
		reason := "transfer failed"
		if string(event.Type) == EventTransferReversed {
			reason = "transfer reversed"
		}
		return domain.TransferFailedEvent{EventMeta: meta, TransferID: t.ID, PayoutID: payoutID, Reason: reason}, nil

	case EventAccountUpdated:
		var a stripe.Account
		if err := decode(raw, &a); err != nil {
			return nil, err
		}
		return domain.AccountUpdatedEvent{
			EventMeta:          meta,
			ProcessorAccountID: a.ID,
			PayoutsEnabled:     a.PayoutsEnabled,
			ChargesEnabled:     a.ChargesEnabled,
		}, nil

	case EventPayoutCreated, EventPayoutFailed:
		var p stripe.Payout
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if string(event.Type) == EventPayoutCreated {
			return domain.VendorBankPayoutCreatedEvent{EventMeta: meta, ProcessorPayoutID: p.ID, Amount: p.Amount}, nil
		}
		reason := p.FailureMessage
		if reason == "" {
			reason = string(p.FailureCode)
		}
		return domain.VendorBankPayoutFailedEvent{EventMeta: meta, ProcessorPayoutID: p.ID, Reason: reason}, nil

	default:
		return domain.UnrecognizedEvent{EventMeta: meta}, nil
	}
}

func paymentEvent(meta domain.EventMeta, pi *stripe.PaymentIntent) domain.ProcessorEvent {
	paymentID := metadataUUID(pi.Metadata, metadataPaymentID)
	switch meta.Type {
	case EventPaymentSucceeded:
		amount := pi.AmountReceived
		if amount == 0 {
			amount = pi.Amount
		}
		return domain.PaymentSucceededEvent{EventMeta: meta, TransactionID: pi.ID, PaymentID: paymentID, Amount: amount}
	case EventPaymentFailed:
		reason := "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return domain.PaymentFailedEvent{EventMeta: meta, TransactionID: pi.ID, PaymentID: paymentID, Reason: reason}
	default:
		return domain.PaymentRequiresActionEvent{EventMeta: meta, TransactionID: pi.ID, PaymentID: paymentID, ClientSecret: pi.ClientSecret}
	}
}

func decode(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty data object", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func metadataUUID(metadata map[string]string, key string) *uuid.UUID {
	value, ok := metadata[key]
	if !ok {
		return nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil
	}
	return &id
}
