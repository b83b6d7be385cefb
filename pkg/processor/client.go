/**
 * @description
 * This package provides the Stripe client used to collect payments, issue refunds and move
 * vendor earnings to connected accounts.
 *
 * @notes
 * - Every call is bounded by the configured timeout. A timeout surfaces as
 *   domain.ErrProcessorTimeout; the caller retries with the same idempotency key.
 * - Stripe's own network retries are disabled so the timeout bound is exact.
 */
package processor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"go.uber.org/zap"
)

const (
	metadataPaymentID = "payment_id"
	metadataBookingID = "booking_id"
	metadataPayoutID  = "payout_id"
	metadataVendorID  = "vendor_id"
)

// Client is a Stripe API client.
type Client struct {
	api     *client.API
	timeout time.Duration
	logger  *zap.Logger
}

// Options configures the Stripe client. BaseURL overrides the API endpoint for tests.
type Options struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// NewClient creates a new Stripe client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: opts.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &zapLeveledLogger{logger: logger},
	}
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.URL = stripe.String(base)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)

	return &Client{
		api:     client.New(opts.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
		timeout: opts.Timeout,
		logger:  logger.With(zap.String("component", "stripe_client")),
	}
}

func (c *Client) params(ctx context.Context, idempotencyKey string) (stripe.Params, context.CancelFunc) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	p := stripe.Params{Context: callCtx}
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
	return p, cancel
}

// CreatePaymentIntent creates a payment intent tagged with the payment and booking ids.
func (c *Client) CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntentResult, error) {
	base, cancel := c.params(ctx, req.IdempotencyKey)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Params:        base,
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		TransferGroup: stripe.String("booking_" + req.BookingID.String()),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata(metadataPaymentID, req.PaymentID.String())
	params.AddMetadata(metadataBookingID, req.BookingID.String())

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return domain.PaymentIntentResult{}, c.classify("create payment intent", err)
	}
	return intentResult(pi), nil
}

// GetPaymentIntent reads an intent's current status.
func (c *Client) GetPaymentIntent(ctx context.Context, transactionID string) (domain.PaymentIntentResult, error) {
	base, cancel := c.params(ctx, "")
	defer cancel()

	pi, err := c.api.PaymentIntents.Get(transactionID, &stripe.PaymentIntentParams{Params: base})
	if err != nil {
		return domain.PaymentIntentResult{}, c.classify("get payment intent", err)
	}
	return intentResult(pi), nil
}

// CancelPaymentIntent cancels an intent that was never completed.
func (c *Client) CancelPaymentIntent(ctx context.Context, transactionID string) error {
	base, cancel := c.params(ctx, "cancel-"+transactionID)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{
		Params:             base,
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	if _, err := c.api.PaymentIntents.Cancel(transactionID, params); err != nil {
		return c.classify("cancel payment intent", err)
	}
	return nil
}

// Refund refunds part or all of a captured payment intent.
func (c *Client) Refund(ctx context.Context, req domain.RefundInstruction) (domain.RefundResult, error) {
	base, cancel := c.params(ctx, req.IdempotencyKey)
	defer cancel()

	params := &stripe.RefundParams{
		Params:        base,
		PaymentIntent: stripe.String(req.TransactionID),
		Amount:        stripe.Int64(req.Amount),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	r, err := c.api.Refunds.New(params)
	if err != nil {
		return domain.RefundResult{}, c.classify("create refund", err)
	}
	return domain.RefundResult{RefundID: r.ID, Status: string(r.Status)}, nil
}

// CreateTransfer moves funds from the platform balance to a vendor's connected account.
func (c *Client) CreateTransfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	base, cancel := c.params(ctx, req.IdempotencyKey)
	defer cancel()

	params := &stripe.TransferParams{
		Params:      base,
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.DestinationAccount),
	}
	params.AddMetadata(metadataPayoutID, req.PayoutID.String())
	params.AddMetadata(metadataVendorID, req.VendorID.String())

	t, err := c.api.Transfers.New(params)
	if err != nil {
		return domain.TransferResult{}, c.classify("create transfer", err)
	}
	return domain.TransferResult{TransferID: t.ID}, nil
}

func intentResult(pi *stripe.PaymentIntent) domain.PaymentIntentResult {
	result := domain.PaymentIntentResult{
		TransactionID: pi.ID,
		ClientSecret:  pi.ClientSecret,
		Status:        domain.IntentStatus(pi.Status),
	}
	if pi.LastPaymentError != nil {
		result.FailureReason = pi.LastPaymentError.Msg
	}
	if pi.Status == stripe.PaymentIntentStatusCanceled && result.FailureReason == "" && pi.CancellationReason != "" {
		result.FailureReason = "canceled: " + string(pi.CancellationReason)
	}
	return result
}

// classify maps transport timeouts to ErrProcessorTimeout and Stripe API errors to
// PROCESSOR_ERROR carrying Stripe's message.
func (c *Client) classify(op string, err error) error {
	if isTimeout(err) {
		c.logger.Warn("stripe call timed out", zap.String("operation", op), zap.Error(err))
		return domain.WrapError(domain.CodeProcessorTimeout, domain.ErrProcessorTimeout.Message, err)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			c.logger.Warn("stripe server error", zap.String("operation", op), zap.Int("status", stripeErr.HTTPStatusCode), zap.String("request_id", stripeErr.RequestID))
			return domain.WrapError(domain.CodeProcessorTimeout, "payment processor unavailable; retry the request", err)
		}
		c.logger.Warn("stripe rejected request",
			zap.String("operation", op),
			zap.String("type", string(stripeErr.Type)),
			zap.String("code", string(stripeErr.Code)),
			zap.String("request_id", stripeErr.RequestID),
		)
		msg := stripeErr.Msg
		if msg == "" {
			msg = domain.ErrProcessor.Message
		}
		return domain.WrapError(domain.CodeProcessor, msg, err)
	}

	c.logger.Warn("stripe call failed", zap.String("operation", op), zap.Error(err))
	return domain.WrapError(domain.CodeProcessorTimeout, "payment processor unreachable; retry the request", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// zapLeveledLogger adapts zap to Stripe's LeveledLoggerInterface.
type zapLeveledLogger struct {
	logger *zap.Logger
}

func (l *zapLeveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Sugar().Debugf(format, v...)
}

func (l *zapLeveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Sugar().Debugf(format, v...)
}

func (l *zapLeveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Sugar().Warnf(format, v...)
}

func (l *zapLeveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Sugar().Errorf(format, v...)
}
