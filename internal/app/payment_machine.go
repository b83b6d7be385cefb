/**
 * @description
 * The payment lifecycle as a pure decision function. Callers load the current record, ask
 * DecidePayment what an event does to it, persist the result and then run the returned
 * effects. Nothing in this file performs I/O.
 *
 * @notes
 * - A transition is identified by (payment id, processor transaction id, target status).
 *   Re-delivering an event whose target the record already holds is a Duplicate, and an event
 *   whose target ranks below the current status is Stale and dropped.
 * - Events that reach a PENDING or REQUIRES_ACTION record with a terminal target pass through
 *   PROCESSING first, so every audit trail shows the PROCESSING step.
 * - A refund is reserved on the record before the processor is called and the confirmed
 *   refund consumes that reservation, so one reservation is counted at most once.
 */

package app

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
)

// PaymentEvent is an input to the payment state machine.
type PaymentEvent interface {
	target() domain.PaymentStatus
}

// IntentAccepted is the processor's synchronous acknowledgement of a new intent.
type IntentAccepted struct {
	TransactionID  string
	ClientSecret   string
	RequiresAction bool
}

// ActionRequired reports that the payer must complete additional authentication.
type ActionRequired struct {
	TransactionID string
	ClientSecret  string
}

// ResumeRequested is the payer returning to finish authentication.
type ResumeRequested struct{}

type PaymentSucceeded struct {
	TransactionID string
}

type PaymentFailed struct {
	TransactionID string
	Reason        string
}

// RefundRequested reserves a refund before the processor is asked for it. Released is the
// escrow amount already paid out on behalf of this payment and therefore not refundable.
type RefundRequested struct {
	ReservationID uuid.UUID
	Amount        int64
	Released      int64
}

// RefundAbandoned drops a reservation the processor rejected.
type RefundAbandoned struct {
	ReservationID uuid.UUID
}

// RefundIssued is a processor-confirmed refund of the reservation it names.
type RefundIssued struct {
	ReservationID uuid.UUID
	Amount        int64
	Reason        string
}

// ActionExpired abandons a payment that sat in REQUIRES_ACTION past its deadline.
type ActionExpired struct {
	Reason string
}

func (IntentAccepted) target() domain.PaymentStatus   { return domain.PaymentProcessing }
func (ActionRequired) target() domain.PaymentStatus   { return domain.PaymentRequiresAction }
func (ResumeRequested) target() domain.PaymentStatus  { return domain.PaymentProcessing }
func (PaymentSucceeded) target() domain.PaymentStatus { return domain.PaymentCompleted }
func (PaymentFailed) target() domain.PaymentStatus    { return domain.PaymentFailed }
func (RefundRequested) target() domain.PaymentStatus  { return domain.PaymentCompleted }
func (RefundAbandoned) target() domain.PaymentStatus  { return domain.PaymentCompleted }
func (RefundIssued) target() domain.PaymentStatus     { return domain.PaymentRefunded }
func (ActionExpired) target() domain.PaymentStatus    { return domain.PaymentFailed }

// DecisionOutcome classifies what an event did to a payment.
type DecisionOutcome string

const (
	OutcomeApplied   DecisionOutcome = "applied"
	OutcomeDuplicate DecisionOutcome = "duplicate"
	OutcomeStale     DecisionOutcome = "stale"
	OutcomeRejected  DecisionOutcome = "rejected"
)

// Effect is work the caller performs after the decision is persisted.
type Effect interface {
	effectName() string
}

type ConfirmBookingEffect struct {
	BookingID uuid.UUID
}

type RevertBookingEffect struct {
	BookingID uuid.UUID
	Status    string
}

// CreditEscrowEffect moves an escrowed payment into the booking's escrow. It is keyed by
// payment id and safe to repeat.
type CreditEscrowEffect struct {
	BookingID   uuid.UUID
	PaymentID   uuid.UUID
	MilestoneID *uuid.UUID
	Amount      int64
	Currency    string
}

// RefundEscrowEffect settles the escrow reservation of a confirmed refund. It is keyed by
// reservation id and safe to repeat.
type RefundEscrowEffect struct {
	BookingID     uuid.UUID
	PaymentID     uuid.UUID
	ReservationID uuid.UUID
	Amount        int64
	Reason        string
}

// EnqueuePayoutEffect creates the vendor payout for a payment. It is keyed by payment id and
// safe to repeat.
type EnqueuePayoutEffect struct {
	PaymentID uuid.UUID
}

type PublishEffect struct {
	RoutingKey string
}

func (ConfirmBookingEffect) effectName() string { return "confirm_booking" }
func (RevertBookingEffect) effectName() string  { return "revert_booking" }
func (CreditEscrowEffect) effectName() string   { return "credit_escrow" }
func (RefundEscrowEffect) effectName() string   { return "refund_escrow" }
func (EnqueuePayoutEffect) effectName() string  { return "enqueue_payout" }
func (PublishEffect) effectName() string        { return "publish" }

// TransitionOptions carries the inputs a decision needs besides the record and event.
type TransitionOptions struct {
	Now        time.Time
	AutoPayout bool
}

// PaymentDecision is the result of DecidePayment.
type PaymentDecision struct {
	Outcome     DecisionOutcome
	Previous    domain.PaymentStatus
	Next        domain.PaymentRecord
	Steps       []domain.PaymentStatus
	Effects     []Effect
	Reason      string
	NeedsReview bool
	Err         error
}

// Changed reports whether the decision must be persisted.
func (d PaymentDecision) Changed() bool {
	return d.Outcome == OutcomeApplied
}

// DecidePayment applies event to current without side effects.
func DecidePayment(current domain.PaymentRecord, event PaymentEvent, opts TransitionOptions) PaymentDecision {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	d := PaymentDecision{Previous: current.Status, Next: current}

	switch ev := event.(type) {
	case IntentAccepted:
		return decideIntentAccepted(d, ev, opts)
	case ActionRequired:
		return decideActionRequired(d, ev, opts)
	case ResumeRequested:
		return decideResume(d, opts)
	case PaymentSucceeded:
		return decideSucceeded(d, ev, opts)
	case PaymentFailed:
		reason := ev.Reason
		if reason == "" {
			reason = "payment failed"
		}
		return decideFailed(d, ev.TransactionID, reason, opts)
	case RefundRequested:
		return decideRefundReservation(d, ev, opts)
	case RefundAbandoned:
		return decideRefundAbandoned(d, ev, opts)
	case RefundIssued:
		return decideRefund(d, ev, opts)
	case ActionExpired:
		if current.Status != domain.PaymentRequiresAction {
			return d.stale("payment left REQUIRES_ACTION before expiry")
		}
		return decideFailed(d, "", ev.Reason, opts)
	default:
		return d.reject(domain.ErrInvalidTransition, "unknown payment event")
	}
}

func decideIntentAccepted(d PaymentDecision, ev IntentAccepted, opts TransitionOptions) PaymentDecision {
	if d.Previous != domain.PaymentPending {
		if d.Next.ExternalTransactionID != nil && *d.Next.ExternalTransactionID == ev.TransactionID {
			return d.duplicate()
		}
		return d.reject(domain.ErrInvalidTransition, "intent already accepted")
	}
	if ev.TransactionID == "" {
		return d.reject(domain.ErrProcessor, "processor returned no transaction id")
	}

	d.Next.ExternalTransactionID = &ev.TransactionID
	if ev.ClientSecret != "" {
		d.Next.ClientSecret = &ev.ClientSecret
	}
	d.step(domain.PaymentProcessing)
	if ev.RequiresAction {
		d.Next.RequiresActionAt = &opts.Now
		d.step(domain.PaymentRequiresAction)
	}
	return d.apply(opts.Now)
}

func decideActionRequired(d PaymentDecision, ev ActionRequired, opts TransitionOptions) PaymentDecision {
	switch {
	case d.Previous == domain.PaymentRequiresAction:
		return d.duplicate()
	case d.Previous.Rank() > domain.PaymentRequiresAction.Rank():
		return d.stale("requires-action reported after payment reached " + string(d.Previous))
	}
	if !d.adopt(ev.TransactionID) {
		return d.reject(domain.ErrInvalidTransition, "transaction id does not match payment")
	}

	if ev.ClientSecret != "" {
		d.Next.ClientSecret = &ev.ClientSecret
	}
	d.Next.RequiresActionAt = &opts.Now
	if d.Previous == domain.PaymentPending {
		d.step(domain.PaymentProcessing)
	}
	d.step(domain.PaymentRequiresAction)
	return d.apply(opts.Now)
}

func decideResume(d PaymentDecision, opts TransitionOptions) PaymentDecision {
	switch d.Previous {
	case domain.PaymentProcessing:
		return d.duplicate()
	case domain.PaymentRequiresAction:
		d.Next.RequiresActionAt = nil
		d.step(domain.PaymentProcessing)
		return d.apply(opts.Now)
	default:
		return d.reject(domain.ErrInvalidTransition, "payment is not awaiting action")
	}
}

func decideSucceeded(d PaymentDecision, ev PaymentSucceeded, opts TransitionOptions) PaymentDecision {
	switch d.Previous {
	case domain.PaymentCompleted:
		d = d.duplicate()
		d.Effects = durableCompletionEffects(d.Next, opts)
		return d
	case domain.PaymentFailed:
		d = d.stale("success reported for a failed payment")
		d.NeedsReview = true
		return d
	case domain.PaymentRefunded:
		return d.stale("success reported after refund")
	}
	if !d.adopt(ev.TransactionID) {
		return d.reject(domain.ErrInvalidTransition, "transaction id does not match payment")
	}

	if d.Previous != domain.PaymentProcessing {
		d.step(domain.PaymentProcessing)
	}
	d.step(domain.PaymentCompleted)
	d.Next.RequiresActionAt = nil
	d.Next.ProcessedAt = &opts.Now

	d.Effects = append(d.Effects, ConfirmBookingEffect{BookingID: d.Next.BookingID})
	d.Effects = append(d.Effects, durableCompletionEffects(d.Next, opts)...)
	d.Effects = append(d.Effects, PublishEffect{RoutingKey: "payment.completed"})
	return d.apply(opts.Now)
}

func durableCompletionEffects(p domain.PaymentRecord, opts TransitionOptions) []Effect {
	if p.Escrowed {
		return []Effect{CreditEscrowEffect{
			BookingID:   p.BookingID,
			PaymentID:   p.ID,
			MilestoneID: p.MilestoneID,
			Amount:      p.Amount,
			Currency:    p.Currency,
		}}
	}
	if opts.AutoPayout {
		return []Effect{EnqueuePayoutEffect{PaymentID: p.ID}}
	}
	return nil
}

func decideFailed(d PaymentDecision, transactionID, reason string, opts TransitionOptions) PaymentDecision {
	switch {
	case d.Previous == domain.PaymentFailed:
		return d.duplicate()
	case d.Previous.Terminal():
		return d.stale("failure reported after payment reached " + string(d.Previous))
	}
	if !d.adopt(transactionID) {
		return d.reject(domain.ErrInvalidTransition, "transaction id does not match payment")
	}

	if d.Previous != domain.PaymentProcessing {
		d.step(domain.PaymentProcessing)
	}
	d.step(domain.PaymentFailed)
	d.Next.FailureReason = &reason
	d.Next.RequiresActionAt = nil
	d.Next.ProcessedAt = &opts.Now

	d.Effects = append(d.Effects,
		RevertBookingEffect{BookingID: d.Next.BookingID, Status: domain.BookingQuoteSent},
		PublishEffect{RoutingKey: "payment.failed"},
	)
	return d.apply(opts.Now)
}

func decideRefundReservation(d PaymentDecision, ev RefundRequested, opts TransitionOptions) PaymentDecision {
	if d.Previous != domain.PaymentCompleted && d.Previous != domain.PaymentRefunded {
		return d.reject(domain.ErrInvalidTransition, "only completed payments can be refunded")
	}
	if ev.Amount <= 0 {
		return d.reject(domain.ErrInvalidAmount, "refund amount must be greater than zero")
	}
	if d.Next.PendingRefundID != nil {
		if *d.Next.PendingRefundID == ev.ReservationID {
			return d.duplicate()
		}
		return d.reject(domain.Errorf(domain.CodeRefundInProgress, "refund of %d is awaiting the processor", d.Next.PendingRefundAmount), "")
	}
	if refundable := d.Next.Refundable(ev.Released); ev.Amount > refundable {
		return d.reject(domain.Errorf(domain.CodeRefundExceedsRefundable, "refund %d exceeds refundable amount %d", ev.Amount, refundable), "")
	}

	id := ev.ReservationID
	d.Next.PendingRefundID = &id
	d.Next.PendingRefundAmount = ev.Amount
	d.Reason = fmt.Sprintf("refund of %d reserved", ev.Amount)
	return d.apply(opts.Now)
}

func decideRefundAbandoned(d PaymentDecision, ev RefundAbandoned, opts TransitionOptions) PaymentDecision {
	if d.Next.PendingRefundID == nil || *d.Next.PendingRefundID != ev.ReservationID {
		return d.duplicate()
	}
	d.Reason = fmt.Sprintf("refund of %d abandoned", d.Next.PendingRefundAmount)
	d.Next.PendingRefundID = nil
	d.Next.PendingRefundAmount = 0
	return d.apply(opts.Now)
}

func decideRefund(d PaymentDecision, ev RefundIssued, opts TransitionOptions) PaymentDecision {
	if d.Next.PendingRefundID == nil || *d.Next.PendingRefundID != ev.ReservationID {
		if d.Previous == domain.PaymentCompleted || d.Previous == domain.PaymentRefunded {
			return d.duplicate()
		}
		return d.reject(domain.ErrInvalidTransition, "only completed payments can be refunded")
	}
	if ev.Amount != d.Next.PendingRefundAmount {
		return d.reject(domain.Errorf(domain.CodeInvalidTransition, "refund %d does not match reserved amount %d", ev.Amount, d.Next.PendingRefundAmount), "")
	}

	d.Next.RefundedAmount += ev.Amount
	d.Next.PendingRefundID = nil
	d.Next.PendingRefundAmount = 0
	d.step(domain.PaymentRefunded)
	if d.Next.Escrowed {
		d.Effects = append(d.Effects, RefundEscrowEffect{
			BookingID:     d.Next.BookingID,
			PaymentID:     d.Next.ID,
			ReservationID: ev.ReservationID,
			Amount:        ev.Amount,
			Reason:        ev.Reason,
		})
	}
	d.Effects = append(d.Effects, PublishEffect{RoutingKey: "payment.refunded"})
	return d.apply(opts.Now)
}

func (d *PaymentDecision) step(status domain.PaymentStatus) {
	d.Steps = append(d.Steps, status)
	d.Next.Status = status
}

// adopt records the processor transaction id, refusing to replace a different one.
func (d *PaymentDecision) adopt(transactionID string) bool {
	if transactionID == "" {
		return true
	}
	if d.Next.ExternalTransactionID == nil {
		id := transactionID
		d.Next.ExternalTransactionID = &id
		return true
	}
	return *d.Next.ExternalTransactionID == transactionID
}

func (d PaymentDecision) apply(now time.Time) PaymentDecision {
	d.Outcome = OutcomeApplied
	d.Next.UpdatedAt = now
	return d
}

func (d PaymentDecision) duplicate() PaymentDecision {
	d.Outcome = OutcomeDuplicate
	d.Reason = "payment already " + string(d.Previous)
	return d
}

func (d PaymentDecision) stale(reason string) PaymentDecision {
	d.Outcome = OutcomeStale
	d.Reason = reason
	return d
}

func (d PaymentDecision) reject(err error, reason string) PaymentDecision {
	d.Outcome = OutcomeRejected
	d.Next.Status = d.Previous
	d.Err = err
	d.Reason = reason
	if d.Reason == "" && err != nil {
		d.Reason = err.Error()
	}
	return d
}

// AuditTrail converts the decision's steps into audit entries.
func (d PaymentDecision) AuditTrail(eventID string, source domain.AuditSource, detail string) []domain.AuditEntry {
	if d.Outcome == OutcomeApplied && len(d.Steps) == 0 {
		return []domain.AuditEntry{{
			ID:             uuid.New(),
			EntityType:     domain.AuditPayment,
			EntityID:       d.Next.ID,
			PreviousStatus: string(d.Previous),
			NewStatus:      string(d.Next.Status),
			EventID:        eventID,
			Source:         source,
			Detail:         detail,
			CreatedAt:      d.Next.UpdatedAt,
		}}
	}
	entries := make([]domain.AuditEntry, 0, len(d.Steps))
	previous := d.Previous
	for _, status := range d.Steps {
		entries = append(entries, domain.AuditEntry{
			ID:             uuid.New(),
			EntityType:     domain.AuditPayment,
			EntityID:       d.Next.ID,
			PreviousStatus: string(previous),
			NewStatus:      string(status),
			EventID:        eventID,
			Source:         source,
			Detail:         detail,
			CreatedAt:      d.Next.UpdatedAt,
		})
		previous = status
	}
	return entries
}
