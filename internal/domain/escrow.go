/**
 * @description
 * Escrow accounts, milestones and the arithmetic that keeps them consistent.
 *
 * @notes
 * - HeldAmount + ReleasedAmount == TotalAmount after every mutation below.
 * - ReservedAmount is the part of HeldAmount earmarked for refunds the processor has not
 *   confirmed yet. Releases and direct refunds only draw on the unreserved remainder.
 * - Status is never assigned by callers; Recompute derives it from the balances and milestones.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EscrowStatus is derived from balances and milestone states.
type EscrowStatus string

const (
	EscrowOpen              EscrowStatus = "OPEN"
	EscrowPartiallyReleased EscrowStatus = "PARTIALLY_RELEASED"
	EscrowClosed            EscrowStatus = "CLOSED"
)

// MilestoneStatus tracks a fundable unit of work within a booking.
type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "PENDING"
	MilestoneCompleted MilestoneStatus = "COMPLETED"
	MilestoneReleased  MilestoneStatus = "RELEASED"
	MilestoneCancelled MilestoneStatus = "CANCELLED"
)

// LedgerEntryKind classifies escrow ledger movements.
type LedgerEntryKind string

const (
	LedgerCredit  LedgerEntryKind = "CREDIT"
	LedgerRelease LedgerEntryKind = "RELEASE"
	LedgerRefund  LedgerEntryKind = "REFUND"
	// Reservations move no money; they are recorded so replays are no-ops.
	LedgerReserve   LedgerEntryKind = "RESERVE"
	LedgerUnreserve LedgerEntryKind = "UNRESERVE"
)

// EscrowAccount holds a booking's funds until milestones release them.
type EscrowAccount struct {
	ID             uuid.UUID    `json:"id"`
	BookingID      uuid.UUID    `json:"booking_id"`
	Currency       string       `json:"currency"`
	TotalAmount    int64        `json:"total_amount"`
	HeldAmount     int64        `json:"held_amount"`
	ReleasedAmount int64        `json:"released_amount"`
	RefundedAmount int64        `json:"refunded_amount"`
	ReservedAmount int64        `json:"reserved_amount"`
	Status         EscrowStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Milestone is the local mirror of a booking milestone.
type Milestone struct {
	ID          uuid.UUID       `json:"id"`
	BookingID   uuid.UUID       `json:"booking_id"`
	EscrowID    uuid.UUID       `json:"escrow_id"`
	Amount      int64           `json:"amount"`
	Status      MilestoneStatus `json:"status"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ReleasedAt  *time.Time      `json:"released_at,omitempty"`
}

// LedgerEntry records one escrow movement. Reference is unique per kind so replays are no-ops.
type LedgerEntry struct {
	ID        uuid.UUID       `json:"id"`
	EscrowID  uuid.UUID       `json:"escrow_id"`
	Kind      LedgerEntryKind `json:"kind"`
	Amount    int64           `json:"amount"`
	Reference string          `json:"reference"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EscrowView is an escrow with its milestones, as returned by the API.
type EscrowView struct {
	EscrowAccount
	Milestones []Milestone `json:"milestones"`
}

// CreateEscrowRequest is the DTO for POST /escrows.
type CreateEscrowRequest struct {
	BookingID   uuid.UUID `json:"booking_id"`
	TotalAmount int64     `json:"total_amount"`
}

// EscrowRefundRequest is the DTO for POST /escrows/{id}/refunds.
type EscrowRefundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// ReleaseResult describes a successful milestone release.
type ReleaseResult struct {
	Escrow    EscrowAccount `json:"escrow"`
	Milestone Milestone     `json:"milestone"`
	Payout    *PayoutRecord `json:"payout,omitempty"`
}

// Balanced reports whether the conservation invariant holds.
func (a EscrowAccount) Balanced() bool {
	return a.HeldAmount >= 0 && a.ReleasedAmount >= 0 && a.HeldAmount+a.ReleasedAmount == a.TotalAmount &&
		a.ReservedAmount >= 0 && a.ReservedAmount <= a.HeldAmount
}

// Available is the held amount not reserved for pending refunds.
func (a EscrowAccount) Available() int64 {
	return a.HeldAmount - a.ReservedAmount
}

// Credit adds funds collected for the booking.
func (a *EscrowAccount) Credit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	a.TotalAmount += amount
	a.HeldAmount += amount
	return nil
}

// Release moves a completed milestone's amount from held to released.
func (a *EscrowAccount) Release(m *Milestone, now time.Time) error {
	if m.Status != MilestoneCompleted {
		return Errorf(CodeMilestoneNotCompleted, "milestone %s is %s", m.ID, m.Status)
	}
	if m.Amount > a.Available() {
		return Errorf(CodeInsufficientHeldFunds, "milestone amount %d exceeds available held amount %d", m.Amount, a.Available())
	}
	a.HeldAmount -= m.Amount
	a.ReleasedAmount += m.Amount
	m.Status = MilestoneReleased
	m.ReleasedAt = &now
	return nil
}

// Refund returns unreserved held funds to the payer. Total shrinks with held so the
// invariant holds.
func (a *EscrowAccount) Refund(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > a.Available() {
		return Errorf(CodeRefundExceedsHeld, "refund %d exceeds available held amount %d", amount, a.Available())
	}
	a.refund(amount)
	return nil
}

func (a *EscrowAccount) refund(amount int64) {
	a.HeldAmount -= amount
	a.TotalAmount -= amount
	a.RefundedAmount += amount
}

// Reserve earmarks held funds for a refund awaiting processor confirmation.
func (a *EscrowAccount) Reserve(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > a.Available() {
		return Errorf(CodeRefundExceedsHeld, "refund %d exceeds available held amount %d", amount, a.Available())
	}
	a.ReservedAmount += amount
	return nil
}

// Unreserve returns a reservation to the available balance.
func (a *EscrowAccount) Unreserve(amount int64) {
	a.ReservedAmount -= min(amount, a.ReservedAmount)
}

// SettleReserved refunds a previously reserved amount.
func (a *EscrowAccount) SettleReserved(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > a.ReservedAmount {
		return Errorf(CodeRefundExceedsHeld, "refund %d exceeds reserved amount %d", amount, a.ReservedAmount)
	}
	a.ReservedAmount -= amount
	a.refund(amount)
	return nil
}

// Recompute derives the escrow status from balances and milestones.
func (a *EscrowAccount) Recompute(milestones []Milestone) {
	settled := true
	for _, m := range milestones {
		if m.Status != MilestoneReleased && m.Status != MilestoneCancelled {
			settled = false
			break
		}
	}

	switch {
	case a.HeldAmount == 0 && settled && (a.ReleasedAmount > 0 || a.RefundedAmount > 0 || len(milestones) > 0):
		a.Status = EscrowClosed
	case a.ReleasedAmount > 0:
		a.Status = EscrowPartiallyReleased
	default:
		a.Status = EscrowOpen
	}
}

// CheckBalanced returns an error describing a broken invariant.
func (a EscrowAccount) CheckBalanced() error {
	if !a.Balanced() {
		return fmt.Errorf("escrow %s unbalanced: held=%d released=%d total=%d reserved=%d", a.ID, a.HeldAmount, a.ReleasedAmount, a.TotalAmount, a.ReservedAmount)
	}
	return nil
}
