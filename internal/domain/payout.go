/**
 * @description
 * Vendor payouts and per-vendor payout configuration.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PayoutStatus is the lifecycle state of a vendor transfer.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "PENDING"
	PayoutHeld       PayoutStatus = "HELD"
	PayoutProcessing PayoutStatus = "PROCESSING"
	PayoutCompleted  PayoutStatus = "COMPLETED"
	PayoutFailed     PayoutStatus = "FAILED"
)

// PayoutRecord is a transfer of a vendor's net earnings for one payment or milestone.
type PayoutRecord struct {
	ID                 uuid.UUID    `json:"id"`
	VendorID           uuid.UUID    `json:"vendor_id"`
	PaymentID          uuid.UUID    `json:"payment_id"`
	MilestoneID        *uuid.UUID   `json:"milestone_id,omitempty"`
	SourceRef          string       `json:"source_ref"`
	Amount             int64        `json:"amount"`
	Currency           string       `json:"currency"`
	Status             PayoutStatus `json:"status"`
	RetryCount         int          `json:"retry_count"`
	LastAttemptAt      *time.Time   `json:"last_attempt_at,omitempty"`
	NextAttemptAt      *time.Time   `json:"next_attempt_at,omitempty"`
	EligibleAt         time.Time    `json:"eligible_at"`
	ExternalTransferID *string      `json:"external_transfer_id,omitempty"`
	FailureReason      *string      `json:"failure_reason,omitempty"`
	HeldReason         *string      `json:"held_reason,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
}

// DueAt returns the earliest time the scheduler may attempt the payout.
func (p PayoutRecord) DueAt() time.Time {
	if p.NextAttemptAt != nil && p.NextAttemptAt.After(p.EligibleAt) {
		return *p.NextAttemptAt
	}
	return p.EligibleAt
}

// PaymentSourceRef and MilestoneSourceRef build the uniqueness keys for payout creation.
func PaymentSourceRef(paymentID uuid.UUID) string {
	return "payment:" + paymentID.String()
}

func MilestoneSourceRef(milestoneID uuid.UUID) string {
	return "milestone:" + milestoneID.String()
}

// VendorPayoutConfig controls how and when a vendor is paid.
type VendorPayoutConfig struct {
	VendorID                uuid.UUID     `json:"vendor_id"`
	ProcessorAccountID      string        `json:"processor_account_id"`
	AutoPayout              bool          `json:"auto_payout"`
	PayoutDelay             time.Duration `json:"-"`
	PayoutDelayHours        int           `json:"payout_delay_hours"`
	MinimumPayoutAmount     int64         `json:"minimum_payout_amount"`
	PayoutsEnabled          bool          `json:"payouts_enabled"`
	ManualPayoutRequestedAt *time.Time    `json:"manual_payout_requested_at,omitempty"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// PayoutConfigRequest is the DTO for PUT /vendors/{vendorID}/payout-config.
type PayoutConfigRequest struct {
	ProcessorAccountID  string `json:"processor_account_id"`
	AutoPayout          *bool  `json:"auto_payout"`
	PayoutDelayHours    *int   `json:"payout_delay_hours"`
	MinimumPayoutAmount *int64 `json:"minimum_payout_amount"`
}

// PayoutRunResult summarizes one scheduler pass.
type PayoutRunResult struct {
	Vendors   int `json:"vendors"`
	Attempted int `json:"attempted"`
	Accepted  int `json:"accepted"`
	Failed    int `json:"failed"`
	Held      int `json:"held"`
	Deferred  int `json:"deferred"`
	Skipped   int `json:"skipped"`
}
