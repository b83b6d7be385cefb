package domain

import "github.com/google/uuid"

// BookingStatus values written back to the booking system.
const (
	BookingQuoteSent = "QUOTE_SENT"
	BookingConfirmed = "CONFIRMED"
	BookingCancelled = "CANCELLED"
)

// Booking is the subset of the booking record this service reads.
type Booking struct {
	ID          uuid.UUID          `json:"id"`
	OrganizerID uuid.UUID          `json:"organizer_id"`
	VendorID    uuid.UUID          `json:"vendor_id"`
	Category    string             `json:"category"`
	Amount      int64              `json:"amount"`
	Currency    string             `json:"currency"`
	Status      string             `json:"status"`
	Milestones  []BookingMilestone `json:"milestones"`
}

// BookingMilestone is a milestone as the booking system reports it.
type BookingMilestone struct {
	ID     uuid.UUID `json:"id"`
	Amount int64     `json:"amount"`
	Status string    `json:"status"`
}

// Milestone returns the milestone with the given id.
func (b Booking) Milestone(id uuid.UUID) (BookingMilestone, bool) {
	for _, m := range b.Milestones {
		if m.ID == id {
			return m, true
		}
	}
	return BookingMilestone{}, false
}

// MilestoneCompletedEvent is consumed from the booking system.
type MilestoneCompletedEvent struct {
	EventID     string    `json:"event_id"`
	BookingID   uuid.UUID `json:"booking_id"`
	MilestoneID uuid.UUID `json:"milestone_id"`
}

// BookingCancelledEvent is consumed from the booking system.
type BookingCancelledEvent struct {
	EventID   string    `json:"event_id"`
	BookingID uuid.UUID `json:"booking_id"`
	Reason    string    `json:"reason"`
}
