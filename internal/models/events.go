package models

// EventType names a fact emitted by a committed operation.
type EventType string

const (
	EventRideCreated      EventType = "ride_created"
	EventRideBooked       EventType = "ride_booked"
	EventRideCancelled    EventType = "ride_cancelled"
	EventBookingCancelled EventType = "booking_cancelled"
	EventBookingCompleted EventType = "booking_completed"
	EventEscrowHeld       EventType = "escrow_held"
	EventEscrowReleased   EventType = "escrow_released"
	EventEscrowRefunded   EventType = "escrow_refunded"
	EventRewardIssued     EventType = "reward_issued"
	EventUserRated        EventType = "user_rated"
	EventDriverRated      EventType = "driver_rated"
	EventTokensMinted     EventType = "tokens_minted"
	EventTokensBurned     EventType = "tokens_burned"
	EventTokensTransfer   EventType = "tokens_transferred"
)

// Event is published after commit. Delivery is best effort.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	RideID    uint64    `json:"ride_id"`
	Actor     Address   `json:"actor,omitempty"`
	Subject   Address   `json:"subject,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
	Seats     uint32    `json:"seats,omitempty"`
	Rating    uint8     `json:"rating,omitempty"`
	Departure int64     `json:"departure,omitempty"`
	At        int64     `json:"at"`
}

// Recipients lists the addresses interested in an event.
func (e Event) Recipients() []Address {
	out := make([]Address, 0, 2)
	if !e.Actor.IsZero() {
		out = append(out, e.Actor)
	}
	if !e.Subject.IsZero() && e.Subject != e.Actor {
		out = append(out, e.Subject)
	}
	return out
}
