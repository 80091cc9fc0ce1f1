package models

import "strings"

// Address identifies an account: a driver, a passenger, the token owner or
// one of the internal ledger accounts. Addresses compare case-insensitively
// so callers should go through NormalizeAddress before storing one.
type Address string

func NormalizeAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

func (a Address) String() string { return string(a) }

func (a Address) IsZero() bool { return a == "" }

type Ride struct {
	ID             uint64  `json:"id"`
	Driver         Address `json:"driver"`
	Pickup         string  `json:"pickup"`
	Destination    string  `json:"destination"`
	DepartureTime  int64   `json:"departure_time"` // unix seconds
	MaxPassengers  uint32  `json:"max_passengers"`
	PricePerSeat   uint64  `json:"price_per_seat"`
	AvailableSeats uint32  `json:"available_seats"`
	Notes          string  `json:"notes"`
	IsActive       bool    `json:"is_active"`
	CreatedAt      int64   `json:"created_at"`
}

type BookingKey struct {
	RideID    uint64
	Passenger Address
}

type Booking struct {
	RideID       uint64  `json:"ride_id"`
	Passenger    Address `json:"passenger"`
	Seats        uint32  `json:"seats"`
	Paid         bool    `json:"paid"`
	Completed    bool    `json:"completed"`
	Cancelled    bool    `json:"cancelled"`
	PaidToDriver bool    `json:"paid_to_driver"`
}

func (b Booking) Key() BookingKey { return BookingKey{RideID: b.RideID, Passenger: b.Passenger} }

// Terminal reports whether the booking accepts no further transitions.
func (b Booking) Terminal() bool { return b.Completed || b.Cancelled }

type EscrowKey struct {
	RideID uint64
	Payer  Address
}

type EscrowEntry struct {
	RideID   uint64  `json:"ride_id"`
	Payer    Address `json:"payer"`
	Amount   uint64  `json:"amount"`
	Seats    uint32  `json:"seats"`
	Released bool    `json:"released"`
	Refunded bool    `json:"refunded"`
	Payee    Address `json:"payee,omitempty"`
}

func (e EscrowEntry) Key() EscrowKey { return EscrowKey{RideID: e.RideID, Payer: e.Payer} }

func (e EscrowEntry) Settled() bool { return e.Released || e.Refunded }

type ReputationRecord struct {
	Subject        Address `json:"subject"`
	TotalRatingSum uint64  `json:"total_rating_sum"`
	RatingCount    uint64  `json:"rating_count"`
	TotalRides     uint64  `json:"total_rides"`
	CancelledRides uint64  `json:"cancelled_rides"`
}

// AverageRating truncates: ratings 5,5,4 average to 4.
func (r ReputationRecord) AverageRating() uint64 {
	if r.RatingCount == 0 {
		return 0
	}
	return r.TotalRatingSum / r.RatingCount
}

type RatedRideKey struct {
	RideID uint64
	Rater  Address
}

type RatedRide struct {
	RideID uint64  `json:"ride_id"`
	Rater  Address `json:"rater"`
	Driver Address `json:"driver"`
	Rating uint8   `json:"rating"`
}

type TokenBalance struct {
	Holder  Address `json:"holder"`
	Balance uint64  `json:"balance"`
}

type DriverReward struct {
	Driver Address `json:"driver"`
	Total  uint64  `json:"total"`
}

type WalletBalance struct {
	Owner   Address `json:"owner"`
	Balance uint64  `json:"balance"`
}

type DriverStats struct {
	AvgRating      uint64 `json:"avg_rating"`
	TotalRides     uint64 `json:"total_rides"`
	CancelledRides uint64 `json:"cancelled_rides"`
}

type DriverInfo struct {
	Driver Address `json:"driver"`
	DriverStats
	RewardTotal  uint64 `json:"reward_total"`
	TokenBalance uint64 `json:"token_balance"`
}

type RideStatus string

const (
	RideStatusActive    RideStatus = "active"
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
	RideStatusExpired   RideStatus = "expired"
)

// BookingReceipt is returned by a successful booking.
type BookingReceipt struct {
	RideID         uint64  `json:"ride_id"`
	Passenger      Address `json:"passenger"`
	Seats          uint32  `json:"seats"`
	Amount         uint64  `json:"amount"`
	AvailableSeats uint32  `json:"available_seats"`
}
