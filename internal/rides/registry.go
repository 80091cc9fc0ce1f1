// Package rides owns ride listings, bookings and the indexes that look them
// up by driver, passenger and ride.
package rides

import (
	"math/bits"
	"slices"
	"sort"

	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/storage"
)

// BookingPolicy decides what happens when a passenger books a ride they
// already hold a booking on.
type BookingPolicy string

const (
	// PolicyOverwrite replaces the earlier booking record. Seats from the
	// earlier booking stay deducted.
	PolicyOverwrite BookingPolicy = "overwrite"
	// PolicyStrict allows one booking per passenger and ride, ever.
	PolicyStrict BookingPolicy = "strict"
)

type RideParams struct {
	Pickup        string
	Destination   string
	DepartureTime int64
	MaxPassengers uint32
	PricePerSeat  uint64
	Notes         string
}

type driverIndex struct {
	Driver models.Address `json:"driver"`
	Rides  []uint64       `json:"rides"`
}

type passengerIndex struct {
	Passenger models.Address `json:"passenger"`
	Rides     []uint64       `json:"rides"`
}

type rideIndex struct {
	RideID     uint64           `json:"ride_id"`
	Passengers []models.Address `json:"passengers"`
}

type counter struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

const rideCounter = "rides"

type Registry struct {
	policy BookingPolicy

	rides       *storage.Table[uint64, models.Ride]
	bookings    *storage.Table[models.BookingKey, models.Booking]
	byDriver    *storage.Table[models.Address, driverIndex]
	byPassenger *storage.Table[models.Address, passengerIndex]
	byRide      *storage.Table[uint64, rideIndex]
	counters    *storage.Table[string, counter]
}

func NewRegistry(store *storage.Store, policy BookingPolicy) *Registry {
	if policy == "" {
		policy = PolicyOverwrite
	}
	r := &Registry{
		policy:      policy,
		rides:       storage.NewTable("rides", func(r models.Ride) uint64 { return r.ID }),
		bookings:    storage.NewTable("bookings", models.Booking.Key),
		byDriver:    storage.NewTable("rides_by_driver", func(i driverIndex) models.Address { return i.Driver }),
		byPassenger: storage.NewTable("rides_by_passenger", func(i passengerIndex) models.Address { return i.Passenger }),
		byRide:      storage.NewTable("bookings_by_ride", func(i rideIndex) uint64 { return i.RideID }),
		counters:    storage.NewTable("counters", func(c counter) string { return c.Name }),
	}
	store.Register(r.rides)
	store.Register(r.bookings)
	store.Register(r.byDriver)
	store.Register(r.byPassenger)
	store.Register(r.byRide)
	store.Register(r.counters)
	return r
}

func (r *Registry) Policy() BookingPolicy { return r.policy }

// CreateRide lists a new ride. IDs start at 0 and increase by one.
func (r *Registry) CreateRide(tx *storage.Tx, driver models.Address, p RideParams, now int64) (models.Ride, error) {
	if driver.IsZero() {
		return models.Ride{}, models.ErrInvalidAddress
	}
	if p.DepartureTime <= now {
		return models.Ride{}, models.ErrInvalidSchedule
	}
	if p.MaxPassengers == 0 {
		return models.Ride{}, models.ErrInvalidSeats
	}
	if p.PricePerSeat == 0 {
		return models.Ride{}, models.ErrInvalidPrice
	}

	c, _ := r.counters.Get(rideCounter)
	ride := models.Ride{
		ID:             c.Value,
		Driver:         driver,
		Pickup:         p.Pickup,
		Destination:    p.Destination,
		DepartureTime:  p.DepartureTime,
		MaxPassengers:  p.MaxPassengers,
		PricePerSeat:   p.PricePerSeat,
		AvailableSeats: p.MaxPassengers,
		Notes:          p.Notes,
		IsActive:       true,
		CreatedAt:      now,
	}
	r.counters.Put(tx, counter{Name: rideCounter, Value: c.Value + 1})
	r.rides.Put(tx, ride)

	idx, ok := r.byDriver.Get(driver)
	if !ok {
		idx.Driver = driver
	}
	idx.Rides = append(append([]uint64(nil), idx.Rides...), ride.ID)
	r.byDriver.Put(tx, idx)

	tx.Emit(models.Event{
		Type:      models.EventRideCreated,
		RideID:    ride.ID,
		Actor:     driver,
		Amount:    ride.PricePerSeat,
		Seats:     ride.MaxPassengers,
		Departure: ride.DepartureTime,
	})
	return ride, nil
}

// Fare returns seats*price, or ErrAmountOverflow when it does not fit.
func Fare(seats uint32, price uint64) (uint64, error) {
	hi, lo := bits.Mul64(uint64(seats), price)
	if hi != 0 {
		return 0, models.ErrAmountOverflow
	}
	return lo, nil
}

// BookRide reserves seats for passenger. value must equal the exact fare.
func (r *Registry) BookRide(tx *storage.Tx, passenger models.Address, rideID uint64, seats uint32, value uint64) (models.Booking, uint64, error) {
	ride, ok := r.rides.Get(rideID)
	if !ok {
		return models.Booking{}, 0, models.ErrRideNotFound
	}
	if !ride.IsActive {
		return models.Booking{}, 0, models.ErrRideInactive
	}
	if seats == 0 {
		return models.Booking{}, 0, models.ErrInvalidSeats
	}
	if seats > ride.AvailableSeats {
		return models.Booking{}, 0, models.ErrRideFull
	}
	amount, err := Fare(seats, ride.PricePerSeat)
	if err != nil {
		return models.Booking{}, 0, err
	}
	if value != amount {
		return models.Booking{}, 0, models.ErrIncorrectPayment
	}
	if _, ok := r.bookings.Get(models.BookingKey{RideID: rideID, Passenger: passenger}); ok && r.policy == PolicyStrict {
		return models.Booking{}, 0, models.ErrDuplicateBooking
	}

	ride.AvailableSeats -= seats
	r.rides.Put(tx, ride)

	b := models.Booking{RideID: rideID, Passenger: passenger, Seats: seats, Paid: true}
	r.bookings.Put(tx, b)
	r.index(tx, rideID, passenger)

	tx.Emit(models.Event{
		Type:      models.EventRideBooked,
		RideID:    rideID,
		Actor:     passenger,
		Subject:   ride.Driver,
		Amount:    amount,
		Seats:     seats,
		Departure: ride.DepartureTime,
	})
	return b, amount, nil
}

func (r *Registry) index(tx *storage.Tx, rideID uint64, passenger models.Address) {
	pi, ok := r.byPassenger.Get(passenger)
	if !ok {
		pi.Passenger = passenger
	}
	if !slices.Contains(pi.Rides, rideID) {
		pi.Rides = append(append([]uint64(nil), pi.Rides...), rideID)
		r.byPassenger.Put(tx, pi)
	}

	ri, ok := r.byRide.Get(rideID)
	if !ok {
		ri.RideID = rideID
	}
	if !slices.Contains(ri.Passengers, passenger) {
		ri.Passengers = append(append([]models.Address(nil), ri.Passengers...), passenger)
		r.byRide.Put(tx, ri)
	}
}

// CancelRide deactivates a ride and cancels every live paid booking on it.
// The cancelled bookings are returned so their escrow can be refunded.
func (r *Registry) CancelRide(tx *storage.Tx, caller models.Address, rideID uint64, now int64) ([]models.Booking, error) {
	ride, ok := r.rides.Get(rideID)
	if !ok {
		return nil, models.ErrRideNotFound
	}
	if ride.Driver != caller {
		return nil, models.ErrNotDriver
	}
	bookings := r.BookingsByRide(rideID)
	if !ride.IsActive || Status(ride, bookings, now) == models.RideStatusCompleted {
		return nil, models.ErrAlreadyInactive
	}

	var cancelled []models.Booking
	for _, b := range bookings {
		if !b.Paid || b.Terminal() {
			continue
		}
		b.Cancelled = true
		r.bookings.Put(tx, b)
		ride.AvailableSeats = restoreSeats(ride, b.Seats)
		cancelled = append(cancelled, b)
	}
	ride.IsActive = false
	r.rides.Put(tx, ride)

	tx.Emit(models.Event{Type: models.EventRideCancelled, RideID: rideID, Actor: caller, Departure: ride.DepartureTime})
	return cancelled, nil
}

// CancelBooking marks the caller's booking cancelled. paidToDriver records
// whether the fare goes to the driver instead of back to the passenger.
// Seats return to the ride only while it is active and has not departed.
func (r *Registry) CancelBooking(tx *storage.Tx, caller models.Address, rideID uint64, paidToDriver bool, now int64) (models.Ride, models.Booking, error) {
	ride, ok := r.rides.Get(rideID)
	if !ok {
		return models.Ride{}, models.Booking{}, models.ErrRideNotFound
	}
	b, ok := r.bookings.Get(models.BookingKey{RideID: rideID, Passenger: caller})
	if !ok {
		if ri, _ := r.byRide.Get(rideID); len(ri.Passengers) > 0 {
			return ride, b, models.ErrNotPassenger
		}
		return ride, b, models.ErrBookingNotFound
	}
	if !b.Paid {
		return ride, b, models.ErrNotPaid
	}
	if b.Terminal() {
		return ride, b, models.ErrAlreadyProcessed
	}

	b.Cancelled = true
	b.PaidToDriver = paidToDriver
	r.bookings.Put(tx, b)

	if ride.IsActive && ride.DepartureTime > now {
		ride.AvailableSeats = restoreSeats(ride, b.Seats)
		r.rides.Put(tx, ride)
	}

	tx.Emit(models.Event{
		Type:      models.EventBookingCancelled,
		RideID:    rideID,
		Actor:     caller,
		Subject:   ride.Driver,
		Seats:     b.Seats,
		Departure: ride.DepartureTime,
	})
	return ride, b, nil
}

// CompleteRide marks one passenger's booking completed. The driver and the
// given system address may call it.
func (r *Registry) CompleteRide(tx *storage.Tx, caller models.Address, rideID uint64, passenger, system models.Address) (models.Ride, models.Booking, error) {
	ride, ok := r.rides.Get(rideID)
	if !ok {
		return models.Ride{}, models.Booking{}, models.ErrRideNotFound
	}
	if caller != ride.Driver && (system.IsZero() || caller != system) {
		return ride, models.Booking{}, models.ErrNotDriver
	}
	b, ok := r.bookings.Get(models.BookingKey{RideID: rideID, Passenger: passenger})
	if !ok {
		return ride, b, models.ErrBookingNotFound
	}
	if !b.Paid {
		return ride, b, models.ErrNotPaid
	}
	if b.Terminal() {
		return ride, b, models.ErrAlreadyProcessed
	}

	b.Completed = true
	r.bookings.Put(tx, b)

	tx.Emit(models.Event{
		Type:    models.EventBookingCompleted,
		RideID:  rideID,
		Actor:   ride.Driver,
		Subject: passenger,
		Seats:   b.Seats,
	})
	return ride, b, nil
}

// restoreSeats never lets a ride exceed its capacity. An overwritten
// booking leaves its seats deducted, so the sum can otherwise drift.
func restoreSeats(ride models.Ride, seats uint32) uint32 {
	free := ride.MaxPassengers - ride.AvailableSeats
	if seats > free {
		seats = free
	}
	return ride.AvailableSeats + seats
}

func (r *Registry) Ride(id uint64) (models.Ride, bool) { return r.rides.Get(id) }

func (r *Registry) Booking(rideID uint64, passenger models.Address) (models.Booking, bool) {
	return r.bookings.Get(models.BookingKey{RideID: rideID, Passenger: passenger})
}

// RideCount is the number of rides ever created.
func (r *Registry) RideCount() uint64 {
	c, _ := r.counters.Get(rideCounter)
	return c.Value
}

// BookingsByRide returns bookings in the order passengers first booked.
func (r *Registry) BookingsByRide(rideID uint64) []models.Booking {
	ri, _ := r.byRide.Get(rideID)
	out := make([]models.Booking, 0, len(ri.Passengers))
	for _, p := range ri.Passengers {
		if b, ok := r.bookings.Get(models.BookingKey{RideID: rideID, Passenger: p}); ok {
			out = append(out, b)
		}
	}
	return out
}

func (r *Registry) RidesByDriver(driver models.Address) []uint64 {
	idx, _ := r.byDriver.Get(driver)
	return append([]uint64(nil), idx.Rides...)
}

func (r *Registry) BookingsByPassenger(passenger models.Address) []uint64 {
	idx, _ := r.byPassenger.Get(passenger)
	return append([]uint64(nil), idx.Rides...)
}

// AvailableRides lists active rides with free seats that have not departed,
// ordered by ID.
func (r *Registry) AvailableRides(now int64) []models.Ride {
	var out []models.Ride
	r.rides.Range(func(_ uint64, ride models.Ride) bool {
		if ride.IsActive && ride.AvailableSeats > 0 && ride.DepartureTime > now {
			out = append(out, ride)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Status(rideID uint64, now int64) (models.RideStatus, error) {
	ride, ok := r.rides.Get(rideID)
	if !ok {
		return "", models.ErrRideNotFound
	}
	return Status(ride, r.BookingsByRide(rideID), now), nil
}

// Status derives a ride's lifecycle state from its bookings. Cancelled
// bookings are ignored; a ride with no live bookings is cancelled, active
// or expired depending on its flag and departure time.
func Status(ride models.Ride, bookings []models.Booking, now int64) models.RideStatus {
	live, completed := 0, 0
	for _, b := range bookings {
		if b.Cancelled {
			continue
		}
		live++
		if b.Completed {
			completed++
		}
	}
	switch {
	case live > 0 && completed == live:
		return models.RideStatusCompleted
	case live > 0 && ride.IsActive:
		return models.RideStatusActive
	case !ride.IsActive:
		return models.RideStatusCancelled
	case ride.DepartureTime > now:
		return models.RideStatusActive
	default:
		return models.RideStatusExpired
	}
}
