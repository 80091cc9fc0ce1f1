package rides

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/storage"
)

const (
	now       int64          = 1_700_000_000
	driver    models.Address = "driver"
	passenger models.Address = "passenger"
)

type fixture struct {
	store *storage.Store
	reg   *Registry
}

func newFixture(policy BookingPolicy) *fixture {
	s := storage.NewStore()
	return &fixture{store: s, reg: NewRegistry(s, policy)}
}

func (f *fixture) run(fn func(tx *storage.Tx) error) error {
	_, err := f.store.Update(context.Background(), fn)
	return err
}

func (f *fixture) create(t *testing.T, seats uint32, price uint64) models.Ride {
	t.Helper()
	var ride models.Ride
	require.NoError(t, f.run(func(tx *storage.Tx) error {
		var err error
		ride, err = f.reg.CreateRide(tx, driver, RideParams{
			Pickup:        "A",
			Destination:   "B",
			DepartureTime: now + 3600,
			MaxPassengers: seats,
			PricePerSeat:  price,
		}, now)
		return err
	}))
	return ride
}

func (f *fixture) book(p models.Address, rideID uint64, seats uint32, value uint64) error {
	return f.run(func(tx *storage.Tx) error {
		_, _, err := f.reg.BookRide(tx, p, rideID, seats, value)
		return err
	})
}

func TestCreateRideAssignsSequentialIDs(t *testing.T) {
	f := newFixture("")
	first := f.create(t, 3, 100)
	second := f.create(t, 2, 50)

	assert.Equal(t, uint64(0), first.ID)
	assert.Equal(t, uint64(1), second.ID)
	assert.Equal(t, uint64(2), f.reg.RideCount())
	assert.Equal(t, uint32(3), first.AvailableSeats)
	assert.True(t, first.IsActive)
	assert.Equal(t, []uint64{0, 1}, f.reg.RidesByDriver(driver))
	assert.Equal(t, PolicyOverwrite, f.reg.Policy())
}

func TestCreateRideValidation(t *testing.T) {
	f := newFixture("")
	cases := []struct {
		name string
		p    RideParams
		want error
	}{
		{"past departure", RideParams{DepartureTime: now, MaxPassengers: 1, PricePerSeat: 1}, models.ErrInvalidSchedule},
		{"no seats", RideParams{DepartureTime: now + 1, PricePerSeat: 1}, models.ErrInvalidSeats},
		{"free ride", RideParams{DepartureTime: now + 1, MaxPassengers: 1}, models.ErrInvalidPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.run(func(tx *storage.Tx) error {
				_, err := f.reg.CreateRide(tx, driver, tc.p, now)
				return err
			})
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, f.reg.RideCount())
}

func TestBookRideRequiresExactPayment(t *testing.T) {
	f := newFixture("")
	ride := f.create(t, 3, 100)

	require.ErrorIs(t, f.book(passenger, ride.ID, 2, 199), models.ErrIncorrectPayment)
	require.ErrorIs(t, f.book(passenger, ride.ID, 2, 201), models.ErrIncorrectPayment)
	require.ErrorIs(t, f.book(passenger, ride.ID, 4, 400), models.ErrRideFull)
	require.ErrorIs(t, f.book(passenger, ride.ID, 0, 0), models.ErrInvalidSeats)
	require.ErrorIs(t, f.book(passenger, 42, 1, 100), models.ErrRideNotFound)

	require.NoError(t, f.book(passenger, ride.ID, 2, 200))
	got, _ := f.reg.Ride(ride.ID)
	assert.Equal(t, uint32(1), got.AvailableSeats)
	b, ok := f.reg.Booking(ride.ID, passenger)
	require.True(t, ok)
	assert.True(t, b.Paid)
	assert.Equal(t, []uint64{ride.ID}, f.reg.BookingsByPassenger(passenger))
}

func TestBookRideFareOverflow(t *testing.T) {
	f := newFixture("")
	ride := f.create(t, 3, math.MaxUint64)
	require.ErrorIs(t, f.book(passenger, ride.ID, 2, 0), models.ErrAmountOverflow)
}

func TestRebookingPolicies(t *testing.T) {
	f := newFixture(PolicyOverwrite)
	ride := f.create(t, 4, 10)
	require.NoError(t, f.book(passenger, ride.ID, 2, 20))
	require.NoError(t, f.book(passenger, ride.ID, 1, 10))

	b, _ := f.reg.Booking(ride.ID, passenger)
	assert.Equal(t, uint32(1), b.Seats)
	got, _ := f.reg.Ride(ride.ID)
	assert.Equal(t, uint32(1), got.AvailableSeats)
	assert.Equal(t, []uint64{ride.ID}, f.reg.BookingsByPassenger(passenger))
	assert.Len(t, f.reg.BookingsByRide(ride.ID), 1)

	strict := newFixture(PolicyStrict)
	ride = strict.create(t, 4, 10)
	require.NoError(t, strict.book(passenger, ride.ID, 2, 20))
	require.ErrorIs(t, strict.book(passenger, ride.ID, 1, 10), models.ErrDuplicateBooking)
}

func TestStrictPolicyRejectsRebookAfterCancel(t *testing.T) {
	f := newFixture(PolicyStrict)
	ride := f.create(t, 4, 10)
	require.NoError(t, f.book(passenger, ride.ID, 2, 20))
	require.NoError(t, f.run(func(tx *storage.Tx) error {
		_, _, err := f.reg.CancelBooking(tx, passenger, ride.ID, false, now)
		return err
	}))

	require.ErrorIs(t, f.book(passenger, ride.ID, 1, 10), models.ErrDuplicateBooking)
	b, _ := f.reg.Booking(ride.ID, passenger)
	assert.True(t, b.Cancelled)
	assert.Equal(t, uint32(2), b.Seats)
	got, _ := f.reg.Ride(ride.ID)
	assert.Equal(t, uint32(4), got.AvailableSeats)
}

func TestCancelRideCancelsLiveBookings(t *testing.T) {
	f := newFixture("")
	ride := f.create(t, 4, 10)
	require.NoError(t, f.book("p1", ride.ID, 1, 10))
	require.NoError(t, f.book("p2", ride.ID, 2, 20))

	err := f.run(func(tx *storage.Tx) error {
		_, err := f.reg.CancelRide(tx, "p1", ride.ID, now)
		return err
	})
	require.ErrorIs(t, err, models.ErrNotDriver)

	var cancelled []models.Booking
	require.NoError(t, f.run(func(tx *storage.Tx) error {
		var err error
		cancelled, err = f.reg.CancelRide(tx, driver, ride.ID, now)
		return err
	}))
	require.Len(t, cancelled, 2)
	assert.Equal(t, models.Address("p1"), cancelled[0].Passenger)

	got, _ := f.reg.Ride(ride.ID)
	assert.False(t, got.IsActive)
	assert.Equal(t, uint32(4), got.AvailableSeats)
	for _, b := range f.reg.BookingsByRide(ride.ID) {
		assert.True(t, b.Cancelled)
	}
	st, err := f.reg.Status(ride.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCancelled, st)
	require.ErrorIs(t, f.book("p3", ride.ID, 1, 10), models.ErrRideInactive)

	err = f.run(func(tx *storage.Tx) error {
		_, err := f.reg.CancelRide(tx, driver, ride.ID, now)
		return err
	})
	require.ErrorIs(t, err, models.ErrAlreadyInactive)
}

func TestCancelBookingRestoresSeatsBeforeDeparture(t *testing.T) {
	f := newFixture("")
	ride := f.create(t, 3, 10)
	require.NoError(t, f.book(passenger, ride.ID, 2, 20))

	require.NoError(t, f.run(func(tx *storage.Tx) error {
		_, b, err := f.reg.CancelBooking(tx, passenger, ride.ID, true, now)
		assert.True(t, b.PaidToDriver)
		return err
	}))
	got, _ := f.reg.Ride(ride.ID)
	assert.Equal(t, uint32(3), got.AvailableSeats)

	err := f.run(func(tx *storage.Tx) error {
		_, _, err := f.reg.CancelBooking(tx, passenger, ride.ID, false, now)
		return err
	})
	require.ErrorIs(t, err, models.ErrAlreadyProcessed)

	err = f.run(func(tx *storage.Tx) error {
		_, _, err := f.reg.CancelBooking(tx, "stranger", ride.ID, false, now)
		return err
	})
	require.ErrorIs(t, err, models.ErrNotPassenger)
}

func TestCancelBookingOnUnbookedRide(t *testing.T) {
	f := newFixture("")
	ride := f.create(t, 3, 10)
	err := f.run(func(tx *storage.Tx) error {
		_, _, err := f.reg.CancelBooking(tx, passenger, ride.ID, false, now)
		return err
	})
	require.ErrorIs(t, err, models.ErrBookingNotFound)
}

func TestCancelBookingAfterDepartureKeepsSeats(t *testing.T) {
	f := newFixture("")
	ride := f.create(t, 3, 10)
	require.NoError(t, f.book(passenger, ride.ID, 2, 20))

	require.NoError(t, f.run(func(tx *storage.Tx) error {
		_, _, err := f.reg.CancelBooking(tx, passenger, ride.ID, false, ride.DepartureTime+1)
		return err
	}))
	got, _ := f.reg.Ride(ride.ID)
	assert.Equal(t, uint32(1), got.AvailableSeats)
}

func TestCompleteRide(t *testing.T) {
	f := newFixture("")
	ride := f.create(t, 3, 10)
	require.NoError(t, f.book(passenger, ride.ID, 1, 10))

	complete := func(caller models.Address) error {
		return f.run(func(tx *storage.Tx) error {
			_, _, err := f.reg.CompleteRide(tx, caller, ride.ID, passenger, "system")
			return err
		})
	}
	require.ErrorIs(t, complete(passenger), models.ErrNotDriver)
	require.NoError(t, complete("system"))
	require.ErrorIs(t, complete(driver), models.ErrAlreadyProcessed)

	st, err := f.reg.Status(ride.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, st)

	err = f.run(func(tx *storage.Tx) error {
		_, err := f.reg.CancelRide(tx, driver, ride.ID, now)
		return err
	})
	require.ErrorIs(t, err, models.ErrAlreadyInactive)
}

func TestAvailableRides(t *testing.T) {
	f := newFixture("")
	open := f.create(t, 2, 10)
	full := f.create(t, 1, 10)
	cancelled := f.create(t, 1, 10)
	require.NoError(t, f.book(passenger, full.ID, 1, 10))
	require.NoError(t, f.run(func(tx *storage.Tx) error {
		_, err := f.reg.CancelRide(tx, driver, cancelled.ID, now)
		return err
	}))

	got := f.reg.AvailableRides(now)
	require.Len(t, got, 1)
	assert.Equal(t, open.ID, got[0].ID)
	assert.Empty(t, f.reg.AvailableRides(open.DepartureTime))
}

func TestStatusProjection(t *testing.T) {
	ride := models.Ride{IsActive: true, DepartureTime: now + 10}
	live := models.Booking{Paid: true}
	done := models.Booking{Paid: true, Completed: true}
	gone := models.Booking{Paid: true, Cancelled: true}

	assert.Equal(t, models.RideStatusActive, Status(ride, nil, now))
	assert.Equal(t, models.RideStatusExpired, Status(ride, nil, now+10))
	assert.Equal(t, models.RideStatusActive, Status(ride, []models.Booking{live, done}, now))
	assert.Equal(t, models.RideStatusCompleted, Status(ride, []models.Booking{done, gone}, now))
	assert.Equal(t, models.RideStatusActive, Status(ride, []models.Booking{gone}, now))

	ride.IsActive = false
	assert.Equal(t, models.RideStatusCancelled, Status(ride, []models.Booking{gone}, now))
}
