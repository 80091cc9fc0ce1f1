package carpool

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/rides"
	"github.com/ridepool/carpool/internal/storage"
)

func (s *System) CreateRide(ctx context.Context, driver models.Address, p rides.RideParams) (models.Ride, error) {
	var ride models.Ride
	err := s.exec(ctx, "create_ride", driver, nil, func(tx *storage.Tx) error {
		var err error
		ride, err = s.rides.CreateRide(tx, driver, p, s.now())
		return err
	})
	return ride, err
}

// BookRide reserves seats and moves value from the passenger's wallet into
// escrow. value must equal seats*pricePerSeat exactly.
func (s *System) BookRide(ctx context.Context, passenger models.Address, rideID uint64, seats uint32, value uint64) (models.BookingReceipt, error) {
	var receipt models.BookingReceipt
	err := s.exec(ctx, "book_ride", passenger, rideFields(rideID), func(tx *storage.Tx) error {
		b, amount, err := s.rides.BookRide(tx, passenger, rideID, seats, value)
		if err != nil {
			return err
		}
		if err := s.escrow.Escrow(tx, rideID, passenger, amount, seats); err != nil {
			return err
		}
		ride, _ := s.rides.Ride(rideID)
		receipt = models.BookingReceipt{
			RideID:         rideID,
			Passenger:      passenger,
			Seats:          b.Seats,
			Amount:         amount,
			AvailableSeats: ride.AvailableSeats,
		}
		return nil
	})
	return receipt, err
}

// CancelRide is driver-only. Every live booking is refunded in full and the
// driver's cancellation count goes up by one.
func (s *System) CancelRide(ctx context.Context, driver models.Address, rideID uint64) ([]models.Booking, error) {
	var refunded []models.Booking
	err := s.exec(ctx, "cancel_ride", driver, rideFields(rideID), func(tx *storage.Tx) error {
		bookings, err := s.rides.CancelRide(tx, driver, rideID, s.now())
		if err != nil {
			return err
		}
		for _, b := range bookings {
			if err := s.escrow.Refund(tx, rideID, b.Passenger); err != nil {
				return err
			}
		}
		s.reputation.RecordRideCancellation(tx, driver)
		refunded = bookings
		return nil
	})
	return refunded, err
}

// CancelBooking cancels the caller's booking. Inside the cancellation window
// the fare goes to the driver; otherwise it is refunded.
func (s *System) CancelBooking(ctx context.Context, passenger models.Address, rideID uint64, clientWithinWindow bool) (models.Booking, error) {
	var booking models.Booking
	err := s.exec(ctx, "cancel_booking", passenger, rideFields(rideID), func(tx *storage.Tx) error {
		ride, ok := s.rides.Ride(rideID)
		if !ok {
			return models.ErrRideNotFound
		}
		now := s.now()
		within := s.withinWindow(ride, now, clientWithinWindow)
		ride, b, err := s.rides.CancelBooking(tx, passenger, rideID, within, now)
		if err != nil {
			return err
		}
		if within {
			err = s.escrow.Release(tx, rideID, passenger, ride.Driver)
		} else {
			err = s.escrow.Refund(tx, rideID, passenger)
		}
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	return booking, err
}

func (s *System) withinWindow(ride models.Ride, now int64, client bool) bool {
	if s.opts.TrustClientWindow {
		return client
	}
	return ride.DepartureTime-now < int64(s.opts.CancellationWindow.Seconds())
}

// CompleteRide settles one passenger's booking: escrow goes to the driver,
// the driver earns the ride reward and a completed ride on their record.
func (s *System) CompleteRide(ctx context.Context, caller models.Address, rideID uint64, passenger models.Address) (models.Booking, error) {
	var booking models.Booking
	fields := rideFields(rideID)
	fields["passenger"] = passenger
	err := s.exec(ctx, "complete_ride", caller, fields, func(tx *storage.Tx) error {
		ride, b, err := s.rides.CompleteRide(tx, caller, rideID, passenger, s.opts.SystemAddress)
		if err != nil {
			return err
		}
		if err := s.escrow.Release(tx, rideID, passenger, ride.Driver); err != nil {
			return err
		}
		if _, err := s.token.RewardDriver(tx, s.opts.SystemAddress, ride.Driver, rideID); err != nil {
			return err
		}
		s.reputation.RecordRideCompletion(tx, ride.Driver)
		booking = b
		return nil
	})
	return booking, err
}

func (s *System) RateUser(ctx context.Context, rater, target models.Address, rating uint8) error {
	return s.exec(ctx, "rate_user", rater, logrus.Fields{"target": target}, func(tx *storage.Tx) error {
		return s.reputation.RateUser(tx, rater, target, rating)
	})
}

// RateDriver is limited to passengers whose booking on the ride completed,
// once per ride.
func (s *System) RateDriver(ctx context.Context, rater, driver models.Address, rating uint8, rideID uint64) error {
	return s.exec(ctx, "rate_driver", rater, rideFields(rideID), func(tx *storage.Tx) error {
		ride, ok := s.rides.Ride(rideID)
		if !ok {
			return models.ErrRideNotFound
		}
		if ride.Driver != driver {
			return models.ErrNotDriver
		}
		b, ok := s.rides.Booking(rideID, rater)
		if !ok || !b.Completed {
			return models.ErrRideNotCompleted
		}
		return s.reputation.RateDriver(tx, rater, driver, rating, rideID)
	})
}

func (s *System) Mint(ctx context.Context, caller, to models.Address, amount uint64) error {
	return s.exec(ctx, "mint", caller, logrus.Fields{"to": to, "amount": amount}, func(tx *storage.Tx) error {
		return s.token.Mint(tx, caller, to, amount)
	})
}

func (s *System) Burn(ctx context.Context, caller models.Address, amount uint64) error {
	return s.exec(ctx, "burn", caller, logrus.Fields{"amount": amount}, func(tx *storage.Tx) error {
		return s.token.Burn(tx, caller, amount)
	})
}

func (s *System) Transfer(ctx context.Context, caller, to models.Address, amount uint64) error {
	return s.exec(ctx, "transfer", caller, logrus.Fields{"to": to, "amount": amount}, func(tx *storage.Tx) error {
		return s.token.Transfer(tx, caller, to, amount)
	})
}

func (s *System) Authorize(ctx context.Context, caller, system models.Address, authorized bool) error {
	return s.exec(ctx, "authorize", caller, logrus.Fields{"system": system, "authorized": authorized}, func(tx *storage.Tx) error {
		return s.token.Authorize(tx, caller, system, authorized)
	})
}

// Deposit funds a wallet. Only the owner and the system address may do it.
func (s *System) Deposit(ctx context.Context, caller, to models.Address, amount uint64) error {
	return s.exec(ctx, "deposit", caller, logrus.Fields{"to": to, "amount": amount}, func(tx *storage.Tx) error {
		if caller != s.opts.Owner && caller != s.opts.SystemAddress {
			return models.ErrNotOwner
		}
		if amount == 0 {
			return models.ErrInvalidAmount
		}
		return s.wallet.Credit(tx, to, amount)
	})
}

func rideFields(rideID uint64) logrus.Fields {
	return logrus.Fields{"ride_id": rideID}
}
