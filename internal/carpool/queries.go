package carpool

import (
	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/rides"
	"github.com/ridepool/carpool/internal/token"
)

// TokenInfo describes the reward token.
type TokenInfo struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	TotalSupply   uint64 `json:"total_supply"`
	RewardPerRide uint64 `json:"reward_per_ride"`
}

func (s *System) Ride(id uint64) (ride models.Ride, err error) {
	s.store.View(func() {
		var ok bool
		if ride, ok = s.rides.Ride(id); !ok {
			err = models.ErrRideNotFound
		}
	})
	return ride, err
}

func (s *System) Booking(rideID uint64, passenger models.Address) (b models.Booking, err error) {
	s.store.View(func() {
		var ok bool
		if b, ok = s.rides.Booking(rideID, passenger); !ok {
			err = models.ErrBookingNotFound
		}
	})
	return b, err
}

func (s *System) BookingsByRide(rideID uint64) (out []models.Booking, err error) {
	s.store.View(func() {
		if _, ok := s.rides.Ride(rideID); !ok {
			err = models.ErrRideNotFound
			return
		}
		out = s.rides.BookingsByRide(rideID)
	})
	return out, err
}

func (s *System) RideStatus(rideID uint64) (st models.RideStatus, err error) {
	s.store.View(func() { st, err = s.rides.Status(rideID, s.now()) })
	return st, err
}

func (s *System) AvailableRides() (out []models.Ride) {
	s.store.View(func() { out = s.rides.AvailableRides(s.now()) })
	return out
}

func (s *System) RidesByDriver(driver models.Address) (out []uint64) {
	s.store.View(func() { out = s.rides.RidesByDriver(driver) })
	return out
}

func (s *System) BookingsByPassenger(passenger models.Address) (out []uint64) {
	s.store.View(func() { out = s.rides.BookingsByPassenger(passenger) })
	return out
}

func (s *System) RideCount() (n uint64) {
	s.store.View(func() { n = s.rides.RideCount() })
	return n
}

func (s *System) Escrow(rideID uint64, payer models.Address) (e models.EscrowEntry, err error) {
	s.store.View(func() {
		var ok bool
		if e, ok = s.escrow.Entry(rideID, payer); !ok {
			err = models.ErrEscrowNotFound
		}
	})
	return e, err
}

func (s *System) Reputation(subject models.Address) (r models.ReputationRecord) {
	s.store.View(func() { r = s.reputation.Record(subject) })
	return r
}

func (s *System) AverageRating(subject models.Address) (avg uint64) {
	s.store.View(func() { avg = s.reputation.AverageRating(subject) })
	return avg
}

func (s *System) HasRated(rideID uint64, rater models.Address) (ok bool) {
	s.store.View(func() { ok = s.reputation.HasRated(rideID, rater) })
	return ok
}

func (s *System) DriverInfo(driver models.Address) (info models.DriverInfo) {
	s.store.View(func() {
		info = models.DriverInfo{
			Driver:       driver,
			DriverStats:  s.reputation.DriverStats(driver),
			RewardTotal:  s.token.DriverRewards(driver),
			TokenBalance: s.token.BalanceOf(driver),
		}
	})
	return info
}

func (s *System) TokenBalance(holder models.Address) (b uint64) {
	s.store.View(func() { b = s.token.BalanceOf(holder) })
	return b
}

func (s *System) DriverRewards(driver models.Address) (total uint64) {
	s.store.View(func() { total = s.token.DriverRewards(driver) })
	return total
}

func (s *System) TokenInfo() (info TokenInfo) {
	s.store.View(func() {
		info = TokenInfo{
			Name:          token.Name,
			Symbol:        token.Symbol,
			TotalSupply:   s.token.TotalSupply(),
			RewardPerRide: s.token.RewardPerRide(),
		}
	})
	return info
}

func (s *System) WalletBalance(owner models.Address) (b uint64) {
	s.store.View(func() { b = s.wallet.Balance(owner) })
	return b
}

// Fare prices a booking without touching state.
func (s *System) Fare(rideID uint64, seats uint32) (uint64, error) {
	ride, err := s.Ride(rideID)
	if err != nil {
		return 0, err
	}
	return rides.Fare(seats, ride.PricePerSeat)
}
