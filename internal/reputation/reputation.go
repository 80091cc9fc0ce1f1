package reputation

import (
	"math"

	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/storage"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Ledger keeps a running sum/count per subject rather than individual
// ratings, plus completion and cancellation counters for drivers.
type Ledger struct {
	records *storage.Table[models.Address, models.ReputationRecord]
	rated   *storage.Table[models.RatedRideKey, models.RatedRide]
}

func New(store *storage.Store) *Ledger {
	l := &Ledger{
		records: storage.NewTable("reputation_records", func(r models.ReputationRecord) models.Address { return r.Subject }),
		rated: storage.NewTable("rated_rides", func(r models.RatedRide) models.RatedRideKey {
			return models.RatedRideKey{RideID: r.RideID, Rater: r.Rater}
		}),
	}
	store.Register(l.records)
	store.Register(l.rated)
	return l
}

func validRating(rating uint8) bool { return rating >= MinRating && rating <= MaxRating }

// RateUser accepts any rater, any number of times.
func (l *Ledger) RateUser(tx *storage.Tx, rater, target models.Address, rating uint8) error {
	if !validRating(rating) {
		return models.ErrInvalidRating
	}
	if target.IsZero() {
		return models.ErrInvalidAddress
	}
	if err := l.addRating(tx, target, rating); err != nil {
		return err
	}
	tx.Emit(models.Event{Type: models.EventUserRated, Actor: rater, Subject: target, Rating: rating})
	return nil
}

// RateDriver allows one rating per (ride, rater).
func (l *Ledger) RateDriver(tx *storage.Tx, rater, driver models.Address, rating uint8, rideID uint64) error {
	if !validRating(rating) {
		return models.ErrInvalidRating
	}
	if driver.IsZero() {
		return models.ErrInvalidAddress
	}
	if l.HasRated(rideID, rater) {
		return models.ErrAlreadyRated
	}
	if err := l.addRating(tx, driver, rating); err != nil {
		return err
	}
	l.rated.Put(tx, models.RatedRide{RideID: rideID, Rater: rater, Driver: driver, Rating: rating})
	tx.Emit(models.Event{Type: models.EventDriverRated, RideID: rideID, Actor: rater, Subject: driver, Rating: rating})
	return nil
}

func (l *Ledger) addRating(tx *storage.Tx, subject models.Address, rating uint8) error {
	r := l.Record(subject)
	if r.TotalRatingSum > math.MaxUint64-uint64(rating) {
		return models.ErrAmountOverflow
	}
	r.TotalRatingSum += uint64(rating)
	r.RatingCount++
	l.records.Put(tx, r)
	return nil
}

// RecordRideCompletion has no duplicate protection; callers invoke it once
// per resolution event.
func (l *Ledger) RecordRideCompletion(tx *storage.Tx, driver models.Address) {
	r := l.Record(driver)
	r.TotalRides++
	l.records.Put(tx, r)
}

func (l *Ledger) RecordRideCancellation(tx *storage.Tx, driver models.Address) {
	r := l.Record(driver)
	r.CancelledRides++
	l.records.Put(tx, r)
}

func (l *Ledger) Record(subject models.Address) models.ReputationRecord {
	r, ok := l.records.Get(subject)
	if !ok {
		r.Subject = subject
	}
	return r
}

func (l *Ledger) AverageRating(subject models.Address) uint64 {
	return l.Record(subject).AverageRating()
}

func (l *Ledger) DriverStats(driver models.Address) models.DriverStats {
	r := l.Record(driver)
	return models.DriverStats{
		AvgRating:      r.AverageRating(),
		TotalRides:     r.TotalRides,
		CancelledRides: r.CancelledRides,
	}
}

func (l *Ledger) HasRated(rideID uint64, rater models.Address) bool {
	_, ok := l.rated.Get(models.RatedRideKey{RideID: rideID, Rater: rater})
	return ok
}
