// Package carpool composes the ride registry, escrow, reputation and token
// ledgers behind one authorization boundary. Every mutating method runs as a
// single storage transaction: either all of its steps commit or none do.
package carpool

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ridepool/carpool/internal/escrow"
	"github.com/ridepool/carpool/internal/events"
	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/observability"
	"github.com/ridepool/carpool/internal/reputation"
	"github.com/ridepool/carpool/internal/rides"
	"github.com/ridepool/carpool/internal/storage"
	"github.com/ridepool/carpool/internal/token"
	"github.com/ridepool/carpool/internal/wallet"
)

const (
	DefaultSystemAddress      models.Address = "carpool:system"
	DefaultOwnerAddress       models.Address = "carpool:owner"
	DefaultCancellationWindow                = 24 * time.Hour
)

type Options struct {
	// SystemAddress is the orchestrator's own identity. It may complete
	// rides and issue rewards.
	SystemAddress models.Address
	// Owner controls token minting and wallet deposits.
	Owner              models.Address
	BookingPolicy      rides.BookingPolicy
	CancellationWindow time.Duration
	// TrustClientWindow takes the caller's within-window flag at face value
	// instead of deriving it from the departure time.
	TrustClientWindow bool
	RewardPerRide     uint64
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SystemAddress.IsZero() {
		o.SystemAddress = DefaultSystemAddress
	}
	if o.Owner.IsZero() {
		o.Owner = DefaultOwnerAddress
	}
	if o.BookingPolicy == "" {
		o.BookingPolicy = rides.PolicyOverwrite
	}
	if o.CancellationWindow <= 0 {
		o.CancellationWindow = DefaultCancellationWindow
	}
	if o.RewardPerRide == 0 {
		o.RewardPerRide = token.DefaultRewardPerRide
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type System struct {
	store *storage.Store
	opts  Options
	pub   events.Publisher
	log   *logrus.Entry

	wallet     *wallet.Ledger
	escrow     *escrow.Ledger
	reputation *reputation.Ledger
	token      *token.Ledger
	rides      *rides.Registry
}

// New registers every ledger table on store. Call Restore on the store
// afterwards if state is loaded from a database, then Bootstrap.
func New(store *storage.Store, opts Options, pub events.Publisher, log *logrus.Entry) *System {
	opts = opts.withDefaults()
	if pub == nil {
		pub = events.Discard{}
	}
	w := wallet.New(store)
	return &System{
		store:      store,
		opts:       opts,
		pub:        pub,
		log:        log,
		wallet:     w,
		escrow:     escrow.New(store, w),
		reputation: reputation.New(store),
		token:      token.New(store, opts.Owner, opts.RewardPerRide),
		rides:      rides.NewRegistry(store, opts.BookingPolicy),
	}
}

func (s *System) Options() Options { return s.opts }

func (s *System) now() int64 { return s.opts.Now().Unix() }

// Bootstrap mints the initial token supply and authorizes the system
// address to issue rewards. It is safe to call on every start.
func (s *System) Bootstrap(ctx context.Context) error {
	return s.exec(ctx, "bootstrap", s.opts.Owner, nil, func(tx *storage.Tx) error {
		if err := s.token.Bootstrap(tx); err != nil {
			return err
		}
		if s.token.IsAuthorized(s.opts.SystemAddress) {
			return nil
		}
		return s.token.Authorize(tx, s.opts.Owner, s.opts.SystemAddress, true)
	})
}

func (s *System) exec(ctx context.Context, op string, caller models.Address, fields logrus.Fields, fn func(tx *storage.Tx) error) error {
	start := time.Now()
	var evs []models.Event
	var err error = models.ErrInvalidAddress
	if !caller.IsZero() {
		evs, err = s.store.Update(ctx, fn)
	}
	elapsed := time.Since(start)
	observability.OperationLatency.WithLabelValues(op).Observe(elapsed.Seconds())

	log := s.log.WithFields(fields).WithFields(logrus.Fields{
		"op":          op,
		"caller":      caller,
		"duration_ms": elapsed.Milliseconds(),
	})
	if err != nil {
		observability.OperationsTotal.WithLabelValues(op, outcome(err)).Inc()
		if models.KindOf(err) == 0 {
			log.WithError(err).Error("operation failed")
		} else {
			log.WithField("code", models.CodeOf(err)).Warn("operation rejected")
		}
		return err
	}
	observability.OperationsTotal.WithLabelValues(op, "ok").Inc()
	log.Info("operation committed")
	s.publish(ctx, evs)
	return nil
}

func outcome(err error) string {
	if k := models.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}

// publish stamps and delivers committed events. Failures are logged and
// never surface to the caller.
func (s *System) publish(ctx context.Context, evs []models.Event) {
	if len(evs) == 0 {
		return
	}
	at := s.now()
	refreshOpen := false
	for i := range evs {
		evs[i].ID = uuid.NewString()
		evs[i].At = at
		switch evs[i].Type {
		case models.EventEscrowHeld:
			observability.EscrowHeldTotal.Add(float64(evs[i].Amount))
		case models.EventEscrowReleased:
			observability.EscrowReleasedTotal.Add(float64(evs[i].Amount))
		case models.EventEscrowRefunded:
			observability.EscrowRefundedTotal.Add(float64(evs[i].Amount))
		case models.EventRewardIssued:
			observability.TokensRewardedTotal.Add(float64(evs[i].Amount))
		case models.EventRideCreated, models.EventRideBooked, models.EventRideCancelled, models.EventBookingCancelled:
			refreshOpen = true
		}
	}
	if refreshOpen {
		observability.OpenRides.Set(float64(len(s.AvailableRides())))
	}
	if err := s.pub.Publish(context.WithoutCancel(ctx), evs); err != nil {
		observability.EventsPublishFailures.Inc()
		s.log.WithError(err).WithField("events", len(evs)).Warn("publish events")
	}
}
