package main

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/ridepool/carpool/internal/models"
)

// PaymentGateway is the card processor side of an escrow entry.
type PaymentGateway interface {
	Hold(ctx context.Context, amount int64, rideID uint64, payer, idempotencyKey string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// IntentStore remembers which PaymentIntent backs each escrow entry.
type IntentStore interface {
	SaveIntent(ctx context.Context, key, id string) error
	Intent(ctx context.Context, key string) (string, bool, error)
	DeleteIntent(ctx context.Context, key string) error
}

// settler mirrors escrow transitions onto the payment gateway: held becomes
// an authorization, released a capture and refunded a cancel.
type settler struct {
	gw      PaymentGateway
	intents IntentStore
}

func intentKey(rideID uint64, payer models.Address) string {
	return strconv.FormatUint(rideID, 10) + ":" + payer.String()
}

func (s *settler) handle(ctx context.Context, e models.Event) error {
	key := intentKey(e.RideID, e.Actor)
	switch e.Type {
	case models.EventEscrowHeld:
		if e.Amount > math.MaxInt64 {
			return fmt.Errorf("escrow %s: amount %d exceeds gateway range", key, e.Amount)
		}
		id, err := s.gw.Hold(ctx, int64(e.Amount), e.RideID, e.Actor.String(), e.ID)
		if err != nil {
			return fmt.Errorf("hold %s: %w", key, err)
		}
		return s.intents.SaveIntent(ctx, key, id)
	case models.EventEscrowReleased, models.EventEscrowRefunded:
		id, ok, err := s.intents.Intent(ctx, key)
		if err != nil || !ok {
			return err
		}
		if e.Type == models.EventEscrowReleased {
			err = s.gw.Capture(ctx, id)
		} else {
			err = s.gw.Cancel(ctx, id)
		}
		if err != nil {
			return fmt.Errorf("settle %s (%s): %w", key, e.Type, err)
		}
		return s.intents.DeleteIntent(ctx, key)
	default:
		return nil
	}
}
