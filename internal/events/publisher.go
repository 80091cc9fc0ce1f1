// Package events delivers committed carpool events to downstream
// consumers. Delivery is best effort and happens after the state change
// that produced the events is durable.
package events

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/ridepool/carpool/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, events []models.Event) error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, events []models.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes each event at debug level.
type LogPublisher struct {
	Log *logrus.Entry
}

func (p LogPublisher) Publish(_ context.Context, events []models.Event) error {
	for _, e := range events {
		p.Log.WithFields(logrus.Fields{
			"event_id": e.ID,
			"type":     e.Type,
			"ride_id":  e.RideID,
			"actor":    e.Actor,
			"subject":  e.Subject,
			"amount":   e.Amount,
		}).Debug("event")
	}
	return nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, []models.Event) error { return nil }
