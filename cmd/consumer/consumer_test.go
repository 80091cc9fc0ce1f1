package main

import (
	"context"
	"errors"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridepool/carpool/internal/events"
	"github.com/ridepool/carpool/internal/models"
)

// fakeUpdater fails the first failN calls to Apply.
type fakeUpdater struct {
	failN   int
	calls   int
	applied [][]redisOp
}

func (f *fakeUpdater) Apply(ctx context.Context, ops []redisOp) error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("redis down")
	}
	f.applied = append(f.applied, ops)
	return nil
}

func TestApplyWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failN: 2}
	ops := projection(models.Event{Type: models.EventRideCreated, RideID: 3})
	start := time.Now()
	require.NoError(t, applyWithRetry(context.Background(), f, ops, 3, 5*time.Millisecond))
	assert.Equal(t, 3, f.calls)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	require.Len(t, f.applied, 1)
}

func TestApplyWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failN: 5}
	ops := projection(models.Event{Type: models.EventRideCreated})
	require.Error(t, applyWithRetry(context.Background(), f, ops, 3, time.Millisecond))
	assert.Equal(t, 3, f.calls)
}

func TestApplyWithRetrySkipsEmptyProjection(t *testing.T) {
	f := &fakeUpdater{}
	require.NoError(t, applyWithRetry(context.Background(), f, projection(models.Event{Type: models.EventTokensBurned}), 3, time.Millisecond))
	assert.Zero(t, f.calls)
}

func TestProjection(t *testing.T) {
	assert.Equal(t, []redisOp{{kind: opSAdd, key: keyOpenRides, member: "7"}},
		projection(models.Event{Type: models.EventRideCreated, RideID: 7}))

	assert.Equal(t, []redisOp{{kind: opZIncrBy, key: keyRewardBoard, member: "driver", incr: 10}},
		projection(models.Event{Type: models.EventRewardIssued, Subject: "driver", Amount: 10}))

	rated := projection(models.Event{Type: models.EventDriverRated, Subject: "driver", Rating: 4})
	require.Len(t, rated, 2)
	assert.Equal(t, int64(4), rated[0].incr)
	assert.Equal(t, "carpool:driver:driver:stats", rated[0].key)

	held := projection(models.Event{Type: models.EventEscrowHeld, Amount: 200})
	assert.Equal(t, []redisOp{{kind: opHIncrBy, key: keyEscrowTotals, member: "held", incr: 200}}, held)
}

type fakeGateway struct {
	holds    []string
	captured []string
	canceled []string
}

func (g *fakeGateway) Hold(ctx context.Context, amount int64, rideID uint64, payer, key string) (string, error) {
	g.holds = append(g.holds, key)
	return "pi_" + key, nil
}

func (g *fakeGateway) Capture(ctx context.Context, id string) error {
	g.captured = append(g.captured, id)
	return nil
}

func (g *fakeGateway) Cancel(ctx context.Context, id string) error {
	g.canceled = append(g.canceled, id)
	return nil
}

type memIntents map[string]string

func (m memIntents) SaveIntent(ctx context.Context, key, id string) error {
	m[key] = id
	return nil
}

func (m memIntents) Intent(ctx context.Context, key string) (string, bool, error) {
	id, ok := m[key]
	return id, ok, nil
}

func (m memIntents) DeleteIntent(ctx context.Context, key string) error {
	delete(m, key)
	return nil
}

func TestSettlerMirrorsEscrow(t *testing.T) {
	gw, intents := &fakeGateway{}, memIntents{}
	s := &settler{gw: gw, intents: intents}
	ctx := context.Background()

	require.NoError(t, s.handle(ctx, models.Event{ID: "e1", Type: models.EventEscrowHeld, RideID: 1, Actor: "p", Amount: 100}))
	require.NoError(t, s.handle(ctx, models.Event{ID: "e2", Type: models.EventEscrowHeld, RideID: 2, Actor: "p", Amount: 50}))
	assert.Equal(t, []string{"e1", "e2"}, gw.holds)
	assert.Equal(t, "pi_e1", intents["1:p"])

	require.NoError(t, s.handle(ctx, models.Event{Type: models.EventEscrowReleased, RideID: 1, Actor: "p", Subject: "driver"}))
	require.NoError(t, s.handle(ctx, models.Event{Type: models.EventEscrowRefunded, RideID: 2, Actor: "p", Subject: "p"}))
	assert.Equal(t, []string{"pi_e1"}, gw.captured)
	assert.Equal(t, []string{"pi_e2"}, gw.canceled)
	assert.Empty(t, intents)

	// An escrow with no recorded hold is left alone.
	require.NoError(t, s.handle(ctx, models.Event{Type: models.EventEscrowReleased, RideID: 9, Actor: "p"}))
	assert.Len(t, gw.captured, 1)
}

func TestHandleMessageCountsInvalidPayload(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	msgs, err := events.Messages([]models.Event{{ID: "e1", Type: models.EventRideCreated, RideID: 4}})
	require.NoError(t, err)

	f := &fakeUpdater{}
	handleMessage(context.Background(), logger.WithField("test", true), f, nil, msgs[0], 1, time.Millisecond)
	require.Len(t, f.applied, 1)

	bad := msgs[0]
	bad.Value = []byte("{")
	handleMessage(context.Background(), logger.WithField("test", true), f, nil, bad, 1, time.Millisecond)
	assert.Len(t, f.applied, 1)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "invalid message", hook.LastEntry().Message)
}
