package main

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ridepool/carpool/internal/models"
)

const (
	keyRewardBoard  = "carpool:driver_rewards"
	keyOpenRides    = "carpool:open_rides"
	keyEscrowTotals = "carpool:escrow_totals"
	keyIntents      = "carpool:escrow_intents"
)

func driverStatsKey(a models.Address) string { return "carpool:driver:" + a.String() + ":stats" }

type opKind int

const (
	opSAdd opKind = iota
	opSRem
	opZIncrBy
	opHIncrBy
)

// redisOp is one write of the read model. For hashes member is the field.
type redisOp struct {
	kind   opKind
	key    string
	member string
	incr   int64
}

// projection maps an event to the read-model writes it causes.
func projection(e models.Event) []redisOp {
	id := strconv.FormatUint(e.RideID, 10)
	switch e.Type {
	case models.EventRideCreated:
		return []redisOp{{kind: opSAdd, key: keyOpenRides, member: id}}
	case models.EventRideCancelled:
		return []redisOp{
			{kind: opSRem, key: keyOpenRides, member: id},
			{kind: opHIncrBy, key: driverStatsKey(e.Actor), member: "cancelled_rides", incr: 1},
		}
	case models.EventRewardIssued:
		return []redisOp{{kind: opZIncrBy, key: keyRewardBoard, member: e.Subject.String(), incr: int64(e.Amount)}}
	case models.EventBookingCompleted:
		return []redisOp{{kind: opHIncrBy, key: driverStatsKey(e.Actor), member: "completed", incr: 1}}
	case models.EventBookingCancelled:
		return []redisOp{{kind: opHIncrBy, key: driverStatsKey(e.Subject), member: "passenger_cancellations", incr: 1}}
	case models.EventDriverRated:
		return []redisOp{
			{kind: opHIncrBy, key: driverStatsKey(e.Subject), member: "rating_sum", incr: int64(e.Rating)},
			{kind: opHIncrBy, key: driverStatsKey(e.Subject), member: "rating_count", incr: 1},
		}
	case models.EventEscrowHeld:
		return []redisOp{{kind: opHIncrBy, key: keyEscrowTotals, member: "held", incr: int64(e.Amount)}}
	case models.EventEscrowReleased:
		return []redisOp{{kind: opHIncrBy, key: keyEscrowTotals, member: "released", incr: int64(e.Amount)}}
	case models.EventEscrowRefunded:
		return []redisOp{{kind: opHIncrBy, key: keyEscrowTotals, member: "refunded", incr: int64(e.Amount)}}
	default:
		return nil
	}
}

// RedisUpdater applies a batch of read-model writes atomically.
type RedisUpdater interface {
	Apply(ctx context.Context, ops []redisOp) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) Apply(ctx context.Context, ops []redisOp) error {
	_, err := r.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range ops {
			switch op.kind {
			case opSAdd:
				p.SAdd(ctx, op.key, op.member)
			case opSRem:
				p.SRem(ctx, op.key, op.member)
			case opZIncrBy:
				p.ZIncrBy(ctx, op.key, float64(op.incr), op.member)
			case opHIncrBy:
				p.HIncrBy(ctx, op.key, op.member, op.incr)
			}
		}
		return nil
	})
	return err
}

func (r *redisAdapter) SaveIntent(ctx context.Context, key, id string) error {
	return r.c.HSet(ctx, keyIntents, key, id).Err()
}

func (r *redisAdapter) Intent(ctx context.Context, key string) (string, bool, error) {
	id, err := r.c.HGet(ctx, keyIntents, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (r *redisAdapter) DeleteIntent(ctx context.Context, key string) error {
	return r.c.HDel(ctx, keyIntents, key).Err()
}

// applyWithRetry applies ops with exponential backoff between attempts.
func applyWithRetry(ctx context.Context, rc RedisUpdater, ops []redisOp, attempts int, delay time.Duration) error {
	if len(ops) == 0 {
		return nil
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = rc.Apply(ctx, ops); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
