package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"offer-pipeline/internal/config"
)

// DelayQueue holds armed reminders in a Redis sorted set scored by their
// dispatch time. The worker pops due members and delivers them.
type DelayQueue struct {
	client       *redis.Client
	scheduledKey string
}

// NewDelayQueue builds a queue client from config.
func NewDelayQueue(cfg config.Config) *DelayQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewDelayQueueWithClient(client)
}

// NewDelayQueueWithClient wraps an existing client. Tests pass miniredis here.
func NewDelayQueueWithClient(client *redis.Client) *DelayQueue {
	return &DelayQueue{
		client:       client,
		scheduledKey: "reminders:scheduled",
	}
}

// Arm schedules the reminder id for dispatch at the given time. Re-arming an
// id moves it to the new time.
func (q *DelayQueue) Arm(ctx context.Context, reminderID string, at time.Time) error {
	return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: reminderID,
	}).Err()
}

// Disarm removes the reminder from the delay queue. Missing members are a no-op.
func (q *DelayQueue) Disarm(ctx context.Context, reminderID string) error {
	return q.client.ZRem(ctx, q.scheduledKey, reminderID).Err()
}

// PopDue atomically removes and returns up to limit reminders due at now.
func (q *DelayQueue) PopDue(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	res, err := popDueScript.Run(ctx, q.client, []string{q.scheduledKey}, now.UnixMilli(), limit).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type from pop script: %T", res)
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// Depth returns the number of armed reminders.
func (q *DelayQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.scheduledKey).Result()
}

var popDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for i=1,#due do
  redis.call('ZREM', KEYS[1], due[i])
end
return due
`)
