package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLeaseTTL is how long a consumer's claims stay reserved after its
// last heartbeat.
const DefaultLeaseTTL = 30 * time.Second

// Connect opens a client for url and verifies it with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}
	return client, nil
}

// ConsumerID returns an id unique to this process: hostname, pid and a
// random suffix. Two workers on one host never share a processing list.
func ConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// RedisOptions configures a RedisQueue.
type RedisOptions struct {
	// Prefix namespaces every key.
	Prefix string
	// Consumer names this process's processing list and lease.
	Consumer string
	// PollTimeout bounds each blocking claim.
	PollTimeout time.Duration
	// LeaseTTL is how long claims survive without a heartbeat. It is
	// raised to three poll timeouts when set lower.
	LeaseTTL time.Duration
}

// RedisQueue is a reliable list queue. Producers RPUSH onto
// <prefix>:pending; a consumer atomically moves a task into its own
// <prefix>:processing:<consumer> list and removes it from there on Ack.
//
// Every consumer holds a lease key <prefix>:lease:<consumer> refreshed by
// Claim and KeepAlive, and is listed in the <prefix>:consumers set. Recover
// returns the processing lists of consumers whose lease has expired to
// pending, so claims of a crashed process are redelivered even when that
// process never comes back.
type RedisQueue struct {
	client      *redis.Client
	prefix      string
	consumer    string
	pending     string
	processing  string
	lease       string
	consumers   string
	pollTimeout time.Duration
	leaseTTL    time.Duration
}

// NewRedisQueue builds a queue for one consumer.
func NewRedisQueue(client *redis.Client, opts RedisOptions) *RedisQueue {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.LeaseTTL < 3*opts.PollTimeout {
		opts.LeaseTTL = 3 * opts.PollTimeout
	}
	if opts.Consumer == "" {
		opts.Consumer = ConsumerID()
	}

	q := &RedisQueue{
		client:      client,
		prefix:      opts.Prefix,
		consumer:    opts.Consumer,
		pending:     opts.Prefix + ":pending",
		consumers:   opts.Prefix + ":consumers",
		pollTimeout: opts.PollTimeout,
		leaseTTL:    opts.LeaseTTL,
	}
	q.processing = q.processingKey(q.consumer)
	q.lease = q.leaseKey(q.consumer)
	return q
}

func (q *RedisQueue) processingKey(consumer string) string {
	return q.prefix + ":processing:" + consumer
}

func (q *RedisQueue) leaseKey(consumer string) string {
	return q.prefix + ":lease:" + consumer
}

// Consumer returns the id this queue claims under.
func (q *RedisQueue) Consumer() string {
	return q.consumer
}

// Enqueue appends a task to the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, args any) error {
	_, raw, err := newTask(name, args)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.pending, raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	return nil
}

// Claim refreshes this consumer's lease and blocks up to the poll timeout
// for the next task.
func (q *RedisQueue) Claim(ctx context.Context) (*Message, error) {
	if err := q.heartbeat(ctx); err != nil {
		return nil, err
	}

	raw, err := q.client.BLMove(ctx, q.pending, q.processing, "LEFT", "RIGHT", q.pollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoTask
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	task, err := decodeTask(raw)
	if err != nil {
		if rerr := q.client.LRem(ctx, q.processing, 1, raw).Err(); rerr != nil {
			slog.Warn("failed to drop malformed task", "error", rerr)
		}
		return nil, err
	}
	return &Message{Task: task, raw: raw}, nil
}

// Ack removes a handled task from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, m *Message) error {
	if err := q.client.LRem(ctx, q.processing, 1, m.raw).Err(); err != nil {
		return fmt.Errorf("ack task %s: %w", m.Task.ID, err)
	}
	return nil
}

// heartbeat extends the lease and registers the consumer.
func (q *RedisQueue) heartbeat(ctx context.Context) error {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.lease, time.Now().UTC().Format(time.RFC3339), q.leaseTTL)
		p.SAdd(ctx, q.consumers, q.consumer)
		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh lease %s: %w", q.consumer, err)
	}
	return nil
}

// KeepAlive refreshes the lease every third of its TTL and reclaims the
// lists of expired consumers on the same tick, until ctx is done. Run it
// with a context that outlives the worker so in-flight units stay leased
// while they finish.
func (q *RedisQueue) KeepAlive(ctx context.Context) error {
	ticker := time.NewTicker(q.leaseTTL / 3)
	defer ticker.Stop()

	for {
		if err := q.heartbeat(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("lease refresh failed", "consumer", q.consumer, "error", err)
		}
		if n, err := q.Recover(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("reclaiming expired consumers failed", "error", err)
		} else if n > 0 {
			slog.Warn("requeued tasks of expired consumers", "count", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Release drops the lease. Anything still in the processing list becomes
// reclaimable at once; an empty consumer is unregistered.
func (q *RedisQueue) Release(ctx context.Context) error {
	if err := q.client.Del(ctx, q.lease).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", q.consumer, err)
	}
	n, err := q.client.LLen(ctx, q.processing).Result()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", q.consumer, err)
	}
	if n == 0 {
		return q.client.SRem(ctx, q.consumers, q.consumer).Err()
	}
	return nil
}

// Recover moves the unacknowledged tasks of every consumer whose lease has
// expired back to the head of the pending list and reports how many were
// moved. Live consumers, this one included, are left alone.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	members, err := q.client.SMembers(ctx, q.consumers).Result()
	if err != nil {
		return 0, fmt.Errorf("list consumers: %w", err)
	}

	total := 0
	for _, c := range members {
		if c == q.consumer {
			continue
		}
		alive, err := q.client.Exists(ctx, q.leaseKey(c)).Result()
		if err != nil {
			return total, fmt.Errorf("check lease %s: %w", c, err)
		}
		if alive > 0 {
			continue
		}

		n, err := q.reclaim(ctx, q.processingKey(c))
		total += n
		if err != nil {
			return total, err
		}
		if n > 0 {
			slog.Warn("reclaimed tasks of expired consumer", "consumer", c, "count", n)
		}
		if err := q.client.SRem(ctx, q.consumers, c).Err(); err != nil {
			return total, fmt.Errorf("unregister consumer %s: %w", c, err)
		}
	}
	return total, nil
}

// reclaim moves list back onto the head of pending, oldest claim first.
func (q *RedisQueue) reclaim(ctx context.Context, list string) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, list, q.pending, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover tasks from %s: %w", list, err)
		}
		n++
	}
}

// Len reports the number of pending tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pending).Result()
}

// Ping checks broker connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
