package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"selene.app/actioncore/common/logger"
)

type ConsumerConfig struct {
	Stream       string        // Review stream name
	Group        string        // Consumer group name
	Consumer     string        // Consumer name within the group
	DLQStream    string        // Dead letter stream for reviews that keep failing
	BatchSize    int64         // Messages per read
	Block        time.Duration // How long a read blocks waiting for messages
	MaxAttempts  int           // Attempts before a message goes to the DLQ
	RequeueDelay time.Duration // Delay before a failed message is re-added
}

// RedisConsumer reads reviewer decisions from a stream through a consumer
// group. Moving a message (requeue, dead-letter) acks the original and adds
// the copy in one MULTI so a crash cannot lose or duplicate it.
type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig

	mu          sync.Mutex
	claimCursor string
}

func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	c := &RedisConsumer{client: client, cfg: cfg, claimCursor: "0-0"}

	// "0" so a recreated group still sees reviews already on the stream.
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("creating consumer group %s on %s: %w", cfg.Group, cfg.Stream, err)
	}
	return c, nil
}

func (c *RedisConsumer) Config() ConsumerConfig { return c.cfg }

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "actioncore.queue.consumer"})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// ">" reads only new messages; stale pending ones belong to Reclaim.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", c.cfg.Stream, err)
	}

	var raw []redis.XMessage
	for _, s := range streams {
		raw = append(raw, s.Messages...)
	}
	messages := c.decode(ctx, raw)
	if len(messages) > 0 {
		slog.DebugContext(ctx, "read review messages", "count", len(messages))
	}
	return messages, nil
}

// decode parses raw entries. An entry that cannot parse will never parse, so
// it is dead-lettered with its original fields instead of being retried.
func (c *RedisConsumer) decode(ctx context.Context, raw []redis.XMessage) []Message {
	messages := make([]Message, 0, len(raw))
	for _, xm := range raw {
		msg, err := ParseMessage(xm)
		if err != nil {
			slog.ErrorContext(ctx, "unparseable review message, dead-lettering",
				"error", err,
				"raw_message_id", xm.ID)
			values := make(map[string]any, len(xm.Values)+1)
			for k, v := range xm.Values {
				values[k] = v
			}
			values["error"] = err.Error()
			if mvErr := c.move(ctx, xm.ID, c.cfg.DLQStream, values); mvErr != nil {
				slog.ErrorContext(ctx, "failed to dead-letter unparseable message", "error", mvErr)
			}
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", c.cfg.Stream, msg.ID, err)
	}
	return nil
}

// move acks id on the review stream and appends values to dest atomically.
func (c *RedisConsumer) move(ctx context.Context, id, dest string, values map[string]any) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: dest, Values: values})
		pipe.XAck(ctx, c.cfg.Stream, c.cfg.Group, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("move %s to %s: %w", id, dest, err)
	}
	return nil
}

// Requeue re-adds msg to the review stream with the attempt count
// incremented, after RequeueDelay.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	if c.cfg.RequeueDelay > 0 {
		t := time.NewTimer(c.cfg.RequeueDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	values := messageValues(msg, msg.Attempt+1)
	if errMsg != "" {
		values["last_error"] = errMsg
	}
	if err := c.move(ctx, msg.ID, c.cfg.Stream, values); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}

	slog.InfoContext(ctx, "review requeued for retry",
		"next_attempt", msg.Attempt+1,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	values := messageValues(msg, msg.Attempt)
	values["error"] = errMsg
	if err := c.move(ctx, msg.ID, c.cfg.DLQStream, values); err != nil {
		return fmt.Errorf("dead-letter: %w", err)
	}

	slog.ErrorContext(ctx, "review sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

// Reclaim takes over up to count messages idle longer than minIdle. It walks
// the pending list with XAUTOCLAIM, resuming where the previous call stopped
// and wrapping to the start once the list is exhausted.
func (c *RedisConsumer) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	c.mu.Lock()
	start := c.claimCursor
	c.mu.Unlock()

	claimed, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim %s: %w", c.cfg.Stream, err)
	}

	c.mu.Lock()
	c.claimCursor = next
	c.mu.Unlock()

	return c.decode(ctx, claimed), nil
}
