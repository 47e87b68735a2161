package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Delivery is one stream entry handed to a Handler. The entry stays pending
// until Ack is called.
type Delivery struct {
	Stream string
	ID     string
	Data   []byte

	ack func(ctx context.Context) error
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Handler receives stream entries. A returned error means the entry can never
// be processed; it is dead-lettered and acknowledged.
type Handler interface {
	Handle(ctx context.Context, d *Delivery) error
}

type HandlerFunc func(ctx context.Context, d *Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d *Delivery) error {
	return f(ctx, d)
}

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Handler  Handler
	Logger   zerolog.Logger

	BatchSize            int64
	Block                time.Duration
	PendingCheckInterval time.Duration
	// Entries pending longer than this are reclaimed. Keep it above the job timeout.
	PendingIdleTime time.Duration
	MaxRetries      int
}

// Consumer reads a stream through a consumer group.
type Consumer struct {
	client *redis.Client
	cfg    ConsumerConfig
	log    zerolog.Logger
}

func NewConsumer(client *redis.Client, cfg ConsumerConfig) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = StreamInbound
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.PendingCheckInterval <= 0 {
		cfg.PendingCheckInterval = 30 * time.Second
	}
	if cfg.PendingIdleTime <= 0 {
		cfg.PendingIdleTime = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Consumer{
		client: client,
		cfg:    cfg,
		log: cfg.Logger.With().
			Str("component", "stream_consumer").
			Str("stream", cfg.Stream).
			Str("consumer", cfg.Consumer).
			Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().Str("group", c.cfg.Group).Int64("batch", c.cfg.BatchSize).Msg("starting consumer")

	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	go c.reclaimLoop(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from stream")
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.dispatch(ctx, msg)
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, msg redis.XMessage) {
	d := &Delivery{
		Stream: c.cfg.Stream,
		ID:     msg.ID,
		ack: func(ctx context.Context) error {
			return c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err()
		},
	}

	data, ok := msg.Values[dataField].(string)
	if !ok {
		c.deadLetter(ctx, msg, "missing data field")
		return
	}
	d.Data = []byte(data)

	if err := c.cfg.Handler.Handle(ctx, d); err != nil {
		c.log.Error().Err(err).Str("id", msg.ID).Msg("unprocessable message")
		c.deadLetter(ctx, msg, err.Error())
	}
}

// reclaimLoop takes over entries left pending by crashed or stuck consumers.
func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reclaim(ctx)
		}
	}
}

func (c *Consumer) reclaim(ctx context.Context) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Idle:   c.cfg.PendingIdleTime,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Error().Err(err).Msg("error listing pending messages")
		}
		return
	}

	for _, p := range pending {
		if int(p.RetryCount) >= c.cfg.MaxRetries {
			msgs, err := c.client.XRange(ctx, c.cfg.Stream, p.ID, p.ID).Result()
			if err == nil && len(msgs) == 1 {
				c.deadLetter(ctx, msgs[0], fmt.Sprintf("exceeded %d deliveries", c.cfg.MaxRetries))
			} else {
				_ = c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, p.ID).Err()
			}
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.PendingIdleTime,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming message")
			continue
		}
		for _, msg := range claimed {
			c.log.Info().Str("id", msg.ID).Int64("retries", p.RetryCount).Msg("reprocessing pending message")
			c.dispatch(ctx, msg)
		}
	}
}

// deadLetter copies the entry to dlq:<stream> and acknowledges it.
func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	values := map[string]interface{}{
		"original_stream": c.cfg.Stream,
		"original_id":     msg.ID,
		"reason":          reason,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.cfg.Consumer,
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: "dlq:" + c.cfg.Stream, Values: values}).Err(); err != nil {
		c.log.Error().Err(err).Str("id", msg.ID).Msg("error moving message to DLQ")
	}
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.log.Error().Err(err).Str("id", msg.ID).Msg("error acknowledging dead-lettered message")
	}
	c.log.Warn().Str("id", msg.ID).Str("reason", reason).Msg("message moved to DLQ")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// NewDelivery builds a Delivery outside the consumer loop.
func NewDelivery(stream, id string, data []byte, ack func(ctx context.Context) error) *Delivery {
	return &Delivery{Stream: stream, ID: id, Data: data, ack: ack}
}
