package bus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"github.com/sleepsocial/sleepsocial/internal/errs"
	"github.com/sleepsocial/sleepsocial/internal/events"
	"github.com/sleepsocial/sleepsocial/internal/setup/config"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Handler processes one delivered event. Returning a transient-tagged
// error leaves the entry unacknowledged so the bus redelivers it; any
// other outcome acknowledges.
type Handler interface {
	HandleEvent(ctx context.Context, env *events.Envelope) error
}

const (
	defaultBlockMS        = 5000
	defaultReclaimIdleMS  = 60000
	defaultReclaimEveryMS = 30000
	readBatchSize         = 16
	reclaimBatchSize      = 100

	retryInitialInterval = 100 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
)

// Consumer drives a consumer group over one topic. It runs one goroutine
// per partition: entries within a partition are processed strictly in
// order, partitions run concurrently.
type Consumer struct {
	client       rueidis.Client
	topic        string
	group        string
	consumerName string
	partitions   int
	block        time.Duration
	reclaimIdle  time.Duration
	reclaimEvery time.Duration
	handler      Handler
	logger       *zap.Logger
}

// NewConsumer creates a consumer for the topic within the named group.
// Each process gets a unique consumer name so pending entries of a dead
// process can be reclaimed by the survivors.
func NewConsumer(
	client rueidis.Client, topic, group string, cfg *config.Bus, handler Handler, logger *zap.Logger,
) *Consumer {
	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = DefaultPartitions
	}

	block := time.Duration(cfg.BlockMS) * time.Millisecond
	if block <= 0 {
		block = defaultBlockMS * time.Millisecond
	}

	reclaimIdle := time.Duration(cfg.ReclaimMinIdleMS) * time.Millisecond
	if reclaimIdle <= 0 {
		reclaimIdle = defaultReclaimIdleMS * time.Millisecond
	}

	reclaimEvery := time.Duration(cfg.ReclaimIntervalMS) * time.Millisecond
	if reclaimEvery <= 0 {
		reclaimEvery = defaultReclaimEveryMS * time.Millisecond
	}

	return &Consumer{
		client:       client,
		topic:        topic,
		group:        group,
		consumerName: group + "-" + uuid.NewString()[:8],
		partitions:   partitions,
		block:        block,
		reclaimIdle:  reclaimIdle,
		reclaimEvery: reclaimEvery,
		handler:      handler,
		logger:       logger.Named("bus_consumer").With(zap.String("topic", topic), zap.String("group", group)),
	}
}

// Start creates the consumer groups and runs all partition loops until the
// context is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	for partition := range c.partitions {
		if err := c.ensureGroup(ctx, partition); err != nil {
			return err
		}
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()

	for partition := range c.partitions {
		p.Go(func(ctx context.Context) error {
			return c.runPartition(ctx, partition)
		})
	}

	return p.Wait()
}

// ensureGroup creates the group on a partition's stream, tolerating the
// group already existing.
func (c *Consumer) ensureGroup(ctx context.Context, partition int) error {
	key := streamKey(c.topic, partition)

	err := c.client.Do(ctx,
		c.client.B().XgroupCreate().Key(key).Group(c.group).Id("0").Mkstream().Build(),
	).Error()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group on %s: %w", key, err)
	}

	return nil
}

// runPartition is the sequential delivery loop for one partition. Own
// pending entries (from an earlier transient failure) are always retried
// before new entries are read, preserving in-partition order.
func (c *Consumer) runPartition(ctx context.Context, partition int) error {
	key := streamKey(c.topic, partition)
	logger := c.logger.With(zap.String("stream", key))

	nextReclaim := time.Now().Add(c.reclaimEvery)
	retry := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(retryInitialInterval),
		backoff.WithMaxInterval(retryMaxInterval),
		backoff.WithMaxElapsedTime(0),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if time.Now().After(nextReclaim) {
			c.reclaimAbandoned(ctx, key, logger)

			nextReclaim = time.Now().Add(c.reclaimEvery)
		}

		// Retry our own pending entries first.
		processed, faulted, err := c.consumeOnce(ctx, key, "0", 0, logger)
		if err != nil {
			return err
		}

		if faulted {
			c.waitRetry(ctx, retry.NextBackOff())

			continue
		}

		if processed {
			retry.Reset()

			continue
		}

		// Nothing pending; block for new entries.
		_, faulted, err = c.consumeOnce(ctx, key, ">", c.block, logger)
		if err != nil {
			return err
		}

		if faulted {
			c.waitRetry(ctx, retry.NextBackOff())
		}
	}
}

// waitRetry pauses before the next attempt at a transiently failed entry
// so a persistent failure does not spin the partition loop.
func (c *Consumer) waitRetry(ctx context.Context, d time.Duration) {
	if d < 0 {
		d = retryMaxInterval
	}

	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// consumeOnce reads one batch from the stream and processes it in order.
// Returns whether any entry was read and whether the batch stopped on a
// transient handler failure; a stopped batch leaves the failed entry and
// everything after it pending so they are retried before anything newer.
func (c *Consumer) consumeOnce(
	ctx context.Context, key, fromID string, block time.Duration, logger *zap.Logger,
) (processed, faulted bool, err error) {
	cmd := c.client.B().Xreadgroup().Group(c.group, c.consumerName)

	var built rueidis.Completed
	if block > 0 {
		built = cmd.Count(readBatchSize).Block(block.Milliseconds()).Streams().Key(key).Id(fromID).Build()
	} else {
		built = cmd.Count(readBatchSize).Streams().Key(key).Id(fromID).Build()
	}

	res, err := c.client.Do(ctx, built).AsXRead()
	if err != nil {
		if rueidis.IsRedisNil(err) || ctx.Err() != nil {
			return false, false, nil
		}

		return false, false, fmt.Errorf("failed to read from %s: %w", key, err)
	}

	entries := res[key]
	if len(entries) == 0 {
		return false, false, nil
	}

	for _, entry := range entries {
		if ok := c.process(ctx, key, entry, logger); !ok {
			return true, true, nil
		}
	}

	return true, false, nil
}

// process handles a single stream entry and acknowledges it unless the
// handler reported a transient failure.
func (c *Consumer) process(ctx context.Context, key string, entry rueidis.XRangeEntry, logger *zap.Logger) bool {
	payload, ok := entry.FieldValues[payloadField]
	if !ok {
		logger.Warn("Stream entry missing payload field", zap.String("id", entry.ID))
		c.ack(ctx, key, entry.ID, logger)

		return true
	}

	env, err := events.Unmarshal([]byte(payload))
	if err != nil {
		logger.Error("Failed to decode event envelope", zap.String("id", entry.ID), zap.Error(err))
		c.ack(ctx, key, entry.ID, logger)

		return true
	}

	start := time.Now()

	err = c.handler.HandleEvent(ctx, env)
	if err != nil {
		if errs.IsKind(err, errs.KindTransient) {
			logger.Warn("Transient failure handling event, leaving unacknowledged",
				zap.String("id", entry.ID),
				zap.String("event", env.EventName),
				zap.Error(err))

			return false
		}

		logger.Error("Failed to handle event",
			zap.String("id", entry.ID),
			zap.String("event", env.EventName),
			zap.Error(err))
	} else {
		logger.Debug("Handled event",
			zap.String("id", entry.ID),
			zap.String("event", env.EventName),
			zap.Duration("duration", time.Since(start)))
	}

	c.ack(ctx, key, entry.ID, logger)

	return true
}

func (c *Consumer) ack(ctx context.Context, key, id string, logger *zap.Logger) {
	err := c.client.Do(ctx,
		c.client.B().Xack().Key(key).Group(c.group).Id(id).Build(),
	).Error()
	if err != nil {
		// The entry stays pending and is redelivered; handlers are idempotent.
		logger.Warn("Failed to acknowledge entry", zap.String("id", id), zap.Error(err))
	}
}

// reclaimAbandoned claims entries stuck in dead consumers' pending lists
// onto this consumer so they re-enter its retry path.
func (c *Consumer) reclaimAbandoned(ctx context.Context, key string, logger *zap.Logger) {
	res, err := c.client.Do(ctx,
		c.client.B().Xautoclaim().Key(key).Group(c.group).Consumer(c.consumerName).
			MinIdleTime(strconv.FormatInt(c.reclaimIdle.Milliseconds(), 10)).
			Start("0-0").Count(reclaimBatchSize).Build(),
	).ToArray()
	if err != nil {
		if !rueidis.IsRedisNil(err) {
			logger.Warn("Failed to reclaim abandoned entries", zap.Error(err))
		}

		return
	}

	if len(res) < 2 {
		return
	}

	claimed, err := res[1].AsXRange()
	if err != nil || len(claimed) == 0 {
		return
	}

	logger.Info("Reclaimed abandoned entries", zap.Int("count", len(claimed)))
}
