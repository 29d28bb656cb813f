// Package bus provides the partitioned publish/subscribe transport for
// domain events, backed by Redis streams. Each topic is split across a
// fixed number of stream partitions; events are routed by key, delivered
// at least once, and ordered within a partition.
package bus

import (
	"context"

	"github.com/redis/rueidis"
	"github.com/sleepsocial/sleepsocial/internal/errs"
	"github.com/sleepsocial/sleepsocial/internal/events"
	"go.uber.org/zap"
)

// payloadField is the stream entry field holding the event envelope.
const payloadField = "payload"

// Publisher sends domain events to the bus. Publish blocks until the bus
// has durably accepted the event, so a publish inside a database
// transaction makes the commit conditional on delivery.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// StreamPublisher publishes events to partitioned Redis streams.
type StreamPublisher struct {
	client     rueidis.Client
	partitions int
	logger     *zap.Logger
}

// NewPublisher creates a stream publisher.
func NewPublisher(client rueidis.Client, partitions int, logger *zap.Logger) *StreamPublisher {
	if partitions <= 0 {
		partitions = DefaultPartitions
	}

	return &StreamPublisher{
		client:     client,
		partitions: partitions,
		logger:     logger.Named("bus_publisher"),
	}
}

// Publish appends one event to its partition's stream and waits for the
// acknowledgment. A failure is a transient infra error: the caller's
// enclosing transaction must abort rather than commit without fan-out.
func (p *StreamPublisher) Publish(ctx context.Context, event events.Event) error {
	payload, err := events.Marshal(event)
	if err != nil {
		return err
	}

	key := streamKey(event.Topic(), partitionFor(event.RoutingKey(), p.partitions))

	err = p.client.Do(ctx,
		p.client.B().Xadd().Key(key).Id("*").FieldValue().FieldValue(payloadField, string(payload)).Build(),
	).Error()
	if err != nil {
		return errs.WrapMsg(errs.KindTransient, "failed to publish event", err)
	}

	p.logger.Debug("Published event",
		zap.String("event", event.Name()),
		zap.String("stream", key))

	return nil
}
