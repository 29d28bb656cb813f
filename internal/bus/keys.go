package bus

import (
	"fmt"
	"hash/fnv"
)

// DefaultPartitions is the stream partition count per topic when no
// override is configured.
const DefaultPartitions = 8

// partitionFor maps a routing key onto a partition. Events sharing a
// routing key always land on the same partition, which is what gives
// per-user ordering.
func partitionFor(routingKey string, partitions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(routingKey))

	return int(h.Sum32() % uint32(partitions))
}

// streamKey names the Redis stream backing one partition of a topic.
func streamKey(topic string, partition int) string {
	return fmt.Sprintf("bus:%s:%d", topic, partition)
}
