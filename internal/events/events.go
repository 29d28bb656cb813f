// Package events defines the domain events that drive the feed fan-out
// pipeline and the JSON envelope they travel in.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

// Topic names. Session closures travel on their own topic so the fan-out
// consumer group can scale independently of the per-feed update stream.
const (
	TopicFeedUpdates   = "feed-updates"
	TopicSessionClosed = "session-closed"
)

// Event names carried in the envelope.
const (
	NameFollowCreated = "FollowCreated"
	NameUnfollowed    = "Unfollowed"
	NameSessionClosed = "SleepSessionClosed"
	NameInsertEntry   = "InsertEntry"
)

// Event is implemented by every domain event. The routing key partitions
// the bus so events concerning the same user are delivered in order.
type Event interface {
	Name() string
	Topic() string
	RoutingKey() string
}

// FollowCreated is published when a follow edge is committed.
type FollowCreated struct {
	FollowerID int64 `json:"follower_id"`
	FolloweeID int64 `json:"followee_id"`
}

func (FollowCreated) Name() string  { return NameFollowCreated }
func (FollowCreated) Topic() string { return TopicFeedUpdates }

func (e FollowCreated) RoutingKey() string {
	return strconv.FormatInt(e.FollowerID, 10)
}

// Unfollowed is published when a follow edge is destroyed.
type Unfollowed struct {
	FollowerID int64 `json:"follower_id"`
	FolloweeID int64 `json:"followee_id"`
}

func (Unfollowed) Name() string  { return NameUnfollowed }
func (Unfollowed) Topic() string { return TopicFeedUpdates }

func (e Unfollowed) RoutingKey() string {
	return strconv.FormatInt(e.FollowerID, 10)
}

// SessionClosed is published when a sleep session gains a clock-out time.
type SessionClosed struct {
	OwnerID   int64 `json:"owner_id"`
	SessionID int64 `json:"session_id"`
}

func (SessionClosed) Name() string  { return NameSessionClosed }
func (SessionClosed) Topic() string { return TopicSessionClosed }

func (e SessionClosed) RoutingKey() string {
	return strconv.FormatInt(e.OwnerID, 10)
}

// InsertEntry asks the consumer that owns the target user's partition to
// validate and insert one session into that user's feed.
type InsertEntry struct {
	TargetUserID int64 `json:"target_user_id"`
	SessionID    int64 `json:"session_id"`
}

func (InsertEntry) Name() string  { return NameInsertEntry }
func (InsertEntry) Topic() string { return TopicFeedUpdates }

func (e InsertEntry) RoutingKey() string {
	return strconv.FormatInt(e.TargetUserID, 10)
}

// Envelope is the wire format: {"event_name": ..., "data": ...}.
type Envelope struct {
	EventName string          `json:"event_name"`
	Data      json.RawMessage `json:"data"`
}

// Marshal wraps an event in an envelope and serializes it.
func Marshal(event Event) ([]byte, error) {
	data, err := sonic.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	payload, err := sonic.Marshal(Envelope{
		EventName: event.Name(),
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	return payload, nil
}

// Unmarshal parses an envelope from the wire.
func Unmarshal(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}

	return &env, nil
}

// Decode parses the envelope's data into the given event struct.
func Decode[T any](env *Envelope) (*T, error) {
	var event T
	if err := sonic.Unmarshal(env.Data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", env.EventName, err)
	}

	return &event, nil
}
