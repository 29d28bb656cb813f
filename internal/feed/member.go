package feed

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Entry is one feed member: a closed sleep session fanned into a user's
// feed. The encoded form doubles as the sorted-set member, so encoding must
// be deterministic for the same session to keep re-inserts idempotent.
type Entry struct {
	SessionID  int64
	ProducerID int64
	Timestamp  time.Time
	Score      float64
}

// member is the wire form stored in the sorted set.
type member struct {
	ID  int64  `json:"id"`
	UID int64  `json:"uid"`
	TS  string `json:"ts"`
}

// encodeMember serializes an entry into its sorted-set member string.
// The timestamp is truncated to whole seconds so every producer of the
// same session emits identical bytes.
func encodeMember(entry Entry) (string, error) {
	data, err := sonic.Marshal(member{
		ID:  entry.SessionID,
		UID: entry.ProducerID,
		TS:  entry.Timestamp.UTC().Truncate(time.Second).Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode feed member: %w", err)
	}

	return string(data), nil
}

// decodeMember parses a sorted-set member string back into an entry.
func decodeMember(raw string, score float64) (Entry, error) {
	var m member
	if err := sonic.UnmarshalString(raw, &m); err != nil {
		return Entry{}, fmt.Errorf("failed to decode feed member: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, m.TS)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to parse feed member timestamp: %w", err)
	}

	return Entry{
		SessionID:  m.ID,
		ProducerID: m.UID,
		Timestamp:  ts,
		Score:      score,
	}, nil
}
