// Package feed implements the bounded ranked per-user feed store and the
// read path that serves it. Feeds live in Redis sorted sets, one per user,
// capped at a configured size with lowest-scored members evicted first.
package feed

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/rueidis"
	"github.com/sleepsocial/sleepsocial/internal/errs"
	"go.uber.org/zap"
)

// DefaultMaxSize caps a single user's feed when no override is configured.
const DefaultMaxSize = 5000

// Cache is the keyed collection of ranked feeds. All operations are single
// Redis commands, so concurrent writers to the same feed need no further
// coordination beyond the deterministic member encoding.
type Cache struct {
	client  rueidis.Client
	maxSize int64
	logger  *zap.Logger
}

// NewCache creates a feed cache bounded to maxSize members per user.
func NewCache(client rueidis.Client, maxSize int, logger *zap.Logger) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	return &Cache{
		client:  client,
		maxSize: int64(maxSize),
		logger:  logger.Named("feed_cache"),
	}
}

func feedKey(ownerID int64) string {
	return "feed:" + strconv.FormatInt(ownerID, 10)
}

// Put upserts one entry into the owner's feed. Re-inserting the same
// session with the same score leaves the feed unchanged.
func (c *Cache) Put(ctx context.Context, ownerID int64, entry Entry, score float64) error {
	m, err := encodeMember(entry)
	if err != nil {
		return err
	}

	err = c.client.Do(ctx,
		c.client.B().Zadd().Key(feedKey(ownerID)).ScoreMember().ScoreMember(score, m).Build(),
	).Error()
	if err != nil {
		return errs.WrapMsg(errs.KindTransient, "failed to add feed entry", err)
	}

	return nil
}

// Query returns one page of the owner's feed ordered by score descending,
// ties broken by session ID descending. A negative limit returns everything
// from offset onward. The tie break is applied within the requested page
// only: equal-score entries that straddle a page boundary keep Redis's
// lexicographic member order across pages.
func (c *Cache) Query(ctx context.Context, ownerID int64, offset, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit >= 0 {
		stop = int64(offset + limit - 1)
	}

	scores, err := c.client.Do(ctx,
		c.client.B().Zrevrange().Key(feedKey(ownerID)).Start(int64(offset)).Stop(stop).Withscores().Build(),
	).AsZScores()
	if err != nil {
		return nil, errs.WrapMsg(errs.KindTransient, "failed to range feed", err)
	}

	entries := make([]Entry, 0, len(scores))

	for _, zs := range scores {
		entry, err := decodeMember(zs.Member, zs.Score)
		if err != nil {
			return nil, fmt.Errorf("corrupt feed member for user %d: %w", ownerID, err)
		}

		entries = append(entries, entry)
	}

	// Redis breaks score ties lexicographically over the encoded member;
	// re-sort the page so ties land on session ID descending.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}

		return entries[i].SessionID > entries[j].SessionID
	})

	return entries, nil
}

// Remove deletes the given entries from the owner's feed. Removing members
// that are not present is not an error, and an empty list is a no-op.
func (c *Cache) Remove(ctx context.Context, ownerID int64, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	members := make([]string, len(entries))

	for i, entry := range entries {
		m, err := encodeMember(entry)
		if err != nil {
			return err
		}

		members[i] = m
	}

	err := c.client.Do(ctx,
		c.client.B().Zrem().Key(feedKey(ownerID)).Member(members...).Build(),
	).Error()
	if err != nil {
		return errs.WrapMsg(errs.KindTransient, "failed to remove feed entries", err)
	}

	return nil
}

// Size returns the number of entries in the owner's feed.
func (c *Cache) Size(ctx context.Context, ownerID int64) (int64, error) {
	size, err := c.client.Do(ctx,
		c.client.B().Zcard().Key(feedKey(ownerID)).Build(),
	).ToInt64()
	if err != nil {
		return 0, errs.WrapMsg(errs.KindTransient, "failed to get feed size", err)
	}

	return size, nil
}

// EvictOverflow drops the lowest-scoring members beyond the cap. Called
// opportunistically after writes that can grow the feed, never on reads.
func (c *Cache) EvictOverflow(ctx context.Context, ownerID int64) error {
	size, err := c.Size(ctx, ownerID)
	if err != nil {
		return err
	}

	if size <= c.maxSize {
		return nil
	}

	overflow := size - c.maxSize

	err = c.client.Do(ctx,
		c.client.B().Zremrangebyrank().Key(feedKey(ownerID)).Start(0).Stop(overflow-1).Build(),
	).Error()
	if err != nil {
		return errs.WrapMsg(errs.KindTransient, "failed to evict feed overflow", err)
	}

	c.logger.Debug("Evicted feed overflow",
		zap.Int64("ownerID", ownerID),
		zap.Int64("evicted", overflow))

	return nil
}
