package feed

import (
	"context"
	"sort"
	"time"

	"github.com/sleepsocial/sleepsocial/internal/database/dbretry"
	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"go.uber.org/zap"
)

const (
	// DefaultLimit is the page size when the caller does not supply one.
	DefaultLimit = 20

	// LimitBuffer is how many extra entries each cache read fetches to
	// tolerate entries that expire at read time. When more than this many
	// entries in the window are expired the page comes back short even if
	// more live entries exist beyond the buffer; callers page onward.
	LimitBuffer = 50
)

// SessionLoader batch-loads enriched session rows for the read-through step.
type SessionLoader interface {
	GetSessionsWithUsers(ctx context.Context, ids []int64) ([]*types.SleepSession, error)
}

// Reader serves precomputed feed pages with lazy eviction of expired
// entries.
type Reader struct {
	cache     *Cache
	loader    SessionLoader
	freshness time.Duration
	logger    *zap.Logger
}

// Page is one page of enriched feed results.
type Page struct {
	Sessions []*types.SleepSession
	Limit    int
	Offset   int
}

// NewReader creates a feed reader. freshness is the age cutoff beyond which
// entries are dropped from the feed at read time.
func NewReader(cache *Cache, loader SessionLoader, freshness time.Duration, logger *zap.Logger) *Reader {
	return &Reader{
		cache:     cache,
		loader:    loader,
		freshness: freshness,
		logger:    logger.Named("feed_reader"),
	}
}

// Query returns one page of the user's feed, sorted by score descending
// with ties broken by session ID descending. Expired entries found in the
// window are removed from the cache as a side effect.
func (r *Reader) Query(ctx context.Context, userID int64, limit, offset int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	if offset < 0 {
		offset = 0
	}

	entries, err := r.cache.Query(ctx, userID, offset, limit+LimitBuffer)
	if err != nil {
		return nil, err
	}

	threshold := time.Now().UTC().Add(-r.freshness)

	live := make([]Entry, 0, len(entries))
	expired := make([]Entry, 0)

	for _, entry := range entries {
		if entry.Timestamp.Before(threshold) {
			expired = append(expired, entry)
		} else {
			live = append(live, entry)
		}
	}

	if len(expired) > 0 {
		if err := r.cache.Remove(ctx, userID, expired); err != nil {
			return nil, err
		}

		r.logger.Debug("Removed expired feed entries",
			zap.Int64("userID", userID),
			zap.Int("expired", len(expired)))
	}

	if len(live) > limit {
		live = live[:limit]
	}

	ids := make([]int64, len(live))
	scores := make(map[int64]float64, len(live))

	for i, entry := range live {
		ids[i] = entry.SessionID
		scores[entry.SessionID] = entry.Score
	}

	sessions, err := dbretry.Operation(ctx, func(ctx context.Context) ([]*types.SleepSession, error) {
		return r.loader.GetSessionsWithUsers(ctx, ids)
	})
	if err != nil {
		return nil, err
	}

	// Deterministic regardless of loader order.
	sort.SliceStable(sessions, func(i, j int) bool {
		si, sj := scores[sessions[i].ID], scores[sessions[j].ID]
		if si != sj {
			return si > sj
		}

		return sessions[i].ID > sessions[j].ID
	})

	return &Page{
		Sessions: sessions,
		Limit:    limit,
		Offset:   offset,
	}, nil
}
