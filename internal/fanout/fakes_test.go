package fanout_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"github.com/sleepsocial/sleepsocial/internal/events"
	"github.com/sleepsocial/sleepsocial/internal/feed"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupFeedCache(t *testing.T, maxSize int) *feed.Cache {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return feed.NewCache(client, maxSize, zap.NewNop())
}

// fakeStore backs all three store interfaces with in-memory maps.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]*types.User
	edges    map[[2]int64]*types.Follow
	sessions map[int64]*types.SleepSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[int64]*types.User),
		edges:    make(map[[2]int64]*types.Follow),
		sessions: make(map[int64]*types.SleepSession),
	}
}

func (f *fakeStore) addUser(id int64, lastBackfill *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.users[id] = &types.User{ID: id, Name: "user", LastBackfillAt: lastBackfill}
}

func (f *fakeStore) addEdge(id, followerID, followeeID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.edges[[2]int64{followerID, followeeID}] = &types.Follow{
		ID:           id,
		UserID:       followerID,
		TargetUserID: followeeID,
	}
}

func (f *fakeStore) removeEdge(followerID, followeeID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.edges, [2]int64{followerID, followeeID})
}

func (f *fakeStore) addSession(session *types.SleepSession) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessions[session.ID] = session
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[id]
	if !ok {
		return nil, types.ErrUserNotFound
	}

	return user, nil
}

func (f *fakeStore) SetLastBackfillAt(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if user, ok := f.users[id]; ok {
		user.LastBackfillAt = &at
	}

	return nil
}

func (f *fakeStore) EdgeExists(_ context.Context, followerID, followeeID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.edges[[2]int64{followerID, followeeID}]

	return ok, nil
}

func (f *fakeStore) GetFollowersPage(
	_ context.Context, followeeID, afterID int64, limit int,
) ([]*types.Follow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var page []*types.Follow

	for _, edge := range f.edges {
		if edge.TargetUserID == followeeID && edge.ID > afterID {
			page = append(page, edge)
		}
	}

	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })

	if len(page) > limit {
		page = page[:limit]
	}

	return page, nil
}

func (f *fakeStore) GetFollowingPage(
	_ context.Context, followerID, afterID int64, limit int,
) ([]*types.Follow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var page []*types.Follow

	for _, edge := range f.edges {
		if edge.UserID == followerID && edge.ID > afterID {
			page = append(page, edge)
		}
	}

	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })

	if len(page) > limit {
		page = page[:limit]
	}

	return page, nil
}

func (f *fakeStore) GetSession(_ context.Context, id int64) (*types.SleepSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[id]
	if !ok {
		return nil, types.ErrSessionNotFound
	}

	return session, nil
}

func (f *fakeStore) GetFreshClosedSessionsPage(
	_ context.Context, userID int64, threshold time.Time, afterID int64, limit int,
) ([]*types.SleepSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var page []*types.SleepSession

	for _, session := range f.sessions {
		if session.UserID == userID && session.Closed() &&
			session.ClockIn.After(threshold) && session.ID > afterID {
			page = append(page, session)
		}
	}

	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })

	if len(page) > limit {
		page = page[:limit]
	}

	return page, nil
}

// capturePublisher records published events instead of sending them.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]events.Event(nil), p.events...)
}

func (p *capturePublisher) inserts() []events.InsertEntry {
	var result []events.InsertEntry

	for _, event := range p.published() {
		if insert, ok := event.(events.InsertEntry); ok {
			result = append(result, insert)
		}
	}

	return result
}

// fakeOpenSession is a session without a clock-out, shared read-only.
var fakeOpenSession = types.SleepSession{
	ID:      20,
	UserID:  2,
	ClockIn: time.Now().UTC().Add(-2 * time.Hour),
}

func newClosedSession(id, userID int64, clockIn time.Time, minutes int64) *types.SleepSession {
	out := clockIn.Add(time.Duration(minutes) * time.Minute)

	return &types.SleepSession{
		ID:       id,
		UserID:   userID,
		ClockIn:  clockIn,
		ClockOut: &out,
	}
}
