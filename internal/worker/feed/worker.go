// Package feed contains the worker that materializes per-user feeds from
// the event bus: fan-out of closed sessions, unfollow purges, and backfill
// on new follows.
package feed

import (
	"context"
	"time"

	"github.com/sleepsocial/sleepsocial/internal/bus"
	"github.com/sleepsocial/sleepsocial/internal/events"
	"github.com/sleepsocial/sleepsocial/internal/fanout"
	"github.com/sleepsocial/sleepsocial/internal/feed"
	"github.com/sleepsocial/sleepsocial/internal/setup"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	// FeedUpdatesGroup consumes follow, unfollow and insert events.
	FeedUpdatesGroup = "feed-workers"

	// SessionClosedGroup consumes closed-session events for fan-out.
	SessionClosedGroup = "fanout-workers"
)

// Worker wires the fan-out pipeline to the event bus and runs its
// consumers until the context is canceled.
type Worker struct {
	consumers []*bus.Consumer
	logger    *zap.Logger
}

// New assembles the feed worker from the app's shared dependencies.
func New(app *setup.App) *Worker {
	cfg := &app.Config.Worker
	repo := app.DB.Model()
	logger := app.Logger

	cache := feed.NewCache(app.FeedClient, cfg.Feed.MaxSize, logger)
	freshness := time.Duration(cfg.Feed.FreshnessDays) * 24 * time.Hour

	dispatcher := fanout.NewDispatcher(
		repo.Follow(),
		repo.Session(),
		cache,
		app.Publisher,
		feed.DurationScore,
		freshness,
		cfg.Feed.BatchSize,
		cfg.Feed.FanOutConcurrency,
		logger,
	)

	backfill := fanout.NewBackfill(
		repo.User(),
		repo.Follow(),
		repo.Session(),
		app.Publisher,
		time.Duration(cfg.Feed.BackfillCooldownHours)*time.Hour,
		freshness,
		cfg.Feed.BatchSize,
		logger,
	)

	router := fanout.NewRouter(dispatcher, backfill, logger)

	return &Worker{
		consumers: []*bus.Consumer{
			bus.NewConsumer(app.BusClient, events.TopicFeedUpdates, FeedUpdatesGroup, &cfg.Bus, router, logger),
			bus.NewConsumer(app.BusClient, events.TopicSessionClosed, SessionClosedGroup, &cfg.Bus, router, logger),
		},
		logger: logger.Named("feed_worker"),
	}
}

// Start runs all consumers and blocks until the first one fails or the
// context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting feed worker", zap.Int("consumers", len(w.consumers)))

	p := pool.New().WithContext(ctx).WithCancelOnError()
	for _, consumer := range w.consumers {
		p.Go(consumer.Start)
	}

	return p.Wait()
}
