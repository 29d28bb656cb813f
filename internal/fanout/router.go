package fanout

import (
	"context"

	"github.com/sleepsocial/sleepsocial/internal/database/dbretry"
	"github.com/sleepsocial/sleepsocial/internal/errs"
	"github.com/sleepsocial/sleepsocial/internal/events"
	"go.uber.org/zap"
)

// Router maps decoded event envelopes onto dispatcher and backfill
// handlers. It implements the bus handler contract: transient-tagged
// errors propagate so the entry stays unacknowledged, everything else acks.
type Router struct {
	dispatcher *Dispatcher
	backfill   *Backfill
	logger     *zap.Logger
}

// NewRouter creates an event router over the fan-out components.
func NewRouter(dispatcher *Dispatcher, backfill *Backfill, logger *zap.Logger) *Router {
	return &Router{
		dispatcher: dispatcher,
		backfill:   backfill,
		logger:     logger.Named("fanout_router"),
	}
}

// HandleEvent dispatches one envelope by event name. Untagged store
// errors are promoted to transient so the entry is redelivered instead of
// acknowledged and lost.
func (r *Router) HandleEvent(ctx context.Context, env *events.Envelope) error {
	err := r.route(ctx, env)
	if err != nil && errs.KindOf(err) == errs.KindUnknown && dbretry.IsInfraError(err) {
		return errs.Wrap(errs.KindTransient, err)
	}

	return err
}

func (r *Router) route(ctx context.Context, env *events.Envelope) error {
	switch env.EventName {
	case events.NameFollowCreated:
		event, err := events.Decode[events.FollowCreated](env)
		if err != nil {
			return err
		}

		return r.backfill.HandleFollowCreated(ctx, event.FollowerID, event.FolloweeID)

	case events.NameUnfollowed:
		event, err := events.Decode[events.Unfollowed](env)
		if err != nil {
			return err
		}

		return r.dispatcher.HandleUnfollowed(ctx, event.FollowerID, event.FolloweeID)

	case events.NameSessionClosed:
		event, err := events.Decode[events.SessionClosed](env)
		if err != nil {
			return err
		}

		return r.dispatcher.HandleSessionClosed(ctx, event.OwnerID, event.SessionID)

	case events.NameInsertEntry:
		event, err := events.Decode[events.InsertEntry](env)
		if err != nil {
			return err
		}

		return r.dispatcher.HandleInsertEntry(ctx, event.TargetUserID, event.SessionID)

	default:
		r.logger.Warn("Ignoring unknown event", zap.String("event", env.EventName))
		return nil
	}
}
