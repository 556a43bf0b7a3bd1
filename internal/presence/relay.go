package presence

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/pubsub"
)

// Relay forwards presence transitions published by other instances to
// local clients through the tracker, which drops those that contradict local
// sessions.
type Relay struct {
	subscriber pubsub.Subscriber
	tracker    *Tracker
	instanceID string
	doneCh     chan struct{}
}

// NewRelay creates a relay. Events whose source is instanceID are ignored.
func NewRelay(sub pubsub.Subscriber, tracker *Tracker, instanceID string) *Relay {
	return &Relay{
		subscriber: sub,
		tracker:    tracker,
		instanceID: instanceID,
		doneCh:     make(chan struct{}),
	}
}

// Done returns a channel that is closed when Run() exits.
func (r *Relay) Done() <-chan struct{} { return r.doneCh }

// Run relays events until ctx is done. Resubscribes on errors.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.doneCh)
	l := log.L()

	for {
		err := r.runSubscription(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.Warn().Err(err).Msg("presence relay subscription error, reconnecting in 2s")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (r *Relay) runSubscription(ctx context.Context) error {
	events, err := r.subscriber.SubscribePattern(ctx, pubsub.PatternPresence)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			r.handleEvent(ctx, event)
		}
	}
}

func (r *Relay) handleEvent(ctx context.Context, event *pubsub.Event) {
	if event == nil || event.Source == r.instanceID {
		return
	}
	l := log.L()

	var name string
	switch event.Type {
	case pubsub.EventPresenceOnline:
		name = domain.EventPresenceOnline
	case pubsub.EventPresenceOffline:
		name = domain.EventPresenceOffline
	default:
		return
	}

	var payload pubsub.PresencePayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		l.Warn().Err(err).Msg("presence relay: invalid payload")
		return
	}

	r.tracker.applyRemote(ctx, name, payload.UserID)
}
