// Package presence derives online/offline transitions from the session
// registry and broadcasts them.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/session"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/pubsub"
)

// Broadcaster delivers a message to every local client except the given connections.
type Broadcaster interface {
	Broadcast(message interface{}, excludeConnIDs ...string) error
}

// Config holds tracker configuration.
type Config struct {
	InstanceID string
	// OfflineGrace delays the offline announcement; a reconnect inside the
	// window cancels it.
	OfflineGrace time.Duration
	// HeartbeatInterval is how often the store entries of local users are refreshed.
	HeartbeatInterval time.Duration
}

// Tracker announces presence transitions. A user is announced online when
// their first session appears on any instance and offline when their last
// session on every instance is gone. Local transitions are serialized so
// that a reconnect racing a stale disconnect cannot leave other users seeing
// the wrong final state.
type Tracker struct {
	registry    *session.Registry
	broadcaster Broadcaster
	store       Store
	publisher   pubsub.Publisher
	config      Config

	mu        sync.Mutex
	timers    map[uint64]*time.Timer // userID -> pending offline announcement
	announced map[uint64]bool        // users local peers currently see online
	seq       uint64

	storeMu sync.Mutex
	written map[uint64]storeMark // userID -> last store write applied
}

type storeMark struct {
	seq uint64
	at  time.Time
}

// NewTracker creates a tracker. store and publisher may be nil.
func NewTracker(reg *session.Registry, b Broadcaster, store Store, publisher pubsub.Publisher, cfg Config) *Tracker {
	return &Tracker{
		registry:    reg,
		broadcaster: b,
		store:       store,
		publisher:   publisher,
		config:      cfg,
		timers:      make(map[uint64]*time.Timer),
		announced:   make(map[uint64]bool),
		written:     make(map[uint64]storeMark),
	}
}

// Connect binds h to userID and announces the user online when this is
// their first live session anywhere.
func (t *Tracker) Connect(ctx context.Context, userID uint64, h session.Handle) session.Binding {
	t.mu.Lock()
	binding := t.registry.Bind(userID, h)
	seq := t.nextSeqLocked()
	first := binding.Sessions == 1 && !binding.Rebound
	if first {
		// A pending offline means others never saw the user leave.
		t.cancelTimerLocked(userID)
	}
	pending := first && !t.announced[userID]
	t.mu.Unlock()

	// Other instances are read before this one is recorded, so two instances
	// connecting at once both announce rather than neither.
	remote := 0
	if pending {
		remote = t.remoteSessions(ctx, userID)
	}
	t.syncStore(ctx, userID, binding.Sessions, seq)
	if pending {
		t.settleOnline(ctx, userID, binding.Sessions, remote)
	}
	return binding
}

// Disconnect unbinds h. ok is false when h was not bound.
func (t *Tracker) Disconnect(ctx context.Context, h session.Handle) (userID uint64, remaining int, ok bool) {
	t.mu.Lock()
	userID, remaining, ok = t.registry.Unbind(h)
	if !ok {
		t.mu.Unlock()
		return 0, 0, false
	}
	seq := t.nextSeqLocked()
	settle := false
	if remaining == 0 && t.announced[userID] {
		if t.config.OfflineGrace > 0 {
			t.scheduleOfflineLocked(userID)
		} else {
			settle = true
		}
	}
	t.mu.Unlock()

	t.syncStore(ctx, userID, remaining, seq)
	if settle {
		t.settleOffline(ctx, userID)
	}
	return userID, remaining, true
}

// Status reports whether the user is online on any instance and how many
// sessions they hold. Without a store only local sessions are counted.
func (t *Tracker) Status(ctx context.Context, userID uint64) (online bool, sessions int) {
	local := t.registry.Count(userID)
	if t.store == nil {
		return local > 0, local
	}

	total, err := t.store.Sessions(ctx, userID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Uint64(log.FieldUserID, userID).Msg("presence store lookup failed, using local sessions")
		return local > 0, local
	}
	if total < local {
		total = local
	}
	return total > 0, total
}

// Run refreshes store entries of local users until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	if t.store == nil || t.config.HeartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.store.Refresh(ctx, t.registry.Online()); err != nil {
				l := log.Ctx(ctx)
				l.Warn().Err(err).Msg("failed to refresh presence entries")
			}
			t.pruneWritten(t.config.HeartbeatInterval)
		}
	}
}

// Stop cancels pending offline announcements.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for userID, timer := range t.timers {
		timer.Stop()
		delete(t.timers, userID)
	}
}

// settleOnline announces userID online unless local peers already see them
// online or another instance already holds a session.
func (t *Tracker) settleOnline(ctx context.Context, userID uint64, sessions, remote int) {
	t.mu.Lock()
	if t.registry.Count(userID) == 0 || t.announced[userID] {
		t.mu.Unlock()
		return
	}
	t.announced[userID] = true
	// With remote sessions the owning instance already announced the user
	// and the relay forwarded it here.
	announce := remote == 0
	if announce {
		t.broadcastLocked(ctx, domain.EventPresenceOnline, userID)
	}
	t.mu.Unlock()

	if announce {
		t.publish(ctx, pubsub.EventPresenceOnline, userID, sessions)
	}
}

// settleOffline announces userID offline once no instance holds a session.
func (t *Tracker) settleOffline(ctx context.Context, userID uint64) {
	remote := t.remoteSessions(ctx, userID)

	t.mu.Lock()
	_, waiting := t.timers[userID]
	if t.registry.Count(userID) > 0 || !t.announced[userID] || waiting {
		t.mu.Unlock()
		return
	}
	delete(t.announced, userID)
	announce := remote == 0
	if announce {
		t.broadcastLocked(ctx, domain.EventPresenceOffline, userID)
	}
	t.mu.Unlock()

	if announce {
		t.publish(ctx, pubsub.EventPresenceOffline, userID, 0)
	}
}

// applyRemote forwards a transition announced by another instance to local
// clients unless it contradicts what this instance knows.
func (t *Tracker) applyRemote(ctx context.Context, event string, userID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	local := t.registry.Count(userID)
	switch event {
	case domain.EventPresenceOnline:
		if local > 0 || t.announced[userID] {
			return
		}
	case domain.EventPresenceOffline:
		// Still live here, or a grace timer here will settle it.
		if local > 0 || t.announced[userID] {
			return
		}
	default:
		return
	}
	t.broadcastLocked(ctx, event, userID)
}

func (t *Tracker) remoteSessions(ctx context.Context, userID uint64) int {
	if t.store == nil {
		return 0
	}
	n, err := t.store.RemoteSessions(ctx, userID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Uint64(log.FieldUserID, userID).Msg("presence store lookup failed, deciding on local sessions")
		return 0
	}
	return n
}

func (t *Tracker) nextSeqLocked() uint64 {
	t.seq++
	return t.seq
}

func (t *Tracker) scheduleOfflineLocked(userID uint64) {
	t.cancelTimerLocked(userID)

	var timer *time.Timer
	timer = time.AfterFunc(t.config.OfflineGrace, func() {
		t.mu.Lock()
		if current, ok := t.timers[userID]; !ok || current != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, userID)
		t.mu.Unlock()

		t.settleOffline(context.Background(), userID)
	})
	t.timers[userID] = timer
}

func (t *Tracker) cancelTimerLocked(userID uint64) bool {
	timer, ok := t.timers[userID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, userID)
	return true
}

// broadcastLocked announces a transition to every local client that does
// not belong to the user.
func (t *Tracker) broadcastLocked(ctx context.Context, event string, userID uint64) {
	l := log.Ctx(ctx)

	exclude := lo.Map(t.registry.LookupAll(userID), func(h session.Handle, _ int) string {
		return h.ConnID()
	})

	msg := domain.NewOutbound(event, &domain.PresencePayload{UserID: userID})
	if err := t.broadcaster.Broadcast(msg, exclude...); err != nil {
		l.Warn().Err(err).Str(log.FieldEvent, event).Uint64(log.FieldUserID, userID).Msg("failed to broadcast presence")
		return
	}
	l.Info().Str(log.FieldEvent, event).Uint64(log.FieldUserID, userID).Msg("presence changed")
}

// syncStore writes the user's local count. seq orders writes made outside
// the tracker lock; a write older than one already applied is skipped.
func (t *Tracker) syncStore(ctx context.Context, userID uint64, sessions int, seq uint64) {
	if t.store == nil {
		return
	}
	t.storeMu.Lock()
	defer t.storeMu.Unlock()

	if last, ok := t.written[userID]; ok && last.seq > seq {
		return
	}
	t.written[userID] = storeMark{seq: seq, at: time.Now()}
	if err := t.store.SetSessions(ctx, userID, sessions); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Uint64(log.FieldUserID, userID).Msg("failed to update presence store")
	}
}

// pruneWritten forgets write marks of users without local sessions that
// have been quiet for at least age.
func (t *Tracker) pruneWritten(age time.Duration) {
	t.storeMu.Lock()
	defer t.storeMu.Unlock()

	for userID, mark := range t.written {
		if time.Since(mark.at) >= age && t.registry.Count(userID) == 0 {
			delete(t.written, userID)
		}
	}
}

func (t *Tracker) publish(ctx context.Context, eventType string, userID uint64, sessions int) {
	if t.publisher == nil {
		return
	}
	l := log.Ctx(ctx)

	event, err := pubsub.NewEvent(eventType, t.config.InstanceID, &pubsub.PresencePayload{
		UserID:   userID,
		Sessions: sessions,
	})
	if err != nil {
		l.Warn().Err(err).Msg("failed to build presence event")
		return
	}
	if err := t.publisher.Publish(ctx, pubsub.PresenceChannel(domain.FormatID(userID)), event); err != nil {
		l.Warn().Err(err).Uint64(log.FieldUserID, userID).Msg("failed to publish presence event")
	}
}
