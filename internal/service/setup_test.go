package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/chatroom"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/presence"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/repository"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/session"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/testutil"
)

// recordingBroadcaster captures presence broadcasts.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(message interface{}, excludeConnIDs ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, message.(*domain.Outbound).Event)
	return nil
}

type env struct {
	users    *repository.GormUserRepository
	devices  *repository.GormDeviceRepository
	rooms    *repository.GormChatroomRepository
	messages *repository.GormMessageRepository
	resolver *chatroom.Resolver
	registry *session.Registry
	tracker  *presence.Tracker
	presence *recordingBroadcaster
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	reg := session.NewRegistry()
	b := &recordingBroadcaster{}
	rooms := repository.NewGormChatroomRepository(db)
	return &env{
		users:    repository.NewGormUserRepository(db),
		devices:  repository.NewGormDeviceRepository(db),
		rooms:    rooms,
		messages: repository.NewGormMessageRepository(db),
		resolver: chatroom.NewResolver(rooms),
		registry: reg,
		tracker:  presence.NewTracker(reg, b, nil, nil, presence.Config{InstanceID: "test"}),
		presence: b,
	}
}

func (e *env) user(t *testing.T, memberID, name string) *domain.User {
	t.Helper()
	u, _, err := e.users.FindOrCreate(context.Background(), &domain.User{MemberID: memberID, Name: name})
	require.NoError(t, err)
	return u
}

func (e *env) connect(userID uint64, connID string) *testutil.FakeHandle {
	h := testutil.NewFakeHandle(connID)
	e.tracker.Connect(context.Background(), userID, h)
	return h
}

func (e *env) connections() ConnectionService {
	return NewConnectionService(e.users, e.devices, e.resolver, e.registry, e.tracker, false)
}

func sendText(from uint64, to, body string) *domain.SendRequest {
	return &domain.SendRequest{
		To:       domain.Recipient{UserID: domain.ExternalID(to)},
		Message:  body,
		From:     from,
		Type:     domain.MessageTypeText,
		ChatType: domain.ChatTypeDirect,
	}
}
