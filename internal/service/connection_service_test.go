package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/testutil"
)

func TestConnectionService_Join_Binds_Session_Without_Replaying_Messages(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	svc := e.connections()
	h := testutil.NewFakeHandle("c1")

	// When a new member joins with a device
	joined, err := svc.Join(ctx, h, &domain.JoinRequest{
		UserID: "member-1",
		Name:   "Ann",
		Device: &domain.DeviceInfo{Token: "ExponentPushToken[1]", DeviceID: "d1", TokenType: domain.TokenTypeExpo},
	})

	// Then the user exists, is online and nothing is pushed down the socket
	req.NoError(err)
	req.NotZero(joined.UserID)
	req.Nil(joined.RoomID)
	req.Empty(h.FramesFor(domain.EventMessageNew))

	bound, ok := e.registry.LookupUser(h)
	req.True(ok)
	req.Equal(joined.UserID, bound)
	req.Equal([]string{domain.EventPresenceOnline}, e.presence.events)

	devices, err := e.devices.ListByUser(ctx, joined.UserID)
	req.NoError(err)
	req.Len(devices, 1)
}

func TestConnectionService_Join_Twice_Keeps_One_Device(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	svc := e.connections()
	device := &domain.DeviceInfo{Token: "tok", DeviceID: "d1", TokenType: domain.TokenTypeExpo}

	first, err := svc.Join(ctx, testutil.NewFakeHandle("c1"), &domain.JoinRequest{UserID: "member-1", Device: device})
	req.NoError(err)
	second, err := svc.Join(ctx, testutil.NewFakeHandle("c2"), &domain.JoinRequest{UserID: "member-1", Device: device})
	req.NoError(err)

	req.Equal(first.UserID, second.UserID)
	devices, err := e.devices.ListByUser(ctx, first.UserID)
	req.NoError(err)
	req.Len(devices, 1)
	// Second session of the same user is not a presence transition.
	req.Equal([]string{domain.EventPresenceOnline}, e.presence.events)
}

func TestConnectionService_Join_Reports_Existing_Room(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	svc := e.connections()
	alice := e.user(t, "alice", "Alice")
	bob := e.user(t, "bob", "Bob")

	// Given no room yet, join does not create one
	joined, err := svc.Join(ctx, testutil.NewFakeHandle("c1"), &domain.JoinRequest{UserID: "alice", ChatID: "bob"})
	req.NoError(err)
	req.Nil(joined.RoomID)
	_, found, err := e.resolver.Find(ctx, alice.ID, bob.ID, domain.ChatTypeDirect)
	req.NoError(err)
	req.False(found)

	// When the room exists, join reports it
	roomID, err := e.resolver.Resolve(ctx, alice.ID, bob.ID, domain.ChatTypeDirect)
	req.NoError(err)
	joined, err = svc.Join(ctx, testutil.NewFakeHandle("c2"), &domain.JoinRequest{UserID: "alice", ChatID: "bob"})
	req.NoError(err)
	req.NotNil(joined.RoomID)
	req.Equal(roomID, *joined.RoomID)
}

func TestConnectionService_Rejoin_As_Other_User_Moves_Handle(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	svc := e.connections()
	h := testutil.NewFakeHandle("c1")

	first, err := svc.Join(ctx, h, &domain.JoinRequest{UserID: "alice"})
	req.NoError(err)
	second, err := svc.Join(ctx, h, &domain.JoinRequest{UserID: "bob"})
	req.NoError(err)

	req.Equal(0, e.registry.Count(first.UserID))
	req.Equal(1, e.registry.Count(second.UserID))
	req.Equal([]string{
		domain.EventPresenceOnline,
		domain.EventPresenceOffline,
		domain.EventPresenceOnline,
	}, e.presence.events)
}

func TestConnectionService_Join_Supersede_Closes_Previous(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	svc := NewConnectionService(e.users, e.devices, e.resolver, e.registry, e.tracker, true)
	old := testutil.NewFakeHandle("c1")
	fresh := testutil.NewFakeHandle("c2")

	_, err := svc.Join(ctx, old, &domain.JoinRequest{UserID: "alice"})
	req.NoError(err)
	_, err = svc.Join(ctx, fresh, &domain.JoinRequest{UserID: "alice"})
	req.NoError(err)

	req.True(old.Closed())
	req.False(fresh.Closed())
}

func TestConnectionService_Join_Requires_User(t *testing.T) {
	e := newEnv(t)
	_, err := e.connections().Join(context.Background(), testutil.NewFakeHandle("c1"), &domain.JoinRequest{})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestConnectionService_Typing_Forwards_To_All_Sessions(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	svc := e.connections()
	alice := e.user(t, "alice", "Alice")
	bob := e.user(t, "bob", "Bob")
	b1 := e.connect(bob.ID, "b1")
	b2 := e.connect(bob.ID, "b2")

	err := svc.Typing(ctx, alice.ID, &domain.TypingRequest{To: "bob", IsTyping: true})

	req.NoError(err)
	for _, h := range []*testutil.FakeHandle{b1, b2} {
		frames := h.FramesFor(domain.EventTyping)
		req.Len(frames, 1)
		var payload domain.TypingPayload
		req.NoError(frames[0].Decode(&payload))
		req.Equal(alice.ID, payload.From)
		req.Equal(bob.ID, payload.To)
		req.True(payload.IsTyping)
	}

	// Unknown addressees are ignored
	req.NoError(svc.Typing(ctx, alice.ID, &domain.TypingRequest{To: "ghost"}))
}

func TestConnectionService_Disconnect_Announces_Offline(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	svc := e.connections()
	h := testutil.NewFakeHandle("c1")

	_, err := svc.Join(ctx, h, &domain.JoinRequest{UserID: "alice"})
	req.NoError(err)
	svc.Disconnect(ctx, h)
	svc.Disconnect(ctx, h)

	req.Equal([]string{domain.EventPresenceOnline, domain.EventPresenceOffline}, e.presence.events)
}

func TestConnectionService_Presence(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	svc := e.connections()
	alice := e.user(t, "alice", "Alice")

	status, err := svc.Presence(ctx, "alice")
	req.NoError(err)
	req.False(status.Online)

	e.connect(alice.ID, "a1")
	status, err = svc.Presence(ctx, "alice")
	req.NoError(err)
	req.True(status.Online)
	req.Equal(1, status.Sessions)
	req.Equal("alice", status.MemberID)

	_, err = svc.Presence(ctx, "ghost")
	req.ErrorIs(err, domain.ErrUnknownRecipient)
}

func TestConnectionService_RegisterDevice(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	ctx := context.Background()
	svc := e.connections()
	alice := e.user(t, "alice", "Alice")

	device, err := svc.RegisterDevice(ctx, "alice", &domain.DeviceInfo{Token: "t", DeviceID: "d", TokenType: domain.TokenTypeExpo})
	req.NoError(err)
	req.Equal(alice.ID, device.UserID)

	_, err = svc.RegisterDevice(ctx, "ghost", &domain.DeviceInfo{Token: "t", DeviceID: "d", TokenType: domain.TokenTypeExpo})
	req.ErrorIs(err, domain.ErrUnknownRecipient)
}
