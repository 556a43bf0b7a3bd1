package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/mocks"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/notify"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/repository"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/testutil"
)

type fixture struct {
	devices  *repository.GormDeviceRepository
	users    *repository.GormUserRepository
	notifier *mocks.MockNotifier
	sender   *domain.User
	receiver *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	ctrl := gomock.NewController(t)
	f := &fixture{
		devices:  repository.NewGormDeviceRepository(db),
		users:    repository.NewGormUserRepository(db),
		notifier: mocks.NewMockNotifier(ctrl),
	}

	ctx := context.Background()
	var err error
	f.sender, _, err = f.users.FindOrCreate(ctx, &domain.User{MemberID: "alice", Name: "Alice"})
	require.NoError(t, err)
	f.receiver, _, err = f.users.FindOrCreate(ctx, &domain.User{MemberID: "bob", Name: "Bob"})
	require.NoError(t, err)
	return f
}

func (f *fixture) addDevice(t *testing.T, deviceID, token, tokenType string) {
	t.Helper()
	require.NoError(t, f.devices.Upsert(context.Background(), &domain.Device{
		UserID:    f.receiver.ID,
		DeviceID:  deviceID,
		Token:     token,
		TokenType: tokenType,
	}))
}

func (f *fixture) dispatcher() *notify.Dispatcher {
	return notify.NewDispatcher(f.devices, f.users, f.notifier, 2)
}

func textMessage(f *fixture, body string) *domain.Message {
	return &domain.Message{
		ID:          1,
		Sender:      f.sender.ID,
		Receiver:    f.receiver.ID,
		Message:     body,
		MessageType: domain.MessageTypeText,
		Status:      domain.StatusSent,
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		name string
		msg  *domain.Message
		want string
	}{
		{name: "text is verbatim", msg: &domain.Message{MessageType: domain.MessageTypeText, Message: "hello there"}, want: "hello there"},
		{name: "image", msg: &domain.Message{MessageType: domain.MessageTypeImage, Message: "https://x/a.png"}, want: "📷 Photo"},
		{name: "video", msg: &domain.Message{MessageType: domain.MessageTypeVideo}, want: "📹 Video"},
		{name: "pdf", msg: &domain.Message{MessageType: domain.MessageTypePDF}, want: "📄 Document"},
		{name: "other", msg: &domain.Message{MessageType: domain.MessageTypeOther}, want: "New Message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, notify.Label(tt.msg))
		})
	}
}

func TestDispatcher_Notify_Pushes_To_Expo_Devices(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.addDevice(t, "phone", "ExponentPushToken[abc]", domain.TokenTypeExpo)
	f.addDevice(t, "browser", "fcm-token", "fcm")

	// Given the push transport accepts one message for the expo device
	f.notifier.EXPECT().
		Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, msg notify.PushMessage) error {
			req.Equal("ExponentPushToken[abc]", msg.To)
			req.Equal("Alice", msg.Title)
			req.Equal("hi", msg.Body)
			return nil
		}).
		Times(1)

	// When the recipient is notified
	outcomes, err := f.dispatcher().Notify(context.Background(), f.receiver.ID, textMessage(f, "hi"), f.sender.ID)

	// Then the expo device is sent and the other skipped
	req.NoError(err)
	req.Len(outcomes, 2)
	byDevice := map[string]string{}
	for _, o := range outcomes {
		byDevice[o.DeviceID] = o.Status
	}
	req.Equal(notify.OutcomeSent, byDevice["phone"])
	req.Equal(notify.OutcomeSkipped, byDevice["browser"])
}

func TestDispatcher_Notify_Transport_Failure_Is_Reported_Per_Device(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.addDevice(t, "phone", "tok-1", domain.TokenTypeExpo)
	f.addDevice(t, "tablet", "tok-2", domain.TokenTypeExpo)

	f.notifier.EXPECT().
		Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, msg notify.PushMessage) error {
			if msg.To == "tok-1" {
				return errors.New("gateway timeout")
			}
			return nil
		}).
		Times(2)

	outcomes, err := f.dispatcher().Notify(context.Background(), f.receiver.ID, textMessage(f, "hi"), f.sender.ID)

	// Then the failure does not abort the other push or surface as an error
	req.NoError(err)
	req.Len(outcomes, 2)
	for _, o := range outcomes {
		switch o.DeviceID {
		case "phone":
			req.Equal(notify.OutcomeFailed, o.Status)
			req.ErrorIs(o.Err, domain.ErrTransport)
		case "tablet":
			req.Equal(notify.OutcomeSent, o.Status)
			req.NoError(o.Err)
		}
	}
}

func TestDispatcher_Notify_Without_Devices(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	outcomes, err := f.dispatcher().Notify(context.Background(), f.receiver.ID, textMessage(f, "hi"), f.sender.ID)

	req.NoError(err)
	req.Empty(outcomes)
}

func TestDispatcher_Notify_Unknown_Sender_Uses_Default_Title(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.addDevice(t, "phone", "tok", domain.TokenTypeExpo)

	f.notifier.EXPECT().
		Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, msg notify.PushMessage) error {
			req.Equal("New Message", msg.Title)
			req.Equal("📷 Photo", msg.Body)
			return nil
		})

	msg := textMessage(f, "https://cdn/x.png")
	msg.MessageType = domain.MessageTypeImage
	_, err := f.dispatcher().Notify(context.Background(), f.receiver.ID, msg, 4242)
	req.NoError(err)
}
