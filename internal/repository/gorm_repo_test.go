package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/testutil"
)

func TestGormUserRepository_FindOrCreate(t *testing.T) {
	req := require.New(t)
	repo := NewGormUserRepository(testutil.NewDB(t))
	ctx := context.Background()

	// When a member joins for the first time
	u, created, err := repo.FindOrCreate(ctx, &domain.User{MemberID: "m-1", Name: "Ann"})
	req.NoError(err)
	req.True(created)
	req.NotZero(u.ID)

	// Then joining again returns the same user unchanged
	again, created, err := repo.FindOrCreate(ctx, &domain.User{MemberID: "m-1", Name: "Other"})
	req.NoError(err)
	req.False(created)
	req.Equal(u.ID, again.ID)
	req.Equal("Ann", again.Name)

	byMember, err := repo.GetByMemberID(ctx, "m-1")
	req.NoError(err)
	req.Equal(u.ID, byMember.ID)

	_, err = repo.GetByMemberID(ctx, "missing")
	req.ErrorIs(err, ErrUserNotFound)
	_, err = repo.GetByID(ctx, 999)
	req.ErrorIs(err, ErrUserNotFound)
}

func TestGormUserRepository_Concurrent_FindOrCreate(t *testing.T) {
	req := require.New(t)
	repo := NewGormUserRepository(testutil.NewDB(t))
	ctx := context.Background()

	const n = 10
	ids := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, _, err := repo.FindOrCreate(ctx, &domain.User{MemberID: "racer"})
			if err == nil {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		req.NotZero(ids[i])
		req.Equal(ids[0], ids[i])
	}
}

func TestGormDeviceRepository_Upsert_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	repo := NewGormDeviceRepository(testutil.NewDB(t))
	ctx := context.Background()

	// Given the same device registered twice with a rotated token
	req.NoError(repo.Upsert(ctx, &domain.Device{UserID: 1, DeviceID: "d1", Token: "old", TokenType: domain.TokenTypeExpo}))
	req.NoError(repo.Upsert(ctx, &domain.Device{UserID: 1, DeviceID: "d1", Token: "new", TokenType: domain.TokenTypeExpo, DeviceName: "Pixel"}))
	req.NoError(repo.Upsert(ctx, &domain.Device{UserID: 2, DeviceID: "d1", Token: "other", TokenType: domain.TokenTypeExpo}))

	// Then the user holds one device carrying the latest token
	devices, err := repo.ListByUser(ctx, 1)
	req.NoError(err)
	req.Len(devices, 1)
	req.Equal("new", devices[0].Token)
	req.Equal("Pixel", devices[0].DeviceName)
}

func TestGormChatroomRepository_FindOrCreate(t *testing.T) {
	req := require.New(t)
	repo := NewGormChatroomRepository(testutil.NewDB(t))
	ctx := context.Background()

	room, created, err := repo.FindOrCreate(ctx, 8, 2, domain.ChatTypeDirect)
	req.NoError(err)
	req.True(created)
	req.Equal(uint64(2), room.User1ID)
	req.Equal(uint64(8), room.User2ID)

	again, created, err := repo.FindOrCreate(ctx, 2, 8, domain.ChatTypeDirect)
	req.NoError(err)
	req.False(created)
	req.Equal(room.ID, again.ID)

	_, err = repo.FindByPair(ctx, 2, 9, domain.ChatTypeDirect)
	req.ErrorIs(err, ErrChatroomNotFound)
}

func createMessage(t *testing.T, repo *GormMessageRepository, roomID, from, to uint64) *domain.Message {
	t.Helper()
	msg := &domain.Message{
		ChatroomID:  roomID,
		Sender:      from,
		Receiver:    to,
		Message:     "hi",
		MessageType: domain.MessageTypeText,
		Status:      domain.StatusSent,
		Editable:    true,
	}
	require.NoError(t, repo.Create(context.Background(), msg))
	return msg
}

func TestGormMessageRepository_MarkDelivered_Only_Advances_Sent(t *testing.T) {
	req := require.New(t)
	repo := NewGormMessageRepository(testutil.NewDB(t))
	ctx := context.Background()

	// Given one read and one sent message to user 2
	m1 := createMessage(t, repo, 1, 1, 2)
	m2 := createMessage(t, repo, 1, 1, 2)
	_, err := repo.MarkRead(ctx, 1, 2, m1.ID)
	req.NoError(err)

	// When delivery is recorded through the latest message
	n, err := repo.MarkDelivered(ctx, 1, 2, m2.ID)
	req.NoError(err)

	// Then only the sent message moves
	req.Equal(int64(1), n)
	got, err := repo.GetByID(ctx, m1.ID)
	req.NoError(err)
	req.Equal(domain.StatusRead, got.Status)
	got, err = repo.GetByID(ctx, m2.ID)
	req.NoError(err)
	req.Equal(domain.StatusDelivered, got.Status)
}

func TestGormMessageRepository_MarkRead_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	repo := NewGormMessageRepository(testutil.NewDB(t))
	ctx := context.Background()

	m1 := createMessage(t, repo, 1, 1, 2)
	m2 := createMessage(t, repo, 1, 1, 2)
	later := createMessage(t, repo, 1, 1, 2)
	mine := createMessage(t, repo, 1, 2, 1)

	// When the reader reads through m2 twice
	n, err := repo.MarkRead(ctx, 1, 2, m2.ID)
	req.NoError(err)
	req.Equal(int64(2), n)
	n, err = repo.MarkRead(ctx, 1, 2, m2.ID)
	req.NoError(err)
	req.Equal(int64(0), n)

	// Then later messages and the reader's own messages are untouched
	for id, want := range map[uint64]domain.MessageStatus{
		m1.ID:    domain.StatusRead,
		m2.ID:    domain.StatusRead,
		later.ID: domain.StatusSent,
		mine.ID:  domain.StatusSent,
	} {
		got, err := repo.GetByID(ctx, id)
		req.NoError(err)
		req.Equal(want, got.Status, "message %d", id)
	}
}

func TestGormMessageRepository_Deleted_Is_Final(t *testing.T) {
	req := require.New(t)
	repo := NewGormMessageRepository(testutil.NewDB(t))
	ctx := context.Background()

	m := createMessage(t, repo, 1, 1, 2)

	// When the message is deleted
	n, err := repo.MarkDeleted(ctx, 1, m.ID)
	req.NoError(err)
	req.Equal(int64(1), n)

	// Then neither delivery, read nor a second delete changes it
	n, err = repo.MarkDelivered(ctx, 1, 2, m.ID)
	req.NoError(err)
	req.Zero(n)
	n, err = repo.MarkRead(ctx, 1, 2, m.ID)
	req.NoError(err)
	req.Zero(n)
	n, err = repo.MarkDeleted(ctx, 1, m.ID)
	req.NoError(err)
	req.Zero(n)

	got, err := repo.GetByID(ctx, m.ID)
	req.NoError(err)
	req.Equal(domain.StatusDeleted, got.Status)
}

func TestGormMessageRepository_MarkDeleted_Wrong_Room(t *testing.T) {
	req := require.New(t)
	repo := NewGormMessageRepository(testutil.NewDB(t))
	ctx := context.Background()

	m := createMessage(t, repo, 1, 1, 2)

	n, err := repo.MarkDeleted(ctx, 2, m.ID)
	req.NoError(err)
	req.Zero(n)

	_, err = repo.GetByID(ctx, m.ID+1)
	req.ErrorIs(err, ErrMessageNotFound)
}
