package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/repository"
)

type memoryCache struct {
	mu    sync.Mutex
	items map[string]domain.User
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string]domain.User)}
}

func (c *memoryCache) Get(ctx context.Context, key string) (*domain.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return &u, nil
}

func (c *memoryCache) Set(ctx context.Context, user *domain.User, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[c.BuildKeyByID(user.ID)] = *user
	c.items[c.BuildKeyByMemberID(user.MemberID)] = *user
	return nil
}

func (c *memoryCache) BuildKeyByID(userID uint64) string {
	return fmt.Sprintf("test:id:%d", userID)
}

func (c *memoryCache) BuildKeyByMemberID(memberID string) string {
	return "test:member:" + memberID
}

type countingUsers struct {
	users map[string]*domain.User
	calls int
}

func (r *countingUsers) GetByID(ctx context.Context, id uint64) (*domain.User, error) {
	r.calls++
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *countingUsers) GetByMemberID(ctx context.Context, memberID string) (*domain.User, error) {
	r.calls++
	if u, ok := r.users[memberID]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

func (r *countingUsers) FindOrCreate(ctx context.Context, user *domain.User) (*domain.User, bool, error) {
	r.calls++
	if u, ok := r.users[user.MemberID]; ok {
		return u, false, nil
	}
	u := &domain.User{ID: uint64(len(r.users) + 1), MemberID: user.MemberID, Name: user.Name}
	r.users[user.MemberID] = u
	return u, true, nil
}

func TestCachedUserRepository_Reads_Through_Cache(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	backing := &countingUsers{users: map[string]*domain.User{}}
	repo := NewCachedUserRepository(backing, newMemoryCache(), time.Minute)

	// Given a user created through the cache
	u, created, err := repo.FindOrCreate(ctx, &domain.User{MemberID: "alice", Name: "Alice"})
	req.NoError(err)
	req.True(created)
	req.Equal(1, backing.calls)

	// When the user is read by either key
	byMember, err := repo.GetByMemberID(ctx, "alice")
	req.NoError(err)
	byID, err := repo.GetByID(ctx, u.ID)
	req.NoError(err)

	// Then the backing repository is not consulted again
	req.Equal(1, backing.calls)
	req.Equal("Alice", byMember.Name)
	req.Equal(u.ID, byID.ID)
}

func TestCachedUserRepository_Miss_Populates_Cache(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	backing := &countingUsers{users: map[string]*domain.User{"bob": {ID: 7, MemberID: "bob"}}}
	repo := NewCachedUserRepository(backing, newMemoryCache(), time.Minute)

	_, err := repo.GetByID(ctx, 7)
	req.NoError(err)
	_, err = repo.GetByMemberID(ctx, "bob")
	req.NoError(err)

	req.Equal(1, backing.calls)
}

func TestCachedUserRepository_Not_Found_Is_Not_Cached(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	backing := &countingUsers{users: map[string]*domain.User{}}
	repo := NewCachedUserRepository(backing, newMemoryCache(), time.Minute)

	_, err := repo.GetByMemberID(ctx, "ghost")
	req.ErrorIs(err, repository.ErrUserNotFound)
	_, err = repo.GetByMemberID(ctx, "ghost")
	req.ErrorIs(err, repository.ErrUserNotFound)

	req.Equal(2, backing.calls)
}

func TestRedisUserCache_Keys(t *testing.T) {
	req := require.New(t)
	c := NewRedisUserCache(nil, "")

	req.Equal("delivery:user:id:42", c.BuildKeyByID(42))
	req.Equal("delivery:user:member:abc", c.BuildKeyByMemberID("abc"))
}
