package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/repository"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

// CachedUserRepository serves user reads from the cache before falling
// back to the wrapped repository. Users are never updated after creation,
// so entries only expire.
type CachedUserRepository struct {
	repo  repository.UserRepository
	cache UserCache
	ttl   time.Duration
}

// NewCachedUserRepository wraps repo with cache-aside reads.
func NewCachedUserRepository(repo repository.UserRepository, cache UserCache, ttl time.Duration) *CachedUserRepository {
	return &CachedUserRepository{repo: repo, cache: cache, ttl: ttl}
}

func (r *CachedUserRepository) GetByID(ctx context.Context, id uint64) (*domain.User, error) {
	if user, ok := r.fromCache(ctx, r.cache.BuildKeyByID(id)); ok {
		return user, nil
	}

	user, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, user)
	return user, nil
}

func (r *CachedUserRepository) GetByMemberID(ctx context.Context, memberID string) (*domain.User, error) {
	if user, ok := r.fromCache(ctx, r.cache.BuildKeyByMemberID(memberID)); ok {
		return user, nil
	}

	user, err := r.repo.GetByMemberID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, user)
	return user, nil
}

func (r *CachedUserRepository) FindOrCreate(ctx context.Context, user *domain.User) (*domain.User, bool, error) {
	u, created, err := r.repo.FindOrCreate(ctx, user)
	if err != nil {
		return nil, false, err
	}
	r.store(ctx, u)
	return u, created, nil
}

func (r *CachedUserRepository) fromCache(ctx context.Context, key string) (*domain.User, bool) {
	user, err := r.cache.Get(ctx, key)
	if err == nil {
		return user, true
	}
	if !errors.Is(err, ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache get error")
	}
	return nil, false
}

func (r *CachedUserRepository) store(ctx context.Context, user *domain.User) {
	if err := r.cache.Set(ctx, user, r.ttl); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache set error")
	}
}
