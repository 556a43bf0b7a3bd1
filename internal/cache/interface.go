package cache

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
)

// UserCache caches users by internal id and by member id.
type UserCache interface {
	Get(ctx context.Context, key string) (*domain.User, error)
	Set(ctx context.Context, user *domain.User, ttl time.Duration) error
	BuildKeyByID(userID uint64) string
	BuildKeyByMemberID(memberID string) string
}
