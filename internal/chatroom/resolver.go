// Package chatroom resolves the conversation between two participants.
package chatroom

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/repository"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

// Resolver finds or creates the single room of an unordered pair and kind.
type Resolver struct {
	repo repository.ChatroomRepository
	sf   singleflight.Group
}

// NewResolver creates a resolver backed by repo.
func NewResolver(repo repository.ChatroomRepository) *Resolver {
	return &Resolver{repo: repo}
}

func pairKey(a, b uint64, kind domain.ChatType) string {
	low, high := domain.OrderPair(a, b)
	return fmt.Sprintf("%s:%d:%d", kind, low, high)
}

func validate(a, b uint64, kind domain.ChatType) error {
	if a == 0 || b == 0 {
		return fmt.Errorf("%w: participant id is required", domain.ErrInvalidRequest)
	}
	if a == b {
		return fmt.Errorf("%w: participants must differ", domain.ErrInvalidRequest)
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown chat type %q", domain.ErrInvalidRequest, kind)
	}
	return nil
}

// Resolve returns the room id for (a, b, kind), creating the room when it
// does not exist. Concurrent calls for the same pair share one lookup and
// converge on one room.
func (r *Resolver) Resolve(ctx context.Context, a, b uint64, kind domain.ChatType) (uint64, error) {
	if err := validate(a, b, kind); err != nil {
		return 0, err
	}

	key := pairKey(a, b, kind)
	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		return r.findOrCreate(ctx, a, b, kind)
	})
	if err != nil {
		return 0, err
	}

	room, ok := result.(*domain.Chatroom)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from singleflight")
	}
	return room.ID, nil
}

func (r *Resolver) findOrCreate(ctx context.Context, a, b uint64, kind domain.ChatType) (*domain.Chatroom, error) {
	room, err := r.repo.FindByPair(ctx, a, b, kind)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repository.ErrChatroomNotFound) {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	room, created, err := r.repo.FindOrCreate(ctx, a, b, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if created {
		l := log.Ctx(ctx)
		l.Info().
			Uint64(log.FieldRoomID, room.ID).
			Str("chat_type", string(kind)).
			Msg("chatroom created")
	}
	return room, nil
}

// Find looks up the room for (a, b, kind) without creating it.
func (r *Resolver) Find(ctx context.Context, a, b uint64, kind domain.ChatType) (uint64, bool, error) {
	if err := validate(a, b, kind); err != nil {
		return 0, false, err
	}

	room, err := r.repo.FindByPair(ctx, a, b, kind)
	if err != nil {
		if errors.Is(err, repository.ErrChatroomNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return room.ID, true, nil
}

// Get returns a room by id.
func (r *Resolver) Get(ctx context.Context, roomID uint64) (*domain.Chatroom, error) {
	room, err := r.repo.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrChatroomNotFound) {
			return nil, fmt.Errorf("%w: chatroom %d not found", domain.ErrInvalidRequest, roomID)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return room, nil
}
