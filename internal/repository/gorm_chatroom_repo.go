package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/database"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

// GormChatroomRepository implements ChatroomRepository using GORM.
type GormChatroomRepository struct {
	db *gorm.DB
}

// NewGormChatroomRepository creates a new GORM-based chatroom repository.
func NewGormChatroomRepository(db *gorm.DB) *GormChatroomRepository {
	return &GormChatroomRepository{db: db}
}

func (r *GormChatroomRepository) GetByID(ctx context.Context, id uint64) (*domain.Chatroom, error) {
	var model domain.ChatroomModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatroomNotFound
		}
		return nil, fmt.Errorf("failed to get chatroom %d: %w", id, err)
	}
	return model.ToDomain(), nil
}

func (r *GormChatroomRepository) FindByPair(ctx context.Context, a, b uint64, chatType domain.ChatType) (*domain.Chatroom, error) {
	low, high := domain.OrderPair(a, b)

	var model domain.ChatroomModel
	err := r.db.WithContext(ctx).
		Where("chat_type = ? AND user1_id = ? AND user2_id = ?", string(chatType), low, high).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatroomNotFound
		}
		return nil, fmt.Errorf("failed to find chatroom: %w", err)
	}
	return model.ToDomain(), nil
}

func (r *GormChatroomRepository) FindOrCreate(ctx context.Context, a, b uint64, chatType domain.ChatType) (*domain.Chatroom, bool, error) {
	l := log.Ctx(ctx)
	low, high := domain.OrderPair(a, b)

	model := domain.ChatroomModel{
		ChatType: string(chatType),
		User1ID:  low,
		User2ID:  high,
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_type"}, {Name: "user1_id"}, {Name: "user2_id"}},
			DoNothing: true,
		}).
		Create(&model)
	if result.Error != nil && !database.IsDuplicateKey(result.Error) {
		return nil, false, fmt.Errorf("failed to create chatroom: %w", result.Error)
	}
	if result.Error == nil && result.RowsAffected == 1 {
		l.Debug().Uint64(log.FieldRoomID, model.ID).Msg("chatroom created in db")
		return model.ToDomain(), true, nil
	}

	// Lost the race: another writer inserted the pair first.
	room, err := r.FindByPair(ctx, low, high, chatType)
	if err != nil {
		return nil, false, err
	}
	return room, false, nil
}
