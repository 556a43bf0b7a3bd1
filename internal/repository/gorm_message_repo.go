package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	model := domain.MessageToModel(msg)
	model.ID = 0

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	msg.ID = model.ID
	msg.CreatedAt = model.CreatedAt
	msg.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id uint64) (*domain.Message, error) {
	var model domain.MessageModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}
	return model.ToDomain(), nil
}

func (r *GormMessageRepository) MarkDelivered(ctx context.Context, roomID, recipientID, throughID uint64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.MessageModel{}).
		Where("id <= ? AND chatroom_id = ? AND to_user_id = ? AND status = ?",
			throughID, roomID, recipientID, string(domain.StatusSent)).
		Update("status", string(domain.StatusDelivered))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark messages delivered: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *GormMessageRepository) MarkRead(ctx context.Context, roomID, readerID, throughID uint64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.MessageModel{}).
		Where("id <= ? AND chatroom_id = ? AND to_user_id = ? AND status NOT IN ?",
			throughID, roomID, readerID, []string{string(domain.StatusRead), string(domain.StatusDeleted)}).
		Update("status", string(domain.StatusRead))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *GormMessageRepository) MarkDeleted(ctx context.Context, roomID, messageID uint64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.MessageModel{}).
		Where("id = ? AND chatroom_id = ? AND status <> ?", messageID, roomID, string(domain.StatusDeleted)).
		Update("status", string(domain.StatusDeleted))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark message deleted: %w", result.Error)
	}
	return result.RowsAffected, nil
}
