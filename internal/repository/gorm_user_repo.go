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

// GormUserRepository implements UserRepository using GORM.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based user repository.
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) GetByID(ctx context.Context, id uint64) (*domain.User, error) {
	var model domain.UserModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return model.ToDomain(), nil
}

func (r *GormUserRepository) GetByMemberID(ctx context.Context, memberID string) (*domain.User, error) {
	var model domain.UserModel
	if err := r.db.WithContext(ctx).First(&model, "member_id = ?", memberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by member id: %w", err)
	}
	return model.ToDomain(), nil
}

func (r *GormUserRepository) FindOrCreate(ctx context.Context, user *domain.User) (*domain.User, bool, error) {
	l := log.Ctx(ctx)

	model := domain.UserModel{
		MemberID: user.MemberID,
		Name:     user.Name,
		AppName:  user.AppName,
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "member_id"}}, DoNothing: true}).
		Create(&model)
	if result.Error != nil && !database.IsDuplicateKey(result.Error) {
		return nil, false, fmt.Errorf("failed to create user: %w", result.Error)
	}
	if result.Error == nil && result.RowsAffected == 1 {
		l.Debug().Uint64(log.FieldUserID, model.ID).Str(log.FieldMemberID, model.MemberID).Msg("user created in db")
		return model.ToDomain(), true, nil
	}

	existing, err := r.GetByMemberID(ctx, user.MemberID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}
