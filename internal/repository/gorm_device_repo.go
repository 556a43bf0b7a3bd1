package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

// GormDeviceRepository implements DeviceRepository using GORM.
type GormDeviceRepository struct {
	db *gorm.DB
}

// NewGormDeviceRepository creates a new GORM-based device repository.
func NewGormDeviceRepository(db *gorm.DB) *GormDeviceRepository {
	return &GormDeviceRepository{db: db}
}

func (r *GormDeviceRepository) Upsert(ctx context.Context, device *domain.Device) error {
	l := log.Ctx(ctx)

	model := domain.DeviceToModel(device)
	model.ID = 0

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "device_name", "token_type", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	l.Debug().Uint64(log.FieldUserID, device.UserID).Str(log.FieldDeviceID, device.DeviceID).Msg("device upserted")
	return nil
}

func (r *GormDeviceRepository) ListByUser(ctx context.Context, userID uint64) ([]domain.Device, error) {
	var models []domain.DeviceModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]domain.Device, len(models))
	for i := range models {
		devices[i] = *models[i].ToDomain()
	}
	return devices, nil
}
