package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/utils"
	"gorm.io/gorm"
)

// ScheduleConfigService edits schedule rows and re-syncs the scheduler after
// every write.
type ScheduleConfigService struct {
	db        *gorm.DB
	scheduler *DynamicScheduler
}

func NewScheduleConfigService(db *gorm.DB, scheduler *DynamicScheduler) *ScheduleConfigService {
	return &ScheduleConfigService{db: db, scheduler: scheduler}
}

type ScheduleConfigInput struct {
	ConfigKey      string `json:"config_key" binding:"required"`
	CronExpression string `json:"cron_expression" binding:"required"`
	Enabled        *bool  `json:"enabled"`
	Description    string `json:"description"`
	MerchantID     *uint  `json:"merchant_id"`
}

func (s *ScheduleConfigService) List(ctx context.Context) ([]models.ScheduleConfig, error) {
	var configs []models.ScheduleConfig
	if err := s.db.WithContext(ctx).Order("config_key").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *ScheduleConfigService) Get(ctx context.Context, configKey string) (*models.ScheduleConfig, error) {
	var cfg models.ScheduleConfig
	if err := s.db.WithContext(ctx).Where("config_key = ?", configKey).First(&cfg).Error; err != nil {
		return nil, notFoundOr(err, "schedule config", configKey)
	}
	return &cfg, nil
}

// Upsert creates or replaces the row for input.ConfigKey.
func (s *ScheduleConfigService) Upsert(ctx context.Context, input ScheduleConfigInput) (*models.ScheduleConfig, error) {
	input.ConfigKey = strings.TrimSpace(input.ConfigKey)
	input.CronExpression = strings.TrimSpace(input.CronExpression)
	if input.ConfigKey == "" {
		return nil, models.NewInvariantViolation("config key is required")
	}
	if s.scheduler != nil && !s.scheduler.HasJob(input.ConfigKey) {
		return nil, models.NewInvariantViolation("no job is known for config key %s", input.ConfigKey)
	}
	if err := ValidateCronExpression(input.CronExpression); err != nil {
		return nil, err
	}

	now := time.Now()
	var cfg models.ScheduleConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := forUpdate(tx).Where("config_key = ?", input.ConfigKey).First(&cfg).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			cfg = models.ScheduleConfig{
				ConfigKey: input.ConfigKey,
				Enabled:   true,
				CreatedAt: now,
			}
		case err != nil:
			return err
		}

		cfg.CronExpression = input.CronExpression
		cfg.Description = input.Description
		cfg.MerchantID = input.MerchantID
		if input.Enabled != nil {
			cfg.Enabled = *input.Enabled
		}
		cfg.UpdatedAt = now
		return tx.Save(&cfg).Error
	})
	if err != nil {
		return nil, err
	}

	utils.InfoLogger.Printf("Schedule %s set to %q (enabled=%v)", cfg.ConfigKey, cfg.CronExpression, cfg.Enabled)
	return &cfg, s.reload(ctx, cfg.ConfigKey)
}

func (s *ScheduleConfigService) SetEnabled(ctx context.Context, configKey string, enabled bool) (*models.ScheduleConfig, error) {
	res := s.db.WithContext(ctx).Model(&models.ScheduleConfig{}).
		Where("config_key = ?", configKey).
		Updates(map[string]interface{}{"enabled": enabled, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, models.NewNotFound("schedule config", configKey)
	}

	cfg, err := s.Get(ctx, configKey)
	if err != nil {
		return nil, err
	}
	utils.InfoLogger.Printf("Schedule %s enabled=%v", configKey, enabled)
	return cfg, s.reload(ctx, configKey)
}

func (s *ScheduleConfigService) Enable(ctx context.Context, configKey string) (*models.ScheduleConfig, error) {
	return s.SetEnabled(ctx, configKey, true)
}

func (s *ScheduleConfigService) Disable(ctx context.Context, configKey string) (*models.ScheduleConfig, error) {
	return s.SetEnabled(ctx, configKey, false)
}

func (s *ScheduleConfigService) reload(ctx context.Context, configKey string) error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.ReloadOne(ctx, configKey)
}
