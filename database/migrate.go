package database

import (
	"errors"
	"time"

	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/utils"
	"gorm.io/gorm"
)

// DefaultSchedules are inserted on first start; operators edit them afterwards.
var DefaultSchedules = []models.ScheduleConfig{
	{
		ConfigKey:      models.JobSettlementCreate,
		CronExpression: "0 0 2 * * *",
		Enabled:        true,
		Description:    "Create settlements for payments captured yesterday",
	},
	{
		ConfigKey:      models.JobSettlementConfirm,
		CronExpression: "0 0 3 * * *",
		Enabled:        true,
		Description:    "Confirm yesterday's pending settlements",
	},
	{
		ConfigKey:      models.JobAdjustmentConfirm,
		CronExpression: "0 10 3 * * *",
		Enabled:        true,
		Description:    "Confirm yesterday's refund adjustments",
	},
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Order{},
		&models.Payment{},
		&models.Settlement{},
		&models.SettlementAdjustment{},
		&models.IndexQueueItem{},
		&models.ScheduleConfig{},
	)
	if err != nil {
		utils.ErrorLogger.Printf("Auto migration failed: %v", err)
		return err
	}
	utils.InfoLogger.Println("Auto migration completed")
	return nil
}

// SeedSchedules inserts any default schedule that does not exist yet. Existing
// rows are left untouched.
func SeedSchedules(db *gorm.DB) error {
	for _, def := range DefaultSchedules {
		var existing models.ScheduleConfig
		err := db.Where("config_key = ?", def.ConfigKey).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		cfg := def
		now := time.Now()
		cfg.CreatedAt = now
		cfg.UpdatedAt = now
		if err := db.Create(&cfg).Error; err != nil {
			utils.ErrorLogger.Printf("Error seeding schedule %s: %v", def.ConfigKey, err)
			return err
		}
		utils.InfoLogger.Printf("Seeded schedule %s (%s)", cfg.ConfigKey, cfg.CronExpression)
	}
	return nil
}
