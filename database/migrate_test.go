package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/settlement-engine/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMigrateAndSeed(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	require.NoError(t, SeedSchedules(db))

	var configs []models.ScheduleConfig
	require.NoError(t, db.Order("config_key").Find(&configs).Error)
	require.Len(t, configs, 3)
	assert.Equal(t, models.JobAdjustmentConfirm, configs[0].ConfigKey)

	// An operator edit survives a restart.
	require.NoError(t, db.Model(&models.ScheduleConfig{}).
		Where("config_key = ?", models.JobSettlementCreate).
		Update("cron_expression", "0 30 1 * * *").Error)
	require.NoError(t, SeedSchedules(db))

	var create models.ScheduleConfig
	require.NoError(t, db.Where("config_key = ?", models.JobSettlementCreate).First(&create).Error)
	assert.Equal(t, "0 30 1 * * *", create.CronExpression)

	var count int64
	db.Model(&models.ScheduleConfig{}).Count(&count)
	assert.Equal(t, int64(3), count)
}
