package models

import "time"

// Job keys understood by the scheduler.
const (
	JobSettlementCreate  = "SETTLEMENT_CREATE"
	JobSettlementConfirm = "SETTLEMENT_CONFIRM"
	JobAdjustmentConfirm = "ADJUSTMENT_CONFIRM"
)

// ScheduleConfig drives which batch jobs run and when. CronExpression uses
// six fields, seconds first ("0 0 2 * * *").
type ScheduleConfig struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConfigKey      string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"config_key"`
	CronExpression string    `gorm:"type:varchar(100);not null" json:"cron_expression"`
	Enabled        bool      `gorm:"not null" json:"enabled"`
	Description    string    `gorm:"type:varchar(500)" json:"description"`
	MerchantID     *uint     `json:"merchant_id"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

func (ScheduleConfig) TableName() string { return "settlement_schedule_config" }
