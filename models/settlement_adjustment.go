package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AdjustmentStatus string

const (
	AdjustmentStatusPending   AdjustmentStatus = "PENDING"
	AdjustmentStatusConfirmed AdjustmentStatus = "CONFIRMED"
)

// SettlementAdjustment is the audit entry left by a partial refund against a
// settlement. Amount is the (positive) value deducted.
type SettlementAdjustment struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	SettlementID    uint             `gorm:"not null;index" json:"settlement_id"`
	RefundPaymentID uint             `gorm:"not null" json:"refund_payment_id"`
	Amount          decimal.Decimal  `gorm:"type:decimal(15,2);not null" json:"amount"`
	Status          AdjustmentStatus `gorm:"type:varchar(20);not null;default:'PENDING'" json:"status"`
	AdjustmentDate  time.Time        `gorm:"type:date;not null;index" json:"adjustment_date"`
	ConfirmedAt     *time.Time       `json:"confirmed_at"`
	CreatedAt       time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"not null" json:"updated_at"`
}

func (SettlementAdjustment) TableName() string { return "settlement_adjustments" }

func NewSettlementAdjustment(settlementID, refundPaymentID uint, amount decimal.Decimal, now time.Time) *SettlementAdjustment {
	return &SettlementAdjustment{
		SettlementID:    settlementID,
		RefundPaymentID: refundPaymentID,
		Amount:          amount,
		Status:          AdjustmentStatusPending,
		AdjustmentDate:  DayStart(now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Confirm is idempotent.
func (a *SettlementAdjustment) Confirm(now time.Time) bool {
	if a.Status == AdjustmentStatusConfirmed {
		return false
	}
	a.Status = AdjustmentStatusConfirmed
	a.ConfirmedAt = &now
	a.UpdatedAt = now
	return true
}
