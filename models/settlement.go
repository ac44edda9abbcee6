package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SettlementStatus string

const (
	SettlementStatusPending         SettlementStatus = "PENDING"
	SettlementStatusWaitingApproval SettlementStatus = "WAITING_APPROVAL"
	SettlementStatusConfirmed       SettlementStatus = "CONFIRMED"
	SettlementStatusCanceled        SettlementStatus = "CANCELED"
	SettlementStatusApproved        SettlementStatus = "APPROVED"
	SettlementStatusRejected        SettlementStatus = "REJECTED"
)

// Settlement actions
const (
	SettlementActionConfirm         = "confirm"
	SettlementActionCancel          = "cancel"
	SettlementActionRequestApproval = "request_approval"
	SettlementActionApprove         = "approve"
	SettlementActionReject          = "reject"
)

// CommissionRate is the platform cut of every captured payment.
var CommissionRate = decimal.RequireFromString("0.03")

var SettlementTransitions = transitionTable{
	string(SettlementStatusPending): {
		SettlementActionConfirm:         string(SettlementStatusConfirmed),
		SettlementActionCancel:          string(SettlementStatusCanceled),
		SettlementActionRequestApproval: string(SettlementStatusWaitingApproval),
	},
	string(SettlementStatusWaitingApproval): {
		SettlementActionConfirm: string(SettlementStatusConfirmed),
		SettlementActionCancel:  string(SettlementStatusCanceled),
		SettlementActionApprove: string(SettlementStatusApproved),
		SettlementActionReject:  string(SettlementStatusRejected),
	},
	string(SettlementStatusApproved): {
		SettlementActionCancel: string(SettlementStatusCanceled),
	},
	string(SettlementStatusRejected): {
		SettlementActionCancel: string(SettlementStatusCanceled),
	},
}

// Settlement is the amount owed to the merchant for one captured payment.
type Settlement struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	PaymentID       uint             `gorm:"not null;uniqueIndex" json:"payment_id"`
	OrderID         uint             `gorm:"not null;index" json:"order_id"`
	PaymentAmount   decimal.Decimal  `gorm:"type:decimal(15,2);not null" json:"payment_amount"`
	Commission      decimal.Decimal  `gorm:"type:decimal(15,2);not null" json:"commission"`
	NetAmount       decimal.Decimal  `gorm:"type:decimal(15,2);not null" json:"net_amount"`
	Status          SettlementStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_settlements_date_status,priority:2" json:"status"`
	SettlementDate  time.Time        `gorm:"type:date;not null;index:idx_settlements_date_status,priority:1" json:"settlement_date"`
	ConfirmedAt     *time.Time       `json:"confirmed_at"`
	ApprovedBy      *uint            `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time       `json:"approved_at,omitempty"`
	RejectedBy      *uint            `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason string           `gorm:"type:varchar(500)" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"not null" json:"updated_at"`
}

func (Settlement) TableName() string { return "settlements" }

// CalculateCommission returns round(amount * 3%, 2, half-up).
func CalculateCommission(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(CommissionRate).Round(2)
}

// NewSettlementFromPayment computes commission and net amount once, at creation.
func NewSettlementFromPayment(paymentID, orderID uint, amount decimal.Decimal, settlementDate time.Time) (*Settlement, error) {
	if paymentID == 0 {
		return nil, NewInvariantViolation("payment id must be a positive number")
	}
	if !amount.IsPositive() {
		return nil, NewInvariantViolation("settlement amount must be greater than zero (payment %d)", paymentID)
	}
	if settlementDate.IsZero() {
		return nil, NewInvariantViolation("settlement date is required")
	}
	commission := CalculateCommission(amount)
	now := time.Now()
	return &Settlement{
		PaymentID:      paymentID,
		OrderID:        orderID,
		PaymentAmount:  amount,
		Commission:     commission,
		NetAmount:      amount.Sub(commission),
		Status:         SettlementStatusPending,
		SettlementDate: DayStart(settlementDate),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *Settlement) transition(action string) error {
	to, err := SettlementTransitions.next("settlement", string(s.Status), action)
	if err != nil {
		return err
	}
	s.Status = SettlementStatus(to)
	s.UpdatedAt = time.Now()
	return nil
}

// Confirm moves PENDING or WAITING_APPROVAL to CONFIRMED. Confirming an
// already confirmed settlement is a no-op and reports changed == false.
func (s *Settlement) Confirm(now time.Time) (changed bool, err error) {
	if s.Status == SettlementStatusConfirmed {
		return false, nil
	}
	if err := s.transition(SettlementActionConfirm); err != nil {
		return false, err
	}
	s.ConfirmedAt = &now
	return true, nil
}

// Cancel is allowed from every state but CONFIRMED, where funds may already
// have been paid out.
func (s *Settlement) Cancel() (changed bool, err error) {
	if s.Status == SettlementStatusCanceled {
		return false, nil
	}
	if s.Status == SettlementStatusConfirmed {
		return false, NewInvariantViolation("settlement %d is CONFIRMED and cannot be canceled; manual reversal required", s.ID)
	}
	if err := s.transition(SettlementActionCancel); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Settlement) RequestApproval() error {
	return s.transition(SettlementActionRequestApproval)
}

func (s *Settlement) Approve(adminID uint) error {
	if err := s.transition(SettlementActionApprove); err != nil {
		return err
	}
	now := s.UpdatedAt
	s.ApprovedBy = &adminID
	s.ApprovedAt = &now
	return nil
}

func (s *Settlement) Reject(adminID uint, reason string) error {
	if err := s.transition(SettlementActionReject); err != nil {
		return err
	}
	now := s.UpdatedAt
	s.RejectedBy = &adminID
	s.RejectedAt = &now
	s.RejectionReason = reason
	return nil
}

// DeductRefund lowers payment and net amount by a partial refund. Commission
// stays as computed at creation, so a refund larger than the net amount leaves
// a negative net that the merchant owes back.
func (s *Settlement) DeductRefund(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewInvariantViolation("refund deduction must be positive")
	}
	switch s.Status {
	case SettlementStatusConfirmed, SettlementStatusCanceled:
		return NewInvariantViolation("settlement %d is %s and cannot be adjusted", s.ID, s.Status)
	}
	s.PaymentAmount = s.PaymentAmount.Sub(amount)
	s.NetAmount = s.NetAmount.Sub(amount)
	s.UpdatedAt = time.Now()
	return nil
}

func (s *Settlement) IsPending() bool {
	return s.Status == SettlementStatusPending || s.Status == SettlementStatusWaitingApproval
}

// DayStart truncates t to midnight in its own location.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
