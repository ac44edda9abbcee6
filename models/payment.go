package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusReady      PaymentStatus = "READY"
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusCaptured   PaymentStatus = "CAPTURED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusCanceled   PaymentStatus = "CANCELED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

// Payment actions
const (
	PaymentActionAuthorize = "authorize"
	PaymentActionCapture   = "capture"
	PaymentActionRefund    = "refund"
	PaymentActionCancel    = "cancel"
	PaymentActionFail      = "fail"
)

// RefundTransactionPrefix marks the gateway id of a partial refund record.
const RefundTransactionPrefix = "REFUND-"

var PaymentTransitions = transitionTable{
	string(PaymentStatusReady): {
		PaymentActionAuthorize: string(PaymentStatusAuthorized),
		PaymentActionFail:      string(PaymentStatusFailed),
	},
	string(PaymentStatusAuthorized): {
		PaymentActionCapture: string(PaymentStatusCaptured),
		PaymentActionCancel:  string(PaymentStatusCanceled),
		PaymentActionFail:    string(PaymentStatusFailed),
	},
	string(PaymentStatusFailed): {
		PaymentActionCancel: string(PaymentStatusCanceled),
	},
	string(PaymentStatusCaptured): {
		PaymentActionRefund: string(PaymentStatusRefunded),
	},
}

// Payment is a card charge against an order. A partial refund is stored as an
// extra REFUNDED payment with a negative amount on the same order.
type Payment struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	OrderID         uint            `gorm:"not null;index" json:"order_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	RefundedAmount  decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"refunded_amount"`
	Status          PaymentStatus   `gorm:"type:varchar(20);not null;default:'READY';index:idx_payments_status_captured,priority:1" json:"status"`
	PaymentMethod   string          `gorm:"type:varchar(50)" json:"payment_method"`
	PgTransactionID string          `gorm:"type:varchar(200)" json:"pg_transaction_id"`
	FailureReason   string          `gorm:"type:varchar(500)" json:"failure_reason,omitempty"`
	CapturedAt      *time.Time      `gorm:"index:idx_payments_status_captured,priority:2" json:"captured_at"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// NewPayment returns a READY payment for the full order amount.
func NewPayment(order *Order, method string) *Payment {
	now := time.Now()
	return &Payment{
		OrderID:        order.ID,
		Amount:         order.Amount,
		RefundedAmount: decimal.Zero,
		Status:         PaymentStatusReady,
		PaymentMethod:  method,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewRefundRecord builds the negative-amount record for a partial refund of original.
func NewRefundRecord(original *Payment, refundAmount decimal.Decimal) *Payment {
	now := time.Now()
	return &Payment{
		OrderID:         original.OrderID,
		Amount:          refundAmount.Neg(),
		RefundedAmount:  decimal.Zero,
		Status:          PaymentStatusRefunded,
		PaymentMethod:   original.PaymentMethod,
		PgTransactionID: RefundTransactionPrefix + original.PgTransactionID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (p *Payment) transition(action string) error {
	to, err := PaymentTransitions.next("payment", string(p.Status), action)
	if err != nil {
		return err
	}
	p.Status = PaymentStatus(to)
	p.UpdatedAt = time.Now()
	return nil
}

func (p *Payment) checkTransition(action string) error {
	_, err := PaymentTransitions.next("payment", string(p.Status), action)
	return err
}

// Authorize records the gateway transaction id.
func (p *Payment) Authorize(pgTransactionID string) error {
	if strings.TrimSpace(pgTransactionID) == "" {
		return NewInvariantViolation("gateway transaction id is required to authorize payment %d", p.ID)
	}
	if err := p.transition(PaymentActionAuthorize); err != nil {
		return err
	}
	p.PgTransactionID = pgTransactionID
	return nil
}

// Capture finalises the charge and completes the order. Both preconditions are
// checked before either aggregate is touched.
func (p *Payment) Capture(order *Order) error {
	if err := p.checkTransition(PaymentActionCapture); err != nil {
		return err
	}
	if err := order.canTransition(OrderActionComplete); err != nil {
		return err
	}
	if err := p.transition(PaymentActionCapture); err != nil {
		return err
	}
	captured := p.UpdatedAt
	p.CapturedAt = &captured
	return order.Complete()
}

// Refund moves a captured payment and its order to REFUNDED.
func (p *Payment) Refund(order *Order) error {
	if err := p.checkTransition(PaymentActionRefund); err != nil {
		return err
	}
	if err := order.canTransition(OrderActionRefund); err != nil {
		return err
	}
	if err := p.transition(PaymentActionRefund); err != nil {
		return err
	}
	p.RefundedAmount = p.Amount
	return order.Refund()
}

func (p *Payment) Cancel() error { return p.transition(PaymentActionCancel) }

func (p *Payment) Fail(reason string) error {
	if err := p.transition(PaymentActionFail); err != nil {
		return err
	}
	p.FailureReason = reason
	return nil
}

func (p *Payment) RefundableAmount() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// AddRefundedAmount keeps 0 <= refundedAmount <= amount.
func (p *Payment) AddRefundedAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewInvariantViolation("refund amount must be positive")
	}
	if amount.GreaterThan(p.RefundableAmount()) {
		return NewInvariantViolation("refund amount %s exceeds refundable amount %s",
			amount.StringFixed(2), p.RefundableAmount().StringFixed(2))
	}
	p.RefundedAmount = p.RefundedAmount.Add(amount)
	p.UpdatedAt = time.Now()
	return nil
}

func (p *Payment) IsRefundRecord() bool {
	return p.Amount.IsNegative()
}
