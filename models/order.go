package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCreated  OrderStatus = "CREATED"
	OrderStatusPaid     OrderStatus = "PAID"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// Order actions
const (
	OrderActionComplete = "complete"
	OrderActionCancel   = "cancel"
	OrderActionRefund   = "refund"
)

var OrderTransitions = transitionTable{
	string(OrderStatusCreated): {
		OrderActionComplete: string(OrderStatusPaid),
		OrderActionCancel:   string(OrderStatusCanceled),
	},
	string(OrderStatusPaid): {
		OrderActionRefund: string(OrderStatusRefunded),
	},
}

// Order is one purchase intent. Orders are never physically deleted.
type Order struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"not null;index" json:"user_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Status    OrderStatus     `gorm:"type:varchar(20);not null;default:'CREATED'" json:"status"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// NewOrder validates the purchase request and returns a CREATED order.
func NewOrder(userID uint, amount decimal.Decimal) (*Order, error) {
	if userID == 0 {
		return nil, NewInvariantViolation("user id must be a positive number")
	}
	if !amount.IsPositive() {
		return nil, NewInvariantViolation("order amount must be greater than zero")
	}
	now := time.Now()
	return &Order{
		UserID:    userID,
		Amount:    amount,
		Status:    OrderStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (o *Order) transition(action string) error {
	to, err := OrderTransitions.next("order", string(o.Status), action)
	if err != nil {
		return err
	}
	o.Status = OrderStatus(to)
	o.UpdatedAt = time.Now()
	return nil
}

func (o *Order) Complete() error { return o.transition(OrderActionComplete) }

func (o *Order) Cancel() error { return o.transition(OrderActionCancel) }

func (o *Order) Refund() error { return o.transition(OrderActionRefund) }

func (o *Order) canTransition(action string) error {
	_, err := OrderTransitions.next("order", string(o.Status), action)
	return err
}
