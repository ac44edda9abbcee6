package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/settlement-engine/gateway"
	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/utils"
	"gorm.io/gorm"
)

const GatewayPaymentMethod = "TOSS_PAYMENTS"

// PaymentService moves payments through authorize and capture.
type PaymentService struct {
	db      *gorm.DB
	gateway gateway.Confirmer
}

func NewPaymentService(db *gorm.DB, confirmer gateway.Confirmer) *PaymentService {
	return &PaymentService{db: db, gateway: confirmer}
}

func (s *PaymentService) CreatePayment(ctx context.Context, orderID uint, method string) (*models.Payment, error) {
	var payment *models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = s.createPayment(tx, orderID, method)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *PaymentService) createPayment(tx *gorm.DB, orderID uint, method string) (*models.Payment, error) {
	order, err := loadOrder(tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusCreated {
		return nil, models.NewInvariantViolation("order %d is %s and cannot take a new payment", order.ID, order.Status)
	}
	payment := models.NewPayment(order, method)
	if err := tx.Create(payment).Error; err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id uint) (*models.Payment, error) {
	return loadPayment(s.db.WithContext(ctx), id)
}

func (s *PaymentService) Authorize(ctx context.Context, id uint, pgTransactionID string) (*models.Payment, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, payment *models.Payment) error {
		return payment.Authorize(pgTransactionID)
	})
}

func (s *PaymentService) Fail(ctx context.Context, id uint, reason string) (*models.Payment, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, payment *models.Payment) error {
		return payment.Fail(reason)
	})
}

// Capture commits the payment and its order together.
func (s *PaymentService) Capture(ctx context.Context, id uint) (*models.Payment, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, payment *models.Payment) error {
		return capture(tx, payment)
	})
}

func capture(tx *gorm.DB, payment *models.Payment) error {
	order, err := loadOrder(tx, payment.OrderID)
	if err != nil {
		return err
	}
	if err := payment.Capture(order); err != nil {
		return err
	}
	return tx.Save(order).Error
}

func (s *PaymentService) mutate(ctx context.Context, id uint, apply func(tx *gorm.DB, payment *models.Payment) error) (*models.Payment, error) {
	var payment *models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = loadPayment(tx, id)
		if err != nil {
			return err
		}
		if err := apply(tx, payment); err != nil {
			return err
		}
		return tx.Save(payment).Error
	})
	if err != nil {
		return nil, err
	}
	utils.InfoLogger.Printf("Payment %d is now %s", payment.ID, payment.Status)
	return payment, nil
}

type GatewayConfirmation struct {
	OrderID        uint
	PaymentKey     string
	GatewayOrderID string
	Amount         decimal.Decimal
}

// ConfirmWithGateway verifies the payment with the gateway, then records it as
// READY, AUTHORIZED and CAPTURED in one transaction. Nothing is written when
// the gateway refuses.
func (s *PaymentService) ConfirmWithGateway(ctx context.Context, req GatewayConfirmation) (*models.Payment, error) {
	if req.PaymentKey == "" || req.GatewayOrderID == "" {
		return nil, models.NewInvariantViolation("payment key and gateway order id are required")
	}

	order, err := loadOrder(s.db.WithContext(ctx), req.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.Amount.Equal(req.Amount) {
		return nil, models.NewInvariantViolation("amount %s does not match order %d amount %s",
			req.Amount.StringFixed(2), order.ID, order.Amount.StringFixed(2))
	}

	if s.gateway == nil {
		return nil, &models.ExternalCallFailure{Service: gateway.ServiceName, Err: fmt.Errorf("gateway is not configured")}
	}
	if _, err := s.gateway.Confirm(ctx, gateway.ConfirmRequest{
		PaymentKey: req.PaymentKey,
		OrderID:    req.GatewayOrderID,
		Amount:     req.Amount,
	}); err != nil {
		return nil, err
	}

	var payment *models.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = s.createPayment(tx, req.OrderID, GatewayPaymentMethod)
		if err != nil {
			return err
		}
		if err := payment.Authorize(req.PaymentKey); err != nil {
			return err
		}
		if err := capture(tx, payment); err != nil {
			return err
		}
		return tx.Save(payment).Error
	})
	if err != nil {
		return nil, fmt.Errorf("gateway confirmed payment %s but recording failed: %w", req.PaymentKey, err)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"order_id":   payment.OrderID,
		"pg_tx_id":   payment.PgTransactionID,
	}).Info("Gateway payment captured")
	return payment, nil
}
