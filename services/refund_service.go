package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/settlement-engine/hub"
	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/monitoring"
	"github.com/yeremiapane/settlement-engine/utils"
	"gorm.io/gorm"
)

// Refund scenarios
const (
	RefundScenarioFull    = "full"
	RefundScenarioPartial = "partial"
	RefundScenarioCancel  = "authorization_cancel"
)

// RefundResult is the projection returned to the refund caller.
type RefundResult struct {
	Scenario     string                       `json:"scenario"`
	Payment      *models.Payment              `json:"payment"`
	Order        *models.Order                `json:"order"`
	RefundRecord *models.Payment              `json:"refund_record,omitempty"`
	Settlement   *models.Settlement           `json:"settlement,omitempty"`
	Adjustment   *models.SettlementAdjustment `json:"adjustment,omitempty"`
}

// RefundService runs the three refund scenarios. Each one commits payment,
// order, settlement and outbox rows in a single transaction.
type RefundService struct {
	db        *gorm.DB
	queue     *IndexQueueService
	publisher hub.Publisher
	metrics   *monitoring.Metrics
}

func NewRefundService(db *gorm.DB, queue *IndexQueueService, publisher hub.Publisher, metrics *monitoring.Metrics) *RefundService {
	if publisher == nil {
		publisher = hub.Nop{}
	}
	return &RefundService{db: db, queue: queue, publisher: publisher, metrics: metrics}
}

func (s *RefundService) FullRefund(ctx context.Context, paymentID uint) (*RefundResult, error) {
	return s.run(ctx, paymentID, func(tx *gorm.DB, payment *models.Payment) (*RefundResult, error) {
		return s.fullRefund(tx, payment)
	})
}

// PartialRefund refunds part of a captured payment. Refunding everything that
// is still refundable is handled as a full refund.
func (s *RefundService) PartialRefund(ctx context.Context, paymentID uint, amount decimal.Decimal) (*RefundResult, error) {
	if !amount.IsPositive() {
		return nil, models.NewInvariantViolation("refund amount must be greater than zero")
	}
	return s.run(ctx, paymentID, func(tx *gorm.DB, payment *models.Payment) (*RefundResult, error) {
		if payment.Status != models.PaymentStatusCaptured {
			return nil, &models.IllegalStateTransition{Entity: "payment", Action: "partial_refund", From: string(payment.Status)}
		}
		refundable := payment.RefundableAmount()
		if amount.GreaterThan(refundable) {
			return nil, models.NewInvariantViolation("refund amount %s exceeds refundable amount %s of payment %d",
				amount.StringFixed(2), refundable.StringFixed(2), payment.ID)
		}
		if amount.Equal(refundable) {
			return s.fullRefund(tx, payment)
		}
		return s.partialRefund(tx, payment, amount)
	})
}

// CancelAuthorization refunds a payment that never reached capture.
func (s *RefundService) CancelAuthorization(ctx context.Context, paymentID uint) (*RefundResult, error) {
	return s.run(ctx, paymentID, func(tx *gorm.DB, payment *models.Payment) (*RefundResult, error) {
		return s.cancelAuthorization(tx, payment)
	})
}

func (s *RefundService) run(ctx context.Context, paymentID uint, scenario func(tx *gorm.DB, payment *models.Payment) (*RefundResult, error)) (*RefundResult, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	payment, err := loadPayment(tx, paymentID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if payment.IsRefundRecord() {
		tx.Rollback()
		return nil, models.NewInvariantViolation("payment %d is a refund record and cannot be refunded", paymentID)
	}

	result, err := scenario(tx, payment)
	if err != nil {
		tx.Rollback()
		utils.ErrorLogger.WithFields(logrus.Fields{"payment_id": paymentID}).Warnf("Refund rejected: %v", err)
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if result.Settlement != nil {
		s.queue.Wake()
	}
	if s.metrics != nil {
		s.metrics.Refunds.WithLabelValues(result.Scenario).Inc()
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"scenario":   result.Scenario,
		"status":     result.Payment.Status,
	}).Info("Refund processed")
	s.publisher.Broadcast(hub.Message{Event: hub.EventRefund, Data: result})
	return result, nil
}

func (s *RefundService) fullRefund(tx *gorm.DB, payment *models.Payment) (*RefundResult, error) {
	order, err := loadOrder(tx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if err := payment.Refund(order); err != nil {
		return nil, err
	}

	settlement, err := findSettlementByPayment(tx, payment.ID)
	if err != nil {
		return nil, err
	}
	if settlement != nil {
		changed, err := settlement.Cancel()
		if err != nil {
			utils.ErrorLogger.WithFields(logrus.Fields{
				"payment_id":    payment.ID,
				"settlement_id": settlement.ID,
			}).Error("Full refund hit a CONFIRMED settlement; manual reversal required")
			return nil, err
		}
		if changed {
			if err := tx.Save(settlement).Error; err != nil {
				return nil, err
			}
		}
		if err := s.queue.Enqueue(tx, settlement.ID, models.IndexOperationUpdate); err != nil {
			return nil, err
		}
	}

	if err := tx.Save(payment).Error; err != nil {
		return nil, err
	}
	if err := tx.Save(order).Error; err != nil {
		return nil, err
	}

	return &RefundResult{
		Scenario:   RefundScenarioFull,
		Payment:    payment,
		Order:      order,
		Settlement: settlement,
	}, nil
}

func (s *RefundService) partialRefund(tx *gorm.DB, payment *models.Payment, amount decimal.Decimal) (*RefundResult, error) {
	order, err := loadOrder(tx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if err := payment.AddRefundedAmount(amount); err != nil {
		return nil, err
	}

	record := models.NewRefundRecord(payment, amount)
	if err := tx.Create(record).Error; err != nil {
		return nil, err
	}
	if err := tx.Save(payment).Error; err != nil {
		return nil, err
	}

	result := &RefundResult{
		Scenario:     RefundScenarioPartial,
		Payment:      payment,
		Order:        order,
		RefundRecord: record,
	}

	settlement, err := findSettlementByPayment(tx, payment.ID)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return result, nil
	}

	if err := settlement.DeductRefund(amount); err != nil {
		if settlement.Status == models.SettlementStatusConfirmed {
			utils.ErrorLogger.WithFields(logrus.Fields{
				"payment_id":    payment.ID,
				"settlement_id": settlement.ID,
				"amount":        amount.StringFixed(2),
			}).Error("Partial refund hit a CONFIRMED settlement; manual reversal required")
		}
		return nil, err
	}
	if err := tx.Save(settlement).Error; err != nil {
		return nil, err
	}
	adjustment := models.NewSettlementAdjustment(settlement.ID, record.ID, amount, time.Now())
	if err := tx.Create(adjustment).Error; err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(tx, settlement.ID, models.IndexOperationUpdate); err != nil {
		return nil, err
	}

	result.Settlement = settlement
	result.Adjustment = adjustment
	return result, nil
}

func (s *RefundService) cancelAuthorization(tx *gorm.DB, payment *models.Payment) (*RefundResult, error) {
	if payment.Status != models.PaymentStatusAuthorized && payment.Status != models.PaymentStatusFailed {
		return nil, &models.IllegalStateTransition{Entity: "payment", Action: models.PaymentActionCancel, From: string(payment.Status)}
	}
	if err := payment.Cancel(); err != nil {
		return nil, err
	}
	if err := tx.Save(payment).Error; err != nil {
		return nil, err
	}

	order, err := loadOrder(tx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusCreated {
		utils.ErrorLogger.WithFields(logrus.Fields{
			"payment_id": payment.ID,
			"order_id":   order.ID,
			"status":     order.Status,
		}).Warn("Order of a canceled authorization is not CREATED")
	}

	settlement, err := findSettlementByPayment(tx, payment.ID)
	if err != nil {
		return nil, err
	}
	if settlement != nil {
		utils.ErrorLogger.WithFields(logrus.Fields{
			"payment_id":    payment.ID,
			"settlement_id": settlement.ID,
		}).Error("Settlement exists for a payment that was never captured")
	}

	return &RefundResult{
		Scenario: RefundScenarioCancel,
		Payment:  payment,
		Order:    order,
	}, nil
}
