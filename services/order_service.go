package services

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/utils"
	"gorm.io/gorm"
)

type OrderService struct {
	db *gorm.DB
}

func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{db: db}
}

func (s *OrderService) CreateOrder(ctx context.Context, userID uint, amount decimal.Decimal) (*models.Order, error) {
	order, err := models.NewOrder(userID, amount)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	utils.InfoLogger.Printf("Order %d created for user %d (%s)", order.ID, userID, amount.StringFixed(2))
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	return loadOrder(s.db.WithContext(ctx), id)
}

func (s *OrderService) CancelOrder(ctx context.Context, id uint) (*models.Order, error) {
	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(tx, id)
		if err != nil {
			return err
		}
		if err := order.Cancel(); err != nil {
			return err
		}
		return tx.Save(order).Error
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
