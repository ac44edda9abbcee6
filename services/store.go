package services

import (
	"errors"

	"github.com/yeremiapane/settlement-engine/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// forUpdate adds a row lock on engines that support it. SQLite serialises
// writers on its own and rejects the FOR UPDATE syntax.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func notFoundOr(err error, entity string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFound(entity, id)
	}
	return err
}

func loadOrder(tx *gorm.DB, id uint) (*models.Order, error) {
	var order models.Order
	if err := forUpdate(tx).First(&order, id).Error; err != nil {
		return nil, notFoundOr(err, "order", id)
	}
	return &order, nil
}

func loadPayment(tx *gorm.DB, id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := forUpdate(tx).First(&payment, id).Error; err != nil {
		return nil, notFoundOr(err, "payment", id)
	}
	return &payment, nil
}

func loadSettlement(tx *gorm.DB, id uint) (*models.Settlement, error) {
	var settlement models.Settlement
	if err := forUpdate(tx).First(&settlement, id).Error; err != nil {
		return nil, notFoundOr(err, "settlement", id)
	}
	return &settlement, nil
}

// findSettlementByPayment returns nil without error when none exists.
func findSettlementByPayment(tx *gorm.DB, paymentID uint) (*models.Settlement, error) {
	var settlements []models.Settlement
	if err := forUpdate(tx).Where("payment_id = ?", paymentID).Limit(1).Find(&settlements).Error; err != nil {
		return nil, err
	}
	if len(settlements) == 0 {
		return nil, nil
	}
	return &settlements[0], nil
}

func loadUser(tx *gorm.DB, id uint) (*models.User, error) {
	var user models.User
	if err := tx.First(&user, id).Error; err != nil {
		return nil, notFoundOr(err, "user", id)
	}
	return &user, nil
}
