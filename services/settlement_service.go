package services

import (
	"context"
	"strings"

	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/utils"
	"gorm.io/gorm"
)

// SettlementService covers the manual approval flow operators drive from the
// admin API.
type SettlementService struct {
	db    *gorm.DB
	queue *IndexQueueService
}

func NewSettlementService(db *gorm.DB, queue *IndexQueueService) *SettlementService {
	return &SettlementService{db: db, queue: queue}
}

func (s *SettlementService) Get(ctx context.Context, id uint) (*models.Settlement, error) {
	return loadSettlement(s.db.WithContext(ctx), id)
}

// ListByStatus lists settlements, newest first. An empty status lists all.
func (s *SettlementService) ListByStatus(ctx context.Context, status models.SettlementStatus, limit, offset int) ([]models.Settlement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Offset(offset)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var settlements []models.Settlement
	if err := query.Find(&settlements).Error; err != nil {
		return nil, err
	}
	return settlements, nil
}

func (s *SettlementService) RequestApproval(ctx context.Context, id uint) (*models.Settlement, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, settlement *models.Settlement) error {
		return settlement.RequestApproval()
	})
}

func (s *SettlementService) Approve(ctx context.Context, id, adminUserID uint) (*models.Settlement, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, settlement *models.Settlement) error {
		if err := requireAdmin(tx, adminUserID); err != nil {
			return err
		}
		return settlement.Approve(adminUserID)
	})
}

func (s *SettlementService) Reject(ctx context.Context, id, adminUserID uint, reason string) (*models.Settlement, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.NewInvariantViolation("rejection reason is required")
	}
	return s.mutate(ctx, id, func(tx *gorm.DB, settlement *models.Settlement) error {
		if err := requireAdmin(tx, adminUserID); err != nil {
			return err
		}
		return settlement.Reject(adminUserID, reason)
	})
}

func requireAdmin(tx *gorm.DB, userID uint) error {
	user, err := loadUser(tx, userID)
	if err != nil {
		return err
	}
	if !user.IsAdmin() {
		return models.NewInvariantViolation("user %d is not allowed to approve settlements", userID)
	}
	return nil
}

func (s *SettlementService) mutate(ctx context.Context, id uint, apply func(tx *gorm.DB, settlement *models.Settlement) error) (*models.Settlement, error) {
	var settlement *models.Settlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		settlement, err = loadSettlement(tx, id)
		if err != nil {
			return err
		}
		if err := apply(tx, settlement); err != nil {
			return err
		}
		if err := tx.Save(settlement).Error; err != nil {
			return err
		}
		return s.queue.Enqueue(tx, settlement.ID, models.IndexOperationUpdate)
	})
	if err != nil {
		return nil, err
	}
	utils.InfoLogger.Printf("Settlement %d is now %s", settlement.ID, settlement.Status)
	s.queue.Wake()
	return settlement, nil
}
