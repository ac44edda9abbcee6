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

// CapturedPayment is the slice of a payment the creation phase needs.
type CapturedPayment struct {
	ID         uint
	OrderID    uint
	Amount     decimal.Decimal
	CapturedAt *time.Time
}

type CreationReport struct {
	TargetDate    string `json:"target_date"`
	TotalPayments int    `json:"total_payments"`
	CreatedCount  int    `json:"created_count"`
	SkippedCount  int    `json:"skipped_count"`
	FailedCount   int    `json:"failed_count"`
	SettlementIDs []uint `json:"settlement_ids"`
}

type ConfirmationReport struct {
	SettlementDate   string `json:"settlement_date"`
	TotalSettlements int    `json:"total_settlements"`
	ConfirmedCount   int    `json:"confirmed_count"`
	FailedCount      int    `json:"failed_count"`
	SettlementIDs    []uint `json:"settlement_ids"`
}

type AdjustmentReport struct {
	AdjustmentDate   string `json:"adjustment_date"`
	TotalAdjustments int    `json:"total_adjustments"`
	ConfirmedCount   int    `json:"confirmed_count"`
	FailedCount      int    `json:"failed_count"`
}

// SettlementBatchService runs the daily creation and confirmation phases.
// Chunks commit independently; a crash leaves a committed prefix and the
// existing-settlement check makes a re-run safe.
type SettlementBatchService struct {
	db        *gorm.DB
	queue     *IndexQueueService
	publisher hub.Publisher
	metrics   *monitoring.Metrics
	chunkSize int
}

func NewSettlementBatchService(db *gorm.DB, queue *IndexQueueService, publisher hub.Publisher, metrics *monitoring.Metrics, chunkSize int) *SettlementBatchService {
	if publisher == nil {
		publisher = hub.Nop{}
	}
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &SettlementBatchService{
		db:        db,
		queue:     queue,
		publisher: publisher,
		metrics:   metrics,
		chunkSize: chunkSize,
	}
}

func dayRange(date time.Time) (time.Time, time.Time) {
	start := models.DayStart(date)
	return start, start.AddDate(0, 0, 1)
}

// LoadCapturedPayments pages CAPTURED payments of the day by id.
func (s *SettlementBatchService) LoadCapturedPayments(ctx context.Context, targetDate time.Time, afterID uint, limit int) ([]CapturedPayment, error) {
	start, end := dayRange(targetDate)
	var rows []CapturedPayment
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select("id, order_id, amount, captured_at").
		Where("status = ?", models.PaymentStatusCaptured).
		Where("captured_at >= ? AND captured_at < ?", start, end).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// CreateSettlements creates one PENDING settlement per payment captured on
// targetDate that has none yet.
func (s *SettlementBatchService) CreateSettlements(ctx context.Context, targetDate time.Time) (*CreationReport, error) {
	started := time.Now()
	report := &CreationReport{
		TargetDate:    targetDate.Format("2006-01-02"),
		SettlementIDs: []uint{},
	}
	utils.InfoLogger.WithFields(logrus.Fields{"target_date": report.TargetDate}).Info("Settlement creation started")

	var lastID uint
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		payments, err := s.LoadCapturedPayments(ctx, targetDate, lastID, s.chunkSize)
		if err != nil {
			s.observe(monitoring.JobCreate, started, report.TotalPayments, report.FailedCount+1)
			return report, err
		}
		if len(payments) == 0 {
			break
		}
		lastID = payments[len(payments)-1].ID
		report.TotalPayments += len(payments)

		if err := s.createChunk(ctx, targetDate, payments, report); err != nil {
			// The chunk rolled back as a whole.
			report.FailedCount += len(payments)
			utils.ErrorLogger.WithFields(logrus.Fields{
				"target_date": report.TargetDate,
				"chunk_size":  len(payments),
				"last_id":     lastID,
			}).Errorf("Settlement chunk failed: %v", err)
		}
		if len(payments) < s.chunkSize {
			break
		}
	}

	if s.metrics != nil {
		s.metrics.SettlementsCreated.Add(float64(report.CreatedCount))
	}
	s.observe(monitoring.JobCreate, started, report.TotalPayments, report.FailedCount)
	utils.InfoLogger.WithFields(logrus.Fields{
		"target_date": report.TargetDate,
		"total":       report.TotalPayments,
		"created":     report.CreatedCount,
		"skipped":     report.SkippedCount,
		"failed":      report.FailedCount,
	}).Info("Settlement creation finished")

	if report.CreatedCount > 0 {
		s.queue.Wake()
	}
	s.publisher.Broadcast(hub.Message{Event: hub.EventSettlementBatch, Data: report})
	return report, nil
}

func (s *SettlementBatchService) createChunk(ctx context.Context, targetDate time.Time, payments []CapturedPayment, report *CreationReport) error {
	ids := make([]uint, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.ID)
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	var existing []uint
	if err := tx.Model(&models.Settlement{}).Where("payment_id IN ?", ids).Pluck("payment_id", &existing).Error; err != nil {
		tx.Rollback()
		return err
	}
	settled := make(map[uint]bool, len(existing))
	for _, id := range existing {
		settled[id] = true
	}

	var created []uint
	skipped, failed := 0, 0
	for _, p := range payments {
		if settled[p.ID] {
			skipped++
			continue
		}
		settlement, err := models.NewSettlementFromPayment(p.ID, p.OrderID, p.Amount, targetDate)
		if err != nil {
			failed++
			utils.ErrorLogger.WithFields(logrus.Fields{"payment_id": p.ID}).Warnf("Skipping payment: %v", err)
			continue
		}
		// A savepoint keeps one bad row from poisoning the rest of the chunk.
		if err := tx.SavePoint("settlement").Error; err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Create(settlement).Error; err != nil {
			tx.RollbackTo("settlement")
			failed++
			utils.ErrorLogger.WithFields(logrus.Fields{"payment_id": p.ID}).Warnf("Failed to save settlement: %v", err)
			continue
		}
		created = append(created, settlement.ID)
	}

	if err := s.queue.EnqueueAll(tx, created, models.IndexOperationIndex); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	report.CreatedCount += len(created)
	report.SkippedCount += skipped
	report.FailedCount += failed
	report.SettlementIDs = append(report.SettlementIDs, created...)
	return nil
}

// ConfirmSettlements confirms the PENDING and WAITING_APPROVAL settlements of
// settlementDate. Already confirmed ones are not selected.
func (s *SettlementBatchService) ConfirmSettlements(ctx context.Context, settlementDate time.Time) (*ConfirmationReport, error) {
	started := time.Now()
	start, end := dayRange(settlementDate)
	report := &ConfirmationReport{
		SettlementDate: settlementDate.Format("2006-01-02"),
		SettlementIDs:  []uint{},
	}
	utils.InfoLogger.WithFields(logrus.Fields{"settlement_date": report.SettlementDate}).Info("Settlement confirmation started")

	var lastID uint
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var chunk []models.Settlement
		err := s.db.WithContext(ctx).
			Where("settlement_date >= ? AND settlement_date < ?", start, end).
			Where("status IN ?", []models.SettlementStatus{models.SettlementStatusPending, models.SettlementStatusWaitingApproval}).
			Where("id > ?", lastID).
			Order("id ASC").
			Limit(s.chunkSize).
			Find(&chunk).Error
		if err != nil {
			s.observe(monitoring.JobConfirm, started, report.TotalSettlements, report.FailedCount+1)
			return report, err
		}
		if len(chunk) == 0 {
			break
		}
		lastID = chunk[len(chunk)-1].ID
		report.TotalSettlements += len(chunk)

		if err := s.confirmChunk(ctx, chunk, report); err != nil {
			report.FailedCount += len(chunk)
			utils.ErrorLogger.WithFields(logrus.Fields{
				"settlement_date": report.SettlementDate,
				"chunk_size":      len(chunk),
			}).Errorf("Confirmation chunk failed: %v", err)
		}
		if len(chunk) < s.chunkSize {
			break
		}
	}

	if s.metrics != nil {
		s.metrics.SettlementsConfirmed.Add(float64(report.ConfirmedCount))
	}
	s.observe(monitoring.JobConfirm, started, report.TotalSettlements, report.FailedCount)
	utils.InfoLogger.WithFields(logrus.Fields{
		"settlement_date": report.SettlementDate,
		"total":           report.TotalSettlements,
		"confirmed":       report.ConfirmedCount,
		"failed":          report.FailedCount,
	}).Info("Settlement confirmation finished")

	if report.ConfirmedCount > 0 {
		s.queue.Wake()
	}
	s.publisher.Broadcast(hub.Message{Event: hub.EventSettlementConfirm, Data: report})
	return report, nil
}

func (s *SettlementBatchService) confirmChunk(ctx context.Context, chunk []models.Settlement, report *ConfirmationReport) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	now := time.Now()
	var confirmed []uint
	failed := 0
	for i := range chunk {
		settlement := &chunk[i]
		changed, err := settlement.Confirm(now)
		if err != nil {
			failed++
			utils.ErrorLogger.WithFields(logrus.Fields{"settlement_id": settlement.ID}).Warnf("Cannot confirm settlement: %v", err)
			continue
		}
		if !changed {
			continue
		}
		// Guarded on the old status so a refund that canceled the row in
		// between is not overwritten.
		res := tx.Model(&models.Settlement{}).
			Where("id = ? AND status IN ?", settlement.ID, []models.SettlementStatus{models.SettlementStatusPending, models.SettlementStatusWaitingApproval}).
			Updates(map[string]interface{}{
				"status":       settlement.Status,
				"confirmed_at": settlement.ConfirmedAt,
				"updated_at":   settlement.UpdatedAt,
			})
		if res.Error != nil {
			tx.Rollback()
			return res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		confirmed = append(confirmed, settlement.ID)
	}

	if err := s.queue.EnqueueAll(tx, confirmed, models.IndexOperationUpdate); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	report.ConfirmedCount += len(confirmed)
	report.FailedCount += failed
	report.SettlementIDs = append(report.SettlementIDs, confirmed...)
	return nil
}

// ConfirmAdjustments confirms the PENDING refund adjustments of adjustmentDate.
func (s *SettlementBatchService) ConfirmAdjustments(ctx context.Context, adjustmentDate time.Time) (*AdjustmentReport, error) {
	started := time.Now()
	start, end := dayRange(adjustmentDate)
	report := &AdjustmentReport{AdjustmentDate: adjustmentDate.Format("2006-01-02")}

	var lastID uint
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var chunk []models.SettlementAdjustment
		err := s.db.WithContext(ctx).
			Where("status = ?", models.AdjustmentStatusPending).
			Where("adjustment_date >= ? AND adjustment_date < ?", start, end).
			Where("id > ?", lastID).
			Order("id ASC").
			Limit(s.chunkSize).
			Find(&chunk).Error
		if err != nil {
			s.observe(monitoring.JobAdjustmentConfirm, started, report.TotalAdjustments, report.FailedCount+1)
			return report, err
		}
		if len(chunk) == 0 {
			break
		}
		lastID = chunk[len(chunk)-1].ID
		report.TotalAdjustments += len(chunk)

		if err := s.confirmAdjustmentChunk(ctx, chunk, report); err != nil {
			report.FailedCount += len(chunk)
			utils.ErrorLogger.WithFields(logrus.Fields{
				"adjustment_date": report.AdjustmentDate,
				"chunk_size":      len(chunk),
			}).Errorf("Adjustment chunk failed: %v", err)
		}
		if len(chunk) < s.chunkSize {
			break
		}
	}

	if s.metrics != nil {
		s.metrics.AdjustmentsConfirmed.Add(float64(report.ConfirmedCount))
	}
	s.observe(monitoring.JobAdjustmentConfirm, started, report.TotalAdjustments, report.FailedCount)
	utils.InfoLogger.WithFields(logrus.Fields{
		"adjustment_date": report.AdjustmentDate,
		"total":           report.TotalAdjustments,
		"confirmed":       report.ConfirmedCount,
	}).Info("Adjustment confirmation finished")
	s.publisher.Broadcast(hub.Message{Event: hub.EventAdjustmentConfirm, Data: report})
	return report, nil
}

func (s *SettlementBatchService) confirmAdjustmentChunk(ctx context.Context, chunk []models.SettlementAdjustment, report *AdjustmentReport) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	now := time.Now()
	confirmed := 0
	for i := range chunk {
		adjustment := &chunk[i]
		if !adjustment.Confirm(now) {
			continue
		}
		res := tx.Model(&models.SettlementAdjustment{}).
			Where("id = ? AND status = ?", adjustment.ID, models.AdjustmentStatusPending).
			Updates(map[string]interface{}{
				"status":       adjustment.Status,
				"confirmed_at": adjustment.ConfirmedAt,
				"updated_at":   adjustment.UpdatedAt,
			})
		if res.Error != nil {
			tx.Rollback()
			return res.Error
		}
		if res.RowsAffected > 0 {
			confirmed++
		}
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	report.ConfirmedCount += confirmed
	return nil
}

func (s *SettlementBatchService) observe(job string, started time.Time, examined, failed int) {
	if s.metrics != nil {
		s.metrics.ObserveBatch(job, started, examined, failed)
	}
}
