package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/settlement-engine/hub"
	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/monitoring"
	"github.com/yeremiapane/settlement-engine/search"
	"github.com/yeremiapane/settlement-engine/utils"
	"gorm.io/gorm"
)

type IndexQueueConfig struct {
	PageSize         int
	ProcessInterval  time.Duration
	RecoveryInterval time.Duration
	CleanupInterval  time.Duration
	// Retention is how long SUCCESS rows are kept.
	Retention time.Duration
	// StuckAfter returns PROCESSING rows older than this to PENDING.
	StuckAfter time.Duration
}

func DefaultIndexQueueConfig() IndexQueueConfig {
	return IndexQueueConfig{
		PageSize:         100,
		ProcessInterval:  time.Minute,
		RecoveryInterval: 5 * time.Minute,
		CleanupInterval:  24 * time.Hour,
		Retention:        30 * 24 * time.Hour,
		StuckAfter:       10 * time.Minute,
	}
}

// IndexQueueService drains the settlement_index_queue outbox into the search
// index. Rows are written by the mutating transaction; this worker only reads
// committed rows, so an index outage never reverses a settlement change.
type IndexQueueService struct {
	db        *gorm.DB
	index     search.Index
	metrics   *monitoring.Metrics
	publisher hub.Publisher
	cfg       IndexQueueConfig
	wake      chan struct{}
	now       func() time.Time
}

func NewIndexQueueService(db *gorm.DB, index search.Index, metrics *monitoring.Metrics, publisher hub.Publisher, cfg IndexQueueConfig) *IndexQueueService {
	if publisher == nil {
		publisher = hub.Nop{}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &IndexQueueService{
		db:        db,
		index:     index,
		metrics:   metrics,
		publisher: publisher,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

func (s *IndexQueueService) Enabled() bool {
	return s.index.Enabled()
}

// Enqueue writes an outbox row inside tx. It does nothing when search is off.
func (s *IndexQueueService) Enqueue(tx *gorm.DB, settlementID uint, op models.IndexOperation) error {
	return s.EnqueueAll(tx, []uint{settlementID}, op)
}

func (s *IndexQueueService) EnqueueAll(tx *gorm.DB, settlementIDs []uint, op models.IndexOperation) error {
	if !s.index.Enabled() || len(settlementIDs) == 0 {
		return nil
	}
	items := make([]*models.IndexQueueItem, 0, len(settlementIDs))
	for _, id := range settlementIDs {
		items = append(items, models.NewIndexQueueItem(id, op))
	}
	return tx.CreateInBatches(items, s.cfg.PageSize).Error
}

// Wake asks the worker for an early pass. It never blocks.
func (s *IndexQueueService) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives processing, recovery and cleanup until ctx is canceled.
func (s *IndexQueueService) Run(ctx context.Context) {
	processTicker := time.NewTicker(s.cfg.ProcessInterval)
	recoveryTicker := time.NewTicker(s.cfg.RecoveryInterval)
	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer processTicker.Stop()
	defer recoveryTicker.Stop()
	defer cleanupTicker.Stop()

	utils.InfoLogger.Println("Index queue worker started")
	for {
		select {
		case <-ctx.Done():
			utils.InfoLogger.Println("Index queue worker stopped")
			return
		case <-processTicker.C:
			s.drain(ctx)
		case <-s.wake:
			s.drain(ctx)
		case <-recoveryTicker.C:
			if _, err := s.RecoverFailed(ctx); err != nil {
				utils.ErrorLogger.Printf("Index queue recovery failed: %v", err)
			}
		case <-cleanupTicker.C:
			if _, err := s.CleanupSucceeded(ctx); err != nil {
				utils.ErrorLogger.Printf("Index queue cleanup failed: %v", err)
			}
		}
	}
}

// drain processes full pages until the ready set is empty.
func (s *IndexQueueService) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := s.ProcessPending(ctx)
		if err != nil {
			utils.ErrorLogger.Printf("Index queue processing failed: %v", err)
			return
		}
		if n < s.cfg.PageSize {
			return
		}
	}
}

// ProcessPending handles one page of ready items, oldest first, and returns
// how many it claimed.
func (s *IndexQueueService) ProcessPending(ctx context.Context) (int, error) {
	if !s.index.Enabled() {
		return 0, nil
	}
	now := s.now()

	var ready []models.IndexQueueItem
	err := s.db.WithContext(ctx).
		Where("status = ?", models.IndexQueuePending).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("created_at ASC, id ASC").
		Limit(s.cfg.PageSize).
		Find(&ready).Error
	if err != nil {
		return 0, err
	}

	claimed := make([]*models.IndexQueueItem, 0, len(ready))
	for i := range ready {
		item := &ready[i]
		item.MarkProcessing(now)
		res := s.db.WithContext(ctx).Model(&models.IndexQueueItem{}).
			Where("id = ? AND status = ?", item.ID, models.IndexQueuePending).
			Updates(map[string]interface{}{"status": item.Status, "updated_at": item.UpdatedAt})
		if res.Error != nil {
			return len(claimed), res.Error
		}
		if res.RowsAffected == 1 {
			claimed = append(claimed, item)
		}
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	var upserts, deletes []*models.IndexQueueItem
	for _, item := range claimed {
		if item.Operation == models.IndexOperationDelete {
			deletes = append(deletes, item)
		} else {
			upserts = append(upserts, item)
		}
	}

	outcomes := make(map[uint]error, len(claimed))
	s.processUpserts(ctx, upserts, outcomes)
	for _, item := range deletes {
		outcomes[item.ID] = s.index.Delete(ctx, item.SettlementID)
	}

	finished := s.now()
	for _, item := range claimed {
		if err := s.recordOutcome(ctx, item, outcomes[item.ID], finished); err != nil {
			return len(claimed), err
		}
	}
	return len(claimed), nil
}

func (s *IndexQueueService) processUpserts(ctx context.Context, items []*models.IndexQueueItem, outcomes map[uint]error) {
	if len(items) == 0 {
		return
	}

	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.SettlementID)
	}
	docs, err := s.loadDocuments(ctx, ids)
	if err != nil {
		for _, item := range items {
			outcomes[item.ID] = err
		}
		return
	}

	batch := make([]search.SettlementDocument, 0, len(docs))
	for _, doc := range docs {
		batch = append(batch, doc)
	}

	var failed map[uint]error
	if len(batch) > 0 {
		failed, err = s.index.BulkUpsert(ctx, batch)
	}
	for _, item := range items {
		switch {
		case err != nil:
			outcomes[item.ID] = err
		case !hasDoc(docs, item.SettlementID):
			outcomes[item.ID] = models.NewNotFound("settlement", item.SettlementID)
		default:
			outcomes[item.ID] = failed[item.SettlementID]
		}
	}
}

func hasDoc(docs map[uint]search.SettlementDocument, id uint) bool {
	_, ok := docs[id]
	return ok
}

// loadDocuments builds the search view for every settlement that still exists.
func (s *IndexQueueService) loadDocuments(ctx context.Context, settlementIDs []uint) (map[uint]search.SettlementDocument, error) {
	db := s.db.WithContext(ctx)

	var settlements []models.Settlement
	if err := db.Where("id IN ?", settlementIDs).Find(&settlements).Error; err != nil {
		return nil, err
	}
	if len(settlements) == 0 {
		return map[uint]search.SettlementDocument{}, nil
	}

	paymentIDs := make([]uint, 0, len(settlements))
	orderIDs := make([]uint, 0, len(settlements))
	for _, st := range settlements {
		paymentIDs = append(paymentIDs, st.PaymentID)
		orderIDs = append(orderIDs, st.OrderID)
	}

	var payments []models.Payment
	if err := db.Where("id IN ?", paymentIDs).Find(&payments).Error; err != nil {
		return nil, err
	}
	var orders []models.Order
	if err := db.Where("id IN ?", orderIDs).Find(&orders).Error; err != nil {
		return nil, err
	}

	paymentByID := make(map[uint]*models.Payment, len(payments))
	for i := range payments {
		paymentByID[payments[i].ID] = &payments[i]
	}
	orderByID := make(map[uint]*models.Order, len(orders))
	for i := range orders {
		orderByID[orders[i].ID] = &orders[i]
	}

	docs := make(map[uint]search.SettlementDocument, len(settlements))
	for i := range settlements {
		st := &settlements[i]
		docs[st.ID] = search.NewSettlementDocument(st, paymentByID[st.PaymentID], orderByID[st.OrderID])
	}
	return docs, nil
}

func (s *IndexQueueService) recordOutcome(ctx context.Context, item *models.IndexQueueItem, cause error, now time.Time) error {
	fields := logrus.Fields{
		"queue_id":      item.ID,
		"settlement_id": item.SettlementID,
		"operation":     item.Operation,
	}

	if cause == nil {
		item.MarkSuccess(now)
		s.observe("success")
	} else if item.MarkFailed(cause, now) {
		fields["retry_count"] = item.RetryCount
		fields["next_retry_at"] = item.NextRetryAt
		utils.ErrorLogger.WithFields(fields).Warnf("Index sync failed, will retry: %v", cause)
		s.observe("retry")
	} else {
		fields["retry_count"] = item.RetryCount
		utils.ErrorLogger.WithFields(fields).Errorf("Index sync failed permanently: %v", cause)
		s.observe("failed")
		s.publisher.Broadcast(hub.Message{Event: hub.EventIndexFailed, Data: item})
	}

	return s.db.WithContext(ctx).Model(&models.IndexQueueItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"status":        item.Status,
			"retry_count":   item.RetryCount,
			"error_message": item.ErrorMessage,
			"next_retry_at": item.NextRetryAt,
			"processed_at":  item.ProcessedAt,
			"updated_at":    item.UpdatedAt,
		}).Error
}

func (s *IndexQueueService) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.IndexQueueProcessed.WithLabelValues(outcome).Inc()
	}
}

// RecoverFailed hands retryable FAILED rows whose backoff has elapsed back to
// the processing loop, and releases rows stuck in PROCESSING.
func (s *IndexQueueService) RecoverFailed(ctx context.Context) (int64, error) {
	now := s.now()
	db := s.db.WithContext(ctx)

	res := db.Model(&models.IndexQueueItem{}).
		Where("status = ?", models.IndexQueueFailed).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now).
		Where("retry_count <= max_retries").
		Updates(map[string]interface{}{"status": models.IndexQueuePending, "updated_at": now})
	if res.Error != nil {
		return 0, res.Error
	}
	recovered := res.RowsAffected

	stuck := db.Model(&models.IndexQueueItem{}).
		Where("status = ? AND updated_at < ?", models.IndexQueueProcessing, now.Add(-s.cfg.StuckAfter)).
		Updates(map[string]interface{}{"status": models.IndexQueuePending, "updated_at": now})
	if stuck.Error != nil {
		return recovered, stuck.Error
	}

	if recovered+stuck.RowsAffected > 0 {
		utils.InfoLogger.WithFields(logrus.Fields{
			"retried": recovered,
			"stuck":   stuck.RowsAffected,
		}).Info("Index queue items returned to PENDING")
		s.Wake()
	}
	return recovered + stuck.RowsAffected, nil
}

// CleanupSucceeded deletes SUCCESS rows older than the retention window.
func (s *IndexQueueService) CleanupSucceeded(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	res := s.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", models.IndexQueueSuccess, cutoff).
		Delete(&models.IndexQueueItem{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		utils.InfoLogger.Printf("Removed %d processed index queue items", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

type QueueStats map[models.IndexQueueStatus]int64

func (s *IndexQueueService) Stats(ctx context.Context) (QueueStats, error) {
	var rows []struct {
		Status models.IndexQueueStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.IndexQueueItem{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := QueueStats{
		models.IndexQueuePending:    0,
		models.IndexQueueProcessing: 0,
		models.IndexQueueSuccess:    0,
		models.IndexQueueFailed:     0,
	}
	for _, row := range rows {
		stats[row.Status] = row.Count
	}
	if s.metrics != nil {
		for status, count := range stats {
			s.metrics.IndexQueueDepth.WithLabelValues(string(status)).Set(float64(count))
		}
	}
	return stats, nil
}

// ListFailed returns permanently failed rows, newest first.
func (s *IndexQueueService) ListFailed(ctx context.Context, limit int) ([]models.IndexQueueItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var items []models.IndexQueueItem
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NULL", models.IndexQueueFailed).
		Order("updated_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// Requeue gives a permanently failed row a fresh set of retries.
func (s *IndexQueueService) Requeue(ctx context.Context, id uint) (*models.IndexQueueItem, error) {
	var item models.IndexQueueItem
	if err := s.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, notFoundOr(err, "index queue item", id)
	}
	if item.Status != models.IndexQueueFailed {
		return nil, models.NewInvariantViolation("index queue item %d is %s; only FAILED items can be requeued", id, item.Status)
	}

	now := s.now()
	item.ResetToPending(now)
	item.RetryCount = 0
	item.NextRetryAt = nil
	err := s.db.WithContext(ctx).Model(&models.IndexQueueItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"status":        item.Status,
			"retry_count":   0,
			"next_retry_at": nil,
			"updated_at":    now,
		}).Error
	if err != nil {
		return nil, err
	}
	utils.InfoLogger.Printf("Index queue item %d requeued by operator", id)
	s.Wake()
	return &item, nil
}
