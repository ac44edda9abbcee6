package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/settlement-engine/hub"
	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/monitoring"
	"github.com/yeremiapane/settlement-engine/search"
)

func enqueue(t *testing.T, f *fixture, settlementID uint, op models.IndexOperation) {
	t.Helper()
	require.NoError(t, f.queue.Enqueue(f.db, settlementID, op))
}

func TestProcessPendingIndexesSettlement(t *testing.T) {
	f := newFixture(t)
	_, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	settlement := seedSettlement(t, f.db, payment, models.SettlementStatusPending)
	enqueue(t, f, settlement.ID, models.IndexOperationIndex)

	n, err := f.queue.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items := queueItems(t, f.db)
	require.Len(t, items, 1)
	assert.Equal(t, models.IndexQueueSuccess, items[0].Status)
	assert.NotNil(t, items[0].ProcessedAt)

	doc, ok := f.index.Get(settlement.ID)
	require.True(t, ok)
	assert.Equal(t, payment.ID, doc.PaymentID)
	assert.Equal(t, "CAPTURED", doc.PaymentStatus)
	assert.Equal(t, "9700.00", doc.NetAmount.StringFixed(2))
}

func TestProcessPendingIsFIFOAndPaged(t *testing.T) {
	f := newFixture(t)
	f.queue.cfg.PageSize = 2
	for i := uint(1); i <= 3; i++ {
		_, p := seedCapturedPayment(t, f.db, "1000", time.Now())
		s := seedSettlement(t, f.db, p, models.SettlementStatusPending)
		enqueue(t, f, s.ID, models.IndexOperationIndex)
	}

	n, err := f.queue.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items := queueItems(t, f.db)
	assert.Equal(t, models.IndexQueueSuccess, items[0].Status)
	assert.Equal(t, models.IndexQueueSuccess, items[1].Status)
	assert.Equal(t, models.IndexQueuePending, items[2].Status)
}

func TestProcessPendingDelete(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.index.Upsert(context.Background(), search.SettlementDocument{SettlementID: 42}))
	enqueue(t, f, 42, models.IndexOperationDelete)

	_, err := f.queue.ProcessPending(context.Background())
	require.NoError(t, err)

	_, ok := f.index.Get(42)
	assert.False(t, ok)
	assert.Equal(t, models.IndexQueueSuccess, queueItems(t, f.db)[0].Status)
}

func TestProcessPendingMissingSettlementFails(t *testing.T) {
	f := newFixture(t)
	enqueue(t, f, 999, models.IndexOperationUpdate)

	_, err := f.queue.ProcessPending(context.Background())
	require.NoError(t, err)

	item := queueItems(t, f.db)[0]
	assert.Equal(t, models.IndexQueueFailed, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.Contains(t, item.ErrorMessage, "settlement not found")
}

func TestProcessPendingBulkRequestFailure(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		_, p := seedCapturedPayment(t, f.db, "1000", time.Now())
		s := seedSettlement(t, f.db, p, models.SettlementStatusPending)
		enqueue(t, f, s.ID, models.IndexOperationUpdate)
	}
	f.index.SetDown(errors.New("cluster unavailable"))

	_, err := f.queue.ProcessPending(context.Background())
	require.NoError(t, err)

	for _, item := range queueItems(t, f.db) {
		assert.Equal(t, models.IndexQueueFailed, item.Status)
		assert.Equal(t, "cluster unavailable", item.ErrorMessage)
	}
}

func TestIndexRetryBackoffAndExhaustion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	settlement := seedSettlement(t, f.db, payment, models.SettlementStatusPending)
	f.index.Fail(settlement.ID, errors.New("mapping conflict"))
	enqueue(t, f, settlement.ID, models.IndexOperationIndex)

	clock := time.Now()
	f.queue.now = func() time.Time { return clock }

	for attempt := 1; attempt <= 3; attempt++ {
		n, err := f.queue.ProcessPending(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n, "attempt %d", attempt)

		item := queueItems(t, f.db)[0]
		assert.Equal(t, models.IndexQueueFailed, item.Status)
		assert.Equal(t, attempt, item.RetryCount)
		require.NotNil(t, item.NextRetryAt)
		assert.Equal(t, models.BackoffDelay(attempt), item.NextRetryAt.Sub(clock).Round(time.Second))

		// Not ready yet.
		recovered, err := f.queue.RecoverFailed(ctx)
		require.NoError(t, err)
		assert.Zero(t, recovered)

		clock = clock.Add(models.BackoffDelay(attempt) + time.Second)
		recovered, err = f.queue.RecoverFailed(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), recovered)
	}

	// Fourth consecutive failure is terminal.
	n, err := f.queue.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item := queueItems(t, f.db)[0]
	assert.Equal(t, models.IndexQueueFailed, item.Status)
	assert.Equal(t, 3, item.RetryCount)
	assert.Nil(t, item.NextRetryAt)

	clock = clock.Add(24 * time.Hour)
	recovered, err := f.queue.RecoverFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)
	n, err = f.queue.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	failed, err := f.queue.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, item.ID, failed[0].ID)
}

func TestTerminalFailureIsBroadcast(t *testing.T) {
	f := newFixture(t)
	pub := &recordingPublisher{}
	f.queue.publisher = pub
	enqueue(t, f, 999, models.IndexOperationUpdate)
	require.NoError(t, f.db.Model(&models.IndexQueueItem{}).Where("1 = 1").Update("retry_count", 3).Error)

	_, err := f.queue.ProcessPending(context.Background())
	require.NoError(t, err)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, hub.EventIndexFailed, pub.messages[0].Event)
}

func TestRecoverStuckProcessingItems(t *testing.T) {
	f := newFixture(t)
	enqueue(t, f, 1, models.IndexOperationIndex)
	stale := time.Now().Add(-15 * time.Minute)
	require.NoError(t, f.db.Model(&models.IndexQueueItem{}).Where("1 = 1").
		Updates(map[string]interface{}{"status": models.IndexQueueProcessing, "updated_at": stale}).Error)

	recovered, err := f.queue.RecoverFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)
	assert.Equal(t, models.IndexQueuePending, queueItems(t, f.db)[0].Status)
}

func TestCleanupSucceeded(t *testing.T) {
	f := newFixture(t)
	enqueue(t, f, 1, models.IndexOperationIndex)
	enqueue(t, f, 2, models.IndexOperationIndex)
	enqueue(t, f, 3, models.IndexOperationIndex)
	items := queueItems(t, f.db)

	old := time.Now().AddDate(0, 0, -31)
	recent := time.Now().AddDate(0, 0, -1)
	require.NoError(t, f.db.Model(&items[0]).Updates(map[string]interface{}{"status": models.IndexQueueSuccess, "processed_at": old}).Error)
	require.NoError(t, f.db.Model(&items[1]).Updates(map[string]interface{}{"status": models.IndexQueueSuccess, "processed_at": recent}).Error)
	require.NoError(t, f.db.Model(&items[2]).Updates(map[string]interface{}{"status": models.IndexQueueFailed, "processed_at": old}).Error)

	removed, err := f.queue.CleanupSucceeded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Len(t, queueItems(t, f.db), 2)
}

func TestRequeue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	enqueue(t, f, 7, models.IndexOperationUpdate)
	item := queueItems(t, f.db)[0]

	_, err := f.queue.Requeue(ctx, item.ID)
	assert.True(t, models.IsInvariantViolation(err))

	require.NoError(t, f.db.Model(&item).Updates(map[string]interface{}{
		"status": models.IndexQueueFailed, "retry_count": 3, "next_retry_at": nil,
	}).Error)

	requeued, err := f.queue.Requeue(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IndexQueuePending, requeued.Status)

	stored := queueItems(t, f.db)[0]
	assert.Equal(t, models.IndexQueuePending, stored.Status)
	assert.Zero(t, stored.RetryCount)

	_, err = f.queue.Requeue(ctx, 12345)
	assert.True(t, models.IsNotFound(err))
}

func TestQueueStats(t *testing.T) {
	f := newFixture(t)
	enqueue(t, f, 101, models.IndexOperationIndex)
	enqueue(t, f, 102, models.IndexOperationIndex)
	enqueue(t, f, 999, models.IndexOperationUpdate)
	_, p := seedCapturedPayment(t, f.db, "1000", time.Now())
	s := seedSettlement(t, f.db, p, models.SettlementStatusPending)
	enqueue(t, f, s.ID, models.IndexOperationIndex)

	f.queue.cfg.PageSize = 10
	_, err := f.queue.ProcessPending(context.Background())
	require.NoError(t, err)

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[models.IndexQueueSuccess])
	assert.Equal(t, int64(3), stats[models.IndexQueueFailed])
	assert.Equal(t, int64(0), stats[models.IndexQueuePending])
}

func TestEnqueueWhenSearchDisabled(t *testing.T) {
	db := setupTestDB(t)
	queue := NewIndexQueueService(db, search.Disabled{}, monitoring.NewMetrics(prometheus.NewRegistry()), nil, DefaultIndexQueueConfig())

	require.NoError(t, queue.Enqueue(db, 1, models.IndexOperationIndex))
	assert.Empty(t, queueItems(t, db))

	n, err := queue.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunDrainsOnWake(t *testing.T) {
	f := newFixture(t)
	f.queue.cfg.ProcessInterval = time.Hour
	f.queue.cfg.RecoveryInterval = time.Hour
	f.queue.cfg.CleanupInterval = time.Hour
	_, p := seedCapturedPayment(t, f.db, "1000", time.Now())
	s := seedSettlement(t, f.db, p, models.SettlementStatusPending)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.queue.Run(ctx)
		close(done)
	}()

	enqueue(t, f, s.ID, models.IndexOperationIndex)
	f.queue.Wake()

	assert.Eventually(t, func() bool {
		_, ok := f.index.Get(s.ID)
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
