package models

import (
	"math"
	"time"
)

type IndexOperation string

const (
	IndexOperationIndex  IndexOperation = "INDEX"
	IndexOperationUpdate IndexOperation = "UPDATE"
	IndexOperationDelete IndexOperation = "DELETE"
)

type IndexQueueStatus string

const (
	IndexQueuePending    IndexQueueStatus = "PENDING"
	IndexQueueProcessing IndexQueueStatus = "PROCESSING"
	IndexQueueSuccess    IndexQueueStatus = "SUCCESS"
	IndexQueueFailed     IndexQueueStatus = "FAILED"
)

const (
	DefaultIndexMaxRetries = 3
	// BackoffBase is the minute base of the retry delay: 5^retryCount minutes.
	BackoffBase = 5
	// maxErrorMessageLength keeps error text inside the column.
	maxErrorMessageLength = 2000
)

// IndexQueueItem is an outbox row that propagates one settlement change to the
// search index.
type IndexQueueItem struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	SettlementID uint             `gorm:"not null;index" json:"settlement_id"`
	Operation    IndexOperation   `gorm:"type:varchar(20);not null" json:"operation"`
	RetryCount   int              `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries   int              `gorm:"not null;default:3" json:"max_retries"`
	Status       IndexQueueStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_index_queue_status_retry,priority:1" json:"status"`
	ErrorMessage string           `gorm:"type:text" json:"error_message,omitempty"`
	NextRetryAt  *time.Time       `gorm:"index:idx_index_queue_status_retry,priority:2" json:"next_retry_at"`
	CreatedAt    time.Time        `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"not null" json:"updated_at"`
	ProcessedAt  *time.Time       `json:"processed_at"`
}

func (IndexQueueItem) TableName() string { return "settlement_index_queue" }

func NewIndexQueueItem(settlementID uint, op IndexOperation) *IndexQueueItem {
	now := time.Now()
	return &IndexQueueItem{
		SettlementID: settlementID,
		Operation:    op,
		MaxRetries:   DefaultIndexMaxRetries,
		Status:       IndexQueuePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// BackoffDelay is the wait before retry n: 5^n minutes.
func BackoffDelay(retry int) time.Duration {
	return time.Duration(math.Pow(BackoffBase, float64(retry))) * time.Minute
}

func (q *IndexQueueItem) CanRetry() bool {
	return q.RetryCount < q.MaxRetries
}

func (q *IndexQueueItem) MarkProcessing(now time.Time) {
	q.Status = IndexQueueProcessing
	q.UpdatedAt = now
}

func (q *IndexQueueItem) MarkSuccess(now time.Time) {
	q.Status = IndexQueueSuccess
	q.ErrorMessage = ""
	q.NextRetryAt = nil
	q.ProcessedAt = &now
	q.UpdatedAt = now
}

// MarkFailed records the error. While retries remain the retry count is
// bumped and the next attempt is scheduled; once they are exhausted the item
// stays FAILED with no next attempt.
func (q *IndexQueueItem) MarkFailed(cause error, now time.Time) (willRetry bool) {
	q.Status = IndexQueueFailed
	msg := cause.Error()
	if len(msg) > maxErrorMessageLength {
		msg = msg[:maxErrorMessageLength]
	}
	q.ErrorMessage = msg
	q.UpdatedAt = now
	if !q.CanRetry() {
		q.NextRetryAt = nil
		return false
	}
	q.RetryCount++
	next := now.Add(BackoffDelay(q.RetryCount))
	q.NextRetryAt = &next
	return true
}

// ResetToPending hands a failed or stuck item back to the processing loop.
func (q *IndexQueueItem) ResetToPending(now time.Time) {
	q.Status = IndexQueuePending
	q.UpdatedAt = now
}
