package search

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yeremiapane/settlement-engine/models"
)

// ErrDisabled is returned by every write on an index that is switched off.
var ErrDisabled = errors.New("search index is disabled")

// Index is the write side of the settlement search backend.
type Index interface {
	// Enabled is fixed at startup; callers skip outbox rows when it is false.
	Enabled() bool
	Upsert(ctx context.Context, doc SettlementDocument) error
	Delete(ctx context.Context, settlementID uint) error
	// BulkUpsert returns per-document failures keyed by settlement id. A
	// non-nil error means the request as a whole failed.
	BulkUpsert(ctx context.Context, docs []SettlementDocument) (map[uint]error, error)
}

// SettlementDocument is the denormalised search view of a settlement.
type SettlementDocument struct {
	SettlementID   uint            `json:"settlement_id"`
	PaymentID      uint            `json:"payment_id"`
	OrderID        uint            `json:"order_id"`
	UserID         uint            `json:"user_id"`
	PaymentAmount  decimal.Decimal `json:"payment_amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Commission     decimal.Decimal `json:"commission"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"payment_status"`
	OrderStatus    string          `json:"order_status"`
	PaymentMethod  string          `json:"payment_method"`
	SettlementDate string          `json:"settlement_date"`
	CapturedAt     *time.Time      `json:"captured_at,omitempty"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	ApprovedBy     *uint           `json:"approved_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewSettlementDocument merges the three aggregates. Payment and order may be
// nil when they are no longer available.
func NewSettlementDocument(s *models.Settlement, p *models.Payment, o *models.Order) SettlementDocument {
	doc := SettlementDocument{
		SettlementID:   s.ID,
		PaymentID:      s.PaymentID,
		OrderID:        s.OrderID,
		PaymentAmount:  s.PaymentAmount,
		RefundedAmount: decimal.Zero,
		Commission:     s.Commission,
		NetAmount:      s.NetAmount,
		Status:         string(s.Status),
		SettlementDate: s.SettlementDate.Format("2006-01-02"),
		ConfirmedAt:    s.ConfirmedAt,
		ApprovedBy:     s.ApprovedBy,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if p != nil {
		doc.PaymentStatus = string(p.Status)
		doc.PaymentMethod = p.PaymentMethod
		doc.RefundedAmount = p.RefundedAmount
		doc.CapturedAt = p.CapturedAt
	}
	if o != nil {
		doc.UserID = o.UserID
		doc.OrderStatus = string(o.Status)
	}
	return doc
}

// Disabled is used when SEARCH_ENABLED is false.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Upsert(context.Context, SettlementDocument) error { return ErrDisabled }

func (Disabled) Delete(context.Context, uint) error { return ErrDisabled }

func (Disabled) BulkUpsert(context.Context, []SettlementDocument) (map[uint]error, error) {
	return nil, ErrDisabled
}
