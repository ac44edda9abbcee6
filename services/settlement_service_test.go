package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/settlement-engine/models"
)

func seedUser(t *testing.T, f *fixture, email, role string) *models.User {
	t.Helper()
	user := &models.User{Name: email, Email: email, Role: role}
	require.NoError(t, f.db.Create(user).Error)
	return user
}

func TestSettlementApprovalFlow(t *testing.T) {
	f := newFixture(t)
	svc := NewSettlementService(f.db, f.queue)
	ctx := context.Background()
	admin := seedUser(t, f, "admin@example.com", models.RoleAdmin)
	_, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	settlement := seedSettlement(t, f.db, payment, models.SettlementStatusPending)

	_, err := svc.Approve(ctx, settlement.ID, admin.ID)
	assert.True(t, models.IsIllegalTransition(err))

	waiting, err := svc.RequestApproval(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusWaitingApproval, waiting.Status)

	approved, err := svc.Approve(ctx, settlement.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusApproved, approved.Status)

	stored := reloadSettlement(t, f.db, settlement.ID)
	require.NotNil(t, stored.ApprovedBy)
	assert.Equal(t, admin.ID, *stored.ApprovedBy)
	assert.NotNil(t, stored.ApprovedAt)
	assert.Len(t, queueItems(t, f.db), 2)
}

func TestSettlementApprovalRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	svc := NewSettlementService(f.db, f.queue)
	ctx := context.Background()
	operator := seedUser(t, f, "ops@example.com", "OPERATOR")
	_, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	settlement := seedSettlement(t, f.db, payment, models.SettlementStatusWaitingApproval)

	_, err := svc.Approve(ctx, settlement.ID, operator.ID)
	assert.True(t, models.IsInvariantViolation(err))

	_, err = svc.Approve(ctx, settlement.ID, 999)
	assert.True(t, models.IsNotFound(err))

	assert.Equal(t, models.SettlementStatusWaitingApproval, reloadSettlement(t, f.db, settlement.ID).Status)
	assert.Empty(t, queueItems(t, f.db))
}

func TestSettlementReject(t *testing.T) {
	f := newFixture(t)
	svc := NewSettlementService(f.db, f.queue)
	ctx := context.Background()
	admin := seedUser(t, f, "admin@example.com", models.RoleAdmin)
	_, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	settlement := seedSettlement(t, f.db, payment, models.SettlementStatusWaitingApproval)

	_, err := svc.Reject(ctx, settlement.ID, admin.ID, "  ")
	assert.True(t, models.IsInvariantViolation(err))

	rejected, err := svc.Reject(ctx, settlement.ID, admin.ID, "duplicate payout")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusRejected, rejected.Status)
	assert.Equal(t, "duplicate payout", reloadSettlement(t, f.db, settlement.ID).RejectionReason)
}

func TestSettlementListAndGet(t *testing.T) {
	f := newFixture(t)
	svc := NewSettlementService(f.db, f.queue)
	ctx := context.Background()
	_, p1 := seedCapturedPayment(t, f.db, "1000", time.Now())
	_, p2 := seedCapturedPayment(t, f.db, "2000", time.Now())
	seedSettlement(t, f.db, p1, models.SettlementStatusPending)
	confirmed := seedSettlement(t, f.db, p2, models.SettlementStatusConfirmed)

	pending, err := svc.ListByStatus(ctx, models.SettlementStatusPending, 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := svc.ListByStatus(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := svc.Get(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, p2.ID, got.PaymentID)

	_, err = svc.Get(ctx, 404)
	assert.True(t, models.IsNotFound(err))
}
