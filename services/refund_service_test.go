package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/settlement-engine/hub"
	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/utils"
)

type recordingPublisher struct {
	messages []hub.Message
}

func (p *recordingPublisher) Broadcast(msg hub.Message) {
	p.messages = append(p.messages, msg)
}

func newRefundService(f *fixture) (*RefundService, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewRefundService(f.db, f.queue, pub, f.metrics), pub
}

func TestFullRefundCancelsSettlement(t *testing.T) {
	f := newFixture(t)
	svc, pub := newRefundService(f)
	order, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	settlement := seedSettlement(t, f.db, payment, models.SettlementStatusPending)

	result, err := svc.FullRefund(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, RefundScenarioFull, result.Scenario)

	stored := reloadPayment(t, f.db, payment.ID)
	assert.Equal(t, models.PaymentStatusRefunded, stored.Status)
	assert.True(t, stored.RefundedAmount.Equal(amount("10000")))
	assert.Equal(t, models.OrderStatusRefunded, reloadOrder(t, f.db, order.ID).Status)
	assert.Equal(t, models.SettlementStatusCanceled, reloadSettlement(t, f.db, settlement.ID).Status)

	items := queueItems(t, f.db)
	require.Len(t, items, 1)
	assert.Equal(t, settlement.ID, items[0].SettlementID)
	assert.Equal(t, models.IndexOperationUpdate, items[0].Operation)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, hub.EventRefund, pub.messages[0].Event)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Refunds.WithLabelValues(RefundScenarioFull)))
}

func TestFullRefundWithoutSettlement(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	_, payment := seedCapturedPayment(t, f.db, "5000", time.Now())

	result, err := svc.FullRefund(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Nil(t, result.Settlement)
	assert.Empty(t, queueItems(t, f.db))
}

func TestFullRefundOfConfirmedSettlementRollsBack(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	order, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	settlement := seedSettlement(t, f.db, payment, models.SettlementStatusConfirmed)

	_, err := svc.FullRefund(context.Background(), payment.ID)
	require.Error(t, err)
	assert.True(t, models.IsInvariantViolation(err))

	assert.Equal(t, models.PaymentStatusCaptured, reloadPayment(t, f.db, payment.ID).Status)
	assert.Equal(t, models.OrderStatusPaid, reloadOrder(t, f.db, order.ID).Status)
	assert.Equal(t, models.SettlementStatusConfirmed, reloadSettlement(t, f.db, settlement.ID).Status)
	assert.Empty(t, queueItems(t, f.db))
}

func TestFullRefundRequiresCapture(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	_, payment := seedAuthorizedPayment(t, f.db, "10000")

	_, err := svc.FullRefund(context.Background(), payment.ID)
	assert.True(t, models.IsIllegalTransition(err))
}

func TestPartialRefundAdjustsSettlement(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	order, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	settlement := seedSettlement(t, f.db, payment, models.SettlementStatusPending)
	require.True(t, settlement.NetAmount.Equal(amount("9700")))

	result, err := svc.PartialRefund(context.Background(), payment.ID, amount("3000"))
	require.NoError(t, err)
	assert.Equal(t, RefundScenarioPartial, result.Scenario)

	require.NotNil(t, result.RefundRecord)
	record := reloadPayment(t, f.db, result.RefundRecord.ID)
	assert.True(t, record.Amount.Equal(amount("-3000")))
	assert.Equal(t, models.PaymentStatusRefunded, record.Status)
	assert.Equal(t, order.ID, record.OrderID)
	assert.Equal(t, "REFUND-pg_tx_10000", record.PgTransactionID)

	original := reloadPayment(t, f.db, payment.ID)
	assert.Equal(t, models.PaymentStatusCaptured, original.Status)
	assert.True(t, original.RefundedAmount.Equal(amount("3000")))
	assert.Equal(t, models.OrderStatusPaid, reloadOrder(t, f.db, order.ID).Status)

	adjusted := reloadSettlement(t, f.db, settlement.ID)
	assert.True(t, adjusted.PaymentAmount.Equal(amount("7000")))
	assert.True(t, adjusted.NetAmount.Equal(amount("6700")))
	assert.True(t, adjusted.Commission.Equal(amount("300")))

	var adjustments []models.SettlementAdjustment
	require.NoError(t, f.db.Find(&adjustments).Error)
	require.Len(t, adjustments, 1)
	assert.Equal(t, record.ID, adjustments[0].RefundPaymentID)
	assert.True(t, adjustments[0].Amount.Equal(amount("3000")))
	assert.Equal(t, models.AdjustmentStatusPending, adjustments[0].Status)

	assert.Len(t, queueItems(t, f.db), 1)
}

func TestPartialRefundAboveNetAmount(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	_, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	settlement := seedSettlement(t, f.db, payment, models.SettlementStatusPending)

	result, err := svc.PartialRefund(context.Background(), payment.ID, amount("9800"))
	require.NoError(t, err)
	assert.Equal(t, RefundScenarioPartial, result.Scenario)

	adjusted := reloadSettlement(t, f.db, settlement.ID)
	assert.True(t, adjusted.PaymentAmount.Equal(amount("200")))
	assert.True(t, adjusted.Commission.Equal(amount("300")))
	assert.True(t, adjusted.NetAmount.Equal(amount("-100")))
	assert.Equal(t, models.SettlementStatusPending, adjusted.Status)
	assert.True(t, reloadPayment(t, f.db, payment.ID).RefundedAmount.Equal(amount("9800")))
}

func TestRepeatedPartialRefundsRespectRefundableAmount(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	order, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	ctx := context.Background()

	_, err := svc.PartialRefund(ctx, payment.ID, amount("3000"))
	require.NoError(t, err)

	_, err = svc.PartialRefund(ctx, payment.ID, amount("8000"))
	require.Error(t, err)
	assert.True(t, models.IsInvariantViolation(err))
	assert.True(t, reloadPayment(t, f.db, payment.ID).RefundedAmount.Equal(amount("3000")))

	// The remainder closes the payment out.
	result, err := svc.PartialRefund(ctx, payment.ID, amount("7000"))
	require.NoError(t, err)
	assert.Equal(t, RefundScenarioFull, result.Scenario)

	stored := reloadPayment(t, f.db, payment.ID)
	assert.Equal(t, models.PaymentStatusRefunded, stored.Status)
	assert.True(t, stored.RefundedAmount.Equal(stored.Amount))
	assert.Equal(t, models.OrderStatusRefunded, reloadOrder(t, f.db, order.ID).Status)
}

func TestPartialRefundOfWholeAmountIsFullRefund(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	_, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	settlement := seedSettlement(t, f.db, payment, models.SettlementStatusWaitingApproval)

	result, err := svc.PartialRefund(context.Background(), payment.ID, amount("10000"))
	require.NoError(t, err)
	assert.Equal(t, RefundScenarioFull, result.Scenario)
	assert.Nil(t, result.RefundRecord)
	assert.Equal(t, models.SettlementStatusCanceled, reloadSettlement(t, f.db, settlement.ID).Status)

	var count int64
	f.db.Model(&models.Payment{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestPartialRefundValidation(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	_, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	_, authorized := seedAuthorizedPayment(t, f.db, "2000")
	ctx := context.Background()

	_, err := svc.PartialRefund(ctx, payment.ID, amount("0"))
	assert.True(t, models.IsInvariantViolation(err))

	_, err = svc.PartialRefund(ctx, payment.ID, amount("10000.01"))
	assert.True(t, models.IsInvariantViolation(err))

	_, err = svc.PartialRefund(ctx, authorized.ID, amount("100"))
	assert.True(t, models.IsIllegalTransition(err))
}

func TestPartialRefundOfConfirmedSettlementRollsBack(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	_, payment := seedCapturedPayment(t, f.db, "10000", time.Now())
	settlement := seedSettlement(t, f.db, payment, models.SettlementStatusConfirmed)
	hook := logtest.NewLocal(utils.ErrorLogger)
	t.Cleanup(func() { utils.ErrorLogger.ReplaceHooks(make(logrus.LevelHooks)) })

	_, err := svc.PartialRefund(context.Background(), payment.ID, amount("1000"))
	require.Error(t, err)
	assert.True(t, models.IsInvariantViolation(err))

	var reversal *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel {
			reversal = entry
		}
	}
	require.NotNil(t, reversal)
	assert.Contains(t, reversal.Message, "manual reversal required")
	assert.Equal(t, settlement.ID, reversal.Data["settlement_id"])

	assert.True(t, reloadPayment(t, f.db, payment.ID).RefundedAmount.IsZero())
	var count int64
	f.db.Model(&models.Payment{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRefundRecordCannotBeRefunded(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	_, payment := seedCapturedPayment(t, f.db, "10000", time.Now())

	result, err := svc.PartialRefund(context.Background(), payment.ID, amount("1000"))
	require.NoError(t, err)

	_, err = svc.FullRefund(context.Background(), result.RefundRecord.ID)
	assert.True(t, models.IsInvariantViolation(err))
}

func TestCancelAuthorization(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	order, payment := seedAuthorizedPayment(t, f.db, "10000")

	result, err := svc.CancelAuthorization(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, RefundScenarioCancel, result.Scenario)

	assert.Equal(t, models.PaymentStatusCanceled, reloadPayment(t, f.db, payment.ID).Status)
	assert.Equal(t, models.OrderStatusCreated, reloadOrder(t, f.db, order.ID).Status)

	var settlements int64
	f.db.Model(&models.Settlement{}).Count(&settlements)
	assert.Zero(t, settlements)
	assert.Empty(t, queueItems(t, f.db))
}

func TestCancelAuthorizationOfFailedPayment(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	_, payment := seedAuthorizedPayment(t, f.db, "10000")
	require.NoError(t, payment.Fail("issuer declined"))
	require.NoError(t, f.db.Save(payment).Error)

	_, err := svc.CancelAuthorization(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCanceled, reloadPayment(t, f.db, payment.ID).Status)
}

func TestCancelAuthorizationRejectsCapturedPayment(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)
	_, payment := seedCapturedPayment(t, f.db, "10000", time.Now())

	_, err := svc.CancelAuthorization(context.Background(), payment.ID)
	assert.True(t, models.IsIllegalTransition(err))
	assert.Equal(t, models.PaymentStatusCaptured, reloadPayment(t, f.db, payment.ID).Status)
}

func TestRefundUnknownPayment(t *testing.T) {
	f := newFixture(t)
	svc, _ := newRefundService(f)

	_, err := svc.FullRefund(context.Background(), 404)
	assert.True(t, models.IsNotFound(err))
}
