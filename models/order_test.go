package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderValidation(t *testing.T) {
	_, err := NewOrder(0, decimal.NewFromInt(100))
	assert.True(t, IsInvariantViolation(err))

	_, err = NewOrder(1, decimal.Zero)
	assert.True(t, IsInvariantViolation(err))

	order, err := NewOrder(1, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCreated, order.Status)
}

func TestOrderTransitions(t *testing.T) {
	order, err := NewOrder(7, decimal.NewFromInt(10000))
	require.NoError(t, err)

	require.NoError(t, order.Complete())
	assert.Equal(t, OrderStatusPaid, order.Status)

	err = order.Cancel()
	require.Error(t, err)
	assert.True(t, IsIllegalTransition(err))
	assert.Contains(t, err.Error(), "cancel")
	assert.Contains(t, err.Error(), "PAID")

	require.NoError(t, order.Refund())
	assert.Equal(t, OrderStatusRefunded, order.Status)
}

func TestOrderTransitionTableRejectsUnlisted(t *testing.T) {
	states := []OrderStatus{OrderStatusCreated, OrderStatusPaid, OrderStatusCanceled, OrderStatusRefunded}
	actions := []string{OrderActionComplete, OrderActionCancel, OrderActionRefund}
	allowed := map[OrderStatus]map[string]bool{
		OrderStatusCreated: {OrderActionComplete: true, OrderActionCancel: true},
		OrderStatusPaid:    {OrderActionRefund: true},
	}

	for _, from := range states {
		for _, action := range actions {
			order := &Order{Status: from}
			err := order.transition(action)
			if allowed[from][action] {
				assert.NoError(t, err, "%s from %s", action, from)
			} else {
				assert.True(t, IsIllegalTransition(err), "%s from %s should be rejected", action, from)
				assert.Equal(t, from, order.Status)
			}
		}
	}
}
