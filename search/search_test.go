package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/settlement-engine/models"
)

func sampleDoc(id uint) SettlementDocument {
	return SettlementDocument{
		SettlementID:  id,
		PaymentID:     id + 100,
		PaymentAmount: decimal.NewFromInt(10000),
		Commission:    decimal.NewFromInt(300),
		NetAmount:     decimal.NewFromInt(9700),
		Status:        string(models.SettlementStatusPending),
	}
}

func TestNewSettlementDocumentMergesAggregates(t *testing.T) {
	captured := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &models.Settlement{
		ID:             7,
		PaymentID:      3,
		OrderID:        2,
		PaymentAmount:  decimal.NewFromInt(10000),
		Commission:     decimal.NewFromInt(300),
		NetAmount:      decimal.NewFromInt(9700),
		Status:         models.SettlementStatusPending,
		SettlementDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	p := &models.Payment{ID: 3, Status: models.PaymentStatusCaptured, PaymentMethod: "CARD",
		RefundedAmount: decimal.NewFromInt(1000), CapturedAt: &captured}
	o := &models.Order{ID: 2, UserID: 9, Status: models.OrderStatusPaid}

	doc := NewSettlementDocument(s, p, o)
	assert.Equal(t, uint(7), doc.SettlementID)
	assert.Equal(t, uint(9), doc.UserID)
	assert.Equal(t, "2024-03-01", doc.SettlementDate)
	assert.Equal(t, "CAPTURED", doc.PaymentStatus)
	assert.Equal(t, "PAID", doc.OrderStatus)
	assert.True(t, doc.RefundedAmount.Equal(decimal.NewFromInt(1000)))

	bare := NewSettlementDocument(s, nil, nil)
	assert.Empty(t, bare.PaymentStatus)
	assert.True(t, bare.RefundedAmount.IsZero())
}

func TestDisabledIndex(t *testing.T) {
	var idx Index = Disabled{}
	assert.False(t, idx.Enabled())
	assert.ErrorIs(t, idx.Upsert(context.Background(), sampleDoc(1)), ErrDisabled)
	_, err := idx.BulkUpsert(context.Background(), nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestMemoryIndexFailures(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	idx.Fail(2, errors.New("mapping conflict"))

	failed, err := idx.BulkUpsert(ctx, []SettlementDocument{sampleDoc(1), sampleDoc(2)})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.Contains(t, failed, uint(2))
	assert.Equal(t, 1, idx.Len())

	idx.Recover(2)
	require.NoError(t, idx.Upsert(ctx, sampleDoc(2)))
	require.NoError(t, idx.Delete(ctx, 1))
	_, ok := idx.Get(1)
	assert.False(t, ok)

	idx.SetDown(errors.New("cluster unavailable"))
	_, err = idx.BulkUpsert(ctx, []SettlementDocument{sampleDoc(3)})
	assert.Error(t, err)
}

func newElasticTestServer(t *testing.T, handler http.HandlerFunc) *ElasticIndex {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	idx, err := NewElasticIndex(ElasticConfig{Addresses: []string{server.URL}, IndexName: "settlement_search"})
	require.NoError(t, err)
	return idx
}

func TestElasticIndexUpsert(t *testing.T) {
	var gotPath, gotMethod string
	var gotDoc SettlementDocument
	idx := newElasticTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotDoc)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	})

	require.NoError(t, idx.Upsert(context.Background(), sampleDoc(42)))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/settlement_search/_doc/42", gotPath)
	assert.Equal(t, uint(42), gotDoc.SettlementID)
}

func TestElasticIndexUpsertError(t *testing.T) {
	idx := newElasticTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"mapper_parsing_exception"}}`)
	})
	err := idx.Upsert(context.Background(), sampleDoc(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestElasticIndexDeleteIgnoresMissing(t *testing.T) {
	idx := newElasticTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"result":"not_found"}`)
	})
	assert.NoError(t, idx.Delete(context.Background(), 5))
}

func TestElasticIndexBulkUpsertItemErrors(t *testing.T) {
	var lines []string
	idx := newElasticTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/settlement_search/_bulk", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		lines = strings.Split(strings.TrimSpace(string(body)), "\n")
		_, _ = io.WriteString(w, `{"errors":true,"items":[
			{"index":{"_id":"1","status":201}},
			{"index":{"_id":"2","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad date"}}}
		]}`)
	})

	failed, err := idx.BulkUpsert(context.Background(), []SettlementDocument{sampleDoc(1), sampleDoc(2)})
	require.NoError(t, err)
	assert.Len(t, lines, 4)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[2].Error(), "bad date")
}

func TestElasticIndexBulkUpsertRequestFailure(t *testing.T) {
	idx := newElasticTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"unavailable"}`)
	})
	_, err := idx.BulkUpsert(context.Background(), []SettlementDocument{sampleDoc(1)})
	assert.Error(t, err)
}
