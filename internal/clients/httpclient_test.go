package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderDetailsBody(id int64) OrderDetails {
	return OrderDetails{
		Order: models.Order{
			ID:          id,
			OrderNumber: "ORD-20250801-CLIENT01",
			Status:      models.OrderStatusConfirmed,
			Total:       decimal.NewFromInt(50000),
		},
		Items: []models.OrderItem{{ItemID: 101, Name: "Nasi Goreng", Quantity: 2}},
	}
}

func TestGetOrderRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(orderDetailsBody(42))
	}))
	defer srv.Close()

	client := NewOrderClient(srv.URL, time.Second, 3)
	details, err := client.GetOrder(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), details.Order.ID)
	assert.Len(t, details.Items, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetOrderGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewOrderClient(srv.URL, time.Second, 3)
	_, err := client.GetOrder(context.Background(), 42)
	assert.True(t, apperr.IsUpstream(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetOrderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOrderClient(srv.URL, time.Second, 3)
	_, err := client.GetOrder(context.Background(), 99)
	assert.True(t, apperr.IsNotFound(err))
	assert.Contains(t, err.Error(), "order 99 not found")
}

func TestUpdatePaymentStatusRequestShape(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewOrderClient(srv.URL, time.Second, 3)
	err := client.UpdatePaymentStatus(context.Background(), 7, "evt-1", models.PaymentEventSucceeded)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/v1/orders/7/payment-status", gotPath)

	var body map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, "evt-1", body["event_id"])
	assert.Equal(t, "payment.succeeded", body["event"])
}

func TestWritesAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewOrderClient(srv.URL, time.Second, 3)
	err := client.UpdatePaymentStatus(context.Background(), 7, "evt-1", models.PaymentEventFailed)
	assert.True(t, apperr.IsUpstream(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "relays carry their own dedup, the transport sends them once")
}

func TestUpdateRefundStatusConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "order is already refunded", http.StatusConflict)
	}))
	defer srv.Close()

	client := NewOrderClient(srv.URL, time.Second, 3)
	err := client.UpdateRefundStatus(context.Background(), 7, "evt-2", models.RefundEventSucceeded, decimal.NewFromInt(5000))
	assert.True(t, apperr.IsConflict(err))
	assert.Contains(t, err.Error(), "already refunded")
}

func TestMalformedResponseIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>proxy error</html>"))
	}))
	defer srv.Close()

	client := NewOrderClient(srv.URL, time.Second, 3)
	_, err := client.GetOrder(context.Background(), 42)
	assert.True(t, apperr.IsUpstream(err))
}
