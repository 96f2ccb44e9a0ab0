package authority

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/taxbridge/internal/config"
	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testInvoice() *invoicedomain.Invoice {
	return &invoicedomain.Invoice{
		InvoiceNumber: "POS1-00000042",
		SellerTIN:     "20405123",
		BuyerName:     "Cash Customer",
		PaymentMethod: "CASH",
		BaseAmount:    decimal.RequireFromString("851.06"),
		VATAmount:     decimal.RequireFromString("148.94"),
		InvoiceTotal:  decimal.RequireFromString("1000.00"),
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) Client {
	t.Helper()
	return NewHTTPClient(config.Config{
		AuthorityBaseURL: srv.URL,
		AuthorityAPIKey:  "test-key",
	}, zap.NewNop())
}

func TestSubmitAccepted(t *testing.T) {
	var gotIdempotencyKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/invoices", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"SUCCESS","irn":"IRN-9f2c"}`))
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv).Submit(context.Background(), testInvoice(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, result.Kind)
	assert.Equal(t, "IRN-9f2c", result.Reference)
	assert.Equal(t, "POS1-00000042", gotIdempotencyKey)
}

func TestSubmitRejectedOnBusinessRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"status":"REJECTED","message":"seller TIN not registered"}`))
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv).Submit(context.Background(), testInvoice(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Kind)
	assert.Equal(t, "seller TIN not registered", result.Reason)
}

func TestSubmitRejectedOnSuccessStatusWithRejectionBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"INVALID","message":"vat mismatch"}`))
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv).Submit(context.Background(), testInvoice(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Kind)
	assert.Equal(t, "vat mismatch", result.Reason)
}

func TestSubmitTransientOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv).Submit(context.Background(), testInvoice(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransient, result.Kind)
}

func TestSubmitTransientOnThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv).Submit(context.Background(), testInvoice(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransient, result.Kind)
	assert.Equal(t, "throttled", result.Reason)
}

func TestSubmitTransientOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := newTestClient(t, srv).Submit(ctx, testInvoice(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransient, result.Kind)
	assert.Equal(t, "timeout", result.Reason)
}

func TestSubmitTransientOnConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	result, err := newTestClient(t, srv).Submit(context.Background(), testInvoice(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransient, result.Kind)
	assert.Equal(t, "connection_failure", result.Reason)
}

func TestLookupKnownInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoices/POS1-00000042", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"SUCCESS","irn":"IRN-9f2c"}`))
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv).Lookup(context.Background(), "POS1-00000042")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, OutcomeAccepted, result.Kind)
	assert.Equal(t, "IRN-9f2c", result.Reference)
}

func TestLookupUnknownInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv).Lookup(context.Background(), "POS1-99999999")
	require.NoError(t, err)
	assert.Nil(t, result)
}
