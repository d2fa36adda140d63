package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"payment-gateway/internal/tokencache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayPalClient(serverURL string) *PayPalClient {
	c := NewPayPalClient("sandbox", "client-id", "client-secret",
		"http://localhost", "Test Store", 10*time.Second, tokencache.New(time.Minute))
	c.baseURL = serverURL
	return c
}

func TestFetchAccessToken(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			tokenCalls.Add(1)
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "client-id", user)
			assert.Equal(t, "client-secret", pass)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.PostFormValue("grant_type"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "A21AA-test",
				"expires_in":   32400,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestPayPalClient(srv.URL)

	tok, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A21AA-test", tok)

	// second call served from cache
	tok, err = c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A21AA-test", tok)
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestFetchAccessTokenAuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	c := newTestPayPalClient(srv.URL)

	_, err := c.AccessToken(context.Background())
	require.Error(t, err)

	var authErr *tokencache.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
}

func TestCaptureOrderExtractsReferenceID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok",
				"expires_in":   3600,
			})
		case "/v2/checkout/orders/5O190127TN364715T/capture":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"id":     "5O190127TN364715T",
				"status": "COMPLETED",
				"purchase_units": []map[string]interface{}{
					{"reference_id": "cart-abc123"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestPayPalClient(srv.URL)

	capture, err := c.CaptureOrder(context.Background(), "5O190127TN364715T")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", capture.Status)
	assert.Equal(t, "cart-abc123", capture.ReferenceID)
	assert.Equal(t, "5O190127TN364715T", capture.OrderID)
	assert.NotNil(t, capture.Payload)
}

func TestCreateOrderSendsPurchaseUnit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok",
				"expires_in":   3600,
			})
		case "/v2/checkout/orders":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "CAPTURE", body["intent"])
			units := body["purchase_units"].([]interface{})
			require.Len(t, units, 1)
			unit := units[0].(map[string]interface{})
			assert.Equal(t, "cart-xyz", unit["reference_id"])
			amount := unit["amount"].(map[string]interface{})
			assert.Equal(t, "GBP", amount["currency_code"])
			assert.Equal(t, "25.50", amount["value"])

			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"id":     "ORDER-1",
				"status": "CREATED",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestPayPalClient(srv.URL)

	order, err := c.CreateOrder(context.Background(), PayPalOrderRequest{
		ReferenceID: "cart-xyz",
		Currency:    "GBP",
		Total:       "25.50",
		Items: []PayPalOrderItem{{
			Name:       "Widget",
			UnitAmount: PayPalMoney{CurrencyCode: "GBP", Value: "12.75"},
			Quantity:   "2",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ORDER-1", order.OrderID)
	assert.Equal(t, "CREATED", order.Status)
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{99, "0.99"},
		{100, "1.00"},
		{2550, "25.50"},
		{123456, "1234.56"},
		{-5, "-0.05"},
		{-2550, "-25.50"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatAmount(tc.cents), "cents=%d", tc.cents)
	}
}

func TestFetchAccessTokenTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewPayPalClient("sandbox", "id", "secret", "http://localhost", "Store",
		50*time.Millisecond, tokencache.New(time.Minute))
	c.baseURL = srv.URL

	_, err := c.AccessToken(context.Background())
	require.Error(t, err)

	// the in-flight marker is released: a follow-up call starts a fresh
	// refresh instead of hanging
	_, err = c.AccessToken(context.Background())
	require.Error(t, err)
}
