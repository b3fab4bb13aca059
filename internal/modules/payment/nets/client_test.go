package nets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escaperoom/internal/modules/payment"
)

func TestCreatePayment(t *testing.T) {
	var got createPaymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"paymentId":"0262000064f1e2c2ad0b1f6d3f9e46a4"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, SecretKey: "secret", WebhookURL: "https://example.se/api/v1/webhooks/nets", WebhookAuth: "hook"})
	res, err := c.CreatePayment(context.Background(), payment.CreateRequest{
		Reference: "order-1",
		Amount:    1500,
		Items: []payment.LineItem{
			{Reference: "2026-June-12-SUBMARINE-17:00", Name: "SUBMARINE 17:00", Amount: 850},
			{Reference: "2026-June-12-SUBMARINE-18:30", Name: "SUBMARINE 18:30", Amount: 850},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "0262000064f1e2c2ad0b1f6d3f9e46a4", res.PaymentRef)

	assert.Equal(t, int64(150000), got.Order.Amount)
	assert.Equal(t, "SEK", got.Order.Currency)
	require.Len(t, got.Order.Items, 3)
	assert.Equal(t, int64(-20000), got.Order.Items[2].GrossTotalAmount)
	require.NotNil(t, got.Notifications)
	assert.Equal(t, "hook", got.Notifications.Webhooks[0].Authorization)
}

func TestCreatePayment_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":{"amount":["invalid"]}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.CreatePayment(context.Background(), payment.CreateRequest{Amount: 850, Description: "booking"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, payment.ErrProviderCommunication))

	var se *payment.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Status)
}

func TestTerminateAndCancel(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"amount":85000}`, string(body))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	require.NoError(t, c.TerminatePayment(context.Background(), "P1"))
	require.NoError(t, c.CancelPayment(context.Background(), "P1", 850))
	assert.Equal(t, []string{"PUT /v1/payments/P1/terminate", "POST /v1/payments/P1/cancels"}, calls)
}

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/P1", r.URL.Path)
		_, _ = w.Write([]byte(`{"payment":{"paymentId":"P1"}}`))
	}))
	defer srv.Close()

	raw, err := New(Config{BaseURL: srv.URL}).GetPayment(context.Background(), "P1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"payment":{"paymentId":"P1"}}`, string(raw))
}

func TestParseCallback(t *testing.T) {
	c := New(Config{WebhookAuth: "hook"})
	header := http.Header{"Authorization": []string{"hook"}}

	tests := []struct {
		name    string
		body    string
		outcome payment.Outcome
		amount  int64
		known   bool
	}{
		{"charge v2", `{"event":"payment.charge.created.v2","data":{"paymentId":"P1","amount":{"amount":40000,"currency":"SEK"}}}`, payment.OutcomePaid, 400, true},
		{"checkout completed", `{"event":"payment.checkout.completed","data":{"paymentId":"P1","order":{"amount":{"amount":85000}}}}`, payment.OutcomePaid, 850, true},
		{"charge without amount", `{"event":"payment.charge.created.v2","data":{"paymentId":"P1"}}`, payment.OutcomePaid, 0, false},
		{"reservation failed", `{"event":"payment.reservation.failed","data":{"paymentId":"P1"}}`, payment.OutcomeFailed, 0, false},
		{"cancel created", `{"event":"payment.cancel.created","data":{"paymentId":"P1"}}`, payment.OutcomeFailed, 0, false},
		{"created", `{"event":"payment.created","data":{"paymentId":"P1"}}`, payment.OutcomeIgnored, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := c.ParseCallback(header, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, "P1", cb.PaymentRef)
			assert.Equal(t, tt.outcome, cb.Outcome)
			assert.Equal(t, tt.amount, cb.Amount)
			assert.Equal(t, tt.known, cb.AmountKnown)
		})
	}
}

func TestParseCallback_Rejects(t *testing.T) {
	c := New(Config{WebhookAuth: "hook"})

	_, err := c.ParseCallback(http.Header{"Authorization": []string{"wrong"}}, []byte(`{"event":"payment.charge.created.v2","data":{"paymentId":"P1"}}`))
	assert.ErrorIs(t, err, payment.ErrUnauthorizedCallback)

	_, err = c.ParseCallback(http.Header{"Authorization": []string{"hook"}}, []byte(`not json`))
	assert.ErrorIs(t, err, payment.ErrMalformedCallback)

	_, err = c.ParseCallback(http.Header{"Authorization": []string{"hook"}}, []byte(`{"event":"payment.charge.created.v2","data":{}}`))
	assert.ErrorIs(t, err, payment.ErrMalformedCallback)
}
