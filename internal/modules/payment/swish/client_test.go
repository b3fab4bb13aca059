package swish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escaperoom/internal/modules/payment"
)

func TestNewInstructionID(t *testing.T) {
	id := NewInstructionID()
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{32}$`), id)
}

func TestCreatePayment(t *testing.T) {
	var got paymentRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("PaymentRequestToken", "tok-1")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, PayeeAlias: "1231181189", CallbackURL: "https://example.se/api/v1/webhooks/swish"})
	require.NoError(t, err)

	res, err := c.CreatePayment(context.Background(), payment.CreateRequest{Reference: "order-1", Amount: 850, Description: "SUBMARINE 17:00"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.True(t, strings.HasSuffix(path, "/api/v2/paymentrequests/"+res.PaymentRef))
	assert.Equal(t, "850.00", got.Amount)
	assert.Equal(t, "SEK", got.Currency)
	assert.Equal(t, "1231181189", got.PayeeAlias)
}

func TestCreatePayment_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`[{"errorCode":"PA02","errorMessage":"Amount value is missing"}]`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.CreatePayment(context.Background(), payment.CreateRequest{Amount: 850})
	assert.True(t, errors.Is(err, payment.ErrProviderCommunication))
}

func TestTerminatePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v1/paymentrequests/ABC", r.URL.Path)
		assert.Equal(t, "application/json-patch+json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `[{"op":"replace","path":"/status","value":"cancelled"}]`, string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.TerminatePayment(context.Background(), "ABC"))
}

func TestParseCallback(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	cb, err := c.ParseCallback(nil, []byte(`{"id":"ABC","payeePaymentReference":"order-1","status":"PAID","amount":400.00,"payerAlias":"46701234567"}`))
	require.NoError(t, err)
	assert.Equal(t, "ABC", cb.PaymentRef)
	assert.Equal(t, payment.OutcomePaid, cb.Outcome)
	assert.Equal(t, int64(400), cb.Amount)
	assert.True(t, cb.AmountKnown)
	assert.Equal(t, "46701234567", cb.PayerAlias)

	for _, status := range []string{"DECLINED", "ERROR", "CANCELLED"} {
		cb, err := c.ParseCallback(nil, []byte(`{"id":"ABC","status":"`+status+`"}`))
		require.NoError(t, err)
		assert.Equal(t, payment.OutcomeFailed, cb.Outcome, status)
	}

	cb, err = c.ParseCallback(nil, []byte(`{"id":"ABC","status":"CREATED"}`))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeIgnored, cb.Outcome)

	_, err = c.ParseCallback(nil, []byte(`{"status":"PAID"}`))
	assert.ErrorIs(t, err, payment.ErrMalformedCallback)
}

func TestConfirmCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/api/v1/paymentrequests/ABC":
			_, _ = w.Write([]byte(`{"id":"ABC","payeePaymentReference":"order-1","status":"CREATED","amount":850.00,"currency":"SEK"}`))
		case "/api/v1/paymentrequests/DEF":
			_, _ = w.Write([]byte(`{"id":"DEF","status":"PAID","amount":850.00,"payerAlias":"46701234567"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	forged, err := c.ParseCallback(nil, []byte(`{"id":"ABC","status":"PAID","amount":"1"}`))
	require.NoError(t, err)
	cb, err := c.ConfirmCallback(ctx, forged)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeIgnored, cb.Outcome)
	assert.Equal(t, int64(850), cb.Amount)
	assert.Equal(t, forged.Raw, cb.Raw)

	cb, err = c.ConfirmCallback(ctx, payment.Callback{PaymentRef: "DEF", Outcome: payment.OutcomePaid})
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomePaid, cb.Outcome)
	assert.Equal(t, int64(850), cb.Amount)
	assert.True(t, cb.AmountKnown)

	_, err = c.ConfirmCallback(ctx, payment.Callback{PaymentRef: "GONE"})
	assert.ErrorIs(t, err, payment.ErrProviderCommunication)
}
