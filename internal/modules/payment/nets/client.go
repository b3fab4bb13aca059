// Package nets talks to the Nets Easy payment API.
package nets

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"escaperoom/internal/domain"
	"escaperoom/internal/modules/payment"
)

const (
	EventChargeCreatedV2   = "payment.charge.created.v2"
	EventChargeCreated     = "payment.charge.created"
	EventCheckoutCompleted = "payment.checkout.completed"
	EventChargeFailed      = "payment.charge.failed"
	EventReservationFailed = "payment.reservation.failed"
	EventCancelCreated     = "payment.cancel.created"
)

const (
	defaultBaseURL          = "https://test.api.dibspayment.eu"
	integrationTypeEmbedded = "EmbeddedCheckout"
	currencySEK             = "SEK"
)

var paidEvents = map[string]bool{
	EventChargeCreatedV2:   true,
	EventChargeCreated:     true,
	EventCheckoutCompleted: true,
}

var failedEvents = map[string]bool{
	EventChargeFailed:      true,
	EventReservationFailed: true,
	EventCancelCreated:     true,
}

type Config struct {
	BaseURL     string
	SecretKey   string
	WebhookAuth string
	WebhookURL  string
	CheckoutURL string
	TermsURL    string
	Timeout     time.Duration
}

type Client struct {
	hc  *http.Client
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{hc: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

func (c *Client) Kind() domain.ProviderKind { return domain.ProviderNets }

type item struct {
	Reference        string `json:"reference"`
	Name             string `json:"name"`
	Quantity         int    `json:"quantity"`
	Unit             string `json:"unit"`
	UnitPrice        int64  `json:"unitPrice"`
	GrossTotalAmount int64  `json:"grossTotalAmount"`
	NetTotalAmount   int64  `json:"netTotalAmount"`
}

type createPaymentRequest struct {
	Order struct {
		Items     []item `json:"items"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Reference string `json:"reference,omitempty"`
	} `json:"order"`
	Checkout struct {
		URL             string `json:"url,omitempty"`
		TermsURL        string `json:"termsUrl,omitempty"`
		IntegrationType string `json:"integrationType"`
	} `json:"checkout"`
	Notifications *notifications `json:"notifications,omitempty"`
}

type notifications struct {
	Webhooks []webhook `json:"webhooks"`
}

type webhook struct {
	EventName     string `json:"eventName"`
	URL           string `json:"url"`
	Authorization string `json:"authorization"`
}

// CreatePayment opens an embedded checkout. The returned PaymentRef is the
// Nets paymentId.
func (c *Client) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	var body createPaymentRequest
	body.Order.Currency = currencySEK
	body.Order.Reference = req.Reference
	body.Order.Amount = toOre(req.Amount)
	for _, it := range req.Items {
		minor := toOre(it.Amount)
		body.Order.Items = append(body.Order.Items, item{
			Reference:        it.Reference,
			Name:             it.Name,
			Quantity:         1,
			Unit:             "pcs",
			UnitPrice:        minor,
			GrossTotalAmount: minor,
			NetTotalAmount:   minor,
		})
	}
	if len(body.Order.Items) == 0 {
		body.Order.Items = []item{{
			Reference: req.Reference, Name: req.Description, Quantity: 1, Unit: "pcs",
			UnitPrice: body.Order.Amount, GrossTotalAmount: body.Order.Amount, NetTotalAmount: body.Order.Amount,
		}}
	}
	if adjusted := itemsTotal(body.Order.Items); adjusted != body.Order.Amount {
		// Items must sum to the order amount.
		diff := body.Order.Amount - adjusted
		body.Order.Items = append(body.Order.Items, item{
			Reference: "adjustment", Name: "Discount", Quantity: 1, Unit: "pcs",
			UnitPrice: diff, GrossTotalAmount: diff, NetTotalAmount: diff,
		})
	}
	body.Checkout.URL = c.cfg.CheckoutURL
	body.Checkout.TermsURL = c.cfg.TermsURL
	body.Checkout.IntegrationType = integrationTypeEmbedded
	if c.cfg.WebhookURL != "" {
		n := &notifications{}
		for _, ev := range []string{EventChargeCreatedV2, EventCheckoutCompleted, EventChargeFailed, EventReservationFailed, EventCancelCreated} {
			n.Webhooks = append(n.Webhooks, webhook{EventName: ev, URL: c.cfg.WebhookURL, Authorization: c.cfg.WebhookAuth})
		}
		body.Notifications = n
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	status, resp, err := c.do(ctx, http.MethodPost, "/v1/payments", raw)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, &payment.StatusError{Provider: "nets", Status: status, Body: string(resp)}
	}
	var out struct {
		PaymentID string `json:"paymentId"`
	}
	if err := json.Unmarshal(resp, &out); err != nil || out.PaymentID == "" {
		return nil, fmt.Errorf("%w: nets create response without paymentId", payment.ErrProviderCommunication)
	}
	return &payment.CreateResult{PaymentRef: out.PaymentID, CheckoutURL: c.cfg.CheckoutURL}, nil
}

func (c *Client) TerminatePayment(ctx context.Context, ref string) error {
	status, resp, err := c.do(ctx, http.MethodPut, "/v1/payments/"+ref+"/terminate", nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return &payment.StatusError{Provider: "nets", Status: status, Body: string(resp)}
	}
	return nil
}

func (c *Client) CancelPayment(ctx context.Context, ref string, amount int64) error {
	raw, err := json.Marshal(map[string]int64{"amount": toOre(amount)})
	if err != nil {
		return err
	}
	status, resp, err := c.do(ctx, http.MethodPost, "/v1/payments/"+ref+"/cancels", raw)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return &payment.StatusError{Provider: "nets", Status: status, Body: string(resp)}
	}
	return nil
}

// GetPayment returns the raw Nets payment document.
func (c *Client) GetPayment(ctx context.Context, ref string) (json.RawMessage, error) {
	status, resp, err := c.do(ctx, http.MethodGet, "/v1/payments/"+ref, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &payment.StatusError{Provider: "nets", Status: status, Body: string(resp)}
	}
	return json.RawMessage(resp), nil
}

type amount struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type event struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  struct {
		PaymentID string  `json:"paymentId"`
		Amount    *amount `json:"amount"`
		Order     *struct {
			Amount *amount `json:"amount"`
		} `json:"order"`
	} `json:"data"`
}

// ParseCallback checks the Authorization header against the secret registered
// with the webhook and maps the event name to an outcome.
func (c *Client) ParseCallback(header http.Header, body []byte) (payment.Callback, error) {
	if c.cfg.WebhookAuth != "" {
		got := header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(got), []byte(c.cfg.WebhookAuth)) != 1 {
			return payment.Callback{}, payment.ErrUnauthorizedCallback
		}
	}
	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		return payment.Callback{}, fmt.Errorf("%w: %v", payment.ErrMalformedCallback, err)
	}
	if ev.Data.PaymentID == "" {
		return payment.Callback{}, fmt.Errorf("%w: missing paymentId", payment.ErrMalformedCallback)
	}

	cb := payment.Callback{PaymentRef: ev.Data.PaymentID, Event: ev.Event, Raw: body}
	switch {
	case paidEvents[ev.Event]:
		cb.Outcome = payment.OutcomePaid
	case failedEvents[ev.Event]:
		cb.Outcome = payment.OutcomeFailed
	default:
		cb.Outcome = payment.OutcomeIgnored
	}
	switch {
	case ev.Data.Amount != nil:
		cb.Amount, cb.AmountKnown = ev.Data.Amount.Amount/100, true
	case ev.Data.Order != nil && ev.Data.Order.Amount != nil:
		cb.Amount, cb.AmountKnown = ev.Data.Order.Amount.Amount/100, true
	}
	return cb, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: nets %s %s: %v", payment.ErrProviderCommunication, method, path, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("%w: read nets response: %v", payment.ErrProviderCommunication, err)
	}
	return res.StatusCode, b, nil
}

func toOre(sek int64) int64 { return sek * 100 }

func itemsTotal(items []item) int64 {
	var sum int64
	for _, it := range items {
		sum += it.GrossTotalAmount
	}
	return sum
}
