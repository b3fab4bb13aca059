// Package swish talks to the Swish commerce API. Requests are authenticated
// with the merchant TLS client certificate.
package swish

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"escaperoom/internal/domain"
	"escaperoom/internal/modules/payment"
)

const (
	StatusPaid      = "PAID"
	StatusDeclined  = "DECLINED"
	StatusError     = "ERROR"
	StatusCancelled = "CANCELLED"

	defaultBaseURL = "https://mss.cpc.getswish.net/swish-cpcapi"
)

type Config struct {
	BaseURL     string
	PayeeAlias  string
	CallbackURL string
	CertFile    string
	KeyFile     string
	CAFile      string
	Timeout     time.Duration
}

type Client struct {
	hc  *http.Client
	cfg Config
}

// New builds a client. When CertFile and KeyFile are set they are loaded as
// the client certificate.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsCfg, err := loadTLS(cfg)
		if err != nil {
			return nil, err
		}
		hc.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}
	return &Client{hc: hc, cfg: cfg}, nil
}

func loadTLS(cfg Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load swish certificate: %w", err)
	}
	out := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read swish CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("swish CA file %s has no certificates", cfg.CAFile)
		}
		out.RootCAs = pool
	}
	return out, nil
}

func (c *Client) Kind() domain.ProviderKind { return domain.ProviderSwish }

// NewInstructionID returns a payment request id in the 32 upper-case hex form
// Swish requires.
func NewInstructionID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

type paymentRequest struct {
	PayeePaymentReference string `json:"payeePaymentReference,omitempty"`
	CallbackURL           string `json:"callbackUrl"`
	PayeeAlias            string `json:"payeeAlias"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	Message               string `json:"message,omitempty"`
}

// CreatePayment registers an m-commerce payment request. The returned
// PaymentRef is the instruction id and Token is the PaymentRequestToken the
// app is opened with.
func (c *Client) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	id := NewInstructionID()
	raw, err := json.Marshal(paymentRequest{
		PayeePaymentReference: truncate(req.Reference, 35),
		CallbackURL:           c.cfg.CallbackURL,
		PayeeAlias:            c.cfg.PayeeAlias,
		Amount:                payment.FormatSEK(req.Amount),
		Currency:              "SEK",
		Message:               truncate(req.Description, 50),
	})
	if err != nil {
		return nil, err
	}
	status, header, resp, err := c.do(ctx, http.MethodPut, "/api/v2/paymentrequests/"+id, "application/json", raw)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, &payment.StatusError{Provider: "swish", Status: status, Body: string(resp)}
	}
	return &payment.CreateResult{PaymentRef: id, Token: header.Get("PaymentRequestToken")}, nil
}

// TerminatePayment cancels a payment request the payer has not yet approved.
func (c *Client) TerminatePayment(ctx context.Context, ref string) error {
	raw := []byte(`[{"op":"replace","path":"/status","value":"cancelled"}]`)
	status, _, resp, err := c.do(ctx, http.MethodPatch, "/api/v1/paymentrequests/"+ref, "application/json-patch+json", raw)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &payment.StatusError{Provider: "swish", Status: status, Body: string(resp)}
	}
	return nil
}

// CancelPayment is TerminatePayment; Swish has no separate reservation.
func (c *Client) CancelPayment(ctx context.Context, ref string, _ int64) error {
	return c.TerminatePayment(ctx, ref)
}

type callback struct {
	ID                    string      `json:"id"`
	PayeePaymentReference string      `json:"payeePaymentReference"`
	PaymentReference      string      `json:"paymentReference"`
	Status                string      `json:"status"`
	Amount                json.Number `json:"amount"`
	PayerAlias            string      `json:"payerAlias"`
	ErrorCode             string      `json:"errorCode"`
}

// ParseCallback decodes a callback. Swish callbacks are not signed, so the
// result is only trusted after ConfirmCallback.
func (c *Client) ParseCallback(_ http.Header, body []byte) (payment.Callback, error) {
	in, err := decode(body)
	if err != nil {
		return payment.Callback{}, fmt.Errorf("%w: %v", payment.ErrMalformedCallback, err)
	}
	if in.ID == "" {
		return payment.Callback{}, fmt.Errorf("%w: missing id", payment.ErrMalformedCallback)
	}
	return toCallback(in, body)
}

// ConfirmCallback reads the payment request back from Swish and returns its
// actual status and amount in place of what the callback claimed.
func (c *Client) ConfirmCallback(ctx context.Context, cb payment.Callback) (payment.Callback, error) {
	status, _, resp, err := c.do(ctx, http.MethodGet, "/api/v1/paymentrequests/"+cb.PaymentRef, "application/json", nil)
	if err != nil {
		return payment.Callback{}, err
	}
	if status != http.StatusOK {
		return payment.Callback{}, &payment.StatusError{Provider: "swish", Status: status, Body: string(resp)}
	}
	in, err := decode(resp)
	if err != nil {
		return payment.Callback{}, fmt.Errorf("%w: swish payment request unreadable: %v", payment.ErrProviderCommunication, err)
	}
	if in.ID != cb.PaymentRef {
		return payment.Callback{}, fmt.Errorf("%w: swish returned payment request %q for %q", payment.ErrProviderCommunication, in.ID, cb.PaymentRef)
	}
	return toCallback(in, cb.Raw)
}

func decode(body []byte) (callback, error) {
	var in callback
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	err := dec.Decode(&in)
	return in, err
}

func toCallback(in callback, raw []byte) (payment.Callback, error) {
	cb := payment.Callback{PaymentRef: in.ID, Event: in.Status, PayerAlias: in.PayerAlias, Raw: raw}
	switch strings.ToUpper(in.Status) {
	case StatusPaid:
		cb.Outcome = payment.OutcomePaid
	case StatusDeclined, StatusError, StatusCancelled:
		cb.Outcome = payment.OutcomeFailed
	default:
		cb.Outcome = payment.OutcomeIgnored
	}
	if in.Amount != "" {
		amount, err := payment.ParseSEK(in.Amount.String())
		if err != nil {
			return payment.Callback{}, err
		}
		cb.Amount, cb.AmountKnown = amount, true
	}
	return cb, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: swish %s %s: %v", payment.ErrProviderCommunication, method, path, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, res.Header, nil, fmt.Errorf("%w: read swish response: %v", payment.ErrProviderCommunication, err)
	}
	return res.StatusCode, res.Header, b, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
