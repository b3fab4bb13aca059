// Package alert raises critical operational alerts: money was taken but the
// booking could not be completed. Alerts are stored, mailed to the admin and
// posted to Slack.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"escaperoom/internal/clock"
	"escaperoom/internal/domain"
	"escaperoom/internal/modules/notify"
)

var ErrAlertNotFound = errors.New("alert not found")

type Store interface {
	Create(ctx context.Context, a *domain.CriticalAlert) error
	ListUnacknowledged(ctx context.Context, limit int) ([]domain.CriticalAlert, error)
	Acknowledge(ctx context.Context, id int64, at time.Time) (bool, error)
}

type Config struct {
	AdminEmail      string
	SlackWebhookURL string
	Timeout         time.Duration
}

type Service struct {
	store  Store
	sender notify.Sender
	cfg    Config
	hc     *http.Client
	clock  clock.Clock
	log    *logrus.Logger
}

func NewService(store Store, sender notify.Sender, cfg Config, clk clock.Clock, log *logrus.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{store: store, sender: sender, cfg: cfg, hc: &http.Client{Timeout: cfg.Timeout}, clock: clk, log: log}
}

// Raise fans a out to every channel. Channel failures are logged; only a
// failure to persist is returned.
func (s *Service) Raise(ctx context.Context, a domain.CriticalAlert) error {
	if a.Severity == "" {
		a.Severity = "CRITICAL"
	}
	entry := s.log.WithFields(logrus.Fields{"alert_type": a.Type, "payment_ref": a.PaymentRef, "amount": a.Amount})
	entry.Error(a.Message)

	if s.sender != nil && s.cfg.AdminEmail != "" {
		if err := s.sender.Send(ctx, s.cfg.AdminEmail, "CRITICAL ALERT: "+a.Type, renderEmail(a, s.clock.Now())); err != nil {
			entry.WithError(err).Warn("failed to mail critical alert")
		}
	}
	if s.cfg.SlackWebhookURL != "" {
		if err := s.postSlack(ctx, a); err != nil {
			entry.WithError(err).Warn("failed to post critical alert to slack")
		}
	}
	if err := s.store.Create(ctx, &a); err != nil {
		entry.WithError(err).Error("failed to store critical alert")
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, limit int) ([]domain.CriticalAlert, error) {
	return s.store.ListUnacknowledged(ctx, limit)
}

func (s *Service) Acknowledge(ctx context.Context, id int64) error {
	ok, err := s.store.Acknowledge(ctx, id, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlertNotFound
	}
	return nil
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func (s *Service) postSlack(ctx context.Context, a domain.CriticalAlert) error {
	msg := slackMessage{
		Text: "CRITICAL ALERT: " + a.Type,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: a.Type, Emoji: true}},
			{Type: "section", Fields: []slackText{
				{Type: "mrkdwn", Text: "*Payment ID:*\n" + orNA(a.PaymentRef)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Amount:*\n%d SEK", a.Amount)},
				{Type: "mrkdwn", Text: "*Customer:*\n" + orNA(a.CustomerEmail)},
				{Type: "mrkdwn", Text: "*Method:*\n" + orNA(a.PaymentMethod)},
			}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: "*Message:*\n" + a.Message}},
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.SlackWebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("slack responded %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func renderEmail(a domain.CriticalAlert, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CRITICAL BOOKING SYSTEM ALERT\n\n")
	fmt.Fprintf(&b, "Alert type: %s\nSeverity: %s\nTime: %s\n\n", a.Type, a.Severity, now.Format(time.RFC3339))
	if a.PaymentRef != "" {
		fmt.Fprintf(&b, "Payment ID: %s\n", a.PaymentRef)
	}
	if a.Amount != 0 {
		fmt.Fprintf(&b, "Amount: %d SEK\n", a.Amount)
	}
	if a.PaymentMethod != "" {
		fmt.Fprintf(&b, "Payment method: %s\n", a.PaymentMethod)
	}
	if a.CustomerEmail != "" {
		fmt.Fprintf(&b, "Customer email: %s\n", a.CustomerEmail)
	}
	fmt.Fprintf(&b, "\nMessage:\n%s\n", a.Message)
	if a.Webhook != "" {
		fmt.Fprintf(&b, "\nWebhook data:\n%s\n", a.Webhook)
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
