package payment

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"escaperoom/internal/domain"
)

type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomeFailed  Outcome = "failed"
	OutcomeIgnored Outcome = "ignored"
)

// Callback is a provider notification reduced to what reconciliation needs.
// Amount is in whole SEK and only meaningful when AmountKnown is set.
type Callback struct {
	PaymentRef  string
	Outcome     Outcome
	Event       string
	Amount      int64
	AmountKnown bool
	PayerAlias  string
	Raw         []byte
}

type LineItem struct {
	Reference string
	Name      string
	Amount    int64
}

// CreateRequest describes a payment to open with a provider. Amounts are in
// whole SEK.
type CreateRequest struct {
	Reference   string
	Amount      int64
	Description string
	Items       []LineItem
	Customer    domain.Customer
}

type CreateResult struct {
	PaymentRef string `json:"payment_ref"`
	// CheckoutURL or Token is what the client needs to complete payment;
	// which one depends on the provider.
	CheckoutURL string `json:"checkout_url,omitempty"`
	Token       string `json:"token,omitempty"`
}

type Provider interface {
	Kind() domain.ProviderKind
	CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error)
	// TerminatePayment abandons a checkout the customer never completed.
	TerminatePayment(ctx context.Context, ref string) error
	// CancelPayment voids a reservation on a payment that will not be charged.
	CancelPayment(ctx context.Context, ref string, amount int64) error
	ParseCallback(header http.Header, body []byte) (Callback, error)
}

// Confirmer is implemented by providers whose callbacks carry no proof of
// origin. ConfirmCallback returns the outcome as the provider reports it.
type Confirmer interface {
	ConfirmCallback(ctx context.Context, cb Callback) (Callback, error)
}

// Registry looks up providers by kind.
type Registry struct {
	providers map[domain.ProviderKind]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[domain.ProviderKind]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Kind()] = p
		}
	}
	return r
}

func (r *Registry) Get(kind domain.ProviderKind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}
	return p, nil
}

// Confirm returns cb as verified by its provider. Callbacks from providers
// that do not implement Confirmer are returned unchanged.
func (r *Registry) Confirm(ctx context.Context, kind domain.ProviderKind, cb Callback) (Callback, error) {
	c, ok := r.providers[kind].(Confirmer)
	if !ok {
		return cb, nil
	}
	return c.ConfirmCallback(ctx, cb)
}

// Cancel abandons an unpaid payment for a hold that is going away.
func (r *Registry) Cancel(ctx context.Context, kind domain.ProviderKind, ref string) error {
	p, err := r.Get(kind)
	if err != nil {
		return err
	}
	return p.TerminatePayment(ctx, ref)
}

// Terminate is Cancel under the name the sweeper uses.
func (r *Registry) Terminate(ctx context.Context, kind domain.ProviderKind, ref string) error {
	return r.Cancel(ctx, kind, ref)
}

// Void releases the reservation on a failed payment.
func (r *Registry) Void(ctx context.Context, kind domain.ProviderKind, ref string, amount int64) error {
	p, err := r.Get(kind)
	if err != nil {
		return err
	}
	return p.CancelPayment(ctx, ref, amount)
}

// ParseSEK parses a decimal krona amount such as "850.00" and truncates it to
// whole kronor.
func ParseSEK(s string) (int64, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return 0, fmt.Errorf("%w: amount %q", ErrMalformedCallback, s)
	}
	if r.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative amount %q", ErrMalformedCallback, s)
	}
	q := new(big.Int).Quo(r.Num(), r.Denom())
	return q.Int64(), nil
}

// FormatSEK renders whole kronor the way Swish expects them.
func FormatSEK(amount int64) string {
	return fmt.Sprintf("%d.00", amount)
}

