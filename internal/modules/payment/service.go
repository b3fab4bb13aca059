package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"escaperoom/internal/domain"
	"escaperoom/internal/modules/hold"
	"escaperoom/internal/modules/ledger"
)

type ServiceDeps struct {
	Slots      SlotStore
	Holds      Holds
	Ledger     Ledger
	Providers  *Registry
	Reconciler *Reconciler
	Dispatcher hold.Dispatcher
	Nets       NetsLookup
	Logger     *logrus.Logger
}

// Service opens provider payments and the holds that wait for them.
type Service struct {
	deps ServiceDeps
	log  *logrus.Logger
}

func NewService(deps ServiceDeps) *Service {
	return &Service{deps: deps, log: deps.Logger}
}

// Checkout prices the requested slots, opens a payment with the provider for
// whatever the gift card does not cover and holds the slots under the
// provider's payment reference. A booking fully covered by a gift card is
// settled immediately.
func (s *Service) Checkout(ctx context.Context, kind domain.ProviderKind, req CheckoutRequest) (*CheckoutResponse, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}
	slots, err := s.deps.Slots.FindByKeys(ctx, uniqueKeys(req.SlotKeys))
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if len(slots) != len(uniqueKeys(req.SlotKeys)) {
		return nil, hold.ErrSlotNotFound
	}

	var listTotal int64
	categories := make([]string, 0, len(slots))
	items := make([]LineItem, 0, len(slots))
	for _, sl := range slots {
		if sl.Available == domain.SlotBooked {
			return nil, fmt.Errorf("%w: %s", hold.ErrSlotUnavailable, sl.SlotKey)
		}
		listTotal += sl.Price
		categories = append(categories, sl.Category)
		items = append(items, LineItem{Reference: sl.SlotKey, Name: sl.Category + " " + sl.Time, Amount: sl.Price})
	}

	total, err := s.deps.Ledger.Quote(ctx, req.DiscountCode, listTotal, req.Customer.Players, categories)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hold.ErrValidation, err)
	}

	var covered int64
	if req.GiftCardRef != "" {
		balance, err := s.deps.Ledger.SpendableBalance(ctx, req.GiftCardRef)
		if err != nil {
			return nil, fmt.Errorf("%w: gift card: %v", hold.ErrValidation, err)
		}
		covered = min(balance, total)
	}
	toCharge := total - covered

	holdReq := hold.CreateHoldRequest{
		SlotKeys:     req.SlotKeys,
		DiscountCode: req.DiscountCode,
		GiftCardRef:  req.GiftCardRef,
		Provider:     kind,
		Customer:     req.Customer,
	}
	out := &CheckoutResponse{Provider: string(kind), Total: total, GiftCardCovers: covered, Amount: toCharge}

	if kind == domain.ProviderGiftCard {
		if toCharge > 0 {
			return nil, ErrGiftCardShortfall
		}
		holdReq.PaymentRef = uuid.NewString()
		created, err := s.deps.Holds.CreateHold(ctx, holdReq)
		if err != nil {
			return nil, err
		}
		res, err := s.deps.Reconciler.Reconcile(ctx, domain.ProviderGiftCard, Callback{
			PaymentRef:  created.PaymentRef,
			Outcome:     OutcomePaid,
			Event:       "giftcard.settled",
			AmountKnown: true,
		})
		if err != nil {
			return nil, fmt.Errorf("settle gift card booking: %w", err)
		}
		fill(out, created)
		out.BookingRef = res.BookingRef
		return out, nil
	}

	if toCharge == 0 {
		return nil, ErrNothingToCharge
	}
	provider, err := s.deps.Providers.Get(kind)
	if err != nil {
		return nil, err
	}
	opened, err := provider.CreatePayment(ctx, CreateRequest{
		Reference:   shortRef(),
		Amount:      toCharge,
		Description: describe(slots),
		Items:       items,
		Customer:    domain.Customer{Name: req.Customer.Name, Phone: req.Customer.Phone, Email: req.Customer.Email, Players: req.Customer.Players},
	})
	if err != nil {
		s.log.WithError(err).WithField("provider", kind).Error("create payment failed")
		return nil, err
	}

	holdReq.PaymentRef = opened.PaymentRef
	created, err := s.deps.Holds.CreateHold(ctx, holdReq)
	if err != nil {
		s.deps.Dispatcher.SubmitOnce("payment.cancel", func(ctx context.Context) error {
			return provider.TerminatePayment(ctx, opened.PaymentRef)
		})
		return nil, err
	}
	fill(out, created)
	out.CheckoutURL = opened.CheckoutURL
	out.Token = opened.Token
	return out, nil
}

// PurchaseGiftCard issues an unpaid card and opens its payment. The card
// becomes spendable when the payment callback arrives.
func (s *Service) PurchaseGiftCard(ctx context.Context, req GiftCardPurchaseRequest) (*GiftCardPurchaseResponse, error) {
	kind := domain.ProviderKind(req.Provider)
	if kind == domain.ProviderGiftCard {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}
	provider, err := s.deps.Providers.Get(kind)
	if err != nil {
		return nil, err
	}
	card, err := s.deps.Ledger.IssueGiftCard(ctx, ledger.IssueGiftCardRequest{
		Amount:         req.Amount,
		RecipientName:  req.RecipientName,
		RecipientEmail: req.RecipientEmail,
		BuyerEmail:     req.BuyerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("issue gift card: %w", err)
	}
	opened, err := provider.CreatePayment(ctx, CreateRequest{
		Reference:   card.Reference,
		Amount:      req.Amount,
		Description: "Gift card " + card.Reference,
		Items:       []LineItem{{Reference: card.Reference, Name: "Gift card", Amount: req.Amount}},
		Customer:    domain.Customer{Email: req.BuyerEmail},
	})
	if err != nil {
		return nil, err
	}
	if err := s.deps.Ledger.AttachPayment(ctx, card.Reference, opened.PaymentRef); err != nil {
		return nil, fmt.Errorf("attach payment: %w", err)
	}
	if _, err := s.deps.Holds.HoldGiftCardPurchase(ctx, opened.PaymentRef, card.Reference, kind); err != nil {
		return nil, err
	}
	return &GiftCardPurchaseResponse{
		PaymentRef:  opened.PaymentRef,
		GiftCardRef: card.Reference,
		Amount:      req.Amount,
		CheckoutURL: opened.CheckoutURL,
		Token:       opened.Token,
	}, nil
}

func (s *Service) LookupNets(ctx context.Context, ref string) (json.RawMessage, error) {
	if s.deps.Nets == nil {
		return nil, fmt.Errorf("%w: nets", ErrUnknownProvider)
	}
	return s.deps.Nets.GetPayment(ctx, ref)
}

func fill(out *CheckoutResponse, created *hold.CreateHoldResponse) {
	out.PaymentRef = created.PaymentRef
	out.CreatedAt = created.CreatedAt
	out.SlotKeys = created.SlotKeys
	out.Evicted = created.Evicted
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func describe(slots []domain.Slot) string {
	parts := make([]string, 0, len(slots))
	for _, s := range slots {
		parts = append(parts, s.Category+" "+s.Time)
	}
	return strings.Join(parts, ", ")
}

func shortRef() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
