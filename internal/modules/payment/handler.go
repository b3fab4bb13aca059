package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"escaperoom/internal/domain"
	"escaperoom/internal/modules/hold"
	"escaperoom/internal/pkg/response"
	"escaperoom/internal/pkg/validator"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	service    *Service
	reconciler *Reconciler
	providers  *Registry
	log        *logrus.Logger
}

func NewHandler(service *Service, reconciler *Reconciler, providers *Registry, log *logrus.Logger) *Handler {
	return &Handler{service: service, reconciler: reconciler, providers: providers, log: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments/:provider", h.Checkout)
	rg.GET("/payments/nets/:id", h.LookupNets)
	rg.POST("/giftcards/holds", h.PurchaseGiftCard)
}

func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/nets", h.Webhook(domain.ProviderNets))
	rg.POST("/webhooks/swish", h.Webhook(domain.ProviderSwish))
}

// Checkout godoc
// @Summary      Start checkout
// @Description  Opens a provider payment and holds the slots under its reference
// @Tags         Payments
// @Accept       json
// @Produce      json
// @Param        provider path string true "nets, swish or giftcard"
// @Param        body body CheckoutRequest true "Checkout payload"
// @Success      201 {object} CheckoutResponse
// @Failure      400 {object} map[string]interface{}
// @Failure      409 {object} map[string]interface{}
// @Failure      502 {object} map[string]interface{}
// @Router       /payments/{provider} [post]
func (h *Handler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationFailed(c, errs)
		return
	}
	resp, err := h.service.Checkout(c.Request.Context(), domain.ProviderKind(c.Param("provider")), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, resp)
}

// PurchaseGiftCard godoc
// @Summary      Buy a gift card
// @Tags         Payments
// @Accept       json
// @Produce      json
// @Param        body body GiftCardPurchaseRequest true "Gift card payload"
// @Success      201 {object} GiftCardPurchaseResponse
// @Router       /giftcards/holds [post]
func (h *Handler) PurchaseGiftCard(c *gin.Context) {
	var req GiftCardPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationFailed(c, errs)
		return
	}
	resp, err := h.service.PurchaseGiftCard(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, resp)
}

// LookupNets godoc
// @Summary      Fetch a Nets payment
// @Tags         Payments
// @Produce      json
// @Param        id path string true "Nets paymentId"
// @Router       /payments/nets/{id} [get]
func (h *Handler) LookupNets(c *gin.Context) {
	raw, err := h.service.LookupNets(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// Webhook godoc
// @Summary      Payment provider callback
// @Description  Always acknowledged with 200 unless the Nets authorization header does not match
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Success      200 {object} WebhookResponse
// @Failure      401 {object} map[string]interface{}
// @Router       /webhooks/nets [post]
// @Router       /webhooks/swish [post]
func (h *Handler) Webhook(kind domain.ProviderKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry := h.log.WithField("provider", kind)
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			entry.WithError(err).Warn("webhook body unreadable")
			c.JSON(http.StatusOK, WebhookResponse{Received: true})
			return
		}

		provider, err := h.providers.Get(kind)
		if err != nil {
			entry.WithError(err).Error("webhook for unconfigured provider")
			c.JSON(http.StatusOK, WebhookResponse{Received: true})
			return
		}
		cb, err := provider.ParseCallback(c.Request.Header, body)
		if errors.Is(err, ErrUnauthorizedCallback) {
			entry.Warn("webhook authorization mismatch")
			response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization")
			return
		}
		if err != nil {
			entry.WithError(err).WithField("body", string(body)).Warn("webhook payload rejected")
			c.JSON(http.StatusOK, WebhookResponse{Received: true})
			return
		}

		res, err := h.reconciler.Reconcile(c.Request.Context(), kind, cb)
		if err != nil {
			entry.WithError(err).WithField("payment_ref", cb.PaymentRef).Error("webhook reconciliation failed")
		}
		c.JSON(http.StatusOK, WebhookResponse{Received: true, Action: res.Action})
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, hold.ErrValidation),
		errors.Is(err, ErrUnknownProvider),
		errors.Is(err, ErrGiftCardShortfall),
		errors.Is(err, ErrNothingToCharge):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, hold.ErrSlotNotFound):
		response.Error(c, http.StatusNotFound, "SLOT_NOT_FOUND", err.Error())
	case errors.Is(err, hold.ErrSlotUnavailable):
		response.Error(c, http.StatusConflict, "SLOT_UNAVAILABLE", err.Error())
	case errors.Is(err, hold.ErrHoldExists):
		response.Error(c, http.StatusConflict, "HOLD_EXISTS", err.Error())
	case errors.Is(err, ErrProviderCommunication):
		h.log.WithError(err).Error("payment provider call failed")
		response.Error(c, http.StatusBadGateway, "PROVIDER_ERROR", "Payment provider unavailable")
	default:
		h.log.WithError(err).Error("payment request failed")
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process payment")
	}
}
