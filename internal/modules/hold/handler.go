package hold

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"escaperoom/internal/pkg/response"
	"escaperoom/internal/pkg/validator"
)

type Handler struct {
	service *Service
	log     *logrus.Logger
}

func NewHandler(service *Service, log *logrus.Logger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/holds", h.CreateHold)
	rg.DELETE("/holds/:ref", h.ReleaseHold)
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/holds", h.ListHolds)
}

// CreateHold godoc
// @Summary      Hold slots for payment
// @Description  Claims slots under a payment reference, evicting overlapping holds
// @Tags         Holds
// @Accept       json
// @Produce      json
// @Param        body body CreateHoldRequest true "Hold payload"
// @Success      201 {object} CreateHoldResponse
// @Failure      400 {object} map[string]interface{}
// @Failure      404 {object} map[string]interface{}
// @Failure      409 {object} map[string]interface{}
// @Router       /holds [post]
func (h *Handler) CreateHold(c *gin.Context) {
	var req CreateHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationFailed(c, errs)
		return
	}

	resp, err := h.service.CreateHold(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, resp)
}

// ReleaseHold godoc
// @Summary      Release a hold
// @Description  Customer abandoned checkout; releasing an unknown hold is a no-op
// @Tags         Holds
// @Produce      json
// @Param        ref path string true "Payment reference"
// @Success      200 {object} map[string]interface{}
// @Router       /holds/{ref} [delete]
func (h *Handler) ReleaseHold(c *gin.Context) {
	ref := c.Param("ref")
	if err := h.service.Release(c.Request.Context(), ref); err != nil {
		h.log.WithError(err).WithField("payment_ref", ref).Error("release hold failed")
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to release hold")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"payment_ref": ref, "released": true})
}

// ListHolds godoc
// @Summary      List live holds
// @Tags         Admin
// @Security     BearerAuth
// @Produce      json
// @Success      200 {object} ListHoldsResponse
// @Router       /admin/holds [get]
func (h *Handler) ListHolds(c *gin.Context) {
	holds := h.service.List()
	response.Success(c, http.StatusOK, ListHoldsResponse{Holds: holds, Count: len(holds)})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, ErrSlotNotFound):
		response.Error(c, http.StatusNotFound, "SLOT_NOT_FOUND", err.Error())
	case errors.Is(err, ErrSlotUnavailable):
		response.Error(c, http.StatusConflict, "SLOT_UNAVAILABLE", err.Error())
	case errors.Is(err, ErrHoldExists):
		response.Error(c, http.StatusConflict, "HOLD_EXISTS", err.Error())
	default:
		h.log.WithError(err).Error("create hold failed")
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create hold")
	}
}
