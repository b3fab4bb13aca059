package alert

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"escaperoom/internal/pkg/response"
)

type Handler struct {
	service *Service
	log     *logrus.Logger
}

func NewHandler(service *Service, log *logrus.Logger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/alerts", h.List)
	rg.POST("/alerts/:id/ack", h.Acknowledge)
}

// List godoc
// @Summary      List unacknowledged critical alerts
// @Tags         Admin
// @Security     BearerAuth
// @Produce      json
// @Param        limit query int false "Max alerts" default(50)
// @Router       /admin/alerts [get]
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	alerts, err := h.service.List(c.Request.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("list alerts failed")
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list alerts")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// Acknowledge godoc
// @Summary      Acknowledge a critical alert
// @Tags         Admin
// @Security     BearerAuth
// @Param        id path int true "Alert ID"
// @Router       /admin/alerts/{id}/ack [post]
func (h *Handler) Acknowledge(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid alert id")
		return
	}
	if err := h.service.Acknowledge(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrAlertNotFound) {
			response.Error(c, http.StatusNotFound, "NOT_FOUND", "Alert not found or already acknowledged")
			return
		}
		h.log.WithError(err).Error("acknowledge alert failed")
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to acknowledge alert")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id, "acknowledged": true})
}
