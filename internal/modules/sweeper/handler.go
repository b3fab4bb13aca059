package sweeper

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"escaperoom/internal/pkg/response"
)

type Handler struct {
	sweeper *Sweeper
	log     *logrus.Logger
}

func NewHandler(sweeper *Sweeper, log *logrus.Logger) *Handler {
	return &Handler{sweeper: sweeper, log: log}
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/sweep", h.Sweep)
	rg.POST("/sweep/orphans", h.RecoverOrphans)
}

// Sweep godoc
// @Summary      Run the hold sweeper now
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} Report
// @Router       /admin/sweep [post]
func (h *Handler) Sweep(c *gin.Context) {
	report := h.sweeper.SweepOnce(c.Request.Context())
	response.Success(c, http.StatusOK, report)
}

// RecoverOrphans godoc
// @Summary      Release slots held by unknown payment references
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} Report
// @Router       /admin/sweep/orphans [post]
func (h *Handler) RecoverOrphans(c *gin.Context) {
	report, err := h.sweeper.RecoverOrphans(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("orphan recovery incomplete")
		response.ErrorWithDetails(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Orphan recovery incomplete", report)
		return
	}
	response.Success(c, http.StatusOK, report)
}
