package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	portssvc "github.com/SscSPs/bank_posting_core/internal/core/ports/services"
	"github.com/SscSPs/bank_posting_core/internal/dto"
	"github.com/SscSPs/bank_posting_core/internal/platform/logger"
)

type accrualHandler struct {
	accrualService portssvc.AccrualSvc
}

// RegisterAccrualRoutes registers the manual accrual trigger.
func RegisterAccrualRoutes(rg *gin.RouterGroup, accrualService portssvc.AccrualSvc) {
	h := &accrualHandler{accrualService: accrualService}
	rg.POST("/accruals/:date", h.runAccrual)
}

// runAccrual godoc
// @Summary Run daily interest accrual
// @Description Posts one accrual per eligible account for the date. Rerunning a date posts nothing new.
// @Tags accruals
// @Produce  json
// @Param   date path string true "Accounting date (YYYY-MM-DD)"
// @Success 200 {object} domain.AccrualSummary
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse "A run is already in progress"
// @Security BearerAuth
// @Router /accruals/{date} [post]
func (h *accrualHandler) runAccrual(c *gin.Context) {
	date, err := dto.ParseDate(c.Param("date"))
	if err != nil {
		respondError(c, err)
		return
	}

	summary, err := h.accrualService.RunDailyAccrual(c.Request.Context(), date)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("Accrual run finished",
		slog.String("date", c.Param("date")),
		slog.Int("processed", summary.Processed),
		slog.Int("failed", summary.Failed))
	c.JSON(http.StatusOK, summary)
}
