package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	portssvc "github.com/SscSPs/bank_posting_core/internal/core/ports/services"
	"github.com/SscSPs/bank_posting_core/internal/dto"
	"github.com/SscSPs/bank_posting_core/internal/middleware"
	"github.com/SscSPs/bank_posting_core/internal/platform/logger"
)

// postingHandler handles HTTP requests for postings and balances.
type postingHandler struct {
	postingService portssvc.PostingSvcFacade
}

func newPostingHandler(ps portssvc.PostingSvcFacade) *postingHandler {
	return &postingHandler{postingService: ps}
}

// RegisterPostingRoutes registers posting, balance and reconciliation routes.
func RegisterPostingRoutes(rg *gin.RouterGroup, postingService portssvc.PostingSvcFacade) {
	h := newPostingHandler(postingService)

	postings := rg.Group("/postings")
	{
		postings.POST("", h.createPosting)
		postings.POST("/:reference/compensate", h.compensatePosting)
	}

	accounts := rg.Group("/accounts/:accountID")
	{
		accounts.GET("/balance", h.getBalance)
		accounts.GET("/reconcile", h.reconcileAccount)
	}
}

// createPosting godoc
// @Summary Post a business event
// @Description Validates, evaluates and commits one money movement. Replaying a reference returns the original entries.
// @Tags postings
// @Accept  json
// @Produce  json
// @Param   posting body dto.CreatePostingRequest true "Business event"
// @Success 201 {object} dto.PostingResponse
// @Success 200 {object} dto.PostingResponse "Duplicate reference"
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse "Policy rejected"
// @Failure 503 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /postings [post]
func (h *postingHandler) createPosting(c *gin.Context) {
	log := logger.FromContext(c.Request.Context())

	var req dto.CreatePostingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Failed to bind JSON for CreatePosting", slog.String("error", err.Error()))
		respondError(c, apperrors.BadRequestf("invalid request format: %s", err.Error()))
		return
	}

	actor, ok := middleware.GetActorFromContext(c)
	if !ok {
		log.Error("Actor not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	postingReq, err := req.ToDomain(actor)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.postingService.Post(c.Request.Context(), postingReq)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, dto.ToPostingResponse(result))
}

// compensatePosting godoc
// @Summary Compensate a committed posting
// @Description Posts entries reversing the ones stored under the reference.
// @Tags postings
// @Accept  json
// @Produce  json
// @Param   reference path string true "Posting reference"
// @Param   body body dto.CompensateRequest false "Description"
// @Success 201 {object} dto.PostingResponse
// @Failure 400 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /postings/{reference}/compensate [post]
func (h *postingHandler) compensatePosting(c *gin.Context) {
	log := logger.FromContext(c.Request.Context())
	reference := c.Param("reference")

	var req dto.CompensateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Warn("Failed to bind JSON for CompensatePosting", slog.String("error", err.Error()))
			respondError(c, apperrors.BadRequestf("invalid request format: %s", err.Error()))
			return
		}
	}

	actor, ok := middleware.GetActorFromContext(c)
	if !ok {
		log.Error("Actor not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	result, err := h.postingService.Compensate(c.Request.Context(), reference, actor, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, dto.ToPostingResponse(result))
}

// getBalance godoc
// @Summary Get an account balance
// @Tags accounts
// @Produce  json
// @Param   accountID path string true "Account ID"
// @Success 200 {object} dto.BalanceResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /accounts/{accountID}/balance [get]
func (h *postingHandler) getBalance(c *gin.Context) {
	snapshot, err := h.postingService.BalanceOf(c.Request.Context(), c.Param("accountID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToBalanceResponse(snapshot))
}

// reconcileAccount godoc
// @Summary Reconcile an account against the ledger
// @Tags accounts
// @Produce  json
// @Param   accountID path string true "Account ID"
// @Success 200 {object} domain.ReconciliationReport
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /accounts/{accountID}/reconcile [get]
func (h *postingHandler) reconcileAccount(c *gin.Context) {
	report, err := h.postingService.Reconcile(c.Request.Context(), c.Param("accountID"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !report.InSync {
		logger.FromContext(c.Request.Context()).Warn("Balance row out of sync with ledger",
			slog.String("account_id", report.AccountID),
			slog.String("difference", report.Difference.String()))
	}
	c.JSON(http.StatusOK, report)
}

// respondError writes the error body for err, logging server-side failures.
func respondError(c *gin.Context, err error) {
	status, body := dto.ToErrorResponse(err)
	log := logger.FromContext(c.Request.Context())
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", slog.String("code", body.Code), slog.String("error", err.Error()))
	} else {
		log.Warn("Request rejected", slog.String("code", body.Code), slog.String("error", err.Error()))
	}
	c.AbortWithStatusJSON(status, body)
}
