package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/settlement-engine/services"
	"github.com/yeremiapane/settlement-engine/utils"
)

// BatchController triggers the daily batch phases by hand. Every trigger
// takes ?date=YYYY-MM-DD and defaults to yesterday.
type BatchController struct {
	Batch *services.SettlementBatchService
	Now   func() time.Time
}

func NewBatchController(batch *services.SettlementBatchService) *BatchController {
	return &BatchController{Batch: batch, Now: time.Now}
}

func (bc *BatchController) CreateSettlements(c *gin.Context) {
	date, err := parseDateQuery(c, bc.Now())
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	report, err := bc.Batch.CreateSettlements(c.Request.Context(), date)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement creation finished", report)
}

func (bc *BatchController) ConfirmSettlements(c *gin.Context) {
	date, err := parseDateQuery(c, bc.Now())
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	report, err := bc.Batch.ConfirmSettlements(c.Request.Context(), date)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement confirmation finished", report)
}

func (bc *BatchController) ConfirmAdjustments(c *gin.Context) {
	date, err := parseDateQuery(c, bc.Now())
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	report, err := bc.Batch.ConfirmAdjustments(c.Request.Context(), date)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Adjustment confirmation finished", report)
}
