package controllers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/settlement-engine/middlewares"
	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/services"
	"github.com/yeremiapane/settlement-engine/utils"
)

type SettlementController struct {
	Settlements *services.SettlementService
}

func NewSettlementController(settlements *services.SettlementService) *SettlementController {
	return &SettlementController{Settlements: settlements}
}

// ListSettlements supports ?status=&limit=&offset=.
func (sc *SettlementController) ListSettlements(c *gin.Context) {
	status := models.SettlementStatus(strings.ToUpper(c.DefaultQuery("status", string(models.SettlementStatusPending))))
	settlements, err := sc.Settlements.ListByStatus(c.Request.Context(), status, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, fmt.Sprintf("%s settlements", status), settlements)
}

func (sc *SettlementController) GetSettlement(c *gin.Context) {
	id, err := parseUintParam(c, "settlement_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	settlement, err := sc.Settlements.Get(c.Request.Context(), id)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement detail", settlement)
}

func (sc *SettlementController) RequestApproval(c *gin.Context) {
	id, err := parseUintParam(c, "settlement_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	settlement, err := sc.Settlements.RequestApproval(c.Request.Context(), id)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement is waiting for approval", settlement)
}

func (sc *SettlementController) Approve(c *gin.Context) {
	id, err := parseUintParam(c, "settlement_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	settlement, err := sc.Settlements.Approve(c.Request.Context(), id, middlewares.CurrentUserID(c))
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement approved", settlement)
}

func (sc *SettlementController) Reject(c *gin.Context) {
	id, err := parseUintParam(c, "settlement_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	settlement, err := sc.Settlements.Reject(c.Request.Context(), id, middlewares.CurrentUserID(c), body.Reason)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement rejected", settlement)
}
