package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/settlement-engine/services"
	"github.com/yeremiapane/settlement-engine/utils"
)

type RefundController struct {
	Refunds *services.RefundService
}

func NewRefundController(refunds *services.RefundService) *RefundController {
	return &RefundController{Refunds: refunds}
}

func (rc *RefundController) FullRefund(c *gin.Context) {
	paymentID, err := parseUintParam(c, "payment_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	result, err := rc.Refunds.FullRefund(c.Request.Context(), paymentID)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment fully refunded", result)
}

func (rc *RefundController) PartialRefund(c *gin.Context) {
	paymentID, err := parseUintParam(c, "payment_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	var body struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	amount, err := utils.ParseAmount(body.Amount)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	result, err := rc.Refunds.PartialRefund(c.Request.Context(), paymentID, amount)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment partially refunded", result)
}

func (rc *RefundController) CancelAuthorization(c *gin.Context) {
	paymentID, err := parseUintParam(c, "payment_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	result, err := rc.Refunds.CancelAuthorization(c.Request.Context(), paymentID)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Authorization canceled", result)
}
