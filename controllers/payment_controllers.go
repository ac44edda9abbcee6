package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/settlement-engine/services"
	"github.com/yeremiapane/settlement-engine/utils"
)

type PaymentController struct {
	Payments *services.PaymentService
}

func NewPaymentController(payments *services.PaymentService) *PaymentController {
	return &PaymentController{Payments: payments}
}

func (pc *PaymentController) CreatePayment(c *gin.Context) {
	var body struct {
		OrderID       uint   `json:"order_id" binding:"required"`
		PaymentMethod string `json:"payment_method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	payment, err := pc.Payments.CreatePayment(c.Request.Context(), body.OrderID, body.PaymentMethod)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Payment created", payment)
}

func (pc *PaymentController) GetPayment(c *gin.Context) {
	id, err := parseUintParam(c, "payment_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	payment, err := pc.Payments.GetPayment(c.Request.Context(), id)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment detail", payment)
}

func (pc *PaymentController) Authorize(c *gin.Context) {
	id, err := parseUintParam(c, "payment_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	var body struct {
		PgTransactionID string `json:"pg_transaction_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	payment, err := pc.Payments.Authorize(c.Request.Context(), id, body.PgTransactionID)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment authorized", payment)
}

func (pc *PaymentController) Capture(c *gin.Context) {
	id, err := parseUintParam(c, "payment_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	payment, err := pc.Payments.Capture(c.Request.Context(), id)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment captured", payment)
}

func (pc *PaymentController) Fail(c *gin.Context) {
	id, err := parseUintParam(c, "payment_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	// reason is optional
	_ = c.ShouldBindJSON(&body)

	payment, err := pc.Payments.Fail(c.Request.Context(), id, body.Reason)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment marked as failed", payment)
}

// Confirm is the gateway success redirect: the client posts the payment key
// it received and the engine confirms it server side.
func (pc *PaymentController) Confirm(c *gin.Context) {
	var body struct {
		OrderID        uint   `json:"order_id" binding:"required"`
		PaymentKey     string `json:"payment_key" binding:"required"`
		GatewayOrderID string `json:"gateway_order_id" binding:"required"`
		Amount         string `json:"amount" binding:"required"`
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

	payment, err := pc.Payments.ConfirmWithGateway(c.Request.Context(), services.GatewayConfirmation{
		OrderID:        body.OrderID,
		PaymentKey:     body.PaymentKey,
		GatewayOrderID: body.GatewayOrderID,
		Amount:         amount,
	})
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment confirmed", payment)
}
