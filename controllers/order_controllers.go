package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/settlement-engine/middlewares"
	"github.com/yeremiapane/settlement-engine/services"
	"github.com/yeremiapane/settlement-engine/utils"
)

type OrderController struct {
	Orders *services.OrderService
}

func NewOrderController(orders *services.OrderService) *OrderController {
	return &OrderController{Orders: orders}
}

// CreateOrder opens an order for the authenticated user.
func (oc *OrderController) CreateOrder(c *gin.Context) {
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

	order, err := oc.Orders.CreateOrder(c.Request.Context(), middlewares.CurrentUserID(c), amount)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Order created", order)
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	id, err := parseUintParam(c, "order_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	order, err := oc.Orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail", order)
}

func (oc *OrderController) CancelOrder(c *gin.Context) {
	id, err := parseUintParam(c, "order_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	order, err := oc.Orders.CancelOrder(c.Request.Context(), id)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order canceled", order)
}
