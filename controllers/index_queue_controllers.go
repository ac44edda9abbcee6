package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/settlement-engine/services"
	"github.com/yeremiapane/settlement-engine/utils"
)

type IndexQueueController struct {
	Queue *services.IndexQueueService
}

func NewIndexQueueController(queue *services.IndexQueueService) *IndexQueueController {
	return &IndexQueueController{Queue: queue}
}

func (qc *IndexQueueController) Stats(c *gin.Context) {
	stats, err := qc.Queue.Stats(c.Request.Context())
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Index queue stats", gin.H{
		"enabled": qc.Queue.Enabled(),
		"stats":   stats,
	})
}

func (qc *IndexQueueController) ListFailed(c *gin.Context) {
	items, err := qc.Queue.ListFailed(c.Request.Context(), queryInt(c, "limit", 100))
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Failed index items", items)
}

func (qc *IndexQueueController) Requeue(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	item, err := qc.Queue.Requeue(c.Request.Context(), id)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	qc.Queue.Wake()
	utils.RespondJSON(c, http.StatusOK, "Index item requeued", item)
}
