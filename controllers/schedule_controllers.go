package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/settlement-engine/services"
	"github.com/yeremiapane/settlement-engine/utils"
)

type ScheduleController struct {
	Configs   *services.ScheduleConfigService
	Scheduler *services.DynamicScheduler
}

func NewScheduleController(configs *services.ScheduleConfigService, scheduler *services.DynamicScheduler) *ScheduleController {
	return &ScheduleController{Configs: configs, Scheduler: scheduler}
}

func (sc *ScheduleController) ListSchedules(c *gin.Context) {
	configs, err := sc.Configs.List(c.Request.Context())
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Schedules", gin.H{
		"configs": configs,
		"entries": sc.Scheduler.Entries(),
	})
}

func (sc *ScheduleController) UpsertSchedule(c *gin.Context) {
	var input services.ScheduleConfigInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	cfg, err := sc.Configs.Upsert(c.Request.Context(), input)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Schedule saved", cfg)
}

func (sc *ScheduleController) SetEnabled(c *gin.Context) {
	var body struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	cfg, err := sc.Configs.SetEnabled(c.Request.Context(), c.Param("key"), *body.Enabled)
	if err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Schedule updated", cfg)
}

func (sc *ScheduleController) ReloadAll(c *gin.Context) {
	if err := sc.Scheduler.ReloadAll(c.Request.Context()); err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Schedules reloaded", sc.Scheduler.Entries())
}

func (sc *ScheduleController) ReloadOne(c *gin.Context) {
	if err := sc.Scheduler.ReloadOne(c.Request.Context(), c.Param("key")); err != nil {
		utils.RespondDomainError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Schedule reloaded", sc.Scheduler.Entries())
}
