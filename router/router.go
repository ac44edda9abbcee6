package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yeremiapane/settlement-engine/controllers"
	"github.com/yeremiapane/settlement-engine/hub"
	"github.com/yeremiapane/settlement-engine/middlewares"
	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/services"
)

// Dependencies is everything the HTTP layer talks to.
type Dependencies struct {
	Orders      *services.OrderService
	Payments    *services.PaymentService
	Refunds     *services.RefundService
	Settlements *services.SettlementService
	Batch       *services.SettlementBatchService
	Schedules   *services.ScheduleConfigService
	Scheduler   *services.DynamicScheduler
	Queue       *services.IndexQueueService
	Hub         *hub.Hub
	Gatherer    prometheus.Gatherer
	CORSOrigin  string
}

func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.LoggerMiddleware())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(deps.CORSOrigin))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	orderCtrl := controllers.NewOrderController(deps.Orders)
	paymentCtrl := controllers.NewPaymentController(deps.Payments)
	refundCtrl := controllers.NewRefundController(deps.Refunds)
	settlementCtrl := controllers.NewSettlementController(deps.Settlements)
	batchCtrl := controllers.NewBatchController(deps.Batch)
	scheduleCtrl := controllers.NewScheduleController(deps.Schedules, deps.Scheduler)
	queueCtrl := controllers.NewIndexQueueController(deps.Queue)

	auth := r.Group("/")
	auth.Use(middlewares.AuthMiddleware())
	{
		auth.POST("/orders", orderCtrl.CreateOrder)
		auth.GET("/orders/:order_id", orderCtrl.GetOrder)
		auth.POST("/orders/:order_id/cancel", orderCtrl.CancelOrder)

		auth.POST("/payments", paymentCtrl.CreatePayment)
		auth.POST("/payments/confirm", paymentCtrl.Confirm)
		auth.GET("/payments/:payment_id", paymentCtrl.GetPayment)
		auth.POST("/payments/:payment_id/authorize", paymentCtrl.Authorize)
		auth.POST("/payments/:payment_id/capture", paymentCtrl.Capture)
		auth.POST("/payments/:payment_id/fail", paymentCtrl.Fail)

		refunds := auth.Group("/payments/:payment_id/refunds")
		refunds.Use(middlewares.RefundRateLimiter(), middlewares.RefundAuditLogger())
		{
			refunds.POST("/full", refundCtrl.FullRefund)
			refunds.POST("/partial", refundCtrl.PartialRefund)
			refunds.POST("/cancel", refundCtrl.CancelAuthorization)
		}
	}

	admin := r.Group("/admin")
	admin.Use(middlewares.AuthMiddleware(), middlewares.RequireRole(models.RoleAdmin))
	{
		admin.GET("/settlements", settlementCtrl.ListSettlements)
		admin.GET("/settlements/:settlement_id", settlementCtrl.GetSettlement)
		admin.POST("/settlements/:settlement_id/request-approval", settlementCtrl.RequestApproval)
		admin.POST("/settlements/:settlement_id/approve", settlementCtrl.Approve)
		admin.POST("/settlements/:settlement_id/reject", settlementCtrl.Reject)

		admin.POST("/batches/settlements/create", batchCtrl.CreateSettlements)
		admin.POST("/batches/settlements/confirm", batchCtrl.ConfirmSettlements)
		admin.POST("/batches/adjustments/confirm", batchCtrl.ConfirmAdjustments)

		admin.GET("/schedules", scheduleCtrl.ListSchedules)
		admin.PUT("/schedules", scheduleCtrl.UpsertSchedule)
		admin.PATCH("/schedules/:key/enabled", scheduleCtrl.SetEnabled)
		admin.POST("/schedules/reload", scheduleCtrl.ReloadAll)
		admin.POST("/schedules/:key/reload", scheduleCtrl.ReloadOne)

		admin.GET("/index-queue/stats", queueCtrl.Stats)
		admin.GET("/index-queue/failed", queueCtrl.ListFailed)
		admin.POST("/index-queue/:id/requeue", queueCtrl.Requeue)
	}

	// Browsers cannot send headers on the handshake, so the feed reads its
	// token from the query string.
	if deps.Hub != nil {
		feed := r.Group("/admin/feed")
		feed.Use(middlewares.WebSocketAuthMiddleware(), middlewares.RequireRole(models.RoleAdmin))
		feed.GET("", controllers.FeedHandler(deps.Hub))
	}

	return r
}
