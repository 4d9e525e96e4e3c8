package routes

import (
	"order-service/controllers"
	"order-service/middleware"

	"github.com/gin-gonic/gin"
)

// Options toggles the route groups that depend on the environment.
type Options struct {
	EnableMockPayments bool
	// RateLimit, when set, guards the user and admin groups. Provider
	// callbacks are never limited.
	RateLimit gin.HandlerFunc
}

// RegisterRoutes sets up the order, tracking, payment and admin routes.
func RegisterRoutes(r *gin.Engine, auth middleware.Authenticator, oc *controllers.OrderController, pc *controllers.PaymentController, opts Options) {
	// Provider-facing; authenticated by the gateway signature, not by a user token.
	callbacks := r.Group("/payment/callback")
	callbacks.POST("/:gateway", pc.Callback)
	callbacks.GET("/:gateway", pc.Callback)

	limited := func(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
		if opts.RateLimit == nil {
			return handlers
		}
		return append([]gin.HandlerFunc{opts.RateLimit}, handlers...)
	}

	user := r.Group("/")
	user.Use(limited(middleware.AuthMiddleware(auth))...)

	user.POST("/orders", oc.PlaceOrder)
	user.GET("/orders", oc.GetOrders)
	user.GET("/orders/:id", oc.GetOrderByID)
	user.GET("/tracking/:orderId", oc.GetTracking)
	user.GET("/history/:orderId", oc.GetHistory)
	user.GET("/tracking-number/:orderId", oc.GetTrackingNumber)
	user.POST("/cancel/:orderId", oc.CancelOrder)

	user.POST("/payment/create", pc.CreatePayment)
	user.GET("/payment/status/:transactionId", pc.GetPaymentStatus)
	user.GET("/payment/order/:orderId", pc.GetOrderPayments)

	if opts.EnableMockPayments {
		user.POST("/payment/mock/:transactionId/:outcome", pc.MockCallback)
	}

	admin := r.Group("/admin")
	admin.Use(limited(middleware.AuthMiddleware(auth), middleware.AdminOnly())...)
	admin.PUT("/status/:orderId", oc.UpdateStatus)
	admin.GET("/by-status", oc.GetOrdersByStatus)
	admin.GET("/statistics", oc.GetStatistics)
	admin.POST("/bulk-update", oc.BulkUpdate)
	admin.POST("/payment/reconcile/:transactionId", pc.Reconcile)
}
