package controllers

import (
	"net/http"

	"order-service/models"
	"order-service/services"

	"github.com/gin-gonic/gin"
)

// OrderController handles order placement, reads, tracking and the admin
// status endpoints.
type OrderController struct {
	orderService services.OrderService
}

func NewOrderController(svc services.OrderService) *OrderController {
	return &OrderController{orderService: svc}
}

// PlaceOrder handles POST /orders
func (oc *OrderController) PlaceOrder(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}

	var req models.PlaceOrderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	order, svcErr := oc.orderService.PlaceOrder(ctx.Request.Context(), caller.UserID, req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"order": order})
}

// GetOrders handles GET /orders
func (oc *OrderController) GetOrders(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}

	page, limit := parsePaginationParams(ctx)
	result, svcErr := oc.orderService.ListOrders(ctx.Request.Context(), caller.UserID, page, limit)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// GetOrderByID handles GET /orders/:id
func (oc *OrderController) GetOrderByID(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	orderID, err := parseOrderID(ctx, "id")
	if err != nil {
		return
	}

	order, svcErr := oc.orderService.GetOrderDetails(ctx.Request.Context(), caller, orderID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// GetTracking handles GET /tracking/:orderId
func (oc *OrderController) GetTracking(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	orderID, err := parseOrderID(ctx, "orderId")
	if err != nil {
		return
	}

	tracking, svcErr := oc.orderService.GetOrderTracking(ctx.Request.Context(), caller, orderID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, tracking)
}

// GetHistory handles GET /history/:orderId
func (oc *OrderController) GetHistory(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	orderID, err := parseOrderID(ctx, "orderId")
	if err != nil {
		return
	}

	history, svcErr := oc.orderService.GetStatusHistory(ctx.Request.Context(), caller, orderID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order_id": orderID, "history": history})
}

// GetTrackingNumber handles GET /tracking-number/:orderId
func (oc *OrderController) GetTrackingNumber(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	orderID, err := parseOrderID(ctx, "orderId")
	if err != nil {
		return
	}

	number, svcErr := oc.orderService.GetTrackingNumber(ctx.Request.Context(), caller, orderID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order_id": orderID, "tracking_number": number})
}

// CancelOrder handles POST /cancel/:orderId. The body is optional.
func (oc *OrderController) CancelOrder(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	orderID, err := parseOrderID(ctx, "orderId")
	if err != nil {
		return
	}

	var req models.CancelOrderRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
			return
		}
	}

	order, svcErr := oc.orderService.CancelOrder(ctx.Request.Context(), caller, orderID, req.Reason)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Order cancelled", "order": order})
}

// UpdateStatus handles PUT /admin/status/:orderId
func (oc *OrderController) UpdateStatus(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	orderID, err := parseOrderID(ctx, "orderId")
	if err != nil {
		return
	}

	var req models.StatusUpdateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	order, svcErr := oc.orderService.UpdateStatus(ctx.Request.Context(), caller, orderID, req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// GetOrdersByStatus handles GET /admin/by-status?status=
func (oc *OrderController) GetOrdersByStatus(ctx *gin.Context) {
	status := ctx.Query("status")
	if status == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "status query parameter is required"})
		return
	}

	page, limit := parsePaginationParams(ctx)
	result, svcErr := oc.orderService.GetOrdersByStatus(ctx.Request.Context(), status, page, limit)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// GetStatistics handles GET /admin/statistics
func (oc *OrderController) GetStatistics(ctx *gin.Context) {
	stats, svcErr := oc.orderService.GetOrderStatistics(ctx.Request.Context())
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, stats)
}

// BulkUpdate handles POST /admin/bulk-update. Per-order failures are
// reported in the body; the request itself succeeds.
func (oc *OrderController) BulkUpdate(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}

	var req models.BulkUpdateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	result := oc.orderService.BulkUpdate(ctx.Request.Context(), caller, req.Updates)
	ctx.JSON(http.StatusOK, result)
}
