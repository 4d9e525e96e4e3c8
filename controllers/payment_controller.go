package controllers

import (
	"io"
	"net/http"

	"order-service/logger"
	"order-service/models"
	"order-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCallbackBody = 1 << 20

type PaymentController struct {
	paymentService services.PaymentService
	logger         *zap.Logger
}

func NewPaymentController(svc services.PaymentService, logger *zap.Logger) *PaymentController {
	return &PaymentController{paymentService: svc, logger: logger}
}

// CreatePayment handles POST /payment/create
func (pc *PaymentController) CreatePayment(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}

	var req models.CreatePaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	result, svcErr := pc.paymentService.CreatePayment(ctx.Request.Context(), caller, req, ctx.ClientIP())
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusCreated, result)
}

// Callback handles provider callbacks on /payment/callback/:gateway. POST
// bodies are passed through as-is; GET callbacks (VNPAY IPN) carry their
// fields in the query string.
func (pc *PaymentController) Callback(ctx *gin.Context) {
	gateway := ctx.Param("gateway")

	var raw []byte
	if ctx.Request.Method == http.MethodGet {
		raw = []byte(ctx.Request.URL.RawQuery)
	} else {
		body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxCallbackBody))
		if err != nil {
			logger.WithRequest(ctx, pc.logger).Warn("Failed to read callback body",
				zap.String("gateway", gateway), zap.Error(err))
			status, ack := pc.paymentService.Acknowledge(gateway, false)
			writeAck(ctx, status, ack)
			return
		}
		raw = body
	}

	ok := pc.paymentService.HandleCallback(ctx.Request.Context(), gateway, raw)
	status, ack := pc.paymentService.Acknowledge(gateway, ok)
	writeAck(ctx, status, ack)
}

func writeAck(ctx *gin.Context, status int, body interface{}) {
	if body == nil {
		ctx.Status(status)
		return
	}
	ctx.JSON(status, body)
}

// GetPaymentStatus handles GET /payment/status/:transactionId
func (pc *PaymentController) GetPaymentStatus(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}

	payment, svcErr := pc.paymentService.GetPaymentStatus(ctx.Request.Context(), caller, ctx.Param("transactionId"))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"payment": payment})
}

// GetOrderPayments handles GET /payment/order/:orderId
func (pc *PaymentController) GetOrderPayments(ctx *gin.Context) {
	caller, ok := callerFrom(ctx)
	if !ok {
		return
	}
	orderID, err := parseOrderID(ctx, "orderId")
	if err != nil {
		return
	}

	payments, svcErr := pc.paymentService.GetOrderPayments(ctx.Request.Context(), caller, orderID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order_id": orderID, "payments": payments})
}

// Reconcile handles POST /admin/payment/reconcile/:transactionId
func (pc *PaymentController) Reconcile(ctx *gin.Context) {
	payment, svcErr := pc.paymentService.Reconcile(ctx.Request.Context(), ctx.Param("transactionId"))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payment": payment})
}

// MockCallback handles POST /payment/mock/:transactionId/:outcome in
// development builds. outcome is "success" or "failure".
func (pc *PaymentController) MockCallback(ctx *gin.Context) {
	var success bool
	switch ctx.Param("outcome") {
	case "success":
		success = true
	case "failure":
		success = false
	default:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "outcome must be success or failure"})
		return
	}

	payment, svcErr := pc.paymentService.MockCallback(ctx.Request.Context(), ctx.Param("transactionId"), success)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payment": payment})
}
