package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"order-service/controllers"
	"order-service/middleware"
	"order-service/models"
	"order-service/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- mocks ----

type mockOrderSvc struct {
	services.OrderService

	order     *models.Order
	list      *models.OrderListResponse
	stats     *models.OrderStatistics
	tracking  *models.OrderTracking
	svcErr    *services.ServiceError
	bulk      services.BulkResult
	gotCaller services.Caller
	gotID     uint
	gotReason string
	gotPage   int
	gotLimit  int
	gotStatus string
}

func (m *mockOrderSvc) PlaceOrder(_ context.Context, userID string, _ models.PlaceOrderRequest) (*models.Order, *services.ServiceError) {
	m.gotCaller = services.Caller{UserID: userID}
	return m.order, m.svcErr
}

func (m *mockOrderSvc) ListOrders(_ context.Context, userID string, page, limit int) (*models.OrderListResponse, *services.ServiceError) {
	m.gotCaller = services.Caller{UserID: userID}
	m.gotPage, m.gotLimit = page, limit
	return m.list, m.svcErr
}

func (m *mockOrderSvc) GetOrderDetails(_ context.Context, caller services.Caller, id uint) (*models.Order, *services.ServiceError) {
	m.gotCaller, m.gotID = caller, id
	return m.order, m.svcErr
}

func (m *mockOrderSvc) GetOrderTracking(_ context.Context, caller services.Caller, id uint) (*models.OrderTracking, *services.ServiceError) {
	m.gotCaller, m.gotID = caller, id
	return m.tracking, m.svcErr
}

func (m *mockOrderSvc) GetTrackingNumber(_ context.Context, caller services.Caller, id uint) (string, *services.ServiceError) {
	m.gotCaller, m.gotID = caller, id
	if m.svcErr != nil {
		return "", m.svcErr
	}
	return "VN123456000042", nil
}

func (m *mockOrderSvc) CancelOrder(_ context.Context, caller services.Caller, id uint, reason string) (*models.Order, *services.ServiceError) {
	m.gotCaller, m.gotID, m.gotReason = caller, id, reason
	return m.order, m.svcErr
}

func (m *mockOrderSvc) UpdateStatus(_ context.Context, caller services.Caller, id uint, req models.StatusUpdateRequest) (*models.Order, *services.ServiceError) {
	m.gotCaller, m.gotID, m.gotStatus = caller, id, req.Status
	return m.order, m.svcErr
}

func (m *mockOrderSvc) GetOrdersByStatus(_ context.Context, status string, page, limit int) (*models.OrderListResponse, *services.ServiceError) {
	m.gotStatus, m.gotPage, m.gotLimit = status, page, limit
	return m.list, m.svcErr
}

func (m *mockOrderSvc) GetOrderStatistics(context.Context) (*models.OrderStatistics, *services.ServiceError) {
	return m.stats, m.svcErr
}

func (m *mockOrderSvc) BulkUpdate(_ context.Context, caller services.Caller, _ []models.BulkStatusUpdate) services.BulkResult {
	m.gotCaller = caller
	return m.bulk
}

type mockPaymentSvc struct {
	services.PaymentService

	result     *models.PaymentResult
	payment    *models.Payment
	svcErr     *services.ServiceError
	handled    bool
	gotGateway string
	gotRaw     string
	gotSuccess bool
	gotTxID    string
}

func (m *mockPaymentSvc) CreatePayment(_ context.Context, _ services.Caller, _ models.CreatePaymentRequest, _ string) (*models.PaymentResult, *services.ServiceError) {
	return m.result, m.svcErr
}

func (m *mockPaymentSvc) HandleCallback(_ context.Context, gateway string, raw []byte) bool {
	m.gotGateway, m.gotRaw = gateway, string(raw)
	return m.handled
}

func (m *mockPaymentSvc) Acknowledge(_ string, ok bool) (int, interface{}) {
	if ok {
		return http.StatusNoContent, nil
	}
	return http.StatusBadRequest, map[string]interface{}{"error": "rejected"}
}

func (m *mockPaymentSvc) GetPaymentStatus(_ context.Context, _ services.Caller, txID string) (*models.Payment, *services.ServiceError) {
	m.gotTxID = txID
	return m.payment, m.svcErr
}

func (m *mockPaymentSvc) MockCallback(_ context.Context, txID string, success bool) (*models.Payment, *services.ServiceError) {
	m.gotTxID, m.gotSuccess = txID, success
	return m.payment, m.svcErr
}

// ---- helpers ----

func errOf(status int, message string) *services.ServiceError {
	return &services.ServiceError{StatusCode: status, Message: message}
}

func withCaller(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.UserContextKey, userID)
			c.Set(middleware.RoleContextKey, role)
		}
		c.Next()
	}
}

func setupOrderRouter(svc services.OrderService, userID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withCaller(userID, role))
	oc := controllers.NewOrderController(svc)

	r.POST("/orders", oc.PlaceOrder)
	r.GET("/orders", oc.GetOrders)
	r.GET("/orders/:id", oc.GetOrderByID)
	r.GET("/tracking/:orderId", oc.GetTracking)
	r.GET("/tracking-number/:orderId", oc.GetTrackingNumber)
	r.POST("/cancel/:orderId", oc.CancelOrder)
	r.PUT("/admin/status/:orderId", oc.UpdateStatus)
	r.GET("/admin/by-status", oc.GetOrdersByStatus)
	r.GET("/admin/statistics", oc.GetStatistics)
	r.POST("/admin/bulk-update", oc.BulkUpdate)
	return r
}

func setupPaymentRouter(svc services.PaymentService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withCaller("user-1", ""))
	pc := controllers.NewPaymentController(svc, zap.NewNop())

	r.POST("/payment/create", pc.CreatePayment)
	r.POST("/payment/callback/:gateway", pc.Callback)
	r.GET("/payment/callback/:gateway", pc.Callback)
	r.GET("/payment/status/:transactionId", pc.GetPaymentStatus)
	r.POST("/payment/mock/:transactionId/:outcome", pc.MockCallback)
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// ---- order tests ----

func TestPlaceOrder_Created(t *testing.T) {
	svc := &mockOrderSvc{order: &models.Order{ID: 7, UserID: "user-1", Status: models.OrderStatusPending}}
	r := setupOrderRouter(svc, "user-1", "")

	w := serve(r, http.MethodPost, "/orders", `{"shipping_address":"12 Nguyen Hue, District 1"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "user-1", svc.gotCaller.UserID)
	order := decode(t, w)["order"].(map[string]interface{})
	assert.Equal(t, float64(7), order["id"])
}

func TestPlaceOrder_MissingAddress(t *testing.T) {
	r := setupOrderRouter(&mockOrderSvc{}, "user-1", "")

	w := serve(r, http.MethodPost, "/orders", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	svc := &mockOrderSvc{svcErr: errOf(http.StatusBadRequest, "Cart is empty")}
	r := setupOrderRouter(svc, "user-1", "")

	w := serve(r, http.MethodPost, "/orders", `{"shipping_address":"somewhere"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cart is empty", decode(t, w)["error"])
}

func TestPlaceOrder_Unauthenticated(t *testing.T) {
	r := setupOrderRouter(&mockOrderSvc{}, "", "")

	w := serve(r, http.MethodPost, "/orders", `{"shipping_address":"somewhere"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetOrders_Pagination(t *testing.T) {
	svc := &mockOrderSvc{list: &models.OrderListResponse{Orders: []models.Order{}}}
	r := setupOrderRouter(svc, "user-1", "")

	w := serve(r, http.MethodGet, "/orders?page=3&limit=500", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, svc.gotPage)
	assert.Equal(t, 100, svc.gotLimit)

	serve(r, http.MethodGet, "/orders?page=-1&limit=abc", "")
	assert.Equal(t, 1, svc.gotPage)
	assert.Equal(t, 10, svc.gotLimit)
}

func TestGetOrderByID(t *testing.T) {
	svc := &mockOrderSvc{order: &models.Order{ID: 42}}
	r := setupOrderRouter(svc, "user-1", "admin")

	w := serve(r, http.MethodGet, "/orders/42", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint(42), svc.gotID)
	assert.True(t, svc.gotCaller.IsAdmin())
}

func TestGetOrderByID_InvalidID(t *testing.T) {
	r := setupOrderRouter(&mockOrderSvc{}, "user-1", "")

	for _, id := range []string{"abc", "0", "-3"} {
		w := serve(r, http.MethodGet, "/orders/"+id, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
	}
}

func TestGetOrderByID_NotFound(t *testing.T) {
	r := setupOrderRouter(&mockOrderSvc{svcErr: errOf(http.StatusNotFound, "Order not found")}, "user-2", "")

	w := serve(r, http.MethodGet, "/orders/42", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTracking_OwnershipDenied(t *testing.T) {
	r := setupOrderRouter(&mockOrderSvc{svcErr: errOf(http.StatusForbidden, "You do not have access to this order")}, "user-2", "")

	w := serve(r, http.MethodGet, "/tracking/42", "")

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetTrackingNumber(t *testing.T) {
	r := setupOrderRouter(&mockOrderSvc{}, "user-1", "")

	w := serve(r, http.MethodGet, "/tracking-number/42", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "VN123456000042", decode(t, w)["tracking_number"])
}

func TestCancelOrder_WithAndWithoutBody(t *testing.T) {
	svc := &mockOrderSvc{order: &models.Order{ID: 5, Status: models.OrderStatusCancelled}}
	r := setupOrderRouter(svc, "user-1", "")

	w := serve(r, http.MethodPost, "/cancel/5", `{"reason":"changed my mind"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "changed my mind", svc.gotReason)

	w = serve(r, http.MethodPost, "/cancel/5", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", svc.gotReason)
}

func TestCancelOrder_NotCancellable(t *testing.T) {
	r := setupOrderRouter(&mockOrderSvc{svcErr: errOf(http.StatusConflict, "Order cannot be cancelled")}, "user-1", "")

	w := serve(r, http.MethodPost, "/cancel/5", "")

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUpdateStatus(t *testing.T) {
	svc := &mockOrderSvc{order: &models.Order{ID: 9, Status: models.OrderStatusShipped}}
	r := setupOrderRouter(svc, "admin-1", "admin")

	w := serve(r, http.MethodPut, "/admin/status/9", `{"status":"shipped","note":"handed to courier"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shipped", svc.gotStatus)

	svc.svcErr = errOf(http.StatusConflict, "Invalid status transition")
	w = serve(r, http.MethodPut, "/admin/status/9", `{"status":"pending"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetOrdersByStatus_RequiresStatus(t *testing.T) {
	svc := &mockOrderSvc{list: &models.OrderListResponse{}}
	r := setupOrderRouter(svc, "admin-1", "admin")

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/admin/by-status", "").Code)

	w := serve(r, http.MethodGet, "/admin/by-status?status=shipped", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shipped", svc.gotStatus)
}

func TestGetStatistics(t *testing.T) {
	svc := &mockOrderSvc{stats: &models.OrderStatistics{Total: 3, ByStatus: map[string]int64{"pending": 3}}}
	r := setupOrderRouter(svc, "admin-1", "admin")

	w := serve(r, http.MethodGet, "/admin/statistics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["total"])
}

func TestBulkUpdate(t *testing.T) {
	svc := &mockOrderSvc{bulk: services.BulkResult{
		Succeeded: []uint{1},
		Failed:    []services.BulkFailure{{OrderID: 2, Error: "Invalid status transition"}},
	}}
	r := setupOrderRouter(svc, "admin-1", "admin")

	w := serve(r, http.MethodPost, "/admin/bulk-update",
		`{"updates":[{"order_id":1,"status":"confirmed"},{"order_id":2,"status":"pending"}]}`)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Len(t, resp["succeeded"], 1)
	assert.Len(t, resp["failed"], 1)

	w = serve(r, http.MethodPost, "/admin/bulk-update", `{"updates":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---- payment tests ----

func TestCreatePayment(t *testing.T) {
	redirect := "https://pay.example/redirect"
	svc := &mockPaymentSvc{result: &models.PaymentResult{TransactionID: "MOMO-1", RedirectURL: &redirect}}
	r := setupPaymentRouter(svc)

	w := serve(r, http.MethodPost, "/payment/create", `{"order_id":1,"gateway":"momo"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, redirect, decode(t, w)["redirect_url"])
}

func TestCreatePayment_GatewayUnavailable(t *testing.T) {
	r := setupPaymentRouter(&mockPaymentSvc{svcErr: errOf(http.StatusBadGateway, "Payment gateway unavailable")})

	w := serve(r, http.MethodPost, "/payment/create", `{"order_id":1,"gateway":"momo"}`)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCallback_PostBody(t *testing.T) {
	svc := &mockPaymentSvc{handled: true}
	r := setupPaymentRouter(svc)

	w := serve(r, http.MethodPost, "/payment/callback/momo", `{"orderId":"MOMO-1","resultCode":0}`)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "momo", svc.gotGateway)
	assert.Equal(t, `{"orderId":"MOMO-1","resultCode":0}`, svc.gotRaw)
}

func TestCallback_GetQuery(t *testing.T) {
	svc := &mockPaymentSvc{handled: false}
	r := setupPaymentRouter(svc)

	w := serve(r, http.MethodGet, "/payment/callback/vnpay?vnp_TxnRef=VNPAY-1&vnp_ResponseCode=00", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "vnpay", svc.gotGateway)
	assert.True(t, strings.HasPrefix(svc.gotRaw, "vnp_TxnRef=VNPAY-1"))
}

func TestGetPaymentStatus(t *testing.T) {
	svc := &mockPaymentSvc{payment: &models.Payment{TransactionID: "ZALOPAY-1", Status: models.PaymentStatusPaid}}
	r := setupPaymentRouter(svc)

	w := serve(r, http.MethodGet, "/payment/status/ZALOPAY-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ZALOPAY-1", svc.gotTxID)
}

func TestMockCallback(t *testing.T) {
	svc := &mockPaymentSvc{payment: &models.Payment{}}
	r := setupPaymentRouter(svc)

	w := serve(r, http.MethodPost, "/payment/mock/COD-1/success", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.gotSuccess)

	w = serve(r, http.MethodPost, "/payment/mock/COD-1/failure", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, svc.gotSuccess)

	w = serve(r, http.MethodPost, "/payment/mock/COD-1/maybe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
