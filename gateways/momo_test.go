package gateways

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMoMoConfig(endpoint string) MoMoConfig {
	return MoMoConfig{
		PartnerCode: "MOMOTEST",
		AccessKey:   "access",
		SecretKey:   "secret",
		Endpoint:    endpoint,
		IPNURL:      "https://shop.example/payment/callback/momo",
	}
}

func TestMoMoCreatePaymentRequest(t *testing.T) {
	var got momoCreateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/gateway/api/create", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(momoCreateResponse{ResultCode: 0, PayURL: "https://test-payment.momo.vn/pay/abc"})
	}))
	defer srv.Close()

	m := NewMoMoAdapter(testMoMoConfig(srv.URL))
	resp, err := m.CreatePaymentRequest(context.Background(), PaymentRequest{
		TransactionID: "momo_1717000123456_abcdefghj",
		OrderID:       12,
		Amount:        150000,
		ReturnURL:     "https://shop.example/return",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://test-payment.momo.vn/pay/abc", resp.RedirectURL)
	assert.Equal(t, int64(150000), got.Amount)
	assert.Equal(t, "momo_1717000123456_abcdefghj", got.OrderID)
	assert.Equal(t, "Thanh toan don hang #12", got.OrderInfo)

	raw := fmt.Sprintf(
		"accessKey=access&amount=150000&extraData=&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=MOMOTEST&redirectUrl=%s&requestId=%s&requestType=captureWallet",
		got.IPNURL, got.OrderID, got.OrderInfo, got.RedirectURL, got.RequestID)
	assert.Equal(t, signSHA256(raw, "secret"), got.Signature)
}

func TestMoMoCreatePaymentRequest_Errors(t *testing.T) {
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(momoCreateResponse{ResultCode: 1001, Message: "insufficient"})
	}))
	defer rejecting.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	for _, url := range []string{rejecting.URL, broken.URL} {
		_, err := NewMoMoAdapter(testMoMoConfig(url)).CreatePaymentRequest(context.Background(), PaymentRequest{TransactionID: "momo_1_a"})
		assert.True(t, errors.Is(err, ErrGatewayUnavailable), err)
	}

	_, err := NewMoMoAdapter(MoMoConfig{}).CreatePaymentRequest(context.Background(), PaymentRequest{})
	assert.True(t, errors.Is(err, ErrGatewayMisconfigured))
}

func signedIPN(t *testing.T, secret string, ipn momoIPN) []byte {
	t.Helper()
	data := fmt.Sprintf(
		"accessKey=access&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		ipn.Amount, ipn.ExtraData, ipn.Message, ipn.OrderID, ipn.OrderInfo, ipn.OrderType,
		ipn.PartnerCode, ipn.PayType, ipn.RequestID, ipn.ResponseTime, ipn.ResultCode, ipn.TransID)
	ipn.Signature = signSHA256(data, secret)
	b, err := json.Marshal(ipn)
	require.NoError(t, err)
	return b
}

func TestMoMoVerifyCallback(t *testing.T) {
	m := NewMoMoAdapter(testMoMoConfig(""))
	ipn := momoIPN{
		PartnerCode:  "MOMOTEST",
		OrderID:      "momo_1717000123456_abcdefghj",
		RequestID:    "momo_1717000123456_abcdefghj",
		Amount:       150000,
		OrderInfo:    "Thanh toan don hang #12",
		OrderType:    "momo_wallet",
		TransID:      4088878653,
		ResultCode:   0,
		Message:      "Successful.",
		PayType:      "qr",
		ResponseTime: 1717000200000,
	}

	res, err := m.VerifyCallback(signedIPN(t, "secret", ipn))
	require.NoError(t, err)
	assert.True(t, res.SignatureValid)
	assert.Equal(t, StatusPaid, res.Status)
	assert.Equal(t, "4088878653", res.ProviderRef)
	assert.Equal(t, int64(150000), res.Amount)

	res, err = m.VerifyCallback(signedIPN(t, "attacker", ipn))
	require.NoError(t, err)
	assert.False(t, res.SignatureValid)

	ipn.ResultCode = 1006
	res, err = m.VerifyCallback(signedIPN(t, "secret", ipn))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	_, err = m.VerifyCallback([]byte("{"))
	assert.True(t, errors.Is(err, ErrMalformedCallback))
}

func TestMoMoStatus(t *testing.T) {
	assert.Equal(t, StatusPaid, momoStatus(0))
	assert.Equal(t, StatusPending, momoStatus(9000))
	assert.Equal(t, StatusPending, momoStatus(1000))
	assert.Equal(t, StatusFailed, momoStatus(1006))
}

func TestMoMoQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/gateway/api/query", r.URL.Path)
		var req momoQueryRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw := fmt.Sprintf("accessKey=access&orderId=%s&partnerCode=MOMOTEST&requestId=%s", req.OrderID, req.RequestID)
		assert.Equal(t, signSHA256(raw, "secret"), req.Signature)
		json.NewEncoder(w).Encode(momoQueryResponse{OrderID: req.OrderID, ResultCode: 0, TransID: 99})
	}))
	defer srv.Close()

	res, err := NewMoMoAdapter(testMoMoConfig(srv.URL)).Query(context.Background(), "momo_1_abc")

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, res.Status)
	assert.Equal(t, "99", res.ProviderRef)
}

func TestMoMoAcknowledge(t *testing.T) {
	m := NewMoMoAdapter(MoMoConfig{})
	status, _ := m.Acknowledge(true)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = m.Acknowledge(false)
	assert.Equal(t, http.StatusInternalServerError, status)
}
