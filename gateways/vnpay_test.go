package gateways

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVNPay() *VNPayAdapter {
	return NewVNPayAdapter(VNPayConfig{TmnCode: "TMN01", HashSecret: "vnpsecret"})
}

func TestVNPayCreatePaymentRequest(t *testing.T) {
	v := testVNPay()
	created := time.Date(2024, 5, 29, 17, 30, 0, 0, time.UTC)

	resp, err := v.CreatePaymentRequest(context.Background(), PaymentRequest{
		TransactionID: "vnpay_1717000123456_abcdefghj",
		OrderID:       8,
		Amount:        150000,
		ReturnURL:     "https://shop.example/return",
		CreatedAt:     created,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(resp.RedirectURL, VNPaySandboxURL+"?"))

	u, err := url.Parse(resp.RedirectURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "15000000", q.Get("vnp_Amount"))
	assert.Equal(t, "20240530003000", q.Get("vnp_CreateDate"))
	assert.Equal(t, "20240530004500", q.Get("vnp_ExpireDate"))
	assert.Equal(t, "127.0.0.1", q.Get("vnp_IpAddr"))
	assert.Equal(t, "Thanh toan don hang #8", q.Get("vnp_OrderInfo"))

	hash := q.Get("vnp_SecureHash")
	q.Del("vnp_SecureHash")
	assert.Equal(t, signSHA512(canonicalQuery(q), "vnpsecret"), hash)
}

func TestVNPayVerifyCallback(t *testing.T) {
	v := testVNPay()
	params := url.Values{}
	params.Set("vnp_TxnRef", "vnpay_1_abc")
	params.Set("vnp_Amount", "15000000")
	params.Set("vnp_ResponseCode", "00")
	params.Set("vnp_TransactionStatus", "00")
	params.Set("vnp_TransactionNo", "14012345")
	params.Set("vnp_OrderInfo", "Thanh toan don hang #8")
	signed := canonicalQuery(params) + "&vnp_SecureHashType=HmacSHA512&vnp_SecureHash=" + signSHA512(canonicalQuery(params), "vnpsecret")

	res, err := v.VerifyCallback([]byte(signed))
	require.NoError(t, err)
	assert.True(t, res.SignatureValid)
	assert.Equal(t, StatusPaid, res.Status)
	assert.Equal(t, "vnpay_1_abc", res.TransactionID)
	assert.Equal(t, "14012345", res.ProviderRef)
	assert.Equal(t, int64(150000), res.Amount)

	tampered := strings.Replace(signed, "vnp_Amount=15000000", "vnp_Amount=100", 1)
	res, err = v.VerifyCallback([]byte(tampered))
	require.NoError(t, err)
	assert.False(t, res.SignatureValid)

	params.Set("vnp_ResponseCode", "24")
	failed := canonicalQuery(params) + "&vnp_SecureHash=" + signSHA512(canonicalQuery(params), "vnpsecret")
	res, err = v.VerifyCallback([]byte(failed))
	require.NoError(t, err)
	assert.True(t, res.SignatureValid)
	assert.Equal(t, StatusFailed, res.Status)

	_, err = v.VerifyCallback([]byte("vnp_Amount=1"))
	assert.True(t, errors.Is(err, ErrMalformedCallback))
}

func TestVNPayVerifyCallback_RequiresBothSuccessCodes(t *testing.T) {
	v := testVNPay()
	tests := []struct {
		name              string
		responseCode      string
		transactionStatus string
		want              ProviderStatus
	}{
		{"both success", "00", "00", StatusPaid},
		{"transaction status missing", "00", "", StatusFailed},
		{"transaction not completed", "00", "02", StatusFailed},
		{"response code failed", "24", "00", StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := url.Values{}
			params.Set("vnp_TxnRef", "vnpay_1_abc")
			params.Set("vnp_Amount", "15000000")
			params.Set("vnp_ResponseCode", tt.responseCode)
			if tt.transactionStatus != "" {
				params.Set("vnp_TransactionStatus", tt.transactionStatus)
			}
			signed := canonicalQuery(params) + "&vnp_SecureHash=" + signSHA512(canonicalQuery(params), "vnpsecret")

			res, err := v.VerifyCallback([]byte(signed))

			require.NoError(t, err)
			assert.True(t, res.SignatureValid)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestVNPayMisconfigured(t *testing.T) {
	_, err := NewVNPayAdapter(VNPayConfig{}).CreatePaymentRequest(context.Background(), PaymentRequest{})
	assert.True(t, errors.Is(err, ErrGatewayMisconfigured))
}
