package gateways

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	VNPaySandboxURL = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"

	// vnpAmountScale: VNPAY expects the amount multiplied by 100.
	vnpAmountScale = 100
	vnpVersion     = "2.1.0"
	vnpDateLayout  = "20060102150405"
	vnpExpireAfter = 15 * time.Minute
)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	Locale     string
}

// VNPayAdapter implements the bank-redirect flow. It never calls VNPAY
// directly; the customer is redirected to a signed URL.
type VNPayAdapter struct {
	cfg VNPayConfig
	now func() time.Time
}

func NewVNPayAdapter(cfg VNPayConfig) *VNPayAdapter {
	if cfg.PayURL == "" {
		cfg.PayURL = VNPaySandboxURL
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	return &VNPayAdapter{cfg: cfg, now: time.Now}
}

func (v *VNPayAdapter) Name() string { return VNPay }

func (v *VNPayAdapter) configured() bool {
	return v.cfg.TmnCode != "" && v.cfg.HashSecret != "" && v.cfg.PayURL != ""
}

// CreatePaymentRequest builds the signed redirect URL.
func (v *VNPayAdapter) CreatePaymentRequest(_ context.Context, req PaymentRequest) (*PaymentResponse, error) {
	if !v.configured() {
		return nil, fmt.Errorf("%w: vnpay credentials missing", ErrGatewayMisconfigured)
	}

	created := req.CreatedAt
	if created.IsZero() {
		created = v.now()
	}
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", vnpVersion)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", v.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*vnpAmountScale, 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", req.TransactionID)
	params.Set("vnp_OrderInfo", describe(req))
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", v.cfg.Locale)
	params.Set("vnp_ReturnUrl", req.ReturnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", created.In(vietnamZone).Format(vnpDateLayout))
	params.Set("vnp_ExpireDate", created.Add(vnpExpireAfter).In(vietnamZone).Format(vnpDateLayout))

	signData := canonicalQuery(params)
	hash := signSHA512(signData, v.cfg.HashSecret)

	return &PaymentResponse{RedirectURL: v.cfg.PayURL + "?" + signData + "&vnp_SecureHash=" + hash}, nil
}

// VerifyCallback accepts the raw query string of a return or IPN request.
func (v *VNPayAdapter) VerifyCallback(raw []byte) (*CallbackResult, error) {
	if !v.configured() {
		return nil, fmt.Errorf("%w: vnpay credentials missing", ErrGatewayMisconfigured)
	}

	params, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: vnpay query: %v", ErrMalformedCallback, err)
	}
	txID := params.Get("vnp_TxnRef")
	if txID == "" {
		return nil, fmt.Errorf("%w: vnpay callback without vnp_TxnRef", ErrMalformedCallback)
	}

	secureHash := params.Get("vnp_SecureHash")
	params.Del("vnp_SecureHash")
	params.Del("vnp_SecureHashType")

	status := StatusFailed
	if params.Get("vnp_ResponseCode") == "00" && params.Get("vnp_TransactionStatus") == "00" {
		status = StatusPaid
	}

	amount, _ := strconv.ParseInt(params.Get("vnp_Amount"), 10, 64)
	return &CallbackResult{
		TransactionID:  txID,
		Status:         status,
		SignatureValid: signatureEqual(signSHA512(canonicalQuery(params), v.cfg.HashSecret), secureHash),
		ProviderRef:    params.Get("vnp_TransactionNo"),
		Amount:         amount / vnpAmountScale,
		Message:        params.Get("vnp_ResponseCode"),
	}, nil
}

// Acknowledge answers an IPN in VNPAY's RspCode format.
func (v *VNPayAdapter) Acknowledge(ok bool) (int, interface{}) {
	if ok {
		return http.StatusOK, map[string]interface{}{"RspCode": "00", "Message": "Confirm Success"}
	}
	return http.StatusOK, map[string]interface{}{"RspCode": "99", "Message": "Unknown error"}
}
