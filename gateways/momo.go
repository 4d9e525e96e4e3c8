package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	MoMoSandboxURL    = "https://test-payment.momo.vn"
	MoMoProductionURL = "https://payment.momo.vn"

	// momoAmountScale converts order minor units to MoMo's integer VND.
	momoAmountScale   = 1
	momoRequestType   = "captureWallet"
	momoResultSuccess = 0
)

// MoMoConfig holds merchant credentials for the MoMo wallet.
type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	IPNURL      string
	PartnerName string
	StoreID     string
	Timeout     time.Duration
}

// MoMoAdapter implements Adapter and Querier for the MoMo wallet.
type MoMoAdapter struct {
	cfg        MoMoConfig
	httpClient *http.Client
}

// NewMoMoAdapter creates a new MoMoAdapter.
func NewMoMoAdapter(cfg MoMoConfig) *MoMoAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = MoMoSandboxURL
	}
	return &MoMoAdapter{cfg: cfg, httpClient: newHTTPClient(cfg.Timeout)}
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	PartnerName string `json:"partnerName,omitempty"`
	StoreID     string `json:"storeId,omitempty"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	Lang        string `json:"lang"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	ResultCode   int    `json:"resultCode"`
	PayURL       string `json:"payUrl"`
}

type momoIPN struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

type momoQueryRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoQueryResponse struct {
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
	TransID    int64  `json:"transId"`
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

func (m *MoMoAdapter) Name() string { return MoMo }

func (m *MoMoAdapter) configured() bool {
	return m.cfg.PartnerCode != "" && m.cfg.AccessKey != "" && m.cfg.SecretKey != ""
}

// CreatePaymentRequest signs a captureWallet request and returns MoMo's payUrl.
func (m *MoMoAdapter) CreatePaymentRequest(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	if !m.configured() {
		return nil, fmt.Errorf("%w: momo credentials missing", ErrGatewayMisconfigured)
	}

	amount := req.Amount * momoAmountScale
	orderInfo := describe(req)
	extraData := ""
	raw := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		m.cfg.AccessKey, amount, extraData, m.cfg.IPNURL, req.TransactionID, orderInfo,
		m.cfg.PartnerCode, req.ReturnURL, req.TransactionID, momoRequestType,
	)

	body := momoCreateRequest{
		PartnerCode: m.cfg.PartnerCode,
		PartnerName: m.cfg.PartnerName,
		StoreID:     m.cfg.StoreID,
		RequestID:   req.TransactionID,
		Amount:      amount,
		OrderID:     req.TransactionID,
		OrderInfo:   orderInfo,
		RedirectURL: req.ReturnURL,
		IPNURL:      m.cfg.IPNURL,
		Lang:        "vi",
		ExtraData:   extraData,
		RequestType: momoRequestType,
		Signature:   signSHA256(raw, m.cfg.SecretKey),
	}

	var resp momoCreateResponse
	if err := postJSON(ctx, m.httpClient, MoMo, "create", m.cfg.Endpoint+"/v2/gateway/api/create", body, &resp); err != nil {
		return nil, fmt.Errorf("momo CreatePaymentRequest: %w", err)
	}
	if resp.ResultCode != momoResultSuccess || resp.PayURL == "" {
		return nil, fmt.Errorf("%w: momo resultCode %d: %s", ErrGatewayUnavailable, resp.ResultCode, resp.Message)
	}

	return &PaymentResponse{RedirectURL: resp.PayURL}, nil
}

// VerifyCallback parses a MoMo IPN body and recomputes its signature.
func (m *MoMoAdapter) VerifyCallback(raw []byte) (*CallbackResult, error) {
	if !m.configured() {
		return nil, fmt.Errorf("%w: momo credentials missing", ErrGatewayMisconfigured)
	}

	var ipn momoIPN
	if err := json.Unmarshal(raw, &ipn); err != nil {
		return nil, fmt.Errorf("%w: momo ipn: %v", ErrMalformedCallback, err)
	}
	if ipn.OrderID == "" {
		return nil, fmt.Errorf("%w: momo ipn without orderId", ErrMalformedCallback)
	}

	data := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		m.cfg.AccessKey, ipn.Amount, ipn.ExtraData, ipn.Message, ipn.OrderID, ipn.OrderInfo, ipn.OrderType,
		ipn.PartnerCode, ipn.PayType, ipn.RequestID, ipn.ResponseTime, ipn.ResultCode, ipn.TransID,
	)

	result := &CallbackResult{
		TransactionID:  ipn.OrderID,
		Status:         momoStatus(ipn.ResultCode),
		SignatureValid: signatureEqual(signSHA256(data, m.cfg.SecretKey), ipn.Signature),
		Amount:         ipn.Amount / momoAmountScale,
		Message:        ipn.Message,
	}
	if ipn.TransID != 0 {
		result.ProviderRef = strconv.FormatInt(ipn.TransID, 10)
	}
	return result, nil
}

// Query asks MoMo for the definitive status of a transaction.
func (m *MoMoAdapter) Query(ctx context.Context, transactionID string) (*QueryResult, error) {
	if !m.configured() {
		return nil, fmt.Errorf("%w: momo credentials missing", ErrGatewayMisconfigured)
	}

	requestID := ulid.Make().String()
	raw := fmt.Sprintf("accessKey=%s&orderId=%s&partnerCode=%s&requestId=%s",
		m.cfg.AccessKey, transactionID, m.cfg.PartnerCode, requestID)
	body := momoQueryRequest{
		PartnerCode: m.cfg.PartnerCode,
		RequestID:   requestID,
		OrderID:     transactionID,
		Lang:        "vi",
		Signature:   signSHA256(raw, m.cfg.SecretKey),
	}

	var resp momoQueryResponse
	if err := postJSON(ctx, m.httpClient, MoMo, "query", m.cfg.Endpoint+"/v2/gateway/api/query", body, &resp); err != nil {
		return nil, fmt.Errorf("momo Query: %w", err)
	}

	result := &QueryResult{Status: momoStatus(resp.ResultCode), Message: resp.Message}
	if resp.TransID != 0 {
		result.ProviderRef = strconv.FormatInt(resp.TransID, 10)
	}
	return result, nil
}

// Acknowledge answers an IPN. MoMo treats 204 as delivered and retries otherwise.
func (m *MoMoAdapter) Acknowledge(ok bool) (int, interface{}) {
	if ok {
		return http.StatusNoContent, nil
	}
	return http.StatusInternalServerError, map[string]interface{}{"message": "callback not processed"}
}

func momoStatus(resultCode int) ProviderStatus {
	switch resultCode {
	case momoResultSuccess:
		return StatusPaid
	case 1000, 7000, 7002, 9000:
		return StatusPending
	default:
		return StatusFailed
	}
}

func describe(req PaymentRequest) string {
	if d := strings.TrimSpace(req.Description); d != "" {
		return d
	}
	return fmt.Sprintf("Thanh toan don hang #%d", req.OrderID)
}
