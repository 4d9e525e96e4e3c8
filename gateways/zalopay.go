package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	ZaloPaySandboxURL    = "https://sb-openapi.zalopay.vn"
	ZaloPayProductionURL = "https://openapi.zalopay.vn"

	// zaloPayAmountScale converts order minor units to ZaloPay's integer VND.
	zaloPayAmountScale = 1
	zaloPayAppTransFmt = "060102"
)

// ZaloPayConfig holds merchant credentials. Key1 signs requests, Key2
// verifies callbacks.
type ZaloPayConfig struct {
	AppID       string
	Key1        string
	Key2        string
	Endpoint    string
	CallbackURL string
	AppUser     string
	Timeout     time.Duration
}

// ZaloPayAdapter implements Adapter and Querier for the ZaloPay wallet.
type ZaloPayAdapter struct {
	cfg        ZaloPayConfig
	httpClient *http.Client
	now        func() time.Time
}

func NewZaloPayAdapter(cfg ZaloPayConfig) *ZaloPayAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = ZaloPaySandboxURL
	}
	if cfg.AppUser == "" {
		cfg.AppUser = "storefront"
	}
	return &ZaloPayAdapter{cfg: cfg, httpClient: newHTTPClient(cfg.Timeout), now: time.Now}
}

type zaloCreateRequest struct {
	AppID       int64  `json:"app_id"`
	AppUser     string `json:"app_user"`
	AppTransID  string `json:"app_trans_id"`
	AppTime     int64  `json:"app_time"`
	Amount      int64  `json:"amount"`
	Item        string `json:"item"`
	EmbedData   string `json:"embed_data"`
	Description string `json:"description"`
	BankCode    string `json:"bank_code"`
	CallbackURL string `json:"callback_url,omitempty"`
	Mac         string `json:"mac"`
}

type zaloCreateResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	SubReturnCode int    `json:"sub_return_code"`
	OrderURL      string `json:"order_url"`
	ZPTransToken  string `json:"zp_trans_token"`
}

type zaloCallback struct {
	Data string `json:"data"`
	Mac  string `json:"mac"`
	Type int    `json:"type"`
}

type zaloCallbackData struct {
	AppID      int64  `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	AppTime    int64  `json:"app_time"`
	Amount     int64  `json:"amount"`
	ZPTransID  int64  `json:"zp_trans_id"`
	ServerTime int64  `json:"server_time"`
}

type zaloQueryRequest struct {
	AppID      int64  `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	Mac        string `json:"mac"`
}

type zaloQueryResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	IsProcessing  bool   `json:"is_processing"`
	Amount        int64  `json:"amount"`
	ZPTransID     int64  `json:"zp_trans_id"`
}

func (z *ZaloPayAdapter) Name() string { return ZaloPay }

func (z *ZaloPayAdapter) appID() (int64, error) {
	if z.cfg.AppID == "" || z.cfg.Key1 == "" || z.cfg.Key2 == "" {
		return 0, fmt.Errorf("%w: zalopay credentials missing", ErrGatewayMisconfigured)
	}
	id, err := strconv.ParseInt(z.cfg.AppID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: zalopay app id %q", ErrGatewayMisconfigured, z.cfg.AppID)
	}
	return id, nil
}

// CreatePaymentRequest creates a ZaloPay order and returns its order_url.
func (z *ZaloPayAdapter) CreatePaymentRequest(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	appID, err := z.appID()
	if err != nil {
		return nil, err
	}

	created := req.CreatedAt
	if created.IsZero() {
		created = z.now()
	}
	prefixAt, ok := transactionTime(req.TransactionID)
	if !ok {
		prefixAt = created
	}
	embed, _ := json.Marshal(map[string]string{"redirecturl": req.ReturnURL})
	body := zaloCreateRequest{
		AppID:       appID,
		AppUser:     z.cfg.AppUser,
		AppTransID:  zaloAppTransID(req.TransactionID, prefixAt),
		AppTime:     created.UnixMilli(),
		Amount:      req.Amount * zaloPayAmountScale,
		Item:        "[]",
		EmbedData:   string(embed),
		Description: describe(req),
		BankCode:    "zalopayapp",
		CallbackURL: z.cfg.CallbackURL,
	}
	data := fmt.Sprintf("%d|%s|%s|%d|%d|%s|%s",
		body.AppID, body.AppTransID, body.AppUser, body.Amount, body.AppTime, body.EmbedData, body.Item)
	body.Mac = signSHA256(data, z.cfg.Key1)

	var resp zaloCreateResponse
	if err := postJSON(ctx, z.httpClient, ZaloPay, "create", z.cfg.Endpoint+"/v2/create", body, &resp); err != nil {
		return nil, fmt.Errorf("zalopay CreatePaymentRequest: %w", err)
	}
	if resp.ReturnCode != 1 || resp.OrderURL == "" {
		return nil, fmt.Errorf("%w: zalopay return_code %d: %s", ErrGatewayUnavailable, resp.ReturnCode, resp.ReturnMessage)
	}

	return &PaymentResponse{RedirectURL: resp.OrderURL, ProviderRef: resp.ZPTransToken}, nil
}

// VerifyCallback checks mac = HMAC-SHA256(key2, data). ZaloPay only calls
// back for successful payments.
func (z *ZaloPayAdapter) VerifyCallback(raw []byte) (*CallbackResult, error) {
	if _, err := z.appID(); err != nil {
		return nil, err
	}

	var cb zaloCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("%w: zalopay callback: %v", ErrMalformedCallback, err)
	}
	var data zaloCallbackData
	if err := json.Unmarshal([]byte(cb.Data), &data); err != nil {
		return nil, fmt.Errorf("%w: zalopay callback data: %v", ErrMalformedCallback, err)
	}
	txID := transactionFromAppTransID(data.AppTransID)
	if txID == "" {
		return nil, fmt.Errorf("%w: zalopay callback without app_trans_id", ErrMalformedCallback)
	}

	result := &CallbackResult{
		TransactionID:  txID,
		Status:         StatusPaid,
		SignatureValid: signatureEqual(signSHA256(cb.Data, z.cfg.Key2), cb.Mac),
		Amount:         data.Amount / zaloPayAmountScale,
	}
	if data.ZPTransID != 0 {
		result.ProviderRef = strconv.FormatInt(data.ZPTransID, 10)
	}
	return result, nil
}

// Query polls /v2/query. The app_trans_id date prefix is recomputed from the
// transaction id's embedded timestamp.
func (z *ZaloPayAdapter) Query(ctx context.Context, transactionID string) (*QueryResult, error) {
	appID, err := z.appID()
	if err != nil {
		return nil, err
	}

	created, ok := transactionTime(transactionID)
	if !ok {
		return nil, fmt.Errorf("zalopay Query: unrecognised transaction id %q", transactionID)
	}
	appTransID := zaloAppTransID(transactionID, created)
	body := zaloQueryRequest{
		AppID:      appID,
		AppTransID: appTransID,
		Mac:        signSHA256(fmt.Sprintf("%d|%s|%s", appID, appTransID, z.cfg.Key1), z.cfg.Key1),
	}

	var resp zaloQueryResponse
	if err := postJSON(ctx, z.httpClient, ZaloPay, "query", z.cfg.Endpoint+"/v2/query", body, &resp); err != nil {
		return nil, fmt.Errorf("zalopay Query: %w", err)
	}

	result := &QueryResult{Message: resp.ReturnMessage}
	switch {
	case resp.ReturnCode == 1:
		result.Status = StatusPaid
	case resp.ReturnCode == 3 || resp.IsProcessing:
		result.Status = StatusPending
	default:
		result.Status = StatusFailed
	}
	if resp.ZPTransID != 0 {
		result.ProviderRef = strconv.FormatInt(resp.ZPTransID, 10)
	}
	return result, nil
}

// Acknowledge answers a callback: return_code 1 stops retries, 0 asks ZaloPay
// to call again.
func (z *ZaloPayAdapter) Acknowledge(ok bool) (int, interface{}) {
	if ok {
		return http.StatusOK, map[string]interface{}{"return_code": 1, "return_message": "success"}
	}
	return http.StatusOK, map[string]interface{}{"return_code": 0, "return_message": "retry"}
}

var vietnamZone = time.FixedZone("ICT", 7*60*60)

func zaloAppTransID(transactionID string, t time.Time) string {
	return t.In(vietnamZone).Format(zaloPayAppTransFmt) + "_" + transactionID
}

func transactionFromAppTransID(appTransID string) string {
	if i := strings.Index(appTransID, "_"); i == len(zaloPayAppTransFmt) {
		return appTransID[i+1:]
	}
	return appTransID
}

// transactionTime extracts the unix-millis component of an id built by
// NewTransactionID.
func transactionTime(transactionID string) (time.Time, bool) {
	parts := strings.Split(transactionID, "_")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
