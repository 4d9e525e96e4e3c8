package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// CODAdapter is the pay-on-delivery path. Creating a payment is local only;
// the courier's delivery system later posts a signed confirmation.
type CODAdapter struct {
	secret string
}

func NewCODAdapter(secret string) *CODAdapter {
	return &CODAdapter{secret: secret}
}

type codCallback struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Signature     string `json:"signature"`
}

func (c *CODAdapter) Name() string { return COD }

func (c *CODAdapter) CreatePaymentRequest(_ context.Context, _ PaymentRequest) (*PaymentResponse, error) {
	return &PaymentResponse{}, nil
}

// VerifyCallback checks signature = HMAC-SHA256(secret, transactionId|status).
func (c *CODAdapter) VerifyCallback(raw []byte) (*CallbackResult, error) {
	if c.secret == "" {
		return nil, fmt.Errorf("%w: cod secret missing", ErrGatewayMisconfigured)
	}

	var cb codCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("%w: cod callback: %v", ErrMalformedCallback, err)
	}
	if cb.TransactionID == "" {
		return nil, fmt.Errorf("%w: cod callback without transactionId", ErrMalformedCallback)
	}

	status := StatusFailed
	switch strings.ToLower(cb.Status) {
	case "success", "paid":
		status = StatusPaid
	case "pending":
		status = StatusPending
	}

	return &CallbackResult{
		TransactionID:  cb.TransactionID,
		Status:         status,
		SignatureValid: signatureEqual(SignCODCallback(c.secret, cb.TransactionID, cb.Status), cb.Signature),
		Message:        cb.Status,
	}, nil
}

func (c *CODAdapter) Acknowledge(ok bool) (int, interface{}) {
	if ok {
		return http.StatusOK, map[string]interface{}{"received": true}
	}
	return http.StatusInternalServerError, map[string]interface{}{"error": "callback not processed"}
}

// SignCODCallback produces the signature a delivery system attaches to a COD
// confirmation.
func SignCODCallback(secret, transactionID, status string) string {
	return signSHA256(transactionID+"|"+status, secret)
}
