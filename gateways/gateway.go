package gateways

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Gateway identifiers.
const (
	MoMo    = "momo"
	ZaloPay = "zalopay"
	VNPay   = "vnpay"
	COD     = "cod"
)

var (
	ErrUnsupportedGateway   = errors.New("gateways: unsupported gateway")
	ErrGatewayUnavailable   = errors.New("gateways: gateway unavailable")
	ErrGatewayMisconfigured = errors.New("gateways: gateway misconfigured")
	ErrMalformedCallback    = errors.New("gateways: malformed callback")
	ErrQueryUnsupported     = errors.New("gateways: status query not supported")
)

// ProviderStatus is the outcome a provider reports for a transaction.
type ProviderStatus string

const (
	StatusPaid    ProviderStatus = "paid"
	StatusFailed  ProviderStatus = "failed"
	StatusPending ProviderStatus = "pending"
)

// PaymentRequest describes one outbound payment attempt. Amount is the order
// total in minor units; adapters apply their own wire scaling.
type PaymentRequest struct {
	TransactionID string
	OrderID       uint
	Amount        int64
	Description   string
	ReturnURL     string
	CancelURL     string
	ClientIP      string
	CreatedAt     time.Time
}

// PaymentResponse is what the adapter got back from the provider.
// RedirectURL is empty for providers that need no redirect.
type PaymentResponse struct {
	RedirectURL string
	ProviderRef string
}

// CallbackResult is a parsed provider callback. SignatureValid is false when
// the recomputed signature did not match; Status still carries what the
// provider claimed so the caller can apply its own policy.
type CallbackResult struct {
	TransactionID  string
	Status         ProviderStatus
	SignatureValid bool
	ProviderRef    string
	Amount         int64
	Message        string
}

// QueryResult is the answer to an active status poll.
type QueryResult struct {
	Status      ProviderStatus
	ProviderRef string
	Message     string
}

// Adapter is the contract every payment provider integration implements.
type Adapter interface {
	Name() string
	CreatePaymentRequest(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
	VerifyCallback(raw []byte) (*CallbackResult, error)
	// Acknowledge returns the HTTP status and body the provider expects in
	// reply to a callback.
	Acknowledge(ok bool) (int, interface{})
}

// Querier is implemented by adapters whose provider supports active polling.
type Querier interface {
	Query(ctx context.Context, transactionID string) (*QueryResult, error)
}

// Registry selects adapters by gateway name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters, skipping nils.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, name)
	}
	return a, nil
}

// Names lists the registered gateways in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewTransactionID returns "<gateway>_<unix millis>_<9 lowercase ulid chars>".
// The id is generated before the payment row is written, so every attempt
// gets a fresh one.
func NewTransactionID(gateway string, now time.Time) string {
	id := strings.ToLower(ulid.Make().String())
	return fmt.Sprintf("%s_%d_%s", gateway, now.UnixMilli(), id[len(id)-9:])
}
