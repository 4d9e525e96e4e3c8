package services_test

import (
	"context"
	"encoding/json"
	"testing"

	"order-service/models"
	"order-service/services"

	aws_pkg "order-service/pkg/aws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePoller delivers a fixed batch of bodies and records handler errors.
type fakePoller struct {
	bodies []string
	errs   []error
}

func (f *fakePoller) StartPolling(ctx context.Context, handler aws_pkg.MessageHandler) error {
	for _, b := range f.bodies {
		f.errs = append(f.errs, handler(ctx, b))
	}
	return nil
}

type fakeCallbackHandler struct {
	result   bool
	gateways []string
	payloads []string
}

func (f *fakeCallbackHandler) HandleCallback(_ context.Context, gateway string, raw []byte) bool {
	f.gateways = append(f.gateways, gateway)
	f.payloads = append(f.payloads, string(raw))
	return f.result
}

func envelope(t *testing.T, gateway, payload string) string {
	t.Helper()
	b, err := json.Marshal(models.CallbackMessage{Gateway: gateway, Payload: payload})
	require.NoError(t, err)
	return string(b)
}

func TestCallbackConsumer_AcceptedMessagesAreDeleted(t *testing.T) {
	poller := &fakePoller{bodies: []string{envelope(t, "momo", `{"orderId":"momo_1_abc"}`)}}
	handler := &fakeCallbackHandler{result: true}
	c := services.NewCallbackConsumer(poller, handler, nil, zap.NewNop())

	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, []string{"momo"}, handler.gateways)
	assert.Equal(t, []string{`{"orderId":"momo_1_abc"}`}, handler.payloads)
	assert.Equal(t, []error{nil}, poller.errs)
}

func TestCallbackConsumer_RejectedMessagesAreRedelivered(t *testing.T) {
	poller := &fakePoller{bodies: []string{envelope(t, "vnpay", "vnp_TxnRef=x")}}
	handler := &fakeCallbackHandler{result: false}
	c := services.NewCallbackConsumer(poller, handler, nil, zap.NewNop())

	require.NoError(t, c.Start(context.Background()))

	require.Len(t, poller.errs, 1)
	assert.Error(t, poller.errs[0])
}

func TestCallbackConsumer_MalformedEnvelopeIsDropped(t *testing.T) {
	poller := &fakePoller{bodies: []string{"{broken"}}
	handler := &fakeCallbackHandler{result: true}
	c := services.NewCallbackConsumer(poller, handler, nil, zap.NewNop())

	require.NoError(t, c.Start(context.Background()))

	assert.Empty(t, handler.gateways)
	assert.Equal(t, []error{nil}, poller.errs)
}
