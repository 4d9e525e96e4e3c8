package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	values map[string]string
	err    error
	asked  string
}

func (f *fakeSecrets) GetSecretMap(_ context.Context, name string) (map[string]string, error) {
	f.asked = name
	return f.values, f.err
}

func setDBEnv(t *testing.T) {
	t.Setenv("POSTGRES_USER", "orders")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "orders")
	t.Setenv("POSTGRES_HOST", "db")
}

func TestFromEnv_Defaults(t *testing.T) {
	setDBEnv(t)
	cfg := fromEnv()

	assert.Equal(t, "8087", cfg.Port)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "strict", cfg.SignaturePolicy)
	assert.Equal(t, "VND", cfg.Currency)
	assert.Equal(t, TransportNone, cfg.NotifyTransport)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Nil(t, cfg.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestFromEnv_Lists(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("ALLOWED_ORIGINS", "https://shop.example")
	cfg := fromEnv()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"https://shop.example"}, cfg.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"memory store needs no db", func(c *Config) { c.StoreDriver = StoreDriverMemory; c.PostgresUser = "" }, ""},
		{"postgres incomplete", func(c *Config) { c.PostgresPassword = "" }, "database config incomplete"},
		{"unknown store", func(c *Config) { c.StoreDriver = "sqlite" }, "unknown STORE_DRIVER"},
		{"sns without topic", func(c *Config) { c.NotifyTransport = TransportSNS }, "ORDER_SNS_TOPIC_ARN"},
		{"kafka without brokers", func(c *Config) { c.NotifyTransport = TransportKafka }, "KAFKA_BROKERS"},
		{"unknown transport", func(c *Config) { c.NotifyTransport = "smtp" }, "unknown NOTIFY_TRANSPORT"},
		{"bad policy", func(c *Config) { c.SignaturePolicy = "off" }, "unknown SIGNATURE_POLICY"},
		{"production needs jwt", func(c *Config) { c.Env = "production" }, "JWT_SECRET"},
		{"production behind gateway", func(c *Config) { c.Env = "production"; c.TrustGatewayHeader = true }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setDBEnv(t)
			cfg := fromEnv()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplySecrets_OverridesNonEmptyValues(t *testing.T) {
	setDBEnv(t)
	cfg := fromEnv()
	secrets := &fakeSecrets{values: map[string]string{
		"POSTGRES_PASSWORD": "rotated",
		"MOMO_SECRET_KEY":   "momo-secret",
		"POSTGRES_USER":     "",
	}}

	require.NoError(t, cfg.ApplySecrets(context.Background(), secrets))

	assert.Equal(t, "order/CREDENTIALS", secrets.asked)
	assert.Equal(t, "rotated", cfg.PostgresPassword)
	assert.Equal(t, "momo-secret", cfg.MoMoSecretKey)
	assert.Equal(t, "orders", cfg.PostgresUser)
}

func TestApplySecrets_Error(t *testing.T) {
	cfg := fromEnv()
	err := cfg.ApplySecrets(context.Background(), &fakeSecrets{err: errors.New("denied")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestGatewayConfigs(t *testing.T) {
	t.Setenv("MOMO_PARTNER_CODE", "MOMO123")
	t.Setenv("ZALOPAY_APP_ID", "2553")
	t.Setenv("VNPAY_TMN_CODE", "TMN01")
	cfg := fromEnv()

	assert.Equal(t, "MOMO123", cfg.MoMo().PartnerCode)
	assert.Equal(t, cfg.GatewayTimeout, cfg.MoMo().Timeout)
	assert.Equal(t, "2553", cfg.ZaloPay().AppID)
	assert.Equal(t, "TMN01", cfg.VNPay().TmnCode)
	assert.Contains(t, cfg.DSN(), "dbname=")
}
