package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresRazorpayCredentials(t *testing.T) {
	t.Setenv("RAZORPAY_KEY_ID", "")
	t.Setenv("RAZORPAY_KEY_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test_key")
	t.Setenv("RAZORPAY_KEY_SECRET", "shh")
	t.Setenv("RAZORPAY_TIMEOUT_SEC", "3")
	t.Setenv("KAFKA_BROKERS", " broker-1:9092, ,broker-2:9092 ")
	t.Setenv("DATABASE_URL", "postgres://db/courses")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "rzp_test_key", cfg.Razorpay.KeyID)
	assert.Equal(t, 3*time.Second, cfg.Razorpay.Timeout())
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "postgres://db/courses", cfg.Database.DSN())
}

func TestDSNFromComponents(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "courses", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/courses?sslmode=disable", c.DSN())
}

func TestRazorpayTimeoutDefault(t *testing.T) {
	assert.Equal(t, 10*time.Second, RazorpayConfig{}.Timeout())
}
