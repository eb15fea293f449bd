package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VNPAY_TMN_CODE", "TESTTMN1")
	t.Setenv("VNPAY_HASH_SECRET", "secret")
	t.Setenv("VNPAY_QUERY_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", cfg.Gateway.Version)
	assert.Equal(t, "VND", cfg.Gateway.CurrCode)
	assert.Equal(t, "Asia/Ho_Chi_Minh", cfg.Gateway.TimeZone)
	assert.Equal(t, "5000", cfg.Gateway.MinAmount.String())
	assert.Equal(t, 3*time.Second, cfg.Gateway.QueryTimeout)
	assert.Equal(t, 15, cfg.Gateway.ExpireMinutes)
}

func TestLoadRequiresMerchantCredentials(t *testing.T) {
	t.Setenv("VNPAY_TMN_CODE", "")
	t.Setenv("VNPAY_HASH_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VNPAY_TMN_CODE")
	assert.Contains(t, err.Error(), "VNPAY_HASH_SECRET")
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "coursehub", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/coursehub?sslmode=disable", c.DSN())

	c.URL = "postgres://elsewhere/db"
	assert.Equal(t, "postgres://elsewhere/db", c.DSN())
}
