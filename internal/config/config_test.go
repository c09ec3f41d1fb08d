package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret, "AUTH_SECRET must stay empty when unset")
	assert.Empty(t, cfg.ManagerPIN, "MANAGER_PIN must stay empty when unset")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "shiftledger:shift:", cfg.FeedChannelPrefix)
	assert.Equal(t, "shiftledger:audit", cfg.AuditStream)
	assert.Equal(t, 3, cfg.AuditMirrorAttempts)
	assert.Equal(t, 3, cfg.ContentionRetryAttempts)
	assert.False(t, cfg.IsProduction())

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, "10", policy.ReviewThreshold.String())
	assert.Equal(t, "0.01", policy.ExactEpsilon.String())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("DB_TABLE_PREFIX", " tenant_a_ ")
	t.Setenv("VARIANCE_REVIEW_THRESHOLD", "25.50")
	t.Setenv("CONTENTION_RETRY_ATTEMPTS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "tenant_a_", cfg.DBTablePrefix)
	assert.Equal(t, 1, cfg.ContentionRetryAttempts)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, "25.5", policy.ReviewThreshold.String())
}

func TestPolicyRejectsGarbage(t *testing.T) {
	cfg := Config{VarianceReviewThreshold: "ten", VarianceExactEpsilon: "0.01"}
	_, err := cfg.Policy()
	assert.Error(t, err)

	cfg = Config{VarianceReviewThreshold: "-1", VarianceExactEpsilon: "0.01"}
	_, err = cfg.Policy()
	assert.Error(t, err)

	cfg = Config{VarianceReviewThreshold: "10", VarianceExactEpsilon: "0"}
	_, err = cfg.Policy()
	assert.Error(t, err)
}

func TestZeroReviewThresholdIsKept(t *testing.T) {
	t.Setenv("VARIANCE_REVIEW_THRESHOLD", "0")
	cfg, err := Load()
	require.NoError(t, err)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.True(t, policy.ReviewThreshold.IsZero())
	assert.True(t, policy.RequiresReview(decimal.RequireFromString("0.5")))
}
