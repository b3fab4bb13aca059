package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("DATABASE_URL", "file:test?mode=memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.HoldStaleAfter)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, "Europe/Stockholm", cfg.DisplayTimezone)
	assert.Equal(t, 4, cfg.DispatchWorkers)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("HOLD_STALE_AFTER", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOLD_STALE_AFTER")
}

func TestLoadProdRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("NETS_WEBHOOK_AUTH", "hook-secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadSwishCertPair(t *testing.T) {
	t.Setenv("SWISH_CERT_FILE", "/tmp/cert.pem")
	t.Setenv("SWISH_KEY_FILE", "")

	_, err := Load()
	require.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"https://a.se", "https://b.se"}, splitList(" https://a.se, ,https://b.se"))
	assert.Nil(t, splitList(""))
}
