package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"PLUG_HTTP_ADDR", "PORT", "PLUG_STORE", "PLUG_CORS_ORIGIN", "CORS_ORIGIN", "PLUG_SWEEP_INTERVAL", "PLUG_DATABASE_PATH", "DATABASE_PATH"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	assert.Equal(t, ":3000", cfg.HTTPAddr)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, "./data/plug_backend.db", cfg.DatabasePath)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, int64(100_000_000), cfg.WSMaxMessageBytes)
}

func TestLoadConfig_LegacyFallbacks(t *testing.T) {
	t.Setenv("PLUG_HTTP_ADDR", "")
	t.Setenv("PORT", "4000")
	t.Setenv("PLUG_CORS_ORIGIN", "")
	t.Setenv("CORS_ORIGIN", "https://a.example.com, ,https://b.example.com")
	t.Setenv("PLUG_DEFAULT_ADMIN_PASSWORD", "")
	t.Setenv("DEFAULT_ADMIN_PASSWORD", "Legacy123")

	cfg := LoadConfig()
	assert.Equal(t, ":4000", cfg.HTTPAddr)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "Legacy123", cfg.DefaultAdminPassword)

	t.Setenv("PLUG_HTTP_ADDR", "127.0.0.1:9000")
	assert.Equal(t, "127.0.0.1:9000", LoadConfig().HTTPAddr)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("T_DUR", "0")
	t.Setenv("T_BAD_DUR", "soon")
	t.Setenv("T_INT", "-4")
	t.Setenv("T_FLOAT", "2.5")
	t.Setenv("T_BOOL", "yes")

	assert.Equal(t, time.Duration(0), EnvDuration("T_DUR", time.Hour), "zero disables")
	assert.Equal(t, time.Hour, EnvDuration("T_BAD_DUR", time.Hour))
	assert.Equal(t, 7, EnvInt("T_INT", 7))
	assert.Equal(t, 2.5, EnvFloat("T_FLOAT", 1))
	assert.False(t, EnvBool("T_BOOL", false))
	assert.Equal(t, "x", EnvFirst("x", "T_UNSET_1", "T_UNSET_2"))
}
