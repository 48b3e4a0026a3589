package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.Equal(t, "unique_name", cfg.Auth.NameClaim)
	assert.Equal(t, "name", cfg.Auth.DisplayClaim)
	assert.Equal(t, 10, cfg.Calls.RateLimit)
	assert.Equal(t, time.Minute, cfg.Calls.RateWindow)
	assert.Equal(t, 65536, cfg.Transfer.ChunkSize)
	assert.Equal(t, uint64(1<<20), cfg.Transfer.HighWatermark)
	assert.Equal(t, uint64(256<<10), cfg.Transfer.LowWatermark)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICE.URLs)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9000
auth:
  jwt_secret: from-file
calls:
  rate_limit: 3
transfer:
  chunk_size: 1024
`), 0o600))
	t.Setenv("DIALTONE_PORT", "9100")
	t.Setenv("DIALTONE_AUTH_JWT_SECRET", "from-env")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 3, cfg.Calls.RateLimit)
	assert.Equal(t, 1024, cfg.Transfer.ChunkSize)
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transfer:\n  low_watermark: 10\n  high_watermark: 5\n"), 0o600))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.watch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o600))

	levels := make(chan string, 8)
	require.NoError(t, Watch(path, func(c *Config) { levels <- c.LogLevel }))

	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))
	// a truncating write may surface an intermediate empty file first
	timeout := time.After(5 * time.Second)
	for {
		select {
		case lvl := <-levels:
			if lvl == "debug" {
				return
			}
		case <-timeout:
			t.Fatal("no reload")
		}
	}
}

func TestWatchMissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "missing.yaml"), func(*Config) {})
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_ENV", "")
	assert.Equal(t, "config/config.dev.yaml", Path())
	t.Setenv("CONFIG_ENV", "prod")
	assert.Equal(t, "config/config.prod.yaml", Path())
}
