package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.D())
	assert.Equal(t, 256, cfg.Server.MaxConns)

	assert.Equal(t, 32, cfg.Kernel.PriorityMax)
	assert.Equal(t, 4<<20, cfg.Kernel.HeapSize)
	assert.True(t, cfg.Kernel.Coherent)
	assert.Equal(t, 8, cfg.Kernel.NameMax)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DLK_SERVER_PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DLK_KERNEL_COHERENT", "false")
	t.Setenv("DLK_LOADER_INCLUDE", "apps/*.mo,lib/*.so")
	t.Setenv("DLK_REMOTE_REGISTRY_TIMEOUT", "5s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Kernel.Coherent)
	assert.Equal(t, []string{"apps/*.mo", "lib/*.so"}, cfg.Loader.Include)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout.D())
	assert.Equal(t, 3, cfg.Remote.Retries)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlkernel.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 7000

[kernel]
heap_size = 1048576
name_max = 12

[remote]
url = "https://modules.example.com/v1"
cooldown = "1m"

[logging]
level = "warn"
`), 0o644))

	t.Setenv("DLK_LOG_LOG_LEVEL", "error")
	t.Setenv("DLK_SERVER_CORS_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 1<<20, cfg.Kernel.HeapSize)
	assert.Equal(t, 12, cfg.Kernel.NameMax)
	assert.Equal(t, 32, cfg.Kernel.PriorityMax)
	assert.Equal(t, "https://modules.example.com/v1", cfg.Remote.URL)
	assert.Equal(t, time.Minute, cfg.Remote.Cooldown.D())
	assert.Equal(t, "error", cfg.Logging.Level, "environment wins over file")
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
}

func TestLoadFileFromEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 7100\n"), 0o644))
	t.Setenv(EnvFile, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Server.Port)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)

	unknown := filepath.Join(dir, "unknown.toml")
	require.NoError(t, os.WriteFile(unknown, []byte("[server]\nprot = 1\n"), 0o644))
	_, err = Load(unknown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown.toml")

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[remote]\ntimeout = \"soon\"\n"), 0o644))
	_, err = Load(bad)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"conns", func(c *Config) { c.Server.MaxConns = -1 }, "server.max_conns"},
		{"priority", func(c *Config) { c.Kernel.PriorityMax = 1 }, "kernel.priority_max"},
		{"heap", func(c *Config) { c.Kernel.HeapSize = 1024 }, "kernel.heap_size"},
		{"name", func(c *Config) { c.Kernel.NameMax = 1 }, "kernel.name_max"},
		{"image", func(c *Config) { c.Loader.MaxImage = 0 }, "loader.max_image"},
		{"url", func(c *Config) { c.Remote.URL = "ftp://x" }, "remote.url"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("DLK_SERVER_PORT", "-1")

	cfg := LoadOrDefault()
	require.NotNil(t, cfg)
	assert.Equal(t, 8000, cfg.Server.Port)
}
