package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
		Sandbox: SandboxConfig{
			Backend:           "e2b",
			InstallTimeoutSec: 180,
			BuildTimeoutSec:   300,
			WriteTimeoutSec:   60,
			RunTimeoutSec:     120,
			LifetimeSec:       300,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "InvalidServerTransport",
			mutate:  func(c *Config) { c.Server.Transport = "invalid" },
			wantErr: "invalid server.transport",
		},
		{
			name:    "InvalidLoggingMode",
			mutate:  func(c *Config) { c.Logging.Mode = "invalid_mode" },
			wantErr: "invalid logging.mode",
		},
		{
			name:    "InvalidLogLevel",
			mutate:  func(c *Config) { c.Logging.Level = "invalid_level" },
			wantErr: "invalid logging.level",
		},
		{
			name:    "InvalidInstallTimeout",
			mutate:  func(c *Config) { c.Sandbox.InstallTimeoutSec = 0 },
			wantErr: "sandbox.install_timeout_sec must be positive",
		},
		{
			name:    "InvalidBuildTimeout",
			mutate:  func(c *Config) { c.Sandbox.BuildTimeoutSec = -1 },
			wantErr: "sandbox.build_timeout_sec must be positive",
		},
		{
			name:    "InvalidWriteTimeout",
			mutate:  func(c *Config) { c.Sandbox.WriteTimeoutSec = 0 },
			wantErr: "sandbox.write_timeout_sec must be positive",
		},
		{
			name:    "InvalidRunTimeout",
			mutate:  func(c *Config) { c.Sandbox.RunTimeoutSec = 0 },
			wantErr: "sandbox.run_timeout_sec must be positive",
		},
		{
			name:    "InvalidLifetime",
			mutate:  func(c *Config) { c.Sandbox.LifetimeSec = 0 },
			wantErr: "sandbox.lifetime_sec must be positive",
		},
		{
			name:    "UnknownBackend",
			mutate:  func(c *Config) { c.Sandbox.Backend = "kubernetes" },
			wantErr: "unsupported sandbox.backend",
		},
		{
			name:    "InvalidBackendWhenLocalNotEnabled",
			mutate:  func(c *Config) { c.Sandbox.Backend = "local" },
			wantErr: "unsupported sandbox.backend",
		},
		{
			name: "InvalidMetricsPort",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 0
			},
			wantErr: "invalid metrics.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("ValidBackendWhenLocalEnabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Backend = "local"
		cfg.Sandbox.EnableLocalBackend = true
		require.NoError(t, cfg.validate())
	})

	t.Run("MetricsPortIgnoredWhenDisabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Metrics.Port = 0
		require.NoError(t, cfg.validate())
	})
}

func TestDurations(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 3*time.Minute, cfg.InstallTimeout())
	assert.Equal(t, 5*time.Minute, cfg.BuildTimeout())
	assert.Equal(t, time.Minute, cfg.WriteTimeout())
	assert.Equal(t, 2*time.Minute, cfg.RunTimeout())
	assert.Equal(t, 5*time.Minute, cfg.Lifetime())
}

func TestNew(t *testing.T) {
	chdir := func(t *testing.T, dir string) {
		t.Helper()
		wd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(dir))
		t.Cleanup(func() {
			_ = os.Chdir(wd)
			viper.Reset()
		})
	}

	t.Run("Defaults", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("E2B_API_KEY", "")

		cfg, err := New()
		require.NoError(t, err)

		assert.Equal(t, "stdio", cfg.Server.Transport)
		assert.Equal(t, "e2b", cfg.Sandbox.Backend)
		assert.Equal(t, 180, cfg.Sandbox.InstallTimeoutSec)
		assert.Equal(t, 120, cfg.Sandbox.RunTimeoutSec)
		assert.Equal(t, "e2b.app", cfg.E2B.Domain)
		assert.Equal(t, "code-interpreter-v1", cfg.E2B.Templates["code_interpreter"])
		assert.Equal(t, "gradio-developer", cfg.E2B.Templates["gradio"])
		assert.Equal(t, "docker", cfg.Container.Binary)
		assert.Equal(t, "gradio app.py", cfg.Container.Templates["gradio"].StartCommand)
		assert.False(t, cfg.Metrics.Enabled)
	})

	t.Run("FileAndEnvironment", func(t *testing.T) {
		dir := t.TempDir()
		chdir(t, dir)
		t.Setenv("E2B_API_KEY", "e2b_test_key")

		yaml := []byte(`
server:
  transport: http
  http_port: 9000
sandbox:
  backend: podman
  build_timeout_sec: 600
container:
  binary: podman
metrics:
  enabled: true
  port: 9100
`)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

		cfg, err := New()
		require.NoError(t, err)

		assert.Equal(t, "http", cfg.Server.Transport)
		assert.Equal(t, 9000, cfg.Server.HTTPPort)
		assert.Equal(t, "podman", cfg.Sandbox.Backend)
		assert.Equal(t, 600, cfg.Sandbox.BuildTimeoutSec)
		assert.Equal(t, 60, cfg.Sandbox.WriteTimeoutSec)
		assert.Equal(t, "podman", cfg.Container.Binary)
		assert.Equal(t, "e2b_test_key", cfg.E2B.APIKey)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9100, cfg.Metrics.Port)
	})

	t.Run("InvalidFile", func(t *testing.T) {
		dir := t.TempDir()
		chdir(t, dir)

		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("sandbox:\n  backend: local\n"), 0o600))

		_, err := New()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported sandbox.backend")
	})
}
