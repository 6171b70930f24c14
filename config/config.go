package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	E2B       E2BConfig       `mapstructure:"e2b"`
	Container ContainerConfig `mapstructure:"container"`
	Local     LocalConfig     `mapstructure:"local"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// SandboxConfig holds settings shared by every sandbox backend
type SandboxConfig struct {
	Backend            string `mapstructure:"backend"`
	EnableLocalBackend bool   `mapstructure:"enable_local_backend"`
	InstallTimeoutSec  int    `mapstructure:"install_timeout_sec"`
	BuildTimeoutSec    int    `mapstructure:"build_timeout_sec"`
	WriteTimeoutSec    int    `mapstructure:"write_timeout_sec"`
	RunTimeoutSec      int    `mapstructure:"run_timeout_sec"`
	LifetimeSec        int    `mapstructure:"lifetime_sec"`
}

// E2BConfig holds E2B cloud sandbox settings. Templates maps a sandbox kind
// (code_interpreter, base, nextjs, vue, gradio) to an E2B template id.
type E2BConfig struct {
	APIKey    string            `mapstructure:"api_key"`
	APIURL    string            `mapstructure:"api_url"`
	Domain    string            `mapstructure:"domain"`
	Templates map[string]string `mapstructure:"templates"`
}

// ContainerConfig holds docker/podman settings
type ContainerConfig struct {
	Binary    string                       `mapstructure:"binary"`
	WorkRoot  string                       `mapstructure:"work_root"`
	Templates map[string]ContainerTemplate `mapstructure:"templates"`
}

// ContainerTemplate is the image backing one sandbox kind
type ContainerTemplate struct {
	Image        string `mapstructure:"image"`
	StartCommand string `mapstructure:"start_command"`
}

// LocalConfig holds settings for the development backend
type LocalConfig struct {
	WorkRoot      string            `mapstructure:"work_root"`
	StartCommands map[string]string `mapstructure:"start_commands"`
}

// MetricsConfig holds the prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.BindEnv("e2b.api_key", "E2B_API_KEY"); err != nil {
		return nil, fmt.Errorf("error binding E2B_API_KEY: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("sandbox.backend", "e2b")
	viper.SetDefault("sandbox.enable_local_backend", false)
	viper.SetDefault("sandbox.install_timeout_sec", 180)
	viper.SetDefault("sandbox.build_timeout_sec", 300)
	viper.SetDefault("sandbox.write_timeout_sec", 60)
	viper.SetDefault("sandbox.run_timeout_sec", 120)
	viper.SetDefault("sandbox.lifetime_sec", 300)

	viper.SetDefault("e2b.api_url", "https://api.e2b.app")
	viper.SetDefault("e2b.domain", "e2b.app")
	viper.SetDefault("e2b.templates.code_interpreter", "code-interpreter-v1")
	viper.SetDefault("e2b.templates.base", "base")
	viper.SetDefault("e2b.templates.nextjs", "nextjs-developer")
	viper.SetDefault("e2b.templates.vue", "vue-developer")
	viper.SetDefault("e2b.templates.gradio", "gradio-developer")

	// Container images mirror the E2B templates and are built by the operator
	viper.SetDefault("container.binary", "docker")
	viper.SetDefault("container.work_root", "")
	viper.SetDefault("container.templates.code_interpreter.image", "codearena/code-interpreter:latest")
	viper.SetDefault("container.templates.base.image", "codearena/base:latest")
	viper.SetDefault("container.templates.nextjs.image", "codearena/nextjs-developer:latest")
	viper.SetDefault("container.templates.nextjs.start_command", "npm run dev -- --hostname 0.0.0.0 --port 3000")
	viper.SetDefault("container.templates.vue.image", "codearena/vue-developer:latest")
	viper.SetDefault("container.templates.vue.start_command", "npm run dev -- --host 0.0.0.0 --port 3000")
	viper.SetDefault("container.templates.gradio.image", "codearena/gradio-developer:latest")
	viper.SetDefault("container.templates.gradio.start_command", "gradio app.py")

	viper.SetDefault("local.work_root", "")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.port", 9090)
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	timeouts := []struct {
		key   string
		value int
	}{
		{"sandbox.install_timeout_sec", c.Sandbox.InstallTimeoutSec},
		{"sandbox.build_timeout_sec", c.Sandbox.BuildTimeoutSec},
		{"sandbox.write_timeout_sec", c.Sandbox.WriteTimeoutSec},
		{"sandbox.run_timeout_sec", c.Sandbox.RunTimeoutSec},
		{"sandbox.lifetime_sec", c.Sandbox.LifetimeSec},
	}
	for _, timeout := range timeouts {
		if timeout.value <= 0 {
			return fmt.Errorf("%s must be positive, got: %d", timeout.key, timeout.value)
		}
	}

	supportedBackends := map[string]bool{
		"e2b":    true,
		"docker": true,
		"podman": true,
		"local":  c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics.port: %d", c.Metrics.Port)
	}

	return nil
}

// InstallTimeout returns the dependency install timeout as a duration
func (c *Config) InstallTimeout() time.Duration {
	return time.Duration(c.Sandbox.InstallTimeoutSec) * time.Second
}

// BuildTimeout returns the build step timeout as a duration
func (c *Config) BuildTimeout() time.Duration {
	return time.Duration(c.Sandbox.BuildTimeoutSec) * time.Second
}

// WriteTimeout returns the file write timeout as a duration
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Sandbox.WriteTimeoutSec) * time.Second
}

// RunTimeout returns how long interpreter code may run
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Sandbox.RunTimeoutSec) * time.Second
}

// Lifetime returns how long a provisioned sandbox is kept alive
func (c *Config) Lifetime() time.Duration {
	return time.Duration(c.Sandbox.LifetimeSec) * time.Second
}
