// Package engineconfig loads app_config.toml (or yaml/json, whatever
// Viper finds) into the engine's runtime settings, with environment
// variables overriding under the OOBE_ prefix. Persisted state besides
// this file and the plan files is intentionally nothing; session state
// lives only in process memory (internal/session).
package engineconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// HTTPConfig is the dispatcher's bind address and the location of the
// web shell's static build, if any is mounted at "/".
type HTTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	ShellDir string `mapstructure:"shell_dir"`
}

// Addr returns "host:port".
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BusConfig is the event bus's secondary-port bind address.
type BusConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns "host:port".
func (c BusConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PlanConfig locates the base execution plan and the remote update
// scheme used to refresh it on NetworkConnected.
type PlanConfig struct {
	BasePath       string `mapstructure:"base_path"`
	UpdatePathRoot string `mapstructure:"update_path_root"`
	UpdateSource   string `mapstructure:"update_source"` // s3, local, unc
	ProductFamily  string `mapstructure:"product_family"`
	PlanVersion    string `mapstructure:"plan_version"`
}

// APIKeyConfig is one configured credential for the session gate.
// SecretHash is a bcrypt hash; plaintext secrets are never stored.
type APIKeyConfig struct {
	APIKey     string `mapstructure:"api_key"`
	SecretHash string `mapstructure:"secret_hash"`
}

// AuthConfig holds the JWT signing key and token lifetime for the
// session gate.
type AuthConfig struct {
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	APIKeys       []APIKeyConfig `mapstructure:"api_keys"`
}

// PluginHostConfig controls where plugin artifacts are loaded from.
type PluginHostConfig struct {
	ArtifactDir string `mapstructure:"artifact_dir"`
}

// DiagConfig locates the sqlite database backing internal/diag's event
// audit trail and controls how often its Prometheus gauges resample.
type DiagConfig struct {
	DBPath          string        `mapstructure:"db_path"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
}

// Config is the engine's full runtime configuration.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Bus        BusConfig        `mapstructure:"bus"`
	Plan       PlanConfig       `mapstructure:"plan"`
	Auth       AuthConfig       `mapstructure:"auth"`
	PluginHost PluginHostConfig `mapstructure:"plugin_host"`
	Diag       DiagConfig       `mapstructure:"diag"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	DevMode    bool             `mapstructure:"dev_mode"`
}

// LoggingConfig controls the zap logger built in logger.go.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from configPath (or the default search
// path) and environment variables, and unmarshals it into a Config.
func Load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.shell_dir", "")
	v.SetDefault("bus.host", "0.0.0.0")
	v.SetDefault("bus.port", 8081)

	v.SetDefault("plan.base_path", "./plan/execution_plan.toml")
	v.SetDefault("plan.update_source", "local")
	v.SetDefault("plan.product_family", "default")
	v.SetDefault("plan.plan_version", "v1")

	v.SetDefault("auth.jwt_signing_key", "")
	v.SetDefault("auth.token_ttl", "15m")

	v.SetDefault("plugin_host.artifact_dir", "./plugins")

	v.SetDefault("diag.db_path", "./oobe-diag.db")
	v.SetDefault("diag.metrics_interval", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("dev_mode", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("app_config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/oobe")
	}

	// Environment variable support: OOBE_HTTP_PORT=9090
	v.SetEnvPrefix("OOBE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine; defaults (and env overrides) apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, v, nil
}
