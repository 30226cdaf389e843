package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps CLI flag names to config keys for BindFlags.
var flagKeys = map[string]string{
	"host":   "server.host",
	"port":   "server.port",
	"db-url": "database.url",
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	return LoadConfigWithFlags(configPath, nil)
}

// LoadConfigWithFlags is LoadConfig with flags bound on top of the
// environment. Only flags the user changed take effect.
func LoadConfigWithFlags(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// BK_SERVER_PORT -> server.port
	v.SetEnvPrefix("BK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
		},
		Engine: EngineConfig{
			Shards:         v.GetInt("engine.shards"),
			RegexCacheSize: v.GetInt("engine.regex_cache_size"),
			MaxBatchSize:   v.GetInt("engine.max_batch_size"),
		},
		Reload: ReloadConfig{
			Enabled:  v.GetBool("reload.enabled"),
			Interval: v.GetDuration("reload.interval"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults mirrors Default.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("engine.shards", d.Engine.Shards)
	v.SetDefault("engine.regex_cache_size", d.Engine.RegexCacheSize)
	v.SetDefault("engine.max_batch_size", d.Engine.MaxBatchSize)
	v.SetDefault("reload.enabled", d.Reload.Enabled)
	v.SetDefault("reload.interval", d.Reload.Interval.String())
	v.SetDefault("database.url", "")
}

// validateConfig checks port range and positive sizes and durations.
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Engine.Shards <= 0 {
		return fmt.Errorf("shards must be positive, got %d", cfg.Engine.Shards)
	}
	if cfg.Engine.RegexCacheSize <= 0 {
		return fmt.Errorf("regex_cache_size must be positive, got %d", cfg.Engine.RegexCacheSize)
	}
	if cfg.Engine.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", cfg.Engine.MaxBatchSize)
	}
	if cfg.Reload.Enabled && cfg.Reload.Interval <= 0 {
		return fmt.Errorf("reload interval must be positive, got %v", cfg.Reload.Interval)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
// InConfig only consults the file, so BK_HMAC_SECRET in the environment passes.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("server.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use BK_HMAC_SECRET environment variable)")
	}
	return nil
}
