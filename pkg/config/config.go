// Package config loads service configuration from an optional YAML file with
// PAYGATE_-prefixed environment overrides on top of compiled-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/codebazaar/paygate/pkg/constants"
)

// Config is the full service configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DBPath     string `mapstructure:"db_path"`
	LogLevel   string `mapstructure:"log_level"`

	Chain  ChainConfig  `mapstructure:"chain"`
	Verify VerifyConfig `mapstructure:"verify"`
}

// ChainConfig selects the network, fullnode endpoints, and the optional
// marketplace contract address used for advisory on-chain access queries.
type ChainConfig struct {
	Network         string   `mapstructure:"network"`
	Endpoints       []string `mapstructure:"endpoints"`
	ContractAddress string   `mapstructure:"contract_address"`
}

// VerifyConfig tunes the verification retry loop and intent lifetime.
type VerifyConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	IntentTTL   time.Duration `mapstructure:"intent_ttl"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8090",
		DBPath:     "data/paygate.db",
		LogLevel:   "info",
		Chain: ChainConfig{
			Network: constants.NetworkMovementTestnet,
		},
		Verify: VerifyConfig{
			MaxAttempts: constants.VerifyMaxAttempts,
			RetryDelay:  constants.VerifyRetryDelay,
			IntentTTL:   constants.IntentTTL,
		},
	}
}

// Load reads the config file at path (optional, "" skips the file) and
// applies environment overrides such as PAYGATE_CHAIN_NETWORK.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("PAYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			// Missing file falls through to defaults + env.
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, validate(cfg)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("chain.network", cfg.Chain.Network)
	v.SetDefault("chain.endpoints", cfg.Chain.Endpoints)
	v.SetDefault("chain.contract_address", cfg.Chain.ContractAddress)
	v.SetDefault("verify.max_attempts", cfg.Verify.MaxAttempts)
	v.SetDefault("verify.retry_delay", cfg.Verify.RetryDelay)
	v.SetDefault("verify.intent_ttl", cfg.Verify.IntentTTL)
}

func validate(cfg *Config) error {
	if cfg.Verify.MaxAttempts <= 0 {
		return fmt.Errorf("verify.max_attempts must be positive, got %d", cfg.Verify.MaxAttempts)
	}
	if cfg.Verify.RetryDelay <= 0 {
		return fmt.Errorf("verify.retry_delay must be positive, got %s", cfg.Verify.RetryDelay)
	}
	if cfg.Verify.IntentTTL <= 0 {
		return fmt.Errorf("verify.intent_ttl must be positive, got %s", cfg.Verify.IntentTTL)
	}
	if len(cfg.Chain.Endpoints) == 0 && len(constants.OfficialFullnodeEndpoints[cfg.Chain.Network]) == 0 {
		return fmt.Errorf("network %q has no official endpoints; set chain.endpoints", cfg.Chain.Network)
	}
	return nil
}
