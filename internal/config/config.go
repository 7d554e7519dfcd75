package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings for the API. Values come from the
// environment (optionally seeded from a .env file by the caller) with an
// optional config file layered underneath.
type Config struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`

	DatabasePath string `mapstructure:"database_path"`

	JWTSecret string `mapstructure:"jwt_secret"`

	// Balance provider (external trading ledger).
	BalanceProviderURL     string        `mapstructure:"balance_provider_url"`
	BalanceProviderTimeout time.Duration `mapstructure:"balance_provider_timeout"`

	// Legacy payment gateway (CBC wire format, bearer-token payin API).
	LegacyGatewayURL      string `mapstructure:"legacy_gateway_url"`
	LegacyGatewayUsername string `mapstructure:"legacy_gateway_username"`
	LegacyGatewayPassword string `mapstructure:"legacy_gateway_password"`
	LegacyAgentCode       string `mapstructure:"legacy_agent_code"`
	LegacySecretKey       string `mapstructure:"legacy_secret_key"`
	LegacySecretIV        string `mapstructure:"legacy_secret_iv"`
	LegacyGatewayID       int    `mapstructure:"legacy_gateway_id"`

	// Crypto payment gateway (GCM wire format).
	CryptoGatewayURL string `mapstructure:"crypto_gateway_url"`
	CryptoAgentCode  string `mapstructure:"crypto_agent_code"`
	CryptoSecretKey  string `mapstructure:"crypto_secret_key"`

	GatewayTimeout time.Duration `mapstructure:"gateway_timeout"`

	// Public currency conversion API.
	RateAPIURL   string        `mapstructure:"rate_api_url"`
	RateCacheTTL time.Duration `mapstructure:"rate_cache_ttl"`

	AdminEmail string `mapstructure:"admin_email"`
}

// Load reads configuration from the environment, layering an optional config
// file (path may be empty) underneath. Missing values fall back to defaults
// suitable for local development; secrets have no defaults and validation of
// their presence is left to the components that need them.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("env", "development")
	v.SetDefault("database_path", "brokerage.db")
	v.SetDefault("jwt_secret", "brokerage-secret-key")
	v.SetDefault("balance_provider_url", "https://api.moneyplantfx.com/WSMoneyplant.aspx")
	v.SetDefault("balance_provider_timeout", 15*time.Second)
	v.SetDefault("legacy_gateway_url", "https://apis.rameepay.io")
	v.SetDefault("legacy_gateway_id", 23)

	// Secrets default to empty so AutomaticEnv can see the keys; components
	// that need them reject empty values at construction.
	v.SetDefault("legacy_gateway_username", "")
	v.SetDefault("legacy_gateway_password", "")
	v.SetDefault("legacy_agent_code", "")
	v.SetDefault("legacy_secret_key", "")
	v.SetDefault("legacy_secret_iv", "")
	v.SetDefault("crypto_agent_code", "")
	v.SetDefault("crypto_secret_key", "")
	v.SetDefault("crypto_gateway_url", "https://crypto-apis.rameepay.io")
	v.SetDefault("gateway_timeout", 20*time.Second)
	v.SetDefault("rate_api_url", "https://api.frankfurter.app/latest")
	v.SetDefault("rate_cache_ttl", 5*time.Minute)
	v.SetDefault("admin_email", "support@brokerage.local")

	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
