package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	Engine EngineConfig
	Auth   AuthConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type EngineConfig struct {
	// Address is the engine identity: it scopes enforcer state, the
	// revocation set, and the signing domain.
	Address       string `mapstructure:"address"`
	DomainName    string `mapstructure:"domain_name"`
	DomainVersion string `mapstructure:"domain_version"`
	// Assets are token addresses served by the ledger-transfer handler.
	Assets []string `mapstructure:"assets"`
}

type AuthConfig struct {
	// Disabled turns off wallet-signature auth. Local development only.
	Disabled bool `mapstructure:"disabled"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("engine.domain_name", "Deleguard")
	v.SetDefault("engine.domain_version", "1")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":           "PORT",
		"redis.addr":            "REDIS_ADDR",
		"redis.password":        "REDIS_PASSWORD",
		"engine.address":        "ENGINE_ADDRESS",
		"engine.domain_name":    "ENGINE_DOMAIN_NAME",
		"engine.domain_version": "ENGINE_DOMAIN_VERSION",
		"engine.assets":         "ENGINE_ASSETS",
		"auth.disabled":         "AUTH_DISABLED",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Engine.Address == "" {
		return fmt.Errorf("required config missing: ENGINE_ADDRESS")
	}
	if !common.IsHexAddress(c.Engine.Address) {
		return fmt.Errorf("ENGINE_ADDRESS is not a valid address: %s", c.Engine.Address)
	}
	for _, a := range c.Engine.Assets {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("ENGINE_ASSETS entry is not a valid address: %s", a)
		}
	}
	return nil
}

// AssetAddresses returns the validated asset list.
func (c *Config) AssetAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Engine.Assets))
	for _, a := range c.Engine.Assets {
		out = append(out, common.HexToAddress(a))
	}
	return out
}

// EngineAddress returns the validated engine identity.
func (c *Config) EngineAddress() common.Address {
	return common.HexToAddress(c.Engine.Address)
}
