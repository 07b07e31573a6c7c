// Package config loads a chainkernel host's configuration file (plus any
// environment-specific overrides and environment variable overrides) into a
// typed Config, using a viper-based layered loader (defaults, file, env-named
// override file, environment variables). The schema is this module's own
// (store, engine, network, logging).
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"chainkernel/pkg/utils"
)

// Config is the unified configuration for a chainkernel host.
type Config struct {
	Store struct {
		Path string `mapstructure:"path" json:"path"`
	} `mapstructure:"store" json:"store"`

	Engine struct {
		StartingDifficulty int64 `mapstructure:"starting_difficulty" json:"starting_difficulty"`
		ConfirmationDepth  int64 `mapstructure:"confirmation_depth" json:"confirmation_depth"`
	} `mapstructure:"engine" json:"engine"`

	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// defaults establishes fallbacks so a host with no config file still starts.
func defaults() {
	viper.SetDefault("store.path", "./data")
	viper.SetDefault("engine.starting_difficulty", 1)
	viper.SetDefault("engine.confirmation_depth", 6)
	viper.SetDefault("network.listen_addr", "/ip4/0.0.0.0/tcp/0")
	viper.SetDefault("logging.level", "info")
}

// Load reads default.yaml from cmd/config or config (relative to the working
// directory) plus an optional env-named override file, then applies
// CHAINKERNEL_-prefixed environment variables on top. The resulting
// configuration is stored in AppConfig and returned.
func Load(env string) (*Config, error) {
	defaults()
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("chainkernel")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}

	// viper's AutomaticEnv doesn't bind nested keys like "engine.starting_difficulty"
	// without a key replacer, so the two integer engine knobs get an explicit
	// environment override on top of whatever the file/defaults produced.
	AppConfig.Engine.StartingDifficulty = int64(utils.EnvOrDefaultInt(
		"CHAINKERNEL_ENGINE_STARTING_DIFFICULTY", int(AppConfig.Engine.StartingDifficulty)))
	AppConfig.Engine.ConfirmationDepth = int64(utils.EnvOrDefaultInt(
		"CHAINKERNEL_ENGINE_CONFIRMATION_DEPTH", int(AppConfig.Engine.ConfirmationDepth)))

	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CHAINKERNEL_ENV environment
// variable to pick the override file (empty selects defaults only).
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CHAINKERNEL_ENV", ""))
}
