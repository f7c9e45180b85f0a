package config

// Package config provides a reusable loader for ICN node configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"icn-mesh/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for an ICN mesh node. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Identity struct {
		KeystorePath string `mapstructure:"keystore_path" json:"keystore_path"`
		Passphrase   string `mapstructure:"passphrase" json:"passphrase"`
	} `mapstructure:"identity" json:"identity"`

	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
	} `mapstructure:"network" json:"network"`

	Mana struct {
		RegenIntervalMS int    `mapstructure:"regen_interval_ms" json:"regen_interval_ms"`
		RegenAmount     uint64 `mapstructure:"regen_amount" json:"regen_amount"`
		MaxBalance      uint64 `mapstructure:"max_balance" json:"max_balance"`
		StorePath       string `mapstructure:"store_path" json:"store_path"`
		Persist         bool   `mapstructure:"persist" json:"persist"`
	} `mapstructure:"mana" json:"mana"`

	Reputation struct {
		StorePath string `mapstructure:"store_path" json:"store_path"`
		Persist   bool   `mapstructure:"persist" json:"persist"`
	} `mapstructure:"reputation" json:"reputation"`

	DAG struct {
		StorePath string `mapstructure:"store_path" json:"store_path"`
		Persist   bool   `mapstructure:"persist" json:"persist"`
	} `mapstructure:"dag" json:"dag"`

	// Production, when true, composes the node's RuntimeContext through
	// NewProductionContext, which refuses to start if any capability
	// resolves to an in-memory/stub implementation.
	Production bool `mapstructure:"production" json:"production"`

	Mesh struct {
		BidWindowMS         int     `mapstructure:"bid_window_ms" json:"bid_window_ms"`
		DefaultExecWindowMS int     `mapstructure:"default_exec_window_ms" json:"default_exec_window_ms"`
		WeightPrice         float64 `mapstructure:"weight_price" json:"weight_price"`
		WeightReputation    float64 `mapstructure:"weight_reputation" json:"weight_reputation"`
		WeightResources     float64 `mapstructure:"weight_resources" json:"weight_resources"`
	} `mapstructure:"mesh" json:"mesh"`

	Policy struct {
		RequireCredentialProof bool `mapstructure:"require_credential_proof" json:"require_credential_proof"`
	} `mapstructure:"policy" json:"policy"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	// Best-effort: a missing .env is normal outside local development.
	_ = godotenv.Load(".env")

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // env vars (including those loaded from .env) override file config

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ICN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault(utils.EnvNodeEnv, ""))
}
