package config

// Package config provides a reusable loader for Synnergy configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"synnergy-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a mesh node. It mirrors
// the structure of the YAML files under cmd/config and the key set spec §6
// documents (node_did, listen_addresses/bootstrap_peers/enable_mdns,
// storage.dag/mana/reputation, mana.*, runtime.*, governance.voting.*).
type Config struct {
	Environment string `mapstructure:"environment" json:"environment"`
	NodeDID     string `mapstructure:"node_did" json:"node_did"`

	Network struct {
		ID              string   `mapstructure:"id" json:"id"`
		MaxPeers        int      `mapstructure:"max_peers" json:"max_peers"`
		ListenAddresses []string `mapstructure:"listen_addresses" json:"listen_addresses"`
		BootstrapPeers  []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		DiscoveryTag    string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		EnableMDNS      bool     `mapstructure:"enable_mdns" json:"enable_mdns"`
	} `mapstructure:"network" json:"network"`

	Storage struct {
		DAG struct {
			BackendDir       string `mapstructure:"backend_dir" json:"backend_dir"`
			CacheDir         string `mapstructure:"cache_dir" json:"cache_dir"`
			CacheSizeEntries int    `mapstructure:"cache_size_entries" json:"cache_size_entries"`
			PinTTLSeconds    int    `mapstructure:"pin_ttl_seconds" json:"pin_ttl_seconds"`
		} `mapstructure:"dag" json:"dag"`
		Mana struct {
			Path string `mapstructure:"path" json:"path"`
		} `mapstructure:"mana" json:"mana"`
		Reputation struct {
			Path string `mapstructure:"path" json:"path"`
		} `mapstructure:"reputation" json:"reputation"`
	} `mapstructure:"storage" json:"storage"`

	Mana struct {
		DefaultCapacity uint64  `mapstructure:"default_capacity" json:"default_capacity"`
		BaseRegenRate   float64 `mapstructure:"base_regen_rate" json:"base_regen_rate"`
		RefundPolicy    string  `mapstructure:"refund_policy" json:"refund_policy"`
	} `mapstructure:"mana" json:"mana"`

	Runtime struct {
		BidWindowSeconds      int     `mapstructure:"bid_window_seconds" json:"bid_window_seconds"`
		ExecutionWindowSeconds int    `mapstructure:"execution_window_seconds" json:"execution_window_seconds"`
		AssignAckGraceSeconds int     `mapstructure:"assign_ack_grace_seconds" json:"assign_ack_grace_seconds"`
		ScoreWeightPrice      float64 `mapstructure:"score_weight_price" json:"score_weight_price"`
		ScoreWeightReputation float64 `mapstructure:"score_weight_reputation" json:"score_weight_reputation"`
		ScoreWeightResource   float64 `mapstructure:"score_weight_resource" json:"score_weight_resource"`
	} `mapstructure:"runtime" json:"runtime"`

	Governance struct {
		Voting struct {
			QuorumPercent    int `mapstructure:"quorum_percent" json:"quorum_percent"`
			PeriodSeconds    int `mapstructure:"period_seconds" json:"period_seconds"`
		} `mapstructure:"voting" json:"voting"`
	} `mapstructure:"governance" json:"governance"`

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

	viper.AutomaticEnv() // environment variables override file values

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SYNN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SYNN_ENV", ""))
}
