// Package config loads runtime settings: which backend to drive, where the
// run log lives and the default tolerance.
//
// Sources in priority order:
//  1. Command-line flags, when set
//  2. Environment variables (VAULTHARNESS_ prefix)
//  3. Configuration file (vaultharness.yaml)
//  4. Defaults
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/vaultharness/internal/chain"
	"github.com/roach88/vaultharness/internal/oracle"
)

// Backend names.
const (
	BackendSim = "sim"
	BackendRPC = "rpc"
)

const (
	// EnvPrefix is prepended to every key to form its environment variable.
	EnvPrefix = "VAULTHARNESS"

	// FileName is the config file looked up in the working directory
	// when no explicit path is given.
	FileName = "vaultharness"
)

// Setting keys.
const (
	KeyBackend    = "backend"
	KeyRPCURL     = "rpc_url"
	KeyNodeFlavor = "node_flavor"
	KeyDB         = "db"
	KeyTolerance  = "tolerance"
	KeyTxTimeout  = "tx_timeout"
)

// Defaults.
const (
	DefaultBackend    = BackendSim
	DefaultRPCURL     = "http://127.0.0.1:8545"
	DefaultNodeFlavor = string(chain.FlavorAnvil)
	DefaultDB         = ":memory:"
	DefaultTxTimeout  = 30 * time.Second
)

// Config holds the runtime settings.
type Config struct {
	Backend    string        `mapstructure:"backend"`
	RPCURL     string        `mapstructure:"rpc_url"`
	NodeFlavor string        `mapstructure:"node_flavor"`
	DB         string        `mapstructure:"db"`
	Tolerance  string        `mapstructure:"tolerance"`
	TxTimeout  time.Duration `mapstructure:"tx_timeout"`

	// File is the config file that was read, empty if none.
	File string `mapstructure:"-"`
}

// flagKeys maps flag names to setting keys.
var flagKeys = map[string]string{
	"backend":     KeyBackend,
	"rpc-url":     KeyRPCURL,
	"node-flavor": KeyNodeFlavor,
	"db":          KeyDB,
	"tolerance":   KeyTolerance,
	"tx-timeout":  KeyTxTimeout,
}

// RegisterFlags adds the setting flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("backend", DefaultBackend, "chain backend (sim|rpc)")
	fs.String("rpc-url", DefaultRPCURL, "JSON-RPC endpoint of the development node")
	fs.String("node-flavor", DefaultNodeFlavor, "development node flavor (anvil|hardhat)")
	fs.String("db", DefaultDB, "run log database path")
	fs.String("tolerance", "", "relative tolerance for approx checks, overriding the fixture")
	fs.Duration("tx-timeout", DefaultTxTimeout, "how long to wait for a transaction receipt")
}

// Load reads settings. path names a config file that must exist; when
// empty, vaultharness.yaml in the working directory is read if present.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyBackend, DefaultBackend)
	v.SetDefault(KeyRPCURL, DefaultRPCURL)
	v.SetDefault(KeyNodeFlavor, DefaultNodeFlavor)
	v.SetDefault(KeyDB, DefaultDB)
	v.SetDefault(KeyTolerance, "")
	v.SetDefault(KeyTxTimeout, DefaultTxTimeout)
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSim:
	case BackendRPC:
		if c.RPCURL == "" {
			return fmt.Errorf("%s is required for the rpc backend", KeyRPCURL)
		}
	default:
		return fmt.Errorf("invalid %s %q: must be %s or %s", KeyBackend, c.Backend, BackendSim, BackendRPC)
	}
	if _, err := chain.ParseNodeFlavor(c.NodeFlavor); err != nil {
		return err
	}
	if c.DB == "" {
		return fmt.Errorf("%s is required", KeyDB)
	}
	if _, err := c.ParsedTolerance(); err != nil {
		return err
	}
	if c.TxTimeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyTxTimeout, c.TxTimeout)
	}
	return nil
}

// ParsedTolerance returns the tolerance override, or nil when none is set
// and the fixture's applies.
func (c *Config) ParsedTolerance() (*math.LegacyDec, error) {
	if c.Tolerance == "" {
		return nil, nil
	}
	tol, err := oracle.ParseTolerance(c.Tolerance)
	if err != nil {
		return nil, err
	}
	return &tol, nil
}
