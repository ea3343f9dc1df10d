// Package config loads x1-counter configuration from defaults, an optional
// config file and X1_COUNTER_* environment variables.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fortiblox/x1-counter/internal/types"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "X1_COUNTER"

// ErrConfigInvalid is returned when configuration fails validation.
var ErrConfigInvalid = errors.New("invalid configuration")

// Config is the configuration shared by the binaries.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// DataDir holds the accounts database and the transaction log.
	DataDir string `mapstructure:"data_dir"`

	// SnapshotPath is loaded into an empty accounts database on startup.
	SnapshotPath string `mapstructure:"snapshot_path"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `mapstructure:"sync_writes"`

	ListenAddress     string `mapstructure:"listen_address"`
	GRPCListenAddress string `mapstructure:"grpc_listen_address"`
	EnableRPC         bool   `mapstructure:"enable_rpc"`
	EnableGRPC        bool   `mapstructure:"enable_grpc"`
	EnableAirdrop     bool   `mapstructure:"enable_airdrop"`

	// RPCURL is the endpoint client commands talk to when set. Client
	// commands open DataDir directly otherwise.
	RPCURL string `mapstructure:"rpc_url"`

	RPCTimeout time.Duration `mapstructure:"rpc_timeout"`

	ProgramID string `mapstructure:"program_id"`

	LamportsPerByteYear  uint64  `mapstructure:"lamports_per_byte_year"`
	ExemptionThreshold   float64 `mapstructure:"exemption_threshold"`
	LamportsPerSignature uint64  `mapstructure:"lamports_per_signature"`
	ComputeUnitLimit     uint64  `mapstructure:"compute_unit_limit"`
	BlockhashWindow      int     `mapstructure:"blockhash_window"`
}

var defaultConfig = Config{
	LogLevel: "info",

	DataDir: "./data",

	ListenAddress:     "127.0.0.1:8899",
	GRPCListenAddress: "127.0.0.1:8900",
	EnableRPC:         true,
	EnableGRPC:        true,
	EnableAirdrop:     true,

	RPCTimeout: 30 * time.Second,

	ProgramID: types.CounterProgramAddr.String(),

	LamportsPerByteYear:  types.DefaultRent().LamportsPerByteYear,
	ExemptionThreshold:   types.DefaultRent().ExemptionThreshold,
	LamportsPerSignature: 5000,
	BlockhashWindow:      150,
}

// Default returns the default configuration.
func Default() Config {
	return defaultConfig
}

var keys = []string{
	"log_level",
	"data_dir",
	"snapshot_path",
	"sync_writes",
	"listen_address",
	"grpc_listen_address",
	"enable_rpc",
	"enable_grpc",
	"enable_airdrop",
	"rpc_url",
	"rpc_timeout",
	"program_id",
	"lamports_per_byte_year",
	"exemption_threshold",
	"lamports_per_signature",
	"compute_unit_limit",
	"blockhash_window",
}

// NewViper returns a viper instance with defaults set and every key bound
// to its X1_COUNTER_* environment variable.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
	return v
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("snapshot_path", d.SnapshotPath)
	v.SetDefault("sync_writes", d.SyncWrites)
	v.SetDefault("listen_address", d.ListenAddress)
	v.SetDefault("grpc_listen_address", d.GRPCListenAddress)
	v.SetDefault("enable_rpc", d.EnableRPC)
	v.SetDefault("enable_grpc", d.EnableGRPC)
	v.SetDefault("enable_airdrop", d.EnableAirdrop)
	v.SetDefault("rpc_url", d.RPCURL)
	v.SetDefault("rpc_timeout", d.RPCTimeout)
	v.SetDefault("program_id", d.ProgramID)
	v.SetDefault("lamports_per_byte_year", d.LamportsPerByteYear)
	v.SetDefault("exemption_threshold", d.ExemptionThreshold)
	v.SetDefault("lamports_per_signature", d.LamportsPerSignature)
	v.SetDefault("compute_unit_limit", d.ComputeUnitLimit)
	v.SetDefault("blockhash_window", d.BlockhashWindow)
}

// Load reads configPath (if non-empty) into v and decodes the result.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", configPath)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.Wrap(ErrConfigInvalid, "data_dir is required")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(ErrConfigInvalid, "log_level: %v", err)
	}
	if _, err := c.Program(); err != nil {
		return errors.Wrapf(ErrConfigInvalid, "program_id: %v", err)
	}
	if c.ExemptionThreshold < 0 {
		return errors.Wrap(ErrConfigInvalid, "exemption_threshold must not be negative")
	}
	if c.BlockhashWindow <= 0 {
		return errors.Wrap(ErrConfigInvalid, "blockhash_window must be positive")
	}
	if c.EnableRPC && c.ListenAddress == "" {
		return errors.Wrap(ErrConfigInvalid, "listen_address is required when enable_rpc is set")
	}
	if c.EnableGRPC && c.GRPCListenAddress == "" {
		return errors.Wrap(ErrConfigInvalid, "grpc_listen_address is required when enable_grpc is set")
	}
	return nil
}

// Program returns the configured counter program id.
func (c *Config) Program() (types.Pubkey, error) {
	return types.PubkeyFromBase58(c.ProgramID)
}

// Rent returns the configured rent parameters.
func (c *Config) Rent() types.Rent {
	return types.Rent{
		LamportsPerByteYear: c.LamportsPerByteYear,
		ExemptionThreshold:  c.ExemptionThreshold,
		BurnPercent:         types.DefaultBurnPercent,
	}
}

// NewLogger builds a console logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(ErrConfigInvalid, err.Error())
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = level
	zc.DisableStacktrace = true
	return zc.Build()
}
