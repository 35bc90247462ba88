// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2017-2023 The Spacemesh developers

package server

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap/zapcore"

	"github.com/qanchornet/qanchor/logging"
	"github.com/qanchornet/qanchor/registry"
	"github.com/qanchornet/qanchor/shared"
	"github.com/qanchornet/qanchor/spoke"
	"github.com/qanchornet/qanchor/voucher"
)

const (
	defaultDbDirName      = "db"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
)

// Config defines the configuration options for the qanchor daemon.
//
// See loadConfig for further details regarding the
// configuration loading+parsing process.
type Config struct {
	QanchorDir     string  `long:"qanchordir"     description:"The base directory that contains qanchor's data, logs, configuration file, etc."`
	ConfigFile     string  `long:"configfile"     description:"Path to configuration file"                                                      short:"c"`
	DataDir        string  `long:"datadir"        description:"The directory to store qanchor's data within."                                   short:"b"`
	DbDir          string  `long:"dbdir"          description:"The directory to store DBs within"`
	LogDir         string  `long:"logdir"         description:"Directory to log output."`
	DebugLog       bool    `long:"debuglog"       description:"Enable debug logs"`
	JSONLog        bool    `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles    int     `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int     `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	MetricsPort    *uint16 `long:"metrics-port"   description:"The port to expose metrics"`

	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	Profile    string `long:"profile"    description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Genesis  *GenesisConfig  `group:"Genesis"`
	Registry registry.Config `group:"Registry"`
	Hub      voucher.Config  `group:"Hub"`
	Spoke    spoke.Config    `group:"Spoke"`
}

// GenesisConfig pins the deployment-time identities of the protocol units.
// Once unit state exists on disk these values are recorded there and later
// changes here are ignored, except for timelocked rotations.
type GenesisConfig struct {
	Owner           shared.HexAddress   `long:"owner"            description:"Owner address holding the governance role on every unit"`
	RegistryAccount shared.HexAddress   `long:"registry-account" description:"The registry's own ledger account; fees and credit deposits settle through it"`
	HubAccount      shared.HexAddress   `long:"hub-account"      description:"The hub's announced unit address"`
	Treasury        shared.HexAddress   `long:"treasury"         description:"Treasury wallet receiving the configured share of verification fees"`
	Burn            shared.HexAddress   `long:"burn"             description:"Burn wallet; when zero the burn share routes to the conventional dead address"`
	Collector       shared.HexAddress   `long:"collector"        description:"Fee collector recorded on the registry and hub"`
	Relayers        []shared.HexAddress `long:"relayer"          description:"Authorized relayer address (repeatable)"`
	Chains          []shared.ChainID    `long:"chain"            description:"Chain id served by a local voucher spoke (repeatable)"`
}

func (c *GenesisConfig) relayerAddresses() []shared.Address {
	addrs := make([]shared.Address, len(c.Relayers))
	for i, relayer := range c.Relayers {
		addrs[i] = relayer.Address()
	}
	return addrs
}

// implement zap.ObjectMarshaler interface.
func (c GenesisConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("owner", c.Owner.String())
	enc.AddString("registry-account", c.RegistryAccount.String())
	enc.AddString("hub-account", c.HubAccount.String())
	enc.AddInt("relayers", len(c.Relayers))
	enc.AddInt("chains", len(c.Chains))

	return nil
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	qanchorDir := "./qanchor"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		qanchorDir = filepath.Join(cacheDir, "qanchor")
	}

	return &Config{
		QanchorDir:     qanchorDir,
		DataDir:        filepath.Join(qanchorDir, defaultDataDirname),
		DbDir:          filepath.Join(qanchorDir, defaultDbDirName),
		LogDir:         filepath.Join(qanchorDir, defaultLogDirname),
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		Genesis:        &GenesisConfig{},
		Registry:       registry.DefaultConfig(),
		Hub:            voucher.DefaultConfig(),
		Spoke:          spoke.DefaultConfig(),
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// If the provided qanchor directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	defaultCfg := DefaultConfig()
	if cfg.QanchorDir != defaultCfg.QanchorDir {
		if cfg.DataDir == defaultCfg.DataDir {
			cfg.DataDir = filepath.Join(cfg.QanchorDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.QanchorDir, defaultLogDirname)
		}
		if cfg.DbDir == defaultCfg.DbDir {
			cfg.DbDir = filepath.Join(cfg.QanchorDir, defaultDbDirName)
		}
	}

	// Create the qanchor directory if it doesn't already exist.
	if err := os.MkdirAll(cfg.QanchorDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", cfg.QanchorDir, err)
	}

	// As soon as we're done parsing configuration options, ensure all paths
	// to directories and files are cleaned and expanded before attempting
	// to use them later on.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DbDir = cleanAndExpandPath(cfg.DbDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	return cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
