// Package config handles klingwallet configuration.
//
// Values are resolved in three layers: network defaults, the ini config file
// in the data directory, then command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkType identifies the Bitcoin network.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Regtest NetworkType = "regtest"
	Signet  NetworkType = "signet"
)

// Params returns the chain parameters of the network.
func (n NetworkType) Params() (*chaincfg.Params, error) {
	switch n {
	case Mainnet:
		return &chaincfg.MainNetParams, nil
	case Testnet:
		return &chaincfg.TestNet3Params, nil
	case Regtest:
		return &chaincfg.RegressionNetParams, nil
	case Signet:
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", string(n))
	}
}

// ConfigFilename is the name of the config file inside the data directory.
const ConfigFilename = "klingwallet.conf"

// Config holds the global options shared by every command.
type Config struct {
	ConfigFile string        `short:"C" long:"configfile" description:"Path to the config file" no-ini:"true"`
	Network    NetworkType   `long:"network" description:"Bitcoin network" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"signet"`
	DataDir    string        `long:"datadir" description:"Directory for wallet state and the keystore"`
	Timeout    time.Duration `long:"timeout" description:"Deadline for each node request"`

	Node    NodeConfig    `group:"Node" namespace:"node"`
	Wallet  WalletConfig  `group:"Wallet" namespace:"wallet"`
	Log     LogConfig     `group:"Logging" namespace:"log"`
	Metrics MetricsConfig `group:"Metrics" namespace:"metrics"`
}

// NodeConfig holds the bitcoind RPC connection.
type NodeConfig struct {
	Host string `long:"host" description:"bitcoind RPC host:port"`
	User string `long:"user" description:"bitcoind RPC username"`
	Pass string `long:"pass" default-mask:"-" description:"bitcoind RPC password"`
}

// WalletConfig holds wallet settings.
type WalletConfig struct {
	Name      string     `long:"name" description:"Keystore entry to open"`
	Lookahead uint32     `long:"lookahead" description:"Unused addresses scanned past the last used one"`
	Fee       AmountFlag `long:"fee" description:"Fixed fee in BTC"`
	FeeRate   AmountFlag `long:"feerate" description:"Fee rate in BTC/kvB, used when no fixed fee is set"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `long:"level" description:"Log level (trace, debug, info, warn, error)"`
	File  string `long:"file" description:"Log file path"`
	JSON  bool   `long:"json" description:"Output logs as JSON"`
}

// MetricsConfig holds the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `long:"listen" description:"Serve Prometheus metrics on this address"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingwallet
//	macOS:   ~/Library/Application Support/Klingwallet
//	Windows: %APPDATA%\Klingwallet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingwallet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingwallet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingwallet")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingwallet")
	default:
		return filepath.Join(home, ".klingwallet")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// StateDir returns the wallet state database directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.ChainDataDir(), "state")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.ChainDataDir(), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// DefaultConfigFile returns the config file path inside the data directory.
func (c *Config) DefaultConfigFile() string {
	return filepath.Join(c.DataDir, ConfigFilename)
}
