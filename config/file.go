package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
)

// Prepare resolves the defaults and the config file for args. It pre-parses
// args for the network, data directory and config file path, ignoring
// everything else, then applies the config file. A missing file is not an
// error. Command-line flags are applied afterwards by the caller's parser so
// they take precedence.
func Prepare(args []string) (*Config, error) {
	var pre Config
	parser := flags.NewParser(&pre, flags.IgnoreUnknown)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	network := pre.Network
	if network == "" {
		network = Mainnet
	}
	cfg := Default(network)
	if pre.DataDir != "" {
		cfg.DataDir = CleanAndExpandPath(pre.DataDir)
	}
	cfg.ConfigFile = cfg.DefaultConfigFile()
	if pre.ConfigFile != "" {
		cfg.ConfigFile = CleanAndExpandPath(pre.ConfigFile)
	}

	if err := LoadFile(cfg.ConfigFile, cfg); err != nil {
		return nil, err
	}
	// The file may not switch networks under a command-line choice, but it
	// may pick one when the command line did not.
	if pre.Network != "" {
		cfg.Network = pre.Network
	}
	if cfg.Network != network {
		file := *cfg
		cfg = Default(cfg.Network)
		cfg.DataDir, cfg.ConfigFile = file.DataDir, file.ConfigFile
		if err := LoadFile(cfg.ConfigFile, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadFile applies the ini config file at path to cfg. A missing file leaves
// cfg untouched.
func LoadFile(path string, cfg *Config) error {
	err := flags.IniParse(path, cfg)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	var iniErr *flags.IniError
	if errors.As(err, &iniErr) {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return err
}

// WriteFile writes cfg as an ini config file to path, creating its
// directory.
func WriteFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	parser := flags.NewParser(cfg, flags.None)
	return flags.NewIniParser(parser).WriteFile(path, flags.IniIncludeDefaults|flags.IniIncludeComments)
}

// CleanAndExpandPath expands a leading ~ and environment variables and
// cleans the result.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
