package config

import (
	"fmt"
	"net"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
)

// Validate checks the configuration for operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := cfg.Network.Params(); err != nil {
		return err
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is required")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if _, _, err := net.SplitHostPort(cfg.Node.Host); err != nil {
		return fmt.Errorf("node.host: %w", err)
	}
	if cfg.Wallet.Name == "" {
		return fmt.Errorf("wallet.name is required")
	}
	if cfg.Wallet.Lookahead == 0 || cfg.Wallet.Lookahead > 1000 {
		return fmt.Errorf("wallet.lookahead must be in range [1, 1000]")
	}
	if cfg.Wallet.Fee.Amount > btcutil.SatoshiPerBitcoin {
		return fmt.Errorf("wallet.fee of %v is above 1 BTC", cfg.Wallet.Fee.Amount)
	}
	if !log.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level %q is not a valid level", cfg.Log.Level)
	}
	if cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
	}
	return nil
}
