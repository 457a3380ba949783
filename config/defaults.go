package config

import "time"

// DefaultTimeout bounds each node request.
const DefaultTimeout = 30 * time.Second

// DefaultLookahead matches the BIP-44 gap limit.
const DefaultLookahead = 20

// rpcPorts are bitcoind's default RPC ports.
var rpcPorts = map[NetworkType]string{
	Mainnet: "8332",
	Testnet: "18332",
	Regtest: "18443",
	Signet:  "38332",
}

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Timeout: DefaultTimeout,
		Node: NodeConfig{
			Host: "127.0.0.1:" + rpcPorts[Mainnet],
		},
		Wallet: WalletConfig{
			Name:      "default",
			Lookahead: DefaultLookahead,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	cfg := DefaultMainnet()
	if port, ok := rpcPorts[network]; ok {
		cfg.Network = network
		cfg.Node.Host = "127.0.0.1:" + port
	}
	return cfg
}
