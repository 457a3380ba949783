package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-wallet/config"
	"github.com/Klingon-tech/klingnet-wallet/internal/backend"
	"github.com/Klingon-tech/klingnet-wallet/internal/backend/bitcoind"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/spend"
	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
)

// app holds what commands share: the parsed config and the resources opened
// on demand while a command runs.
type app struct {
	cfg *config.Config
	out io.Writer

	// readPassword prompts for hidden input.
	readPassword func(prompt string) ([]byte, error)

	params *chaincfg.Params
	kctx   *wallet.KeyContext

	db      *storage.BadgerDB
	client  *bitcoind.Client
	metrics *http.Server
}

func newApp(cfg *config.Config, out io.Writer) *app {
	return &app{cfg: cfg, out: out, readPassword: readPassword}
}

// init validates the final config and sets up logging and metrics.
func (a *app) init() error {
	if err := config.Validate(a.cfg); err != nil {
		return err
	}
	if err := log.Init(a.cfg.Log.Level, a.cfg.Log.JSON, a.cfg.Log.File); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	params, err := a.cfg.Network.Params()
	if err != nil {
		return err
	}
	kctx, err := wallet.NewKeyContext(params)
	if err != nil {
		return err
	}
	a.params, a.kctx = params, kctx

	if a.cfg.Metrics.Listen != "" {
		a.startMetricsServer(a.cfg.Metrics.Listen)
	}
	return nil
}

func (a *app) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	a.metrics = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv := a.metrics
	go func() {
		log.Wallet.Info().Str("addr", addr).Msg("Metrics server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Wallet.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// close releases everything opened by the running command.
func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Storage.Error().Err(err).Msg("Close state db")
		}
		a.db = nil
	}
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metrics.Shutdown(ctx); err != nil {
			log.Wallet.Error().Err(err).Msg("Shutdown metrics server")
		}
		a.metrics = nil
	}
	if err := log.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}

// context returns a context cancelled by SIGINT/SIGTERM or after the
// configured request timeout.
func (a *app) context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func (a *app) node() (*bitcoind.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := bitcoind.New(bitcoind.Config{
		Host:    a.cfg.Node.Host,
		User:    a.cfg.Node.User,
		Pass:    a.cfg.Node.Pass,
		Network: string(a.cfg.Network),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to node: %w", err)
	}
	a.client = c
	return c, nil
}

func (a *app) stateDB() (storage.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	if err := os.MkdirAll(a.cfg.StateDir(), 0700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := storage.NewBadger(a.cfg.StateDir())
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) keystore() (*wallet.Keystore, error) {
	ks, err := wallet.NewKeystore(a.cfg.KeystoreDir())
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	return ks, nil
}

// fees returns the configured fee policy.
func (a *app) fees() spend.FeePolicy {
	return spend.FeePolicy{
		Fixed:      a.cfg.Wallet.Fee.Amount,
		RatePerKVB: a.cfg.Wallet.FeeRate.Amount,
	}
}

// loadDescriptors decrypts the configured keystore entry.
func (a *app) loadDescriptors() (*wallet.Descriptors, error) {
	ks, err := a.keystore()
	if err != nil {
		return nil, err
	}
	name := a.cfg.Wallet.Name
	if _, err := ks.Info(name); err != nil {
		return nil, fmt.Errorf("wallet %q: %w", name, err)
	}
	password, err := a.readPassword(fmt.Sprintf("Password for %s: ", name))
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	defer zero(password)
	return ks.Load(a.kctx, name, password)
}

// openWallet loads the configured wallet against node.
func (a *app) openWallet(node backend.Node, fees spend.FeePolicy) (*wallet.Wallet, error) {
	descs, err := a.loadDescriptors()
	if err != nil {
		return nil, err
	}
	db, err := a.stateDB()
	if err != nil {
		return nil, err
	}
	return wallet.New(wallet.Config{
		KeyContext:  a.kctx,
		Descriptors: descs,
		DB:          db,
		Node:        node,
		Lookahead:   a.cfg.Wallet.Lookahead,
		Fees:        fees,
	})
}

// openNodeWallet connects to the node and opens the configured wallet.
func (a *app) openNodeWallet(fees spend.FeePolicy) (*wallet.Wallet, error) {
	node, err := a.node()
	if err != nil {
		return nil, err
	}
	return a.openWallet(node, fees)
}

// payTo decodes an address of the active network into its output script.
func payTo(addr string, params *chaincfg.Params) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if !decoded.IsForNet(params) {
		return nil, fmt.Errorf("address %q is not for %s", addr, params.Name)
	}
	return txscript.PayToAddrScript(decoded)
}

// ── Password helper ─────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// readNewPassword prompts twice and requires both entries to match.
func (a *app) readNewPassword() ([]byte, error) {
	password, err := a.readPassword("Enter password: ")
	if err != nil {
		return nil, err
	}
	confirm, err := a.readPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer zero(confirm)
	if string(password) != string(confirm) {
		zero(password)
		return nil, errors.New("passwords do not match")
	}
	if len(password) == 0 {
		return nil, errors.New("empty password")
	}
	return password, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
