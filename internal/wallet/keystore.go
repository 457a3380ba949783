package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
)

// ErrWalletExists is returned by Keystore.Save for an existing name.
var ErrWalletExists = errors.New("wallet already exists")

// ErrWalletNotFound is returned when no keystore file has the given name.
var ErrWalletNotFound = errors.New("wallet not found")

var walletNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// keystoreFile is the on-disk JSON format for an encrypted descriptor pair.
// Only public metadata is stored in the clear.
type keystoreFile struct {
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Network     string    `json:"network"`
	Namespace   string    `json:"namespace"`
	Fingerprint string    `json:"fingerprint"`
	Sealed      []byte    `json:"sealed_descriptors"`
}

type sealedDescriptors struct {
	Receive string `json:"receive"`
	Change  string `json:"change"`
}

// WalletInfo is the public metadata of a stored wallet.
type WalletInfo struct {
	Name        string
	CreatedAt   time.Time
	Network     string
	Namespace   string
	Fingerprint string
}

// Keystore manages encrypted descriptor files on disk. The mnemonic is never
// written; descriptors are enough to sign and resume.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore that reads/writes to the given directory.
// The directory is created if it doesn't exist.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

// walletPath returns the file path for a wallet by name.
func (ks *Keystore) walletPath(name string) (string, error) {
	if !walletNameRe.MatchString(name) {
		return "", fmt.Errorf("invalid wallet name %q", name)
	}
	return filepath.Join(ks.path, name+".wallet"), nil
}

// Save encrypts descs under password and writes them as name.
func (ks *Keystore) Save(kctx *KeyContext, name string, descs *Descriptors, password []byte, params EncryptionParams) error {
	path, err := ks.walletPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %q", ErrWalletExists, name)
	}

	ns, err := NamespaceID(descs, kctx.Params)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(sealedDescriptors{
		Receive: descs.Receive.String(),
		Change:  descs.Change.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal descriptors: %w", err)
	}
	defer zero(plain)

	sealed, err := Encrypt(plain, password, params)
	if err != nil {
		return fmt.Errorf("encrypt descriptors: %w", err)
	}

	kf := keystoreFile{
		Version:     1,
		CreatedAt:   time.Now().UTC(),
		Network:     kctx.Params.Name,
		Namespace:   ns,
		Fingerprint: descs.Receive.Key.Origin.Fingerprint.String(),
		Sealed:      sealed,
	}
	if err := ks.writeFile(path, &kf); err != nil {
		return err
	}
	log.Keys.Info().Str("name", name).Str("wallet", ns).Msg("Wallet saved to keystore")
	return nil
}

// Load decrypts the named wallet and returns its descriptors.
func (ks *Keystore) Load(kctx *KeyContext, name string, password []byte) (*Descriptors, error) {
	kf, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	if kf.Network != kctx.Params.Name {
		return nil, fmt.Errorf("%w: wallet %q is for %s, not %s", ErrNetworkMismatch, name, kf.Network, kctx.Params.Name)
	}

	plain, err := Decrypt(kf.Sealed, password)
	if err != nil {
		log.Keys.Warn().Str("name", name).Msg("Keystore decryption failed")
		return nil, fmt.Errorf("decrypt wallet %q: %w", name, err)
	}
	defer zero(plain)

	var sd sealedDescriptors
	if err := json.Unmarshal(plain, &sd); err != nil {
		return nil, fmt.Errorf("parse wallet %q: %w", name, err)
	}
	descs, err := ParseDescriptors(kctx, sd.Receive, sd.Change)
	if err != nil {
		return nil, fmt.Errorf("wallet %q: %w", name, err)
	}

	ns, err := NamespaceID(descs, kctx.Params)
	if err != nil {
		return nil, err
	}
	if ns != kf.Namespace {
		return nil, fmt.Errorf("wallet %q: namespace mismatch (file says %s, descriptors give %s)", name, kf.Namespace, ns)
	}
	return descs, nil
}

// Info returns the public metadata of a wallet without decrypting it.
func (ks *Keystore) Info(name string) (*WalletInfo, error) {
	kf, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	return &WalletInfo{
		Name:        name,
		CreatedAt:   kf.CreatedAt,
		Network:     kf.Network,
		Namespace:   kf.Namespace,
		Fingerprint: kf.Fingerprint,
	}, nil
}

// List returns the names of all wallet files in the keystore.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".wallet" {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}

// Delete removes a wallet file.
func (ks *Keystore) Delete(name string) error {
	path, err := ks.walletPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %q", ErrWalletNotFound, name)
	}
	return os.Remove(path)
}

func (ks *Keystore) read(name string) (*keystoreFile, error) {
	path, err := ks.walletPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %q", ErrWalletNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported wallet version: %d", kf.Version)
	}
	return &kf, nil
}

func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}
