package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"fairmarket/crypto"

	"github.com/BurntSushi/toml"
)

const defaultTimeoutSeconds int64 = 5 * 60

// Config carries the node configuration loaded from TOML.
type Config struct {
	RPCAddress         string            `toml:"RPCAddress"`
	DataDir            string            `toml:"DataDir"`
	NetworkName        string            `toml:"NetworkName"`
	SellerKeystorePath string            `toml:"SellerKeystorePath"`
	TimeoutSeconds     int64             `toml:"TimeoutSeconds"`
	LogFile            string            `toml:"LogFile"`
	Alloc              map[string]string `toml:"Alloc"`
}

// Load loads the configuration from the given path, creating a default file
// (and a seller keystore) when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot safely run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if cfg.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: TimeoutSeconds must be positive")
	}
	if _, err := ParseAlloc(cfg.Alloc); err != nil {
		return err
	}
	return nil
}

// ParseAlloc converts the configured genesis balances (bech32 address →
// decimal amount in native units) into engine-ready form.
func ParseAlloc(alloc map[string]string) (map[[20]byte]*big.Int, error) {
	parsed := make(map[[20]byte]*big.Int, len(alloc))
	for addrStr, amountStr := range alloc {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(addrStr))
		if err != nil {
			return nil, fmt.Errorf("config: invalid alloc address %q: %w", addrStr, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(amountStr), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("config: invalid alloc amount %q for %s", amountStr, addrStr)
		}
		parsed[addr.Raw()] = amount
	}
	return parsed, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "fairmarket-local"
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}
	if cfg.Alloc == nil {
		cfg.Alloc = map[string]string{}
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.SellerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.SellerKeystorePath != keystorePath {
		cfg.SellerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:         "127.0.0.1:8645",
		DataDir:            "./marketdata",
		NetworkName:        "fairmarket-local",
		SellerKeystorePath: defaultKeystorePath(path),
		TimeoutSeconds:     defaultTimeoutSeconds,
		Alloc:              map[string]string{},
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveToKeystore(cfg.SellerKeystorePath, key, ""); err != nil {
		return nil, err
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "seller.keystore")
}
