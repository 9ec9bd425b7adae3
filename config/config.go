package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"deedmarket/crypto"

	"github.com/BurntSushi/toml"
)

// GenesisAllocation seeds an account balance when the node starts with a
// fresh data directory.
type GenesisAllocation struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

type Config struct {
	RPCAddress         string              `toml:"RPCAddress"`
	DataDir            string              `toml:"DataDir"`
	Environment        string              `toml:"Environment"`
	LogLevel           string              `toml:"LogLevel"`
	AdminAddress       string              `toml:"AdminAddress"`
	VerifierAddress    string              `toml:"VerifierAddress"`
	VaultAddress       string              `toml:"VaultAddress"`
	AllowAdminComplete bool                `toml:"AllowAdminComplete"`
	PlatformFeeBps     uint64              `toml:"PlatformFeeBps"`
	RPCAuthToken       string              `toml:"RPCAuthToken"`
	RPCRateLimit       float64             `toml:"RPCRateLimit"`
	RPCRateBurst       int                 `toml:"RPCRateBurst"`
	AuditDBPath        string              `toml:"AuditDBPath"`
	GenesisAlloc       []GenesisAllocation `toml:"GenesisAlloc"`
}

// Load reads the configuration from path, creating a default file with
// freshly generated operator keys when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./deedmarket-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if c.RPCRateLimit <= 0 {
		c.RPCRateLimit = 50
	}
	if c.RPCRateBurst <= 0 {
		c.RPCRateBurst = 100
	}
	if c.GenesisAlloc == nil {
		c.GenesisAlloc = []GenesisAllocation{}
	}
}

// Validate checks address encodings, fee bounds and genesis amounts.
func (c *Config) Validate() error {
	if c.PlatformFeeBps > 1000 {
		return fmt.Errorf("config: PlatformFeeBps %d exceeds maximum 1000", c.PlatformFeeBps)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown LogLevel %q", c.LogLevel)
	}
	for name, addr := range map[string]string{
		"AdminAddress":    c.AdminAddress,
		"VerifierAddress": c.VerifierAddress,
		"VaultAddress":    c.VaultAddress,
	} {
		if strings.TrimSpace(addr) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return fmt.Errorf("config: invalid %s %q: %w", name, addr, err)
		}
	}
	for i, alloc := range c.GenesisAlloc {
		if _, err := crypto.DecodeAddress(alloc.Address); err != nil {
			return fmt.Errorf("config: invalid GenesisAlloc[%d].Address %q: %w", i, alloc.Address, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("config: invalid GenesisAlloc[%d].Amount %q: must be a positive decimal integer", i, alloc.Amount)
		}
	}
	return nil
}

// DecodedAlloc returns the genesis allocations as raw addresses and amounts.
// Validate must have passed before calling it.
func (c *Config) DecodedAlloc() ([][20]byte, []*big.Int, error) {
	addrs := make([][20]byte, 0, len(c.GenesisAlloc))
	amounts := make([]*big.Int, 0, len(c.GenesisAlloc))
	for i, alloc := range c.GenesisAlloc {
		addr, err := crypto.DecodeAddress(alloc.Address)
		if err != nil {
			return nil, nil, fmt.Errorf("config: GenesisAlloc[%d]: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10)
		if !ok {
			return nil, nil, fmt.Errorf("config: GenesisAlloc[%d]: malformed amount %q", i, alloc.Amount)
		}
		addrs = append(addrs, addr.Raw())
		amounts = append(amounts, amount)
	}
	return addrs, amounts, nil
}

// createDefault generates operator keys and writes a starter config file.
func createDefault(path string) (*Config, error) {
	adminKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	verifierKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	vaultKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:      ":8545",
		DataDir:         "./deedmarket-data",
		Environment:     "local",
		LogLevel:        "info",
		AdminAddress:    adminKey.PubKey().Address().String(),
		VerifierAddress: verifierKey.PubKey().Address().String(),
		VaultAddress:    vaultKey.PubKey().Address().String(),
		PlatformFeeBps:  250,
		RPCRateLimit:    50,
		RPCRateBurst:    100,
		GenesisAlloc:    []GenesisAllocation{},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
