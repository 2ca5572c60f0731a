package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"pegvault/crypto"
	"pegvault/native/vault"
)

// Config captures the daemon's runtime configuration.
type Config struct {
	RPCAddress          string      `toml:"RPCAddress"`
	DataDir             string      `toml:"DataDir"`
	Env                 string      `toml:"Env"`
	GovernanceAuthority string      `toml:"GovernanceAuthority"`
	Log                 LogConfig   `toml:"log"`
	Peg                 PegConfig   `toml:"peg"`
	Vaults              []VaultDecl `toml:"vault"`
	Feeds               []FeedDecl  `toml:"feed"`
}

// LogConfig controls the structured log sink.
type LogConfig struct {
	File      string `toml:"File"`
	MaxSizeMB int    `toml:"MaxSizeMB"`
}

// PegConfig describes the peg currency and its reference feed.
type PegConfig struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	FeedRef  string `toml:"FeedRef"`
}

// VaultDecl declares one collateral vault to deploy (or reopen) at startup.
type VaultDecl struct {
	AssetID                 string `toml:"AssetID"`
	CollateralDecimals      uint8  `toml:"CollateralDecimals"`
	FeedRef                 string `toml:"FeedRef"`
	FeedPrecision           uint8  `toml:"FeedPrecision"`
	LiquidationThresholdPct uint64 `toml:"LiquidationThresholdPct"`
	LiquidationSpreadPct    uint64 `toml:"LiquidationSpreadPct"`
	CloseFactorPct          uint64 `toml:"CloseFactorPct"`
}

// FeedDecl declares a price feed source. A feed is either served from a JSON
// endpoint (URL set) or pinned to a static price posted by the operator.
type FeedDecl struct {
	Ref       string `toml:"Ref"`
	URL       string `toml:"URL"`
	Price     string `toml:"Price"`
	Precision uint8  `toml:"Precision"`
}

// VaultConfig converts the declaration into the engine's config type.
func (d VaultDecl) VaultConfig() vault.Config {
	return vault.Config{
		CollateralAssetID:   strings.TrimSpace(d.AssetID),
		CollateralPrecision: d.CollateralDecimals,
		Params: vault.Params{
			LiquidationThreshold: d.LiquidationThresholdPct,
			LiquidationSpread:    d.LiquidationSpreadPct,
			CloseFactor:          d.CloseFactorPct,
			PriceFeedRef:         strings.TrimSpace(d.FeedRef),
			PriceFeedPrecision:   d.FeedPrecision,
		},
	}
}

// Authority decodes the configured governance authority address.
func (c *Config) Authority() (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(c.GovernanceAuthority))
}

// Load loads the configuration from the given path, writing a commented
// default file when none exists yet.
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
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8547"
	}
	if strings.TrimSpace(c.Env) == "" {
		c.Env = "local"
	}
	if strings.TrimSpace(c.Peg.Symbol) == "" {
		c.Peg.Symbol = "PGD"
	}
	if c.Peg.Decimals == 0 {
		c.Peg.Decimals = 18
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GovernanceAuthority) != "" {
		if _, err := c.Authority(); err != nil {
			return fmt.Errorf("invalid GovernanceAuthority: %w", err)
		}
	}
	if strings.TrimSpace(c.Peg.FeedRef) == "" {
		return fmt.Errorf("peg.FeedRef must be set")
	}
	feeds := make(map[string]struct{}, len(c.Feeds))
	for i, feed := range c.Feeds {
		ref := strings.TrimSpace(feed.Ref)
		if ref == "" {
			return fmt.Errorf("feed %d: Ref must be set", i)
		}
		if _, dup := feeds[ref]; dup {
			return fmt.Errorf("feed %q declared twice", ref)
		}
		feeds[ref] = struct{}{}
		if strings.TrimSpace(feed.URL) == "" && strings.TrimSpace(feed.Price) == "" {
			return fmt.Errorf("feed %q: either URL or Price must be set", ref)
		}
	}
	seen := make(map[string]struct{}, len(c.Vaults))
	for i, decl := range c.Vaults {
		id := strings.TrimSpace(decl.AssetID)
		if id == "" {
			return fmt.Errorf("vault %d: AssetID must be set", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("vault %q declared twice", id)
		}
		seen[id] = struct{}{}
		if err := decl.VaultConfig().Validate(); err != nil {
			return fmt.Errorf("vault %q: %w", id, err)
		}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Peg: PegConfig{FeedRef: "PGD/USD"},
	}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
