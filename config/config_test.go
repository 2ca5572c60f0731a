package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const validConfig = `
RPCAddress = ":9090"
GovernanceAuthority = "peg1qypqxpq9qcrsszg2pvxq6rs0zqg3yyc55a3w56"

[log]
File = ""

[peg]
Symbol = "PGD"
Decimals = 18
FeedRef = "PGD/USD"

[[feed]]
Ref = "PGD/USD"
Price = "121560000"
Precision = 8

[[feed]]
Ref = "ATOM/USD"
URL = "http://localhost:9000/atom"

[[vault]]
AssetID = "ATOM"
CollateralDecimals = 18
FeedRef = "ATOM/USD"
FeedPrecision = 8
LiquidationThresholdPct = 80
LiquidationSpreadPct = 10
CloseFactorPct = 50
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.RPCAddress)
	require.Equal(t, "local", cfg.Env)
	require.Equal(t, "PGD", cfg.Peg.Symbol)
	require.Len(t, cfg.Vaults, 1)
	require.Len(t, cfg.Feeds, 2)

	authority, err := cfg.Authority()
	require.NoError(t, err)
	require.False(t, authority.IsZero())

	vaultCfg := cfg.Vaults[0].VaultConfig()
	require.NoError(t, vaultCfg.Validate())
	require.Equal(t, "ATOM", vaultCfg.CollateralAssetID)
	require.Equal(t, uint64(80), vaultCfg.Params.LiquidationThreshold)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[peg]\nFeedRef = \"PGD/USD\"\n"))
	require.NoError(t, err)
	require.Equal(t, ":8547", cfg.RPCAddress)
	require.Equal(t, "PGD", cfg.Peg.Symbol)
	require.Equal(t, uint8(18), cfg.Peg.Decimals)
	require.Equal(t, 100, cfg.Log.MaxSizeMB)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, "PGD/USD", cfg.Peg.FeedRef)

	// The generated file loads back cleanly.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Peg.FeedRef, again.Peg.FeedRef)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"missing peg feed", "RPCAddress = \":1\"\n"},
		{"bad authority", "GovernanceAuthority = \"not-bech32\"\n[peg]\nFeedRef = \"PGD/USD\"\n"},
		{"duplicate feed", `
[peg]
FeedRef = "PGD/USD"
[[feed]]
Ref = "PGD/USD"
Price = "1"
[[feed]]
Ref = "PGD/USD"
Price = "2"
`},
		{"feed without source", `
[peg]
FeedRef = "PGD/USD"
[[feed]]
Ref = "PGD/USD"
`},
		{"duplicate vault", `
[peg]
FeedRef = "PGD/USD"
[[vault]]
AssetID = "ATOM"
FeedRef = "ATOM/USD"
LiquidationThresholdPct = 80
LiquidationSpreadPct = 10
CloseFactorPct = 50
[[vault]]
AssetID = "ATOM"
FeedRef = "ATOM/USD"
LiquidationThresholdPct = 80
LiquidationSpreadPct = 10
CloseFactorPct = 50
`},
		{"vault percentage out of range", `
[peg]
FeedRef = "PGD/USD"
[[vault]]
AssetID = "ATOM"
FeedRef = "ATOM/USD"
LiquidationThresholdPct = 101
LiquidationSpreadPct = 10
CloseFactorPct = 50
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.contents))
			require.Error(t, err)
		})
	}
}
