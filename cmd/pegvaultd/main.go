package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"pegvault/config"
	"pegvault/core/events"
	"pegvault/crypto"
	"pegvault/native/oracle"
	"pegvault/native/registry"
	"pegvault/native/token"
	"pegvault/native/vault"
	"pegvault/observability/logging"
	"pegvault/rpc"
	"pegvault/state"
	"pegvault/storage"
)

// logEmitter forwards engine events into the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	l.logger.Info("event", "type", evt.EventType(), "payload", fmt.Sprintf("%+v", evt))
}

func fatalf(logger *slog.Logger, msg string, args ...any) {
	logger.Error(fmt.Sprintf(msg, args...))
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "./config.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("pegvaultd", cfg.Env, logging.Options{
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})

	var db storage.Database
	if dir := strings.TrimSpace(cfg.DataDir); dir != "" {
		ldb, err := storage.NewLevelDB(filepath.Join(dir, "pegvault"))
		if err != nil {
			fatalf(logger, "open database: %v", err)
		}
		db = ldb
	} else {
		logger.Warn("no DataDir configured; state is held in memory only")
		db = storage.NewMemDB()
	}
	defer db.Close()

	store := state.NewStore(db)

	pegLedger := token.NewLedger(cfg.Peg.Symbol, cfg.Peg.Decimals)
	pegLedger.SetState(store)

	custody := make(map[string]*token.Ledger, len(cfg.Vaults))
	for _, decl := range cfg.Vaults {
		ledger := token.NewLedger(strings.TrimSpace(decl.AssetID), decl.CollateralDecimals)
		ledger.SetState(store)
		custody[ledger.Symbol()] = ledger
	}

	mux := oracle.NewMux()
	static := oracle.NewStaticFeed()
	httpFeed := oracle.NewHTTPFeed(0)
	for _, feed := range cfg.Feeds {
		ref := strings.TrimSpace(feed.Ref)
		if url := strings.TrimSpace(feed.URL); url != "" {
			httpFeed.Register(ref, url)
			mux.Route(ref, httpFeed)
			continue
		}
		price, ok := new(big.Int).SetString(strings.TrimSpace(feed.Price), 10)
		if !ok {
			fatalf(logger, "feed %q: price %q is not a base-10 integer", ref, feed.Price)
		}
		static.Set(ref, price, feed.Precision)
		mux.Route(ref, static)
	}

	valuer := vault.NewValuer(oracle.NewAdapter(mux), cfg.Peg.FeedRef, cfg.Peg.Decimals)
	emitter := logEmitter{logger: logger.With("component", "events")}

	var authority crypto.Address
	if strings.TrimSpace(cfg.GovernanceAuthority) != "" {
		authority, err = cfg.Authority()
		if err != nil {
			fatalf(logger, "decode governance authority: %v", err)
		}
	} else if len(cfg.Vaults) > 0 {
		fatalf(logger, "GovernanceAuthority must be set when vaults are declared")
	}

	wire := func(engine *vault.Engine) {
		engine.SetState(store)
		engine.SetValuer(valuer)
		engine.SetLedger(pegLedger)
		if ledger, ok := custody[engine.AssetID()]; ok {
			engine.SetCustody(ledger)
		}
		engine.SetEmitter(emitter)
	}

	reg := registry.NewRegistry(authority, store, pegLedger, wire)
	reg.SetEmitter(emitter)

	for _, decl := range cfg.Vaults {
		vaultCfg := decl.VaultConfig()
		_, exists, err := reg.Lookup(vaultCfg.CollateralAssetID)
		if err != nil {
			fatalf(logger, "read vault directory: %v", err)
		}
		if exists {
			addr, err := reg.OpenVault(vaultCfg)
			if err != nil {
				fatalf(logger, "reopen vault %q: %v", vaultCfg.CollateralAssetID, err)
			}
			logger.Info("reopened vault", "asset", vaultCfg.CollateralAssetID, "vault", addr.String())
			continue
		}
		addr, err := reg.DeployVault(authority, vaultCfg)
		if err != nil {
			fatalf(logger, "deploy vault %q: %v", vaultCfg.CollateralAssetID, err)
		}
		logger.Info("deployed vault", "asset", vaultCfg.CollateralAssetID, "vault", addr.String())
	}

	server := rpc.NewServer(reg, store, pegLedger, custody, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		fatalf(logger, "rpc server: %v", err)
	}
}
