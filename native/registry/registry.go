package registry

import (
	"errors"
	"sort"
	"sync"

	"pegvault/core/events"
	"pegvault/crypto"
	nativecommon "pegvault/native/common"
	"pegvault/native/vault"
)

var (
	// ErrDuplicateCollateral rejects a second deployment for an asset that
	// already has a vault. Directory entries are create-only.
	ErrDuplicateCollateral = errors.New("vault registry: collateral asset already has a vault")
	// ErrUnauthorized rejects deployment attempts from anyone but the
	// governance authority.
	ErrUnauthorized = errors.New("vault registry: caller is not the governance authority")
	// ErrNilDirectory is returned when the registry runs before its
	// persistence layer is wired.
	ErrNilDirectory = errors.New("vault registry: directory not configured")
	// ErrVaultNotFound is returned by Engine for assets without a vault.
	ErrVaultNotFound = errors.New("vault registry: no vault for collateral asset")
)

const moduleName = "registry"

// DirectoryEntry is one persisted asset → vault mapping.
type DirectoryEntry struct {
	AssetID string
	Vault   crypto.Address
}

// Directory is the registry's durable state: the collateral-asset → vault
// mapping, create-only for the registry's lifetime.
type Directory interface {
	GetVault(assetID string) (crypto.Address, bool, error)
	PutVault(assetID string, addr crypto.Address) error
	ListVaults() ([]DirectoryEntry, error)
}

// MinterAdmin grants mint/burn capability on the peg-currency ledger. The
// grant happens once per vault at deployment and is never revoked.
type MinterAdmin interface {
	GrantMinter(addr crypto.Address) error
}

// Registry gatekeeps vault creation behind the governance authority and keeps
// the live engine per collateral asset.
type Registry struct {
	authority crypto.Address
	directory Directory
	minter    MinterAdmin
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	wire      func(engine *vault.Engine)

	mu      sync.RWMutex
	engines map[string]*vault.Engine
}

// NewRegistry constructs a registry owned by the governance authority. The
// wire callback attaches shared dependencies (state, valuer, ledger, custody,
// emitter) to each newly created engine.
func NewRegistry(authority crypto.Address, directory Directory, minter MinterAdmin, wire func(*vault.Engine)) *Registry {
	return &Registry{
		authority: authority,
		directory: directory,
		minter:    minter,
		emitter:   events.NoopEmitter{},
		wire:      wire,
		engines:   make(map[string]*vault.Engine),
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// Authority returns the governance authority that owns the registry and every
// vault it deploys.
func (r *Registry) Authority() crypto.Address { return r.authority }

// DeployVault instantiates the one vault for a collateral asset, grants it
// mint/burn capability on the peg ledger, and records the directory entry.
// A second deployment for the same asset fails regardless of differing
// parameters; the existing entry is never overwritten.
func (r *Registry) DeployVault(caller crypto.Address, cfg vault.Config) (crypto.Address, error) {
	if r == nil || r.directory == nil {
		return crypto.Address{}, ErrNilDirectory
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return crypto.Address{}, err
	}
	if caller.IsZero() || !caller.Equal(r.authority) {
		return crypto.Address{}, ErrUnauthorized
	}
	if err := cfg.Validate(); err != nil {
		return crypto.Address{}, err
	}

	if _, exists, err := r.directory.GetVault(cfg.CollateralAssetID); err != nil {
		return crypto.Address{}, err
	} else if exists {
		return crypto.Address{}, ErrDuplicateCollateral
	}

	vaultAddr := crypto.DeriveVaultAddress(cfg.CollateralAssetID)
	engine := vault.NewEngine(cfg, r.authority, vaultAddr)
	if r.wire != nil {
		r.wire(engine)
	}

	if r.minter != nil {
		if err := r.minter.GrantMinter(vaultAddr); err != nil {
			return crypto.Address{}, err
		}
	}
	if err := r.directory.PutVault(cfg.CollateralAssetID, vaultAddr); err != nil {
		return crypto.Address{}, err
	}

	r.mu.Lock()
	r.engines[cfg.CollateralAssetID] = engine
	r.mu.Unlock()

	r.emitter.Emit(events.RegistryVaultDeployed{
		Asset:                cfg.CollateralAssetID,
		Vault:                vaultAddr,
		Owner:                r.authority,
		PriceFeedRef:         cfg.Params.PriceFeedRef,
		LiquidationThreshold: cfg.Params.LiquidationThreshold,
		LiquidationSpread:    cfg.Params.LiquidationSpread,
		CloseFactor:          cfg.Params.CloseFactor,
	})
	return vaultAddr, nil
}

// OpenVault rebuilds the live engine for a collateral asset that already has
// a directory entry, e.g. after a daemon restart. The mint capability was
// granted at deployment and is durable, so it is not granted again.
func (r *Registry) OpenVault(cfg vault.Config) (crypto.Address, error) {
	if r == nil || r.directory == nil {
		return crypto.Address{}, ErrNilDirectory
	}
	if err := cfg.Validate(); err != nil {
		return crypto.Address{}, err
	}
	vaultAddr, exists, err := r.directory.GetVault(cfg.CollateralAssetID)
	if err != nil {
		return crypto.Address{}, err
	}
	if !exists {
		return crypto.Address{}, ErrVaultNotFound
	}

	engine := vault.NewEngine(cfg, r.authority, vaultAddr)
	if r.wire != nil {
		r.wire(engine)
	}
	r.mu.Lock()
	r.engines[cfg.CollateralAssetID] = engine
	r.mu.Unlock()
	return vaultAddr, nil
}

// Lookup resolves the vault address for a collateral asset.
func (r *Registry) Lookup(assetID string) (crypto.Address, bool, error) {
	if r == nil || r.directory == nil {
		return crypto.Address{}, false, ErrNilDirectory
	}
	return r.directory.GetVault(assetID)
}

// Engine returns the live engine for a collateral asset.
func (r *Registry) Engine(assetID string) (*vault.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engine, ok := r.engines[assetID]
	if !ok {
		return nil, ErrVaultNotFound
	}
	return engine, nil
}

// Engines returns the live engines ordered by asset identifier.
func (r *Registry) Engines() []*vault.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*vault.Engine, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.engines[id])
	}
	return out
}

// Entries lists the persisted directory entries.
func (r *Registry) Entries() ([]DirectoryEntry, error) {
	if r == nil || r.directory == nil {
		return nil, ErrNilDirectory
	}
	return r.directory.ListVaults()
}
