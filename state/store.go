package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"pegvault/crypto"
	"pegvault/native/registry"
	"pegvault/native/vault"
	"pegvault/storage"
)

// Store persists vault positions, risk parameters, the registry directory,
// and token ledger records over a flat key-value database using RLP encoding.
// It satisfies vault.State, registry.Directory, and token.State.
type Store struct {
	view
}

// NewStore wraps the database.
func NewStore(db storage.Database) *Store {
	return &Store{view: view{kv: &dbKV{db: db}}}
}

// Begin opens a buffered transaction. Reads see buffered writes; nothing
// touches the database until Commit. Discarding the transaction (or simply
// dropping it) leaves the store exactly as before, which is how each engine
// operation gets its all-or-nothing semantics.
func (s *Store) Begin() *Txn {
	overlay := &overlayKV{parent: s.kv, writes: make(map[string][]byte)}
	return &Txn{view: view{kv: overlay}, overlay: overlay}
}

// Txn is a buffered write set over the store.
type Txn struct {
	view
	overlay *overlayKV
}

// Commit flushes buffered writes to the underlying database in key order.
func (t *Txn) Commit() error {
	keys := make([]string, 0, len(t.overlay.writes))
	for k := range t.overlay.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := t.overlay.parent.put([]byte(k), t.overlay.writes[k]); err != nil {
			return err
		}
	}
	t.overlay.writes = make(map[string][]byte)
	return nil
}

// Discard drops all buffered writes.
func (t *Txn) Discard() {
	t.overlay.writes = make(map[string][]byte)
}

// --- key-value plumbing ---

type kvStore interface {
	get(key []byte) ([]byte, bool, error)
	put(key []byte, value []byte) error
}

type dbKV struct {
	db storage.Database
}

func (d *dbKV) get(key []byte) ([]byte, bool, error) {
	value, err := d.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (d *dbKV) put(key []byte, value []byte) error {
	return d.db.Put(key, value)
}

type overlayKV struct {
	parent kvStore
	writes map[string][]byte
}

func (o *overlayKV) get(key []byte) ([]byte, bool, error) {
	if value, ok := o.writes[string(key)]; ok {
		return value, true, nil
	}
	return o.parent.get(key)
}

func (o *overlayKV) put(key []byte, value []byte) error {
	o.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

// --- typed accessors ---

type view struct {
	kv kvStore
}

type storedPosition struct {
	Address    []byte
	Collateral *big.Int
	Debt       *big.Int
}

type storedParams struct {
	LiquidationThreshold uint64
	LiquidationSpread    uint64
	CloseFactor          uint64
	PriceFeedRef         string
	PriceFeedPrecision   uint8
}

// GetPosition implements vault.State. A missing record reports nil so the
// engine can lazily create it.
func (v *view) GetPosition(assetID string, addr crypto.Address) (*vault.Position, error) {
	raw, found, err := v.kv.get(vaultPositionKey(assetID, addr))
	if err != nil || !found {
		return nil, err
	}
	var stored storedPosition
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	addr, err = crypto.AddressFromBytes(crypto.AccountPrefix, stored.Address)
	if err != nil {
		return nil, fmt.Errorf("corrupt position record for %s: %w", assetID, err)
	}
	return &vault.Position{
		Address:    addr,
		Collateral: stored.Collateral,
		Debt:       stored.Debt,
	}, nil
}

// PutPosition implements vault.State.
func (v *view) PutPosition(assetID string, pos *vault.Position) error {
	stored := storedPosition{
		Address:    pos.Address.Bytes(),
		Collateral: pos.Collateral,
		Debt:       pos.Debt,
	}
	if stored.Collateral == nil {
		stored.Collateral = big.NewInt(0)
	}
	if stored.Debt == nil {
		stored.Debt = big.NewInt(0)
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return v.kv.put(vaultPositionKey(assetID, pos.Address), raw)
}

// GetParams implements vault.State.
func (v *view) GetParams(assetID string) (*vault.Params, error) {
	raw, found, err := v.kv.get(vaultParamsKey(assetID))
	if err != nil || !found {
		return nil, err
	}
	var stored storedParams
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	return &vault.Params{
		LiquidationThreshold: stored.LiquidationThreshold,
		LiquidationSpread:    stored.LiquidationSpread,
		CloseFactor:          stored.CloseFactor,
		PriceFeedRef:         stored.PriceFeedRef,
		PriceFeedPrecision:   stored.PriceFeedPrecision,
	}, nil
}

// PutParams implements vault.State.
func (v *view) PutParams(assetID string, params *vault.Params) error {
	raw, err := rlp.EncodeToBytes(&storedParams{
		LiquidationThreshold: params.LiquidationThreshold,
		LiquidationSpread:    params.LiquidationSpread,
		CloseFactor:          params.CloseFactor,
		PriceFeedRef:         params.PriceFeedRef,
		PriceFeedPrecision:   params.PriceFeedPrecision,
	})
	if err != nil {
		return err
	}
	return v.kv.put(vaultParamsKey(assetID), raw)
}

// GetVault implements registry.Directory.
func (v *view) GetVault(assetID string) (crypto.Address, bool, error) {
	raw, found, err := v.kv.get(registryVaultKey(assetID))
	if err != nil || !found {
		return crypto.Address{}, false, err
	}
	addr, err := crypto.AddressFromBytes(crypto.VaultPrefix, raw)
	if err != nil {
		return crypto.Address{}, false, fmt.Errorf("corrupt directory record for %s: %w", assetID, err)
	}
	return addr, true, nil
}

// PutVault implements registry.Directory, appending the asset to the index.
func (v *view) PutVault(assetID string, addr crypto.Address) error {
	if err := v.kv.put(registryVaultKey(assetID), addr.Bytes()); err != nil {
		return err
	}
	index, err := v.vaultIndex()
	if err != nil {
		return err
	}
	for _, existing := range index {
		if existing == assetID {
			return nil
		}
	}
	index = append(index, assetID)
	sort.Strings(index)
	raw, err := rlp.EncodeToBytes(index)
	if err != nil {
		return err
	}
	return v.kv.put([]byte(registryIndexKey), raw)
}

// ListVaults implements registry.Directory.
func (v *view) ListVaults() ([]registry.DirectoryEntry, error) {
	index, err := v.vaultIndex()
	if err != nil {
		return nil, err
	}
	entries := make([]registry.DirectoryEntry, 0, len(index))
	for _, assetID := range index {
		addr, found, err := v.GetVault(assetID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		entries = append(entries, registry.DirectoryEntry{AssetID: assetID, Vault: addr})
	}
	return entries, nil
}

func (v *view) vaultIndex() ([]string, error) {
	raw, found, err := v.kv.get([]byte(registryIndexKey))
	if err != nil || !found {
		return nil, err
	}
	var index []string
	if err := rlp.DecodeBytes(raw, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// GetTokenBalance implements token.State; absent balances read as zero.
func (v *view) GetTokenBalance(symbol string, addr crypto.Address) (*big.Int, error) {
	return v.getAmount(tokenBalanceKey(symbol, addr))
}

// PutTokenBalance implements token.State.
func (v *view) PutTokenBalance(symbol string, addr crypto.Address, amount *big.Int) error {
	return v.putAmount(tokenBalanceKey(symbol, addr), amount)
}

// GetTokenAllowance implements token.State; absent allowances read as zero.
func (v *view) GetTokenAllowance(symbol string, owner, spender crypto.Address) (*big.Int, error) {
	return v.getAmount(tokenAllowanceKey(symbol, owner, spender))
}

// PutTokenAllowance implements token.State.
func (v *view) PutTokenAllowance(symbol string, owner, spender crypto.Address, amount *big.Int) error {
	return v.putAmount(tokenAllowanceKey(symbol, owner, spender), amount)
}

// IsTokenMinter implements token.State.
func (v *view) IsTokenMinter(symbol string, addr crypto.Address) (bool, error) {
	raw, found, err := v.kv.get(tokenMinterKey(symbol, addr))
	if err != nil || !found {
		return false, err
	}
	return len(raw) == 1 && raw[0] == 0x01, nil
}

// PutTokenMinter implements token.State. Grants are never revoked, so there
// is no delete counterpart.
func (v *view) PutTokenMinter(symbol string, addr crypto.Address) error {
	return v.kv.put(tokenMinterKey(symbol, addr), []byte{0x01})
}

func (v *view) getAmount(key []byte) (*big.Int, error) {
	raw, found, err := v.kv.get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(raw, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (v *view) putAmount(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	raw, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return v.kv.put(key, raw)
}
