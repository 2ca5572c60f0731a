package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"pegvault/crypto"
	"pegvault/native/vault"
	"pegvault/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemDB())
}

func accountAddr(fill byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func TestPositionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	addr := accountAddr(0x01)

	missing, err := store.GetPosition("ATOM", addr)
	require.NoError(t, err)
	require.Nil(t, missing)

	pos := &vault.Position{
		Address:    addr,
		Collateral: big.NewInt(123456789),
		Debt:       big.NewInt(987654321),
	}
	require.NoError(t, store.PutPosition("ATOM", pos))

	loaded, err := store.GetPosition("ATOM", addr)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.True(t, loaded.Address.Equal(addr))
	require.Zero(t, loaded.Collateral.Cmp(pos.Collateral))
	require.Zero(t, loaded.Debt.Cmp(pos.Debt))

	// A persisted record with zero balances still reads back as a record.
	pos.Collateral = big.NewInt(0)
	pos.Debt = big.NewInt(0)
	require.NoError(t, store.PutPosition("ATOM", pos))
	loaded, err = store.GetPosition("ATOM", addr)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Zero(t, loaded.Collateral.Sign())
	require.Zero(t, loaded.Debt.Sign())
}

func TestPositionsAreScopedByAsset(t *testing.T) {
	store := newTestStore(t)
	addr := accountAddr(0x01)
	require.NoError(t, store.PutPosition("ATOM", &vault.Position{Address: addr, Collateral: big.NewInt(7), Debt: big.NewInt(0)}))

	other, err := store.GetPosition("OSMO", addr)
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestParamsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	missing, err := store.GetParams("ATOM")
	require.NoError(t, err)
	require.Nil(t, missing)

	params := &vault.Params{
		LiquidationThreshold: 80,
		LiquidationSpread:    10,
		CloseFactor:          50,
		PriceFeedRef:         "ATOM/USD",
		PriceFeedPrecision:   8,
	}
	require.NoError(t, store.PutParams("ATOM", params))

	loaded, err := store.GetParams("ATOM")
	require.NoError(t, err)
	require.Equal(t, params, loaded)
}

func TestDirectoryRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, found, err := store.GetVault("ATOM")
	require.NoError(t, err)
	require.False(t, found)

	atom := crypto.DeriveVaultAddress("ATOM")
	osmo := crypto.DeriveVaultAddress("OSMO")
	require.NoError(t, store.PutVault("OSMO", osmo))
	require.NoError(t, store.PutVault("ATOM", atom))

	loaded, found, err := store.GetVault("ATOM")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, loaded.Equal(atom))
	require.Equal(t, crypto.VaultPrefix, loaded.Prefix())

	entries, err := store.ListVaults()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "ATOM", entries[0].AssetID)
	require.Equal(t, "OSMO", entries[1].AssetID)

	// Re-registering the same asset must not duplicate the index entry.
	require.NoError(t, store.PutVault("ATOM", atom))
	entries, err = store.ListVaults()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestTokenRecords(t *testing.T) {
	store := newTestStore(t)
	owner := accountAddr(0x01)
	spender := accountAddr(0x02)

	balance, err := store.GetTokenBalance("PGD", owner)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	require.NoError(t, store.PutTokenBalance("PGD", owner, big.NewInt(1000)))
	balance, err = store.GetTokenBalance("PGD", owner)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(1000)))

	// Balances are scoped by symbol.
	other, err := store.GetTokenBalance("ATOM", owner)
	require.NoError(t, err)
	require.Zero(t, other.Sign())

	require.NoError(t, store.PutTokenAllowance("PGD", owner, spender, big.NewInt(55)))
	allowance, err := store.GetTokenAllowance("PGD", owner, spender)
	require.NoError(t, err)
	require.Zero(t, allowance.Cmp(big.NewInt(55)))

	reverse, err := store.GetTokenAllowance("PGD", spender, owner)
	require.NoError(t, err)
	require.Zero(t, reverse.Sign())

	minter, err := store.IsTokenMinter("PGD", owner)
	require.NoError(t, err)
	require.False(t, minter)
	require.NoError(t, store.PutTokenMinter("PGD", owner))
	minter, err = store.IsTokenMinter("PGD", owner)
	require.NoError(t, err)
	require.True(t, minter)
}

func TestCorruptRecordsSurfaceErrors(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)
	addr := accountAddr(0x01)

	// A truncated address payload reads back as an error, not a panic.
	stored := storedPosition{Address: []byte{0x01, 0x02}, Collateral: big.NewInt(1), Debt: big.NewInt(0)}
	raw, err := rlp.EncodeToBytes(&stored)
	require.NoError(t, err)
	require.NoError(t, db.Put(vaultPositionKey("ATOM", addr), raw))
	_, err = store.GetPosition("ATOM", addr)
	require.Error(t, err)

	require.NoError(t, db.Put(registryVaultKey("ATOM"), []byte{0xDE, 0xAD}))
	_, _, err = store.GetVault("ATOM")
	require.Error(t, err)
}

func TestTxnCommit(t *testing.T) {
	store := newTestStore(t)
	addr := accountAddr(0x01)

	txn := store.Begin()
	require.NoError(t, txn.PutTokenBalance("PGD", addr, big.NewInt(42)))

	// The transaction sees its own writes; the store does not yet.
	buffered, err := txn.GetTokenBalance("PGD", addr)
	require.NoError(t, err)
	require.Zero(t, buffered.Cmp(big.NewInt(42)))
	direct, err := store.GetTokenBalance("PGD", addr)
	require.NoError(t, err)
	require.Zero(t, direct.Sign())

	require.NoError(t, txn.Commit())
	direct, err = store.GetTokenBalance("PGD", addr)
	require.NoError(t, err)
	require.Zero(t, direct.Cmp(big.NewInt(42)))
}

func TestTxnDiscard(t *testing.T) {
	store := newTestStore(t)
	addr := accountAddr(0x01)
	require.NoError(t, store.PutTokenBalance("PGD", addr, big.NewInt(10)))

	txn := store.Begin()
	require.NoError(t, txn.PutTokenBalance("PGD", addr, big.NewInt(999)))
	txn.Discard()
	require.NoError(t, txn.Commit())

	balance, err := store.GetTokenBalance("PGD", addr)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(10)))
}

func TestTxnReadsThroughToParent(t *testing.T) {
	store := newTestStore(t)
	addr := accountAddr(0x01)
	require.NoError(t, store.PutPosition("ATOM", &vault.Position{Address: addr, Collateral: big.NewInt(5), Debt: big.NewInt(1)}))

	txn := store.Begin()
	pos, err := txn.GetPosition("ATOM", addr)
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Zero(t, pos.Collateral.Cmp(big.NewInt(5)))
}
