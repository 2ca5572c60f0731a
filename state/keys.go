package state

import (
	"encoding/hex"

	"pegvault/crypto"
)

// Key layout. Every record lives under a module prefix so the flat key-value
// store stays inspectable with standard tooling.
const (
	vaultPositionPrefix = "vault/pos/"
	vaultParamsPrefix   = "vault/params/"
	registryVaultPrefix = "registry/dir/"
	registryIndexKey    = "registry/index"
	tokenBalancePrefix  = "token/bal/"
	tokenAllowPrefix    = "token/allow/"
	tokenMinterPrefix   = "token/minter/"
)

func addrHex(addr crypto.Address) string {
	return hex.EncodeToString(addr.Bytes())
}

func vaultPositionKey(assetID string, addr crypto.Address) []byte {
	return []byte(vaultPositionPrefix + assetID + "/" + addrHex(addr))
}

func vaultParamsKey(assetID string) []byte {
	return []byte(vaultParamsPrefix + assetID)
}

func registryVaultKey(assetID string) []byte {
	return []byte(registryVaultPrefix + assetID)
}

func tokenBalanceKey(symbol string, addr crypto.Address) []byte {
	return []byte(tokenBalancePrefix + symbol + "/" + addrHex(addr))
}

func tokenAllowanceKey(symbol string, owner, spender crypto.Address) []byte {
	return []byte(tokenAllowPrefix + symbol + "/" + addrHex(owner) + "/" + addrHex(spender))
}

func tokenMinterKey(symbol string, addr crypto.Address) []byte {
	return []byte(tokenMinterPrefix + symbol + "/" + addrHex(addr))
}
