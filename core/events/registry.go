package events

import "pegvault/crypto"

const (
	// TypeRegistryVaultDeployed is emitted when the registry instantiates a
	// vault for a collateral asset and grants it mint capability.
	TypeRegistryVaultDeployed = "registry.vault.deployed"
)

// RegistryVaultDeployed records a one-time vault deployment.
type RegistryVaultDeployed struct {
	Asset                string
	Vault                crypto.Address
	Owner                crypto.Address
	PriceFeedRef         string
	LiquidationThreshold uint64
	LiquidationSpread    uint64
	CloseFactor          uint64
}

func (RegistryVaultDeployed) EventType() string { return TypeRegistryVaultDeployed }
