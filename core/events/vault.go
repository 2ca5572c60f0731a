package events

import (
	"math/big"

	"pegvault/crypto"
)

const (
	// TypeVaultCollateralDeposited is emitted when collateral enters vault
	// custody.
	TypeVaultCollateralDeposited = "vault.collateral.deposited"
	// TypeVaultCollateralWithdrawn is emitted when collateral leaves vault
	// custody after a successful solvency check.
	TypeVaultCollateralWithdrawn = "vault.collateral.withdrawn"
	// TypeVaultDebtMinted is emitted when peg currency is issued against
	// collateral.
	TypeVaultDebtMinted = "vault.debt.minted"
	// TypeVaultDebtRepaid is emitted when outstanding debt is burned. The
	// payer may differ from the debtor.
	TypeVaultDebtRepaid = "vault.debt.repaid"
	// TypeVaultLiquidated is emitted when a liquidator repays part of an
	// undercollateralized account's debt and seizes collateral.
	TypeVaultLiquidated = "vault.liquidated"
	// TypeVaultParamUpdated is the audit record for a governance parameter
	// change, carrying the old and new values.
	TypeVaultParamUpdated = "vault.param.updated"
)

// VaultCollateralDeposited captures a completed collateral deposit.
type VaultCollateralDeposited struct {
	Asset   string
	Vault   crypto.Address
	Account crypto.Address
	Amount  *big.Int
}

func (VaultCollateralDeposited) EventType() string { return TypeVaultCollateralDeposited }

// VaultCollateralWithdrawn captures a completed collateral withdrawal.
type VaultCollateralWithdrawn struct {
	Asset    string
	Vault    crypto.Address
	Account  crypto.Address
	Receiver crypto.Address
	Amount   *big.Int
}

func (VaultCollateralWithdrawn) EventType() string { return TypeVaultCollateralWithdrawn }

// VaultDebtMinted captures a completed debt issuance.
type VaultDebtMinted struct {
	Asset   string
	Vault   crypto.Address
	Account crypto.Address
	Amount  *big.Int
}

func (VaultDebtMinted) EventType() string { return TypeVaultDebtMinted }

// VaultDebtRepaid captures a completed repayment.
type VaultDebtRepaid struct {
	Asset   string
	Vault   crypto.Address
	Account crypto.Address
	Payer   crypto.Address
	Amount  *big.Int
}

func (VaultDebtRepaid) EventType() string { return TypeVaultDebtRepaid }

// VaultLiquidated captures a completed partial liquidation, including the
// health factor before and after so downstream monitors can audit the
// improvement invariant.
type VaultLiquidated struct {
	Asset              string
	Vault              crypto.Address
	Account            crypto.Address
	Liquidator         crypto.Address
	RepaidDebt         *big.Int
	SeizedCollateral   *big.Int
	HealthFactorBefore *big.Int
	HealthFactorAfter  *big.Int
}

func (VaultLiquidated) EventType() string { return TypeVaultLiquidated }

// VaultParamUpdated is the audit trail for a governance parameter change.
type VaultParamUpdated struct {
	AuditID string
	Asset   string
	Vault   crypto.Address
	Name    string
	Old     string
	New     string
}

func (VaultParamUpdated) EventType() string { return TypeVaultParamUpdated }
