package vault

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"pegvault/core/events"
	"pegvault/crypto"
	nativecommon "pegvault/native/common"
)

const moduleName = "vault"

var (
	percent = big.NewInt(100)
	// healthFactorScale is the fixed-point scale at which 1.0 marks the
	// solvency boundary.
	healthFactorScale = big.NewInt(1_000_000_000_000_000_000)
	// maxHealthFactor is the sentinel reported for debt-free accounts.
	maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// HealthFactorScale returns the fixed-point scale used for health factors.
func HealthFactorScale() *big.Int { return new(big.Int).Set(healthFactorScale) }

// MaxHealthFactor returns the sentinel health factor of a debt-free account.
func MaxHealthFactor() *big.Int { return new(big.Int).Set(maxHealthFactor) }

// State is the persistence boundary for a vault's durable records: the
// per-account position map and the governance parameter record.
type State interface {
	GetPosition(assetID string, addr crypto.Address) (*Position, error)
	PutPosition(assetID string, pos *Position) error
	GetParams(assetID string) (*Params, error)
	PutParams(assetID string, params *Params) error
}

// PegLedger is the consumed peg-currency ledger boundary. Issue and Burn are
// capability-gated on the ledger side; the engine always passes its own vault
// address as the caller.
type PegLedger interface {
	Issue(caller, to crypto.Address, amount *big.Int) error
	Burn(caller, from crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) (*big.Int, error)
	Decimals() uint8
}

// Custody is the consumed collateral-asset custody boundary.
type Custody interface {
	TransferFrom(caller, from, to crypto.Address, amount *big.Int) error
	Transfer(caller, to crypto.Address, amount *big.Int) error
}

// Engine owns one collateral asset's accounting: per-account balances and
// debt, solvency enforcement, liquidation execution, and governance-settable
// risk parameters. Balance maps are written before any call out to the
// ledger or custody boundary; the surrounding state transaction is discarded
// whenever an operation returns an error, so every operation is
// all-or-nothing.
type Engine struct {
	cfg       Config
	owner     crypto.Address
	vaultAddr crypto.Address

	state   State
	valuer  *Valuer
	ledger  PegLedger
	custody Custody
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewEngine constructs a vault engine for the given collateral asset. The
// owner is the governance authority permitted to change risk parameters.
func NewEngine(cfg Config, owner, vaultAddr crypto.Address) *Engine {
	return &Engine{
		cfg:       cfg,
		owner:     owner,
		vaultAddr: vaultAddr,
		emitter:   events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetValuer wires the valuation engine used to price collateral.
func (e *Engine) SetValuer(valuer *Valuer) { e.valuer = valuer }

// SetLedger wires the peg-currency ledger boundary.
func (e *Engine) SetLedger(ledger PegLedger) { e.ledger = ledger }

// SetCustody wires the collateral custody boundary.
func (e *Engine) SetCustody(custody Custody) { e.custody = custody }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// AssetID returns the collateral asset this vault accounts for.
func (e *Engine) AssetID() string { return e.cfg.CollateralAssetID }

// Address returns the vault's own address, used as the capability identity on
// the ledger and custody boundaries.
func (e *Engine) Address() crypto.Address { return e.vaultAddr }

// Owner returns the governance authority controlling the vault's parameters.
func (e *Engine) Owner() crypto.Address { return e.owner }

// DepositCollateral pulls collateral from the depositor into vault custody
// and credits their position. Depositing can only improve solvency, so no
// health check is performed.
func (e *Engine) DepositCollateral(from crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from.IsZero() {
		return ErrInvalidAddress
	}

	pos, err := e.ensurePosition(from)
	if err != nil {
		return err
	}
	pos.Collateral = new(big.Int).Add(pos.Collateral, amount)
	if err := e.state.PutPosition(e.cfg.CollateralAssetID, pos); err != nil {
		return err
	}

	if err := e.custody.TransferFrom(e.vaultAddr, from, e.vaultAddr, amount); err != nil {
		return err
	}

	e.emitter.Emit(events.VaultCollateralDeposited{
		Asset:   e.cfg.CollateralAssetID,
		Vault:   e.vaultAddr,
		Account: from,
		Amount:  new(big.Int).Set(amount),
	})
	return nil
}

// MintDebt issues peg currency to the account against its collateral. The
// prospective health factor after the increase must stay at or above 1.0.
func (e *Engine) MintDebt(account crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if account.IsZero() {
		return ErrInvalidAddress
	}

	params, err := e.currentParams()
	if err != nil {
		return err
	}
	pos, err := e.ensurePosition(account)
	if err != nil {
		return err
	}

	projected := new(big.Int).Add(pos.Debt, amount)
	hf, err := e.healthFactor(params, pos.Collateral, projected)
	if err != nil {
		return err
	}
	if hf.Cmp(healthFactorScale) < 0 {
		return &SolvencyError{HealthFactor: hf}
	}

	pos.Debt = projected
	if err := e.state.PutPosition(e.cfg.CollateralAssetID, pos); err != nil {
		return err
	}

	if err := e.ledger.Issue(e.vaultAddr, account, amount); err != nil {
		return err
	}

	e.emitter.Emit(events.VaultDebtMinted{
		Asset:   e.cfg.CollateralAssetID,
		Vault:   e.vaultAddr,
		Account: account,
		Amount:  new(big.Int).Set(amount),
	})
	return nil
}

// WithdrawCollateral releases collateral to the receiver, provided the
// account stays solvent after the decrease.
func (e *Engine) WithdrawCollateral(account, receiver crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if account.IsZero() || receiver.IsZero() {
		return ErrInvalidAddress
	}

	params, err := e.currentParams()
	if err != nil {
		return err
	}
	pos, err := e.ensurePosition(account)
	if err != nil {
		return err
	}
	if pos.Collateral.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}

	remaining := new(big.Int).Sub(pos.Collateral, amount)
	hf, err := e.healthFactor(params, remaining, pos.Debt)
	if err != nil {
		return err
	}
	if hf.Cmp(healthFactorScale) < 0 {
		return &SolvencyError{HealthFactor: hf}
	}

	pos.Collateral = remaining
	if err := e.state.PutPosition(e.cfg.CollateralAssetID, pos); err != nil {
		return err
	}

	if err := e.custody.Transfer(e.vaultAddr, receiver, amount); err != nil {
		return err
	}

	e.emitter.Emit(events.VaultCollateralWithdrawn{
		Asset:    e.cfg.CollateralAssetID,
		Vault:    e.vaultAddr,
		Account:  account,
		Receiver: receiver,
		Amount:   new(big.Int).Set(amount),
	})
	return nil
}

// RepayDebt burns peg currency from the payer and reduces the account's debt.
// Third-party repayment is permitted; spending authorization is enforced on
// the ledger side.
func (e *Engine) RepayDebt(payer, account crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if payer.IsZero() || account.IsZero() {
		return ErrInvalidAddress
	}

	pos, err := e.ensurePosition(account)
	if err != nil {
		return err
	}
	if amount.Cmp(pos.Debt) > 0 {
		return ErrRepayExceedsDebt
	}

	pos.Debt = new(big.Int).Sub(pos.Debt, amount)
	if err := e.state.PutPosition(e.cfg.CollateralAssetID, pos); err != nil {
		return err
	}

	if err := e.ledger.Burn(e.vaultAddr, payer, amount); err != nil {
		return err
	}

	e.emitter.Emit(events.VaultDebtRepaid{
		Asset:   e.cfg.CollateralAssetID,
		Vault:   e.vaultAddr,
		Account: account,
		Payer:   payer,
		Amount:  new(big.Int).Set(amount),
	})
	return nil
}

// Liquidate lets a third party repay part of an undercollateralized
// account's debt in exchange for collateral plus the liquidation spread. The
// seized collateral is returned. The target's health factor must be strictly
// below 1.0 beforehand and must not end up lower than it started.
func (e *Engine) Liquidate(liquidator, target crypto.Address, repayAmount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if repayAmount == nil || repayAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if liquidator.IsZero() || target.IsZero() {
		return nil, ErrInvalidAddress
	}

	params, err := e.currentParams()
	if err != nil {
		return nil, err
	}
	pos, err := e.ensurePosition(target)
	if err != nil {
		return nil, err
	}
	if pos.Debt.Sign() == 0 {
		return nil, &NotLiquidatableError{HealthFactor: MaxHealthFactor()}
	}

	hfBefore, err := e.healthFactor(params, pos.Collateral, pos.Debt)
	if err != nil {
		return nil, err
	}
	if hfBefore.Cmp(healthFactorScale) >= 0 {
		return nil, &NotLiquidatableError{HealthFactor: hfBefore}
	}

	ceiling := new(big.Int).Mul(pos.Debt, new(big.Int).SetUint64(params.CloseFactor))
	ceiling.Quo(ceiling, percent)
	if repayAmount.Cmp(ceiling) > 0 {
		return nil, &CloseFactorError{Ceiling: ceiling}
	}

	// Peg value handed to the liquidator: repayment plus the spread bonus.
	gross := new(big.Int).Mul(repayAmount, new(big.Int).SetUint64(100+params.LiquidationSpread))
	gross.Quo(gross, percent)

	seized, err := e.valuer.PegToCollateral(params.PriceFeedRef, e.cfg.CollateralPrecision, gross)
	if err != nil {
		return nil, err
	}
	if seized.Cmp(pos.Collateral) > 0 {
		return nil, ErrInsufficientCollateral
	}

	newCollateral := new(big.Int).Sub(pos.Collateral, seized)
	newDebt := new(big.Int).Sub(pos.Debt, repayAmount)
	hfAfter := MaxHealthFactor()
	if newDebt.Sign() > 0 {
		hfAfter, err = e.healthFactor(params, newCollateral, newDebt)
		if err != nil {
			return nil, err
		}
		if hfAfter.Cmp(hfBefore) < 0 {
			return nil, ErrHealthNotImproved
		}
	}

	pos.Collateral = newCollateral
	pos.Debt = newDebt
	if err := e.state.PutPosition(e.cfg.CollateralAssetID, pos); err != nil {
		return nil, err
	}

	if err := e.ledger.Burn(e.vaultAddr, liquidator, repayAmount); err != nil {
		return nil, err
	}
	if err := e.custody.Transfer(e.vaultAddr, liquidator, seized); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.VaultLiquidated{
		Asset:              e.cfg.CollateralAssetID,
		Vault:              e.vaultAddr,
		Account:            target,
		Liquidator:         liquidator,
		RepaidDebt:         new(big.Int).Set(repayAmount),
		SeizedCollateral:   new(big.Int).Set(seized),
		HealthFactorBefore: hfBefore,
		HealthFactorAfter:  hfAfter,
	})
	return seized, nil
}

// --- Governance parameter setters ---

// SetLiquidationThreshold updates the risk-adjustment percentage.
func (e *Engine) SetLiquidationThreshold(caller crypto.Address, pct uint64) error {
	return e.updateParams(caller, "liquidationThreshold", func(p *Params) (string, string) {
		old := fmt.Sprintf("%d", p.LiquidationThreshold)
		p.LiquidationThreshold = pct
		return old, fmt.Sprintf("%d", pct)
	})
}

// SetLiquidationSpread updates the liquidator bonus percentage.
func (e *Engine) SetLiquidationSpread(caller crypto.Address, pct uint64) error {
	return e.updateParams(caller, "liquidationSpread", func(p *Params) (string, string) {
		old := fmt.Sprintf("%d", p.LiquidationSpread)
		p.LiquidationSpread = pct
		return old, fmt.Sprintf("%d", pct)
	})
}

// SetCloseFactor updates the maximum liquidation fraction.
func (e *Engine) SetCloseFactor(caller crypto.Address, pct uint64) error {
	return e.updateParams(caller, "closeFactor", func(p *Params) (string, string) {
		old := fmt.Sprintf("%d", p.CloseFactor)
		p.CloseFactor = pct
		return old, fmt.Sprintf("%d", pct)
	})
}

// SetPriceFeed repoints the vault at a different collateral price feed.
func (e *Engine) SetPriceFeed(caller crypto.Address, feedRef string, precision uint8) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.isOwner(caller) {
		return ErrUnauthorized
	}
	feedRef = strings.TrimSpace(feedRef)
	if feedRef == "" {
		return ErrInvalidAddress
	}

	params, err := e.currentParams()
	if err != nil {
		return err
	}
	old := params.PriceFeedRef
	params.PriceFeedRef = feedRef
	params.PriceFeedPrecision = precision
	if err := e.state.PutParams(e.cfg.CollateralAssetID, &params); err != nil {
		return err
	}

	e.emitter.Emit(events.VaultParamUpdated{
		AuditID: uuid.NewString(),
		Asset:   e.cfg.CollateralAssetID,
		Vault:   e.vaultAddr,
		Name:    "priceFeedRef",
		Old:     old,
		New:     feedRef,
	})
	return nil
}

func (e *Engine) updateParams(caller crypto.Address, name string, apply func(*Params) (string, string)) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.isOwner(caller) {
		return ErrUnauthorized
	}

	params, err := e.currentParams()
	if err != nil {
		return err
	}
	old, updated := apply(&params)
	if err := params.Validate(); err != nil {
		return err
	}
	if err := e.state.PutParams(e.cfg.CollateralAssetID, &params); err != nil {
		return err
	}

	e.emitter.Emit(events.VaultParamUpdated{
		AuditID: uuid.NewString(),
		Asset:   e.cfg.CollateralAssetID,
		Vault:   e.vaultAddr,
		Name:    name,
		Old:     old,
		New:     updated,
	})
	return nil
}

// --- Read-only accessors (unrestricted) ---

// Params returns the effective parameter record.
func (e *Engine) Params() (Params, error) {
	if err := e.ready(); err != nil {
		return Params{}, err
	}
	return e.currentParams()
}

// Position returns a copy of the account's position. Accounts that never
// interacted with the vault report zero balances.
func (e *Engine) Position(addr crypto.Address) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pos, err := e.ensurePosition(addr)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// HealthFactor reports the account's current scaled health factor.
func (e *Engine) HealthFactor(addr crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	params, err := e.currentParams()
	if err != nil {
		return nil, err
	}
	pos, err := e.ensurePosition(addr)
	if err != nil {
		return nil, err
	}
	return e.healthFactor(params, pos.Collateral, pos.Debt)
}

// CollateralValue prices the account's collateral in peg units.
func (e *Engine) CollateralValue(addr crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	params, err := e.currentParams()
	if err != nil {
		return nil, err
	}
	pos, err := e.ensurePosition(addr)
	if err != nil {
		return nil, err
	}
	return e.valuer.CollateralToPeg(params.PriceFeedRef, e.cfg.CollateralPrecision, pos.Collateral)
}

// MaxMintable previews the additional peg debt the account could take on
// before crossing the solvency boundary.
func (e *Engine) MaxMintable(addr crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	params, err := e.currentParams()
	if err != nil {
		return nil, err
	}
	pos, err := e.ensurePosition(addr)
	if err != nil {
		return nil, err
	}
	value, err := e.valuer.CollateralToPeg(params.PriceFeedRef, e.cfg.CollateralPrecision, pos.Collateral)
	if err != nil {
		return nil, err
	}
	limit := new(big.Int).Mul(value, new(big.Int).SetUint64(params.LiquidationThreshold))
	limit.Quo(limit, percent)
	headroom := new(big.Int).Sub(limit, pos.Debt)
	if headroom.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return headroom, nil
}

// CloseFactorCeiling previews the maximum single-liquidation repayment for
// the account's current debt.
func (e *Engine) CloseFactorCeiling(addr crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	params, err := e.currentParams()
	if err != nil {
		return nil, err
	}
	pos, err := e.ensurePosition(addr)
	if err != nil {
		return nil, err
	}
	ceiling := new(big.Int).Mul(pos.Debt, new(big.Int).SetUint64(params.CloseFactor))
	return ceiling.Quo(ceiling, percent), nil
}

// --- internals ---

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	return nil
}

func (e *Engine) isOwner(caller crypto.Address) bool {
	return !caller.IsZero() && caller.Equal(e.owner)
}

func (e *Engine) currentParams() (Params, error) {
	stored, err := e.state.GetParams(e.cfg.CollateralAssetID)
	if err != nil {
		return Params{}, err
	}
	if stored == nil {
		return e.cfg.Params.Clone(), nil
	}
	return stored.Clone(), nil
}

func (e *Engine) ensurePosition(addr crypto.Address) (*Position, error) {
	pos, err := e.state.GetPosition(e.cfg.CollateralAssetID, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{Address: addr}
	}
	if pos.Collateral == nil {
		pos.Collateral = big.NewInt(0)
	}
	if pos.Debt == nil {
		pos.Debt = big.NewInt(0)
	}
	return pos, nil
}

// healthFactor computes (value * threshold / 100) * scale / debt, truncating
// at each division exactly as documented.
func (e *Engine) healthFactor(params Params, collateral, debt *big.Int) (*big.Int, error) {
	if debt == nil || debt.Sign() == 0 {
		return MaxHealthFactor(), nil
	}
	if collateral == nil || collateral.Sign() == 0 {
		return big.NewInt(0), nil
	}
	value, err := e.valuer.CollateralToPeg(params.PriceFeedRef, e.cfg.CollateralPrecision, collateral)
	if err != nil {
		return nil, err
	}
	adjusted := new(big.Int).Mul(value, new(big.Int).SetUint64(params.LiquidationThreshold))
	adjusted.Quo(adjusted, percent)
	hf := new(big.Int).Mul(adjusted, healthFactorScale)
	return hf.Quo(hf, debt), nil
}
