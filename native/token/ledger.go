package token

import (
	"errors"
	"math/big"

	"pegvault/crypto"
)

var (
	ErrNilState              = errors.New("token ledger: state not configured")
	ErrInvalidAmount         = errors.New("token ledger: amount must be positive")
	ErrInvalidAddress        = errors.New("token ledger: address must be set")
	ErrInsufficientBalance   = errors.New("token ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("token ledger: insufficient allowance")
	ErrNotMinter             = errors.New("token ledger: caller lacks mint capability")
)

// State is the durable balance/allowance/capability store backing a ledger.
type State interface {
	GetTokenBalance(symbol string, addr crypto.Address) (*big.Int, error)
	PutTokenBalance(symbol string, addr crypto.Address, amount *big.Int) error
	GetTokenAllowance(symbol string, owner, spender crypto.Address) (*big.Int, error)
	PutTokenAllowance(symbol string, owner, spender crypto.Address, amount *big.Int) error
	IsTokenMinter(symbol string, addr crypto.Address) (bool, error)
	PutTokenMinter(symbol string, addr crypto.Address) error
}

// Ledger is a minimal balance ledger with allowance-based delegated spending
// and an explicit minter capability set. It backs both the peg currency
// (issue/burn by authorized vaults) and collateral asset custody
// (transfer/transferFrom).
type Ledger struct {
	symbol   string
	decimals uint8
	state    State
}

// NewLedger constructs a ledger for one token denomination.
func NewLedger(symbol string, decimals uint8) *Ledger {
	return &Ledger{symbol: symbol, decimals: decimals}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state State) { l.state = state }

// Symbol returns the token denomination.
func (l *Ledger) Symbol() string { return l.symbol }

// Decimals returns the fixed decimal precision of ledger amounts.
func (l *Ledger) Decimals() uint8 { return l.decimals }

// BalanceOf returns the current balance for an account.
func (l *Ledger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	return l.state.GetTokenBalance(l.symbol, addr)
}

// Issue mints new units to the recipient. The caller must hold the mint
// capability granted by the registry at vault deployment.
func (l *Ledger) Issue(caller, to crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if caller.IsZero() || to.IsZero() {
		return ErrInvalidAddress
	}
	minter, err := l.state.IsTokenMinter(l.symbol, caller)
	if err != nil {
		return err
	}
	if !minter {
		return ErrNotMinter
	}
	balance, err := l.state.GetTokenBalance(l.symbol, to)
	if err != nil {
		return err
	}
	return l.state.PutTokenBalance(l.symbol, to, new(big.Int).Add(balance, amount))
}

// Burn destroys units held by from. The caller must hold the mint capability
// and, when burning someone else's balance, a sufficient spending allowance.
func (l *Ledger) Burn(caller, from crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if caller.IsZero() || from.IsZero() {
		return ErrInvalidAddress
	}
	minter, err := l.state.IsTokenMinter(l.symbol, caller)
	if err != nil {
		return err
	}
	if !minter {
		return ErrNotMinter
	}
	if !from.Equal(caller) {
		if err := l.spendAllowance(from, caller, amount); err != nil {
			return err
		}
	}
	balance, err := l.state.GetTokenBalance(l.symbol, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return l.state.PutTokenBalance(l.symbol, from, new(big.Int).Sub(balance, amount))
}

// Transfer moves units from the caller's balance to the recipient.
func (l *Ledger) Transfer(caller, to crypto.Address, amount *big.Int) error {
	return l.move(caller, to, amount)
}

// TransferFrom moves units out of from's balance on the caller's authority.
// Spending someone else's balance consumes allowance.
func (l *Ledger) TransferFrom(caller, from, to crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	if !from.Equal(caller) {
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if err := l.spendAllowance(from, caller, amount); err != nil {
			return err
		}
	}
	return l.move(from, to, amount)
}

// Approve sets the spender's allowance over the owner's balance.
func (l *Ledger) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if owner.IsZero() || spender.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.state.PutTokenAllowance(l.symbol, owner, spender, new(big.Int).Set(amount))
}

// Allowance reads the spender's remaining allowance over the owner's balance.
func (l *Ledger) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	return l.state.GetTokenAllowance(l.symbol, owner, spender)
}

// GrantMinter grants the irrevocable mint/burn capability to an address. The
// registry calls this once per vault at deployment.
func (l *Ledger) GrantMinter(addr crypto.Address) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if addr.IsZero() {
		return ErrInvalidAddress
	}
	return l.state.PutTokenMinter(l.symbol, addr)
}

// IsMinter reports whether the address holds the mint capability.
func (l *Ledger) IsMinter(addr crypto.Address) (bool, error) {
	if l == nil || l.state == nil {
		return false, ErrNilState
	}
	return l.state.IsTokenMinter(l.symbol, addr)
}

// Credit adds units to an account without a capability check. Reserved for
// genesis provisioning and tests; nothing reachable from the RPC surface
// calls it.
func (l *Ledger) Credit(to crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if to.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.state.GetTokenBalance(l.symbol, to)
	if err != nil {
		return err
	}
	return l.state.PutTokenBalance(l.symbol, to, new(big.Int).Add(balance, amount))
}

func (l *Ledger) move(from, to crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from.IsZero() || to.IsZero() {
		return ErrInvalidAddress
	}
	fromBalance, err := l.state.GetTokenBalance(l.symbol, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if from.Equal(to) {
		return nil
	}
	toBalance, err := l.state.GetTokenBalance(l.symbol, to)
	if err != nil {
		return err
	}
	if err := l.state.PutTokenBalance(l.symbol, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.PutTokenBalance(l.symbol, to, new(big.Int).Add(toBalance, amount))
}

func (l *Ledger) spendAllowance(owner, spender crypto.Address, amount *big.Int) error {
	allowance, err := l.state.GetTokenAllowance(l.symbol, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	return l.state.PutTokenAllowance(l.symbol, owner, spender, new(big.Int).Sub(allowance, amount))
}
