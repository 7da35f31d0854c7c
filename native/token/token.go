package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "dstable/native/common"
)

var (
	errInvalidAmount       = errors.New("token: amount must be positive")
	errInsufficientBalance = errors.New("token: insufficient balance")
	errInsufficientAllow   = errors.New("token: insufficient allowance")
	errZeroAddress         = errors.New("token: zero address")
)

// ledger holds the balance and allowance books shared by every token flavour.
// All mutations happen under the write lock; amounts are copied on the way in
// and out so callers can never alias internal state.
type ledger struct {
	mu          sync.RWMutex
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
	totalSupply *big.Int
}

func newLedger() *ledger {
	return &ledger{
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		totalSupply: big.NewInt(0),
	}
}

func (l *ledger) balanceOf(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance := l.balances[addr]
	if balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

func (l *ledger) supply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalSupply)
}

// credit and debit assume the caller holds the write lock.
func (l *ledger) credit(addr common.Address, amount *big.Int) {
	balance := l.balances[addr]
	if balance == nil {
		balance = big.NewInt(0)
	}
	l.balances[addr] = new(big.Int).Add(balance, amount)
}

func (l *ledger) debit(addr common.Address, amount *big.Int) error {
	balance := l.balances[addr]
	if balance == nil || balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	l.balances[addr] = new(big.Int).Sub(balance, amount)
	return nil
}

func (l *ledger) spendAllowance(owner, spender common.Address, amount *big.Int) error {
	approved := l.allowances[owner][spender]
	if approved == nil || approved.Cmp(amount) < 0 {
		return errInsufficientAllow
	}
	l.allowances[owner][spender] = new(big.Int).Sub(approved, amount)
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	return nil
}

// Token is the protocol's mintable/burnable fungible token. Supply increases
// only through role-gated Mint calls and decreases through Burn/BurnFrom with
// standard allowance semantics.
type Token struct {
	*ledger
	addr     common.Address
	symbol   string
	decimals uint8
	auth     *nativecommon.Authority
	mintRole nativecommon.Role
}

// New constructs a token whose Mint entry point is gated on mintRole in the
// shared authority table.
func New(addr common.Address, symbol string, decimals uint8, auth *nativecommon.Authority, mintRole nativecommon.Role) *Token {
	return &Token{
		ledger:   newLedger(),
		addr:     addr,
		symbol:   symbol,
		decimals: decimals,
		auth:     auth,
		mintRole: mintRole,
	}
}

// NewStable constructs the protocol stablecoin: 18 decimals, minting gated on
// RoleMinter.
func NewStable(addr common.Address, symbol string, auth *nativecommon.Authority) *Token {
	return New(addr, symbol, 18, auth, nativecommon.RoleMinter)
}

// Address returns the token's ledger identity.
func (t *Token) Address() common.Address { return t.addr }

// Symbol returns the display symbol.
func (t *Token) Symbol() string { return t.symbol }

// Decimals returns the token's own fixed-point scale.
func (t *Token) Decimals() uint8 { return t.decimals }

// TotalSupply returns the current supply.
func (t *Token) TotalSupply() *big.Int { return t.supply() }

// BalanceOf returns the holder's balance.
func (t *Token) BalanceOf(addr common.Address) *big.Int { return t.balanceOf(addr) }

// Mint credits freshly created supply to the recipient. Only mintRole holders
// may call it.
func (t *Token) Mint(caller, to common.Address, amount *big.Int) error {
	if err := t.auth.Require(t.mintRole, caller); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return errZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
	t.totalSupply = new(big.Int).Add(t.totalSupply, amount)
	return nil
}

// Burn destroys supply from the caller's own balance.
func (t *Token) Burn(caller common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(caller, amount); err != nil {
		return err
	}
	t.totalSupply = new(big.Int).Sub(t.totalSupply, amount)
	return nil
}

// BurnFrom destroys supply from another holder's balance, consuming the
// caller's allowance.
func (t *Token) BurnFrom(caller, from common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.spendAllowance(from, caller, amount); err != nil {
		return err
	}
	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.totalSupply = new(big.Int).Sub(t.totalSupply, amount)
	return nil
}

// Transfer moves balance between holders. The engines pass the authenticated
// caller as from; the token itself performs no signature checks.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return errZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

// Approve sets the spender's allowance over the owner's balance.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the spender's remaining allowance over the owner's
// balance.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	approved := t.allowances[owner][spender]
	if approved == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(approved)
}
