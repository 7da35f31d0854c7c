package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "dstable/native/common"
)

// ErrHolderNotAllowed indicates an attempt to move debt receipts to an
// address outside the holder allowlist.
type ErrHolderNotAllowed struct {
	Holder common.Address
}

func (e *ErrHolderNotAllowed) Error() string {
	return fmt.Sprintf("debt token: %s is not an allowed holder", e.Holder.Hex())
}

// DebtReceiptToken mirrors outstanding AMO-minted stablecoin as an 18-decimal
// bookkeeping token. Its supply is the base-currency value of stablecoin
// deployed to AMO strategies, and it may only ever sit in allowlisted
// addresses (the collateral vault and the AMO manager), so it cannot leak
// into general circulation.
type DebtReceiptToken struct {
	*Token
	allowMu sync.RWMutex
	allowed map[common.Address]bool
}

// DebtDecimals is the debt receipt's fixed scale: base-currency value scaled
// to 18 decimals, independent of the stablecoin's own decimals.
const DebtDecimals uint8 = 18

// NewDebtReceipt constructs the debt receipt token. Mint and burn are gated
// on RoleAmoManager.
func NewDebtReceipt(addr common.Address, symbol string, auth *nativecommon.Authority) *DebtReceiptToken {
	return &DebtReceiptToken{
		Token:   New(addr, symbol, DebtDecimals, auth, nativecommon.RoleAmoManager),
		allowed: make(map[common.Address]bool),
	}
}

// SetAllowedHolder toggles an address on the holder allowlist. Gated on
// RoleAmoAdmin.
func (d *DebtReceiptToken) SetAllowedHolder(caller, holder common.Address, allowed bool) error {
	if err := d.auth.Require(nativecommon.RoleAmoAdmin, caller); err != nil {
		return err
	}
	d.allowMu.Lock()
	defer d.allowMu.Unlock()
	if allowed {
		d.allowed[holder] = true
	} else {
		delete(d.allowed, holder)
	}
	return nil
}

// IsAllowedHolder reports allowlist membership.
func (d *DebtReceiptToken) IsAllowedHolder(holder common.Address) bool {
	d.allowMu.RLock()
	defer d.allowMu.RUnlock()
	return d.allowed[holder]
}

func (d *DebtReceiptToken) requireAllowed(holder common.Address) error {
	if d.IsAllowedHolder(holder) {
		return nil
	}
	return &ErrHolderNotAllowed{Holder: holder}
}

// Mint enforces the allowlist on the destination before creating supply.
func (d *DebtReceiptToken) Mint(caller, to common.Address, amount *big.Int) error {
	if err := d.requireAllowed(to); err != nil {
		return err
	}
	return d.Token.Mint(caller, to, amount)
}

// Transfer enforces the allowlist on the destination.
func (d *DebtReceiptToken) Transfer(from, to common.Address, amount *big.Int) error {
	if err := d.requireAllowed(to); err != nil {
		return err
	}
	return d.Token.Transfer(from, to, amount)
}

// BurnFromVault destroys debt receipts held by an allowlisted address without
// an allowance round trip. Only RoleAmoManager holders may call it; the AMO
// manager uses it when unwinding exposure recorded in the vault.
func (d *DebtReceiptToken) BurnFromVault(caller, holder common.Address, amount *big.Int) error {
	if err := d.auth.Require(nativecommon.RoleAmoManager, caller); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.debit(holder, amount); err != nil {
		return err
	}
	d.totalSupply = new(big.Int).Sub(d.totalSupply, amount)
	return nil
}
