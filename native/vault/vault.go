package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "dstable/native/common"
	"dstable/native/oracle"
)

var (
	// ErrUnsupportedCollateral indicates the asset is not in the allowed set.
	ErrUnsupportedCollateral = errors.New("vault: unsupported collateral")
	// ErrUnknownAsset indicates the asset was never registered with the vault.
	ErrUnknownAsset = errors.New("vault: unknown asset")
	// ErrNoLivePrice indicates an asset cannot be allowed because the oracle
	// has no trusted price for it.
	ErrNoLivePrice = errors.New("vault: no live oracle price for asset")

	errInvalidAmount = errors.New("vault: amount must be positive")
)

// Asset is the token surface the vault needs from anything it custodies.
type Asset interface {
	Address() common.Address
	Symbol() string
	Decimals() uint8
	BalanceOf(addr common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
}

// CollateralVault custodies whitelisted collateral and values it against the
// oracle. Valuation fails closed: a single unavailable price on a held asset
// makes TotalValue error rather than silently understate NAV.
type CollateralVault struct {
	mu       sync.RWMutex
	addr     common.Address
	auth     *nativecommon.Authority
	prices   oracle.PriceSource
	baseUnit *big.Int
	assets   map[common.Address]Asset
	allowed  map[common.Address]bool
}

// New constructs a vault bound to the shared authority table and price
// source. The base currency unit is read once here and reused for the vault's
// lifetime.
func New(addr common.Address, auth *nativecommon.Authority, prices oracle.PriceSource) *CollateralVault {
	return &CollateralVault{
		addr:     addr,
		auth:     auth,
		prices:   prices,
		baseUnit: prices.BaseCurrencyUnit(),
		assets:   make(map[common.Address]Asset),
		allowed:  make(map[common.Address]bool),
	}
}

// Address returns the vault's ledger identity.
func (v *CollateralVault) Address() common.Address { return v.addr }

// AllowCollateral adds an asset to the allowed set. The oracle must already
// serve a price for it; a dead feed is a configuration error surfaced now
// rather than at first valuation.
func (v *CollateralVault) AllowCollateral(caller common.Address, asset Asset) error {
	if err := v.auth.Require(nativecommon.RoleCollateralManager, caller); err != nil {
		return err
	}
	if asset == nil {
		return ErrUnknownAsset
	}
	if _, err := v.prices.AssetPrice(asset.Address()); err != nil {
		return fmt.Errorf("%w: %s", ErrNoLivePrice, asset.Address().Hex())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.assets[asset.Address()] = asset
	v.allowed[asset.Address()] = true
	return nil
}

// DisallowCollateral removes the asset from the allowed set. A residual dust
// balance is tolerated: the asset stops counting toward TotalValue and stops
// accepting deposits, but the balance stays put until a strategy-role
// withdrawal moves it.
func (v *CollateralVault) DisallowCollateral(caller, asset common.Address) error {
	if err := v.auth.Require(nativecommon.RoleCollateralManager, caller); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.assets[asset]; !ok {
		return ErrUnknownAsset
	}
	v.allowed[asset] = false
	return nil
}

// IsCollateralSupported reports whether the asset is currently allowed.
func (v *CollateralVault) IsCollateralSupported(asset common.Address) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.allowed[asset]
}

// SupportedAssets returns the currently allowed assets.
func (v *CollateralVault) SupportedAssets() []Asset {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Asset, 0, len(v.assets))
	for addr, asset := range v.assets {
		if v.allowed[addr] {
			out = append(out, asset)
		}
	}
	return out
}

// CollateralBalance reports the vault's held balance of a registered asset.
func (v *CollateralVault) CollateralBalance(asset common.Address) (*big.Int, error) {
	v.mu.RLock()
	registered, ok := v.assets[asset]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownAsset
	}
	return registered.BalanceOf(v.addr), nil
}

// AssetValueFromAmount converts an asset amount to base-currency value using
// the live oracle price: price * amount / 10^decimals.
func (v *CollateralVault) AssetValueFromAmount(amount *big.Int, asset common.Address) (*big.Int, error) {
	v.mu.RLock()
	registered, ok := v.assets[asset]
	allowed := v.allowed[asset]
	v.mu.RUnlock()
	if !ok || !allowed {
		return nil, ErrUnsupportedCollateral
	}
	price, err := v.prices.AssetPrice(asset)
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(amount, price, nativecommon.Pow10(registered.Decimals())), nil
}

// AssetAmountFromValue converts a base-currency value into asset units at the
// live oracle price: value * 10^decimals / price.
func (v *CollateralVault) AssetAmountFromValue(value *big.Int, asset common.Address) (*big.Int, error) {
	v.mu.RLock()
	registered, ok := v.assets[asset]
	allowed := v.allowed[asset]
	v.mu.RUnlock()
	if !ok || !allowed {
		return nil, ErrUnsupportedCollateral
	}
	price, err := v.prices.AssetPrice(asset)
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(value, nativecommon.Pow10(registered.Decimals()), price), nil
}

// TotalValue sums the base-currency value of every allowed, held asset. It
// errors when any held asset's price is unavailable.
func (v *CollateralVault) TotalValue() (*big.Int, error) {
	v.mu.RLock()
	assets := make([]Asset, 0, len(v.assets))
	for addr, asset := range v.assets {
		if v.allowed[addr] {
			assets = append(assets, asset)
		}
	}
	v.mu.RUnlock()

	total := big.NewInt(0)
	for _, asset := range assets {
		balance := asset.BalanceOf(v.addr)
		if balance.Sign() == 0 {
			continue
		}
		price, err := v.prices.AssetPrice(asset.Address())
		if err != nil {
			return nil, fmt.Errorf("vault: valuing %s: %w", asset.Symbol(), err)
		}
		value := nativecommon.MulDiv(balance, price, nativecommon.Pow10(asset.Decimals()))
		total.Add(total, value)
	}
	return total, nil
}

// Deposit pulls an allowed asset from the depositor into vault custody.
func (v *CollateralVault) Deposit(from, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	v.mu.RLock()
	registered, ok := v.assets[asset]
	allowed := v.allowed[asset]
	v.mu.RUnlock()
	if !ok || !allowed {
		return ErrUnsupportedCollateral
	}
	return registered.Transfer(from, v.addr, amount)
}

// Withdraw releases custody of an allowed asset to the recipient. Restricted
// to RoleCollateralWithdrawer; the issuer deliberately never holds it.
func (v *CollateralVault) Withdraw(caller, asset, to common.Address, amount *big.Int) error {
	if err := v.auth.Require(nativecommon.RoleCollateralWithdrawer, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	v.mu.RLock()
	registered, ok := v.assets[asset]
	allowed := v.allowed[asset]
	v.mu.RUnlock()
	if !ok || !allowed {
		return ErrUnsupportedCollateral
	}
	return registered.Transfer(v.addr, to, amount)
}

// RecoverDust moves residual balance of a disallowed asset out of the vault.
// Restricted to RoleCollateralStrategy, the manual path governance uses after
// disallowing an asset that still had balance.
func (v *CollateralVault) RecoverDust(caller, asset, to common.Address, amount *big.Int) error {
	if err := v.auth.Require(nativecommon.RoleCollateralStrategy, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	v.mu.RLock()
	registered, ok := v.assets[asset]
	v.mu.RUnlock()
	if !ok {
		return ErrUnknownAsset
	}
	return registered.Transfer(v.addr, to, amount)
}
