package redeemer

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "dstable/native/common"
	"dstable/native/oracle"
	"dstable/native/token"
	"dstable/native/vault"
	"dstable/observability"
)

const moduleName = "redeemer"

// MaxFeeBps caps governance-settable redemption fees at 5%.
const MaxFeeBps uint64 = 500

var (
	// ErrSlippageExceeded indicates the net collateral output fell below the
	// caller's minimum.
	ErrSlippageExceeded = errors.New("redeemer: slippage exceeded")
	// ErrAssetRedemptionPaused indicates redemption into this collateral is
	// halted while the asset remains otherwise supported.
	ErrAssetRedemptionPaused = errors.New("redeemer: asset redemption paused")
	// ErrFeeTooHigh indicates a fee setter exceeded MaxFeeBps.
	ErrFeeTooHigh = errors.New("redeemer: fee exceeds maximum")
	// ErrInsufficientVaultBalance indicates the vault holds less of the asset
	// than the redemption would pay out.
	ErrInsufficientVaultBalance = errors.New("redeemer: vault balance below redemption size")
	// ErrFeeReceiverUnset indicates a nonzero fee with no configured receiver.
	ErrFeeReceiverUnset = errors.New("redeemer: fee receiver not set")

	errInvalidAmount = errors.New("redeemer: amount must be positive")
)

// Redeemer burns stablecoin for vault collateral net of fees. Redemption
// pauses and fees are tracked independently of the issuer's mint pauses so
// incidents can be managed one direction at a time.
type Redeemer struct {
	mu     sync.Mutex
	addr   common.Address
	auth   *nativecommon.Authority
	stable *token.Token
	vault  *vault.CollateralVault
	prices oracle.PriceSource
	pauses *nativecommon.PauseRegistry
	log    *slog.Logger

	feeMu         sync.RWMutex
	feeReceiver   common.Address
	defaultFeeBps uint64
	assetFeeBps   map[common.Address]uint64
	pausedAssets  map[common.Address]bool
}

// New constructs a redeemer with the supplied default fee.
func New(addr common.Address, auth *nativecommon.Authority, stable *token.Token, cv *vault.CollateralVault, prices oracle.PriceSource, pauses *nativecommon.PauseRegistry, feeReceiver common.Address, defaultFeeBps uint64) (*Redeemer, error) {
	if defaultFeeBps > MaxFeeBps {
		return nil, ErrFeeTooHigh
	}
	return &Redeemer{
		addr:          addr,
		auth:          auth,
		stable:        stable,
		vault:         cv,
		prices:        prices,
		pauses:        pauses,
		feeReceiver:   feeReceiver,
		defaultFeeBps: defaultFeeBps,
		assetFeeBps:   make(map[common.Address]uint64),
		pausedAssets:  make(map[common.Address]bool),
	}, nil
}

// SetLogger wires the structured logger.
func (r *Redeemer) SetLogger(log *slog.Logger) {
	if r == nil {
		return
	}
	r.log = log
}

// Address returns the redeemer's module identity.
func (r *Redeemer) Address() common.Address { return r.addr }

// SetFeeReceiver updates the fee destination. Gated on RoleProtocolAdmin.
func (r *Redeemer) SetFeeReceiver(caller, receiver common.Address) error {
	if err := r.auth.Require(nativecommon.RoleProtocolAdmin, caller); err != nil {
		return err
	}
	r.feeMu.Lock()
	defer r.feeMu.Unlock()
	r.feeReceiver = receiver
	return nil
}

// SetDefaultRedemptionFee updates the fallback fee applied when no per-asset
// override exists.
func (r *Redeemer) SetDefaultRedemptionFee(caller common.Address, bps uint64) error {
	if err := r.auth.Require(nativecommon.RoleRedemptionManager, caller); err != nil {
		return err
	}
	if bps > MaxFeeBps {
		return ErrFeeTooHigh
	}
	r.feeMu.Lock()
	defer r.feeMu.Unlock()
	r.defaultFeeBps = bps
	return nil
}

// SetCollateralRedemptionFee configures a per-asset fee override.
func (r *Redeemer) SetCollateralRedemptionFee(caller, asset common.Address, bps uint64) error {
	if err := r.auth.Require(nativecommon.RoleRedemptionManager, caller); err != nil {
		return err
	}
	if bps > MaxFeeBps {
		return ErrFeeTooHigh
	}
	r.feeMu.Lock()
	defer r.feeMu.Unlock()
	r.assetFeeBps[asset] = bps
	return nil
}

// ClearCollateralRedemptionFee removes a per-asset override, reverting the
// asset to the default fee.
func (r *Redeemer) ClearCollateralRedemptionFee(caller, asset common.Address) error {
	if err := r.auth.Require(nativecommon.RoleRedemptionManager, caller); err != nil {
		return err
	}
	r.feeMu.Lock()
	defer r.feeMu.Unlock()
	delete(r.assetFeeBps, asset)
	return nil
}

// RedemptionFeeBps returns the effective fee for an asset.
func (r *Redeemer) RedemptionFeeBps(asset common.Address) uint64 {
	r.feeMu.RLock()
	defer r.feeMu.RUnlock()
	if bps, ok := r.assetFeeBps[asset]; ok {
		return bps
	}
	return r.defaultFeeBps
}

// SetAssetRedemptionPause halts or resumes redemption into a single asset.
// Independent of the issuer's mint pause for the same asset.
func (r *Redeemer) SetAssetRedemptionPause(caller, asset common.Address, paused bool) error {
	if err := r.auth.Require(nativecommon.RolePauser, caller); err != nil {
		return err
	}
	r.feeMu.Lock()
	defer r.feeMu.Unlock()
	if paused {
		r.pausedAssets[asset] = true
	} else {
		delete(r.pausedAssets, asset)
	}
	return nil
}

// IsAssetRedemptionEnabled reports whether the asset is supported and not
// redemption-paused.
func (r *Redeemer) IsAssetRedemptionEnabled(asset common.Address) bool {
	if !r.vault.IsCollateralSupported(asset) {
		return false
	}
	r.feeMu.RLock()
	defer r.feeMu.RUnlock()
	return !r.pausedAssets[asset]
}

// Pause halts all redemption paths.
func (r *Redeemer) Pause(caller common.Address) error {
	return r.pauses.SetPaused(caller, moduleName, true)
}

// Unpause resumes redemption.
func (r *Redeemer) Unpause(caller common.Address) error {
	return r.pauses.SetPaused(caller, moduleName, false)
}

// Redeem burns the caller's stablecoin and pays out collateral net of the
// configured fee. The caller must have approved the redeemer for the burn.
func (r *Redeemer) Redeem(caller common.Address, stableAmount *big.Int, asset common.Address, minCollateralOut *big.Int) (*big.Int, error) {
	return r.redeem(caller, stableAmount, asset, minCollateralOut, r.RedemptionFeeBps(asset))
}

// RedeemAsProtocol is the fee-free redemption path for governance-driven
// rebalancing. Gated on RoleRedemptionManager; mechanics are otherwise
// identical to Redeem.
func (r *Redeemer) RedeemAsProtocol(caller common.Address, stableAmount *big.Int, asset common.Address, minCollateralOut *big.Int) (*big.Int, error) {
	if err := r.auth.Require(nativecommon.RoleRedemptionManager, caller); err != nil {
		return nil, err
	}
	return r.redeem(caller, stableAmount, asset, minCollateralOut, 0)
}

func (r *Redeemer) redeem(caller common.Address, stableAmount *big.Int, asset common.Address, minCollateralOut *big.Int, feeBps uint64) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	if stableAmount == nil || stableAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if !r.vault.IsCollateralSupported(asset) {
		return nil, vault.ErrUnsupportedCollateral
	}
	r.feeMu.RLock()
	assetPaused := r.pausedAssets[asset]
	feeReceiver := r.feeReceiver
	r.feeMu.RUnlock()
	if assetPaused {
		return nil, ErrAssetRedemptionPaused
	}

	stablePrice, err := r.prices.AssetPrice(r.stable.Address())
	if err != nil {
		return nil, err
	}
	baseValue := nativecommon.MulDiv(stableAmount, stablePrice, nativecommon.Pow10(r.stable.Decimals()))
	gross, err := r.vault.AssetAmountFromValue(baseValue, asset)
	if err != nil {
		return nil, err
	}
	fee := nativecommon.BpsShare(gross, feeBps)
	net := new(big.Int).Sub(gross, fee)
	if minCollateralOut != nil && net.Cmp(minCollateralOut) < 0 {
		return nil, ErrSlippageExceeded
	}

	// The burn cannot be undone; every withdrawal failure mode must be ruled
	// out before the stable is destroyed.
	held, err := r.vault.CollateralBalance(asset)
	if err != nil {
		return nil, err
	}
	if gross.Cmp(held) > 0 {
		return nil, ErrInsufficientVaultBalance
	}
	if fee.Sign() > 0 && feeReceiver == (common.Address{}) {
		return nil, ErrFeeReceiverUnset
	}

	// Burn before withdrawal so a caller can never redeem beyond their
	// verified balance through reentrant asset hooks.
	if err := r.stable.BurnFrom(r.addr, caller, stableAmount); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := r.vault.Withdraw(r.addr, asset, feeReceiver, fee); err != nil {
			return nil, err
		}
	}
	if err := r.vault.Withdraw(r.addr, asset, caller, net); err != nil {
		return nil, err
	}

	observability.Protocol().RecordRedeem()
	if r.log != nil {
		r.log.Info("stable redeemed",
			"caller", caller.Hex(),
			"asset", asset.Hex(),
			"stable_in", stableAmount.String(),
			"collateral_out", net.String(),
			"fee", fee.String(),
		)
	}
	return net, nil
}
