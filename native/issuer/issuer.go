package issuer

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

const moduleName = "issuer"

var (
	// ErrSlippageExceeded indicates the computed stable output fell below the
	// caller's minimum.
	ErrSlippageExceeded = errors.New("issuer: slippage exceeded")
	// ErrAssetMintingPaused indicates minting against this collateral is
	// halted while the asset remains otherwise supported.
	ErrAssetMintingPaused = errors.New("issuer: asset minting paused")
	// ErrValueTooSmall indicates the priced collateral truncates to zero
	// stable output.
	ErrValueTooSmall = errors.New("issuer: collateral value rounds to zero stable")
	// ErrIssuanceSurpassesExcessCollateral indicates an excess-collateral
	// issuance would push circulating supply past vault value. This should
	// never fire under correct configuration.
	ErrIssuanceSurpassesExcessCollateral = errors.New("issuer: issuance surpasses excess collateral")

	errInvalidAmount = errors.New("issuer: amount must be positive")
)

// Issuer converts externally supplied collateral into freshly minted
// stablecoin under a live solvency check. It deposits into the vault but
// deliberately holds no withdrawal capability.
type Issuer struct {
	mu       sync.Mutex
	addr     common.Address
	auth     *nativecommon.Authority
	stable   *token.Token
	debt     *token.DebtReceiptToken
	vault    *vault.CollateralVault
	prices   oracle.PriceSource
	baseUnit *big.Int
	pauses   *nativecommon.PauseRegistry
	log      *slog.Logger

	pauseMu      sync.RWMutex
	pausedAssets map[common.Address]bool
}

// New constructs an issuer. The base currency unit is read once from the
// price source and fixed for the issuer's lifetime.
func New(addr common.Address, auth *nativecommon.Authority, stable *token.Token, debt *token.DebtReceiptToken, cv *vault.CollateralVault, prices oracle.PriceSource, pauses *nativecommon.PauseRegistry) *Issuer {
	return &Issuer{
		addr:         addr,
		auth:         auth,
		stable:       stable,
		debt:         debt,
		vault:        cv,
		prices:       prices,
		baseUnit:     prices.BaseCurrencyUnit(),
		pauses:       pauses,
		pausedAssets: make(map[common.Address]bool),
	}
}

// SetLogger wires the structured logger. Nil-safe; engines log nothing when
// no logger is configured.
func (i *Issuer) SetLogger(log *slog.Logger) {
	if i == nil {
		return
	}
	i.log = log
}

// Address returns the issuer's module identity.
func (i *Issuer) Address() common.Address { return i.addr }

// SetCollateralVault swaps the vault reference. Gated on RoleProtocolAdmin.
func (i *Issuer) SetCollateralVault(caller common.Address, cv *vault.CollateralVault) error {
	if err := i.auth.Require(nativecommon.RoleProtocolAdmin, caller); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.vault = cv
	return nil
}

// SetAssetMintingPause halts or resumes minting against a single collateral
// asset. Independent of the vault's allow flag so governance can stop
// issuance without dropping collateral support.
func (i *Issuer) SetAssetMintingPause(caller, asset common.Address, paused bool) error {
	if err := i.auth.Require(nativecommon.RolePauser, caller); err != nil {
		return err
	}
	i.pauseMu.Lock()
	defer i.pauseMu.Unlock()
	if paused {
		i.pausedAssets[asset] = true
	} else {
		delete(i.pausedAssets, asset)
	}
	return nil
}

// IsAssetMintingEnabled reports whether the asset is supported and not
// mint-paused.
func (i *Issuer) IsAssetMintingEnabled(asset common.Address) bool {
	if !i.vault.IsCollateralSupported(asset) {
		return false
	}
	i.pauseMu.RLock()
	defer i.pauseMu.RUnlock()
	return !i.pausedAssets[asset]
}

// PauseMinting halts every minting path, including excess-collateral
// issuance.
func (i *Issuer) PauseMinting(caller common.Address) error {
	return i.pauses.SetPaused(caller, moduleName, true)
}

// UnpauseMinting resumes minting.
func (i *Issuer) UnpauseMinting(caller common.Address) error {
	return i.pauses.SetPaused(caller, moduleName, false)
}

// BaseValueToStableAmount converts a base-currency value into stable token
// units at the live stable price.
func (i *Issuer) BaseValueToStableAmount(value *big.Int) (*big.Int, error) {
	stablePrice, err := i.prices.AssetPrice(i.stable.Address())
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(value, nativecommon.Pow10(i.stable.Decimals()), stablePrice), nil
}

// CirculatingSupply returns total stable supply minus the portion mirrored by
// the debt receipt: the quantity the solvency invariant bounds. Pure view, no
// oracle reads; debt receipts track base value 1:1 so the conversion is a
// pure decimal rescale.
func (i *Issuer) CirculatingSupply() *big.Int {
	total := i.stable.TotalSupply()
	debtAsStable := nativecommon.MulDiv(
		i.debt.TotalSupply(),
		nativecommon.Pow10(i.stable.Decimals()),
		nativecommon.Pow10(i.debt.Decimals()),
	)
	circulating := new(big.Int).Sub(total, debtAsStable)
	if circulating.Sign() < 0 {
		return big.NewInt(0)
	}
	return circulating
}

// Issue prices the supplied collateral, moves it into the vault, and mints
// the equivalent stablecoin to the caller. Collateral transfer and mint are
// a single critical section; the lock also protects against recursive entry
// through exotic asset transfer hooks.
func (i *Issuer) Issue(caller, asset common.Address, collateralAmount, minStableOut *big.Int) (*big.Int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := nativecommon.Guard(i.pauses, moduleName); err != nil {
		return nil, err
	}
	if collateralAmount == nil || collateralAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if !i.vault.IsCollateralSupported(asset) {
		return nil, vault.ErrUnsupportedCollateral
	}
	i.pauseMu.RLock()
	assetPaused := i.pausedAssets[asset]
	i.pauseMu.RUnlock()
	if assetPaused {
		return nil, ErrAssetMintingPaused
	}

	baseValue, err := i.vault.AssetValueFromAmount(collateralAmount, asset)
	if err != nil {
		return nil, err
	}
	stableOut, err := i.BaseValueToStableAmount(baseValue)
	if err != nil {
		return nil, err
	}
	// A zero output would strand the deposit: the vault accepts the
	// collateral and the mint then rejects the amount.
	if stableOut.Sign() == 0 {
		return nil, ErrValueTooSmall
	}
	if minStableOut != nil && stableOut.Cmp(minStableOut) < 0 {
		return nil, ErrSlippageExceeded
	}

	// Confirm mint authority before touching balances so a misconfigured
	// deployment cannot strand the deposit.
	if err := i.auth.Require(nativecommon.RoleMinter, i.addr); err != nil {
		return nil, err
	}
	if err := i.vault.Deposit(caller, asset, collateralAmount); err != nil {
		return nil, err
	}
	if err := i.stable.Mint(i.addr, caller, stableOut); err != nil {
		return nil, err
	}

	observability.Protocol().RecordIssue()
	if i.log != nil {
		i.log.Info("collateral issued",
			"caller", caller.Hex(),
			"asset", asset.Hex(),
			"collateral", collateralAmount.String(),
			"stable_out", stableOut.String(),
		)
	}
	return stableOut, nil
}

// IssueUsingExcessCollateral mints against system-wide surplus rather than a
// specific deposit. The capacity consumed is checked against the projected
// circulating supply, which is exactly the post-mint condition evaluated
// before any state changes.
func (i *Issuer) IssueUsingExcessCollateral(caller, receiver common.Address, stableAmount *big.Int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.auth.Require(nativecommon.RoleIncentivesManager, caller); err != nil {
		return err
	}
	if err := nativecommon.Guard(i.pauses, moduleName); err != nil {
		return err
	}
	if stableAmount == nil || stableAmount.Sign() <= 0 {
		return errInvalidAmount
	}

	vaultValue, err := i.vault.TotalValue()
	if err != nil {
		return err
	}
	capacity, err := i.BaseValueToStableAmount(vaultValue)
	if err != nil {
		return err
	}
	projected := new(big.Int).Add(i.CirculatingSupply(), stableAmount)
	if projected.Cmp(capacity) > 0 {
		return ErrIssuanceSurpassesExcessCollateral
	}

	if err := i.stable.Mint(i.addr, receiver, stableAmount); err != nil {
		return err
	}
	observability.Protocol().RecordIssue()
	if i.log != nil {
		i.log.Info("excess collateral issued",
			"caller", caller.Hex(),
			"receiver", receiver.Hex(),
			"stable_out", stableAmount.String(),
		)
	}
	return nil
}
