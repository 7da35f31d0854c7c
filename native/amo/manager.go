package amo

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "dstable/native/common"
	"dstable/native/oracle"
	"dstable/native/token"
	"dstable/native/vault"
	"dstable/observability"
)

var (
	// ErrIncreasePaused indicates supply expansion is halted. Decreases stay
	// available so positions can always be wound down.
	ErrIncreasePaused = errors.New("amo: supply increase paused")
	// ErrWalletNotAllowed indicates the target wallet is not on the operator
	// allowlist.
	ErrWalletNotAllowed = errors.New("amo: wallet not allowed")
	// ErrDebtParityBroken indicates recorded allocations and the debt receipt
	// supply have drifted beyond the configured tolerance.
	ErrDebtParityBroken = errors.New("amo: debt parity broken")
	// ErrAllocationExceeded indicates a decrease would retire more debt than
	// the wallet's recorded allocation plus the rounding tolerance.
	ErrAllocationExceeded = errors.New("amo: decrease exceeds wallet allocation")
	// ErrPegDeviationOutOfRange indicates a deviation limit above 100%.
	ErrPegDeviationOutOfRange = errors.New("amo: peg deviation out of range")

	errInvalidAmount = errors.New("amo: amount must be positive")
)

// PegDeviationError reports a circuit breaker trip: an asset's oracle price
// moved further from the base currency unit than the configured limit allows.
type PegDeviationError struct {
	Asset        common.Address
	Price        *big.Int
	DeviationBps uint64
	LimitBps     uint64
}

func (e *PegDeviationError) Error() string {
	return fmt.Sprintf("amo: peg deviation %dbps exceeds %dbps limit for %s (price %s)",
		e.DeviationBps, e.LimitBps, e.Asset.Hex(), e.Price)
}

// Manager expands and contracts stablecoin supply against debt receipts. Every
// minted stablecoin unit is matched by debt receipts parked in the collateral
// vault, so supply changes are solvency-neutral by construction.
type Manager struct {
	mu       sync.Mutex
	addr     common.Address
	auth     *nativecommon.Authority
	stable   *token.Token
	debt     *token.DebtReceiptToken
	vault    *vault.CollateralVault
	prices   oracle.PriceSource
	baseUnit *big.Int
	journal  *Journal
	log      *slog.Logger
	now      func() time.Time

	cfgMu           sync.RWMutex
	pegDeviationBps uint64
	tolerance       *big.Int
	allocations     map[common.Address]*big.Int
	allowedWallets  map[common.Address]bool
	increasePaused  bool
	mintQuota       nativecommon.Quota
	quotaUsage      map[common.Address]nativecommon.QuotaNow
}

// NewManager constructs a supply manager. The peg deviation limit and parity
// tolerance come from configuration; both can be retuned at runtime by the
// admin role.
func NewManager(addr common.Address, auth *nativecommon.Authority, stable *token.Token, debt *token.DebtReceiptToken, cv *vault.CollateralVault, prices oracle.PriceSource, journal *Journal, pegDeviationBps uint64, tolerance *big.Int) (*Manager, error) {
	if pegDeviationBps > nativecommon.MaxBps {
		return nil, ErrPegDeviationOutOfRange
	}
	if tolerance == nil || tolerance.Sign() < 0 {
		tolerance = big.NewInt(0)
	}
	return &Manager{
		addr:            addr,
		auth:            auth,
		stable:          stable,
		debt:            debt,
		vault:           cv,
		prices:          prices,
		baseUnit:        prices.BaseCurrencyUnit(),
		journal:         journal,
		now:             time.Now,
		pegDeviationBps: pegDeviationBps,
		tolerance:       new(big.Int).Set(tolerance),
		allocations:     make(map[common.Address]*big.Int),
		allowedWallets:  make(map[common.Address]bool),
		quotaUsage:      make(map[common.Address]nativecommon.QuotaNow),
	}, nil
}

// SetLogger wires the structured logger.
func (m *Manager) SetLogger(log *slog.Logger) {
	if m == nil {
		return
	}
	m.log = log
}

// SetClock overrides the time source (primarily for deterministic testing).
func (m *Manager) SetClock(clock func() time.Time) {
	if m == nil || clock == nil {
		return
	}
	m.now = clock
}

// Address returns the manager's module identity.
func (m *Manager) Address() common.Address { return m.addr }

// SetMintQuota bounds per-wallet supply expansion within an epoch. A zero
// quota disables the limit.
func (m *Manager) SetMintQuota(caller common.Address, quota nativecommon.Quota) error {
	if err := m.auth.Require(nativecommon.RoleAmoAdmin, caller); err != nil {
		return err
	}
	if quota.Enabled() && quota.EpochSeconds == 0 {
		return errInvalidAmount
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.mintQuota = quota
	m.quotaUsage = make(map[common.Address]nativecommon.QuotaNow)
	return nil
}

// SetPegDeviationBps retunes the circuit breaker limit.
func (m *Manager) SetPegDeviationBps(caller common.Address, bps uint64) error {
	if err := m.auth.Require(nativecommon.RoleAmoAdmin, caller); err != nil {
		return err
	}
	if bps > nativecommon.MaxBps {
		return ErrPegDeviationOutOfRange
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.pegDeviationBps = bps
	return nil
}

// PegDeviationBps returns the current circuit breaker limit.
func (m *Manager) PegDeviationBps() uint64 {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.pegDeviationBps
}

// SetTolerance retunes the allowed drift between debt receipt supply and the
// recorded allocation total.
func (m *Manager) SetTolerance(caller common.Address, tolerance *big.Int) error {
	if err := m.auth.Require(nativecommon.RoleAmoAdmin, caller); err != nil {
		return err
	}
	if tolerance == nil || tolerance.Sign() < 0 {
		return errInvalidAmount
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.tolerance = new(big.Int).Set(tolerance)
	return nil
}

// SetAmoWalletAllowed adds or removes a wallet from the operator allowlist.
// Removal only blocks further increases; decreases against an existing
// allocation stay possible.
func (m *Manager) SetAmoWalletAllowed(caller, wallet common.Address, allowed bool) error {
	if err := m.auth.Require(nativecommon.RoleAmoAdmin, caller); err != nil {
		return err
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if allowed {
		m.allowedWallets[wallet] = true
	} else {
		delete(m.allowedWallets, wallet)
	}
	return nil
}

// IsAmoWalletAllowed reports allowlist membership.
func (m *Manager) IsAmoWalletAllowed(wallet common.Address) bool {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.allowedWallets[wallet]
}

// SetIncreasePaused halts or resumes supply expansion. Explicitly independent
// of the issuer and redeemer pauses.
func (m *Manager) SetIncreasePaused(caller common.Address, paused bool) error {
	if err := m.auth.Require(nativecommon.RolePauser, caller); err != nil {
		return err
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.increasePaused = paused
	return nil
}

// IsIncreasePaused reports whether supply expansion is halted.
func (m *Manager) IsIncreasePaused() bool {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.increasePaused
}

// AmoWalletAllocation returns the debt units recorded against a wallet.
func (m *Manager) AmoWalletAllocation(wallet common.Address) *big.Int {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	if alloc, ok := m.allocations[wallet]; ok {
		return new(big.Int).Set(alloc)
	}
	return big.NewInt(0)
}

// TotalAllocated sums recorded allocations across all wallets.
func (m *Manager) TotalAllocated() *big.Int {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.totalAllocatedLocked()
}

func (m *Manager) totalAllocatedLocked() *big.Int {
	total := big.NewInt(0)
	for _, alloc := range m.allocations {
		total.Add(total, alloc)
	}
	return total
}

// CheckParity verifies the debt receipt supply matches recorded allocations
// within tolerance.
func (m *Manager) CheckParity() error {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.checkParityLocked()
}

func (m *Manager) checkParityLocked() error {
	drift := nativecommon.AbsDiff(m.debt.TotalSupply(), m.totalAllocatedLocked())
	if drift.Cmp(m.tolerance) > 0 {
		return fmt.Errorf("%w: drift %s exceeds tolerance %s", ErrDebtParityBroken, drift, m.tolerance)
	}
	return nil
}

// checkPeg trips the circuit breaker when an asset's price has moved further
// from the base currency unit than the configured limit. A missing price trips
// it too.
func (m *Manager) checkPeg(asset common.Address, symbol string, limitBps uint64) (*big.Int, error) {
	price, err := m.prices.AssetPrice(asset)
	if err != nil {
		observability.Protocol().RecordPegGuardTrip(symbol)
		return nil, err
	}
	deviation := nativecommon.MulDiv(nativecommon.AbsDiff(price, m.baseUnit), nativecommon.BasisPoints, m.baseUnit)
	if deviation.Cmp(new(big.Int).SetUint64(limitBps)) > 0 {
		observability.Protocol().RecordPegGuardTrip(symbol)
		return nil, &PegDeviationError{
			Asset:        asset,
			Price:        new(big.Int).Set(price),
			DeviationBps: deviation.Uint64(),
			LimitBps:     limitBps,
		}
	}
	return price, nil
}

// debtUnitsForStable converts a stablecoin amount into debt receipt units at
// the live stable price: amount * price / 10^stableDec gives base value, then
// * 10^debtDec / baseUnit normalises to receipt units.
func (m *Manager) debtUnitsForStable(amount, stablePrice *big.Int) *big.Int {
	baseValue := nativecommon.MulDiv(amount, stablePrice, nativecommon.Pow10(m.stable.Decimals()))
	return nativecommon.MulDiv(baseValue, nativecommon.Pow10(token.DebtDecimals), m.baseUnit)
}

// IncreaseAmoSupply mints stablecoin to an allowed wallet and parks matching
// debt receipts in the vault. Both token prices are re-read on every call so a
// depeg discovered mid-incident stops the very next operation.
func (m *Manager) IncreaseAmoSupply(caller, wallet common.Address, amount *big.Int) (string, error) {
	if err := m.auth.Require(nativecommon.RoleAmoIncrease, caller); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return "", errInvalidAmount
	}
	m.cfgMu.RLock()
	paused := m.increasePaused
	allowed := m.allowedWallets[wallet]
	limitBps := m.pegDeviationBps
	m.cfgMu.RUnlock()
	if paused {
		return "", ErrIncreasePaused
	}
	if !allowed {
		return "", fmt.Errorf("%w: %s", ErrWalletNotAllowed, wallet.Hex())
	}
	stablePrice, err := m.checkPeg(m.stable.Address(), m.stable.Symbol(), limitBps)
	if err != nil {
		return "", err
	}
	if _, err := m.checkPeg(m.debt.Address(), m.debt.Symbol(), limitBps); err != nil {
		return "", err
	}

	m.cfgMu.RLock()
	err = m.checkParityLocked()
	m.cfgMu.RUnlock()
	if err != nil {
		return "", err
	}

	m.cfgMu.Lock()
	if m.mintQuota.Enabled() {
		epoch := uint64(m.now().Unix()) / uint64(m.mintQuota.EpochSeconds)
		usage, quotaErr := nativecommon.CheckQuota(m.mintQuota, epoch, m.quotaUsage[wallet], 1, amount)
		if quotaErr != nil {
			m.cfgMu.Unlock()
			return "", quotaErr
		}
		m.quotaUsage[wallet] = usage
	}
	m.cfgMu.Unlock()

	debtUnits := m.debtUnitsForStable(amount, stablePrice)
	if err := m.stable.Mint(m.addr, wallet, amount); err != nil {
		return "", err
	}
	if err := m.debt.Mint(m.addr, m.vault.Address(), debtUnits); err != nil {
		return "", err
	}
	m.cfgMu.Lock()
	alloc, ok := m.allocations[wallet]
	if !ok {
		alloc = big.NewInt(0)
		m.allocations[wallet] = alloc
	}
	alloc.Add(alloc, debtUnits)
	m.cfgMu.Unlock()

	id, journalErr := m.journal.Append(&OperationRecord{
		Kind:         OpKindIncrease,
		Wallet:       wallet,
		StableAmount: new(big.Int).Set(amount),
		DebtUnits:    debtUnits,
	})
	if journalErr != nil && m.log != nil {
		// The mints are already applied; reporting the append as a failure
		// would invite a retry of an operation that succeeded.
		m.log.Error("amo journal append failed", "error", journalErr, "wallet", wallet.Hex(), "stable", amount.String())
	}
	observability.Protocol().RecordAmoIncrease()
	if m.log != nil {
		m.log.Info("amo supply increased",
			"op_id", id,
			"wallet", wallet.Hex(),
			"stable", amount.String(),
			"debt_units", debtUnits.String(),
		)
	}
	return id, nil
}

// DecreaseAmoSupply burns stablecoin returned by a wallet and retires matching
// debt receipts from the vault. The wallet must have approved the manager for
// the burn. Deliberately unaffected by the increase pause.
func (m *Manager) DecreaseAmoSupply(caller, wallet common.Address, amount *big.Int) (string, error) {
	if err := m.auth.Require(nativecommon.RoleAmoDecrease, caller); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return "", errInvalidAmount
	}
	m.cfgMu.RLock()
	limitBps := m.pegDeviationBps
	m.cfgMu.RUnlock()
	stablePrice, err := m.checkPeg(m.stable.Address(), m.stable.Symbol(), limitBps)
	if err != nil {
		return "", err
	}
	if _, err := m.checkPeg(m.debt.Address(), m.debt.Symbol(), limitBps); err != nil {
		return "", err
	}

	debtUnits := m.debtUnitsForStable(amount, stablePrice)

	m.cfgMu.RLock()
	tolerance := new(big.Int).Set(m.tolerance)
	allocated := big.NewInt(0)
	if alloc, ok := m.allocations[wallet]; ok {
		allocated.Set(alloc)
	}
	m.cfgMu.RUnlock()

	// Rounding drift lets a full unwind overshoot the recorded allocation by
	// at most tolerance; anything beyond that retires another wallet's debt.
	if over := new(big.Int).Sub(debtUnits, allocated); over.Sign() > 0 && over.Cmp(tolerance) > 0 {
		return "", fmt.Errorf("%w: wallet %s allocated %s, retiring %s", ErrAllocationExceeded, wallet.Hex(), allocated, debtUnits)
	}
	// The same tolerance bounds how far vault custody may fall short of the
	// receipts being retired; a larger gap means parity is already broken.
	burnUnits := new(big.Int).Set(debtUnits)
	if held := m.debt.BalanceOf(m.vault.Address()); burnUnits.Cmp(held) > 0 {
		if short := new(big.Int).Sub(burnUnits, held); short.Cmp(tolerance) > 0 {
			return "", fmt.Errorf("%w: vault holds %s receipts, retiring %s", ErrDebtParityBroken, held, burnUnits)
		}
		burnUnits.Set(held)
	}
	if err := m.stable.BurnFrom(m.addr, wallet, amount); err != nil {
		return "", err
	}
	if burnUnits.Sign() > 0 {
		if err := m.debt.BurnFromVault(m.addr, m.vault.Address(), burnUnits); err != nil {
			return "", err
		}
	}
	m.cfgMu.Lock()
	if alloc, ok := m.allocations[wallet]; ok {
		alloc.Sub(alloc, burnUnits)
		if alloc.Sign() <= 0 {
			delete(m.allocations, wallet)
		}
	}
	err = m.checkParityLocked()
	m.cfgMu.Unlock()
	if err != nil {
		return "", err
	}

	id, journalErr := m.journal.Append(&OperationRecord{
		Kind:         OpKindDecrease,
		Wallet:       wallet,
		StableAmount: new(big.Int).Set(amount),
		DebtUnits:    burnUnits,
	})
	if journalErr != nil && m.log != nil {
		// The burns are already applied; reporting the append as a failure
		// would invite a retry of an operation that succeeded.
		m.log.Error("amo journal append failed", "error", journalErr, "wallet", wallet.Hex(), "stable", amount.String())
	}
	observability.Protocol().RecordAmoDecrease()
	if m.log != nil {
		m.log.Info("amo supply decreased",
			"op_id", id,
			"wallet", wallet.Hex(),
			"stable", amount.String(),
			"debt_units", burnUnits.String(),
		)
	}
	return id, nil
}
