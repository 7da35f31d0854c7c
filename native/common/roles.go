package common

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Role identifies a capability required to invoke a gated operation. Roles are
// plain string identifiers rather than hashed constants; the set of distinct
// roles and their gating relationships is what matters, not the encoding.
type Role string

const (
	// RoleMinter authorises minting of the stable token.
	RoleMinter Role = "stable.minter"
	// RoleAmoManager authorises mint and burn of the debt receipt token.
	RoleAmoManager Role = "debt.amo_manager"
	// RoleCollateralManager authorises allow/disallow of vault collateral.
	RoleCollateralManager Role = "vault.collateral_manager"
	// RoleCollateralWithdrawer authorises withdrawals from the vault.
	RoleCollateralWithdrawer Role = "vault.collateral_withdrawer"
	// RoleCollateralStrategy authorises recovery of residual dust balances.
	RoleCollateralStrategy Role = "vault.collateral_strategy"
	// RoleIncentivesManager authorises issuance against excess collateral.
	RoleIncentivesManager Role = "issuer.incentives_manager"
	// RoleRedemptionManager authorises fee-free protocol redemptions and fee
	// configuration.
	RoleRedemptionManager Role = "redeemer.redemption_manager"
	// RoleAmoIncrease authorises expanding AMO supply.
	RoleAmoIncrease Role = "amo.increase"
	// RoleAmoDecrease authorises winding AMO supply down.
	RoleAmoDecrease Role = "amo.decrease"
	// RoleAmoAdmin authorises AMO configuration (peg guard, allowlist,
	// tolerance, pause).
	RoleAmoAdmin Role = "amo.admin"
	// RolePauser authorises pausing mint and redemption paths.
	RolePauser Role = "protocol.pauser"
	// RoleProtocolAdmin authorises structural wiring changes such as swapping
	// the collateral vault or the fee receiver.
	RoleProtocolAdmin Role = "protocol.admin"
)

// RoleError reports a failed capability check. It carries the caller and the
// missing role so off-chain tooling can diagnose misconfiguration without
// replaying the call.
type RoleError struct {
	Caller common.Address
	Role   Role
}

func (e *RoleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("access control: %s is missing role %s", e.Caller.Hex(), e.Role)
}

// Authority is the shared authorization table mapping each role to the set of
// principals holding it. Components receive the same Authority instance at
// construction so grants are visible protocol-wide.
type Authority struct {
	mu    sync.RWMutex
	roles map[Role]map[common.Address]struct{}
}

// NewAuthority constructs an empty authorization table. Deployment wiring
// grants the initial role holders before any engine is exposed.
func NewAuthority() *Authority {
	return &Authority{roles: make(map[Role]map[common.Address]struct{})}
}

// Grant adds the principal to the role's holder set.
func (a *Authority) Grant(role Role, principal common.Address) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	holders, ok := a.roles[role]
	if !ok {
		holders = make(map[common.Address]struct{})
		a.roles[role] = holders
	}
	holders[principal] = struct{}{}
}

// Revoke removes the principal from the role's holder set.
func (a *Authority) Revoke(role Role, principal common.Address) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if holders, ok := a.roles[role]; ok {
		delete(holders, principal)
	}
}

// Has reports whether the principal currently holds the role.
func (a *Authority) Has(role Role, principal common.Address) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	holders, ok := a.roles[role]
	if !ok {
		return false
	}
	_, held := holders[principal]
	return held
}

// Require returns a RoleError when the principal does not hold the role.
// Every mutating entry point calls this before touching state.
func (a *Authority) Require(role Role, principal common.Address) error {
	if a.Has(role, principal) {
		return nil
	}
	return &RoleError{Caller: principal, Role: role}
}
