package vault

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "dstable/native/common"
	"dstable/native/oracle"
	"dstable/native/token"
)

var baseUnit = big.NewInt(100_000_000) // 1e8

func makeAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

type fixture struct {
	auth    *nativecommon.Authority
	prices  *oracle.Static
	vault   *CollateralVault
	usdc    *token.Token
	manager common.Address
	minter  common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	auth := nativecommon.NewAuthority()
	prices := oracle.NewStatic(baseUnit)
	manager := makeAddr(0x01)
	minter := makeAddr(0x02)
	auth.Grant(nativecommon.RoleCollateralManager, manager)
	auth.Grant(nativecommon.RoleMinter, minter)

	v := New(makeAddr(0xF0), auth, prices)
	usdc := token.New(makeAddr(0xC1), "USDC", 6, auth, nativecommon.RoleMinter)
	prices.SetPrice(usdc.Address(), baseUnit) // $1

	if err := v.AllowCollateral(manager, usdc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &fixture{auth: auth, prices: prices, vault: v, usdc: usdc, manager: manager, minter: minter}
}

func (f *fixture) fund(t *testing.T, holder common.Address, amount int64) {
	t.Helper()
	if err := f.usdc.Mint(f.minter, holder, big.NewInt(amount)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAllowCollateralRequiresLivePrice(t *testing.T) {
	f := newFixture(t)
	dead := token.New(makeAddr(0xC2), "DEAD", 18, f.auth, nativecommon.RoleMinter)

	if err := f.vault.AllowCollateral(f.manager, dead); !errors.Is(err, ErrNoLivePrice) {
		t.Fatalf("expected ErrNoLivePrice, got %v", err)
	}
}

func TestTotalValueSumsPricedBalances(t *testing.T) {
	f := newFixture(t)
	depositor := makeAddr(0x10)
	f.fund(t, depositor, 1_000_000_000) // 1000 USDC at 6 decimals

	if err := f.vault.Deposit(depositor, f.usdc.Address(), big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total, err := f.vault.TotalValue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1000 units at $1 in 1e8 base units.
	want := new(big.Int).Mul(big.NewInt(1000), baseUnit)
	if total.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, total)
	}
}

func TestTotalValueFailsClosedOnDeadPrice(t *testing.T) {
	f := newFixture(t)
	depositor := makeAddr(0x10)
	f.fund(t, depositor, 500)
	if err := f.vault.Deposit(depositor, f.usdc.Address(), big.NewInt(500)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.prices.SetPrice(f.usdc.Address(), nil)
	if _, err := f.vault.TotalValue(); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Fatalf("expected fail-closed valuation, got %v", err)
	}
}

func TestDisallowLeavesDustUncounted(t *testing.T) {
	f := newFixture(t)
	depositor := makeAddr(0x10)
	strategist := makeAddr(0x11)
	f.auth.Grant(nativecommon.RoleCollateralStrategy, strategist)
	f.fund(t, depositor, 250)
	if err := f.vault.Deposit(depositor, f.usdc.Address(), big.NewInt(250)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.vault.DisallowCollateral(f.manager, f.usdc.Address()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total, err := f.vault.TotalValue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total.Sign() != 0 {
		t.Fatalf("disallowed asset must not count toward value, got %s", total)
	}
	if err := f.vault.Deposit(depositor, f.usdc.Address(), big.NewInt(1)); !errors.Is(err, ErrUnsupportedCollateral) {
		t.Fatalf("expected deposits to stop, got %v", err)
	}

	// Dust stays until a strategy-role withdrawal moves it.
	if f.usdc.BalanceOf(f.vault.Address()).Int64() != 250 {
		t.Fatalf("expected dust to remain in vault")
	}
	if err := f.vault.RecoverDust(depositor, f.usdc.Address(), depositor, big.NewInt(250)); err == nil {
		t.Fatalf("expected role error for non-strategy dust recovery")
	}
	if err := f.vault.RecoverDust(strategist, f.usdc.Address(), depositor, big.NewInt(250)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.usdc.BalanceOf(depositor).Int64() != 250 {
		t.Fatalf("expected dust returned to recipient")
	}
}

func TestWithdrawRequiresRole(t *testing.T) {
	f := newFixture(t)
	depositor := makeAddr(0x10)
	withdrawer := makeAddr(0x12)
	f.fund(t, depositor, 100)
	if err := f.vault.Deposit(depositor, f.usdc.Address(), big.NewInt(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.vault.Withdraw(depositor, f.usdc.Address(), depositor, big.NewInt(50)); err == nil {
		t.Fatalf("expected role error for unauthorised withdraw")
	}
	f.auth.Grant(nativecommon.RoleCollateralWithdrawer, withdrawer)
	if err := f.vault.Withdraw(withdrawer, f.usdc.Address(), depositor, big.NewInt(50)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.usdc.BalanceOf(depositor).Int64() != 50 {
		t.Fatalf("expected 50 back to recipient, got %s", f.usdc.BalanceOf(depositor))
	}
}

func TestConservationOfCollateral(t *testing.T) {
	f := newFixture(t)
	depositor := makeAddr(0x10)
	withdrawer := makeAddr(0x12)
	f.auth.Grant(nativecommon.RoleCollateralWithdrawer, withdrawer)
	f.fund(t, depositor, 1_000)

	checkpoints := func() {
		sum := new(big.Int).Add(f.usdc.BalanceOf(depositor), f.usdc.BalanceOf(f.vault.Address()))
		sum.Add(sum, f.usdc.BalanceOf(withdrawer))
		if sum.Cmp(f.usdc.TotalSupply()) != 0 {
			t.Fatalf("collateral not conserved: holders %s vs supply %s", sum, f.usdc.TotalSupply())
		}
	}

	checkpoints()
	if err := f.vault.Deposit(depositor, f.usdc.Address(), big.NewInt(600)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkpoints()
	if err := f.vault.Withdraw(withdrawer, f.usdc.Address(), withdrawer, big.NewInt(200)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkpoints()
}

func TestCollateralBalanceTracksCustody(t *testing.T) {
	f := newFixture(t)
	depositor := makeAddr(0x10)
	f.fund(t, depositor, 500)

	if got, err := f.vault.CollateralBalance(f.usdc.Address()); err != nil || got.Sign() != 0 {
		t.Fatalf("expected empty custody, got %s err=%v", got, err)
	}
	if err := f.vault.Deposit(depositor, f.usdc.Address(), big.NewInt(500)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, err := f.vault.CollateralBalance(f.usdc.Address()); err != nil || got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 500 held, got %s err=%v", got, err)
	}
	if _, err := f.vault.CollateralBalance(makeAddr(0xEE)); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}
