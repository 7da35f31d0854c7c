package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "dstable/native/common"
)

func makeAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestMintRequiresRole(t *testing.T) {
	auth := nativecommon.NewAuthority()
	minter := makeAddr(0x01)
	outsider := makeAddr(0x02)
	holder := makeAddr(0x03)
	stable := NewStable(makeAddr(0xA0), "dUSD", auth)
	auth.Grant(nativecommon.RoleMinter, minter)

	if err := stable.Mint(outsider, holder, big.NewInt(100)); err == nil {
		t.Fatalf("expected role error for unauthorised mint")
	}
	if err := stable.Mint(minter, holder, big.NewInt(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stable.TotalSupply().Int64() != 100 {
		t.Fatalf("expected supply 100, got %s", stable.TotalSupply())
	}
	if stable.BalanceOf(holder).Int64() != 100 {
		t.Fatalf("expected holder balance 100, got %s", stable.BalanceOf(holder))
	}
}

func TestBurnFromConsumesAllowance(t *testing.T) {
	auth := nativecommon.NewAuthority()
	minter := makeAddr(0x01)
	holder := makeAddr(0x03)
	spender := makeAddr(0x04)
	stable := NewStable(makeAddr(0xA0), "dUSD", auth)
	auth.Grant(nativecommon.RoleMinter, minter)

	if err := stable.Mint(minter, holder, big.NewInt(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := stable.BurnFrom(spender, holder, big.NewInt(40)); !errors.Is(err, errInsufficientAllow) {
		t.Fatalf("expected allowance error, got %v", err)
	}
	if err := stable.Approve(holder, spender, big.NewInt(50)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := stable.BurnFrom(spender, holder, big.NewInt(40)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stable.TotalSupply().Int64() != 60 {
		t.Fatalf("expected supply 60 after burn, got %s", stable.TotalSupply())
	}
	if stable.Allowance(holder, spender).Int64() != 10 {
		t.Fatalf("expected residual allowance 10, got %s", stable.Allowance(holder, spender))
	}
}

func TestTransferBalanceChecks(t *testing.T) {
	auth := nativecommon.NewAuthority()
	minter := makeAddr(0x01)
	a := makeAddr(0x05)
	b := makeAddr(0x06)
	stable := NewStable(makeAddr(0xA0), "dUSD", auth)
	auth.Grant(nativecommon.RoleMinter, minter)

	if err := stable.Mint(minter, a, big.NewInt(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := stable.Transfer(a, b, big.NewInt(11)); !errors.Is(err, errInsufficientBalance) {
		t.Fatalf("expected balance error, got %v", err)
	}
	if err := stable.Transfer(a, b, big.NewInt(4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stable.BalanceOf(a).Int64() != 6 || stable.BalanceOf(b).Int64() != 4 {
		t.Fatalf("unexpected balances: a=%s b=%s", stable.BalanceOf(a), stable.BalanceOf(b))
	}
}

func TestDebtReceiptAllowlist(t *testing.T) {
	auth := nativecommon.NewAuthority()
	admin := makeAddr(0x01)
	manager := makeAddr(0x02)
	vault := makeAddr(0x03)
	stranger := makeAddr(0x04)
	debt := NewDebtReceipt(makeAddr(0xB0), "dDEBT", auth)
	auth.Grant(nativecommon.RoleAmoAdmin, admin)
	auth.Grant(nativecommon.RoleAmoManager, manager)

	if err := debt.Mint(manager, vault, big.NewInt(100)); err == nil {
		t.Fatalf("expected mint to non-allowlisted holder to fail")
	}
	if err := debt.SetAllowedHolder(admin, vault, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := debt.Mint(manager, vault, big.NewInt(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var holderErr *ErrHolderNotAllowed
	if err := debt.Transfer(vault, stranger, big.NewInt(10)); !errors.As(err, &holderErr) {
		t.Fatalf("expected holder allowlist error, got %v", err)
	}

	if err := debt.BurnFromVault(stranger, vault, big.NewInt(10)); err == nil {
		t.Fatalf("expected role error for unauthorised burn")
	}
	if err := debt.BurnFromVault(manager, vault, big.NewInt(40)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if debt.TotalSupply().Int64() != 60 {
		t.Fatalf("expected supply 60, got %s", debt.TotalSupply())
	}
}
