package ops

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"dstable/native/amo"
	nativecommon "dstable/native/common"
	"dstable/native/issuer"
	"dstable/native/oracle"
	"dstable/native/token"
	"dstable/native/vault"
)

var baseUnit = big.NewInt(100_000_000) // 1e8

func makeAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

type mockStorage struct {
	kv    map[string][]byte
	lists map[string][][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{kv: make(map[string][]byte), lists: make(map[string][][]byte)}
}

func (m *mockStorage) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *mockStorage) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockStorage) KVAppend(key []byte, value []byte) error {
	k := string(key)
	m.lists[k] = append(m.lists[k], append([]byte(nil), value...))
	return nil
}

func (m *mockStorage) KVGetList(key []byte, out interface{}) error {
	encoded, err := rlp.EncodeToBytes(m.lists[string(key)])
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(encoded, out)
}

type fixture struct {
	server   *Server
	prices   *oracle.Static
	manager  *amo.Manager
	usdc     *token.Token
	stable   *token.Token
	operator common.Address
	wallet   common.Address
	minter   common.Address
	vault    *vault.CollateralVault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	auth := nativecommon.NewAuthority()
	prices := oracle.NewStatic(baseUnit)
	pauses := nativecommon.NewPauseRegistry(auth)

	manager := makeAddr(0x01)
	minter := makeAddr(0x02)
	admin := makeAddr(0x03)
	operator := makeAddr(0x04)
	wallet := makeAddr(0x05)
	auth.Grant(nativecommon.RoleCollateralManager, manager)
	auth.Grant(nativecommon.RoleMinter, minter)
	auth.Grant(nativecommon.RoleAmoAdmin, admin)
	auth.Grant(nativecommon.RoleAmoIncrease, operator)
	auth.Grant(nativecommon.RoleAmoDecrease, operator)

	cv := vault.New(makeAddr(0xF0), auth, prices)
	stable := token.NewStable(makeAddr(0xD5), "DUSD", auth)
	debt := token.NewDebtReceipt(makeAddr(0xD6), "dDEBT", auth)
	usdc := token.New(makeAddr(0xC1), "USDC", 6, auth, nativecommon.RoleMinter)
	prices.SetPrice(stable.Address(), baseUnit)
	prices.SetPrice(debt.Address(), baseUnit)
	prices.SetPrice(usdc.Address(), baseUnit)
	require.NoError(t, cv.AllowCollateral(manager, usdc))

	journal := amo.NewJournal(amoStorage())
	journal.SetClock(func() time.Time { return time.Unix(1700000000, 0) })
	m, err := amo.NewManager(makeAddr(0xF2), auth, stable, debt, cv, prices, journal, 500, big.NewInt(0))
	require.NoError(t, err)
	auth.Grant(nativecommon.RoleMinter, m.Address())
	auth.Grant(nativecommon.RoleAmoManager, m.Address())
	require.NoError(t, debt.SetAllowedHolder(admin, cv.Address(), true))
	require.NoError(t, m.SetAmoWalletAllowed(admin, wallet, true))

	iss := issuer.New(makeAddr(0xF3), auth, stable, debt, cv, prices, pauses)
	auth.Grant(nativecommon.RoleMinter, iss.Address())

	return &fixture{
		server:   NewServer(iss, cv, m, journal, nil),
		prices:   prices,
		manager:  m,
		usdc:     usdc,
		stable:   stable,
		operator: operator,
		wallet:   wallet,
		minter:   minter,
		vault:    cv,
	}
}

func amoStorage() amo.Storage {
	return newMockStorage()
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := get(t, f.server.Router(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestSolvencyStatus(t *testing.T) {
	f := newFixture(t)
	depositor := makeAddr(0x10)
	amount := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1_000_000))
	require.NoError(t, f.usdc.Mint(f.minter, depositor, amount))
	require.NoError(t, f.vault.Deposit(depositor, f.usdc.Address(), amount))

	rec := get(t, f.server.Router(), "/v1/status/solvency")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp solvencyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Solvent)
	require.Equal(t, "0", resp.Circulating)
	require.Equal(t, new(big.Int).Mul(big.NewInt(1000), baseUnit).String(), resp.VaultValue)
}

func TestSolvencyFailsClosed(t *testing.T) {
	f := newFixture(t)
	depositor := makeAddr(0x10)
	require.NoError(t, f.usdc.Mint(f.minter, depositor, big.NewInt(1_000_000)))
	require.NoError(t, f.vault.Deposit(depositor, f.usdc.Address(), big.NewInt(1_000_000)))

	f.prices.SetPrice(f.usdc.Address(), nil)
	rec := get(t, f.server.Router(), "/v1/status/solvency")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParityStatus(t *testing.T) {
	f := newFixture(t)
	rec := get(t, f.server.Router(), "/v1/status/parity")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp parityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.InTolerance)
	require.Equal(t, "0", resp.TotalAllocated)
}

func TestOperationsList(t *testing.T) {
	f := newFixture(t)
	amount := new(big.Int).Mul(big.NewInt(100), nativecommon.Pow10(18))
	_, err := f.manager.IncreaseAmoSupply(f.operator, f.wallet, amount)
	require.NoError(t, err)

	rec := get(t, f.server.Router(), "/v1/amo/operations")
	require.Equal(t, http.StatusOK, rec.Code)

	var ops []operationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	require.Len(t, ops, 1)
	require.Equal(t, amo.OpKindIncrease, ops[0].Kind)
	require.Equal(t, f.wallet.Hex(), ops[0].Wallet)
	require.Equal(t, amount.String(), ops[0].StableAmount)

	rec = get(t, f.server.Router(), "/v1/amo/operations?start=1800000000")
	require.Equal(t, http.StatusOK, rec.Code)
	ops = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	require.Empty(t, ops)

	rec = get(t, f.server.Router(), "/v1/amo/operations?start=bogus")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
