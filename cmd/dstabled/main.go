package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"dstable/config"
	"dstable/native/amo"
	nativecommon "dstable/native/common"
	"dstable/native/issuer"
	"dstable/native/oracle"
	"dstable/native/redeemer"
	"dstable/native/token"
	"dstable/native/vault"
	"dstable/observability/logging"
	"dstable/services/ops"
	"dstable/storage"
)

const adminEnv = "DSTABLE_ADMIN"

// Deterministic module identities. Engines authenticate by role, not by these
// addresses, so fixed values keep deployments reproducible.
var (
	vaultAddr    = common.HexToAddress("0x00000000000000000000000000000000000000F0")
	redeemerAddr = common.HexToAddress("0x00000000000000000000000000000000000000F1")
	managerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000F2")
	issuerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000F3")
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	env := strings.TrimSpace(cfg.Environment)
	logger := logging.Setup("dstabled", env)

	params, err := cfg.Parameters()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "journal"))
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	auth := nativecommon.NewAuthority()
	pauses := nativecommon.NewPauseRegistry(auth)

	agg := oracle.NewAggregator(params.BaseUnit, params.OracleMaxAge)
	// Registration order fixes lookup priority. Feeds start empty and are
	// populated by the operator tooling once the node is up.
	feedNames := params.OraclePriority
	if len(feedNames) == 0 {
		feedNames = []string{"manual"}
	}
	for _, name := range feedNames {
		agg.Register(name, oracle.NewStaticFeed())
	}
	// The debt receipt tracks base value 1:1, so its price entry is pinned at
	// the base unit rather than sourced from a market feed.
	pegFeed := oracle.NewStaticFeed()
	pegFeed.SetPrice(params.DebtAddress, params.BaseUnit)
	agg.Register("debtpeg", pegFeed)

	stable := token.NewStable(params.StableAddress, params.StableSymbol, auth)
	debt := token.NewDebtReceipt(params.DebtAddress, params.DebtSymbol, auth)
	cv := vault.New(vaultAddr, auth, agg)

	iss := issuer.New(issuerAddr, auth, stable, debt, cv, agg, pauses)
	iss.SetLogger(logger)

	red, err := redeemer.New(redeemerAddr, auth, stable, cv, agg, pauses, params.FeeReceiver, params.RedemptionBps)
	if err != nil {
		logger.Error("construct redeemer", "error", err)
		os.Exit(1)
	}
	red.SetLogger(logger)

	journal := amo.NewJournal(storage.NewKVStore(db))
	manager, err := amo.NewManager(managerAddr, auth, stable, debt, cv, agg, journal, params.PegDeviationBps, params.Tolerance)
	if err != nil {
		logger.Error("construct supply manager", "error", err)
		os.Exit(1)
	}
	manager.SetLogger(logger)

	// Module engines act through the same role table as human operators.
	auth.Grant(nativecommon.RoleMinter, iss.Address())
	auth.Grant(nativecommon.RoleMinter, manager.Address())
	auth.Grant(nativecommon.RoleAmoManager, manager.Address())
	auth.Grant(nativecommon.RoleCollateralWithdrawer, red.Address())

	// Genesis wiring runs under a throwaway identity whose grant is revoked
	// once setup completes.
	genesis := common.HexToAddress("0x00000000000000000000000000000000000000FE")
	auth.Grant(nativecommon.RoleAmoAdmin, genesis)
	if err := debt.SetAllowedHolder(genesis, cv.Address(), true); err != nil {
		logger.Error("allowlist vault for debt receipts", "error", err)
		os.Exit(1)
	}
	auth.Revoke(nativecommon.RoleAmoAdmin, genesis)

	if admin := strings.TrimSpace(os.Getenv(adminEnv)); admin != "" {
		if !common.IsHexAddress(admin) {
			logger.Error("invalid admin address", "value", admin)
			os.Exit(1)
		}
		bootstrapAdmin(auth, common.HexToAddress(admin))
	}

	// Collateral allow-listing needs a live price, so configured assets are
	// surfaced here and enrolled by the operator once feeds report.
	for _, asset := range cfg.Assets {
		logger.Info("collateral pending enrollment",
			"asset", common.HexToAddress(asset.Address).Hex(),
			"symbol", asset.Symbol,
			"decimals", asset.Decimals,
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := ops.NewServer(iss, cv, manager, journal, logger)
	logger.Info("dstabled started",
		"listen", cfg.ListenAddress,
		"environment", env,
		"stable", stable.Symbol(),
		"peg_deviation_bps", params.PegDeviationBps,
	)
	if err := server.Run(ctx, cfg.ListenAddress); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// bootstrapAdmin hands the configured operator every governance role so a
// fresh deployment can be configured before narrower grants take over.
func bootstrapAdmin(auth *nativecommon.Authority, admin common.Address) {
	for _, role := range []nativecommon.Role{
		nativecommon.RoleProtocolAdmin,
		nativecommon.RoleCollateralManager,
		nativecommon.RoleCollateralWithdrawer,
		nativecommon.RoleCollateralStrategy,
		nativecommon.RoleIncentivesManager,
		nativecommon.RoleRedemptionManager,
		nativecommon.RoleAmoIncrease,
		nativecommon.RoleAmoDecrease,
		nativecommon.RoleAmoAdmin,
		nativecommon.RolePauser,
	} {
		auth.Grant(role, admin)
	}
}
