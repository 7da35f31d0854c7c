package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Parameters holds the runtime values derived from a validated configuration.
type Parameters struct {
	BaseUnit        *big.Int
	OracleMaxAge    time.Duration
	OraclePriority  []string
	StableAddress   common.Address
	StableSymbol    string
	DebtAddress     common.Address
	DebtSymbol      string
	FeeReceiver     common.Address
	RedemptionBps   uint64
	PegDeviationBps uint64
	Tolerance       *big.Int
}

// Parameters converts the on-disk shape into runtime values. Call only after
// Validate has accepted the configuration.
func (cfg *Config) Parameters() (Parameters, error) {
	params := Parameters{
		OracleMaxAge:    time.Duration(cfg.Oracle.MaxAgeSeconds) * time.Second,
		OraclePriority:  append([]string{}, cfg.Oracle.Priority...),
		StableSymbol:    cfg.Stable.Symbol,
		DebtSymbol:      cfg.Debt.Symbol,
		RedemptionBps:   cfg.Fees.DefaultRedemptionBps,
		PegDeviationBps: cfg.Amo.PegDeviationBps,
	}
	var err error
	if params.BaseUnit, err = parseAmount(cfg.Oracle.BaseUnit); err != nil {
		return params, fmt.Errorf("invalid Oracle.BaseUnit: %w", err)
	}
	if params.BaseUnit.Sign() <= 0 {
		return params, fmt.Errorf("invalid Oracle.BaseUnit: must be positive")
	}
	if params.Tolerance, err = parseAmount(cfg.Amo.Tolerance); err != nil {
		return params, fmt.Errorf("invalid Amo.Tolerance: %w", err)
	}
	params.StableAddress = common.HexToAddress(cfg.Stable.Address)
	params.DebtAddress = common.HexToAddress(cfg.Debt.Address)
	params.FeeReceiver = common.HexToAddress(cfg.Fees.Receiver)
	return params, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
