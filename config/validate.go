package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "dstable/native/common"
)

// Validate checks the structural soundness of a loaded configuration. Limits
// specific to a module (such as the redemption fee cap) are enforced by that
// module's constructor during wiring.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if cfg.Fees.DefaultRedemptionBps > nativecommon.MaxBps {
		return fmt.Errorf("config: Fees.DefaultRedemptionBps %d exceeds %d", cfg.Fees.DefaultRedemptionBps, nativecommon.MaxBps)
	}
	if cfg.Amo.PegDeviationBps > nativecommon.MaxBps {
		return fmt.Errorf("config: Amo.PegDeviationBps %d exceeds %d", cfg.Amo.PegDeviationBps, nativecommon.MaxBps)
	}
	if _, err := parseAmount(cfg.Oracle.BaseUnit); err != nil {
		return fmt.Errorf("config: Oracle.BaseUnit: %w", err)
	}
	if _, err := parseAmount(cfg.Amo.Tolerance); err != nil {
		return fmt.Errorf("config: Amo.Tolerance: %w", err)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"Stable.Address", cfg.Stable.Address},
		{"Debt.Address", cfg.Debt.Address},
		{"Fees.Receiver", cfg.Fees.Receiver},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		if !common.IsHexAddress(field.value) {
			return fmt.Errorf("config: %s: invalid address %q", field.name, field.value)
		}
	}
	seen := make(map[common.Address]bool, len(cfg.Assets))
	for i, asset := range cfg.Assets {
		if !common.IsHexAddress(asset.Address) {
			return fmt.Errorf("config: Assets[%d]: invalid address %q", i, asset.Address)
		}
		addr := common.HexToAddress(asset.Address)
		if seen[addr] {
			return fmt.Errorf("config: Assets[%d]: duplicate address %s", i, addr.Hex())
		}
		seen[addr] = true
		if strings.TrimSpace(asset.Symbol) == "" {
			return fmt.Errorf("config: Assets[%d]: symbol required", i)
		}
	}
	return nil
}
