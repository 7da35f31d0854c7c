package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk TOML shape for a protocol node.
type Config struct {
	ListenAddress string  `toml:"ListenAddress"`
	DataDir       string  `toml:"DataDir"`
	Environment   string  `toml:"Environment"`
	Oracle        Oracle  `toml:"Oracle"`
	Stable        Token   `toml:"Stable"`
	Debt          Token   `toml:"Debt"`
	Fees          Fees    `toml:"Fees"`
	Amo           Amo     `toml:"Amo"`
	Assets        []Asset `toml:"Assets"`
}

// Oracle configures price feed aggregation.
type Oracle struct {
	BaseUnit      string   `toml:"BaseUnit"`
	MaxAgeSeconds uint64   `toml:"MaxAgeSeconds"`
	Priority      []string `toml:"Priority"`
}

// Token names a protocol token deployment.
type Token struct {
	Address string `toml:"Address"`
	Symbol  string `toml:"Symbol"`
}

// Fees configures redemption charging.
type Fees struct {
	DefaultRedemptionBps uint64 `toml:"DefaultRedemptionBps"`
	Receiver             string `toml:"Receiver"`
}

// Amo configures the supply manager.
type Amo struct {
	PegDeviationBps uint64 `toml:"PegDeviationBps"`
	Tolerance       string `toml:"Tolerance"`
}

// Asset describes a collateral asset accepted by the vault.
type Asset struct {
	Address  string `toml:"Address"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// Load reads the configuration at path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./dstable-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.Oracle.BaseUnit) == "" {
		cfg.Oracle.BaseUnit = "100000000" // 1e8
	}
	if cfg.Oracle.MaxAgeSeconds == 0 {
		cfg.Oracle.MaxAgeSeconds = 300
	}
	if strings.TrimSpace(cfg.Amo.Tolerance) == "" {
		cfg.Amo.Tolerance = "0"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./dstable-data",
		Environment:   "local",
		Oracle: Oracle{
			BaseUnit:      "100000000",
			MaxAgeSeconds: 300,
		},
		Stable: Token{Symbol: "DUSD"},
		Debt:   Token{Symbol: "dDEBT"},
		Fees:   Fees{DefaultRedemptionBps: 50},
		Amo: Amo{
			PegDeviationBps: 500,
			Tolerance:       "0",
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
