package node

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/rs/zerolog"
)

// Config of a pool. Amounts are decimal strings in the token's base unit.
type Config struct {
	// Accumulator
	Levels          int `json:"levels"`
	RootHistorySize int `json:"root_history_size"`

	// Limits
	MaxDepositAmount    string `json:"max_deposit_amount"`
	MinWithdrawalAmount string `json:"min_withdrawal_amount"`

	// Accounts
	PoolAddress   string `json:"pool_address"`
	TokenAddress  string `json:"token_address"`
	BridgeAddress string `json:"bridge_address"`

	// Paths; an empty DataDir keeps state in memory
	DataDir string `json:"data_dir"`
	KeyDir  string `json:"key_dir"`

	// Performance
	VerifyWorkers int `json:"verify_workers"`

	// Logging
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Levels:              20,
		RootHistorySize:     merkle.DefaultRootHistorySize,
		MaxDepositAmount:    "1000000000000000000", // 1 ether
		MinWithdrawalAmount: "50000000000000000",   // 0.05 ether
		PoolAddress:         "0x00000000000000000000000000000000000000a1",
		TokenAddress:        "0x00000000000000000000000000000000000000a2",
		BridgeAddress:       "0x00000000000000000000000000000000000000a3",
		KeyDir:              "keys",
		VerifyWorkers:       runtime.NumCPU(),
		LogLevel:            "info",
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		bz, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		config := DefaultConfig()
		if err := json.Unmarshal(bz, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return config, config.Validate()
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	bz, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(configPath, bz, 0644)
}

func (c *Config) Validate() error {
	if c.Levels < 1 || c.Levels > merkle.MaxLevels {
		return fmt.Errorf("levels must be in [1, %d]", merkle.MaxLevels)
	}
	if c.RootHistorySize < 1 {
		return fmt.Errorf("root_history_size must be positive")
	}
	if _, err := c.MaxDeposit(); err != nil {
		return err
	}
	if _, err := c.MinWithdrawal(); err != nil {
		return err
	}
	for name, addr := range map[string]string{
		"pool_address":   c.PoolAddress,
		"token_address":  c.TokenAddress,
		"bridge_address": c.BridgeAddress,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not an address: %q", name, addr)
		}
	}
	if c.VerifyWorkers <= 0 {
		return fmt.Errorf("verify_workers must be positive")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

func (c *Config) MaxDeposit() (*uint256.Int, error) {
	v, err := uint256.FromDecimal(c.MaxDepositAmount)
	if err != nil {
		return nil, fmt.Errorf("max_deposit_amount: %w", err)
	}
	return v, nil
}

func (c *Config) MinWithdrawal() (*uint256.Int, error) {
	v, err := uint256.FromDecimal(c.MinWithdrawalAmount)
	if err != nil {
		return nil, fmt.Errorf("min_withdrawal_amount: %w", err)
	}
	return v, nil
}

// Logger returns a console logger at the configured level.
func (c *Config) Logger() zerolog.Logger {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}
